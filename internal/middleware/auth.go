// Package middleware provides authentication and request logging middleware
// for the development backend.
package middleware

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// UserIDLocal is the fiber.Ctx local holding the authenticated user ID.
const UserIDLocal = "userID"

// MintToken signs an HS256 token whose subject is userID.
func MintToken(secret, userID string, ttl time.Duration) (string, error) {
	if userID == "" {
		return "", errors.New("user id is required")
	}
	claims := jwt.MapClaims{
		"sub": userID,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// AuthRequired is a middleware that enforces bearer token authentication.
func AuthRequired(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return unauthorized(c, "Authorization header required")
		}
		token, ok := bearer(authHeader)
		if !ok {
			return unauthorized(c, "Invalid authorization header format")
		}
		return authenticate(c, secret, token)
	}
}

// WebSocketAuthRequired validates the token query parameter used by
// websocket clients, falling back to the Authorization header.
func WebSocketAuthRequired(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := c.Query("token")
		if token == "" {
			authHeader := c.Get("Authorization")
			if authHeader == "" {
				return unauthorized(c, "Token required")
			}
			var ok bool
			if token, ok = bearer(authHeader); !ok {
				return unauthorized(c, "Invalid authorization header format")
			}
		}
		return authenticate(c, secret, token)
	}
}

// UserID returns the authenticated user ID stored by the auth middleware.
func UserID(c *fiber.Ctx) (string, bool) {
	id, ok := c.Locals(UserIDLocal).(string)
	return id, ok && id != ""
}

func bearer(header string) (string, bool) {
	parts := strings.Split(header, " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func authenticate(c *fiber.Ctx, secret, tokenString string) error {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fiber.NewError(fiber.StatusUnauthorized, "Invalid signing method")
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return unauthorized(c, "Invalid or expired token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return unauthorized(c, "Invalid token claims")
	}

	// user ID travels in the subject claim
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return unauthorized(c, "Invalid token structure - missing subject")
	}

	c.Locals(UserIDLocal, sub)
	return c.Next()
}

func unauthorized(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"error": msg,
		"code":  "UNAUTHORIZED",
	})
}
