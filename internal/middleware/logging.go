package middleware

import (
	"time"

	"discussify/internal/observability"

	"github.com/gofiber/fiber/v2"
)

// ContextMiddleware carries the request ID from fiber locals into the request
// context as the correlation ID picked up by the feed and websocket loggers.
func ContextMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if rid, ok := c.Locals("requestid").(string); ok && rid != "" {
			c.SetUserContext(observability.WithCorrelationID(c.UserContext(), rid))
		}
		return c.Next()
	}
}

// StructuredLogger returns a Fiber middleware for logging requests using slog
func StructuredLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		status := c.Response().StatusCode()
		fields := []any{
			"status", status,
			"method", c.Method(),
			"path", c.Path(),
			"ip", c.IP(),
			"latency", time.Since(start),
			"correlation_id", observability.ExtractCorrelationID(c.UserContext()),
		}
		if uid, ok := UserID(c); ok {
			fields = append(fields, "user_id", uid)
		}

		logger := observability.GlobalLogger
		if err != nil {
			fields = append(fields, "error", err.Error())
			logger.ErrorContext(c.UserContext(), "request failed", fields...)
		} else {
			logger.InfoContext(c.UserContext(), "request processed", fields...)
		}

		return err
	}
}
