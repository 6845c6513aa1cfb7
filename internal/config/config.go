// Package config provides application configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Live transport names accepted in LIVE_TRANSPORT.
const (
	TransportWebSocket = "websocket"
	TransportRedis     = "redis"
)

const defaultJWTSecret = "dev-secret-change-me"

// Config holds application configuration values loaded from file or environment variables.
type Config struct {
	Env string `mapstructure:"APP_ENV"`

	// Feed client
	APIBaseURL            string  `mapstructure:"API_BASE_URL"`
	WSURL                 string  `mapstructure:"WS_URL"`
	LiveTransport         string  `mapstructure:"LIVE_TRANSPORT"`
	RedisURL              string  `mapstructure:"REDIS_URL"`
	APIToken              string  `mapstructure:"API_TOKEN"`
	UserID                string  `mapstructure:"USER_ID"`
	RequestTimeoutSeconds int     `mapstructure:"REQUEST_TIMEOUT_SECONDS"`
	WriteRatePerSecond    float64 `mapstructure:"WRITE_RATE_PER_SECOND"`
	PreviewDir            string  `mapstructure:"PREVIEW_DIR"`

	// Observability
	LogLevel        string `mapstructure:"LOG_LEVEL"`
	TracingEnabled  bool   `mapstructure:"TRACING_ENABLED"`
	TracingExporter string `mapstructure:"TRACING_EXPORTER"`
	OTLPEndpoint    string `mapstructure:"OTLP_ENDPOINT"`

	// Development backend
	Port      string `mapstructure:"PORT"`
	DBDSN     string `mapstructure:"DB_DSN"`
	JWTSecret string `mapstructure:"JWT_SECRET"`
	// RedisPublish mirrors every live event to Redis for clients on the redis transport.
	RedisPublish bool `mapstructure:"REDIS_PUBLISH"`
	PostPageSize int    `mapstructure:"POST_PAGE_SIZE"`
	UploadDir    string `mapstructure:"UPLOAD_DIR"`
}

// LoadConfig loads application configuration from file and environment variables.
func LoadConfig() (*Config, error) {
	viper.AddConfigPath(".")
	viper.AddConfigPath("..")
	viper.AddConfigPath("../..")
	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AutomaticEnv()

	// Initial read to get APP_ENV if set in base config.
	// The base file is optional.
	_ = viper.ReadInConfig()

	env := viper.GetString("APP_ENV")
	if env == "" {
		env = "development"
	}

	if env != "development" && env != "test" {
		viper.SetConfigName("config." + env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("required profile-specific config 'config.%s.yml' not found: %w", env, err)
		}
		slog.Info("loaded profile-specific configuration", slog.String("file", "config."+env+".yml"))
	}

	setDefaults()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	config.normalize()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("APP_ENV", "development")
	viper.SetDefault("API_BASE_URL", "http://localhost:3001")
	viper.SetDefault("WS_URL", "")
	viper.SetDefault("LIVE_TRANSPORT", TransportWebSocket)
	viper.SetDefault("REDIS_URL", "localhost:6379")
	viper.SetDefault("API_TOKEN", "")
	viper.SetDefault("USER_ID", "")
	viper.SetDefault("REQUEST_TIMEOUT_SECONDS", 15)
	viper.SetDefault("WRITE_RATE_PER_SECOND", 2.0)
	viper.SetDefault("PREVIEW_DIR", filepath.Join(os.TempDir(), "discussify", "previews"))
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("TRACING_ENABLED", false)
	viper.SetDefault("TRACING_EXPORTER", "stdout")
	viper.SetDefault("OTLP_ENDPOINT", "localhost:4318")
	viper.SetDefault("PORT", "3001")
	viper.SetDefault("DB_DSN", "file::memory:?cache=shared")
	viper.SetDefault("JWT_SECRET", defaultJWTSecret)
	viper.SetDefault("REDIS_PUBLISH", false)
	viper.SetDefault("POST_PAGE_SIZE", 50)
	viper.SetDefault("UPLOAD_DIR", filepath.Join(os.TempDir(), "discussify", "uploads"))
}

func (c *Config) normalize() {
	c.Env = strings.ToLower(strings.TrimSpace(c.Env))
	c.LiveTransport = strings.ToLower(strings.TrimSpace(c.LiveTransport))
	c.APIBaseURL = strings.TrimRight(strings.TrimSpace(c.APIBaseURL), "/")
	if c.WSURL == "" && c.APIBaseURL != "" {
		c.WSURL = DeriveWSURL(c.APIBaseURL)
	}
}

// IsProduction reports whether the production profile is active.
func (c *Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}

// RequestTimeout returns the per-request timeout for REST calls.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// Validate ensures that required configuration values are present.
func (c *Config) Validate() error {
	if c.APIBaseURL == "" {
		return errors.New("API_BASE_URL is required")
	}
	if _, err := url.ParseRequestURI(c.APIBaseURL); err != nil {
		return fmt.Errorf("API_BASE_URL is not a valid URL: %w", err)
	}
	switch c.LiveTransport {
	case TransportWebSocket:
		if c.WSURL == "" {
			return errors.New("WS_URL is required for the websocket transport")
		}
	case TransportRedis:
		if c.RedisURL == "" {
			return errors.New("REDIS_URL is required for the redis transport")
		}
	default:
		return fmt.Errorf("LIVE_TRANSPORT must be %q or %q, got %q", TransportWebSocket, TransportRedis, c.LiveTransport)
	}
	if c.RequestTimeoutSeconds <= 0 {
		return errors.New("REQUEST_TIMEOUT_SECONDS must be positive")
	}
	if c.WriteRatePerSecond <= 0 {
		return errors.New("WRITE_RATE_PER_SECOND must be positive")
	}
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if c.PostPageSize <= 0 {
		return errors.New("POST_PAGE_SIZE must be positive")
	}
	if c.RedisPublish && c.RedisURL == "" {
		return errors.New("REDIS_URL is required when REDIS_PUBLISH is set")
	}

	if c.IsProduction() {
		if c.JWTSecret == defaultJWTSecret || len(c.JWTSecret) < 32 {
			return errors.New("JWT_SECRET must be changed and at least 32 characters in production")
		}
		if strings.HasPrefix(c.APIBaseURL, "http://") {
			slog.Warn("API_BASE_URL uses plain http in production")
		}
	}

	return nil
}

// DeriveWSURL maps an http(s) API base URL onto the websocket endpoint served next to it.
func DeriveWSURL(apiBase string) string {
	u, err := url.Parse(apiBase)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String()
}
