// Package observability provides logging, metrics, and tracing.
package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger wraps slog.Logger to provide specialized logging methods.
type Logger struct {
	*slog.Logger
}

// GlobalLogger is the default logger instance for the application.
var GlobalLogger *Logger

var level = new(slog.LevelVar)

func init() {
	level.Set(slog.LevelInfo)
	GlobalLogger = NewLogger(os.Stdout)
}

// NewLogger builds a JSON logger writing to w that follows the global level.
func NewLogger(w io.Writer) *Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{Logger: slog.New(handler)}
}

// SetLevel changes the level of every logger created by this package.
// Unknown names fall back to info.
func SetLevel(name string) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		level.Set(slog.LevelDebug)
	case "warn", "warning":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}
}

// LogContextKey is a type for context keys used by the logging package.
type LogContextKey string

// Context keys for logging
const (
	CorrelationID LogContextKey = "correlation_id"
)

// LoggingConfig defines which types of automated logging are enabled.
type LoggingConfig struct {
	EnableFeedLogging bool
	EnableWSLogging   bool
}

var (
	// Config holds the current logging configuration.
	Config = LoggingConfig{
		EnableFeedLogging: true,
		EnableWSLogging:   true,
	}
)

// WithCorrelationID returns a new context with the given correlation ID.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CorrelationID, id)
}

// ExtractCorrelationID retrieves the correlation ID from the context.
func ExtractCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(CorrelationID).(string); ok {
		return id
	}
	return ""
}

func fieldAttrs(base []any, fields map[string]interface{}) []any {
	for k, v := range fields {
		base = append(base, slog.Any(k, v))
	}
	return base
}

// FeedLogger provides structured logging for reconciliation of one community feed.
type FeedLogger struct {
	communityID string
	logger      *Logger
}

// NewFeedLogger creates a new FeedLogger for the given community.
func NewFeedLogger(communityID string) *FeedLogger {
	return &FeedLogger{
		communityID: communityID,
		logger:      GlobalLogger,
	}
}

// WithLogger returns a copy of the FeedLogger writing through l.
func (l *FeedLogger) WithLogger(logger *slog.Logger) *FeedLogger {
	return &FeedLogger{communityID: l.communityID, logger: &Logger{Logger: logger}}
}

// LogApplied logs a reconciler operation that changed the feed.
func (l *FeedLogger) LogApplied(ctx context.Context, operation, key string, fields map[string]interface{}) {
	if !Config.EnableFeedLogging {
		return
	}
	attrs := fieldAttrs([]any{
		slog.String("community_id", l.communityID),
		slog.String("operation", operation),
		slog.String("key", key),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	}, fields)
	l.logger.DebugContext(ctx, "feed updated", attrs...)
}

// LogRollback logs an optimistic write that was rolled back.
func (l *FeedLogger) LogRollback(ctx context.Context, operation, key string, err error) {
	if !Config.EnableFeedLogging {
		return
	}
	reason := ""
	if err != nil {
		reason = err.Error()
	}
	l.logger.WarnContext(ctx, "optimistic write rolled back",
		slog.String("community_id", l.communityID),
		slog.String("operation", operation),
		slog.String("key", key),
		slog.String("reason", reason),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	)
}

// LogStale logs an async completion dropped because its view is gone.
func (l *FeedLogger) LogStale(ctx context.Context, operation string, reason error, generation, current uint64) {
	if !Config.EnableFeedLogging {
		return
	}
	l.logger.InfoContext(ctx, "stale completion dropped",
		slog.String("community_id", l.communityID),
		slog.String("operation", operation),
		slog.Any("reason", reason),
		slog.Uint64("generation", generation),
		slog.Uint64("current_generation", current),
	)
}

// LogLifecycle logs a view lifecycle event.
func (l *FeedLogger) LogLifecycle(ctx context.Context, event string, fields map[string]interface{}) {
	if !Config.EnableFeedLogging {
		return
	}
	attrs := fieldAttrs([]any{
		slog.String("community_id", l.communityID),
		slog.String("event", event),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	}, fields)
	l.logger.InfoContext(ctx, "feed lifecycle", attrs...)
}

// LogError logs a failed operation.
func (l *FeedLogger) LogError(ctx context.Context, operation string, err error) {
	l.logger.ErrorContext(ctx, "feed operation failed",
		slog.String("community_id", l.communityID),
		slog.String("operation", operation),
		slog.String("error", err.Error()),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	)
}

// WSLogger provides structured logging for live channel operations.
type WSLogger struct {
	channelName string
	logger      *Logger
}

// NewWSLogger creates a new WSLogger for the given channel implementation.
func NewWSLogger(channelName string) *WSLogger {
	return &WSLogger{
		channelName: channelName,
		logger:      GlobalLogger,
	}
}

// LogConnect logs a connection event.
func (l *WSLogger) LogConnect(ctx context.Context, endpoint string) {
	if !Config.EnableWSLogging {
		return
	}
	l.logger.InfoContext(ctx, "live channel connected",
		slog.String("channel", l.channelName),
		slog.String("endpoint", endpoint),
	)
}

// LogDisconnect logs a disconnection event.
func (l *WSLogger) LogDisconnect(ctx context.Context, reason string) {
	if !Config.EnableWSLogging {
		return
	}
	l.logger.InfoContext(ctx, "live channel disconnected",
		slog.String("channel", l.channelName),
		slog.String("reason", reason),
	)
}

// LogSubscription logs a join or leave of a community.
func (l *WSLogger) LogSubscription(ctx context.Context, communityID, action string) {
	if !Config.EnableWSLogging {
		return
	}
	l.logger.InfoContext(ctx, "live channel subscription",
		slog.String("channel", l.channelName),
		slog.String("community_id", communityID),
		slog.String("action", action),
	)
}

// LogError logs a live channel error.
func (l *WSLogger) LogError(ctx context.Context, communityID string, err error, eventType string) {
	if !Config.EnableWSLogging {
		return
	}
	l.logger.ErrorContext(ctx, "live channel error",
		slog.String("channel", l.channelName),
		slog.String("community_id", communityID),
		slog.String("event_type", eventType),
		slog.String("error", err.Error()),
	)
}

// WithLogger returns a copy of the WSLogger writing through l.
func (l *WSLogger) WithLogger(logger *slog.Logger) *WSLogger {
	return &WSLogger{channelName: l.channelName, logger: &Logger{Logger: logger}}
}
