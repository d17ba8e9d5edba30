// Package logging provides structured logging using Go's slog package.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// ContextKey is a type for context keys to avoid collisions.
type ContextKey string

const (
	// RequestIDKey is the context key for HTTP request IDs.
	RequestIDKey ContextKey = "request_id"
	// SessionIDKey is the context key for WebSocket session IDs.
	SessionIDKey ContextKey = "session_id"
)

var (
	// defaultLogger is the global logger instance.
	defaultLogger *slog.Logger
)

func init() {
	InitLogger(LevelInfo, FormatText)
}

// Level represents a log level.
type Level int

const (
	// LevelDebug is for debug messages.
	LevelDebug Level = iota
	// LevelInfo is for informational messages.
	LevelInfo
	// LevelWarn is for warning messages.
	LevelWarn
	// LevelError is for error messages.
	LevelError
)

// Format represents a log output format.
type Format int

const (
	// FormatJSON outputs logs in JSON format.
	FormatJSON Format = iota
	// FormatText outputs logs in human-readable text format.
	FormatText
)

// ParseLevel parses a level name such as "debug" or "WARN".
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// ParseFormat parses "json" or "text".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "json":
		return FormatJSON, nil
	case "text", "":
		return FormatText, nil
	}
	return FormatText, fmt.Errorf("unknown log format %q", s)
}

// InitLogger initializes the global logger writing to stderr. Standard
// output is left to command results.
func InitLogger(level Level, format Format) {
	InitLoggerTo(os.Stderr, level, format)
}

// InitLoggerTo initializes the global logger writing to w.
func InitLoggerTo(w io.Writer, level Level, format Format) {
	var slogLevel slog.Level
	switch level {
	case LevelDebug:
		slogLevel = slog.LevelDebug
	case LevelWarn:
		slogLevel = slog.LevelWarn
	case LevelError:
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: slogLevel,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.String(slog.TimeKey, a.Value.Time().Format(time.RFC3339))
			}
			return a
		},
	}

	var handler slog.Handler
	if format == FormatJSON {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	defaultLogger = slog.New(handler)
	slog.SetDefault(defaultLogger)
}

// GetLogger returns the global logger instance.
func GetLogger() *slog.Logger {
	return defaultLogger
}

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// WithSessionID adds a session ID to the context.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, SessionIDKey, sessionID)
}

// GetSessionID retrieves the session ID from the context.
func GetSessionID(ctx context.Context) string {
	if sessionID, ok := ctx.Value(SessionIDKey).(string); ok {
		return sessionID
	}
	return ""
}

// LoggerFromContext returns a logger with context values attached.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	logger := defaultLogger
	if requestID := GetRequestID(ctx); requestID != "" {
		logger = logger.With("request_id", requestID)
	}
	if sessionID := GetSessionID(ctx); sessionID != "" {
		logger = logger.With("session_id", sessionID)
	}
	return logger
}

// Debug logs a debug message with optional key-value pairs.
func Debug(msg string, args ...any) {
	defaultLogger.Debug(msg, args...)
}

// Info logs an info message with optional key-value pairs.
func Info(msg string, args ...any) {
	defaultLogger.Info(msg, args...)
}

// Warn logs a warning message with optional key-value pairs.
func Warn(msg string, args ...any) {
	defaultLogger.Warn(msg, args...)
}

// Error logs an error message with optional key-value pairs.
func Error(msg string, args ...any) {
	defaultLogger.Error(msg, args...)
}

// DebugContext logs a debug message with context.
func DebugContext(ctx context.Context, msg string, args ...any) {
	LoggerFromContext(ctx).Debug(msg, args...)
}

// InfoContext logs an info message with context.
func InfoContext(ctx context.Context, msg string, args ...any) {
	LoggerFromContext(ctx).Info(msg, args...)
}

// WarnContext logs a warning message with context.
func WarnContext(ctx context.Context, msg string, args ...any) {
	LoggerFromContext(ctx).Warn(msg, args...)
}

// ErrorContext logs an error message with context.
func ErrorContext(ctx context.Context, msg string, args ...any) {
	LoggerFromContext(ctx).Error(msg, args...)
}

// DatabaseOpened logs that a database file was opened.
func DatabaseOpened(path string, pageSize, pages int, args ...any) {
	allArgs := []any{
		"path", path,
		"page_size", pageSize,
		"pages", pages,
	}
	allArgs = append(allArgs, args...)
	defaultLogger.Debug("database_opened", allArgs...)
}

// DatabaseClosed logs that the last handle on a database file was closed.
func DatabaseClosed(path string, args ...any) {
	allArgs := []any{"path", path}
	allArgs = append(allArgs, args...)
	defaultLogger.Debug("database_closed", allArgs...)
}

// StatementExecuted logs one executed statement.
func StatementExecuted(ctx context.Context, sql string, rows int64, duration time.Duration, args ...any) {
	allArgs := []any{
		"sql", sql,
		"rows", rows,
		"duration_ms", duration.Milliseconds(),
	}
	allArgs = append(allArgs, args...)
	LoggerFromContext(ctx).Debug("statement_executed", allArgs...)
}

// HTTPRequestContext logs an HTTP request with context and common fields.
func HTTPRequestContext(ctx context.Context, method, path, remoteAddr string, statusCode int, duration time.Duration, args ...any) {
	allArgs := []any{
		"method", method,
		"path", path,
		"remote_addr", remoteAddr,
		"status_code", statusCode,
		"duration_ms", duration.Milliseconds(),
	}
	allArgs = append(allArgs, args...)
	LoggerFromContext(ctx).Info("http_request", allArgs...)
}

// WebSocketEvent logs WebSocket events.
func WebSocketEvent(ctx context.Context, event string, clientCount int, args ...any) {
	allArgs := []any{
		"event", event,
		"client_count", clientCount,
	}
	allArgs = append(allArgs, args...)
	LoggerFromContext(ctx).Info("websocket_event", allArgs...)
}

// ServerStartup logs server startup information.
func ServerStartup(serverType, addr string, args ...any) {
	allArgs := []any{
		"server_type", serverType,
		"addr", addr,
	}
	allArgs = append(allArgs, args...)
	defaultLogger.Info("server_startup", allArgs...)
}
