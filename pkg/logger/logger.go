// Package logger is the structured logger shared by the API, the worker and
// the CLI. It wraps log/slog, masks credential-like attributes and supports
// sampling of repetitive messages.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// Logger wraps slog.Logger with additional functionality.
type Logger struct {
	*slog.Logger
}

// Config holds logger configuration.
type Config struct {
	Level string
	// Format is one of json, text or pretty. Pretty is colorized output for
	// local development.
	Format    string
	Output    io.Writer
	AddSource bool

	// Sampling configuration for high-traffic production environments
	Sampling SamplingConfig
}

// DefaultConfig returns the default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Format: "json",
		Output: os.Stdout,
	}
}

// New creates a new Logger instance.
func New(cfg Config) *Logger {
	level := parseLevel(cfg.Level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	addSource := cfg.AddSource || level == slog.LevelDebug

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "pretty":
		handler = tint.NewHandler(output, &tint.Options{
			Level:       level,
			AddSource:   addSource,
			TimeFormat:  time.Kitchen,
			ReplaceAttr: sanitizeAttr,
		})
	case "text":
		handler = slog.NewTextHandler(output, &slog.HandlerOptions{
			Level:       level,
			AddSource:   addSource,
			ReplaceAttr: sanitizeAttr,
		})
	default:
		handler = slog.NewJSONHandler(output, &slog.HandlerOptions{
			Level:       level,
			AddSource:   addSource,
			ReplaceAttr: sanitizeAttr,
		})
	}

	handler = NewSamplingHandler(handler, cfg.Sampling)

	return &Logger{Logger: slog.New(handler)}
}

// sensitiveKeys are attribute keys whose values never reach the output.
var sensitiveKeys = map[string]bool{
	"password":              true,
	"passwd":                true,
	"secret":                true,
	"token":                 true,
	"authorization":         true,
	"bearer":                true,
	"api_key":               true,
	"apikey":                true,
	"private_key":           true,
	"access_token":          true,
	"refresh_token":         true,
	"jwt":                   true,
	"cookie":                true,
	"session_id":            true,
	"aws_access_key":        true,
	"aws_secret_key":        true,
	"aws_secret_access_key": true,
	"secret_access_key":     true,
	"session_token":         true,
	"client_secret":         true,
	"dsn":                   true,
	"database_url":          true,
	"db_password":           true,
	"redis_password":        true,
	"redis_url":             true,
	"signing_key":           true,
	"credentials":           true,
}

// sensitiveFragments mask any key containing them, e.g. "jwt_secret".
// Short fragments are left out so keys like file_hash or is_active survive.
var sensitiveFragments = []string{
	"password",
	"secret",
	"token",
	"credential",
	"private_key",
	"api_key",
}

// sanitizeAttr masks sensitive values in log attributes.
func sanitizeAttr(_ []string, a slog.Attr) slog.Attr {
	key := strings.ToLower(a.Key)

	if sensitiveKeys[key] {
		return slog.String(a.Key, "[REDACTED]")
	}
	for _, fragment := range sensitiveFragments {
		if strings.Contains(key, fragment) {
			return slog.String(a.Key, "[REDACTED]")
		}
	}
	return a
}

// NewDefault creates a new Logger with default configuration.
func NewDefault() *Logger {
	return New(DefaultConfig())
}

// NewDevelopment creates a colorized debug logger.
func NewDevelopment() *Logger {
	return New(Config{
		Level:  "debug",
		Format: "pretty",
		Output: os.Stderr,
	})
}

// NewProduction creates a JSON logger that samples repeated messages.
func NewProduction() *Logger {
	return New(Config{
		Level:  "info",
		Format: "json",
		Output: os.Stdout,
		Sampling: SamplingConfig{
			Enabled:   true,
			Tick:      time.Second,
			Threshold: 100,
			Rate:      0.1,
			ErrorRate: 1.0,
		},
	})
}

// NewNop creates a logger that discards all output.
func NewNop() *Logger {
	return New(Config{
		Level:  "error",
		Format: "json",
		Output: io.Discard,
	})
}

// With returns a new Logger with the given attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// ContextKey is the type of context keys read by WithContext. The HTTP
// middleware stores request-scoped values under these keys.
type ContextKey string

const (
	ContextKeyRequestID ContextKey = "request_id"
	ContextKeyUserID    ContextKey = "user_id"
)

// WithContext returns a Logger annotated with the request and user ids found
// in ctx.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	logger := l.Logger

	if requestID, ok := ctx.Value(ContextKeyRequestID).(string); ok && requestID != "" {
		logger = logger.With(slog.String("request_id", requestID))
	}
	if userID, ok := ctx.Value(ContextKeyUserID).(string); ok && userID != "" {
		logger = logger.With(slog.String("user_id", userID))
	}

	return &Logger{Logger: logger}
}

// WithError returns a new Logger with the error attribute.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{Logger: l.Logger.With(slog.Any("error", err))}
}

// WithField returns a new Logger with a single field.
func (l *Logger) WithField(key string, value any) *Logger {
	return &Logger{Logger: l.Logger.With(slog.Any(key, value))}
}

// Stdlib returns the underlying *slog.Logger.
func (l *Logger) Stdlib() *slog.Logger {
	return l.Logger
}

// SetDefault sets this logger as the default slog logger.
func (l *Logger) SetDefault() {
	slog.SetDefault(l.Logger)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type contextKey string

const loggerKey contextKey = "logger"

// ToContext adds the logger to the context.
func ToContext(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext retrieves the logger from the context.
func FromContext(ctx context.Context) *Logger {
	if logger, ok := ctx.Value(loggerKey).(*Logger); ok {
		return logger
	}
	return NewDefault()
}
