// Package observability provides logging, metrics, and tracing.
package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
)

// Logger wraps slog.Logger to provide specialized logging methods.
type Logger struct {
	*slog.Logger
}

// GlobalLogger is the default logger instance for the application.
var GlobalLogger *Logger

func init() {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	GlobalLogger = &Logger{Logger: slog.New(handler)}
}

// ConfigureLogger replaces GlobalLogger. Production gets JSON records, every
// other environment gets text.
func ConfigureLogger(w io.Writer, env, level string) {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	var handler slog.Handler
	if env == "production" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	GlobalLogger = &Logger{Logger: slog.New(handler)}
	slog.SetDefault(GlobalLogger.Logger)
}

// ParseLevel maps a LOG_LEVEL value to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
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

// LogContextKey is a type for context keys used by the logging package.
type LogContextKey string

// Context keys for logging
const (
	CorrelationID LogContextKey = "correlation_id"
)

// LoggingConfig defines which types of automated logging are enabled.
type LoggingConfig struct {
	EnableCacheLogging    bool
	EnableChannelLogging  bool
	EnableMutationLogging bool
}

var (
	// Config holds the current logging configuration.
	Config = LoggingConfig{
		EnableCacheLogging:    true,
		EnableChannelLogging:  true,
		EnableMutationLogging: true,
	}
)

// GenerateCorrelationID creates a new unique correlation ID.
func GenerateCorrelationID() string {
	return uuid.NewString()
}

// WithCorrelationID returns a new context with the given correlation ID.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CorrelationID, id)
}

// EnsureCorrelationID returns ctx carrying a correlation ID, generating one if missing.
func EnsureCorrelationID(ctx context.Context) context.Context {
	if ExtractCorrelationID(ctx) != "" {
		return ctx
	}
	return WithCorrelationID(ctx, GenerateCorrelationID())
}

// ExtractCorrelationID retrieves the correlation ID from the context.
func ExtractCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(CorrelationID).(string); ok {
		return id
	}
	return ""
}

// CacheLogger provides structured logging for cache operations.
type CacheLogger struct {
	logger *Logger
}

// NewCacheLogger creates a new CacheLogger.
func NewCacheLogger() *CacheLogger {
	return &CacheLogger{logger: GlobalLogger}
}

// LogHit logs a read served from a fresh entry.
func (l *CacheLogger) LogHit(ctx context.Context, key string, epoch uint64) {
	if !Config.EnableCacheLogging {
		return
	}
	l.logger.DebugContext(ctx, "cache hit",
		slog.String("key", key),
		slog.Uint64("epoch", epoch),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	)
}

// LogFetch logs a fetch issued against the remote channel.
func (l *CacheLogger) LogFetch(ctx context.Context, key string, epoch uint64, stale bool) {
	if !Config.EnableCacheLogging {
		return
	}
	l.logger.DebugContext(ctx, "cache fetch",
		slog.String("key", key),
		slog.Uint64("epoch", epoch),
		slog.Bool("revalidate", stale),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	)
}

// LogInvalidate logs the keys marked stale by an invalidation.
func (l *CacheLogger) LogInvalidate(ctx context.Context, targets []string, matched []string) {
	if !Config.EnableCacheLogging {
		return
	}
	l.logger.InfoContext(ctx, "cache invalidate",
		slog.Any("targets", targets),
		slog.Any("matched", matched),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	)
}

// LogDiscard logs a response dropped because the identity epoch moved on.
func (l *CacheLogger) LogDiscard(ctx context.Context, key string, fetchEpoch, currentEpoch uint64) {
	if !Config.EnableCacheLogging {
		return
	}
	l.logger.WarnContext(ctx, "cache discarded stale-epoch response",
		slog.String("key", key),
		slog.Uint64("fetch_epoch", fetchEpoch),
		slog.Uint64("current_epoch", currentEpoch),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	)
}

// LogError logs a failed fetch.
func (l *CacheLogger) LogError(ctx context.Context, key string, err error) {
	if !Config.EnableCacheLogging {
		return
	}
	l.logger.WarnContext(ctx, "cache fetch failed",
		slog.String("key", key),
		slog.String("error", err.Error()),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	)
}

// LogReset logs the cache being rebuilt for a new epoch.
func (l *CacheLogger) LogReset(ctx context.Context, epoch uint64, dropped int) {
	if !Config.EnableCacheLogging {
		return
	}
	l.logger.InfoContext(ctx, "cache reset",
		slog.Uint64("epoch", epoch),
		slog.Int("dropped_entries", dropped),
	)
}

// ChannelLogger provides structured logging for the remote channel lifecycle.
type ChannelLogger struct {
	logger *Logger
}

// NewChannelLogger creates a new ChannelLogger.
func NewChannelLogger() *ChannelLogger {
	return &ChannelLogger{logger: GlobalLogger}
}

// LogRebuild logs the start of a channel build.
func (l *ChannelLogger) LogRebuild(ctx context.Context, epoch uint64, identity string) {
	if !Config.EnableChannelLogging {
		return
	}
	l.logger.InfoContext(ctx, "channel rebuild",
		slog.Uint64("epoch", epoch),
		slog.String("identity", identity),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	)
}

// LogReady logs a channel that became usable.
func (l *ChannelLogger) LogReady(ctx context.Context, epoch uint64) {
	if !Config.EnableChannelLogging {
		return
	}
	l.logger.InfoContext(ctx, "channel ready",
		slog.Uint64("epoch", epoch),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	)
}

// LogFailed logs a channel build failure.
func (l *ChannelLogger) LogFailed(ctx context.Context, epoch uint64, err error) {
	if !Config.EnableChannelLogging {
		return
	}
	l.logger.ErrorContext(ctx, "channel build failed",
		slog.Uint64("epoch", epoch),
		slog.String("error", err.Error()),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	)
}

// LogSuperseded logs a build that finished after a newer identity arrived.
func (l *ChannelLogger) LogSuperseded(ctx context.Context, epoch, current uint64) {
	if !Config.EnableChannelLogging {
		return
	}
	l.logger.WarnContext(ctx, "channel build superseded",
		slog.Uint64("epoch", epoch),
		slog.Uint64("current_epoch", current),
	)
}

// MutationLogger provides structured logging for remote writes.
type MutationLogger struct {
	logger *Logger
}

// NewMutationLogger creates a new MutationLogger.
func NewMutationLogger() *MutationLogger {
	return &MutationLogger{logger: GlobalLogger}
}

// LogSuccess logs a completed mutation and what it invalidated.
func (l *MutationLogger) LogSuccess(ctx context.Context, op string, fields map[string]interface{}) {
	if !Config.EnableMutationLogging {
		return
	}
	attrs := []any{
		slog.String("operation", op),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	}
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	l.logger.InfoContext(ctx, "mutation succeeded", attrs...)
}

// LogFailure logs a mutation rejected remotely.
func (l *MutationLogger) LogFailure(ctx context.Context, op, code string, err error) {
	if !Config.EnableMutationLogging {
		return
	}
	l.logger.WarnContext(ctx, "mutation failed",
		slog.String("operation", op),
		slog.String("code", code),
		slog.String("error", err.Error()),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	)
}

// LogRefused logs a mutation refused before reaching the remote service.
func (l *MutationLogger) LogRefused(ctx context.Context, op, code string, reason string) {
	if !Config.EnableMutationLogging {
		return
	}
	l.logger.InfoContext(ctx, "mutation refused",
		slog.String("operation", op),
		slog.String("code", code),
		slog.String("reason", reason),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	)
}

// LogAsyncOperationError logs an error in a background operation.
func LogAsyncOperationError(ctx context.Context, operation string, err error, fields map[string]interface{}) {
	attrs := []any{
		slog.String("operation", operation),
		slog.String("type", "async_error"),
		slog.String("error", err.Error()),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	}
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	GlobalLogger.ErrorContext(ctx, "async operation failed", attrs...)
}
