package log

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

var (
	defaultLogLevel slog.LevelVar
	defaultLogger   = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		AddSource: true,
		Level:     &defaultLogLevel,
	}))
)

func init() {
	defaultLogLevel.Set(slog.LevelInfo)
}

type contextKey struct{}

type verboseKey struct{}

var loggerKey = contextKey{}

// Ctx returns the logger from the context. If no logger is found, it returns the default logger.
func Ctx(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return l
	}
	return defaultLogger
}

// With returns a new context with the given logger.
func With(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// WithVerbose marks the context so that Verbose emits protocol-level detail.
func WithVerbose(ctx context.Context, verbose bool) context.Context {
	return context.WithValue(ctx, verboseKey{}, verbose)
}

// IsVerbose reports whether verbose logging was enabled on the context.
func IsVerbose(ctx context.Context) bool {
	v, _ := ctx.Value(verboseKey{}).(bool)
	return v
}

// Verbose logs at debug level, but only for accounts with verbose logging on.
func Verbose(ctx context.Context, msg string, args ...any) {
	if !IsVerbose(ctx) {
		return
	}
	Ctx(ctx).DebugContext(ctx, msg, append(args, slog.Bool("verbose", true))...)
}

// MaskEmail keeps the first three characters of an address.
func MaskEmail(email string) string {
	if len(email) <= 3 {
		return strings.Repeat("*", len(email))
	}
	return email[:3] + "***"
}

func SetDefaultLogLevel(level slog.Level) {
	defaultLogLevel.Set(level)
}
