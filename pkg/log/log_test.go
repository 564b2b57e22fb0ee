package log

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextLogger(t *testing.T) {
	ctx := context.Background()

	// Test Ctx without a logger in the context
	l1 := Ctx(ctx)
	require.NotNil(t, l1, "Ctx returned nil instead of default logger")
	assert.Equal(t, defaultLogger, l1, "Ctx should return defaultLogger")

	// Create a new logger to test With
	customLogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	require.NotEqual(t, defaultLogger, customLogger, "Failed to create a distinct custom logger for testing")

	// Test With and Ctx with a logger in the context
	ctxWithLogger := With(ctx, customLogger)
	l2 := Ctx(ctxWithLogger)
	require.NotNil(t, l2, "Ctx returned nil, expected custom logger")
	assert.Equal(t, customLogger, l2, "Ctx should return customLogger")
}

func TestVerbose(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	ctx := With(context.Background(), logger)

	Verbose(ctx, "hidden")
	assert.Empty(t, buf.String(), "verbose logging is off by default")

	ctx = WithVerbose(ctx, true)
	assert.True(t, IsVerbose(ctx))
	Verbose(ctx, "shown", slog.String("step", "metadata"))
	assert.Contains(t, buf.String(), `"msg":"shown"`)
	assert.Contains(t, buf.String(), `"verbose":true`)
	assert.Contains(t, buf.String(), `"step":"metadata"`)
}

func TestMaskEmail(t *testing.T) {
	assert.Equal(t, "use***", MaskEmail("user@example.com"))
	assert.Equal(t, "**", MaskEmail("ab"))
}
