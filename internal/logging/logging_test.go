package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{" WARN ", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"loud", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestNewLoggerWithPath_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "epss.log")

	result := NewLoggerWithPath(Config{Level: "debug", Output: OutputFile, File: path})
	require.True(t, result.UsingFile)
	assert.False(t, result.FallbackUsed)
	assert.Equal(t, path, result.FilePath)

	result.Logger.Debug().Str("backend", "file").Msg("hello")
	require.NoError(t, result.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &line))
	assert.Equal(t, "hello", line["message"])
	assert.Equal(t, "file", line["backend"])
	assert.Equal(t, "debug", line["level"])
}

func TestNewLoggerWithPath_FallsBackToStderr(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	result := NewLoggerWithPath(Config{Output: OutputFile, File: filepath.Join(blocker, "epss.log")})
	assert.False(t, result.UsingFile)
	assert.True(t, result.FallbackUsed)
	assert.NotEmpty(t, result.FallbackReason)
	assert.NoError(t, result.Close())
}

func TestNewLoggerWithPath_EmptyFileFallsBack(t *testing.T) {
	result := NewLoggerWithPath(Config{Output: OutputFile})
	assert.True(t, result.FallbackUsed)
}

func TestComponentLogger(t *testing.T) {
	var buf bytes.Buffer
	l := ComponentLogger(zerolog.New(&buf), "cache")
	l.Info().Msg("x")

	assert.Contains(t, buf.String(), `"component":"cache"`)
}

func TestTraceID(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, TraceIDFromContext(ctx))

	generated := GetOrGenerateTraceID(ctx)
	assert.Len(t, generated, 26)

	ctx = ContextWithTraceID(ctx, "trace-123")
	assert.Equal(t, "trace-123", TraceIDFromContext(ctx))
	assert.Equal(t, "trace-123", GetOrGenerateTraceID(ctx))
}

func TestTracingHook(t *testing.T) {
	var buf bytes.Buffer
	l := zerolog.New(&buf).Hook(TracingHook{})
	ctx := ContextWithTraceID(context.Background(), "abc")

	l.Info().Ctx(ctx).Msg("with trace")
	assert.Contains(t, buf.String(), `"trace_id":"abc"`)

	buf.Reset()
	l.Info().Msg("without trace")
	assert.NotContains(t, buf.String(), "trace_id")
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	l := zerolog.New(&buf)
	ctx := l.WithContext(context.Background())

	FromContext(ctx).Info().Msg("from ctx")
	assert.Contains(t, buf.String(), "from ctx")
}
