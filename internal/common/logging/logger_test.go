package logging

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferLogger(t *testing.T, level LogLevel) (Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger, err := NewZapLogger(LogConfig{Level: level, Output: &buf, TimeFormat: time.RFC3339})
	require.NoError(t, err)
	return logger, &buf
}

func TestLogLevel_String(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected string
	}{
		{DebugLevel, "DEBUG"},
		{InfoLevel, "INFO"},
		{WarnLevel, "WARN"},
		{ErrorLevel, "ERROR"},
		{LogLevel(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.level.String())
		})
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DebugLevel, ParseLevel("debug"))
	assert.Equal(t, WarnLevel, ParseLevel(" WARNING "))
	assert.Equal(t, ErrorLevel, ParseLevel("Error"))
	assert.Equal(t, InfoLevel, ParseLevel("bogus"))
	assert.Equal(t, InfoLevel, ParseLevel(""))
}

func TestLogger_LogLevels(t *testing.T) {
	logger, buf := newBufferLogger(t, DebugLevel)

	logger.Debug("debug message", Field{"key", "value"})
	logger.Info("info message", Field{"count", 42})
	logger.Warn("warn message", Field{"flag", true})
	logger.Error("error message", errors.New("test error"), Field{"code", 500})

	output := buf.String()
	for _, want := range []string{
		"DEBUG", "debug message", "value",
		"INFO", "info message", "42",
		"WARN", "warn message", "true",
		"ERROR", "error message", "test error", "500",
	} {
		assert.Contains(t, output, want)
	}
}

func TestLogger_LogFiltering(t *testing.T) {
	logger, buf := newBufferLogger(t, WarnLevel)

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message", errors.New("test error"))

	output := buf.String()
	assert.NotContains(t, output, "debug message")
	assert.NotContains(t, output, "info message")
	assert.Contains(t, output, "warn message")
	assert.Contains(t, output, "error message")
}

func TestLogger_WithFields(t *testing.T) {
	logger, buf := newBufferLogger(t, DebugLevel)

	enriched := logger.WithFields(Field{"component", "dispatcher"}, Field{"destination_id", "dst_1"})
	enriched.Info("delivered", Field{"status", 200})

	output := buf.String()
	assert.Contains(t, output, "dispatcher")
	assert.Contains(t, output, "dst_1")
	assert.Contains(t, output, "200")

	assert.Same(t, logger, logger.WithFields())
}

func TestLogger_WithContext(t *testing.T) {
	logger, buf := newBufferLogger(t, DebugLevel)

	ctx := ContextWith(context.Background(), RequestIDKey, "req-123")
	ctx = ContextWith(ctx, EventIDKey, "evt-456")

	logger.WithContext(ctx).Info("context message")

	output := buf.String()
	assert.Contains(t, output, "req-123")
	assert.Contains(t, output, "evt-456")
}

func TestLogger_WithContext_NoValues(t *testing.T) {
	logger, buf := newBufferLogger(t, DebugLevel)

	ctx := context.WithValue(context.Background(), ContextKey("other"), "ignored")
	got := logger.WithContext(ctx)
	assert.Same(t, logger, got)

	got.Info("plain message")
	assert.Contains(t, buf.String(), "plain message")
	assert.NotContains(t, buf.String(), "ignored")
}

func TestLogger_FieldTypes(t *testing.T) {
	logger, buf := newBufferLogger(t, DebugLevel)

	logger.Info("field types test",
		String("string_val", "hello"),
		Int("int_val", 42),
		Int64("int64_val", 7),
		Bool("bool_val", true),
		Duration("duration_val", 1500*time.Millisecond),
		Field{"error_val", errors.New("boom")},
		Any("slice_val", []string{"a", "b"}),
		Field{"nil_val", nil},
	)

	output := buf.String()
	assert.Contains(t, output, "hello")
	assert.Contains(t, output, "42")
	assert.Contains(t, output, "true")
	assert.Contains(t, output, "1500")
	assert.Contains(t, output, "boom")
}

func TestLogger_Concurrency(t *testing.T) {
	logger, buf := newBufferLogger(t, DebugLevel)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			enriched := logger.WithFields(Field{"goroutine", id})
			for j := 0; j < 5; j++ {
				enriched.Info("concurrent message", Field{"iteration", j})
			}
		}(i)
	}
	wg.Wait()

	// Writes to the shared buffer are serialized, so no entry is lost.
	assert.Equal(t, 50, strings.Count(buf.String(), "concurrent message"))
}

func TestGlobalLogger(t *testing.T) {
	original := GetGlobalLogger()
	defer SetGlobalLogger(original)

	logger, buf := newBufferLogger(t, DebugLevel)
	SetGlobalLogger(logger)
	assert.Equal(t, logger, GetGlobalLogger())

	Debug("debug from global")
	Info("info from global")
	Warn("warn from global")
	Error("error from global", errors.New("global error"))
	Component("registry").Info("component message")

	output := buf.String()
	assert.Contains(t, output, "debug from global")
	assert.Contains(t, output, "info from global")
	assert.Contains(t, output, "warn from global")
	assert.Contains(t, output, "global error")
	assert.Contains(t, output, "registry")
}

func TestInitGlobalLogger_File(t *testing.T) {
	original := GetGlobalLogger()
	defer SetGlobalLogger(original)

	path := filepath.Join(t.TempDir(), "relay.log")
	require.NoError(t, InitGlobalLogger("debug", path))

	Info("written to file")
	MustSync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")
	assert.Contains(t, string(data), "Logger initialized")
}

func TestInitGlobalLogger_BadPath(t *testing.T) {
	err := InitGlobalLogger("info", filepath.Join(t.TempDir(), "missing", "dir", "x.log"))
	assert.Error(t, err)
}

func TestNopLogger(t *testing.T) {
	logger := NewNopLogger()
	logger.Info("nothing")
	logger.Error("nothing", errors.New("x"))
	assert.NotNil(t, logger.WithFields(Field{"a", 1}))
}
