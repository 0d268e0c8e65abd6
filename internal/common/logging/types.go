// Package logging provides structured logging types and interfaces
package logging

import (
	"context"
	"io"
	"strings"
	"time"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

var levelNames = map[LogLevel]string{
	DebugLevel: "DEBUG",
	InfoLevel:  "INFO",
	WarnLevel:  "WARN",
	ErrorLevel: "ERROR",
}

func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "UNKNOWN"
}

// ParseLevel converts a string to a LogLevel. Unknown names give InfoLevel;
// "WARNING" is accepted for WarnLevel.
func ParseLevel(levelStr string) LogLevel {
	name := strings.ToUpper(strings.TrimSpace(levelStr))
	if name == "WARNING" {
		return WarnLevel
	}
	for level, n := range levelNames {
		if n == name {
			return level
		}
	}
	return InfoLevel
}

// Field represents a key-value pair for structured logging
type Field struct {
	Key   string
	Value interface{}
}

// Logger defines the interface for structured logging
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, err error, fields ...Field)
	WithFields(fields ...Field) Logger
	// WithContext adds the request, event and destination ids found in ctx.
	WithContext(ctx context.Context) Logger
}

// ContextKey is the type of context keys the logger extracts fields from.
type ContextKey string

const (
	RequestIDKey     ContextKey = "request_id"
	EventIDKey       ContextKey = "event_id"
	DestinationIDKey ContextKey = "destination_id"
)

var contextKeys = []ContextKey{RequestIDKey, EventIDKey, DestinationIDKey}

// ContextWith returns a copy of ctx carrying value under key.
func ContextWith(ctx context.Context, key ContextKey, value string) context.Context {
	return context.WithValue(ctx, key, value)
}

// LogConfig holds logger configuration. A nil Output writes to stdout and
// a non-empty Prefix names the logger.
type LogConfig struct {
	Level      LogLevel
	Output     io.Writer
	TimeFormat string
	Prefix     string
}

// DefaultLogConfig logs at info level to stdout with RFC 3339 times.
func DefaultLogConfig() LogConfig {
	return LogConfig{Level: InfoLevel, TimeFormat: time.RFC3339}
}
