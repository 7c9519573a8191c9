// Package logger provides structured logging for scanpilot
package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Fields represents structured log fields
type Fields map[string]interface{}

// Logger wraps logrus.Logger with additional functionality
type Logger struct {
	*logrus.Logger
}

type ctxKey string

const (
	RequestIDKey ctxKey = "request_id"
	ScanIDKey    ctxKey = "scan_id"
)

// NewLogger creates a new structured logger
func NewLogger(level logrus.Level) *Logger {
	logger := logrus.New()
	logger.SetLevel(level)

	// JSON in production, readable text everywhere else
	if os.Getenv("ENV") == "production" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	}

	return &Logger{Logger: logger}
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *Logger {
	l := NewLogger(logrus.PanicLevel)
	l.SetOutput(io.Discard)
	return l
}

// ParseLevel maps a config string onto a logrus level, falling back to info.
func ParseLevel(level string) logrus.Level {
	parsed, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return logrus.InfoLevel
	}
	return parsed
}

// WithContext adds context-specific fields to the logger
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithContext(ctx)

	if reqID := ctx.Value(RequestIDKey); reqID != nil {
		entry = entry.WithField("request_id", reqID)
	}
	if scanID := ctx.Value(ScanIDKey); scanID != nil {
		entry = entry.WithField("scan_id", scanID)
	}

	return entry
}

// WithError adds error context to the logger
func (l *Logger) WithError(err error) *logrus.Entry {
	return l.Logger.WithError(err)
}

// WithFields adds multiple fields to the logger
func (l *Logger) WithFields(fields Fields) *logrus.Entry {
	return l.Logger.WithFields(logrus.Fields(fields))
}

// LogToolExecution logs the start and end of tool execution
func (l *Logger) LogToolExecution(toolName string, fn func() error) error {
	start := time.Now()

	l.WithFields(Fields{
		"tool_name": toolName,
		"action":    "start",
	}).Info("Tool execution started")

	err := fn()
	duration := time.Since(start)

	fields := Fields{
		"tool_name": toolName,
		"action":    "complete",
		"duration":  duration.String(),
	}

	if err != nil {
		fields["error"] = err.Error()
		l.WithFields(fields).Warn("Tool execution failed")
	} else {
		l.WithFields(fields).Info("Tool execution completed successfully")
	}

	return err
}
