// Package logging provides the structured logger used across rtm.
//
// Components accept the Logger interface and default to a no-op logger, so
// library code never writes to the terminal unless the caller wires one in.
package logging

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/log"
)

// Logger provides structured logging for runtime operations.
// This interface allows callers to plug in their own logging implementation.
type Logger interface {
	// Debug logs debug-level messages with optional key-value pairs.
	Debug(msg string, keysAndValues ...interface{})

	// Info logs info-level messages with optional key-value pairs.
	Info(msg string, keysAndValues ...interface{})

	// Warn logs warning-level messages with optional key-value pairs.
	Warn(msg string, keysAndValues ...interface{})

	// Error logs error-level messages with optional key-value pairs.
	Error(msg string, keysAndValues ...interface{})
}

// noopLogger is a Logger implementation that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(msg string, keysAndValues ...interface{}) {}
func (noopLogger) Info(msg string, keysAndValues ...interface{})  {}
func (noopLogger) Warn(msg string, keysAndValues ...interface{})  {}
func (noopLogger) Error(msg string, keysAndValues ...interface{}) {}

// Nop returns a Logger that discards everything.
func Nop() Logger {
	return noopLogger{}
}

// OrNop returns l, or the no-op logger when l is nil.
func OrNop(l Logger) Logger {
	if l == nil {
		return Nop()
	}
	return l
}

// terminalLogger adapts a charmbracelet logger to the Logger interface.
type terminalLogger struct {
	l *log.Logger
}

func (t terminalLogger) Debug(msg string, kv ...interface{}) { t.l.Debug(msg, kv...) }
func (t terminalLogger) Info(msg string, kv ...interface{})  { t.l.Info(msg, kv...) }
func (t terminalLogger) Warn(msg string, kv ...interface{})  { t.l.Warn(msg, kv...) }
func (t terminalLogger) Error(msg string, kv ...interface{}) { t.l.Error(msg, kv...) }

// NewTerminal returns a Logger writing human-readable lines to w.
// level is one of debug, info, warn, error (case-insensitive).
func NewTerminal(w io.Writer, level string) (Logger, error) {
	lvl := log.InfoLevel
	if strings.TrimSpace(level) != "" {
		parsed, err := log.ParseLevel(strings.ToLower(level))
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
		lvl = parsed
	}

	l := log.NewWithOptions(w, log.Options{
		Level:  lvl,
		Prefix: "rtm",
	})
	return terminalLogger{l: l}, nil
}
