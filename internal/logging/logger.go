// Package logging provides the structured log sink injected into every
// component of the gateway.
package logging

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/w154594742/Antigravity2Api/internal/config"
)

// Fields is a convenience alias for structured log fields.
type Fields = logrus.Fields

// Logger is the narrow sink components depend on, so tests can inject a
// recording or no-op implementation without pulling in logrus.
type Logger interface {
	Info(msg string, fields Fields)
	Success(msg string, fields Fields)
	Warn(msg string, fields Fields)
	Error(msg string, fields Fields)
	Debug(msg string, fields Fields)
}

type logrusLogger struct {
	entry *logrus.Logger
}

func (l *logrusLogger) Info(msg string, fields Fields) {
	l.entry.WithFields(fields).Info(msg)
}

func (l *logrusLogger) Success(msg string, fields Fields) {
	if fields == nil {
		fields = Fields{}
	}
	fields["status"] = "success"
	l.entry.WithFields(fields).Info(msg)
}

func (l *logrusLogger) Warn(msg string, fields Fields) {
	l.entry.WithFields(fields).Warn(msg)
}

func (l *logrusLogger) Error(msg string, fields Fields) {
	l.entry.WithFields(fields).Error(msg)
}

func (l *logrusLogger) Debug(msg string, fields Fields) {
	l.entry.WithFields(fields).Debug(msg)
}

var (
	once   sync.Once
	global *logrusLogger
)

func get() *logrusLogger {
	once.Do(func() {
		l := logrus.New()
		l.Out = os.Stdout
		l.Formatter = &logrus.TextFormatter{FullTimestamp: true}
		if level, err := logrus.ParseLevel(config.LogLevel()); err == nil {
			l.SetLevel(level)
		}
		global = &logrusLogger{entry: l}
	})
	return global
}

// Default returns the process-wide Logger singleton.
func Default() Logger {
	return get()
}

// Info logs a standard info message using the global logger.
func Info(msg string, fields Fields) { get().Info(msg, fields) }

// Success logs a success message (info level, status=success field) using
// the global logger.
func Success(msg string, fields Fields) { get().Success(msg, fields) }

// Warn logs a warning message using the global logger.
func Warn(msg string, fields Fields) { get().Warn(msg, fields) }

// Error logs an error message using the global logger.
func Error(msg string, fields Fields) { get().Error(msg, fields) }

// Debug logs a debug message using the global logger.
func Debug(msg string, fields Fields) { get().Debug(msg, fields) }
