// Package logging provides the structured logger used across every
// subsystem of the image pipeline. It wraps logrus behind a narrow
// interface so call sites depend on field names and levels, not on
// logrus itself.
package logging

import (
	"context"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Fields is a set of structured key/value pairs attached to a log line.
type Fields map[string]interface{}

// Logger is the logging contract used by every package in this module.
type Logger interface {
	Debug(msg string, fields Fields)
	Info(msg string, fields Fields)
	Warn(msg string, fields Fields)
	Error(msg string, fields Fields)

	DebugContext(ctx context.Context, msg string, fields Fields)
	InfoContext(ctx context.Context, msg string, fields Fields)
	WarnContext(ctx context.Context, msg string, fields Fields)
	ErrorContext(ctx context.Context, msg string, fields Fields)

	// With returns a child logger that always includes fields.
	With(fields Fields) Logger
}

type runIDKey struct{}

// ContextWithRunID attaches a run id to ctx so loggers derived with
// InfoContext/etc. tag every line with it automatically.
func ContextWithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

func runIDFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(runIDKey{}).(string)
	return v, ok
}

type logrusLogger struct {
	entry *logrus.Entry
}

// Config controls the logger's output format and verbosity.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json, text
	Output io.Writer
}

// New builds a Logger backed by logrus according to cfg.
func New(cfg Config) Logger {
	l := logrus.New()

	if cfg.Output != nil {
		l.SetOutput(cfg.Output)
	} else {
		l.SetOutput(os.Stderr)
	}

	if cfg.Format == "text" {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		l.SetFormatter(&logrus.JSONFormatter{})
	}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	return &logrusLogger{entry: logrus.NewEntry(l)}
}

// Discard returns a Logger that drops every line; used in tests.
func Discard() Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return &logrusLogger{entry: logrus.NewEntry(l)}
}

func (l *logrusLogger) With(fields Fields) Logger {
	return &logrusLogger{entry: l.entry.WithFields(logrus.Fields(fields))}
}

func (l *logrusLogger) Debug(msg string, fields Fields) { l.entry.WithFields(logrus.Fields(fields)).Debug(msg) }
func (l *logrusLogger) Info(msg string, fields Fields)  { l.entry.WithFields(logrus.Fields(fields)).Info(msg) }
func (l *logrusLogger) Warn(msg string, fields Fields)  { l.entry.WithFields(logrus.Fields(fields)).Warn(msg) }
func (l *logrusLogger) Error(msg string, fields Fields) { l.entry.WithFields(logrus.Fields(fields)).Error(msg) }

func (l *logrusLogger) withContext(ctx context.Context, fields Fields) *logrus.Entry {
	e := l.entry
	if runID, ok := runIDFromContext(ctx); ok {
		e = e.WithField("run_id", runID)
	}
	return e.WithFields(logrus.Fields(fields))
}

func (l *logrusLogger) DebugContext(ctx context.Context, msg string, fields Fields) {
	l.withContext(ctx, fields).Debug(msg)
}
func (l *logrusLogger) InfoContext(ctx context.Context, msg string, fields Fields) {
	l.withContext(ctx, fields).Info(msg)
}
func (l *logrusLogger) WarnContext(ctx context.Context, msg string, fields Fields) {
	l.withContext(ctx, fields).Warn(msg)
}
func (l *logrusLogger) ErrorContext(ctx context.Context, msg string, fields Fields) {
	l.withContext(ctx, fields).Error(msg)
}
