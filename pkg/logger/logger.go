// Package logger provides the structured logger shared by every component.
// It wraps logrus so call sites can use WithField/WithError chains while the
// process configures format and level in one place.
package logger

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Config controls logger construction.
type Config struct {
	Level  string // debug|info|warn|error
	Format string // text|json
	Output io.Writer
}

// Logger is a named logrus logger.
type Logger struct {
	*logrus.Logger
	name string
}

// New creates a logger for the named component.
func New(name string, cfg Config) *Logger {
	l := logrus.New()

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	l.SetOutput(out)

	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	level, err := logrus.ParseLevel(strings.TrimSpace(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	return &Logger{Logger: l, name: name}
}

// NewDefault creates an info-level text logger.
func NewDefault(name string) *Logger {
	return New(name, Config{Level: "info"})
}

// NewDiscard returns a logger that drops everything. Handy in tests.
func NewDiscard(name string) *Logger {
	return New(name, Config{Level: "panic", Output: io.Discard})
}

// Name returns the component name.
func (l *Logger) Name() string {
	return l.name
}

// WithFields returns an entry tagged with the component name plus fields.
func (l *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	entry := l.Logger.WithField("service", l.name)
	if len(fields) > 0 {
		entry = entry.WithFields(logrus.Fields(fields))
	}
	return entry
}

// WithField returns an entry tagged with the component name and one field.
func (l *Logger) WithField(key string, value interface{}) *logrus.Entry {
	return l.WithFields(map[string]interface{}{key: value})
}

// WithError returns an entry tagged with the component name and an error.
func (l *Logger) WithError(err error) *logrus.Entry {
	return l.WithFields(nil).WithError(err)
}

// WithContext returns an entry carrying the request id stored in ctx, if any.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.WithFields(nil)
	if ctx == nil {
		return entry
	}
	if id, ok := ctx.Value(requestIDKey{}).(string); ok && id != "" {
		entry = entry.WithField("request_id", id)
	}
	return entry
}

type requestIDKey struct{}

// ContextWithRequestID stores a request id for WithContext.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}
