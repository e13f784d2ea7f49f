// Package logging builds the process logger.
package logging

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
)

// New returns a logrus logger writing to out with the given level
// (debug, info, warn, error) and format (json, text).
func New(out io.Writer, level, format string) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetLevel(lvl)

	switch strings.ToLower(format) {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	case "text", "":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("invalid log format %q (want json or text)", format)
	}
	return logger, nil
}

// Component returns an entry tagged with the component name.
func Component(logger logrus.FieldLogger, name string) *logrus.Entry {
	if logger == nil {
		logger = Discard()
	}
	return logger.WithField("component", name)
}

// WithTrace adds the trace ID of the span in ctx, when there is one.
func WithTrace(ctx context.Context, entry *logrus.Entry) *logrus.Entry {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return entry
	}
	return entry.WithField("trace_id", sc.TraceID().String())
}

// Discard returns a logger that drops everything. Used by tests and by
// callers that pass no logger.
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
