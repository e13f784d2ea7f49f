// Package source consumes change events from the database's change stream
// and hands them to a Handler one at a time.
package source

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/neo4j/graphql-sub030/internal/core/logging"
	"github.com/neo4j/graphql-sub030/internal/core/tracing"
	"github.com/neo4j/graphql-sub030/internal/types"
)

// Handler processes one decoded change event. A returned error stops the
// source.
type Handler func(ctx context.Context, ev *types.ChangeEvent) error

// Source delivers change events to a Handler until ctx is cancelled.
type Source interface {
	Run(ctx context.Context, h Handler) error
	Close() error
}

// handle decodes one message and invokes h inside a span. Undecodable
// payloads are logged and skipped.
func handle(ctx context.Context, name string, data []byte, h Handler, logger *logrus.Entry) error {
	ctx, span := tracing.Tracer().Start(ctx, name)
	defer span.End()

	ev, err := types.DecodeChangeEvent(data)
	if err != nil {
		logging.WithTrace(ctx, logger).WithError(err).Warn("skipping undecodable change event")
		return nil
	}
	span.SetAttributes(
		attribute.String("event.id", string(ev.ID)),
		attribute.String("event.kind", string(ev.Kind)),
	)
	if err := h(ctx, ev); err != nil {
		return fmt.Errorf("failed to handle event %s: %w", ev.ID, err)
	}
	return nil
}

// Stream reads newline-delimited JSON change events from a reader.
type Stream struct {
	r      io.Reader
	closer io.Closer
	logger *logrus.Entry
}

// NewStream creates a Stream over r.
func NewStream(r io.Reader, logger logrus.FieldLogger) *Stream {
	return &Stream{r: r, logger: logging.Component(logger, "source.stream")}
}

// OpenFile creates a Stream over the file at path. Close closes the file.
func OpenFile(path string, logger logrus.FieldLogger) (*Stream, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open event file: %w", err)
	}
	s := NewStream(f, logger)
	s.closer = f
	s.logger = s.logger.WithField("file", path)
	return s, nil
}

// Run handles every line of the stream, returning at EOF.
func (s *Stream) Run(ctx context.Context, h Handler) error {
	scanner := bufio.NewScanner(s.r)
	scanner.Buffer(make([]byte, 0, 64*1024), 10<<20)
	line := 0
	for scanner.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return nil
		}
		data := scanner.Bytes()
		if len(data) == 0 {
			continue
		}
		if err := handle(ctx, "stream.event", data, h, s.logger.WithField("line", line)); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read event stream: %w", err)
	}
	return nil
}

// Close closes a file opened by OpenFile. Readers passed to NewStream stay
// owned by the caller.
func (s *Stream) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
