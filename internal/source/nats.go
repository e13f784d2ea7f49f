package source

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/neo4j/graphql-sub030/internal/core/logging"
)

// NATSConfig selects the subject carrying change events.
type NATSConfig struct {
	URL           string
	Subject       string
	Queue         string
	MaxReconnect  int
	ReconnectWait time.Duration
}

// NATS consumes change events published on a NATS subject.
type NATS struct {
	conn    *nats.Conn
	subject string
	queue   string
	logger  *logrus.Entry
}

func natsOptions(cfg NATSConfig, logger *logrus.Entry) []nats.Option {
	return []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnect),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Warnf("NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Infof("NATS reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Warn("NATS connection closed")
		}),
	}
}

// NewNATS connects to the NATS server at cfg.URL.
func NewNATS(cfg NATSConfig, logger logrus.FieldLogger) (*NATS, error) {
	entry := logging.Component(logger, "source.nats")
	conn, err := nats.Connect(cfg.URL, natsOptions(cfg, entry)...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	entry.Infof("Connected to NATS at %s", cfg.URL)
	return &NATS{conn: conn, subject: cfg.Subject, queue: cfg.Queue, logger: entry}, nil
}

// Run subscribes and handles messages until ctx is cancelled.
func (n *NATS) Run(ctx context.Context, h Handler) error {
	msgs := make(chan *nats.Msg, 256)
	var (
		sub *nats.Subscription
		err error
	)
	if n.queue != "" {
		sub, err = n.conn.ChanQueueSubscribe(n.subject, n.queue, msgs)
	} else {
		sub, err = n.conn.ChanSubscribe(n.subject, msgs)
	}
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", n.subject, err)
	}
	defer func() {
		if err := sub.Unsubscribe(); err != nil {
			n.logger.WithError(err).Debug("unsubscribe failed")
		}
	}()
	n.logger.Infof("Subscribed to %s", n.subject)

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-msgs:
			if err := handle(ctx, "nats.message", msg.Data, h, n.logger.WithField("subject", msg.Subject)); err != nil {
				return err
			}
		}
	}
}

// Close drains the connection.
func (n *NATS) Close() error {
	if n.conn == nil {
		return nil
	}
	return n.conn.Drain()
}

// Publisher writes change events to a NATS subject. Used to replay captured
// events into a running service.
type Publisher struct {
	conn    *nats.Conn
	subject string
	logger  *logrus.Entry
}

// NewPublisher connects a publisher to cfg.URL.
func NewPublisher(cfg NATSConfig, logger logrus.FieldLogger) (*Publisher, error) {
	entry := logging.Component(logger, "source.publisher")
	conn, err := nats.Connect(cfg.URL, natsOptions(cfg, entry)...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &Publisher{conn: conn, subject: cfg.Subject, logger: entry}, nil
}

// Publish sends one encoded change event.
func (p *Publisher) Publish(data []byte) error {
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("failed to publish to NATS: %w", err)
	}
	p.logger.Debugf("Published event to %s", p.subject)
	return nil
}

// Close flushes pending messages and closes the connection.
func (p *Publisher) Close() error {
	if p.conn == nil {
		return nil
	}
	if err := p.conn.Flush(); err != nil {
		p.conn.Close()
		return fmt.Errorf("failed to flush NATS: %w", err)
	}
	p.conn.Close()
	return nil
}
