package subscription

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/neo4j/graphql-sub030/internal/core/logging"
	"github.com/neo4j/graphql-sub030/internal/core/metrics"
	"github.com/neo4j/graphql-sub030/internal/core/tracing"
	"github.com/neo4j/graphql-sub030/internal/types"
)

/*
 * Event fan-out.
 *
 * Dispatch routes one change event to the interested subscriptions and
 * evaluates each independently on a bounded worker pool. An evaluation
 * error ends that subscriber only: the rest of the fan-out proceeds and
 * Dispatch itself returns nil unless the context is cancelled.
 *
 * Delivery never blocks. A subscriber whose buffer is full misses the
 * event and the drop is counted.
 */

// DefaultWorkers bounds concurrent evaluations per event.
const DefaultWorkers = 8

// decisionError labels evaluation errors in the decisions metric.
const decisionError = "error"

// Dispatcher evaluates change events against the registry.
type Dispatcher struct {
	registry *Registry
	workers  int
	metrics  *metrics.Metrics
	logger   *logrus.Entry
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithWorkers sets the evaluation pool size.
func WithWorkers(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithDispatchMetrics sets the metrics sink.
func WithDispatchMetrics(m *metrics.Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithDispatchLogger sets the logger.
func WithDispatchLogger(l logrus.FieldLogger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = logging.Component(l, "dispatcher") }
}

// NewDispatcher creates a dispatcher over registry.
func NewDispatcher(registry *Registry, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		workers:  DefaultWorkers,
		logger:   logging.Component(nil, "dispatcher"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch evaluates ev for every routed subscription and delivers matches.
func (d *Dispatcher) Dispatch(ctx context.Context, ev *types.ChangeEvent) error {
	if err := ev.Validate(); err != nil {
		d.logger.WithError(err).Warn("discarding invalid change event")
		return nil
	}
	d.metrics.EventReceived(string(ev.Kind))

	if ev.IsNoopUpdate() {
		d.logger.WithField("event_id", ev.ID).Debug("skipping update without changes")
		return nil
	}

	ctx, span := tracing.Tracer().Start(ctx, "subscription.Dispatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("event.id", string(ev.ID)),
		attribute.String("event.kind", string(ev.Kind)),
	)

	start := time.Now()
	defer func() { d.metrics.ObserveDispatch(time.Since(start)) }()

	subs := d.registry.Route(ev)
	span.SetAttributes(attribute.Int("subscribers", len(subs)))
	if len(subs) == 0 {
		return nil
	}

	p := pool.New().WithContext(ctx).WithMaxGoroutines(d.workers)
	for _, sub := range subs {
		p.Go(func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			d.evaluate(ctx, sub, ev)
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (d *Dispatcher) evaluate(ctx context.Context, sub *Subscription, ev *types.ChangeEvent) {
	decision, err := ShouldDeliver(Request{
		Model:     d.registry.Model(),
		Entity:    sub.Entity,
		Event:     ev,
		Rules:     sub.Entity.AuthorizationRules,
		Where:     sub.Where,
		Auth:      sub.Auth,
		Selection: sub.Selection,
	})
	entry := logging.WithTrace(ctx, d.logger).WithFields(logrus.Fields{
		"subscriber": sub.ID,
		"event_id":   ev.ID,
	})
	if err != nil {
		d.metrics.Decision(decisionError)
		entry.WithError(err).Warn("ending subscription after evaluation error")
		d.registry.Unregister(ctx, sub.ID, err)
		return
	}
	d.metrics.Decision(decision.String())
	if decision != Deliver {
		entry.WithField("decision", decision).Debug("event filtered")
		return
	}
	if !sub.offer(ev) {
		d.metrics.Dropped()
		entry.Warn("subscriber buffer full, event dropped")
	}
}
