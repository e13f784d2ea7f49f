// Package metrics defines the prometheus collectors of the subscription
// service and the HTTP endpoint exposing them.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Metrics holds the service collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	EventsReceived     *prometheus.CounterVec
	Decisions          *prometheus.CounterVec
	DeliveriesDropped  prometheus.Counter
	SubscribersActive  prometheus.Gauge
	EvaluationDuration prometheus.Histogram
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		EventsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "graphqlsub_events_received_total",
			Help: "Change events received from the event source, by kind",
		}, []string{"kind"}),
		Decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "graphqlsub_decisions_total",
			Help: "Per-subscriber delivery decisions, by outcome",
		}, []string{"decision"}),
		DeliveriesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "graphqlsub_deliveries_dropped_total",
			Help: "Deliveries dropped because a subscriber's buffer was full",
		}),
		SubscribersActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "graphqlsub_subscribers_active",
			Help: "Currently registered subscribers",
		}),
		EvaluationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "graphqlsub_dispatch_duration_seconds",
			Help:    "Time to evaluate one change event against all routed subscribers",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
	}
	for _, c := range []prometheus.Collector{m.EventsReceived, m.Decisions, m.DeliveriesDropped, m.SubscribersActive, m.EvaluationDuration} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}
	return m, nil
}

// EventReceived counts one event of kind.
func (m *Metrics) EventReceived(kind string) {
	if m == nil {
		return
	}
	m.EventsReceived.WithLabelValues(kind).Inc()
}

// Decision counts one delivery decision.
func (m *Metrics) Decision(outcome string) {
	if m == nil {
		return
	}
	m.Decisions.WithLabelValues(outcome).Inc()
}

// Dropped counts one dropped delivery.
func (m *Metrics) Dropped() {
	if m == nil {
		return
	}
	m.DeliveriesDropped.Inc()
}

// SetSubscribers records the active subscriber count.
func (m *Metrics) SetSubscribers(n int) {
	if m == nil {
		return
	}
	m.SubscribersActive.Set(float64(n))
}

// ObserveDispatch records the duration of one dispatch.
func (m *Metrics) ObserveDispatch(d time.Duration) {
	if m == nil {
		return
	}
	m.EvaluationDuration.Observe(d.Seconds())
}

// Serve exposes gatherer on addr at /metrics until ctx is cancelled.
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer, logger logrus.FieldLogger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("prometheus metrics available at http://%s/metrics", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics endpoint: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
