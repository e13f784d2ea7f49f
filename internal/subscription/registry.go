package subscription

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/neo4j/graphql-sub030/internal/authz"
	"github.com/neo4j/graphql-sub030/internal/core/logging"
	"github.com/neo4j/graphql-sub030/internal/core/metrics"
	"github.com/neo4j/graphql-sub030/internal/filter"
	"github.com/neo4j/graphql-sub030/internal/schema"
	"github.com/neo4j/graphql-sub030/internal/selection"
	"github.com/neo4j/graphql-sub030/internal/types"
)

/*
 * Subscriber registry.
 *
 * Registration validates once what would otherwise fail on every event:
 * the entity exists, the requested kinds are all node kinds or all
 * relationship kinds, the caller passes the SUBSCRIBE annotations, and the
 * where is well-formed for the entity.
 *
 * The registry is read on every dispatch and written on (un)registration;
 * a RWMutex keeps dispatch readers concurrent. Subscriptions themselves are
 * immutable apart from their delivery channel and terminal error.
 */

// DefaultBuffer is the delivery buffer of a subscription.
const DefaultBuffer = 64

// nodeKinds is the default event set of a registration.
var nodeKinds = types.EventKinds{
	types.EventCreate: {},
	types.EventUpdate: {},
	types.EventDelete: {},
}

// Registration is a subscriber's request.
type Registration struct {
	Entity    string
	Events    types.EventKinds
	Where     types.Where
	Auth      *authz.Context
	Selection *selection.ResolveTree
	// Buffer is the delivery channel capacity, DefaultBuffer when zero.
	Buffer int
}

// Subscription is one registered subscriber.
type Subscription struct {
	ID        types.SubscriberID
	Entity    *schema.Entity
	Kinds     types.EventKinds
	Where     types.Where
	Auth      *authz.Context
	Selection *selection.ResolveTree
	CreatedAt time.Time

	events    chan *types.ChangeEvent
	done      chan struct{}
	closeOnce sync.Once
	err       error
}

// Events delivers matched events. It is never closed; select on Done.
func (s *Subscription) Events() <-chan *types.ChangeEvent {
	return s.events
}

// Done is closed when the subscription ends.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err returns the reason the subscription ended, nil while active or after
// a plain unsubscribe.
func (s *Subscription) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// offer enqueues ev without blocking. Reports false when the buffer is full
// or the subscription has ended.
func (s *Subscription) offer(ev *types.ChangeEvent) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.events <- ev:
		return true
	default:
		return false
	}
}

func (s *Subscription) close(err error) {
	s.closeOnce.Do(func() {
		s.err = err
		close(s.done)
	})
}

// Info is a read-only summary of a subscription.
type Info struct {
	ID            types.SubscriberID
	Entity        string
	Events        []string
	Where         types.Where
	Authenticated bool
	CreatedAt     time.Time
}

func (s *Subscription) info() Info {
	events := make([]string, 0, len(s.Kinds))
	for k := range s.Kinds {
		events = append(events, string(k))
	}
	sort.Strings(events)
	return Info{
		ID:            s.ID,
		Entity:        s.Entity.Name,
		Events:        events,
		Where:         s.Where,
		Authenticated: s.Auth.Authenticated(),
		CreatedAt:     s.CreatedAt,
	}
}

// Recorder persists the registration lifecycle. Failures are logged, never
// fatal to the subscription.
type Recorder interface {
	RecordSubscribe(ctx context.Context, info Info) error
	RecordUnsubscribe(ctx context.Context, id types.SubscriberID, reason string) error
}

// Registry holds the active subscriptions.
type Registry struct {
	model    *schema.Model
	limits   filter.Limits
	recorder Recorder
	metrics  *metrics.Metrics
	logger   *logrus.Entry

	mu   sync.RWMutex
	subs map[types.SubscriberID]*Subscription
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLimits overrides the where limits.
func WithLimits(l filter.Limits) RegistryOption {
	return func(r *Registry) { r.limits = l }
}

// WithRecorder sets the lifecycle recorder.
func WithRecorder(rec Recorder) RegistryOption {
	return func(r *Registry) { r.recorder = rec }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) RegistryOption {
	return func(r *Registry) { r.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) RegistryOption {
	return func(r *Registry) { r.logger = logging.Component(l, "registry") }
}

// NewRegistry creates an empty registry over an immutable model.
func NewRegistry(model *schema.Model, opts ...RegistryOption) *Registry {
	r := &Registry{
		model:  model,
		limits: filter.DefaultLimits(),
		logger: logging.Component(nil, "registry"),
		subs:   make(map[types.SubscriberID]*Subscription),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Model returns the schema model.
func (r *Registry) Model() *schema.Model {
	return r.model
}

// Register validates reg and adds a subscription.
func (r *Registry) Register(ctx context.Context, reg Registration) (*Subscription, error) {
	entity, err := r.model.Entity(reg.Entity)
	if err != nil {
		return nil, err
	}
	kinds := reg.Events
	if len(kinds) == 0 {
		kinds = nodeKinds
	}
	relationship, err := kindFamily(kinds)
	if err != nil {
		return nil, err
	}
	if err := authz.CheckSubscribe(r.model, entity, reg.Auth); err != nil {
		return nil, err
	}
	if relationship {
		if len(entity.Relationships) == 0 {
			return nil, fmt.Errorf("%w: %s declares no relationships", types.ErrMalformedWhere, entity.Name)
		}
		for _, rel := range entity.Relationships {
			if _, err := filter.ResolveRelationship(entity, rel.Type); err != nil {
				return nil, err
			}
		}
		_, err = filter.ValidateRelationshipWhere(reg.Where, entity, r.model, r.limits)
	} else {
		_, err = filter.ValidateNodeWhere(reg.Where, entity.Attributes, r.limits)
	}
	if err != nil {
		return nil, err
	}

	buffer := reg.Buffer
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	sub := &Subscription{
		ID:        types.NewSubscriberID(),
		Entity:    entity,
		Kinds:     kinds,
		Where:     reg.Where,
		Auth:      reg.Auth,
		Selection: reg.Selection,
		CreatedAt: time.Now().UTC(),
		events:    make(chan *types.ChangeEvent, buffer),
		done:      make(chan struct{}),
	}

	r.mu.Lock()
	r.subs[sub.ID] = sub
	n := len(r.subs)
	r.mu.Unlock()

	r.metrics.SetSubscribers(n)
	r.logger.WithFields(logrus.Fields{
		"subscriber": sub.ID,
		"entity":     entity.Name,
	}).Info("subscriber registered")
	if r.recorder != nil {
		if err := r.recorder.RecordSubscribe(ctx, sub.info()); err != nil {
			r.logger.WithError(err).Warn("failed to record subscription")
		}
	}
	return sub, nil
}

// kindFamily reports whether kinds are relationship kinds, rejecting a mix.
func kindFamily(kinds types.EventKinds) (bool, error) {
	var node, rel int
	for k := range kinds {
		if k.IsRelationship() {
			rel++
		} else {
			node++
		}
	}
	if node > 0 && rel > 0 {
		return false, fmt.Errorf("%w: node and relationship events cannot share a subscription", types.ErrMalformedWhere)
	}
	return rel > 0, nil
}

// Unregister removes a subscription and ends it with err (nil for a plain
// unsubscribe). Unknown IDs are ignored.
func (r *Registry) Unregister(ctx context.Context, id types.SubscriberID, err error) {
	r.mu.Lock()
	sub, ok := r.subs[id]
	delete(r.subs, id)
	n := len(r.subs)
	r.mu.Unlock()
	if !ok {
		return
	}
	sub.close(err)
	r.metrics.SetSubscribers(n)

	reason := "unsubscribed"
	entry := r.logger.WithField("subscriber", id)
	if err != nil {
		reason = err.Error()
		entry = entry.WithError(err)
	}
	entry.Info("subscriber removed")
	if r.recorder != nil {
		if rerr := r.recorder.RecordUnsubscribe(ctx, id, reason); rerr != nil {
			r.logger.WithError(rerr).Warn("failed to record unsubscription")
		}
	}
}

// Route returns the subscriptions an event concerns: node events go to
// subscribers of the event's type; relationship events go to subscribers of
// either endpoint type that declares the relationship type.
func (r *Registry) Route(ev *types.ChangeEvent) []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Subscription
	for _, sub := range r.subs {
		if !sub.Kinds.Has(ev.Kind) {
			continue
		}
		name := sub.Entity.Name
		if ev.Kind.IsRelationship() {
			if name != ev.FromTypename && name != ev.ToTypename {
				continue
			}
			if len(sub.Entity.RelationshipsByType(ev.RelationshipName)) == 0 {
				continue
			}
		} else if name != ev.Typename {
			continue
		}
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// List returns summaries of all subscriptions ordered by ID.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Info, 0, len(r.subs))
	for _, sub := range r.subs {
		out = append(out, sub.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of active subscriptions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// Close ends every subscription.
func (r *Registry) Close(ctx context.Context) {
	r.mu.RLock()
	ids := make([]types.SubscriberID, 0, len(r.subs))
	for id := range r.subs {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	for _, id := range ids {
		r.Unregister(ctx, id, nil)
	}
}
