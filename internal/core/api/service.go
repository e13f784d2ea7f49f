// Package api provides the gRPC subscription service.
package api

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/neo4j/graphql-sub030/internal/core/auth"
	"github.com/neo4j/graphql-sub030/internal/core/db"
	"github.com/neo4j/graphql-sub030/internal/core/logging"
	"github.com/neo4j/graphql-sub030/internal/selection"
	"github.com/neo4j/graphql-sub030/internal/subscription"
	"github.com/neo4j/graphql-sub030/internal/types"
)

// SubscriberIDHeader carries the subscriber ID in the Subscribe response header.
const SubscriberIDHeader = "x-subscriber-id"

// History lists recorded registrations. Implemented by *db.Store.
type History interface {
	ListSubscriptions(ctx context.Context, activeOnly bool, limit int) ([]db.SubscriptionRecord, error)
}

// Service implements SubscriptionAPIServer.
// Thin orchestration layer delegating to the subscription registry.
type Service struct {
	registry *subscription.Registry
	history  History
	buffer   int
	logger   *logrus.Entry
}

// NewService creates service instance with dependencies. history may be nil.
func NewService(registry *subscription.Registry, history History, buffer int, logger logrus.FieldLogger) (*Service, error) {
	if registry == nil {
		return nil, fmt.Errorf("registry cannot be nil")
	}
	return &Service{
		registry: registry,
		history:  history,
		buffer:   buffer,
		logger:   logging.Component(logger, "api"),
	}, nil
}

// Subscribe registers the caller and streams matching change events until
// the client goes away or the subscription is ended by the server.
func (s *Service) Subscribe(req *structpb.Struct, stream SubscribeStream) error {
	ctx := stream.Context()
	reg, err := registrationFrom(req)
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	reg.Auth = auth.FromContext(ctx)
	reg.Buffer = s.buffer

	sub, err := s.registry.Register(ctx, reg)
	if err != nil {
		return statusFor(err)
	}
	// Removal after a server-side end is ignored by the registry.
	defer s.registry.Unregister(context.WithoutCancel(ctx), sub.ID, nil)

	if err := stream.SendHeader(metadata.Pairs(SubscriberIDHeader, string(sub.ID))); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sub.Done():
			return statusFor(sub.Err())
		case ev := <-sub.Events():
			payload, err := eventStruct(ev)
			if err != nil {
				s.logger.WithError(err).WithField("event_id", ev.ID).Error("failed to encode delivery")
				continue
			}
			if err := stream.Send(payload); err != nil {
				return err
			}
		}
	}
}

// registrationFrom reads entity, events, where and selection. where may be
// an object or a JSON string; the string form keeps integer precision.
func registrationFrom(req *structpb.Struct) (subscription.Registration, error) {
	var reg subscription.Registration
	fields := req.GetFields()

	reg.Entity = fields["entity"].GetStringValue()
	if reg.Entity == "" {
		return reg, fmt.Errorf("entity is required")
	}

	if list := fields["events"].GetListValue(); list != nil {
		names := make([]string, 0, len(list.GetValues()))
		for _, v := range list.GetValues() {
			names = append(names, v.GetStringValue())
		}
		kinds, err := types.NewEventKinds(names...)
		if err != nil {
			return reg, err
		}
		reg.Events = kinds
	}

	switch w := fields["where"].GetKind().(type) {
	case nil, *structpb.Value_NullValue:
	case *structpb.Value_StringValue:
		where, err := types.ParseWhere([]byte(w.StringValue))
		if err != nil {
			return reg, err
		}
		reg.Where = where
	case *structpb.Value_StructValue:
		reg.Where = types.Where(w.StructValue.AsMap())
	default:
		return reg, fmt.Errorf("where must be an object or a JSON string")
	}

	if sel := fields["selection"].GetStructValue(); sel != nil {
		tree, err := selection.FromMap(sel.AsMap())
		if err != nil {
			return reg, err
		}
		reg.Selection = tree
	}
	return reg, nil
}

// maxExactInteger is the largest magnitude a float64 holds without rounding.
const maxExactInteger = 1 << 53

// eventStruct encodes a delivery. Integers a float64 cannot hold exactly are
// sent as decimal strings.
func eventStruct(ev *types.ChangeEvent) (*structpb.Struct, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(structValue(m).(map[string]any))
}

func structValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, e := range t {
			t[k] = structValue(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = structValue(e)
		}
		return t
	case json.Number:
		return numberValue(t)
	default:
		return v
	}
}

func numberValue(n json.Number) any {
	if i, err := n.Int64(); err == nil {
		if i > maxExactInteger || i < -maxExactInteger {
			return n.String()
		}
		return float64(i)
	}
	if !strings.ContainsAny(n.String(), ".eE") {
		return n.String()
	}
	f, err := n.Float64()
	if err != nil {
		return n.String()
	}
	return f
}

// ListSubscriptions returns registrations. With {"source": "history"} it
// reads the audit store, otherwise the live registry. Requires an
// authenticated caller.
func (s *Service) ListSubscriptions(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if !auth.FromContext(ctx).Authenticated() {
		return nil, status.Error(codes.Unauthenticated, types.ErrUnauthenticated.Error())
	}
	fields := req.GetFields()
	entity := fields["entity"].GetStringValue()

	var rows []listRow
	switch src := fields["source"].GetStringValue(); src {
	case "", "live":
		for _, info := range s.registry.List() {
			rows = append(rows, listRow{
				ID:            string(info.ID),
				Entity:        info.Entity,
				Events:        info.Events,
				Authenticated: info.Authenticated,
				CreatedAt:     info.CreatedAt,
			})
		}
	case "history":
		if s.history == nil {
			return nil, status.Error(codes.FailedPrecondition, "no subscription store configured")
		}
		records, err := s.history.ListSubscriptions(ctx, fields["activeOnly"].GetBoolValue(), int(fields["limit"].GetNumberValue()))
		if err != nil {
			return nil, status.Error(codes.Unavailable, fmt.Sprintf("failed to query subscriptions: %v", err))
		}
		for _, r := range records {
			row := listRow{
				ID:            r.SubscriberID,
				Entity:        r.Entity,
				Events:        r.EventList(),
				Authenticated: r.Authenticated,
				CreatedAt:     r.CreatedAt,
				EndReason:     r.EndReason.String,
			}
			if r.EndedAt.Valid {
				t := r.EndedAt.Time
				row.EndedAt = &t
			}
			rows = append(rows, row)
		}
	default:
		return nil, status.Error(codes.InvalidArgument, fmt.Sprintf("unknown source %q", src))
	}

	list := make([]any, 0, len(rows))
	filtered := rows[:0]
	for _, r := range rows {
		if entity != "" && r.Entity != entity {
			continue
		}
		filtered = append(filtered, r)
		list = append(list, r.asMap())
	}

	return structpb.NewStruct(map[string]any{
		"subscriptions": list,
		"etag":          computeETAG(filtered),
	})
}

type listRow struct {
	ID            string
	Entity        string
	Events        []string
	Authenticated bool
	CreatedAt     time.Time
	EndedAt       *time.Time
	EndReason     string
}

func (r listRow) asMap() map[string]any {
	events := make([]any, len(r.Events))
	for i, e := range r.Events {
		events[i] = e
	}
	m := map[string]any{
		"id":            r.ID,
		"entity":        r.Entity,
		"events":        events,
		"authenticated": r.Authenticated,
		"createdAt":     r.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if r.EndedAt != nil {
		m["endedAt"] = r.EndedAt.UTC().Format(time.RFC3339Nano)
		m["endReason"] = r.EndReason
	}
	return m
}

// computeETAG hashes the sorted subscriber IDs and end states: the same
// listing always produces the same ETAG.
func computeETAG(rows []listRow) string {
	h := sha256.New()
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, fmt.Sprintf("%s:%t", r.ID, r.EndedAt != nil))
	}
	sort.Strings(ids)
	for _, id := range ids {
		h.Write([]byte(id))
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}
