// Package subscription decides, per subscriber, whether a change event is
// delivered, and fans events out to registered subscribers.
package subscription

import (
	"fmt"

	"github.com/neo4j/graphql-sub030/internal/authz"
	"github.com/neo4j/graphql-sub030/internal/filter"
	"github.com/neo4j/graphql-sub030/internal/schema"
	"github.com/neo4j/graphql-sub030/internal/selection"
	"github.com/neo4j/graphql-sub030/internal/types"
)

// Decision is the outcome of ShouldDeliver.
type Decision int

const (
	Deliver Decision = iota
	// FilteredByWhere means the subscriber's where did not match.
	FilteredByWhere
	// FilteredByAuthorization means no applicable authorization rule passed.
	FilteredByAuthorization
)

func (d Decision) String() string {
	switch d {
	case Deliver:
		return "deliver"
	case FilteredByWhere:
		return "filtered_where"
	case FilteredByAuthorization:
		return "filtered_authorization"
	default:
		return fmt.Sprintf("Decision(%d)", int(d))
	}
}

// Request is everything one delivery decision reads.
type Request struct {
	Model     *schema.Model
	Entity    *schema.Entity
	Event     *types.ChangeEvent
	Rules     []schema.AuthorizationRule
	Where     types.Where
	Auth      *authz.Context
	Selection *selection.ResolveTree
}

// ShouldDeliver decides whether req.Event reaches the subscriber.
//
// Steps, in order:
//  1. authentication annotations over the selection (errors abort)
//  2. the subscriber's where, with placeholders resolved
//  3. the authorization gate over req.Rules
//
// Filtered outcomes return a nil error. A gate rejection caused by a missing
// identity returns types.ErrUnauthenticated; misconfiguration errors wrap
// types.ErrMisconfiguration.
func ShouldDeliver(req Request) (Decision, error) {
	if req.Model == nil || req.Entity == nil || req.Event == nil {
		return FilteredByWhere, fmt.Errorf("%w: incomplete delivery request", types.ErrMisconfiguration)
	}
	ev := req.Event

	if err := authz.CheckSelection(req.Model, req.Entity, ev.Kind, req.Selection, req.Auth); err != nil {
		return FilteredByAuthorization, err
	}

	matched, err := matchWhere(req)
	if err != nil {
		return FilteredByWhere, err
	}
	if !matched {
		return FilteredByWhere, nil
	}

	gate, err := authz.Gate(req.Rules, authz.Input{
		Model:  req.Model,
		Entity: req.Entity,
		Event:  ev,
		Auth:   req.Auth,
	})
	if err != nil {
		return FilteredByAuthorization, err
	}
	if !gate.Allowed {
		if gate.Unauthenticated {
			return FilteredByAuthorization, fmt.Errorf("subscription to %s: %w", req.Entity.Name, types.ErrUnauthenticated)
		}
		return FilteredByAuthorization, nil
	}
	return Deliver, nil
}

func matchWhere(req Request) (bool, error) {
	if len(req.Where) == 0 {
		return true, nil
	}
	where := authz.ResolveWhere(req.Where, req.Auth)
	if req.Event.Kind.IsRelationship() {
		return filter.MatchRelationship(where, req.Event, req.Entity, req.Model)
	}
	return filter.MatchProperties(where, req.Event.ReceivedState(), req.Entity.Attributes)
}
