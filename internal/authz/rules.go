package authz

import (
	"fmt"

	"github.com/neo4j/graphql-sub030/internal/filter"
	"github.com/neo4j/graphql-sub030/internal/schema"
	"github.com/neo4j/graphql-sub030/internal/types"
)

/*
 * Authorization rule evaluation.
 *
 * A rule's where is resolved (resolve.go) and then walked by the shared
 * filter evaluator with these top-level keys:
 *
 *   node  the entity's properties: new for create, old for update and
 *         delete, the entity's own endpoint for relationship events
 *   edge  the relationship's properties (relationship events only)
 *   jwt   the caller's claims; reaching it without a JWT is a
 *         misconfiguration because the rule should require authentication
 *
 * Any other key is not an authorization concern and evaluates to true.
 */

// Rule where keys.
const (
	KeyNode = "node"
	KeyEdge = "edge"
	KeyJWT  = "jwt"
)

// Input is the event-side input of a rule evaluation.
type Input struct {
	Model  *schema.Model
	Entity *schema.Entity
	Event  *types.ChangeEvent
	Auth   *Context
}

// EvaluateRule evaluates one rule. A rule requiring authentication is false
// when the caller is unauthenticated.
func EvaluateRule(rule schema.AuthorizationRule, in Input) (bool, error) {
	if rule.RequireAuthentication && !in.Auth.Authenticated() {
		return false, nil
	}
	m, err := newRuleMatcher(in)
	if err != nil {
		return false, err
	}
	return filter.Evaluate(ResolveWhere(rule.Where, in.Auth), m)
}

type ruleMatcher struct {
	in        Input
	node      types.Properties
	edge      types.Properties
	edgeAttrs schema.Attributes
	jwtSchema schema.Attributes
}

func newRuleMatcher(in Input) (*ruleMatcher, error) {
	m := &ruleMatcher{in: in}
	if in.Model != nil {
		m.jwtSchema = in.Model.JWT
	}
	ev := in.Event
	if !ev.Kind.IsRelationship() {
		m.node = ev.ReceivedState()
		return m, nil
	}
	rel, err := filter.ResolveRelationship(in.Entity, ev.RelationshipName)
	if err != nil {
		return nil, err
	}
	m.node = filter.EndpointsFor(rel, ev).Own
	m.edge = ev.Relationship.Relationship
	if in.Model != nil {
		m.edgeAttrs = in.Model.EdgeAttributes(rel.PropertiesType)
	}
	return m, nil
}

func (m *ruleMatcher) Match(key string, operand any) (bool, error) {
	switch key {
	case KeyNode:
		w, err := subtree(key, operand)
		if err != nil {
			return false, err
		}
		return filter.MatchProperties(w, m.node, m.in.Entity.Attributes)
	case KeyEdge:
		w, err := subtree(key, operand)
		if err != nil {
			return false, err
		}
		return filter.MatchProperties(w, m.edge, m.edgeAttrs)
	case KeyJWT:
		if !m.in.Auth.Authenticated() {
			return false, types.ErrNoJWT
		}
		w, err := subtree(key, operand)
		if err != nil {
			return false, err
		}
		return filter.MatchSource(w, claimSource{ctx: m.in.Auth}, m.jwtSchema)
	default:
		return true, nil
	}
}

func subtree(key string, operand any) (types.Where, error) {
	if operand == nil {
		return nil, nil
	}
	w, ok := types.AsWhere(operand)
	if !ok {
		return nil, fmt.Errorf("%w: %s expects an object, got %T", types.ErrMalformedWhere, key, operand)
	}
	return w, nil
}

// GateResult is the outcome of the authorization gate.
type GateResult struct {
	Allowed bool
	// Candidates is the number of rules that applied to the event kind.
	Candidates int
	// Unauthenticated is set when a candidate rule failed only because it
	// requires authentication and the caller has none.
	Unauthenticated bool
}

// Gate combines the rules applicable to the event kind with OR. No
// applicable rule means no restriction.
func Gate(rules []schema.AuthorizationRule, in Input) (GateResult, error) {
	var res GateResult
	for _, rule := range rules {
		if !rule.Events.Has(in.Event.Kind) {
			continue
		}
		res.Candidates++
		if rule.RequireAuthentication && !in.Auth.Authenticated() {
			res.Unauthenticated = true
			continue
		}
		ok, err := EvaluateRule(rule, in)
		if err != nil {
			return GateResult{}, fmt.Errorf("authorization rule %d: %w", res.Candidates-1, err)
		}
		if ok {
			res.Allowed = true
		}
	}
	if res.Candidates == 0 {
		res.Allowed = true
	}
	return res, nil
}
