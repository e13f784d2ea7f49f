// internal/filter/relationship.go
package filter

import (
	"fmt"

	"github.com/neo4j/graphql-sub030/internal/schema"
	"github.com/neo4j/graphql-sub030/internal/types"
)

/*
 * Relationship-event filtering.
 *
 * A relationship subscriber's where has this shape:
 *
 *   {
 *     "movie": { ...own node properties... },
 *     "createdRelationship": {
 *       "actors": {
 *         "edge": { ...edge properties... },
 *         "node": { ...connected node... }
 *       }
 *     }
 *   }
 *
 * The relationship-field sub-tree may also appear at the top level
 * ({"actors": {...}}). Per target shape the "node" key becomes:
 *
 *   standard   "node": {...}
 *   interface  "node": {..., "_on": {"Actor": {...}}}
 *   union      "Actor": {"edge": {...}, "node": {...}}, "Director": {...}
 *
 * The declaring entity's direction picks the connected bag: IN reads
 * "from", OUT reads "to". The entity's own bag is the other one.
 */

// Reserved keys of relationship where expressions.
const (
	KeyEdge                = "edge"
	KeyNode                = "node"
	KeyOn                  = "_on"
	KeyCreatedRelationship = "createdRelationship"
	KeyDeletedRelationship = "deletedRelationship"
)

// ResolveRelationship finds the single relationship field of entity declared
// with the event's relationship type.
func ResolveRelationship(entity *schema.Entity, relType string) (*schema.Relationship, error) {
	rels := entity.RelationshipsByType(relType)
	switch len(rels) {
	case 0:
		return nil, fmt.Errorf("%w: %s has no field of type %q", types.ErrRelationshipNotFound, entity.Name, relType)
	case 1:
		return rels[0], nil
	default:
		return nil, fmt.Errorf("%w: %s declares %q on %d fields", types.ErrAmbiguousRelationship, entity.Name, relType, len(rels))
	}
}

// Endpoints splits a relationship event into the declaring entity's own bag
// and the connected node's bag and runtime type name.
type Endpoints struct {
	Own               types.Properties
	Connected         types.Properties
	ConnectedTypename string
}

// EndpointsFor picks the bags of ev according to rel's direction.
func EndpointsFor(rel *schema.Relationship, ev *types.ChangeEvent) Endpoints {
	if rel.Direction == schema.DirectionIn {
		return Endpoints{
			Own:               ev.Relationship.To,
			Connected:         ev.Relationship.From,
			ConnectedTypename: ev.FromTypename,
		}
	}
	return Endpoints{
		Own:               ev.Relationship.From,
		Connected:         ev.Relationship.To,
		ConnectedTypename: ev.ToTypename,
	}
}

// MatchRelationship evaluates a relationship subscriber's where against a
// relationship event delivered to entity. An empty where matches. A where
// that never names the relationship field does not.
func MatchRelationship(where types.Where, ev *types.ChangeEvent, entity *schema.Entity, model *schema.Model) (bool, error) {
	if len(where) == 0 {
		return true, nil
	}
	rel, err := ResolveRelationship(entity, ev.RelationshipName)
	if err != nil {
		return false, err
	}
	m := &relationshipMatcher{
		model:     model,
		entity:    entity,
		rel:       rel,
		event:     ev,
		endpoints: EndpointsFor(rel, ev),
	}
	ok, err := Evaluate(where, m)
	if err != nil {
		return false, err
	}
	return ok && m.seen, nil
}

type relationshipMatcher struct {
	model     *schema.Model
	entity    *schema.Entity
	rel       *schema.Relationship
	event     *types.ChangeEvent
	endpoints Endpoints
	// seen records whether the relationship field sub-tree was reached.
	seen bool
}

func (m *relationshipMatcher) Match(key string, operand any) (bool, error) {
	switch key {
	case m.entity.WhereKey():
		own, err := whereOperand(key, operand)
		if err != nil {
			return false, err
		}
		return MatchProperties(own, m.endpoints.Own, m.entity.Attributes)
	case KeyCreatedRelationship, KeyDeletedRelationship:
		fields, err := whereOperand(key, operand)
		if err != nil {
			return false, err
		}
		return Evaluate(fields, MatcherFunc(m.matchFieldKey))
	default:
		return m.matchFieldKey(key, operand)
	}
}

// matchFieldKey handles keys naming relationship fields. Sub-trees of the
// entity's other relationship fields are ignored. Unknown keys do not match.
func (m *relationshipMatcher) matchFieldKey(key string, operand any) (bool, error) {
	if key != m.rel.FieldName {
		_, declared := m.entity.Relationships[key]
		return declared, nil
	}
	m.seen = true
	if operand == nil {
		return false, nil
	}
	sub, err := whereOperand(key, operand)
	if err != nil {
		return false, err
	}
	if len(sub) == 0 {
		return true, nil
	}
	switch m.rel.Shape {
	case schema.ShapeUnion:
		return m.matchUnion(sub)
	case schema.ShapeStandard, schema.ShapeInterface:
		return Evaluate(sub, MatcherFunc(m.matchEdgeOrNode))
	default:
		return false, fmt.Errorf("%w: relationship %s has shape %s", types.ErrMisconfiguration, m.rel.FieldName, m.rel.Shape)
	}
}

func (m *relationshipMatcher) matchEdgeOrNode(key string, operand any) (bool, error) {
	switch key {
	case KeyEdge:
		return m.matchEdge(operand)
	case KeyNode:
		nodeWhere, err := whereOperand(key, operand)
		if err != nil {
			return false, err
		}
		return m.matchNode(nodeWhere)
	default:
		return false, nil
	}
}

func (m *relationshipMatcher) matchEdge(operand any) (bool, error) {
	edgeWhere, err := whereOperand(KeyEdge, operand)
	if err != nil {
		return false, err
	}
	return MatchProperties(edgeWhere, m.event.Relationship.Relationship, m.model.EdgeAttributes(m.rel.PropertiesType))
}

// matchUnion selects the member sub-tree named by the connected node's
// runtime type. Other members' keys are ignored.
func (m *relationshipMatcher) matchUnion(sub types.Where) (bool, error) {
	runtime := m.endpoints.ConnectedTypename
	if v, ok := sub[runtime]; !ok || v == nil {
		return false, nil
	}
	return Evaluate(sub, MatcherFunc(func(key string, operand any) (bool, error) {
		switch {
		case key == runtime:
			member, err := whereOperand(key, operand)
			if err != nil {
				return false, err
			}
			return Evaluate(member, MatcherFunc(m.matchEdgeOrNode))
		case m.rel.HasMember(key):
			return true, nil
		case key == KeyEdge:
			return m.matchEdge(operand)
		default:
			return false, nil
		}
	}))
}

// matchNode filters the connected node according to the target shape.
func (m *relationshipMatcher) matchNode(nodeWhere types.Where) (bool, error) {
	runtime := m.endpoints.ConnectedTypename
	switch m.rel.Shape {
	case schema.ShapeInterface:
		merged, ok, err := mergeImplementation(nodeWhere, runtime)
		if err != nil || !ok {
			return false, err
		}
		return MatchProperties(merged, m.endpoints.Connected, m.interfaceAttributes(runtime))
	case schema.ShapeUnion:
		return MatchProperties(nodeWhere, m.endpoints.Connected, m.entityAttributes(runtime))
	default:
		return MatchProperties(nodeWhere, m.endpoints.Connected, m.entityAttributes(m.rel.Target))
	}
}

func (m *relationshipMatcher) entityAttributes(name string) schema.Attributes {
	if e, ok := m.model.Entities[name]; ok {
		return e.Attributes
	}
	return nil
}

// interfaceAttributes overlays the implementation's attributes on the
// interface's own.
func (m *relationshipMatcher) interfaceAttributes(runtime string) schema.Attributes {
	out := schema.Attributes{}
	if iface, ok := m.model.Interfaces[m.rel.Target]; ok {
		for name, a := range iface.Attributes {
			out[name] = a
		}
	}
	for name, a := range m.entityAttributes(runtime) {
		out[name] = a
	}
	return out
}

// mergeImplementation folds the "_on" entry for runtime over the common
// fields. Reports false when "_on" exists but does not list runtime.
func mergeImplementation(nodeWhere types.Where, runtime string) (types.Where, bool, error) {
	raw, ok := nodeWhere[KeyOn]
	if !ok {
		return nodeWhere, true, nil
	}
	on, err := whereOperand(KeyOn, raw)
	if err != nil {
		return nil, false, err
	}
	implRaw, ok := on[runtime]
	if !ok {
		return nil, false, nil
	}
	impl, err := whereOperand(KeyOn+"."+runtime, implRaw)
	if err != nil {
		return nil, false, err
	}
	merged := make(types.Where, len(nodeWhere)+len(impl))
	for k, v := range nodeWhere {
		if k != KeyOn {
			merged[k] = v
		}
	}
	for k, v := range impl {
		merged[k] = v
	}
	return merged, true, nil
}

// whereOperand converts a nested operand, rejecting non-object shapes.
func whereOperand(key string, operand any) (types.Where, error) {
	if operand == nil {
		return types.Where{}, nil
	}
	w, ok := types.AsWhere(operand)
	if !ok {
		return nil, fmt.Errorf("%w: %s expects an object, got %T", types.ErrMalformedWhere, key, operand)
	}
	return w, nil
}
