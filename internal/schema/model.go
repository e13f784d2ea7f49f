// Package schema holds the read-only schema model consumed by the evaluators:
// entities with their attributes, relationships and annotations.
//
// The model is built once from a Definition (see definition.go) and never
// mutated afterwards, so it is shared freely across concurrent evaluations.
package schema

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/neo4j/graphql-sub030/internal/types"
)

// ScalarType is the semantic type tag of an attribute.
type ScalarType string

const (
	TypeString    ScalarType = "String"
	TypeInt       ScalarType = "Int"
	TypeBigInt    ScalarType = "BigInt"
	TypeFloat     ScalarType = "Float"
	TypeID        ScalarType = "ID"
	TypeBoolean   ScalarType = "Boolean"
	TypeDateTime  ScalarType = "DateTime"
	TypeDate      ScalarType = "Date"
	TypeTime      ScalarType = "Time"
	TypeDuration  ScalarType = "Duration"
	TypeLocalTime ScalarType = "LocalTime"
)

// Integral reports whether values of t compare as arbitrary-precision integers.
func (t ScalarType) Integral() bool {
	return t == TypeInt || t == TypeBigInt
}

// Operation names an operation an authentication annotation guards.
type Operation string

const (
	OpRead      Operation = "READ"
	OpSubscribe Operation = "SUBSCRIBE"
)

// Authentication is a "must be authenticated" annotation.
type Authentication struct {
	// Operations guarded by the annotation. Empty means every operation.
	Operations map[Operation]struct{}
	// JWT optionally constrains the claims of the authenticated caller.
	JWT types.Where
}

// Applies reports whether the annotation guards op. Nil-safe.
func (a *Authentication) Applies(op Operation) bool {
	if a == nil {
		return false
	}
	if len(a.Operations) == 0 {
		return true
	}
	_, ok := a.Operations[op]
	return ok
}

// Attribute is a declared scalar field.
type Attribute struct {
	Name           string
	Type           ScalarType
	List           bool
	Authentication *Authentication
}

// Attributes indexes attributes by field name.
type Attributes map[string]*Attribute

// Lookup returns the attribute named name or nil. Nil-safe.
func (a Attributes) Lookup(name string) *Attribute {
	if a == nil {
		return nil
	}
	return a[name]
}

// Direction is the direction of a relationship relative to its declaring entity.
type Direction string

const (
	DirectionIn  Direction = "IN"
	DirectionOut Direction = "OUT"
)

// TargetShape is the shape of a relationship's far endpoint.
type TargetShape int

const (
	ShapeStandard TargetShape = iota
	ShapeUnion
	ShapeInterface
)

func (s TargetShape) String() string {
	switch s {
	case ShapeStandard:
		return "standard"
	case ShapeUnion:
		return "union"
	case ShapeInterface:
		return "interface"
	default:
		return fmt.Sprintf("TargetShape(%d)", int(s))
	}
}

// Relationship is a declared relationship field.
type Relationship struct {
	FieldName string
	// Type is the relationship type name as stored in the graph.
	Type      string
	Direction Direction
	// PropertiesType names the edge-properties declaration, empty when the
	// relationship carries no typed properties.
	PropertiesType string
	Shape          TargetShape
	// Target is the declared target type: an entity, union or interface name.
	Target string
	// Members lists the concrete entity names reachable through Target.
	Members []string
}

// HasMember reports whether typename is a concrete target of r.
func (r *Relationship) HasMember(typename string) bool {
	for _, m := range r.Members {
		if m == typename {
			return true
		}
	}
	return false
}

// AuthorizationRule is one subscription authorization filter.
type AuthorizationRule struct {
	Events                types.EventKinds
	RequireAuthentication bool
	Where                 types.Where
}

// Entity is a concrete node type.
type Entity struct {
	Name               string
	Attributes         Attributes
	Relationships      map[string]*Relationship
	Authentication     *Authentication
	AuthorizationRules []AuthorizationRule
}

// WhereKey is the key under which relationship-event filters address the
// entity's own properties: the type name with a lower-case first letter.
func (e *Entity) WhereKey() string {
	r, size := utf8.DecodeRuneInString(e.Name)
	if r == utf8.RuneError {
		return e.Name
	}
	return string(unicode.ToLower(r)) + e.Name[size:]
}

// RelationshipsByType returns the relationship fields declared with the given
// relationship type, ordered by field name.
func (e *Entity) RelationshipsByType(relType string) []*Relationship {
	var out []*Relationship
	for _, r := range e.Relationships {
		if r.Type == relType {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FieldName < out[j].FieldName })
	return out
}

// PayloadFieldNames lists the subscription payload fields that carry the
// entity's own properties for event kind k.
func (e *Entity) PayloadFieldNames(k types.EventKind) []string {
	switch k {
	case types.EventCreate:
		return []string{"created" + e.Name}
	case types.EventUpdate:
		return []string{"updated" + e.Name, "previousState"}
	case types.EventDelete:
		return []string{"deleted" + e.Name}
	case types.EventCreateRelationship, types.EventDeleteRelationship:
		return []string{e.WhereKey()}
	default:
		return nil
	}
}

// Interface is an abstract type implemented by entities.
type Interface struct {
	Name            string
	Attributes      Attributes
	Implementations []string
	Authentication  *Authentication
}

// Union is a set of entity types.
type Union struct {
	Name    string
	Members []string
}

// PropertiesType declares the properties stored on a relationship.
type PropertiesType struct {
	Name       string
	Attributes Attributes
}

// Model is the complete read-only schema model.
type Model struct {
	Entities               map[string]*Entity
	Interfaces             map[string]*Interface
	Unions                 map[string]*Union
	RelationshipProperties map[string]*PropertiesType
	// JWT describes the claims payload; used for typed jwt comparisons.
	JWT Attributes
	// Authentication is the schema-level annotation.
	Authentication *Authentication
}

// Entity looks up a concrete entity.
func (m *Model) Entity(name string) (*Entity, error) {
	e, ok := m.Entities[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", types.ErrUnknownEntity, name)
	}
	return e, nil
}

// EdgeAttributes returns the attributes of a relationship-properties
// declaration, or nil when name is empty or undeclared.
func (m *Model) EdgeAttributes(name string) Attributes {
	if name == "" {
		return nil
	}
	if p, ok := m.RelationshipProperties[name]; ok {
		return p.Attributes
	}
	return nil
}

// ConcreteEntities expands a type name to its concrete entities: an entity
// maps to itself, an interface to its implementations and a union to its
// members. Unknown names expand to nothing.
func (m *Model) ConcreteEntities(typename string) []*Entity {
	if e, ok := m.Entities[typename]; ok {
		return []*Entity{e}
	}
	var names []string
	if i, ok := m.Interfaces[typename]; ok {
		names = i.Implementations
	} else if u, ok := m.Unions[typename]; ok {
		names = u.Members
	}
	out := make([]*Entity, 0, len(names))
	for _, n := range names {
		if e, ok := m.Entities[n]; ok {
			out = append(out, e)
		}
	}
	return out
}

// EntitiesWithRelationshipType returns entities declaring at least one
// relationship field of relType.
func (m *Model) EntitiesWithRelationshipType(relType string) []string {
	var out []string
	for name, e := range m.Entities {
		if len(e.RelationshipsByType(relType)) > 0 {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func parseOperations(ops []string) (map[Operation]struct{}, error) {
	set := make(map[Operation]struct{}, len(ops))
	for _, o := range ops {
		op := Operation(strings.ToUpper(strings.TrimSpace(o)))
		if op == "" {
			return nil, fmt.Errorf("empty authentication operation")
		}
		set[op] = struct{}{}
	}
	return set, nil
}
