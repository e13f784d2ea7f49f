package schema

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/neo4j/graphql-sub030/internal/types"
)

/*
 * Declarative schema definition.
 *
 * The schema model is produced by an external collaborator; this file is the
 * file-backed form of that hand-off. YAML is the native format and, since
 * YAML is a superset of JSON, JSON definitions load unchanged.
 *
 * Build resolves every relationship's target shape exactly once:
 *   - target names an entity    -> ShapeStandard
 *   - target names an interface -> ShapeInterface (members = implementations)
 *   - target names a union      -> ShapeUnion (members = union members)
 * Evaluators switch on the resolved shape and never probe filter contents to
 * guess it.
 */

// Definition is the serialized schema model.
type Definition struct {
	Authentication         *AuthenticationDef             `yaml:"authentication"`
	JWT                    map[string]FieldDef            `yaml:"jwt"`
	RelationshipProperties map[string]map[string]FieldDef `yaml:"relationshipProperties"`
	Interfaces             map[string]InterfaceDef        `yaml:"interfaces"`
	Unions                 map[string][]string            `yaml:"unions"`
	Entities               map[string]EntityDef           `yaml:"entities"`
}

// AuthenticationDef is the serialized Authentication annotation.
type AuthenticationDef struct {
	Operations []string       `yaml:"operations"`
	JWT        map[string]any `yaml:"jwt"`
}

// FieldDef declares an attribute. The scalar form "String", "[Int]" or
// "BigInt!" is accepted as shorthand for {type: ..., list: ...}.
type FieldDef struct {
	Type           string             `yaml:"type"`
	List           bool               `yaml:"list"`
	Authentication *AuthenticationDef `yaml:"authentication"`
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (f *FieldDef) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		t := strings.TrimSuffix(strings.TrimSpace(node.Value), "!")
		if strings.HasPrefix(t, "[") && strings.HasSuffix(t, "]") {
			f.List = true
			t = strings.TrimSuffix(t[1:len(t)-1], "!")
		}
		f.Type = t
		return nil
	}
	type plain FieldDef
	return node.Decode((*plain)(f))
}

// RelationshipDef declares a relationship field.
type RelationshipDef struct {
	Type       string `yaml:"type"`
	Direction  string `yaml:"direction"`
	Target     string `yaml:"target"`
	Properties string `yaml:"properties"`
}

// RuleDef is a serialized AuthorizationRule.
type RuleDef struct {
	Events                []string       `yaml:"events"`
	RequireAuthentication *bool          `yaml:"requireAuthentication"`
	Where                 map[string]any `yaml:"where"`
}

// InterfaceDef declares an interface.
type InterfaceDef struct {
	Fields          map[string]FieldDef `yaml:"fields"`
	Implementations []string            `yaml:"implementations"`
	Authentication  *AuthenticationDef  `yaml:"authentication"`
}

// EntityDef declares a concrete entity.
type EntityDef struct {
	Fields                     map[string]FieldDef        `yaml:"fields"`
	Relationships              map[string]RelationshipDef `yaml:"relationships"`
	Implements                 []string                   `yaml:"implements"`
	Authentication             *AuthenticationDef         `yaml:"authentication"`
	SubscriptionsAuthorization []RuleDef                  `yaml:"subscriptionsAuthorization"`
}

// LoadFile reads a YAML or JSON definition and builds the model.
func LoadFile(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML or JSON definition and builds the model.
func Parse(data []byte) (*Model, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to parse schema definition: %w", err)
	}
	return Build(&def)
}

// Build validates a definition and resolves it into an immutable Model.
func Build(def *Definition) (*Model, error) {
	m := &Model{
		Entities:               make(map[string]*Entity, len(def.Entities)),
		Interfaces:             make(map[string]*Interface, len(def.Interfaces)),
		Unions:                 make(map[string]*Union, len(def.Unions)),
		RelationshipProperties: make(map[string]*PropertiesType, len(def.RelationshipProperties)),
	}

	var err error
	if m.Authentication, err = buildAuthentication(def.Authentication); err != nil {
		return nil, fmt.Errorf("schema authentication: %w", err)
	}
	if m.JWT, err = buildAttributes(def.JWT); err != nil {
		return nil, fmt.Errorf("jwt: %w", err)
	}

	for name, fields := range def.RelationshipProperties {
		attrs, err := buildAttributes(fields)
		if err != nil {
			return nil, fmt.Errorf("relationship properties %s: %w", name, err)
		}
		m.RelationshipProperties[name] = &PropertiesType{Name: name, Attributes: attrs}
	}

	for name, ed := range def.Entities {
		attrs, err := buildAttributes(ed.Fields)
		if err != nil {
			return nil, fmt.Errorf("entity %s: %w", name, err)
		}
		auth, err := buildAuthentication(ed.Authentication)
		if err != nil {
			return nil, fmt.Errorf("entity %s authentication: %w", name, err)
		}
		rules, err := buildRules(ed.SubscriptionsAuthorization)
		if err != nil {
			return nil, fmt.Errorf("entity %s subscriptionsAuthorization: %w", name, err)
		}
		m.Entities[name] = &Entity{
			Name:               name,
			Attributes:         attrs,
			Relationships:      make(map[string]*Relationship, len(ed.Relationships)),
			Authentication:     auth,
			AuthorizationRules: rules,
		}
	}

	for name, members := range def.Unions {
		for _, member := range members {
			if _, ok := m.Entities[member]; !ok {
				return nil, fmt.Errorf("union %s: %w: %q", name, types.ErrUnknownEntity, member)
			}
		}
		m.Unions[name] = &Union{Name: name, Members: sortedCopy(members)}
	}

	for name, idef := range def.Interfaces {
		attrs, err := buildAttributes(idef.Fields)
		if err != nil {
			return nil, fmt.Errorf("interface %s: %w", name, err)
		}
		auth, err := buildAuthentication(idef.Authentication)
		if err != nil {
			return nil, fmt.Errorf("interface %s authentication: %w", name, err)
		}
		m.Interfaces[name] = &Interface{
			Name:            name,
			Attributes:      attrs,
			Implementations: sortedCopy(idef.Implementations),
			Authentication:  auth,
		}
	}
	// Implementations may be declared from either side.
	for name, ed := range def.Entities {
		for _, iface := range ed.Implements {
			i, ok := m.Interfaces[iface]
			if !ok {
				return nil, fmt.Errorf("entity %s implements %w: %q", name, types.ErrUnknownEntity, iface)
			}
			if !contains(i.Implementations, name) {
				i.Implementations = append(i.Implementations, name)
				sort.Strings(i.Implementations)
			}
		}
	}
	for name, i := range m.Interfaces {
		for _, impl := range i.Implementations {
			if _, ok := m.Entities[impl]; !ok {
				return nil, fmt.Errorf("interface %s: %w: %q", name, types.ErrUnknownEntity, impl)
			}
		}
	}

	for name, ed := range def.Entities {
		entity := m.Entities[name]
		for field, rd := range ed.Relationships {
			rel, err := m.buildRelationship(field, rd)
			if err != nil {
				return nil, fmt.Errorf("entity %s relationship %s: %w", name, field, err)
			}
			entity.Relationships[field] = rel
		}
	}

	return m, nil
}

func (m *Model) buildRelationship(field string, rd RelationshipDef) (*Relationship, error) {
	if rd.Type == "" {
		return nil, fmt.Errorf("relationship type required")
	}
	dir := Direction(strings.ToUpper(rd.Direction))
	if dir != DirectionIn && dir != DirectionOut {
		return nil, fmt.Errorf("direction must be IN or OUT, got %q", rd.Direction)
	}
	if rd.Properties != "" {
		if _, ok := m.RelationshipProperties[rd.Properties]; !ok {
			return nil, fmt.Errorf("unknown relationship properties %q", rd.Properties)
		}
	}

	rel := &Relationship{
		FieldName:      field,
		Type:           rd.Type,
		Direction:      dir,
		PropertiesType: rd.Properties,
		Target:         rd.Target,
	}
	switch {
	case m.Entities[rd.Target] != nil:
		rel.Shape = ShapeStandard
		rel.Members = []string{rd.Target}
	case m.Interfaces[rd.Target] != nil:
		rel.Shape = ShapeInterface
		rel.Members = sortedCopy(m.Interfaces[rd.Target].Implementations)
	case m.Unions[rd.Target] != nil:
		rel.Shape = ShapeUnion
		rel.Members = sortedCopy(m.Unions[rd.Target].Members)
	default:
		return nil, fmt.Errorf("%w: target %q", types.ErrUnknownEntity, rd.Target)
	}
	return rel, nil
}

func buildAttributes(fields map[string]FieldDef) (Attributes, error) {
	attrs := make(Attributes, len(fields))
	for name, fd := range fields {
		if fd.Type == "" {
			return nil, fmt.Errorf("field %s: type required", name)
		}
		auth, err := buildAuthentication(fd.Authentication)
		if err != nil {
			return nil, fmt.Errorf("field %s authentication: %w", name, err)
		}
		attrs[name] = &Attribute{
			Name:           name,
			Type:           ScalarType(fd.Type),
			List:           fd.List,
			Authentication: auth,
		}
	}
	return attrs, nil
}

func buildAuthentication(def *AuthenticationDef) (*Authentication, error) {
	if def == nil {
		return nil, nil
	}
	ops, err := parseOperations(def.Operations)
	if err != nil {
		return nil, err
	}
	var jwt types.Where
	if len(def.JWT) > 0 {
		jwt = types.Where(def.JWT)
	}
	return &Authentication{Operations: ops, JWT: jwt}, nil
}

func buildRules(defs []RuleDef) ([]AuthorizationRule, error) {
	rules := make([]AuthorizationRule, 0, len(defs))
	for i, rd := range defs {
		events := rd.Events
		if len(events) == 0 {
			// Unset means every subscription event.
			events = []string{"create", "update", "delete", "create_relationship", "delete_relationship"}
		}
		kinds, err := types.NewEventKinds(events...)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		requireAuth := true
		if rd.RequireAuthentication != nil {
			requireAuth = *rd.RequireAuthentication
		}
		rules = append(rules, AuthorizationRule{
			Events:                kinds,
			RequireAuthentication: requireAuth,
			Where:                 types.Where(rd.Where),
		})
	}
	return rules, nil
}

func sortedCopy(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
