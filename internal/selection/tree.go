// Package selection describes the field selection a subscriber requested.
//
// A ResolveTree is the parsed, fragment-flattened form of a selection set:
// every field carries its children grouped by the type name they were
// selected on. Inline fragments on union members and interface
// implementations therefore appear as separate type-name groups. Parsing
// wire queries into this shape happens upstream.
package selection

import (
	"encoding/json"
	"fmt"
	"sort"
)

// TypenameField is the introspection field present on every type.
const TypenameField = "__typename"

// ResolveTree is one selected field.
type ResolveTree struct {
	Name  string         `json:"name"`
	Alias string         `json:"alias,omitempty"`
	Args  map[string]any `json:"args,omitempty"`
	// FieldsByTypeName maps a type name to the fields selected on it,
	// keyed by response key (alias or name).
	FieldsByTypeName map[string]map[string]*ResolveTree `json:"fieldsByTypeName,omitempty"`
}

// New returns a leaf field.
func New(name string) *ResolveTree {
	return &ResolveTree{Name: name}
}

// On adds children selected on typename and returns t.
func (t *ResolveTree) On(typename string, children ...*ResolveTree) *ResolveTree {
	if t.FieldsByTypeName == nil {
		t.FieldsByTypeName = make(map[string]map[string]*ResolveTree)
	}
	group, ok := t.FieldsByTypeName[typename]
	if !ok {
		group = make(map[string]*ResolveTree, len(children))
		t.FieldsByTypeName[typename] = group
	}
	for _, c := range children {
		group[c.Key()] = c
	}
	return t
}

// Key is the response key of the field.
func (t *ResolveTree) Key() string {
	if t.Alias != "" {
		return t.Alias
	}
	return t.Name
}

// Typenames returns the type names with selected children, sorted.
func (t *ResolveTree) Typenames() []string {
	names := make([]string, 0, len(t.FieldsByTypeName))
	for n := range t.FieldsByTypeName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// FieldsOn returns the children selected on typename, sorted by key.
func (t *ResolveTree) FieldsOn(typename string) []*ResolveTree {
	group := t.FieldsByTypeName[typename]
	keys := make([]string, 0, len(group))
	for k := range group {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]*ResolveTree, 0, len(keys))
	for _, k := range keys {
		out = append(out, group[k])
	}
	return out
}

// Fields returns every child across all type names, in type-name then key
// order.
func (t *ResolveTree) Fields() []*ResolveTree {
	var out []*ResolveTree
	for _, n := range t.Typenames() {
		out = append(out, t.FieldsOn(n)...)
	}
	return out
}

// Parse decodes a JSON ResolveTree.
func Parse(data []byte) (*ResolveTree, error) {
	var t ResolveTree
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("invalid selection: %w", err)
	}
	if err := t.validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// FromMap converts a decoded JSON object (for example from a protobuf
// Struct) into a ResolveTree.
func FromMap(m map[string]any) (*ResolveTree, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("invalid selection: %w", err)
	}
	return Parse(data)
}

func (t *ResolveTree) validate() error {
	if t.Name == "" {
		return fmt.Errorf("invalid selection: field name required")
	}
	for _, group := range t.FieldsByTypeName {
		for _, c := range group {
			if c == nil {
				return fmt.Errorf("invalid selection: null field under %s", t.Name)
			}
			if err := c.validate(); err != nil {
				return err
			}
		}
	}
	return nil
}
