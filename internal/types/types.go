// Package types provides domain models shared across the subscription components.
//
// Zero-dependency design: types.go, events.go and errors.go use only the
// standard library so the evaluator packages stay free of transport concerns.
// ID utilities in ids.go import uuid and are isolated for that reason.
package types

import (
	"encoding/json"
	"sort"
)

// EventID identifies one change event. UUIDv7 when generated locally.
type EventID string

// SubscriberID identifies one active subscription registration.
type SubscriberID string

// Properties is a flat mapping from attribute name to scalar value.
// Values decoded from JSON keep numbers as json.Number.
type Properties map[string]any

// Get returns the value for name. A key holding nil is reported as absent.
func (p Properties) Get(name string) (any, bool) {
	if p == nil {
		return nil, false
	}
	v, ok := p[name]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// Where is a declarative filter tree. Keys are combinators (AND, OR, NOT) or
// field keys of the form <field>[_<OPERATOR>].
type Where map[string]any

// Keys returns the keys of w in sorted order for deterministic evaluation.
func (w Where) Keys() []string {
	keys := make([]string, 0, len(w))
	for k := range w {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// AsWhere converts a nested operand to a Where. Accepts Where,
// map[string]any and Properties; reports false for anything else.
func AsWhere(v any) (Where, bool) {
	switch m := v.(type) {
	case Where:
		return m, true
	case map[string]any:
		return Where(m), true
	case Properties:
		return Where(m), true
	default:
		return nil, false
	}
}

// ParseWhere decodes a JSON where expression preserving integer precision.
func ParseWhere(data []byte) (Where, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var w Where
	if err := decodeJSON(data, &w); err != nil {
		return nil, err
	}
	return w, nil
}

// Limits enforced on caller-supplied filters.
const (
	// MaxWhereDepth bounds recursion through combinators and nested operands.
	MaxWhereDepth = 32

	// MaxInOperatorValues limits IN/NOT_IN operand lists.
	MaxInOperatorValues = 1024
)

// MarshalJSON keeps a nil Where as null rather than {}.
func (w Where) MarshalJSON() ([]byte, error) {
	if w == nil {
		return []byte("null"), nil
	}
	return json.Marshal(map[string]any(w))
}
