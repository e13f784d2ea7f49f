// internal/filter/evaluate.go
package filter

import (
	"fmt"

	"github.com/neo4j/graphql-sub030/internal/schema"
	"github.com/neo4j/graphql-sub030/internal/types"
)

/*
 * Where-expression evaluation.
 *
 * One recursive walker serves every filter flavour. Evaluate handles the
 * combinators and the implicit AND between sibling keys; every other key is
 * handed to a Matcher. The matchers are:
 *
 *   - propertyMatcher: field keys against a property Source (this file)
 *   - relationshipMatcher: relationship-event keys (relationship.go)
 *   - authorization matchers in internal/authz (node / edge / jwt branches)
 *
 * Sibling keys are visited in sorted order and every key is evaluated before
 * reducing, so the first error is reported deterministically. Evaluation has
 * no side effects; short-circuiting would not change the boolean result.
 */

// Matcher evaluates a single non-combinator key of a where expression.
type Matcher interface {
	Match(key string, operand any) (bool, error)
}

// MatcherFunc adapts a function to Matcher.
type MatcherFunc func(key string, operand any) (bool, error)

// Match implements Matcher.
func (f MatcherFunc) Match(key string, operand any) (bool, error) {
	return f(key, operand)
}

// Source supplies received values by field name.
type Source interface {
	Get(field string) (any, bool)
}

// Evaluate walks where, delegating field keys to m. A nil or empty where is true.
func Evaluate(where types.Where, m Matcher) (bool, error) {
	return evaluate(where, m, 0)
}

func evaluate(where types.Where, m Matcher, depth int) (bool, error) {
	if depth > types.MaxWhereDepth {
		return false, types.ErrWhereTooDeep
	}
	results := make([]bool, 0, len(where))
	for _, key := range where.Keys() {
		operand := where[key]
		if IsCombinator(key) {
			children, err := combinatorChildren(Combinator(key), operand)
			if err != nil {
				return false, err
			}
			childResults := make([]bool, len(children))
			for i, child := range children {
				ok, err := evaluate(child, m, depth+1)
				if err != nil {
					return false, err
				}
				childResults[i] = ok
			}
			results = append(results, Reduce(Combinator(key), childResults))
			continue
		}
		ok, err := m.Match(key, operand)
		if err != nil {
			return false, err
		}
		results = append(results, ok)
	}
	return Reduce(And, results), nil
}

// combinatorChildren extracts child expressions: a list for AND/OR, a single
// mapping for NOT.
func combinatorChildren(c Combinator, operand any) ([]types.Where, error) {
	if c == Not {
		child, ok := types.AsWhere(operand)
		if !ok {
			return nil, fmt.Errorf("%w: NOT expects an object, got %T", types.ErrMalformedWhere, operand)
		}
		return []types.Where{child}, nil
	}
	list, ok := asList(operand)
	if !ok {
		return nil, fmt.Errorf("%w: %s expects a list, got %T", types.ErrMalformedWhere, c, operand)
	}
	children := make([]types.Where, 0, len(list))
	for i, elem := range list {
		child, ok := types.AsWhere(elem)
		if !ok {
			return nil, fmt.Errorf("%w: %s[%d] expects an object, got %T", types.ErrMalformedWhere, c, i, elem)
		}
		children = append(children, child)
	}
	return children, nil
}

// propertyMatcher evaluates field keys against a flat property source.
type propertyMatcher struct {
	received   Source
	attributes schema.Attributes
}

// Match parses the key, looks up the received value and its semantic type,
// and applies the operator. Absent values never match.
func (p *propertyMatcher) Match(key string, operand any) (bool, error) {
	k := ParseKey(key)
	received, ok := p.received.Get(k.Field)
	if !ok {
		return false, nil
	}
	var t schema.ScalarType
	if attr := p.attributes.Lookup(k.Field); attr != nil {
		t = attr.Type
	}
	return Compare(k.Operator, received, operand, t), nil
}

// MatchProperties evaluates where against a property bag. attributes supplies
// semantic types; fields it does not declare compare untyped.
func MatchProperties(where types.Where, received types.Properties, attributes schema.Attributes) (bool, error) {
	return MatchSource(where, received, attributes)
}

// MatchSource evaluates where against an arbitrary property source.
func MatchSource(where types.Where, received Source, attributes schema.Attributes) (bool, error) {
	if received == nil {
		received = types.Properties(nil)
	}
	return Evaluate(where, &propertyMatcher{received: received, attributes: attributes})
}
