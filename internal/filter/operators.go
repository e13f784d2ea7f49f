// internal/filter/operators.go
package filter

import (
	"reflect"
	"strings"

	"github.com/neo4j/graphql-sub030/internal/schema"
)

/*
 * Operator comparison logic.
 *
 * Each operator is a predicate over (received, filtered) parameterised by the
 * field's semantic type. Predicates report two things: the result, and
 * whether the operands were comparable at all. Negated operators
 * (NOT_CONTAINS, NOT_IN, ...) are derived from their positive form and are
 * true only when the operands were comparable and the positive form was
 * false. An incomparable pair is false under both forms.
 *
 * Equality is always comparable: values of different kinds are simply not
 * equal, so NOT on mismatched kinds is true.
 *
 * Absence (missing or null received value) is handled by the caller and never
 * reaches this file.
 */

// predicate evaluates one operator. comparable is false when the operator is
// undefined for the operand kinds.
type predicate func(received, filtered any, mode compareMode) (result, comparable bool)

// predicates is the operator table. Initialised once, never mutated.
var predicates = map[Operator]predicate{
	OpEqual: func(r, f any, m compareMode) (bool, bool) { return equal(r, f, m), true },
	OpNot:   func(r, f any, m compareMode) (bool, bool) { return !equal(r, f, m), true },
	OpLt:    ordered(func(c int) bool { return c < 0 }),
	OpLte:   ordered(func(c int) bool { return c <= 0 }),
	OpGt:    ordered(func(c int) bool { return c > 0 }),
	OpGte:   ordered(func(c int) bool { return c >= 0 }),

	OpStartsWith:    stringPredicate(strings.HasPrefix),
	OpNotStartsWith: negate(stringPredicate(strings.HasPrefix)),
	OpEndsWith:      stringPredicate(strings.HasSuffix),
	OpNotEndsWith:   negate(stringPredicate(strings.HasSuffix)),
	OpContains:      stringPredicate(strings.Contains),
	OpNotContains:   negate(stringPredicate(strings.Contains)),

	OpIn:          membership,
	OpNotIn:       negate(membership),
	OpIncludes:    includes,
	OpNotIncludes: negate(includes),
}

// Compare applies op to the received and filtered values of a field whose
// semantic type is t. An empty t compares untyped.
func Compare(op Operator, received, filtered any, t schema.ScalarType) bool {
	p, ok := predicates[op]
	if !ok {
		return false
	}
	result, comparable := p(received, filtered, modeFor(t, received))
	return comparable && result
}

func negate(p predicate) predicate {
	return func(r, f any, m compareMode) (bool, bool) {
		result, comparable := p(r, f, m)
		return !result, comparable
	}
}

func ordered(accept func(int) bool) predicate {
	return func(r, f any, m compareMode) (bool, bool) {
		c, ok := compareOrdered(r, f, m)
		if !ok {
			return false, false
		}
		return accept(c), true
	}
}

func stringPredicate(fn func(s, part string) bool) predicate {
	return func(r, f any, _ compareMode) (bool, bool) {
		rs, ok1 := r.(string)
		fs, ok2 := f.(string)
		if !ok1 || !ok2 {
			return false, false
		}
		return fn(rs, fs), true
	}
}

// membership: received scalar IN filtered list.
func membership(r, f any, m compareMode) (bool, bool) {
	list, ok := asList(f)
	if !ok {
		return false, false
	}
	for _, elem := range list {
		if equal(r, elem, m) {
			return true, true
		}
	}
	return false, true
}

// includes: received list INCLUDES filtered scalar.
func includes(r, f any, m compareMode) (bool, bool) {
	list, ok := asList(r)
	if !ok {
		return false, false
	}
	for _, elem := range list {
		if equal(elem, f, modeForElement(m, elem)) {
			return true, true
		}
	}
	return false, true
}

// modeForElement keeps string IDs inside lists lexical.
func modeForElement(m compareMode, elem any) compareMode {
	if m == modeBigInt {
		if _, isString := elem.(string); isString {
			return modeAuto
		}
	}
	return m
}

// equal compares two values under mode. Lists compare element-wise.
func equal(a, b any, m compareMode) bool {
	if la, ok := asList(a); ok {
		lb, ok := asList(b)
		if !ok || len(la) != len(lb) {
			return false
		}
		for i := range la {
			if !equal(la[i], lb[i], m) {
				return false
			}
		}
		return true
	}
	if _, ok := asList(b); ok {
		return false
	}
	if c, ok := compareOrdered(a, b, m); ok {
		return c == 0
	}
	if ba, ok := a.(bool); ok {
		bb, ok := b.(bool)
		return ok && ba == bb
	}
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return reflect.DeepEqual(a, b)
}

// compareOrdered performs three-way comparison under mode.
// Returns false for incomparable kinds.
func compareOrdered(a, b any, m compareMode) (int, bool) {
	switch m {
	case modeBigInt:
		ai, ok1 := toBigInt(a)
		bi, ok2 := toBigInt(b)
		if ok1 && ok2 {
			return ai.Cmp(bi), true
		}
	case modeFloat:
		af, ok1 := toFloat64(a)
		bf, ok2 := toFloat64(b)
		if ok1 && ok2 {
			return compareFloat(af, bf), true
		}
	}
	return compareAuto(a, b)
}

func compareAuto(a, b any) (int, bool) {
	if ai, ok := exactInteger(a); ok {
		if bi, ok := exactInteger(b); ok {
			return ai.Cmp(bi), true
		}
	}
	af, ok1 := toFloat64(a)
	bf, ok2 := toFloat64(b)
	if ok1 && ok2 {
		return compareFloat(af, bf), true
	}
	as, ok1 := a.(string)
	bs, ok2 := b.(string)
	if ok1 && ok2 {
		return strings.Compare(as, bs), true
	}
	return 0, false
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
