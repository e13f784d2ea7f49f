package filter

import "sort"

/*
 * Filter-key parsing.
 *
 * A field key is <fieldName>[_<OPERATOR>]. The parser takes the shortest
 * field-name prefix whose remaining suffix is a whole operator from the
 * vocabulary, so "name_NOT_CONTAINS" yields {name, NOT_CONTAINS} and
 * "first_name_IN" yields {first_name, IN}.
 *
 * Negated operators are single vocabulary entries. NOT_CONTAINS is never
 * parsed as NOT applied to CONTAINS: the combined form keeps "incomparable"
 * operands false instead of flipping them to true.
 */

// Operator is a comparison operator. OpEqual is the implicit operator of a
// key without suffix.
type Operator string

const (
	OpEqual         Operator = ""
	OpNot           Operator = "NOT"
	OpLt            Operator = "LT"
	OpLte           Operator = "LTE"
	OpGt            Operator = "GT"
	OpGte           Operator = "GTE"
	OpStartsWith    Operator = "STARTS_WITH"
	OpNotStartsWith Operator = "NOT_STARTS_WITH"
	OpEndsWith      Operator = "ENDS_WITH"
	OpNotEndsWith   Operator = "NOT_ENDS_WITH"
	OpContains      Operator = "CONTAINS"
	OpNotContains   Operator = "NOT_CONTAINS"
	OpIncludes      Operator = "INCLUDES"
	OpNotIncludes   Operator = "NOT_INCLUDES"
	OpIn            Operator = "IN"
	OpNotIn         Operator = "NOT_IN"
)

// vocabulary is the set of recognised suffixes.
var vocabulary = map[string]Operator{
	string(OpNot):           OpNot,
	string(OpLt):            OpLt,
	string(OpLte):           OpLte,
	string(OpGt):            OpGt,
	string(OpGte):           OpGte,
	string(OpStartsWith):    OpStartsWith,
	string(OpNotStartsWith): OpNotStartsWith,
	string(OpEndsWith):      OpEndsWith,
	string(OpNotEndsWith):   OpNotEndsWith,
	string(OpContains):      OpContains,
	string(OpNotContains):   OpNotContains,
	string(OpIncludes):      OpIncludes,
	string(OpNotIncludes):   OpNotIncludes,
	string(OpIn):            OpIn,
	string(OpNotIn):         OpNotIn,
}

// Key is a parsed field key.
type Key struct {
	Field    string
	Operator Operator
}

// ParseKey splits key into field name and operator.
func ParseKey(key string) Key {
	// i starts at 1: the field name is never empty.
	for i := 1; i < len(key)-1; i++ {
		if key[i] != '_' {
			continue
		}
		if op, ok := vocabulary[key[i+1:]]; ok {
			return Key{Field: key[:i], Operator: op}
		}
	}
	return Key{Field: key, Operator: OpEqual}
}

// Operators returns the operator vocabulary in sorted order.
func Operators() []Operator {
	ops := make([]Operator, 0, len(vocabulary))
	for _, op := range vocabulary {
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i] < ops[j] })
	return ops
}
