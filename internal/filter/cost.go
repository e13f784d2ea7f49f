// internal/filter/cost.go
package filter

import "github.com/neo4j/graphql-sub030/internal/schema"

/*
 * Cost model for where-expression evaluation.
 *
 * Every registered subscriber's where runs once per routed event, so the
 * registration path bounds the estimated cost of a where expression.
 *
 * Cost formula per field key: lookup + operator_cost * type_multiplier
 * For IN / INCLUDES the operand length is added, one unit per element.
 * Combinators add nothing themselves; their children are summed.
 *
 * Integer-typed fields carry the highest multiplier because comparison goes
 * through math/big. Untyped fields cost as much as strings.
 */

// Canonical cost constants.
const (
	CostEqual    = 5
	CostOrdered  = 7
	CostIn       = 8
	CostString   = 10
	CostIncludes = 10

	// Field lookup cost per key.
	CostLookup = 16

	MultiplierBool    = 1
	MultiplierFloat   = 2
	MultiplierString  = 4
	MultiplierInteger = 6
	MultiplierAny     = 4

	// DefaultMaxCost admits a few hundred simple predicates.
	DefaultMaxCost = 20000
)

// ConditionCost computes the cost of a single field key.
func ConditionCost(op Operator, t schema.ScalarType, operandLen int) int {
	cost := CostLookup + operatorCost(op)*typeMultiplier(t)
	switch op {
	case OpIn, OpNotIn, OpIncludes, OpNotIncludes:
		cost += operandLen
	}
	return cost
}

func operatorCost(op Operator) int {
	switch op {
	case OpEqual, OpNot:
		return CostEqual
	case OpLt, OpLte, OpGt, OpGte:
		return CostOrdered
	case OpIn, OpNotIn:
		return CostIn
	case OpStartsWith, OpNotStartsWith, OpEndsWith, OpNotEndsWith, OpContains, OpNotContains:
		return CostString
	case OpIncludes, OpNotIncludes:
		return CostIncludes
	default:
		return CostEqual
	}
}

func typeMultiplier(t schema.ScalarType) int {
	switch t {
	case schema.TypeBoolean:
		return MultiplierBool
	case schema.TypeFloat:
		return MultiplierFloat
	case schema.TypeInt, schema.TypeBigInt, schema.TypeID:
		return MultiplierInteger
	case schema.TypeString, schema.TypeDateTime, schema.TypeDate, schema.TypeTime,
		schema.TypeDuration, schema.TypeLocalTime:
		return MultiplierString
	default:
		return MultiplierAny
	}
}
