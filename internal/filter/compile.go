// internal/filter/compile.go
package filter

import (
	"fmt"

	"github.com/neo4j/graphql-sub030/internal/schema"
	"github.com/neo4j/graphql-sub030/internal/types"
)

/*
 * Where-expression validation.
 *
 * Subscriber filters are validated once at registration so that shape errors
 * surface to the caller instead of silently filtering every event.
 *
 * Validation workflow:
 *   1. Enforce depth through combinators and nested sub-trees
 *   2. Check combinator operand shapes (list for AND/OR, object for NOT)
 *   3. Check field keys against declared attributes, when any are known
 *   4. Enforce IN / NOT_IN operand limits
 *   5. Sum condition costs against the cost limit
 *
 * Fields on untyped bags (attributes unknown) accept any name.
 */

// Limits bounds caller-supplied where expressions.
type Limits struct {
	MaxDepth    int
	MaxInValues int
	MaxCost     int
}

// DefaultLimits returns the package limits.
func DefaultLimits() Limits {
	return Limits{
		MaxDepth:    types.MaxWhereDepth,
		MaxInValues: types.MaxInOperatorValues,
		MaxCost:     DefaultMaxCost,
	}
}

// Report summarises a validated where expression.
type Report struct {
	Conditions int
	Cost       int
}

type validator struct {
	limits Limits
	report Report
}

// ValidateNodeWhere checks a node-event where against the entity's attributes.
func ValidateNodeWhere(where types.Where, attributes schema.Attributes, limits Limits) (Report, error) {
	v := &validator{limits: limits}
	if err := v.properties(where, attributes, 0); err != nil {
		return Report{}, err
	}
	return v.finish()
}

// ValidateRelationshipWhere checks a relationship-event where for entity.
func ValidateRelationshipWhere(where types.Where, entity *schema.Entity, model *schema.Model, limits Limits) (Report, error) {
	v := &validator{limits: limits}
	err := v.walk(where, 0, func(key string, operand any, depth int) error {
		switch key {
		case entity.WhereKey():
			return v.nested(key, operand, depth, func(w types.Where) error {
				return v.properties(w, entity.Attributes, depth+1)
			})
		case KeyCreatedRelationship, KeyDeletedRelationship:
			return v.nested(key, operand, depth, func(w types.Where) error {
				return v.walk(w, depth+1, func(field string, sub any, d int) error {
					return v.relationshipField(entity, model, field, sub, d)
				})
			})
		default:
			return v.relationshipField(entity, model, key, operand, depth)
		}
	})
	if err != nil {
		return Report{}, err
	}
	return v.finish()
}

func (v *validator) finish() (Report, error) {
	if v.limits.MaxCost > 0 && v.report.Cost > v.limits.MaxCost {
		return Report{}, fmt.Errorf("%w: cost %d, limit %d", types.ErrWhereTooCostly, v.report.Cost, v.limits.MaxCost)
	}
	return v.report, nil
}

// walk visits every non-combinator key, descending through combinators.
func (v *validator) walk(where types.Where, depth int, leaf func(key string, operand any, depth int) error) error {
	if v.limits.MaxDepth > 0 && depth > v.limits.MaxDepth {
		return types.ErrWhereTooDeep
	}
	for _, key := range where.Keys() {
		operand := where[key]
		if !IsCombinator(key) {
			if err := leaf(key, operand, depth); err != nil {
				return err
			}
			continue
		}
		children, err := combinatorChildren(Combinator(key), operand)
		if err != nil {
			return err
		}
		for _, child := range children {
			if err := v.walk(child, depth+1, leaf); err != nil {
				return err
			}
		}
	}
	return nil
}

func (v *validator) nested(key string, operand any, depth int, fn func(types.Where) error) error {
	if v.limits.MaxDepth > 0 && depth+1 > v.limits.MaxDepth {
		return types.ErrWhereTooDeep
	}
	w, err := whereOperand(key, operand)
	if err != nil {
		return err
	}
	return fn(w)
}

// properties validates a flat property filter.
func (v *validator) properties(where types.Where, attributes schema.Attributes, depth int) error {
	return v.walk(where, depth, func(key string, operand any, _ int) error {
		k := ParseKey(key)
		var t schema.ScalarType
		if attributes != nil {
			attr := attributes.Lookup(k.Field)
			if attr == nil {
				return fmt.Errorf("%w: unknown field %q", types.ErrMalformedWhere, k.Field)
			}
			t = attr.Type
		}
		n := 0
		if k.Operator == OpIn || k.Operator == OpNotIn {
			list, ok := asList(operand)
			if !ok {
				return fmt.Errorf("%w: %s expects a list, got %T", types.ErrMalformedWhere, key, operand)
			}
			if v.limits.MaxInValues > 0 && len(list) > v.limits.MaxInValues {
				return fmt.Errorf("%w: %s has %d values", types.ErrTooManyInValues, key, len(list))
			}
			n = len(list)
		}
		if k.Operator == OpIncludes || k.Operator == OpNotIncludes {
			if list, ok := asList(operand); ok {
				n = len(list)
			}
		}
		v.report.Conditions++
		v.report.Cost += ConditionCost(k.Operator, t, n)
		return nil
	})
}

// relationshipField validates the sub-tree of one relationship field.
func (v *validator) relationshipField(entity *schema.Entity, model *schema.Model, field string, operand any, depth int) error {
	rel, ok := entity.Relationships[field]
	if !ok {
		return fmt.Errorf("%w: %s has no relationship field %q", types.ErrMalformedWhere, entity.Name, field)
	}
	if operand == nil {
		return nil
	}
	return v.nested(field, operand, depth, func(sub types.Where) error {
		if rel.Shape != schema.ShapeUnion {
			return v.edgeOrNode(model, rel, "", sub, depth+1)
		}
		return v.walk(sub, depth+1, func(key string, member any, d int) error {
			if key == KeyEdge {
				return v.edge(model, rel, member, d)
			}
			if !rel.HasMember(key) {
				return fmt.Errorf("%w: %q is not a member of %s", types.ErrMalformedWhere, key, rel.Target)
			}
			return v.nested(key, member, d, func(w types.Where) error {
				return v.edgeOrNode(model, rel, key, w, d+1)
			})
		})
	})
}

// edgeOrNode validates {edge, node}. member is set for union targets.
func (v *validator) edgeOrNode(model *schema.Model, rel *schema.Relationship, member string, where types.Where, depth int) error {
	return v.walk(where, depth, func(key string, operand any, d int) error {
		switch key {
		case KeyEdge:
			return v.edge(model, rel, operand, d)
		case KeyNode:
			return v.nested(key, operand, d, func(w types.Where) error {
				return v.node(model, rel, member, w, d+1)
			})
		default:
			return fmt.Errorf("%w: unexpected key %q under %s", types.ErrMalformedWhere, key, rel.FieldName)
		}
	})
}

func (v *validator) edge(model *schema.Model, rel *schema.Relationship, operand any, depth int) error {
	return v.nested(KeyEdge, operand, depth, func(w types.Where) error {
		return v.properties(w, model.EdgeAttributes(rel.PropertiesType), depth+1)
	})
}

func (v *validator) node(model *schema.Model, rel *schema.Relationship, member string, where types.Where, depth int) error {
	switch rel.Shape {
	case schema.ShapeUnion:
		return v.properties(where, entityAttributes(model, member), depth)
	case schema.ShapeInterface:
		var common schema.Attributes
		if iface, ok := model.Interfaces[rel.Target]; ok {
			common = iface.Attributes
		}
		rest := make(types.Where, len(where))
		for k, val := range where {
			if k != KeyOn {
				rest[k] = val
			}
		}
		if err := v.properties(rest, common, depth); err != nil {
			return err
		}
		raw, ok := where[KeyOn]
		if !ok {
			return nil
		}
		return v.nested(KeyOn, raw, depth, func(on types.Where) error {
			for _, impl := range on.Keys() {
				if !rel.HasMember(impl) {
					return fmt.Errorf("%w: %q does not implement %s", types.ErrMalformedWhere, impl, rel.Target)
				}
				implWhere, err := whereOperand(impl, on[impl])
				if err != nil {
					return err
				}
				if err := v.properties(implWhere, entityAttributes(model, impl), depth+2); err != nil {
					return err
				}
			}
			return nil
		})
	default:
		return v.properties(where, entityAttributes(model, rel.Target), depth)
	}
}

func entityAttributes(model *schema.Model, name string) schema.Attributes {
	if e, ok := model.Entities[name]; ok {
		return e.Attributes
	}
	return nil
}
