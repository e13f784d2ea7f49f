package authz

import (
	"fmt"

	"github.com/neo4j/graphql-sub030/internal/filter"
	"github.com/neo4j/graphql-sub030/internal/schema"
	"github.com/neo4j/graphql-sub030/internal/selection"
	"github.com/neo4j/graphql-sub030/internal/types"
)

/*
 * Authentication selection walk.
 *
 * Every entity and attribute reached by the subscriber's selection is
 * checked against its "must be authenticated" annotation, together with the
 * schema-level annotation. Violations are errors, never filtered results:
 *
 *   no identity                     -> types.ErrUnauthenticated
 *   identity fails the jwt predicate -> types.ErrForbidden
 *
 * The walk covers the entity payload fields (createdMovie, updatedMovie,
 * previousState, deletedMovie, movie) and, for relationship events, the
 * createdRelationship / deletedRelationship payload down to each
 * relationship field's "node", fanned out over union members and interface
 * implementations. "edge" selections are not checked.
 */

// Relationship payload keys of a selection.
const (
	FieldCreatedRelationship = "createdRelationship"
	FieldDeletedRelationship = "deletedRelationship"
	FieldEdge                = "edge"
	FieldNode                = "node"
)

// CheckSelection walks sel for an event of kind delivered to entity.
// A nil selection checks only the schema and entity annotations.
func CheckSelection(model *schema.Model, entity *schema.Entity, kind types.EventKind, sel *selection.ResolveTree, auth *Context) error {
	w := &walker{model: model, auth: auth, op: schema.OpRead}
	if err := w.check(model.Authentication, "schema"); err != nil {
		return err
	}
	if err := w.entity(entity); err != nil {
		return err
	}
	if sel == nil {
		return nil
	}

	payload := make(map[string]bool)
	for _, name := range entity.PayloadFieldNames(kind) {
		payload[name] = true
	}
	for _, f := range sel.Fields() {
		switch {
		case f.Name == selection.TypenameField:
		case payload[f.Name]:
			if err := w.attributes(entity.Attributes, entity.Name, f.Fields()); err != nil {
				return err
			}
		case kind.IsRelationship() && (f.Name == FieldCreatedRelationship || f.Name == FieldDeletedRelationship):
			if err := w.relationships(entity, f); err != nil {
				return err
			}
		}
	}
	return nil
}

// CheckSubscribe checks the annotations guarding subscription to entity.
func CheckSubscribe(model *schema.Model, entity *schema.Entity, auth *Context) error {
	w := &walker{model: model, auth: auth, op: schema.OpSubscribe}
	if err := w.check(model.Authentication, "schema"); err != nil {
		return err
	}
	return w.entity(entity)
}

type walker struct {
	model *schema.Model
	auth  *Context
	op    schema.Operation
}

func (w *walker) entity(e *schema.Entity) error {
	return w.check(e.Authentication, e.Name)
}

func (w *walker) attributes(attrs schema.Attributes, owner string, fields []*selection.ResolveTree) error {
	for _, f := range fields {
		if f.Name == selection.TypenameField {
			continue
		}
		attr := attrs.Lookup(f.Name)
		if attr == nil {
			continue
		}
		if err := w.check(attr.Authentication, owner+"."+f.Name); err != nil {
			return err
		}
	}
	return nil
}

// relationships walks createdRelationship / deletedRelationship.
func (w *walker) relationships(entity *schema.Entity, payload *selection.ResolveTree) error {
	for _, field := range payload.Fields() {
		rel, ok := entity.Relationships[field.Name]
		if !ok {
			continue
		}
		for _, sub := range field.Fields() {
			if sub.Name != FieldNode {
				// edge and __typename are exempt.
				continue
			}
			if err := w.node(rel, sub); err != nil {
				return err
			}
		}
	}
	return nil
}

// node checks the connected node selection. Fields selected on an abstract
// type apply to each of its concrete entities.
func (w *walker) node(rel *schema.Relationship, node *selection.ResolveTree) error {
	for _, typename := range node.Typenames() {
		fields := node.FieldsOn(typename)
		if iface, ok := w.model.Interfaces[typename]; ok {
			if err := w.check(iface.Authentication, iface.Name); err != nil {
				return err
			}
			if err := w.attributes(iface.Attributes, iface.Name, fields); err != nil {
				return err
			}
		}
		for _, e := range w.model.ConcreteEntities(typename) {
			if !rel.HasMember(e.Name) {
				continue
			}
			if err := w.entity(e); err != nil {
				return err
			}
			if err := w.attributes(e.Attributes, e.Name, fields); err != nil {
				return err
			}
		}
	}
	return nil
}

// check enforces one annotation.
func (w *walker) check(a *schema.Authentication, target string) error {
	if !a.Applies(w.op) {
		return nil
	}
	if !w.auth.Authenticated() {
		return fmt.Errorf("%s on %s: %w", w.op, target, types.ErrUnauthenticated)
	}
	if len(a.JWT) == 0 {
		return nil
	}
	ok, err := filter.MatchSource(ResolveWhere(a.JWT, w.auth), claimSource{ctx: w.auth}, w.model.JWT)
	if err != nil {
		return fmt.Errorf("%s on %s: %w", w.op, target, err)
	}
	if !ok {
		return fmt.Errorf("%s on %s: %w", w.op, target, types.ErrForbidden)
	}
	return nil
}
