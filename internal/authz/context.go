// Package authz evaluates subscription authorization: placeholder
// resolution, authorization rules and the gate combining them, and the
// authentication walk over a subscriber's field selection.
package authz

import (
	"github.com/neo4j/graphql-sub030/internal/filter"
)

// Context is the authorization context of one subscriber connection. It is
// built once when the subscription is established and only read afterwards.
type Context struct {
	// JWT holds the verified claims, nil when the caller is unauthenticated.
	JWT map[string]any
	// Claims remaps logical claim paths to their location in JWT, for
	// example "roles" -> "https://example\.com/roles".
	Claims map[string]string
	// Values holds request-scoped values addressed by $context placeholders.
	Values map[string]any
}

// Authenticated reports whether a verified identity is present. Nil-safe.
func (c *Context) Authenticated() bool {
	return c != nil && c.JWT != nil
}

// claimPath applies the remap table to a logical claim path.
func (c *Context) claimPath(path string) string {
	if c == nil {
		return path
	}
	if mapped, ok := c.Claims[path]; ok {
		return mapped
	}
	return path
}

// Claim resolves a claim by logical path.
func (c *Context) Claim(path string) (any, bool) {
	if !c.Authenticated() {
		return nil, false
	}
	return filter.ResolvePath(c.JWT, c.claimPath(path))
}

// Value resolves a request-scoped value by dot path.
func (c *Context) Value(path string) (any, bool) {
	if c == nil || c.Values == nil {
		return nil, false
	}
	return filter.ResolvePath(c.Values, path)
}

// claimSource adapts the claims to filter.Source for jwt predicates.
type claimSource struct {
	ctx *Context
}

func (s claimSource) Get(field string) (any, bool) {
	return s.ctx.Claim(field)
}
