package authz

import (
	"strings"

	"github.com/neo4j/graphql-sub030/internal/types"
)

/*
 * Where-parameter resolution.
 *
 * Runs before evaluation and produces a where tree free of placeholders:
 *
 *   "$jwt.<path>"      claim at <path>, remap table first, nil when missing
 *   "$context.<path>"  request value at <path>, "" when missing
 *
 * A bare "$jwt" or "$context" resolves to the whole claim set or value map.
 *
 * Lists resolve element-wise and objects field-wise; every other value,
 * including null, passes through unchanged. The input tree is not modified.
 *
 * The two placeholders differ on a miss. A missing claim becomes nil, which
 * no predicate matches; a missing context value becomes "", which an
 * equality predicate against an empty string still matches.
 */

// Placeholder prefixes.
const (
	JWTPrefix     = "$jwt"
	ContextPrefix = "$context"
)

// ResolveWhere returns a copy of w with every placeholder replaced.
func ResolveWhere(w types.Where, ctx *Context) types.Where {
	if w == nil {
		return nil
	}
	out := make(types.Where, len(w))
	for k, v := range w {
		out[k] = resolveValue(v, ctx)
	}
	return out
}

func resolveValue(v any, ctx *Context) any {
	switch val := v.(type) {
	case string:
		return resolvePlaceholder(val, ctx)
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = resolveValue(elem, ctx)
		}
		return out
	case []string:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = resolvePlaceholder(elem, ctx)
		}
		return out
	}
	if m, ok := types.AsWhere(v); ok {
		return map[string]any(ResolveWhere(m, ctx))
	}
	return v
}

func resolvePlaceholder(s string, ctx *Context) any {
	if path, ok := placeholderPath(s, JWTPrefix); ok {
		if path == "" {
			if !ctx.Authenticated() {
				return nil
			}
			return ctx.JWT
		}
		v, ok := ctx.Claim(path)
		if !ok {
			return nil
		}
		return v
	}
	if path, ok := placeholderPath(s, ContextPrefix); ok {
		if path == "" {
			if ctx == nil || ctx.Values == nil {
				return ""
			}
			return ctx.Values
		}
		v, ok := ctx.Value(path)
		if !ok {
			return ""
		}
		return v
	}
	return s
}

// placeholderPath strips prefix and the following dot. The prefix must end
// the string or be followed by a dot, so "$jwtsub" is a literal.
func placeholderPath(s, prefix string) (string, bool) {
	rest, ok := strings.CutPrefix(s, prefix)
	if !ok {
		return "", false
	}
	if rest == "" {
		return "", true
	}
	if rest[0] != '.' {
		return "", false
	}
	return rest[1:], true
}
