// internal/filter/fieldpath.go
package filter

import (
	"strconv"
	"strings"

	"github.com/neo4j/graphql-sub030/internal/types"
)

/*
 * Dot-path resolution for claims and request context.
 *
 * Resolves paths such as "roles", "org.id" or "groups.0.name" through nested
 * maps and lists. A literal dot inside a key is written "\." so claim names
 * that are URLs ("https://example\.com/roles") stay addressable.
 *
 * Resolution stops at the first missing key, out-of-range index or scalar
 * with path remaining, and reports not found.
 */

// ParsePath splits a dot path into segments, honouring "\." escapes.
func ParsePath(path string) []string {
	if path == "" {
		return nil
	}
	var (
		segments []string
		current  strings.Builder
	)
	for i := 0; i < len(path); i++ {
		c := path[i]
		switch {
		case c == '\\' && i+1 < len(path) && path[i+1] == '.':
			current.WriteByte('.')
			i++
		case c == '.':
			segments = append(segments, current.String())
			current.Reset()
		default:
			current.WriteByte(c)
		}
	}
	return append(segments, current.String())
}

// ResolvePath walks root along path. Empty path resolves to root itself.
func ResolvePath(root any, path string) (any, bool) {
	return resolveSegments(root, ParsePath(path))
}

func resolveSegments(current any, path []string) (any, bool) {
	if len(path) == 0 {
		return current, current != nil
	}
	seg, remaining := path[0], path[1:]

	if m, ok := types.AsWhere(current); ok {
		val, ok := m[seg]
		if !ok {
			return nil, false
		}
		return resolveSegments(val, remaining)
	}
	switch v := current.(type) {
	case map[string]string:
		val, ok := v[seg]
		if !ok {
			return nil, false
		}
		return resolveSegments(val, remaining)
	default:
		list, ok := asList(current)
		if !ok {
			// Scalar or nil with path remaining.
			return nil, false
		}
		idx, err := strconv.Atoi(seg)
		if err != nil || idx < 0 || idx >= len(list) {
			return nil, false
		}
		return resolveSegments(list[idx], remaining)
	}
}
