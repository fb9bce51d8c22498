// Package envtemplate implements the `${VAR}` / `${VAR:-default}`
// expansion shared by the subprocess primitive (C2), the HTTP primitives
// (C3/C4) and the env resolver (C7).
package envtemplate

import "strings"

// Expand replaces `${VAR}` and `${VAR:-default}` occurrences in s using
// lookup. A missing VAR with no default expands to the empty string,
// matching shell semantics.
func Expand(s string, lookup func(string) (string, bool)) string {
	var b strings.Builder
	i := 0
	for i < len(s) {
		start := strings.Index(s[i:], "${")
		if start < 0 {
			b.WriteString(s[i:])
			break
		}
		start += i
		b.WriteString(s[i:start])

		end := matchingBrace(s, start+2)
		if end < 0 {
			// Unterminated; emit the rest verbatim.
			b.WriteString(s[start:])
			break
		}
		expr := s[start+2 : end]
		b.WriteString(resolveExpr(expr, lookup))
		i = end + 1
	}
	return b.String()
}

// matchingBrace returns the index of the "}" that closes the "${" whose
// contents start at from, or -1 if unterminated.
func matchingBrace(s string, from int) int {
	depth := 1
	for i := from; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func resolveExpr(expr string, lookup func(string) (string, bool)) string {
	name := expr
	defaultVal := ""
	hasDefault := false
	if idx := strings.Index(expr, ":-"); idx >= 0 {
		name = expr[:idx]
		defaultVal = expr[idx+2:]
		hasDefault = true
	}
	if v, ok := lookup(name); ok && v != "" {
		return v
	}
	if hasDefault {
		return Expand(defaultVal, lookup)
	}
	if v, ok := lookup(name); ok {
		return v
	}
	return ""
}

// MapLookup adapts a map[string]string into the lookup signature Expand
// expects.
func MapLookup(env map[string]string) func(string) (string, bool) {
	return func(name string) (string, bool) {
		v, ok := env[name]
		return v, ok
	}
}
