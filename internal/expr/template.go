package expr

import (
	"fmt"
	"strings"
)

// Substitute replaces every `${path}` occurrence inside x with its
// resolved value against ctx (spec.md §4.13). Strings, maps, and slices
// recurse; other types pass through unchanged. A string consisting of
// exactly one placeholder (`"${a.b}"`) is replaced with the resolved
// value itself (preserving type); a placeholder embedded in a larger
// string is stringified.
func Substitute(x any, ctx Context) any {
	switch v := x.(type) {
	case string:
		return substituteString(v, ctx)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[k] = Substitute(val, ctx)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			out[i] = Substitute(val, ctx)
		}
		return out
	default:
		return x
	}
}

func substituteString(s string, ctx Context) any {
	if path, ok := wholeStringPlaceholder(s); ok {
		return resolvePath(ctx, path)
	}
	var b strings.Builder
	i := 0
	for i < len(s) {
		if s[i] == '$' && i+1 < len(s) && s[i+1] == '{' {
			end := strings.IndexByte(s[i+2:], '}')
			if end >= 0 {
				path := s[i+2 : i+2+end]
				val := resolvePath(ctx, path)
				fmt.Fprintf(&b, "%v", val)
				i = i + 2 + end + 1
				continue
			}
		}
		b.WriteByte(s[i])
		i++
	}
	return b.String()
}

// wholeStringPlaceholder reports whether s is exactly one `${path}` with
// no surrounding text, returning the inner path.
func wholeStringPlaceholder(s string) (string, bool) {
	if !strings.HasPrefix(s, "${") || !strings.HasSuffix(s, "}") {
		return "", false
	}
	inner := s[2 : len(s)-1]
	if strings.ContainsAny(inner, "${}") {
		return "", false
	}
	return inner, true
}
