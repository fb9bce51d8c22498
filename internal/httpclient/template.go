package httpclient

import "fmt"

// TemplateBody recursively templates a body value against params: dicts
// and lists recurse, strings are formatted with "%v"-style named
// substitution using Go's fmt verb replacement of "{name}" placeholders
// (spec.md §4.3's Python-style str.format(**params), adapted to Go).
func TemplateBody(body any, params map[string]any) any {
	switch v := body.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[k] = TemplateBody(val, params)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			out[i] = TemplateBody(val, params)
		}
		return out
	case string:
		return formatString(v, params)
	default:
		return v
	}
}

// formatString replaces "{name}" placeholders with params[name],
// leaving unrecognized placeholders untouched.
func formatString(s string, params map[string]any) string {
	out := make([]byte, 0, len(s))
	i := 0
	for i < len(s) {
		if s[i] == '{' {
			end := -1
			for j := i + 1; j < len(s); j++ {
				if s[j] == '}' {
					end = j
					break
				}
			}
			if end > i {
				name := s[i+1 : end]
				if val, ok := params[name]; ok {
					out = append(out, []byte(fmt.Sprintf("%v", val))...)
					i = end + 1
					continue
				}
			}
		}
		out = append(out, s[i])
		i++
	}
	return string(out)
}
