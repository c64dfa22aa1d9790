package mcp

import (
	"strings"
	"unicode"
)

// SnakeToCamel converts a snake_case identifier to camelCase. A leading
// underscore (as in _meta) is preserved.
func SnakeToCamel(s string) string {
	if strings.HasPrefix(s, "_") {
		return "_" + SnakeToCamel(s[1:])
	}
	parts := strings.Split(s, "_")
	var b strings.Builder
	b.WriteString(parts[0])
	for _, p := range parts[1:] {
		if p == "" {
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	return b.String()
}

// CamelToSnake converts a camelCase identifier to snake_case. A leading
// underscore is preserved.
func CamelToSnake(s string) string {
	if strings.HasPrefix(s, "_") {
		return "_" + CamelToSnake(s[1:])
	}
	var b strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// KeysToCamel recursively converts all map keys from snake_case to
// camelCase. Keys whose value is nil are dropped, matching the wire
// convention of omitting nulls.
func KeysToCamel(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			if item == nil {
				continue
			}
			out[SnakeToCamel(k)] = KeysToCamel(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = KeysToCamel(item)
		}
		return out
	default:
		return v
	}
}

// KeysToSnake recursively converts all map keys from camelCase to
// snake_case. Values are preserved as-is apart from recursion.
func KeysToSnake(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[CamelToSnake(k)] = KeysToSnake(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = KeysToSnake(item)
		}
		return out
	default:
		return v
	}
}
