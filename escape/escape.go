// Package escape implements the reversible key transform that makes
// arbitrary map keys safe for document datastores which reject literal
// dots and dollar signs in field names.
package escape

import "strings"

// Key escapes a single map key. The percent marker is encoded first so
// that marker sequences produced by the dot and dollar replacements can
// never be confused with ones present in the original key.
func Key(s string) string {
	s = strings.ReplaceAll(s, "%", "%25")
	s = strings.ReplaceAll(s, ".", "%2E")
	s = strings.ReplaceAll(s, "$", "%24")
	return s
}

// Unkey reverses Key. The percent marker is decoded last: a literal
// "%2E" in the original key arrives here as "%252E", and decoding the
// marker any earlier would turn it into a dot instead of the original
// text.
func Unkey(s string) string {
	s = strings.ReplaceAll(s, "%2E", ".")
	s = strings.ReplaceAll(s, "%24", "$")
	s = strings.ReplaceAll(s, "%25", "%")
	return s
}

// Escape walks a JSON-shaped value and escapes every map key at every
// depth. Values are never altered and slices are walked element-wise;
// anything that is not a map or a slice comes back untouched.
func Escape(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, inner := range t {
			out[Key(k)] = Escape(inner)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, inner := range t {
			out[i] = Escape(inner)
		}
		return out
	default:
		return v
	}
}

// Unescape is the exact inverse of Escape.
func Unescape(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, inner := range t {
			out[Unkey(k)] = Unescape(inner)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, inner := range t {
			out[i] = Unescape(inner)
		}
		return out
	default:
		return v
	}
}
