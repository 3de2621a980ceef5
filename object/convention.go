package object

import "strings"

// RootID is the reserved identifier of the top-level object of every
// document (spec.md §3, §6).
const RootID = "√"

// IDField is the reserved key carrying a JSON object's identifier.
const IDField = "_id"

const (
	flattenSuffix = "♭"
	deltaPrefix   = "Δ"
)

// ParseFieldKey decodes a document key's reserved naming conventions
// (spec.md §4.5): a "♭" suffix marks a flattened array of sub-objects, a
// "Δ" prefix (only meaningful combined with "♭") marks a delta-encoded
// array. base is the field name with both markers stripped.
func ParseFieldKey(key string) (base string, flatten, delta bool) {
	rest := key
	if strings.HasPrefix(rest, deltaPrefix) {
		delta = true
		rest = strings.TrimPrefix(rest, deltaPrefix)
	}
	if strings.HasSuffix(rest, flattenSuffix) {
		flatten = true
		rest = strings.TrimSuffix(rest, flattenSuffix)
	}
	if !flatten {
		// Δ only has meaning on a flattened array; a bare "Δname" with no
		// "♭" suffix is just a literal field name.
		return key, false, false
	}
	return rest, flatten, delta
}

// BuildFieldKey re-applies the reserved naming conventions to a base field
// name, the inverse of ParseFieldKey for flatten/delta fields.
func BuildFieldKey(base string, flatten, delta bool) string {
	if !flatten {
		return base
	}
	key := base + flattenSuffix
	if delta {
		key = deltaPrefix + key
	}
	return key
}
