package diffscript

import "fmt"

// Patch is the wire form of a delta-array field's stored value: a base
// length and the edit script relative to that base (spec.md §4.5).
type Patch struct {
	Base int  `json:"base"`
	Ops  []Op `json:"ops"`
}

// ToAny converts a Patch into a plain JSON-shaped value suitable for
// object.CanonicalJSON / pack.Store.Put.
func (p Patch) ToAny() any {
	ops := make([]any, len(p.Ops))
	for i, op := range p.Ops {
		ids := make([]any, len(op.IDs))
		for j, id := range op.IDs {
			ids[j] = id
		}
		ops[i] = map[string]any{"op": op.Kind, "at": op.At, "ids": ids}
	}
	return map[string]any{"base": p.Base, "ops": ops}
}

// DecodePatch reconstructs a Patch from the generic any produced by
// unmarshaling a canonical JSON value (map[string]any with float64 numbers
// and []any slices).
func DecodePatch(raw any) (Patch, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return Patch{}, fmt.Errorf("diffscript: patch value is not an object")
	}
	baseF, ok := m["base"].(float64)
	if !ok {
		return Patch{}, fmt.Errorf("diffscript: patch missing numeric base")
	}
	rawOps, ok := m["ops"].([]any)
	if !ok {
		return Patch{}, fmt.Errorf("diffscript: patch missing ops list")
	}

	ops := make([]Op, 0, len(rawOps))
	for _, ro := range rawOps {
		om, ok := ro.(map[string]any)
		if !ok {
			return Patch{}, fmt.Errorf("diffscript: patch op is not an object")
		}
		kind, _ := om["op"].(string)
		atF, _ := om["at"].(float64)
		rawIDs, _ := om["ids"].([]any)
		ids := make([]string, 0, len(rawIDs))
		for _, id := range rawIDs {
			s, ok := id.(string)
			if !ok {
				return Patch{}, fmt.Errorf("diffscript: patch op id is not a string")
			}
			ids = append(ids, s)
		}
		if kind != opInsert && kind != opDelete {
			return Patch{}, fmt.Errorf("diffscript: unknown patch op %q", kind)
		}
		ops = append(ops, Op{Kind: kind, At: int(atF), IDs: ids})
	}
	return Patch{Base: int(baseF), Ops: ops}, nil
}
