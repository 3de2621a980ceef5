package deltablock

import (
	"encoding/json"
	"fmt"

	"github.com/meldadb/melda/object"
)

// decode parses and validates the canonical bytes of a block already known
// to hash to id.
func decode(id object.Hash, data []byte) (*Block, error) {
	var form canonicalForm
	if err := json.Unmarshal(data, &form); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptBlock, id, err)
	}

	parents, err := parseHashes(form.Parents)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: parent block id: %v", ErrCorruptBlock, id, err)
	}
	packs, err := parseHashes(form.Packs)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: pack id: %v", ErrCorruptBlock, id, err)
	}

	changes := make(map[string][]Change, len(form.Changes))
	for objectID, rawChanges := range form.Changes {
		decoded := make([]Change, 0, len(rawChanges))
		for _, rc := range rawChanges {
			c, err := decodeChange(rc)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: object %s: %v", ErrCorruptBlock, id, objectID, err)
			}
			decoded = append(decoded, c)
		}
		changes[objectID] = decoded
	}

	return &Block{
		ID:      id,
		Parents: parents,
		Info:    form.Info,
		Packs:   packs,
		Changes: changes,
	}, nil
}

func decodeChange(rc canonicalChange) (Change, error) {
	rev := object.RevID(rc.Rev)
	if !rev.Valid() {
		return Change{}, fmt.Errorf("malformed revision id %q", rc.Rev)
	}
	if rev.Gen() < 1 {
		return Change{}, fmt.Errorf("non-positive gen in revision id %q", rc.Rev)
	}

	parents := make([]object.RevID, 0, len(rc.Parents))
	for _, p := range rc.Parents {
		parentRev := object.RevID(p)
		if !parentRev.Valid() {
			return Change{}, fmt.Errorf("malformed parent revision id %q", p)
		}
		parents = append(parents, parentRev)
	}

	var value object.Hash
	switch v := rc.Value.(type) {
	case nil:
		if !rc.Deleted {
			return Change{}, fmt.Errorf("revision %q has a null value but is not marked deleted", rc.Rev)
		}
	case string:
		h, err := object.ParseHash(v)
		if err != nil {
			return Change{}, fmt.Errorf("malformed value hash %q: %w", v, err)
		}
		value = h
	default:
		return Change{}, fmt.Errorf("value hash field is not a string or null")
	}

	return Change{Rev: rev, Parents: parents, Value: value, Deleted: rc.Deleted}, nil
}

func parseHashes(hexes []string) ([]object.Hash, error) {
	out := make([]object.Hash, 0, len(hexes))
	for _, hx := range hexes {
		h, err := object.ParseHash(hx)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}
