// Package deltablock implements the Delta Block Store (spec.md §4.3): the
// content-addressed unit of commit, chaining parent block pointers into a
// commit DAG and carrying, per object, the revisions a commit introduces.
package deltablock

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/meldadb/melda/adapter"
	"github.com/meldadb/melda/object"
)

// ErrCorruptBlock is returned when a loaded block fails schema validation
// or its computed hash does not match its requested ID (spec.md §4.3, §7).
var ErrCorruptBlock = errors.New("deltablock: corrupt block")

// Change is one revision a commit introduces for one object.
type Change struct {
	Rev     object.RevID   `json:"r"`
	Parents []object.RevID `json:"p"`
	Value   object.Hash    `json:"v"` // nil for a deletion
	Deleted bool           `json:"x"`
}

// Block is the unit of commit: a content-addressed node in the commit DAG.
type Block struct {
	ID      object.Hash
	Parents []object.Hash
	Info    any
	Packs   []object.Hash
	Changes map[string][]Change // object ID -> new revisions
}

// canonicalChange is the wire shape of one Change entry.
type canonicalChange struct {
	Rev     string   `json:"r"`
	Parents []string `json:"p"`
	Value   any      `json:"v"`
	Deleted bool     `json:"x"`
}

// canonicalForm mirrors spec.md §6's literal schema:
// {"p": [...], "i": ..., "d": {object_id: [...]}, "pk": [...]}.
type canonicalForm struct {
	Parents []string                     `json:"p"`
	Info    any                          `json:"i"`
	Changes map[string][]canonicalChange `json:"d"`
	Packs   []string                     `json:"pk"`
}

func toCanonical(parents []object.Hash, info any, packs []object.Hash, changes map[string][]Change) canonicalForm {
	form := canonicalForm{
		Parents: hashesToHex(parents),
		Info:    info,
		Changes: make(map[string][]canonicalChange, len(changes)),
		Packs:   hashesToHex(packs),
	}
	sort.Strings(form.Parents)
	sort.Strings(form.Packs)

	for objectID, objChanges := range changes {
		out := make([]canonicalChange, len(objChanges))
		for i, c := range objChanges {
			var value any
			if c.Value != nil {
				value = c.Value.String()
			}
			parents := make([]string, len(c.Parents))
			for j, p := range c.Parents {
				parents[j] = string(p)
			}
			sort.Strings(parents)
			out[i] = canonicalChange{
				Rev:     string(c.Rev),
				Parents: parents,
				Value:   value,
				Deleted: c.Deleted,
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Rev < out[j].Rev })
		form.Changes[objectID] = out
	}
	return form
}

func hashesToHex(hs []object.Hash) []string {
	out := make([]string, len(hs))
	for i, h := range hs {
		out[i] = h.String()
	}
	return out
}

// Store persists and loads delta blocks through an adapter.Adapter.
type Store struct {
	adapter adapter.Adapter
	cache   map[string]*Block
}

// New returns a Delta Block Store backed by ad.
func New(ad adapter.Adapter) *Store {
	return &Store{adapter: ad, cache: make(map[string]*Block)}
}

// Write serializes a block canonically, computes its content-addressed ID,
// writes it through the adapter, and returns the ID.
func (s *Store) Write(ctx context.Context, parents []object.Hash, info any, packs []object.Hash, changes map[string][]Change) (object.Hash, error) {
	form := toCanonical(parents, info, packs, changes)
	data, err := object.CanonicalJSON(form)
	if err != nil {
		return nil, fmt.Errorf("deltablock: canonicalize: %w", err)
	}
	id := object.Sum(data)
	if err := s.adapter.WriteObject(ctx, adapter.DeltaKey(id.String()), data); err != nil {
		return nil, fmt.Errorf("deltablock: write %s: %w", id, err)
	}

	block := &Block{ID: id, Parents: parents, Info: info, Packs: packs, Changes: changes}
	s.cache[id.String()] = block
	return id, nil
}

// Read loads and validates a block by ID, caching the result. The computed
// hash of the loaded bytes must match blockID, and every change entry must
// pass the schema checks spec.md §4.3 requires; either failure is reported
// as ErrCorruptBlock.
func (s *Store) Read(ctx context.Context, blockID object.Hash) (*Block, error) {
	if block, ok := s.cache[blockID.String()]; ok {
		return block, nil
	}

	data, err := s.adapter.ReadObject(ctx, adapter.DeltaKey(blockID.String()), 0, 0)
	if err != nil {
		return nil, fmt.Errorf("deltablock: read %s: %w", blockID, err)
	}
	if !object.Sum(data).Equal(blockID) {
		return nil, fmt.Errorf("%w: %s: hash mismatch", ErrCorruptBlock, blockID)
	}

	block, err := decode(blockID, data)
	if err != nil {
		return nil, err
	}
	s.cache[blockID.String()] = block
	return block, nil
}

// Has reports whether blockID is already known to the adapter.
func (s *Store) Has(ctx context.Context, blockID object.Hash) (bool, error) {
	if _, ok := s.cache[blockID.String()]; ok {
		return true, nil
	}
	ok, err := s.adapter.HasObject(ctx, adapter.DeltaKey(blockID.String()))
	if err != nil {
		return false, fmt.Errorf("deltablock: has %s: %w", blockID, err)
	}
	return ok, nil
}

// Import validates raw bytes fetched from a foreign adapter (meld's block
// transfer, spec.md §4.7) and, if they hash to blockID and pass schema
// validation, writes them into the local adapter byte-for-byte and caches
// the decoded block.
func (s *Store) Import(ctx context.Context, blockID object.Hash, data []byte) (*Block, error) {
	if !object.Sum(data).Equal(blockID) {
		return nil, fmt.Errorf("%w: %s: hash mismatch", ErrCorruptBlock, blockID)
	}
	block, err := decode(blockID, data)
	if err != nil {
		return nil, err
	}
	if err := s.adapter.WriteObject(ctx, adapter.DeltaKey(blockID.String()), data); err != nil {
		return nil, fmt.Errorf("deltablock: import %s: %w", blockID, err)
	}
	s.cache[blockID.String()] = block
	return block, nil
}

// List enumerates all block IDs known to the adapter.
func (s *Store) List(ctx context.Context) ([]object.Hash, error) {
	keys, err := s.adapter.ListObjects(ctx, adapter.DeltaPrefix)
	if err != nil {
		return nil, fmt.Errorf("deltablock: list: %w", err)
	}
	out := make([]object.Hash, 0, len(keys))
	for _, key := range keys {
		hexID := key[len(adapter.DeltaPrefix):]
		h, err := object.ParseHash(hexID)
		if err != nil {
			return nil, fmt.Errorf("%w: unparseable block key %q", ErrCorruptBlock, key)
		}
		out = append(out, h)
	}
	return out, nil
}
