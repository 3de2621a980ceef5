// Package pack implements the Data Pack Store (spec.md §4.2): a
// content-addressed, append-only value store sealed into immutable packs.
package pack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/meldadb/melda/adapter"
	"github.com/meldadb/melda/object"
)

// ErrValueNotFound is returned by Get when the hash is unknown locally.
var ErrValueNotFound = errors.New("pack: value not found")

// Store is the Data Pack Store for one replica. It is not internally
// locked; per spec.md §9, exclusive access is the caller's responsibility.
type Store struct {
	adapter adapter.Adapter
	cache   *lru.Cache[string, any]

	// pending holds values Put since the last SealPending, keyed by hash
	// hex, together with their insertion order.
	pendingOrder []string
	pendingRaw   map[string][]byte

	// index maps a value hash hex to the sealed pack that holds it.
	index map[string]sealedLocation
}

type sealedLocation struct {
	packID string
	location
}

// New returns a Data Pack Store backed by adapter, with a value cache
// bounded to cacheSize entries (spec.md §5, default ~1024).
func New(ad adapter.Adapter, cacheSize int) (*Store, error) {
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	cache, err := lru.New[string, any](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("pack: new cache: %w", err)
	}
	return &Store{
		adapter:    ad,
		cache:      cache,
		pendingRaw: make(map[string][]byte),
		index:      make(map[string]sealedLocation),
	}, nil
}

// Put stores value, returning its content hash. Idempotent: if the hash is
// already known (pending or sealed), no duplicate storage occurs. The
// cached and later-retrieved form of value is always its round-tripped
// JSON shape (map[string]any/[]any/string/float64/bool/nil), matching what
// Get returns for a value loaded from a pack, regardless of whether value
// itself used narrower Go types (e.g. int) before storage.
func (s *Store) Put(value any) (object.Hash, error) {
	data, err := object.CanonicalJSON(value)
	if err != nil {
		return nil, err
	}
	hash := object.Sum(data)
	key := hash.String()

	if _, ok := s.pendingRaw[key]; ok {
		return hash, nil
	}
	if _, ok := s.index[key]; ok {
		return hash, nil
	}

	var canonicalValue any
	if err := json.Unmarshal(data, &canonicalValue); err != nil {
		return nil, fmt.Errorf("pack: decode canonicalized value: %w", err)
	}

	s.pendingRaw[key] = data
	s.pendingOrder = append(s.pendingOrder, key)
	s.cache.Add(key, canonicalValue)
	return hash, nil
}

// HasPending reports whether any value has been Put since the last
// SealPending.
func (s *Store) HasPending() bool {
	return len(s.pendingOrder) > 0
}

// SealPending finalizes the open pack buffer and persists it via the
// adapter, returning its pack ID. Returns a nil hash if nothing was
// appended since the last seal (spec.md §4.2).
func (s *Store) SealPending(ctx context.Context) (object.Hash, error) {
	if len(s.pendingOrder) == 0 {
		return nil, nil
	}
	body, locations, err := buildBody(s.pendingOrder, s.pendingRaw)
	if err != nil {
		return nil, err
	}
	packID := object.Sum(body)
	if err := s.adapter.WriteObject(ctx, adapter.PackKey(packID.String()), body); err != nil {
		return nil, fmt.Errorf("pack: write pack %s: %w", packID, err)
	}

	for hash, loc := range locations {
		s.index[hash] = sealedLocation{packID: packID.String(), location: loc}
	}
	s.pendingOrder = nil
	s.pendingRaw = make(map[string][]byte)
	return packID, nil
}

// Get resolves a value by its content hash, consulting the value cache,
// then pending writes, then the sealed-pack index, demand-loading the pack
// through the adapter on a miss.
func (s *Store) Get(ctx context.Context, hash object.Hash) (any, error) {
	key := hash.String()

	if value, ok := s.cache.Get(key); ok {
		return value, nil
	}
	if data, ok := s.pendingRaw[key]; ok {
		var value any
		if err := json.Unmarshal(data, &value); err != nil {
			return nil, fmt.Errorf("pack: decode pending value %s: %w", key, err)
		}
		s.cache.Add(key, value)
		return value, nil
	}
	loc, ok := s.index[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrValueNotFound, key)
	}
	data, err := s.adapter.ReadObject(ctx, adapter.PackKey(loc.packID), loc.Offset, loc.Length)
	if err != nil {
		return nil, fmt.Errorf("pack: read value %s from pack %s: %w", key, loc.packID, err)
	}
	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, fmt.Errorf("pack: decode value %s: %w", key, err)
	}
	s.cache.Add(key, value)
	return value, nil
}

// ImportPack loads a pack's index (but not its values) into the local
// index so future Get calls can demand-load individual values from it.
// Used by meld and refresh when a newly-loaded delta block references a
// pack this replica has not seen. A pack that fails to parse is corrupt
// per spec.md §7 and its error is returned as ErrCorruptPack for the
// caller to treat as best-effort-skippable.
func (s *Store) ImportPack(ctx context.Context, packID object.Hash) error {
	id := packID.String()
	body, err := s.adapter.ReadObject(ctx, adapter.PackKey(id), 0, 0)
	if err != nil {
		return fmt.Errorf("pack: read pack %s: %w", id, err)
	}
	if !object.Sum(body).Equal(packID) {
		return fmt.Errorf("%w: pack %s hash mismatch", ErrCorruptPack, id)
	}
	index, err := parseIndex(body)
	if err != nil {
		return fmt.Errorf("%w: pack %s: %v", ErrCorruptPack, id, err)
	}
	for hash, loc := range index {
		if _, ok := s.index[hash]; ok {
			continue
		}
		s.index[hash] = sealedLocation{packID: id, location: loc}
	}
	slog.Debug("imported pack", "pack_id", id, "values", len(index))
	return nil
}

// ErrCorruptPack is returned when a pack's body does not match its
// content-addressed ID, or its trailing index cannot be parsed (spec.md §7).
var ErrCorruptPack = errors.New("pack: corrupt pack")

// KnownPacks returns the set of pack IDs currently indexed locally.
func (s *Store) KnownPacks() map[string]struct{} {
	out := make(map[string]struct{})
	for _, loc := range s.index {
		out[loc.packID] = struct{}{}
	}
	return out
}
