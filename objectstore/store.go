// Package objectstore composes per-object revision trees into the
// replica-wide Object Store (spec.md §4.4/§4.5's object dimension): it maps
// object IDs to their revtree.Tree and lazily resolves revision values
// through a pack.Store.
package objectstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/meldadb/melda/object"
	"github.com/meldadb/melda/pack"
	"github.com/meldadb/melda/revtree"
)

// ErrUnknownObject is returned when an object ID has no revision tree.
var ErrUnknownObject = errors.New("objectstore: unknown object")

// ErrUnknownRevision is returned when a revision ID is not resolved for a
// known object.
var ErrUnknownRevision = errors.New("objectstore: unknown revision")

// Store maps object IDs to revision trees, backed by a pack.Store for
// resolving the JSON value behind a revision's value hash.
type Store struct {
	packs   *pack.Store
	objects map[string]*revtree.Tree
}

// New returns an empty object store backed by packs.
func New(packs *pack.Store) *Store {
	return &Store{packs: packs, objects: make(map[string]*revtree.Tree)}
}

// Tree returns the revision tree for objectID, creating an empty one if
// this is the first time the object has been seen.
func (s *Store) Tree(objectID string) *revtree.Tree {
	tree, ok := s.objects[objectID]
	if !ok {
		tree = revtree.New()
		s.objects[objectID] = tree
	}
	return tree
}

// Packs returns the Data Pack Store backing this object store, so callers
// that already hold an objectstore.Store (staging, meld) don't need a
// second reference threaded through separately.
func (s *Store) Packs() *pack.Store {
	return s.packs
}

// Objects returns every object ID this store has a tree for.
func (s *Store) Objects() []string {
	out := make([]string, 0, len(s.objects))
	for id := range s.objects {
		out = append(out, id)
	}
	return out
}

// Has reports whether objectID has been seen before (has a tree, even if
// empty).
func (s *Store) Has(objectID string) bool {
	_, ok := s.objects[objectID]
	return ok
}

// Value resolves the JSON value for a specific revision of an object,
// returning (nil, true, nil) when that revision is a deletion.
func (s *Store) Value(ctx context.Context, objectID string, rev object.RevID) (value any, deleted bool, err error) {
	tree, ok := s.objects[objectID]
	if !ok {
		return nil, false, fmt.Errorf("%w: %s", ErrUnknownObject, objectID)
	}
	entry, ok := tree.Get(rev)
	if !ok {
		return nil, false, fmt.Errorf("%w: %s@%s", ErrUnknownRevision, objectID, rev)
	}
	if entry.Deleted {
		return nil, true, nil
	}
	value, err = s.packs.Get(ctx, entry.ValueHash)
	if err != nil {
		return nil, false, fmt.Errorf("objectstore: resolve %s@%s: %w", objectID, rev, err)
	}
	return value, false, nil
}

// Winner returns the current winning revision for objectID, or "" if the
// object is unknown or has no resolved revisions.
func (s *Store) Winner(objectID string) object.RevID {
	tree, ok := s.objects[objectID]
	if !ok {
		return ""
	}
	return tree.Winner()
}
