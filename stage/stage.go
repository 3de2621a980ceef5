// Package stage implements the Update/Staging Layer (spec.md §4.5): it
// walks a caller-supplied JSON document, applies the "♭" flatten and "Δ"
// delta-array reserved naming conventions, assigns object identifiers, and
// stages new revisions (and their values) ahead of a commit. Grounded on
// nasdf-capy/core/transaction.go's assignObject/assignValue/assignRelation
// tree walk, generalized from a GraphQL-schema-directed walk to spec.md's
// reserved-convention-directed one.
package stage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/meldadb/melda/deltablock"
	"github.com/meldadb/melda/diffscript"
	"github.com/meldadb/melda/materialize"
	"github.com/meldadb/melda/object"
	"github.com/meldadb/melda/objectstore"
	"github.com/meldadb/melda/revtree"
)

// ErrNotAnObject is returned when the top-level staged value is not a JSON
// object (spec.md §7).
var ErrNotAnObject = errors.New("stage: staged value must be a JSON object")

// Layer accumulates revisions across a sequence of Update/ResolveAs calls,
// ready for the Commit Engine to drain into a delta block.
type Layer struct {
	objects      *objectstore.Store
	materializer *materialize.Materializer
	changes      map[string][]deltablock.Change
}

// New returns an empty staging layer over objects, using materializer to
// read the prior state needed for delta-array reconstruction and deletion
// detection.
func New(objects *objectstore.Store, materializer *materialize.Materializer) *Layer {
	return &Layer{
		objects:      objects,
		materializer: materializer,
		changes:      make(map[string][]deltablock.Change),
	}
}

// HasPending reports whether any revision has been staged since the last
// drain.
func (l *Layer) HasPending() bool {
	return len(l.changes) > 0
}

// DrainChanges removes and returns every change staged since the last
// drain, keyed by object ID. Called by the Commit Engine.
func (l *Layer) DrainChanges() map[string][]deltablock.Change {
	if len(l.changes) == 0 {
		return nil
	}
	drained := l.changes
	l.changes = make(map[string][]deltablock.Change)
	return drained
}

// Update stages root as the desired next state of the whole document
// (spec.md §4.5). New and changed objects get new revisions parented on
// their current leaves; objects reachable before but absent from root are
// staged as deletions.
func (l *Layer) Update(ctx context.Context, value any) error {
	root, ok := value.(map[string]any)
	if !ok {
		return fmt.Errorf("%w: got %T", ErrNotAnObject, value)
	}

	previouslyLive, err := l.materializer.ReachableObjects(ctx)
	if err != nil {
		return fmt.Errorf("stage: reading prior state: %w", err)
	}

	visited := make(map[string]struct{})
	if _, err := l.stageObject(ctx, object.RootID, root, visited); err != nil {
		return err
	}

	for id := range previouslyLive {
		if _, stillLive := visited[id]; stillLive {
			continue
		}
		if err := l.stageDeletion(id); err != nil {
			return err
		}
	}
	return nil
}

// ResolveAs emits a fresh revision for objectID whose parents are every
// current leaf of that object and whose value hash (and deletion flag)
// matches rev (spec.md §4.5's "Resolve"). It is a degenerate update
// targeting a single object.
func (l *Layer) ResolveAs(objectID string, rev object.RevID) (object.RevID, error) {
	tree := l.objects.Tree(objectID)
	entry, ok := tree.Get(rev)
	if !ok {
		return "", fmt.Errorf("%w: %s@%s", objectstore.ErrUnknownRevision, objectID, rev)
	}

	leaves := tree.Leaves()
	gen := maxGen(leaves) + 1
	newRev, err := object.NewRevID(gen, entry.ValueHash, leaves)
	if err != nil {
		return "", err
	}
	tree.Insert(newRev, revtree.Entry{Parents: leaves, ValueHash: entry.ValueHash, Deleted: entry.Deleted})
	l.recordChange(objectID, deltablock.Change{Rev: newRev, Parents: leaves, Value: entry.ValueHash, Deleted: entry.Deleted})
	return newRev, nil
}

// stageObject resolves value's identifier, canonicalizes it (replacing
// flattened children with their IDs), and stages a new revision if the
// canonical value differs from the current winner. It returns the object's
// resolved ID and marks it (and every descendant it recurses into) as
// visited.
func (l *Layer) stageObject(ctx context.Context, forcedID string, value map[string]any, visited map[string]struct{}) (string, error) {
	id := forcedID
	if id == "" {
		if existing, ok := value[object.IDField].(string); ok && existing != "" {
			id = existing
		} else {
			id = uuid.NewString()
			value[object.IDField] = id
		}
	} else {
		value[object.IDField] = id
	}
	visited[id] = struct{}{}

	canonical := make(map[string]any, len(value))
	for key, raw := range value {
		if key == object.IDField {
			continue
		}
		base, flatten, delta := object.ParseFieldKey(key)
		if !flatten {
			canonical[key] = raw
			continue
		}

		items, ok := raw.([]any)
		if !ok {
			return "", fmt.Errorf("stage: field %s must be an array of objects", key)
		}
		childIDs := make([]string, 0, len(items))
		for _, item := range items {
			childValue, ok := item.(map[string]any)
			if !ok {
				return "", fmt.Errorf("%w: flattened field %s element", ErrNotAnObject, key)
			}
			childID, err := l.stageObject(ctx, "", childValue, visited)
			if err != nil {
				return "", err
			}
			childIDs = append(childIDs, childID)
		}

		if !delta {
			canonical[object.BuildFieldKey(base, true, false)] = toAnySlice(childIDs)
			continue
		}

		prevIDs, err := l.previousFieldIDs(ctx, id, base)
		if err != nil {
			return "", err
		}
		baseLength, ops := diffscript.Diff(prevIDs, childIDs)
		patch := diffscript.Patch{Base: baseLength, Ops: ops}
		canonical[object.BuildFieldKey(base, true, true)] = patch.ToAny()
	}

	if err := l.stageRevision(ctx, id, canonical); err != nil {
		return "", err
	}
	return id, nil
}

// previousFieldIDs resolves the winner's current ID sequence for a
// flattened field, used as the base of a fresh delta-array diff.
func (l *Layer) previousFieldIDs(ctx context.Context, objectID, base string) ([]string, error) {
	winner := l.objects.Tree(objectID).Winner()
	if winner == "" {
		return nil, nil
	}
	return l.materializer.ResolveFieldIDs(ctx, objectID, winner, base)
}

// stageRevision emits a new revision for objectID if canonical differs
// from the current winner's value (spec.md §4.5 steps 3-5).
func (l *Layer) stageRevision(ctx context.Context, objectID string, canonical map[string]any) error {
	tree := l.objects.Tree(objectID)
	valueHash, err := object.HashValue(canonical)
	if err != nil {
		return err
	}

	if winner := tree.Winner(); winner != "" {
		entry, _ := tree.Get(winner)
		if !entry.Deleted && entry.ValueHash.Equal(valueHash) {
			return nil // no-op: unchanged since the current winner
		}
	}

	leaves := tree.Leaves()
	gen := maxGen(leaves) + 1
	rev, err := object.NewRevID(gen, valueHash, leaves)
	if err != nil {
		return err
	}

	if _, err := l.objects.Packs().Put(canonical); err != nil {
		return err
	}
	tree.Insert(rev, revtree.Entry{Parents: leaves, ValueHash: valueHash})
	l.recordChange(objectID, deltablock.Change{Rev: rev, Parents: leaves, Value: valueHash})
	return nil
}

// stageDeletion emits a tombstone revision for an object no longer
// reachable from the updated root.
func (l *Layer) stageDeletion(objectID string) error {
	tree := l.objects.Tree(objectID)
	if winner := tree.Winner(); winner != "" {
		if entry, ok := tree.Get(winner); ok && entry.Deleted {
			return nil // already tombstoned
		}
	}

	leaves := tree.Leaves()
	gen := maxGen(leaves) + 1
	rev, err := object.NewRevID(gen, nil, leaves)
	if err != nil {
		return err
	}
	tree.Insert(rev, revtree.Entry{Parents: leaves, Deleted: true})
	l.recordChange(objectID, deltablock.Change{Rev: rev, Parents: leaves, Deleted: true})
	return nil
}

func (l *Layer) recordChange(objectID string, change deltablock.Change) {
	l.changes[objectID] = append(l.changes[objectID], change)
	// A cached materialization of any object embeds its children's values,
	// so a new revision of a child makes the cached parents stale.
	l.materializer.Reset()
}

func maxGen(revs []object.RevID) int {
	max := 0
	for _, r := range revs {
		if g := r.Gen(); g > max {
			max = g
		}
	}
	return max
}

func toAnySlice(ids []string) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}

