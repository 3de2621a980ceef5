// Package materialize implements the Read/Materializer (spec.md §4.6): a
// recursive walk from the root object that resolves each object's winner
// revision into a full JSON tree, reconstructing flattened sub-objects and
// delta-encoded arrays, with a per-revision cache and a cycle guard.
//
// When an object is in conflict (more than one leaf revision), flattened
// array fields are additionally merged across every non-winning leaf, so a
// concurrent element added on a losing branch is not silently dropped from
// the read view pending resolve_as; scalar fields still take the winner's
// value untouched. This mirrors original_source/src/datastorage.rs's
// read_merged_object/merge_arrays, a feature the distilled component design
// in spec.md §4.6 omits but original_source implements throughout.
package materialize

import (
	"context"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/meldadb/melda/diffscript"
	"github.com/meldadb/melda/object"
	"github.com/meldadb/melda/objectstore"
)

// ErrCyclicReference is returned when materialization revisits an object
// already on its own walk stack (spec.md §4.6 step 5, §7).
var ErrCyclicReference = errors.New("materialize: cyclic reference")

// cacheEntry is the unit stored in the per-revision cache: the fully
// materialized JSON value for one object at one specific revision.
type cacheEntry = any

// Materializer builds the read view of a replica from its Object Store.
type Materializer struct {
	objects *objectstore.Store
	cache   *lru.Cache[string, cacheEntry]
}

// New returns a Materializer over objects, with a materialization cache
// bounded to cacheSize entries (spec.md §5).
func New(objects *objectstore.Store, cacheSize int) (*Materializer, error) {
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	cache, err := lru.New[string, cacheEntry](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("materialize: new cache: %w", err)
	}
	return &Materializer{objects: objects, cache: cache}, nil
}

// Reset drops every cached materialization, forcing the next Read to
// rebuild from scratch. Called after Meld and Refresh (spec.md §4.6), and
// by the staging layer whenever it records a new revision; ReloadUntil
// builds a fresh Materializer instead.
func (m *Materializer) Reset() {
	m.cache.Purge()
}

// Read builds the JSON view of the whole document from the root object.
func (m *Materializer) Read(ctx context.Context) (any, error) {
	value, err := m.materialize(ctx, object.RootID, make(map[string]struct{}))
	if err != nil {
		return nil, err
	}
	if value == nil {
		return nil, fmt.Errorf("materialize: root object is deleted")
	}
	return value, nil
}

// ReachableObjects returns the set of object IDs currently reachable (and
// not tombstoned) from the root, walking the same flatten edges Read does.
// Used by the staging layer to detect objects dropped from a new update
// (spec.md §4.5's deletion rule).
func (m *Materializer) ReachableObjects(ctx context.Context) (map[string]struct{}, error) {
	live := make(map[string]struct{})
	if err := m.collectReachable(ctx, object.RootID, make(map[string]struct{}), live); err != nil {
		return nil, err
	}
	return live, nil
}

func (m *Materializer) collectReachable(ctx context.Context, objectID string, stack, live map[string]struct{}) error {
	if _, cyclic := stack[objectID]; cyclic {
		return fmt.Errorf("%w: %s", ErrCyclicReference, objectID)
	}
	if !m.objects.Has(objectID) {
		return nil
	}
	winner := m.objects.Winner(objectID)
	if winner == "" {
		return nil
	}
	value, deleted, err := m.objects.Value(ctx, objectID, winner)
	if err != nil {
		return err
	}
	if deleted {
		return nil
	}
	live[objectID] = struct{}{}

	stack[objectID] = struct{}{}
	defer delete(stack, objectID)

	valueMap, ok := value.(map[string]any)
	if !ok {
		return nil
	}
	for key, raw := range valueMap {
		base, flatten, delta := object.ParseFieldKey(key)
		if !flatten {
			continue
		}
		ids, err := m.mergedFieldIDs(ctx, objectID, winner, base, key, raw, delta)
		if err != nil {
			return err
		}
		for _, childID := range ids {
			if err := m.collectReachable(ctx, childID, stack, live); err != nil {
				return err
			}
		}
	}
	return nil
}

// materialize resolves objectID's winner revision into a fully-expanded
// JSON value, or nil if the winner is a deletion (treated as absent at the
// parent level, per spec.md §4.6 step 2).
func (m *Materializer) materialize(ctx context.Context, objectID string, stack map[string]struct{}) (any, error) {
	if _, cyclic := stack[objectID]; cyclic {
		return nil, fmt.Errorf("%w: %s", ErrCyclicReference, objectID)
	}

	winner := m.objects.Winner(objectID)
	if winner == "" {
		return nil, fmt.Errorf("materialize: object %s has no revisions", objectID)
	}

	cacheKey := objectID + "@" + string(winner)
	if cached, ok := m.cache.Get(cacheKey); ok {
		return cached, nil
	}

	value, deleted, err := m.objects.Value(ctx, objectID, winner)
	if err != nil {
		return nil, err
	}
	if deleted {
		return nil, nil
	}

	valueMap, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("materialize: object %s value is not a JSON object", objectID)
	}

	stack[objectID] = struct{}{}
	defer delete(stack, objectID)

	result := make(map[string]any, len(valueMap)+1)
	result[object.IDField] = objectID

	for key, raw := range valueMap {
		base, flatten, delta := object.ParseFieldKey(key)
		if !flatten {
			result[key] = raw
			continue
		}

		ids, err := m.mergedFieldIDs(ctx, objectID, winner, base, key, raw, delta)
		if err != nil {
			return nil, err
		}

		children := make([]any, 0, len(ids))
		for _, childID := range ids {
			child, err := m.materialize(ctx, childID, stack)
			if err != nil {
				return nil, err
			}
			if child == nil {
				continue // tombstoned: absent at the parent level
			}
			children = append(children, child)
		}
		result[object.BuildFieldKey(base, true, false)] = children
	}

	m.cache.Add(cacheKey, result)
	return result, nil
}

// fieldIDs resolves the literal or delta-encoded ID sequence stored under
// key on objectID's revision rev, given the already-fetched raw value.
func (m *Materializer) fieldIDs(ctx context.Context, objectID string, rev object.RevID, key string, raw any, delta bool) ([]string, error) {
	if !delta {
		return toStringSlice(raw)
	}
	patch, err := diffscript.DecodePatch(raw)
	if err != nil {
		return nil, fmt.Errorf("materialize: object %s field %s: %w", objectID, key, err)
	}
	baseName, _, _ := object.ParseFieldKey(key)

	parentRev, err := m.deltaBaseRevision(objectID, rev)
	if err != nil {
		return nil, err
	}
	var baseIDs []string
	if parentRev != "" {
		baseIDs, err = m.resolveFieldOnRevision(ctx, objectID, parentRev, baseName)
		if err != nil {
			return nil, err
		}
	}
	if len(baseIDs) != patch.Base {
		return nil, fmt.Errorf("materialize: object %s field %s: base length mismatch (have %d, patch expects %d)", objectID, key, len(baseIDs), patch.Base)
	}
	return diffscript.Apply(baseIDs, patch.Base, patch.Ops), nil
}

// mergedFieldIDs resolves a flatten field's ID sequence for rev, then, if
// objectID currently has more than one leaf, merges in the corresponding
// field's IDs from every other leaf via mergeArrays so a concurrent
// addition on a losing branch still surfaces in the read view. A leaf with
// no corresponding field (neither the literal nor the delta-prefixed key)
// contributes nothing.
func (m *Materializer) mergedFieldIDs(ctx context.Context, objectID string, rev object.RevID, base, key string, raw any, delta bool) ([]string, error) {
	ids, err := m.fieldIDs(ctx, objectID, rev, key, raw, delta)
	if err != nil {
		return nil, err
	}

	leaves := m.objects.Tree(objectID).Leaves()
	if len(leaves) < 2 {
		return ids, nil
	}
	for _, leaf := range leaves {
		if leaf == rev {
			continue
		}
		otherIDs, err := m.ResolveFieldIDs(ctx, objectID, leaf, base)
		if err != nil {
			return nil, err
		}
		if len(otherIDs) > 0 {
			ids = mergeArrays(ids, otherIDs)
		}
	}
	return ids, nil
}

// mergeArrays inserts every element of source not already present in dest,
// tracking the position of the last common element seen so a run of new
// elements lands near where it diverged rather than always at the end.
// Ported from original_source/src/utils.rs's merge_arrays.
func mergeArrays(dest, source []string) []string {
	if len(dest) == 0 {
		out := make([]string, len(source))
		copy(out, source)
		return out
	}
	if len(source) == 0 {
		return dest
	}

	result := append([]string(nil), dest...)

	insPos := 0
	pivotPos := 0
	for _, t := range source {
		if idx := indexOf(result, t); idx >= 0 {
			insPos = idx
			break
		}
		pivotPos++
	}

	currentPos := 0
	for _, t := range source {
		if idx := indexOf(result, t); idx >= 0 {
			insPos = idx
		} else if currentPos < pivotPos {
			result = insertAt(result, insPos, t)
			pivotPos = currentPos
		} else {
			insPos++
			result = insertAt(result, insPos, t)
		}
		currentPos++
	}
	return result
}

func indexOf(s []string, v string) int {
	for i, e := range s {
		if e == v {
			return i
		}
	}
	return -1
}

func insertAt(s []string, i int, v string) []string {
	s = append(s, "")
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}

// ResolveFieldIDs reconstructs the ID sequence stored under baseName (in
// either its literal or delta form) as of a specific revision. Exposed so
// the staging layer can compute a fresh delta-array diff against exactly
// the same reconstruction the read path would use, without duplicating the
// delta-chain-following logic.
func (m *Materializer) ResolveFieldIDs(ctx context.Context, objectID string, rev object.RevID, baseName string) ([]string, error) {
	return m.resolveFieldOnRevision(ctx, objectID, rev, baseName)
}

// resolveFieldOnRevision reconstructs the ID sequence stored under baseName
// (in either its literal or delta form) as of a specific revision,
// recursing through delta chains toward their base revision.
func (m *Materializer) resolveFieldOnRevision(ctx context.Context, objectID string, rev object.RevID, baseName string) ([]string, error) {
	value, deleted, err := m.objects.Value(ctx, objectID, rev)
	if err != nil {
		return nil, err
	}
	if deleted {
		return nil, nil
	}
	valueMap, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("materialize: object %s revision %s value is not a JSON object", objectID, rev)
	}

	literalKey := object.BuildFieldKey(baseName, true, false)
	if raw, ok := valueMap[literalKey]; ok {
		return toStringSlice(raw)
	}
	deltaKey := object.BuildFieldKey(baseName, true, true)
	raw, ok := valueMap[deltaKey]
	if !ok {
		return nil, nil
	}
	patch, err := diffscript.DecodePatch(raw)
	if err != nil {
		return nil, fmt.Errorf("materialize: object %s field %s: %w", objectID, deltaKey, err)
	}
	parentRev, err := m.deltaBaseRevision(objectID, rev)
	if err != nil {
		return nil, err
	}
	var baseIDs []string
	if parentRev != "" {
		baseIDs, err = m.resolveFieldOnRevision(ctx, objectID, parentRev, baseName)
		if err != nil {
			return nil, err
		}
	}
	if len(baseIDs) != patch.Base {
		return nil, fmt.Errorf("materialize: object %s field %s: base length mismatch (have %d, patch expects %d)", objectID, deltaKey, len(baseIDs), patch.Base)
	}
	return diffscript.Apply(baseIDs, patch.Base, patch.Ops), nil
}

// deltaBaseRevision returns the revision a delta field on rev is stored
// relative to: the winner among rev's parents under object.CompareRevisions,
// which is the winner the staging layer diffed against when rev's parents
// were that object's leaves.
func (m *Materializer) deltaBaseRevision(objectID string, rev object.RevID) (object.RevID, error) {
	entry, ok := m.objects.Tree(objectID).Get(rev)
	if !ok {
		return "", fmt.Errorf("%w: %s@%s", objectstore.ErrUnknownRevision, objectID, rev)
	}
	var base object.RevID
	for _, p := range entry.Parents {
		if base == "" || object.CompareRevisions(p, base) > 0 {
			base = p
		}
	}
	return base, nil
}

func toStringSlice(raw any) ([]string, error) {
	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("materialize: flattened field value is not an array")
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("materialize: flattened field entry is not a string id")
		}
		out = append(out, s)
	}
	return out, nil
}
