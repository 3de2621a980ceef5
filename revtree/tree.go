// Package revtree implements the per-object Revision Tree (spec.md §4.4):
// a DAG of revisions accepted under the ancestor-presence rule, with cached
// leaves and a deterministic winner tie-break.
package revtree

import (
	"sort"

	"github.com/meldadb/melda/object"
)

// Entry records one revision's place in the tree.
type Entry struct {
	Parents     []object.RevID
	ValueHash   object.Hash // nil when Deleted
	Deleted     bool
	SourceBlock object.Hash
}

// Tree is the revision DAG for a single object. It is not internally
// locked; callers coordinate access the same way they do for the rest of
// the engine (spec.md §9).
type Tree struct {
	revisions map[object.RevID]Entry
	children  map[object.RevID]map[object.RevID]struct{}

	// pending holds revisions inserted before all of their parents were
	// present. They graduate into revisions once satisfied.
	pending map[object.RevID]Entry

	leaves      map[object.RevID]struct{}
	leavesValid bool
	winner      object.RevID
	winnerValid bool
}

// New returns an empty revision tree.
func New() *Tree {
	return &Tree{
		revisions: make(map[object.RevID]Entry),
		children:  make(map[object.RevID]map[object.RevID]struct{}),
		pending:   make(map[object.RevID]Entry),
	}
}

// Insert adds a revision to the tree, idempotently. If rev is already
// present (as a resolved revision or a pending one with the identical
// entry) this is a no-op. Per spec.md §4.4's ancestor-presence rule, a
// revision whose parents are not all already resolved is held pending
// until they arrive; inserting a revision may cause any pending revisions
// waiting on it to graduate.
func (t *Tree) Insert(rev object.RevID, entry Entry) {
	if _, ok := t.revisions[rev]; ok {
		return
	}
	if _, ok := t.pending[rev]; ok {
		return
	}

	if t.parentsSatisfied(entry.Parents) {
		t.resolve(rev, entry)
		t.graduatePending()
	} else {
		t.pending[rev] = entry
	}
}

func (t *Tree) parentsSatisfied(parents []object.RevID) bool {
	for _, p := range parents {
		if _, ok := t.revisions[p]; !ok {
			return false
		}
	}
	return true
}

func (t *Tree) resolve(rev object.RevID, entry Entry) {
	t.revisions[rev] = entry
	for _, p := range entry.Parents {
		if t.children[p] == nil {
			t.children[p] = make(map[object.RevID]struct{})
		}
		t.children[p][rev] = struct{}{}
	}
	t.invalidate()
}

// graduatePending repeatedly resolves any pending revision whose parents
// have all become available, until a full pass makes no progress.
func (t *Tree) graduatePending() {
	for {
		progressed := false
		for rev, entry := range t.pending {
			if t.parentsSatisfied(entry.Parents) {
				delete(t.pending, rev)
				t.resolve(rev, entry)
				progressed = true
			}
		}
		if !progressed {
			return
		}
	}
}

func (t *Tree) invalidate() {
	t.leavesValid = false
	t.winnerValid = false
}

// Get returns the resolved entry for rev, if present.
func (t *Tree) Get(rev object.RevID) (Entry, bool) {
	e, ok := t.revisions[rev]
	return e, ok
}

// Has reports whether rev has been fully resolved into the tree.
func (t *Tree) Has(rev object.RevID) bool {
	_, ok := t.revisions[rev]
	return ok
}

// PendingCount reports how many revisions are held awaiting their parents.
// Exposed for diagnostics; a nonzero count after a refresh means the
// adapter's known blocks reference revisions this replica never received.
func (t *Tree) PendingCount() int {
	return len(t.pending)
}

// Leaves returns every resolved revision no other resolved revision lists
// as a parent, sorted for deterministic iteration.
func (t *Tree) Leaves() []object.RevID {
	if !t.leavesValid {
		t.recomputeLeaves()
	}
	out := make([]object.RevID, 0, len(t.leaves))
	for rev := range t.leaves {
		out = append(out, rev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (t *Tree) recomputeLeaves() {
	leaves := make(map[object.RevID]struct{}, len(t.revisions))
	for rev := range t.revisions {
		if len(t.children[rev]) == 0 {
			leaves[rev] = struct{}{}
		}
	}
	t.leaves = leaves
	t.leavesValid = true
}

// Winner returns the current winning revision per spec.md §4.4's tie-break
// (highest gen, then lexicographically largest hash), or "" if the tree is
// empty. Deletion revisions are eligible winners.
func (t *Tree) Winner() object.RevID {
	if t.winnerValid {
		return t.winner
	}
	leaves := t.Leaves()
	var winner object.RevID
	for _, rev := range leaves {
		if winner == "" || object.CompareRevisions(rev, winner) > 0 {
			winner = rev
		}
	}
	t.winner = winner
	t.winnerValid = true
	return winner
}

// IsAncestor reports whether ancestor is a resolved ancestor of rev
// (including rev itself), walking up through Parents. Grounded on the same
// parent-iterator ancestor walk used for the engine's commit DAG.
func (t *Tree) IsAncestor(ancestor, rev object.RevID) bool {
	if ancestor == rev {
		return true
	}
	seen := make(map[object.RevID]struct{})
	stack := []object.RevID{rev}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := seen[cur]; ok {
			continue
		}
		seen[cur] = struct{}{}
		entry, ok := t.revisions[cur]
		if !ok {
			continue
		}
		for _, p := range entry.Parents {
			if p == ancestor {
				return true
			}
			stack = append(stack, p)
		}
	}
	return false
}

// Independents filters revs down to those where no entry is an ancestor of
// another, mirroring the anchor set's invariant that it names only
// pairwise-incomparable revisions.
func (t *Tree) Independents(revs []object.RevID) []object.RevID {
	keep := make(map[object.RevID]struct{}, len(revs))
	for _, r := range revs {
		keep[r] = struct{}{}
	}
	for _, r := range revs {
		if _, ok := keep[r]; !ok {
			continue
		}
		for _, other := range revs {
			if other == r {
				continue
			}
			if _, ok := keep[other]; !ok {
				continue
			}
			if t.IsAncestor(other, r) {
				delete(keep, other)
			}
		}
	}
	out := make([]object.RevID, 0, len(keep))
	for _, r := range revs {
		if _, ok := keep[r]; ok {
			out = append(out, r)
		}
	}
	return out
}
