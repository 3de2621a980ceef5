// Package history implements the History Navigator (spec.md §4.10): it
// tracks the current anchor set (the replica's known head block IDs),
// looks up blocks by ID, and rebuilds the loaded block set restricted to
// the ancestor closure of a given block for reload_until. Grounded on
// nasdf-capy/core/iterator.go's CommitIterator (a seen-set BFS over parent
// links), adapted from pure iteration to an ancestor-closure restriction.
package history

import (
	"context"
	"fmt"
	"sort"

	"github.com/meldadb/melda/deltablock"
	"github.com/meldadb/melda/object"
)

// Navigator tracks the anchor set and the delta blocks known locally.
type Navigator struct {
	blocks  *deltablock.Store
	anchors map[string]object.Hash
}

// New returns a Navigator with no anchors and no known blocks.
func New(blocks *deltablock.Store) *Navigator {
	return &Navigator{blocks: blocks, anchors: make(map[string]object.Hash)}
}

// Anchors returns the current anchor set, sorted by hex ID for
// deterministic iteration.
func (n *Navigator) Anchors() []object.Hash {
	out := make([]object.Hash, 0, len(n.anchors))
	for _, h := range n.anchors {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// SetAnchors replaces the anchor set outright, e.g. after a commit writes
// exactly one new head block.
func (n *Navigator) SetAnchors(anchors []object.Hash) {
	n.anchors = make(map[string]object.Hash, len(anchors))
	for _, h := range anchors {
		n.anchors[h.String()] = h
	}
}

// Block loads a block by ID via the underlying Delta Block Store.
func (n *Navigator) Block(ctx context.Context, id object.Hash) (*deltablock.Block, error) {
	return n.blocks.Read(ctx, id)
}

// RecomputeAnchors sets the anchor set to the independent (pairwise
// non-ancestor) members of candidates, per spec.md §4.7 step 4. A block
// already an ancestor of another candidate is dropped: the anchor set
// names only the current heads of the commit DAG.
func (n *Navigator) RecomputeAnchors(ctx context.Context, candidates []object.Hash) error {
	independent, err := independents(ctx, n.blocks, candidates)
	if err != nil {
		return err
	}
	n.SetAnchors(independent)
	return nil
}

// AncestorClosure returns every block ID reachable from target by
// following parent pointers, target included, for reload_until (spec.md
// §4.6).
func (n *Navigator) AncestorClosure(ctx context.Context, target object.Hash) (map[string]object.Hash, error) {
	closure := make(map[string]object.Hash)
	stack := []object.Hash{target}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := closure[id.String()]; ok {
			continue
		}
		block, err := n.blocks.Read(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("history: loading ancestor closure: %w", err)
		}
		closure[id.String()] = id
		stack = append(stack, block.Parents...)
	}
	return closure, nil
}

func independents(ctx context.Context, blocks *deltablock.Store, candidates []object.Hash) ([]object.Hash, error) {
	keep := make(map[string]object.Hash, len(candidates))
	for _, h := range candidates {
		keep[h.String()] = h
	}
	for _, h := range candidates {
		if _, ok := keep[h.String()]; !ok {
			continue
		}
		ancestors, err := ancestorSet(ctx, blocks, h)
		if err != nil {
			return nil, err
		}
		for _, other := range candidates {
			if other.Equal(h) {
				continue
			}
			if _, ok := ancestors[other.String()]; ok {
				delete(keep, other.String())
			}
		}
	}
	out := make([]object.Hash, 0, len(keep))
	for _, h := range candidates {
		if _, ok := keep[h.String()]; ok {
			out = append(out, h)
		}
	}
	return out, nil
}

func ancestorSet(ctx context.Context, blocks *deltablock.Store, start object.Hash) (map[string]struct{}, error) {
	seen := make(map[string]struct{})
	stack := []object.Hash{start}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		block, err := blocks.Read(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, p := range block.Parents {
			if _, ok := seen[p.String()]; ok {
				continue
			}
			seen[p.String()] = struct{}{}
			stack = append(stack, p)
		}
	}
	return seen, nil
}
