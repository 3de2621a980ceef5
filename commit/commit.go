// Package commit implements the Commit Engine (spec.md §4.5): it drains
// the staging layer's accumulated revisions into a single delta block
// parented on the replica's current anchors, sealing any pending pack
// first so the block and its pack are durable together. Grounded on
// nasdf-capy/core/db.go's Commit (seal-then-write-then-swap-root shape)
// and core/tx.go's Transaction.Commit (parents-list pattern), generalized
// from a single-root-link commit to spec.md's per-object change set.
package commit

import (
	"context"
	"fmt"

	"github.com/meldadb/melda/deltablock"
	"github.com/meldadb/melda/history"
	"github.com/meldadb/melda/object"
	"github.com/meldadb/melda/pack"
	"github.com/meldadb/melda/stage"
)

// Engine drains staged revisions into delta blocks.
type Engine struct {
	packs   *pack.Store
	blocks  *deltablock.Store
	staging *stage.Layer
	history *history.Navigator
}

// New returns a Commit Engine wiring together the Data Pack Store, Delta
// Block Store, staging layer, and History Navigator of one replica.
func New(packs *pack.Store, blocks *deltablock.Store, staging *stage.Layer, nav *history.Navigator) *Engine {
	return &Engine{packs: packs, blocks: blocks, staging: staging, history: nav}
}

// Commit drains the staging layer and writes a new delta block, per
// spec.md §4.5's "Commit" steps. Returns (nil, nil) when nothing was
// staged (EmptyCommit is not an error in this design).
func (e *Engine) Commit(ctx context.Context, info any) (object.Hash, error) {
	changes := e.staging.DrainChanges()
	if len(changes) == 0 {
		return nil, nil
	}

	packID, err := e.packs.SealPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("commit: sealing pending pack: %w", err)
	}
	var packs []object.Hash
	if packID != nil {
		packs = []object.Hash{packID}
	}

	parents := e.history.Anchors()
	blockID, err := e.blocks.Write(ctx, parents, info, packs, changes)
	if err != nil {
		return nil, fmt.Errorf("commit: writing block: %w", err)
	}

	e.history.SetAnchors([]object.Hash{blockID})
	return blockID, nil
}
