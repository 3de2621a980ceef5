// Package meld implements the Meld Controller (spec.md §4.7): it pulls
// blocks and packs a remote adapter has and this replica doesn't, imports
// them into the local Object Store best-effort, and recomputes anchors.
// Grounded on nasdf-capy/core/merge.go's ancestor-walk helpers (MergeBase,
// Independents, IsAncestor), reused here via history.Navigator, and on
// spec.md §4.7's four-step enumerate/fetch/import/recompute algorithm.
package meld

import (
	"context"
	"log/slog"

	"github.com/meldadb/melda/adapter"
	"github.com/meldadb/melda/deltablock"
	"github.com/meldadb/melda/history"
	"github.com/meldadb/melda/object"
	"github.com/meldadb/melda/objectstore"
	"github.com/meldadb/melda/pack"
	"github.com/meldadb/melda/revtree"
)

// Controller melds a remote adapter's blocks and packs into a local
// replica's state.
type Controller struct {
	localAdapter adapter.Adapter
	blocks       *deltablock.Store
	packs        *pack.Store
	objects      *objectstore.Store
	history      *history.Navigator
}

// New returns a Meld Controller wired to a replica's stores.
func New(localAdapter adapter.Adapter, blocks *deltablock.Store, packs *pack.Store, objects *objectstore.Store, nav *history.Navigator) *Controller {
	return &Controller{localAdapter: localAdapter, blocks: blocks, packs: packs, objects: objects, history: nav}
}

// Meld pulls every block remoteAdapter has that this replica doesn't,
// together with any pack those blocks reference, imports them into the
// revision trees, and recomputes anchors. When remoteAdapter is this
// replica's own adapter (Refresh), blocks already stored there are still
// read and applied, since being stored does not mean being loaded into the
// revision trees; re-applying an already loaded block is a no-op. Never
// deletes local data, and is idempotent: melding the same remote twice has
// no further effect.
func (c *Controller) Meld(ctx context.Context, remoteAdapter adapter.Adapter) error {
	remoteKeys, err := remoteAdapter.ListObjects(ctx, adapter.DeltaPrefix)
	if err != nil {
		return err
	}

	imported := make([]object.Hash, 0)
	for _, key := range remoteKeys {
		hexID := key[len(adapter.DeltaPrefix):]
		id, err := object.ParseHash(hexID)
		if err != nil {
			slog.Warn("meld: skipping unparseable remote block key", "key", key)
			continue
		}

		have, err := c.blocks.Has(ctx, id)
		if err != nil {
			return err
		}
		if have && remoteAdapter != c.localAdapter {
			continue
		}

		block, ok, err := c.fetchAndImportBlock(ctx, remoteAdapter, id)
		if err != nil {
			return err
		}
		if !ok {
			continue // corrupt block or an unreachable pack: skipped, per spec.md §7
		}
		c.applyBlock(id, block)
		imported = append(imported, id)
	}

	candidates := append(c.history.Anchors(), imported...)
	if len(candidates) == 0 {
		return nil
	}
	return c.history.RecomputeAnchors(ctx, candidates)
}

// fetchAndImportBlock reads and validates one remote block, then pulls in
// every pack it references that isn't already known locally. Returns
// ok=false (with no error) when the block or one of its packs is corrupt,
// so the caller can skip it and continue with the rest of the meld.
func (c *Controller) fetchAndImportBlock(ctx context.Context, remoteAdapter adapter.Adapter, id object.Hash) (*deltablock.Block, bool, error) {
	raw, err := remoteAdapter.ReadObject(ctx, adapter.DeltaKey(id.String()), 0, 0)
	if err != nil {
		return nil, false, err
	}

	block, err := c.blocks.Import(ctx, id, raw)
	if err != nil {
		slog.Warn("meld: skipping corrupt remote block", "block_id", id.String(), "error", err)
		return nil, false, nil
	}

	known := c.packs.KnownPacks()
	for _, packID := range block.Packs {
		if _, ok := known[packID.String()]; ok {
			continue
		}
		packData, err := remoteAdapter.ReadObject(ctx, adapter.PackKey(packID.String()), 0, 0)
		if err != nil {
			slog.Warn("meld: skipping block referencing unreadable remote pack", "block_id", id.String(), "pack_id", packID.String(), "error", err)
			return nil, false, nil
		}
		if err := c.localAdapter.WriteObject(ctx, adapter.PackKey(packID.String()), packData); err != nil {
			return nil, false, err
		}
		if err := c.packs.ImportPack(ctx, packID); err != nil {
			slog.Warn("meld: skipping block referencing corrupt remote pack", "block_id", id.String(), "pack_id", packID.String(), "error", err)
			return nil, false, nil
		}
	}
	return block, true, nil
}

// applyBlock inserts every change a block carries into the local revision
// trees. Insertion order across blocks does not matter: revtree.Tree
// tolerates out-of-order arrival and graduates pending revisions once
// their parents show up (spec.md §4.7 step 3).
func (c *Controller) applyBlock(blockID object.Hash, block *deltablock.Block) {
	for objectID, changes := range block.Changes {
		tree := c.objects.Tree(objectID)
		for _, change := range changes {
			tree.Insert(change.Rev, revtree.Entry{
				Parents:     change.Parents,
				ValueHash:   change.Value,
				Deleted:     change.Deleted,
				SourceBlock: blockID,
			})
		}
	}
}
