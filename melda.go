// Package melda is a delta-state JSON-native CRDT engine: multiple
// replicas can each update a shared JSON document offline, then meld their
// independent histories back together and converge on the same value.
//
// A Replica composes the Data Pack Store, Delta Block Store, Object Store,
// Materializer, staging layer, Commit Engine, History Navigator, and Meld
// Controller into the single object applications hold. Replica carries no
// internal lock (spec.md §9's redesign note: concurrency is the caller's
// responsibility); Guard wraps a Replica with a sync.RWMutex for callers
// that need one, grounded on nasdf-capy/core/db.go's lock-guarded DB.
package melda

import (
	"context"
	"fmt"
	"sync"

	"github.com/meldadb/melda/adapter"
	"github.com/meldadb/melda/commit"
	"github.com/meldadb/melda/config"
	"github.com/meldadb/melda/deltablock"
	"github.com/meldadb/melda/history"
	"github.com/meldadb/melda/materialize"
	"github.com/meldadb/melda/meld"
	"github.com/meldadb/melda/object"
	"github.com/meldadb/melda/objectstore"
	"github.com/meldadb/melda/pack"
	"github.com/meldadb/melda/revtree"
	"github.com/meldadb/melda/stage"
)

// Replica is one participant's view of a delta-state document, backed by
// a single adapter.Adapter. It has no internal lock; concurrent access
// from multiple goroutines must go through Guard.
type Replica struct {
	adapter adapter.Adapter
	cfg     *config.Config
	packs   *pack.Store
	blocks  *deltablock.Store
	objects *objectstore.Store
	m       *materialize.Materializer
	staging *stage.Layer
	history *history.Navigator
	commit  *commit.Engine
	meld    *meld.Controller
}

// Open builds a Replica over ad, loading every delta block and pack the
// adapter already holds and rebuilding the anchor set from them.
func Open(ctx context.Context, ad adapter.Adapter, cfg *config.Config) (*Replica, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	cfg.PopulateDefaults()

	packs, err := pack.New(ad, cfg.Cache.ValueEntries)
	if err != nil {
		return nil, fmt.Errorf("melda: opening pack store: %w", err)
	}
	blocks := deltablock.New(ad)
	objects := objectstore.New(packs)
	m, err := materialize.New(objects, cfg.Cache.MaterializationEntries)
	if err != nil {
		return nil, fmt.Errorf("melda: opening materializer: %w", err)
	}
	staging := stage.New(objects, m)
	nav := history.New(blocks)
	engine := commit.New(packs, blocks, staging, nav)
	controller := meld.New(ad, blocks, packs, objects, nav)

	r := &Replica{
		adapter: ad,
		cfg:     cfg,
		packs:   packs,
		blocks:  blocks,
		objects: objects,
		m:       m,
		staging: staging,
		history: nav,
		commit:  engine,
		meld:    controller,
	}
	if err := r.Refresh(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// Update stages value as the desired next state of the document (spec.md
// §4.5). It does not write anything durable until Commit is called.
func (r *Replica) Update(ctx context.Context, value any) error {
	return r.staging.Update(ctx, value)
}

// Commit drains staged updates into a new delta block, returning its ID.
// Returns (nil, nil) if nothing was staged.
func (r *Replica) Commit(ctx context.Context, info any) (object.Hash, error) {
	return r.commit.Commit(ctx, info)
}

// Read materializes the current winning JSON view of the document.
func (r *Replica) Read(ctx context.Context) (any, error) {
	return r.m.Read(ctx)
}

// ResolveAs settles a conflict on objectID by emitting a fresh revision
// whose parents are every current leaf, carrying rev's value (spec.md
// §4.5's "Resolve").
func (r *Replica) ResolveAs(objectID string, rev object.RevID) (object.RevID, error) {
	return r.staging.ResolveAs(objectID, rev)
}

// Meld pulls every block and pack a remote adapter has that this replica
// doesn't, merging its history in (spec.md §4.7), and drops the
// materialization cache so subsequent Reads see the merged state.
func (r *Replica) Meld(ctx context.Context, remote adapter.Adapter) error {
	if err := r.meld.Meld(ctx, remote); err != nil {
		return err
	}
	r.m.Reset()
	return nil
}

// Refresh rescans this replica's own adapter and applies every block it
// holds to the revision trees the same way Meld imports a remote's
// (spec.md §4.6), so blocks written by another process sharing the same
// backing store become visible. Blocks already loaded are no-ops; after
// ReloadUntil, this also brings back the blocks the reload left out.
func (r *Replica) Refresh(ctx context.Context) error {
	if err := r.meld.Meld(ctx, r.adapter); err != nil {
		return err
	}
	r.m.Reset()
	return nil
}

// ReloadUntil restricts the loaded block set to the ancestor closure of
// blockID, replaying only those blocks' changes into fresh revision trees
// and rebuilding the materialization cache from scratch (spec.md §4.6). It
// is used to view the document as of an earlier point in its commit DAG.
func (r *Replica) ReloadUntil(ctx context.Context, blockID object.Hash) error {
	closure, err := r.history.AncestorClosure(ctx, blockID)
	if err != nil {
		return fmt.Errorf("melda: reload_until: %w", err)
	}

	objects := objectstore.New(r.packs)
	for _, id := range closure {
		block, err := r.blocks.Read(ctx, id)
		if err != nil {
			return fmt.Errorf("melda: reload_until: %w", err)
		}
		for objectID, changes := range block.Changes {
			tree := objects.Tree(objectID)
			for _, c := range changes {
				tree.Insert(c.Rev, revtree.Entry{
					Parents:     c.Parents,
					ValueHash:   c.Value,
					Deleted:     c.Deleted,
					SourceBlock: id,
				})
			}
		}
	}

	m, err := materialize.New(objects, r.cfg.Cache.MaterializationEntries)
	if err != nil {
		return fmt.Errorf("melda: reload_until: %w", err)
	}

	r.objects = objects
	r.m = m
	r.staging = stage.New(objects, m)
	r.history.SetAnchors([]object.Hash{blockID})
	r.commit = commit.New(r.packs, r.blocks, r.staging, r.history)
	r.meld = meld.New(r.adapter, r.blocks, r.packs, objects, r.history)
	return nil
}

// InConflict returns the IDs of every object with more than one current
// leaf revision, i.e. objects a concurrent edit has left unresolved.
func (r *Replica) InConflict() []string {
	var out []string
	for _, id := range r.objects.Objects() {
		if len(r.objects.Tree(id).Leaves()) > 1 {
			out = append(out, id)
		}
	}
	return out
}

// Leaves returns the current leaf revisions of objectID, letting a caller
// inspect a conflict before choosing what to pass to ResolveAs.
func (r *Replica) Leaves(objectID string) []object.RevID {
	return r.objects.Tree(objectID).Leaves()
}

// Anchors returns the replica's current anchor set: the head block IDs of
// its known commit DAG.
func (r *Replica) Anchors() []object.Hash {
	return r.history.Anchors()
}

// Guard wraps a Replica with a sync.RWMutex, per spec.md §9: mutating
// operations take the write lock, read-only ones take the read lock.
type Guard struct {
	mu sync.RWMutex
	r  *Replica
}

// NewGuard wraps r for concurrent use.
func NewGuard(r *Replica) *Guard {
	return &Guard{r: r}
}

func (g *Guard) Update(ctx context.Context, value any) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.r.Update(ctx, value)
}

func (g *Guard) Commit(ctx context.Context, info any) (object.Hash, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.r.Commit(ctx, info)
}

func (g *Guard) ResolveAs(objectID string, rev object.RevID) (object.RevID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.r.ResolveAs(objectID, rev)
}

func (g *Guard) Meld(ctx context.Context, remote adapter.Adapter) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.r.Meld(ctx, remote)
}

func (g *Guard) Refresh(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.r.Refresh(ctx)
}

func (g *Guard) ReloadUntil(ctx context.Context, blockID object.Hash) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.r.ReloadUntil(ctx, blockID)
}

func (g *Guard) Read(ctx context.Context) (any, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.r.Read(ctx)
}

func (g *Guard) InConflict() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.r.InConflict()
}

func (g *Guard) Leaves(objectID string) []object.RevID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.r.Leaves(objectID)
}

func (g *Guard) Anchors() []object.Hash {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.r.Anchors()
}
