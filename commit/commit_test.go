package commit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meldadb/melda/adapter/memadapter"
	"github.com/meldadb/melda/deltablock"
	"github.com/meldadb/melda/history"
	"github.com/meldadb/melda/materialize"
	"github.com/meldadb/melda/object"
	"github.com/meldadb/melda/objectstore"
	"github.com/meldadb/melda/pack"
	"github.com/meldadb/melda/stage"
)

type fixture struct {
	packs   *pack.Store
	blocks  *deltablock.Store
	objects *objectstore.Store
	m       *materialize.Materializer
	staging *stage.Layer
	history *history.Navigator
	engine  *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ad := memadapter.New()
	packs, err := pack.New(ad, 16)
	require.NoError(t, err)
	blocks := deltablock.New(ad)
	objects := objectstore.New(packs)
	m, err := materialize.New(objects, 16)
	require.NoError(t, err)
	staging := stage.New(objects, m)
	nav := history.New(blocks)
	engine := New(packs, blocks, staging, nav)
	return &fixture{packs: packs, blocks: blocks, objects: objects, m: m, staging: staging, history: nav, engine: engine}
}

func TestCommitWithNoStagedChangesIsEmptyCommit(t *testing.T) {
	f := newFixture(t)
	blockID, err := f.engine.Commit(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, blockID)
	assert.Empty(t, f.history.Anchors())
}

func TestCommitWritesBlockAndSealsPack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.staging.Update(ctx, map[string]any{"software": "X", "items♭": []any{}}))

	blockID, err := f.engine.Commit(ctx, map[string]any{"author": "alice"})
	require.NoError(t, err)
	require.NotNil(t, blockID)

	anchors := f.history.Anchors()
	require.Len(t, anchors, 1)
	assert.True(t, anchors[0].Equal(blockID))

	block, err := f.blocks.Read(ctx, blockID)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"author": "alice"}, block.Info)
	assert.Len(t, block.Packs, 1)
	assert.Contains(t, block.Changes, object.RootID)

	value, err := f.m.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"_id": "√", "software": "X", "items♭": []any{}}, value)
}

func TestSecondEmptyCommitAfterRealCommitIsNoop(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.staging.Update(ctx, map[string]any{"software": "X"}))
	first, err := f.engine.Commit(ctx, nil)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := f.engine.Commit(ctx, nil)
	require.NoError(t, err)
	assert.Nil(t, second)

	anchors := f.history.Anchors()
	require.Len(t, anchors, 1)
	assert.True(t, anchors[0].Equal(first))
}

func TestSequentialCommitsChainParents(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.staging.Update(ctx, map[string]any{"software": "X"}))
	first, err := f.engine.Commit(ctx, nil)
	require.NoError(t, err)

	require.NoError(t, f.staging.Update(ctx, map[string]any{"software": "Y"}))
	second, err := f.engine.Commit(ctx, nil)
	require.NoError(t, err)

	block, err := f.blocks.Read(ctx, second)
	require.NoError(t, err)
	require.Len(t, block.Parents, 1)
	assert.True(t, block.Parents[0].Equal(first))
}
