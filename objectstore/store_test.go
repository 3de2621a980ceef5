package objectstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meldadb/melda/adapter/memadapter"
	"github.com/meldadb/melda/object"
	"github.com/meldadb/melda/pack"
	"github.com/meldadb/melda/revtree"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	packs, err := pack.New(memadapter.New(), 16)
	require.NoError(t, err)
	return New(packs)
}

func TestTreeCreatesOnFirstAccess(t *testing.T) {
	s := newTestStore(t)
	assert.False(t, s.Has("obj-1"))
	tree := s.Tree("obj-1")
	assert.NotNil(t, tree)
	assert.True(t, s.Has("obj-1"))
}

func TestValueResolvesThroughPackStore(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	valueHash, err := s.packs.Put(map[string]any{"name": "alice"})
	require.NoError(t, err)
	rev, err := object.NewRevID(1, valueHash, nil)
	require.NoError(t, err)

	s.Tree("obj-1").Insert(rev, revtree.Entry{ValueHash: valueHash})

	value, deleted, err := s.Value(ctx, "obj-1", rev)
	require.NoError(t, err)
	assert.False(t, deleted)
	assert.Equal(t, map[string]any{"name": "alice"}, value)
}

func TestValueReportsDeletion(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	rev, err := object.NewRevID(1, nil, nil)
	require.NoError(t, err)
	s.Tree("obj-1").Insert(rev, revtree.Entry{Deleted: true})

	value, deleted, err := s.Value(ctx, "obj-1", rev)
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.Nil(t, value)
}

func TestValueUnknownObject(t *testing.T) {
	s := newTestStore(t)
	_, _, err := s.Value(context.Background(), "missing", object.RevID("1-abc"))
	assert.ErrorIs(t, err, ErrUnknownObject)
}
