package deltablock

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meldadb/melda/adapter/memadapter"
	"github.com/meldadb/melda/object"
)

func TestWriteReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New(memadapter.New())

	valueHash := object.Sum([]byte(`"value"`))
	rev, err := object.NewRevID(1, valueHash, nil)
	require.NoError(t, err)

	changes := map[string][]Change{
		"obj-1": {{Rev: rev, Parents: nil, Value: valueHash, Deleted: false}},
	}

	id, err := s.Write(ctx, nil, map[string]any{"author": "alice"}, nil, changes)
	require.NoError(t, err)
	require.NotNil(t, id)

	fresh := New(s.adapter)
	block, err := fresh.Read(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"author": "alice"}, block.Info)
	require.Len(t, block.Changes["obj-1"], 1)
	assert.Equal(t, rev, block.Changes["obj-1"][0].Rev)
	assert.True(t, valueHash.Equal(block.Changes["obj-1"][0].Value))
}

func TestReadRejectsHashMismatch(t *testing.T) {
	ctx := context.Background()
	ad := memadapter.New()
	badID := object.Sum([]byte("not-the-real-body"))
	require.NoError(t, ad.WriteObject(ctx, "delta/"+badID.String(), []byte(`{"p":[],"i":null,"d":{},"pk":[]}`)))

	s := New(ad)
	_, err := s.Read(ctx, badID)
	assert.ErrorIs(t, err, ErrCorruptBlock)
}

func TestDecodeRejectsMalformedRevision(t *testing.T) {
	ctx := context.Background()
	ad := memadapter.New()
	body := []byte(`{"p":[],"i":null,"d":{"obj-1":[{"r":"not-a-rev","p":[],"v":null,"x":true}]},"pk":[]}`)
	id := object.Sum(body)
	require.NoError(t, ad.WriteObject(ctx, "delta/"+id.String(), body))

	s := New(ad)
	_, err := s.Read(ctx, id)
	assert.ErrorIs(t, err, ErrCorruptBlock)
}

func TestListEnumeratesWrittenBlocks(t *testing.T) {
	ctx := context.Background()
	s := New(memadapter.New())

	valueHash := object.Sum([]byte(`1`))
	rev, err := object.NewRevID(1, valueHash, nil)
	require.NoError(t, err)
	changes := map[string][]Change{"obj-1": {{Rev: rev, Value: valueHash}}}

	id1, err := s.Write(ctx, nil, nil, nil, changes)
	require.NoError(t, err)

	ids, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.True(t, ids[0].Equal(id1))
}
