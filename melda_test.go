package melda

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meldadb/melda/adapter/memadapter"
	"github.com/meldadb/melda/object"
)

func openReplica(t *testing.T) (*Replica, *memadapter.Adapter) {
	t.Helper()
	ad := memadapter.New()
	r, err := Open(context.Background(), ad, nil)
	require.NoError(t, err)
	return r, ad
}

// S1: first commit.
func TestFirstCommit(t *testing.T) {
	ctx := context.Background()
	r, ad := openReplica(t)

	require.NoError(t, r.Update(ctx, map[string]any{"software": "X", "items♭": []any{}}))
	blockID, err := r.Commit(ctx, nil)
	require.NoError(t, err)
	require.NotNil(t, blockID)

	blockKeys, err := ad.ListObjects(ctx, "delta/")
	require.NoError(t, err)
	assert.Len(t, blockKeys, 1)
	packKeys, err := ad.ListObjects(ctx, "pack/")
	require.NoError(t, err)
	assert.Len(t, packKeys, 1)

	value, err := r.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"_id": "√", "software": "X", "items♭": []any{}}, value)
}

// S2: add item.
func TestAddItem(t *testing.T) {
	ctx := context.Background()
	r, _ := openReplica(t)

	require.NoError(t, r.Update(ctx, map[string]any{"software": "X", "items♭": []any{}}))
	_, err := r.Commit(ctx, nil)
	require.NoError(t, err)

	require.NoError(t, r.Update(ctx, map[string]any{
		"software": "X",
		"items♭":   []any{map[string]any{"_id": "a", "t": "foo"}},
	}))
	_, err = r.Commit(ctx, nil)
	require.NoError(t, err)

	value, err := r.Read(ctx)
	require.NoError(t, err)
	root := value.(map[string]any)
	items := root["items♭"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, "a", items[0].(map[string]any)["_id"])
}

// S3: concurrent add from two replicas.
func TestConcurrentAdd(t *testing.T) {
	ctx := context.Background()
	origin, originAdapter := openReplica(t)
	require.NoError(t, origin.Update(ctx, map[string]any{"software": "X", "items♭": []any{}}))
	_, err := origin.Commit(ctx, nil)
	require.NoError(t, err)

	replicaA, _ := openReplica(t)
	require.NoError(t, replicaA.Meld(ctx, originAdapter))
	replicaB, adapterB := openReplica(t)
	require.NoError(t, replicaB.Meld(ctx, originAdapter))

	require.NoError(t, replicaA.Update(ctx, map[string]any{
		"software": "X",
		"items♭":   []any{map[string]any{"_id": "a", "t": "foo"}},
	}))
	_, err = replicaA.Commit(ctx, nil)
	require.NoError(t, err)

	require.NoError(t, replicaB.Update(ctx, map[string]any{
		"software": "X",
		"items♭":   []any{map[string]any{"_id": "b", "t": "bar"}},
	}))
	_, err = replicaB.Commit(ctx, nil)
	require.NoError(t, err)

	require.NoError(t, replicaA.Meld(ctx, adapterB))
	require.NoError(t, replicaA.Refresh(ctx))

	value, err := replicaA.Read(ctx)
	require.NoError(t, err)
	root := value.(map[string]any)
	items := root["items♭"].([]any)
	require.Len(t, items, 2)

	ids := []string{items[0].(map[string]any)["_id"].(string), items[1].(map[string]any)["_id"].(string)}
	assert.ElementsMatch(t, []string{"a", "b"}, ids)
}

// S4: concurrent root edit produces a conflict.
func TestConcurrentRootEditConflicts(t *testing.T) {
	ctx := context.Background()
	origin, originAdapter := openReplica(t)
	require.NoError(t, origin.Update(ctx, map[string]any{"software": "X", "items♭": []any{}}))
	_, err := origin.Commit(ctx, nil)
	require.NoError(t, err)

	replicaA, _ := openReplica(t)
	require.NoError(t, replicaA.Meld(ctx, originAdapter))
	replicaB, adapterB := openReplica(t)
	require.NoError(t, replicaB.Meld(ctx, originAdapter))

	require.NoError(t, replicaA.Update(ctx, map[string]any{"software": "Z", "items♭": []any{}}))
	_, err = replicaA.Commit(ctx, nil)
	require.NoError(t, err)

	require.NoError(t, replicaB.Update(ctx, map[string]any{"software": "Y", "items♭": []any{}}))
	_, err = replicaB.Commit(ctx, nil)
	require.NoError(t, err)

	require.NoError(t, replicaA.Meld(ctx, adapterB))

	assert.Equal(t, []string{object.RootID}, replicaA.InConflict())
	assert.Len(t, replicaA.Leaves(object.RootID), 2)
}

// S5: resolve a conflict.
func TestResolveConflict(t *testing.T) {
	ctx := context.Background()
	origin, originAdapter := openReplica(t)
	require.NoError(t, origin.Update(ctx, map[string]any{"software": "X", "items♭": []any{}}))
	_, err := origin.Commit(ctx, nil)
	require.NoError(t, err)

	replicaA, _ := openReplica(t)
	require.NoError(t, replicaA.Meld(ctx, originAdapter))
	replicaB, adapterB := openReplica(t)
	require.NoError(t, replicaB.Meld(ctx, originAdapter))

	require.NoError(t, replicaA.Update(ctx, map[string]any{"software": "Z", "items♭": []any{}}))
	_, err = replicaA.Commit(ctx, nil)
	require.NoError(t, err)

	require.NoError(t, replicaB.Update(ctx, map[string]any{"software": "Y", "items♭": []any{}}))
	_, err = replicaB.Commit(ctx, nil)
	require.NoError(t, err)

	require.NoError(t, replicaA.Meld(ctx, adapterB))
	require.Len(t, replicaA.InConflict(), 1)

	leaves := replicaA.Leaves(object.RootID)
	require.Len(t, leaves, 2)
	winner := leaves[0]
	for _, l := range leaves[1:] {
		if object.CompareRevisions(l, winner) > 0 {
			winner = l
		}
	}

	newRev, err := replicaA.ResolveAs(object.RootID, winner)
	require.NoError(t, err)
	assert.Equal(t, 3, newRev.Gen())
	assert.Empty(t, replicaA.InConflict())
}

// S6: reload to origin.
func TestReloadToOrigin(t *testing.T) {
	ctx := context.Background()
	r, _ := openReplica(t)

	require.NoError(t, r.Update(ctx, map[string]any{"software": "X", "items♭": []any{}}))
	origin, err := r.Commit(ctx, nil)
	require.NoError(t, err)

	require.NoError(t, r.Update(ctx, map[string]any{
		"software": "X",
		"items♭":   []any{map[string]any{"_id": "a", "t": "foo"}},
	}))
	_, err = r.Commit(ctx, nil)
	require.NoError(t, err)

	require.NoError(t, r.ReloadUntil(ctx, origin))

	value, err := r.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"_id": "√", "software": "X", "items♭": []any{}}, value)
}

func TestNoOpCommitWritesNothing(t *testing.T) {
	ctx := context.Background()
	r, ad := openReplica(t)

	require.NoError(t, r.Update(ctx, map[string]any{"software": "X", "items♭": []any{}}))
	_, err := r.Commit(ctx, nil)
	require.NoError(t, err)

	blockKeysBefore, err := ad.ListObjects(ctx, "delta/")
	require.NoError(t, err)

	require.NoError(t, r.Update(ctx, map[string]any{"software": "X", "items♭": []any{}}))
	blockID, err := r.Commit(ctx, nil)
	require.NoError(t, err)
	assert.Nil(t, blockID)

	blockKeysAfter, err := ad.ListObjects(ctx, "delta/")
	require.NoError(t, err)
	assert.Equal(t, blockKeysBefore, blockKeysAfter)
}
