package revtree

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/meldadb/melda/object"
)

func rev(id string) object.RevID { return object.RevID(id) }

func insertChain(t *Tree, id string, parents ...string) {
	ps := make([]object.RevID, len(parents))
	for i, p := range parents {
		ps[i] = rev(p)
	}
	t.Insert(rev(id), Entry{Parents: ps, ValueHash: object.Sum([]byte(id))})
}

func TestWinnerPrefersHighestGenThenLargestHash(t *testing.T) {
	tree := New()
	insertChain(tree, "1-abc")
	insertChain(tree, "2-abc_cde", "1-abc")
	insertChain(tree, "3-abc_cde", "2-abc_cde")
	insertChain(tree, "3-xyz_cde", "2-abc_cde")
	insertChain(tree, "3-aaa_cde", "2-abc_cde")
	insertChain(tree, "4-r_cde", "3-aaa_cde")

	assert.Equal(t, rev("4-r_cde"), tree.Winner())
}

func TestLeavesExcludeNonTerminalRevisions(t *testing.T) {
	tree := New()
	insertChain(tree, "1-abc")
	insertChain(tree, "2-abc_cde", "1-abc")
	insertChain(tree, "3-abc_cde", "2-abc_cde")
	insertChain(tree, "3-xyz_cde", "2-abc_cde")
	insertChain(tree, "3-aaa_cde", "2-abc_cde")
	insertChain(tree, "4-r_cde", "3-aaa_cde")
	insertChain(tree, "4-xyz_cde", "3-xyz_cde")

	leaves := tree.Leaves()
	assert.ElementsMatch(t, []object.RevID{"3-abc_cde", "4-r_cde", "4-xyz_cde"}, leaves)
}

func TestInsertIsIdempotent(t *testing.T) {
	tree := New()
	insertChain(tree, "1-abc")
	insertChain(tree, "1-abc")
	assert.Len(t, tree.Leaves(), 1)
}

func TestOutOfOrderParentsGraduateOnArrival(t *testing.T) {
	tree := New()
	// Child arrives before its parent: held pending, not a leaf yet.
	insertChain(tree, "2-child", "1-parent")
	assert.Equal(t, 1, tree.PendingCount())
	assert.Empty(t, tree.Leaves())

	insertChain(tree, "1-parent")
	assert.Equal(t, 0, tree.PendingCount())
	assert.ElementsMatch(t, []object.RevID{"2-child"}, tree.Leaves())
}

func TestDeletionRevisionCanWin(t *testing.T) {
	tree := New()
	insertChain(tree, "1-abc")
	tree.Insert(rev("2-def"), Entry{Parents: []object.RevID{rev("1-abc")}, Deleted: true})

	assert.Equal(t, rev("2-def"), tree.Winner())
	entry, ok := tree.Get(rev("2-def"))
	assert.True(t, ok)
	assert.True(t, entry.Deleted)
}

func TestIsAncestor(t *testing.T) {
	tree := New()
	insertChain(tree, "1-abc")
	insertChain(tree, "2-abc_cde", "1-abc")
	insertChain(tree, "3-abc_cde", "2-abc_cde")

	assert.True(t, tree.IsAncestor(rev("1-abc"), rev("3-abc_cde")))
	assert.False(t, tree.IsAncestor(rev("3-abc_cde"), rev("1-abc")))
	assert.True(t, tree.IsAncestor(rev("3-abc_cde"), rev("3-abc_cde")))
}

func TestIndependentsDropsAncestors(t *testing.T) {
	tree := New()
	insertChain(tree, "1-abc")
	insertChain(tree, "2-abc_cde", "1-abc")
	insertChain(tree, "3-x", "2-abc_cde")
	insertChain(tree, "3-y", "2-abc_cde")

	independents := tree.Independents([]object.RevID{rev("1-abc"), rev("3-x"), rev("3-y")})
	assert.ElementsMatch(t, []object.RevID{"3-x", "3-y"}, independents)
}
