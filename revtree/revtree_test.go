package revtree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func leaf(rev string, seq int64) *Value {
	return &Value{BodyPtr: "ptr-" + rev, Seq: seq}
}

func TestMergeFreshDocument(t *testing.T) {
	tree := &Tree{}
	merged, conflicts, unchanged := Merge(tree, Path{Pos: 1, Revs: []string{"rev1"}, Value: leaf("rev1", 1)}, 1000)
	require.False(t, unchanged)
	require.False(t, conflicts)

	leafs := GetAllLeafs(merged)
	require.Len(t, leafs, 1)
	assert.Equal(t, "rev1", leafs[0].Rev)
	assert.EqualValues(t, 1, leafs[0].Pos)
}

func TestMergeLinearEdit(t *testing.T) {
	tree := &Tree{}
	tree, _, _ = Merge(tree, Path{Pos: 1, Revs: []string{"rev1"}, Value: leaf("rev1", 1)}, 1000)
	tree, conflicts, unchanged := Merge(tree, Path{Pos: 2, Revs: []string{"rev2", "rev1"}, Value: leaf("rev2", 2)}, 1000)

	require.False(t, unchanged)
	require.False(t, conflicts)
	leafs := GetAllLeafs(tree)
	require.Len(t, leafs, 1)
	assert.Equal(t, "rev2", leafs[0].Rev)
}

func TestMergeConflictingBranch(t *testing.T) {
	tree := &Tree{}
	tree, _, _ = Merge(tree, Path{Pos: 1, Revs: []string{"rev1"}, Value: leaf("rev1", 1)}, 1000)
	tree, _, _ = Merge(tree, Path{Pos: 2, Revs: []string{"rev2", "rev1"}, Value: leaf("rev2", 2)}, 1000)

	// replication submits a second child of rev1 -- a genuine fork
	tree, conflicts, unchanged := Merge(tree, Path{Pos: 2, Revs: []string{"revX", "rev1"}, Value: leaf("revX", 3)}, 1000)
	require.False(t, unchanged)
	require.True(t, conflicts)

	leafs := GetAllLeafs(tree)
	require.Len(t, leafs, 2)
}

func TestMergeDuplicateIsIdempotent(t *testing.T) {
	tree := &Tree{}
	tree, _, _ = Merge(tree, Path{Pos: 1, Revs: []string{"rev1"}, Value: leaf("rev1", 1)}, 1000)
	before := GetAllLeafs(tree)

	tree, conflicts, unchanged := Merge(tree, Path{Pos: 1, Revs: []string{"rev1"}, Value: leaf("rev1", 1)}, 1000)
	require.True(t, unchanged)
	require.False(t, conflicts)
	assert.Equal(t, before, GetAllLeafs(tree))
}

func TestRemoveLeafs(t *testing.T) {
	tree := &Tree{}
	tree, _, _ = Merge(tree, Path{Pos: 1, Revs: []string{"rev1"}, Value: leaf("rev1", 1)}, 1000)
	tree, _, _ = Merge(tree, Path{Pos: 2, Revs: []string{"rev2", "rev1"}, Value: leaf("rev2", 2)}, 1000)
	tree, _, _ = Merge(tree, Path{Pos: 2, Revs: []string{"revX", "rev1"}, Value: leaf("revX", 3)}, 1000)

	require.Len(t, GetAllLeafs(tree), 2)

	tree, removed := RemoveLeafs(tree, []string{"revX"})
	assert.Equal(t, []string{"revX"}, removed)

	leafs := GetAllLeafs(tree)
	require.Len(t, leafs, 1)
	assert.Equal(t, "rev2", leafs[0].Rev)
}

func TestStemCapsDepth(t *testing.T) {
	tree := &Tree{}
	tree, _, _ = Merge(tree, Path{Pos: 1, Revs: []string{"rev1"}, Value: leaf("rev1", 1)}, 1000)
	for i := 2; i <= 5; i++ {
		revs := make([]string, 0, i)
		for g := i; g >= 1; g-- {
			revs = append(revs, revName(g))
		}
		tree, _, _ = Merge(tree, Path{Pos: int64(i), Revs: revs, Value: leaf(revName(i), int64(i))}, 3)
	}

	assert.LessOrEqual(t, Depth(tree), 3)
	leafs := GetAllLeafs(tree)
	require.Len(t, leafs, 1)
	assert.Equal(t, "rev5", leafs[0].Rev)
}

func revName(gen int) string {
	switch gen {
	case 1:
		return "rev1"
	case 2:
		return "rev2"
	case 3:
		return "rev3"
	case 4:
		return "rev4"
	case 5:
		return "rev5"
	}
	return "?"
}
