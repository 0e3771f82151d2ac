package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mvccdb/doc"
	"mvccdb/revtree"
)

func int64p(v int64) *int64 { return &v }

func TestByIDRoundTrip(t *testing.T) {
	tree := &revtree.Tree{}
	tree, _, _ = revtree.Merge(tree, revtree.Path{
		Pos: 1, Revs: []string{"rev1"},
		Value: &revtree.Value{BodyPtr: "p1", Seq: 5, Size: int64p(10)},
	}, 1000)

	info := &doc.FullDocInfo{ID: "doc1", RevTree: tree}
	entry := ByIDSplit(info)
	assert.Equal(t, "doc1", entry.ID)
	assert.EqualValues(t, 5, entry.HighSeq)

	back := ByIDJoin(entry)
	assert.Equal(t, "doc1", back.ID)
	require.NotNil(t, back.LeafsSize)
	assert.EqualValues(t, 10, *back.LeafsSize)
}

func TestByIDJoinPropagatesUnknownSize(t *testing.T) {
	tree := &revtree.Tree{}
	tree, _, _ = revtree.Merge(tree, revtree.Path{
		Pos: 1, Revs: []string{"rev1"},
		Value: &revtree.Value{BodyPtr: "p1", Seq: 1},
	}, 1000)

	entry := ByIDEntry{ID: "doc1", DiskTree: tree}
	back := ByIDJoin(entry)
	assert.Nil(t, back.LeafsSize)
}

func TestBySeqRoundTrip(t *testing.T) {
	info := &doc.DocInfo{
		ID:      "doc1",
		HighSeq: 3,
		Revs: []doc.RevInfo{
			{Rev: "rev1", Seq: 1, Deleted: false},
			{Rev: "rev2", Seq: 2, Deleted: true},
			{Rev: "rev3", Seq: 3, Deleted: false},
		},
	}
	entry := BySeqSplit(info)
	back := BySeqJoin(entry)
	assert.Equal(t, info.Revs, back.Revs)
}

func TestByIDReduceRereduce(t *testing.T) {
	infos := []*doc.FullDocInfo{
		{Deleted: false, LeafsSize: int64p(5)},
		{Deleted: true, LeafsSize: int64p(3)},
		{Deleted: false, LeafsSize: nil},
	}
	r := ByIDReduce(infos)
	assert.EqualValues(t, 2, r.NotDeleted)
	assert.EqualValues(t, 1, r.Deleted)
	assert.Nil(t, r.TotalSize)

	known := ByIDReduce(infos[:2])
	require.NotNil(t, known.TotalSize)
	assert.EqualValues(t, 8, *known.TotalSize)

	merged := ByIDRereduce([]ByIDReduction{r, known})
	assert.EqualValues(t, 3, merged.NotDeleted)
	assert.EqualValues(t, 2, merged.Deleted)
	assert.Nil(t, merged.TotalSize)
}

func TestBySeqReduceRereduce(t *testing.T) {
	infos := []*doc.DocInfo{{ID: "a"}, {ID: "b"}}
	assert.EqualValues(t, 2, BySeqReduce(infos))
	assert.EqualValues(t, 5, BySeqRereduce([]int64{2, 3}))
}
