package compactor

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"mvccdb"
	"mvccdb/codec"
	"mvccdb/doc"
	"mvccdb/revtree"
	"mvccdb/store"
)

func seedDoc(t *testing.T, eng *store.Engine, id string, seq int64, body []byte) {
	t.Helper()
	ptr := store.NewBodyPtr()
	b := eng.NewBatch()
	require.NoError(t, b.PutBody(ptr, body))

	tree := &revtree.Tree{}
	tree, _, _ = revtree.Merge(tree, revtree.Path{
		Pos: 1, Revs: []string{"rev1"},
		Value: &revtree.Value{BodyPtr: ptr, Seq: seq},
	}, 1000)

	info := &doc.FullDocInfo{ID: id, RevTree: tree, UpdateSeq: seq}
	entry := codec.ByIDSplit(info)
	buf, err := json.Marshal(entry)
	require.NoError(t, err)
	require.NoError(t, b.PutByID(id, buf))

	seqEntry := codec.BySeqSplit(&doc.DocInfo{ID: id, HighSeq: seq, Revs: []doc.RevInfo{{Rev: "rev1", Pos: 1, Seq: seq, BodyPtr: ptr}}})
	sbuf, err := json.Marshal(seqEntry)
	require.NoError(t, err)
	require.NoError(t, b.PutBySeq(seq, sbuf))

	require.NoError(t, b.Commit())
}

func TestCompactorCopiesAllDocs(t *testing.T) {
	srcPath := filepath.Join(t.TempDir(), "src")
	src, err := store.Open(srcPath)
	require.NoError(t, err)
	defer src.Close()
	require.NoError(t, src.WriteHeader(doc.DefaultHeader(1000)))

	for i := int64(1); i <= 5; i++ {
		seedDoc(t, src, "doc"+string(rune('0'+i)), i, []byte(`{"n":1}`))
	}

	cfg := mvccdb.DefaultConfig()
	cfg.DocBufferSize = 1
	cfg.CheckpointAfter = 1

	targetPath := filepath.Join(t.TempDir(), "target")
	res, err := Run(src, targetPath, 0, "", 1000, cfg, nil)
	require.NoError(t, err)
	require.EqualValues(t, 5, res.TargetUpdateSeq)

	target, err := store.Open(targetPath)
	require.NoError(t, err)
	defer target.Close()

	count := 0
	require.NoError(t, target.FoldByID(func(id string, value []byte) (bool, error) {
		count++
		return true, nil
	}))
	require.Equal(t, 5, count)
}
