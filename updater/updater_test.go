package updater

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"mvccdb"
)

func openTestDB(t *testing.T) *Database {
	t.Helper()
	cfg := mvccdb.DefaultConfig()
	path := filepath.Join(t.TempDir(), "db")
	d, err := Open("test", path, cfg, true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestFreshCreateOneDoc(t *testing.T) {
	d := openTestDB(t)

	reply, err := d.UpdateDocs(&UpdateDocsRequest{
		Groups: []Group{{ID: "a", Docs: []IncomingDoc{{ID: "a", Ref: "r1", Pos: 0, Rev: "", Body: []byte(`{"v":1}`)}}}},
		FullCommit: true,
	})
	require.NoError(t, err)
	require.Len(t, reply.Results, 1)
	require.NoError(t, reply.Results[0].Err)
	require.EqualValues(t, 1, reply.Results[0].Pos)

	snap, err := d.GetDB()
	require.NoError(t, err)
	require.EqualValues(t, 1, snap.UpdateSeq)
	require.EqualValues(t, 0, snap.PurgeSeq)
}

func TestEditThenConflict(t *testing.T) {
	d := openTestDB(t)

	r1, err := d.UpdateDocs(&UpdateDocsRequest{
		Groups: []Group{{ID: "a", Docs: []IncomingDoc{{ID: "a", Ref: "r1", Pos: 0, Body: []byte(`{"v":1}`)}}}},
	})
	require.NoError(t, err)
	rev1 := r1.Results[0].Rev

	r2, err := d.UpdateDocs(&UpdateDocsRequest{
		Groups: []Group{{ID: "a", Docs: []IncomingDoc{{ID: "a", Ref: "r2", Pos: 1, PrevRevs: []string{rev1}, Body: []byte(`{"v":2}`)}}}},
	})
	require.NoError(t, err)
	require.NoError(t, r2.Results[0].Err)

	r3, err := d.UpdateDocs(&UpdateDocsRequest{
		Groups: []Group{{ID: "a", Docs: []IncomingDoc{{ID: "a", Ref: "r3", Pos: 1, PrevRevs: []string{rev1}, Body: []byte(`{"v":3}`)}}}},
	})
	require.NoError(t, err)
	require.Error(t, r3.Results[0].Err)
	require.ErrorIs(t, r3.Results[0].Err, mvccdb.ErrConflict)
}

func TestReplicationWithConflicts(t *testing.T) {
	d := openTestDB(t)

	_, err := d.UpdateDocs(&UpdateDocsRequest{
		Groups: []Group{{ID: "a", Docs: []IncomingDoc{{ID: "a", Ref: "r1", Pos: 0, Body: []byte(`{"v":1}`)}}}},
	})
	require.NoError(t, err)

	r2, err := d.UpdateDocs(&UpdateDocsRequest{
		Groups:         []Group{{ID: "a", Docs: []IncomingDoc{{ID: "a", Ref: "r2", Pos: 1, PrevRevs: []string{"revX"}, Body: []byte(`{"v":2}`)}}}},
		MergeConflicts: true,
	})
	require.NoError(t, err)
	require.NoError(t, r2.Results[0].Err)
}

func TestPurgeALeaf(t *testing.T) {
	d := openTestDB(t)

	r1, err := d.UpdateDocs(&UpdateDocsRequest{
		Groups: []Group{{ID: "a", Docs: []IncomingDoc{{ID: "a", Ref: "r1", Pos: 0, Body: []byte(`{"v":1}`)}}}},
	})
	require.NoError(t, err)
	rev1 := r1.Results[0].Rev

	purged, err := d.PurgeDocs([]PurgePair{{ID: "a", Revs: []string{rev1}}})
	require.NoError(t, err)
	require.EqualValues(t, 1, purged.NewPurgeSeq)
	require.Len(t, purged.Purged, 1)
}

func TestLocalDocSetAndConflict(t *testing.T) {
	d := openTestDB(t)

	r1, err := d.UpdateDocs(&UpdateDocsRequest{
		NonRepDocs: []LocalDoc{{ID: "_local/checkpoint", Ref: "lr1", PrevRev: "0", Body: []byte("v1")}},
	})
	require.NoError(t, err)
	require.Len(t, r1.LocalResults, 1)
	require.NoError(t, r1.LocalResults[0].Err)
	require.Equal(t, "1", r1.LocalResults[0].Rev)

	r2, err := d.UpdateDocs(&UpdateDocsRequest{
		NonRepDocs: []LocalDoc{{ID: "_local/checkpoint", Ref: "lr2", PrevRev: "0", Body: []byte("v2")}},
	})
	require.NoError(t, err)
	require.Error(t, r2.LocalResults[0].Err)
}
