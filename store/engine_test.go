package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"mvccdb/doc"
)

func TestHeaderRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")
	eng, err := Open(path)
	require.NoError(t, err)
	defer eng.Close()

	h, err := eng.ReadHeader()
	require.NoError(t, err)
	require.Nil(t, h)

	want := doc.DefaultHeader(1000)
	require.NoError(t, eng.WriteHeader(want))

	got, err := eng.ReadHeader()
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestBatchByIDPutLookupFold(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")
	eng, err := Open(path)
	require.NoError(t, err)
	defer eng.Close()

	b := eng.NewBatch()
	require.NoError(t, b.PutByID("doc1", []byte("v1")))
	require.NoError(t, b.PutByID("doc2", []byte("v2")))
	require.NoError(t, b.Commit())

	val, ok, err := eng.LookupByID("doc1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v1"), val)

	seen := map[string][]byte{}
	require.NoError(t, eng.FoldByID(func(id string, value []byte) (bool, error) {
		seen[id] = value
		return true, nil
	}))
	require.Len(t, seen, 2)
}

func TestBodyCopyAcrossEngines(t *testing.T) {
	srcPath := filepath.Join(t.TempDir(), "src")
	dstPath := filepath.Join(t.TempDir(), "dst")
	src, err := Open(srcPath)
	require.NoError(t, err)
	defer src.Close()
	dst, err := Open(dstPath)
	require.NoError(t, err)
	defer dst.Close()

	ptr := NewBodyPtr()
	b := src.NewBatch()
	require.NoError(t, b.PutBody(ptr, []byte(`{"a":1}`)))
	require.NoError(t, b.Commit())

	newPtr, err := CopyBody(src, ptr, dst)
	require.NoError(t, err)
	require.NotEqual(t, ptr, newPtr)

	body, err := dst.GetBody(newPtr)
	require.NoError(t, err)
	require.Equal(t, []byte(`{"a":1}`), body)
}
