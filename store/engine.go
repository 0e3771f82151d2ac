// Package store is the concrete backing engine for the updater and
// compactor: it stands in for the design's "File" and "B+-tree" external
// collaborators, both implemented on top of a single embedded Badger
// instance per database rather than a hand-rolled append-only file format.
//
// Badger's own LSM compaction is not reused to implement MVCC document
// compaction -- that remains the compactor package's job -- but its
// transactional KV primitives (ordered iteration, MVCC snapshots, atomic
// batched writes) are exactly the "open/lookup/add_remove/foldl, stateful
// on-disk roots" shape the design asks of a B+-tree collaborator.
package store

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"mvccdb/doc"
	"mvccdb/internal/corelog"
)

// key-space prefixes within the single Badger keyspace, one per sub-tree.
const (
	prefixByID   = "i:"
	prefixBySeq  = "s:"
	prefixLocal  = "l:"
	prefixHeader = "h:header"
)

// Engine owns one Badger database file and exposes the header and sub-tree
// operations the updater and compactor need. It satisfies the design's
// File + B+-tree collaborator interfaces in spirit: open/close, header
// read/write, and per-sub-tree lookup/add_remove/foldl.
type Engine struct {
	path string
	db   *badger.DB
}

// Open opens (creating if necessary) the database at path. A stale
// "<path>.compact" sidecar from a previous crashed compaction is removed,
// matching the design's "reopen deletes any stale sidecar" rule.
func Open(path string) (*Engine, error) {
	sidecar := path + ".compact"
	if _, err := os.Stat(sidecar); err == nil {
		corelog.Warn("removing stale compaction sidecar", zap.String("path", sidecar))
		if rmErr := os.RemoveAll(sidecar); rmErr != nil {
			return nil, rmErr
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &Engine{path: path, db: db}, nil
}

// CompactSidecarPath returns the path the compactor should open its target
// engine at.
func (e *Engine) CompactSidecarPath() string { return e.path + ".compact" }

// Path returns the engine's backing path.
func (e *Engine) Path() string { return e.path }

// Close flushes and closes the backing database.
func (e *Engine) Close() error { return e.db.Close() }

// Sync forces a value-log and LSM sync, the Badger analog of fsync.
func (e *Engine) Sync() error { return e.db.Sync() }

// Delete removes the database directory entirely. Used when a database is
// dropped, not during normal compaction (which renames instead).
func (e *Engine) Delete() error {
	if err := e.db.Close(); err != nil {
		return err
	}
	return os.RemoveAll(e.path)
}

// ReadHeader loads the header record as stored, without upgrading an older
// disk version (updater.Open does that). Returns (nil, nil) on a fresh,
// headerless database.
func (e *Engine) ReadHeader() (*doc.Header, error) {
	var h *doc.Header
	err := e.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixHeader))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var raw doc.Header
			if jsonErr := json.Unmarshal(val, &raw); jsonErr != nil {
				return jsonErr
			}
			h = &raw
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}

// WriteHeader persists the header record. Committing a Badger write batch
// is itself the durability point this stands in for "append_raw_chunk then
// sync" in the design's commit protocol.
func (e *Engine) WriteHeader(h *doc.Header) error {
	buf, err := json.Marshal(h)
	if err != nil {
		return err
	}
	return e.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(prefixHeader), buf)
	})
}

// NewBodyPtr mints an opaque body pointer for a freshly appended document
// body, standing in for the design's file-offset body_ptr.
func NewBodyPtr() string { return uuid.NewString() }

// Batch accumulates a set of sub-tree mutations that commit atomically,
// mirroring add_remove's ability to add and remove keys in one pass.
type Batch struct {
	txn *badger.Txn
	eng *Engine
}

// NewBatch starts a write batch against the engine.
func (e *Engine) NewBatch() *Batch {
	return &Batch{txn: e.db.NewTransaction(true), eng: e}
}

// Commit flushes the batch, returning ErrConflict-shaped errors from Badger
// (e.g. ErrTxnTooBig, ErrConflict) to the caller for translation.
func (b *Batch) Commit() error { return b.txn.Commit() }

// Discard abandons the batch without committing.
func (b *Batch) Discard() { b.txn.Discard() }

func byIDKey(id string) []byte  { return append([]byte(prefixByID), id...) }
func bySeqKey(seq int64) []byte { return append([]byte(prefixBySeq), encodeSeq(seq)...) }
func localKey(id string) []byte { return append([]byte(prefixLocal), id...) }

// encodeSeq big-endian-encodes a sequence number so lexicographic Badger
// iteration order matches numeric order, matching the by-seq tree's
// "keyed by update sequence" invariant.
func encodeSeq(seq int64) []byte {
	buf := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		buf[i] = byte(seq)
		seq >>= 8
	}
	return buf
}

// PutByID writes one by_id entry within the batch.
func (b *Batch) PutByID(id string, value []byte) error {
	return b.txn.Set(byIDKey(id), value)
}

// DeleteByID removes a by_id entry within the batch.
func (b *Batch) DeleteByID(id string) error { return b.txn.Delete(byIDKey(id)) }

// PutBySeq writes one by_seq entry within the batch.
func (b *Batch) PutBySeq(seq int64, value []byte) error {
	return b.txn.Set(bySeqKey(seq), value)
}

// DeleteBySeq removes a stale by_seq entry (a document's previous HighSeq
// row) within the batch, matching the design's "remove the old by_seq
// row before inserting the new one" update rule.
func (b *Batch) DeleteBySeq(seq int64) error { return b.txn.Delete(bySeqKey(seq)) }

// PutLocal writes one local-doc entry within the batch.
func (b *Batch) PutLocal(id string, value []byte) error { return b.txn.Set(localKey(id), value) }

// DeleteLocal removes a local-doc entry within the batch.
func (b *Batch) DeleteLocal(id string) error { return b.txn.Delete(localKey(id)) }

// LookupByID fetches one by_id entry outside of any batch.
func (e *Engine) LookupByID(id string) ([]byte, bool, error) {
	return e.lookup(byIDKey(id))
}

// LookupLocal fetches one local-doc entry outside of any batch.
func (e *Engine) LookupLocal(id string) ([]byte, bool, error) {
	return e.lookup(localKey(id))
}

func (e *Engine) lookup(key []byte) ([]byte, bool, error) {
	var out []byte
	err := e.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return out, out != nil, nil
}

// FoldByID walks every by_id entry in key order, stopping early if fn
// returns false. This is the by_id tree's "foldl" collaborator operation.
func (e *Engine) FoldByID(fn func(id string, value []byte) (bool, error)) error {
	return e.foldPrefix(prefixByID, func(key string, value []byte) (bool, error) {
		return fn(key[len(prefixByID):], value)
	})
}

// FoldBySeq walks every by_seq entry in sequence order. This is the by_seq
// tree's "foldl" collaborator operation, used by the compactor's copy loop
// and by changes-feed-style consumers.
func (e *Engine) FoldBySeq(fn func(seq int64, value []byte) (bool, error)) error {
	return e.foldPrefix(prefixBySeq, func(key string, value []byte) (bool, error) {
		raw := []byte(key)[len(prefixBySeq):]
		var seq int64
		for _, b := range raw {
			seq = (seq << 8) | int64(b)
		}
		return fn(seq, value)
	})
}

// FoldLocal walks every local-doc entry in key order. Used by compaction
// hand-off to carry local docs into the freshly swapped-in target.
func (e *Engine) FoldLocal(fn func(id string, value []byte) (bool, error)) error {
	return e.foldPrefix(prefixLocal, func(key string, value []byte) (bool, error) {
		return fn(key[len(prefixLocal):], value)
	})
}

func (e *Engine) foldPrefix(prefix string, fn func(key string, value []byte) (bool, error)) error {
	return e.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
			item := it.Item()
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			cont, err := fn(string(item.Key()), val)
			if err != nil {
				return err
			}
			if !cont {
				return nil
			}
		}
		return nil
	})
}

// CopyBody copies one document body from the source engine into dst,
// returning a fresh body pointer. This plays the role of the design's
// Stream collaborator's copy_to_new_stream during compaction: bodies move
// to the new file, keyed by a new pointer, without the updater interpreting
// their contents.
func CopyBody(src *Engine, srcPtr string, dst *Engine) (string, error) {
	body, ok, err := src.lookup([]byte("b:" + srcPtr))
	if err != nil {
		return "", err
	}
	if !ok {
		return "", badger.ErrKeyNotFound
	}
	newPtr := NewBodyPtr()
	err = dst.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte("b:"+newPtr), body)
	})
	if err != nil {
		return "", err
	}
	return newPtr, nil
}

// PutBody stores a document body directly, used by the write pipeline
// before the by_id/by_seq entries referencing its pointer are committed.
func (b *Batch) PutBody(ptr string, body []byte) error {
	return b.txn.Set([]byte("b:"+ptr), body)
}

// GetBody fetches a document body by pointer.
func (e *Engine) GetBody(ptr string) ([]byte, error) {
	val, ok, err := e.lookup([]byte("b:" + ptr))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, badger.ErrKeyNotFound
	}
	return val, nil
}
