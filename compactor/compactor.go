// Package compactor implements the background rewriter that copies a
// database's live state into a sibling file and hands off to the updater
// once it has caught up to a moving target, per §4.7 of the write-path
// design. It never mutates the source database; it only reads it
// concurrently via the store engine's positional lookups and folds.
package compactor

import (
	"encoding/json"
	"sort"

	"go.uber.org/zap"

	"mvccdb"
	"mvccdb/codec"
	"mvccdb/doc"
	"mvccdb/internal/corelog"
	"mvccdb/revtree"
	"mvccdb/store"
)

// Result is what the compactor reports back to the updater for hand-off.
type Result struct {
	TargetPath      string
	TargetUpdateSeq int64
	SourceStartSeq  int64 // source.update_seq captured at fold start
}

// Run executes steps 1-4 of the compactor state machine: open target,
// carry the purge marker, copy loop, final flush. Step 5 (hand-off) is the
// updater's job, since only it may touch live state.
func Run(src *store.Engine, targetPath string, purgeSeq int64, purgedDocsPtr string, revsLimit int, cfg mvccdb.Config, cancel <-chan struct{}) (Result, error) {
	target, retry, err := openTarget(targetPath)
	if err != nil {
		return Result{}, err
	}

	if purgeSeq > 0 && purgedDocsPtr != "" {
		if raw, err := src.LookupLocal("_purged/" + purgedDocsPtr); err == nil && raw != nil {
			b := target.NewBatch()
			if err := b.PutLocal("_purged/"+purgedDocsPtr, raw); err != nil {
				target.Close()
				return Result{}, err
			}
			if err := b.Commit(); err != nil {
				target.Close()
				return Result{}, err
			}
		}
	}

	targetHeader, err := target.ReadHeader()
	if err != nil {
		target.Close()
		return Result{}, err
	}
	startAt := targetHeader.UpdateSeq + 1

	sourceStartSeq, err := copyLoop(src, target, startAt, retry, revsLimit, cfg, cancel)
	if err != nil {
		target.Close()
		return Result{}, err
	}

	final := *targetHeader
	final.UpdateSeq = sourceStartSeq
	final.PurgeSeq = purgeSeq
	final.PurgedDocsPtr = purgedDocsPtr
	final.RevsLimit = revsLimit
	if err := target.WriteHeader(&final); err != nil {
		target.Close()
		return Result{}, err
	}
	if err := target.Close(); err != nil {
		return Result{}, err
	}

	return Result{TargetPath: targetPath, TargetUpdateSeq: sourceStartSeq, SourceStartSeq: sourceStartSeq}, nil
}

func openTarget(path string) (*store.Engine, bool, error) {
	eng, err := store.Open(path)
	if err != nil {
		return nil, false, err
	}
	h, err := eng.ReadHeader()
	if err != nil {
		eng.Close()
		return nil, false, err
	}
	if h != nil {
		return eng, true, nil
	}
	if err := eng.WriteHeader(doc.DefaultHeader(1000)); err != nil {
		eng.Close()
		return nil, false, err
	}
	return eng, false, nil
}

// copyLoop folds the source's by-seq tree starting at startAt, batching
// doc_info's into flushes of at least cfg.DocBufferSize bytes and
// committing the target header every cfg.CheckpointAfter bytes copied.
func copyLoop(src, target *store.Engine, startAt int64, retry bool, revsLimit int, cfg mvccdb.Config, cancel <-chan struct{}) (int64, error) {
	var buffer []*doc.DocInfo
	var bufferedBytes int
	var copiedSinceCheckpoint int
	var maxSeqSeen int64

	flush := func() error {
		if len(buffer) == 0 {
			return nil
		}
		if err := flushBatch(src, target, buffer, retry, revsLimit); err != nil {
			return err
		}
		for _, info := range buffer {
			if info.HighSeq > maxSeqSeen {
				maxSeqSeen = info.HighSeq
			}
		}
		copiedSinceCheckpoint += bufferedBytes
		buffer = nil
		bufferedBytes = 0
		if copiedSinceCheckpoint >= cfg.CheckpointAfter {
			if err := target.WriteHeader(mustHeaderWithSeq(target, maxSeqSeen, revsLimit)); err != nil {
				return err
			}
			copiedSinceCheckpoint = 0
		}
		return nil
	}

	err := src.FoldBySeq(func(seq int64, value []byte) (bool, error) {
		select {
		case <-cancel:
			return false, errCancelled
		default:
		}
		if seq < startAt {
			return true, nil
		}
		var entry codec.BySeqEntry
		if err := json.Unmarshal(value, &entry); err != nil {
			return false, err
		}
		info := codec.BySeqJoin(entry)
		buffer = append(buffer, info)
		bufferedBytes += len(value)
		if bufferedBytes >= cfg.DocBufferSize {
			if err := flush(); err != nil {
				return false, err
			}
		}
		return true, nil
	})
	if err == errCancelled {
		return 0, errCancelled
	}
	if err != nil {
		return 0, err
	}
	if err := flush(); err != nil {
		return 0, err
	}
	return maxSeqSeen, nil
}

func mustHeaderWithSeq(target *store.Engine, seq int64, revsLimit int) *doc.Header {
	h, err := target.ReadHeader()
	if err != nil || h == nil {
		h = doc.DefaultHeader(revsLimit)
	}
	h.UpdateSeq = seq
	return h
}

// flushBatch implements one flush of the copy loop: within a single flush,
// if multiple doc_infos share the same id (the by-seq fold can surface a
// document more than once if it was updated several times since startAt),
// keep only the first one seen and ignore the rest, then rewrite every
// leaf's body pointer into the target file, stem to revs_limit, and apply
// to both of the target's trees.
func flushBatch(src, target *store.Engine, batch []*doc.DocInfo, retry bool, revsLimit int) error {
	dedup := make(map[string]*doc.DocInfo, len(batch))
	var order []string
	for _, info := range batch {
		if _, seen := dedup[info.ID]; seen {
			continue
		}
		dedup[info.ID] = info
		order = append(order, info.ID)
	}
	sort.Strings(order)

	w := target.NewBatch()
	for _, id := range order {
		full, err := lookupFull(src, id)
		if err != nil {
			w.Discard()
			return err
		}
		if full == nil {
			continue
		}

		rewritten, _ := revtree.MapFold(full.RevTree, struct{}{}, func(_ struct{}, _ int64, _ string, v *revtree.Value) (*revtree.Value, struct{}) {
			if v == nil {
				return v, struct{}{}
			}
			newPtr, err := store.CopyBody(src, v.BodyPtr, target)
			if err != nil {
				corelog.Warn("compactor body copy failed", zap.String("id", id), zap.Error(err))
				return v, struct{}{}
			}
			nv := *v
			nv.BodyPtr = newPtr
			return &nv, struct{}{}
		})
		rewritten = revtree.Stem(rewritten, revsLimit)

		newInfo := &doc.FullDocInfo{ID: id, RevTree: rewritten, Deleted: full.Deleted, UpdateSeq: revtree.MaxLeafSeq(rewritten)}

		if retry {
			if oldRaw, ok, err := target.LookupByID(id); err == nil && ok {
				var oldEntry codec.ByIDEntry
				if jsonErr := json.Unmarshal(oldRaw, &oldEntry); jsonErr == nil {
					oldSeq := revtree.MaxLeafSeq(oldEntry.DiskTree)
					if oldSeq > 0 {
						if err := w.DeleteBySeq(oldSeq); err != nil {
							w.Discard()
							return err
						}
					}
				}
			}
		}

		entry := codec.ByIDSplit(newInfo)
		buf, err := json.Marshal(entry)
		if err != nil {
			w.Discard()
			return err
		}
		if err := w.PutByID(id, buf); err != nil {
			w.Discard()
			return err
		}
		seqEntry := codec.BySeqSplit(fullToDocInfo(newInfo))
		sbuf, err := json.Marshal(seqEntry)
		if err != nil {
			w.Discard()
			return err
		}
		if err := w.PutBySeq(newInfo.UpdateSeq, sbuf); err != nil {
			w.Discard()
			return err
		}
	}
	return w.Commit()
}

func fullToDocInfo(f *doc.FullDocInfo) *doc.DocInfo {
	info := &doc.DocInfo{ID: f.ID, HighSeq: f.UpdateSeq}
	for _, l := range revtree.GetAllLeafs(f.RevTree) {
		if l.Value == nil {
			continue
		}
		info.Revs = append(info.Revs, doc.RevInfo{Rev: l.Rev, Pos: l.Pos, Seq: l.Value.Seq, BodyPtr: l.Value.BodyPtr, Deleted: l.Value.Deleted})
	}
	return info
}

func lookupFull(src *store.Engine, id string) (*doc.FullDocInfo, error) {
	raw, ok, err := src.LookupByID(id)
	if err != nil || !ok {
		return nil, err
	}
	var entry codec.ByIDEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, err
	}
	return codec.ByIDJoin(entry), nil
}

type cancelledErr struct{}

func (cancelledErr) Error() string { return "compactor: cancelled" }

var errCancelled error = cancelledErr{}
