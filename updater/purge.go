package updater

import (
	"encoding/json"

	"mvccdb"
	"mvccdb/codec"
	"mvccdb/doc"
	"mvccdb/revtree"
	"mvccdb/store"
)

// handlePurge implements §4.5: irrevocable removal of specific (id, [rev])
// pairs. Refused outright while a compactor is running, since compaction
// reads a point-in-time view of the by-seq tree that a concurrent purge
// would invalidate.
func (d *Database) handlePurge(req *PurgeRequest) {
	if d.compactor != nil {
		req.Reply <- PurgeReply{Err: mvccdb.ErrPurgeDuringCompaction}
		return
	}

	batchW := d.engine.NewBatch()
	var actuallyPurged []PurgePair

	for _, pair := range req.Pairs {
		info, err := d.lookupFullDocInfo(pair.ID)
		if err != nil {
			batchW.Discard()
			req.Reply <- PurgeReply{Err: err}
			return
		}
		if info.RevTree == nil {
			continue
		}
		oldSeq := revtree.MaxLeafSeq(info.RevTree)

		newTree, removed := revtree.RemoveLeafs(info.RevTree, pair.Revs)
		if len(removed) == 0 {
			continue
		}

		// Remap surviving leaves to fresh, strictly increasing seqs.
		leafRevs := make(map[string]bool)
		for _, l := range revtree.GetAllLeafs(newTree) {
			leafRevs[l.Rev] = true
		}
		newTree, _ = revtree.MapFold(newTree, struct{}{}, func(_ struct{}, _ int64, rev string, v *revtree.Value) (*revtree.Value, struct{}) {
			if v == nil || !leafRevs[rev] {
				return v, struct{}{}
			}
			d.updateSeq++
			nv := *v
			nv.Seq = d.updateSeq
			return &nv, struct{}{}
		})

		if oldSeq > 0 {
			if err := batchW.DeleteBySeq(oldSeq); err != nil {
				batchW.Discard()
				req.Reply <- PurgeReply{Err: err}
				return
			}
		}

		leafs := revtree.GetAllLeafs(newTree)
		if len(leafs) == 0 {
			if err := batchW.DeleteByID(pair.ID); err != nil {
				batchW.Discard()
				req.Reply <- PurgeReply{Err: err}
				return
			}
		} else {
			newInfo := &doc.FullDocInfo{ID: pair.ID, RevTree: newTree, UpdateSeq: revtree.MaxLeafSeq(newTree)}
			entry := codec.ByIDSplit(newInfo)
			buf, err := json.Marshal(entry)
			if err != nil {
				batchW.Discard()
				req.Reply <- PurgeReply{Err: err}
				return
			}
			if err := batchW.PutByID(pair.ID, buf); err != nil {
				batchW.Discard()
				req.Reply <- PurgeReply{Err: err}
				return
			}
			seqEntry := codec.BySeqSplit(fullToDocInfo(newInfo))
			sbuf, err := json.Marshal(seqEntry)
			if err != nil {
				batchW.Discard()
				req.Reply <- PurgeReply{Err: err}
				return
			}
			if err := batchW.PutBySeq(newInfo.UpdateSeq, sbuf); err != nil {
				batchW.Discard()
				req.Reply <- PurgeReply{Err: err}
				return
			}
		}

		actuallyPurged = append(actuallyPurged, PurgePair{ID: pair.ID, Revs: removed})
	}

	if len(actuallyPurged) == 0 {
		batchW.Discard()
		req.Reply <- PurgeReply{NewPurgeSeq: d.purgeSeq, Purged: nil}
		return
	}

	purgedBuf, err := json.Marshal(actuallyPurged)
	if err != nil {
		batchW.Discard()
		req.Reply <- PurgeReply{Err: err}
		return
	}
	ptr := "purged-" + store.NewBodyPtr()
	if err := batchW.PutLocal("_purged/"+ptr, purgedBuf); err != nil {
		batchW.Discard()
		req.Reply <- PurgeReply{Err: err}
		return
	}

	if err := batchW.Commit(); err != nil {
		req.Reply <- PurgeReply{Err: err}
		return
	}

	d.purgeSeq++
	d.purgedDocsPtr = ptr
	if err := d.commitData(false); err != nil {
		req.Reply <- PurgeReply{Err: err}
		return
	}

	req.Reply <- PurgeReply{NewPurgeSeq: d.purgeSeq, Purged: actuallyPurged}
}
