package updater

import (
	"encoding/json"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"mvccdb"
	"mvccdb/codec"
	"mvccdb/doc"
	"mvccdb/internal/corelog"
	"mvccdb/notify"
	"mvccdb/revtree"
	"mvccdb/store"
)

const designDocPrefix = "_design/"

// handleUpdateDocs runs the full write pipeline for one (possibly
// coalesced) batch: old-state lookup, per-doc merge with the conflict
// policy, flush, index application, and commit.
func (d *Database) handleUpdateDocs(first *UpdateDocsRequest) {
	batch := []*UpdateDocsRequest{first}
	batch = d.coalesce(batch)

	groups, nonRep, mergeConflicts, fullCommit := mergeBatch(batch)

	results, localResults, err := d.runPipeline(groups, nonRep, mergeConflicts, fullCommit)

	for _, req := range batch {
		req.Reply <- UpdateDocsReply{Results: results, LocalResults: localResults, Err: err}
	}
}

// coalesce greedily drains further update_docs messages already queued that
// share this batch's shape (empty non-replicated docs, same conflict mode),
// per (a). It never blocks: only messages already sitting in the channel
// buffer are considered.
func (d *Database) coalesce(batch []*UpdateDocsRequest) []*UpdateDocsRequest {
	if len(first(batch).NonRepDocs) > 0 {
		return batch
	}
	mode := first(batch).MergeConflicts
	for {
		select {
		case raw := <-d.cmds:
			req, ok := raw.(*UpdateDocsRequest)
			if !ok || len(req.NonRepDocs) > 0 || req.MergeConflicts != mode {
				// Not coalescable: stash it so run's next iteration dispatches
				// it before reading the channel again, preserving FIFO order.
				d.pending = raw
				return batch
			}
			batch = append(batch, req)
		default:
			return batch
		}
	}
}

func first(batch []*UpdateDocsRequest) *UpdateDocsRequest { return batch[0] }

// mergeBatch folds every request's id-sorted groups into one id-sorted list
// (stable concatenation of identical-id runs, smaller id first), unions
// local docs, and ORs full_commit across the batch.
func mergeBatch(batch []*UpdateDocsRequest) (groups []Group, nonRep []LocalDoc, mergeConflicts, fullCommit bool) {
	mergeConflicts = first(batch).MergeConflicts
	for _, req := range batch {
		groups = mergeGroups(groups, req.Groups)
		nonRep = append(nonRep, req.NonRepDocs...)
		fullCommit = fullCommit || req.FullCommit
	}
	return groups, nonRep, mergeConflicts, fullCommit
}

// mergeGroups merges two id-sorted group lists, concatenating runs that
// share an id and otherwise emitting the smaller id first -- a stable merge
// that preserves each side's internal per-id ordering.
func mergeGroups(a, b []Group) []Group {
	out := make([]Group, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i].ID == b[j].ID:
			out = append(out, Group{ID: a[i].ID, Docs: append(append([]IncomingDoc{}, a[i].Docs...), b[j].Docs...)})
			i++
			j++
		case a[i].ID < b[j].ID:
			out = append(out, a[i])
			i++
		default:
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}

// accumDoc tracks one id's in-flight mutation across (c)-(h).
type accumDoc struct {
	id         string
	old        *doc.FullDocInfo
	tree       *revtree.Tree
	changed    bool
	deleted    bool
	isDesignDoc bool
}

func (d *Database) runPipeline(groups []Group, nonRep []LocalDoc, mergeConflicts, fullCommit bool) ([]Result, []Result, error) {
	var results []Result
	accums := make([]*accumDoc, 0, len(groups))

	// (b) old-state lookup + (c) per-doc merge.
	for _, g := range groups {
		old, err := d.lookupFullDocInfo(g.ID)
		if err != nil {
			corelog.Error("old-state lookup failed", zap.String("id", g.ID), zap.Error(err))
			results = append(results, errResultsForGroup(g, err)...)
			continue
		}
		acc := &accumDoc{id: g.ID, old: old, tree: old.RevTree, deleted: old.Deleted, isDesignDoc: strings.HasPrefix(g.ID, designDocPrefix)}
		if acc.tree == nil {
			acc.tree = &revtree.Tree{}
		}
		for _, doc := range g.Docs {
			res := d.mergeOneRevision(acc, doc, mergeConflicts)
			results = append(results, res)
		}
		accums = append(accums, acc)
	}

	// (e) local docs, independent of the rev-tree pipeline.
	localResults := d.applyLocalDocs(nonRep)

	changed := make([]*accumDoc, 0, len(accums))
	for _, acc := range accums {
		if acc.changed {
			changed = append(changed, acc)
		}
	}
	if len(changed) == 0 {
		return results, localResults, nil
	}

	// (f) flush unflushed leaves, assigning fresh body pointers and a new
	// seq per id; (g) project to by-seq entries; (h) apply to both trees.
	batchW := d.engine.NewBatch()
	var ddocIDs []string
	var removeSeqs []int64

	for _, acc := range changed {
		oldSeq := revtree.MaxLeafSeq(acc.old.RevTree)
		if oldSeq > 0 {
			removeSeqs = append(removeSeqs, oldSeq)
		}

		d.updateSeq++
		newSeq := d.updateSeq

		acc.tree, _ = revtree.MapFold(acc.tree, struct{}{}, func(_ struct{}, _ int64, _ string, v *revtree.Value) (*revtree.Value, struct{}) {
			if v == nil || v.Seq != 0 {
				return v, struct{}{}
			}
			nv := *v
			nv.BodyPtr = store.NewBodyPtr()
			nv.Seq = newSeq
			return &nv, struct{}{}
		})

		newInfo := &doc.FullDocInfo{ID: acc.id, UpdateSeq: newSeq, Deleted: acc.deleted, RevTree: acc.tree}
		entry := codec.ByIDSplit(newInfo)
		buf, err := json.Marshal(entry)
		if err != nil {
			batchW.Discard()
			return results, localResults, err
		}
		if err := batchW.PutByID(acc.id, buf); err != nil {
			batchW.Discard()
			return results, localResults, err
		}

		if oldSeq > 0 {
			if err := batchW.DeleteBySeq(oldSeq); err != nil {
				batchW.Discard()
				return results, localResults, err
			}
		}
		seqEntry := codec.BySeqSplit(fullToDocInfo(newInfo))
		sbuf, err := json.Marshal(seqEntry)
		if err != nil {
			batchW.Discard()
			return results, localResults, err
		}
		if err := batchW.PutBySeq(newSeq, sbuf); err != nil {
			batchW.Discard()
			return results, localResults, err
		}

		if acc.isDesignDoc {
			ddocIDs = append(ddocIDs, acc.id)
		}
	}

	if err := batchW.Commit(); err != nil {
		return results, localResults, err
	}
	_ = removeSeqs // already applied via per-id DeleteBySeq above

	// (i) commit protocol, notifications.
	var commitErr error
	if fullCommit {
		commitErr = d.commitData(false)
	} else {
		commitErr = d.commitData(true)
	}
	d.notifier.Publish(notify.Event{Kind: notify.Updated, Name: d.name})
	for _, id := range ddocIDs {
		d.notifier.Publish(notify.Event{Kind: notify.DDocUpdated, Name: d.name, ID: id})
	}

	return results, localResults, commitErr
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

// mergeOneRevision implements (c): the conflict policy for one incoming
// document revision against the accumulator's current tree.
func (d *Database) mergeOneRevision(acc *accumDoc, in IncomingDoc, mergeConflicts bool) Result {
	if in.Rev == "" {
		// A client edit names only the revision it starts from (Pos and
		// PrevRevs[0]); derive the new revision one generation past it.
		parent := ""
		if len(in.PrevRevs) > 0 {
			parent = in.PrevRevs[0]
		}
		in.Rev = mvccdb.NewRevID(parent, string(in.Body))
		in.Pos++
	}
	revs := append([]string{in.Rev}, in.PrevRevs...)
	val := &revtree.Value{Deleted: in.Deleted, BodyPtr: "", Seq: 0}
	path := revtree.Path{Pos: in.Pos, Revs: revs, Value: val}

	merged, conflicts, unchanged := revtree.Merge(acc.tree, path, d.revsLimit)

	reject := func() Result {
		return Result{Ref: in.Ref, ID: acc.id, Err: &mvccdb.ConflictError{DocID: acc.id, Ref: in.Ref}}
	}

	if mergeConflicts {
		acc.tree = merged
		acc.changed = true
		acc.deleted = in.Deleted
		return Result{Ref: in.Ref, ID: acc.id, Pos: in.Pos, Rev: in.Rev}
	}

	if conflicts {
		if !acc.deleted {
			return reject()
		}
		if len(in.PrevRevs) == 0 {
			return reject()
		}
		parentRev := in.PrevRevs[0]
		if leaf, ok := revtree.FindLeaf(acc.tree, parentRev); ok && leaf.Pos == in.Pos-1 {
			acc.tree = merged
			acc.changed = true
			acc.deleted = in.Deleted
			return Result{Ref: in.Ref, ID: acc.id, Pos: in.Pos, Rev: in.Rev}
		}
		return reject()
	}

	if unchanged {
		if in.Pos == 1 && acc.deleted {
			leafs := revtree.GetAllLeafs(acc.tree)
			if len(leafs) > 0 {
				oldLeaf := leafs[0]
				newRev := mvccdb.NewRevID(oldLeaf.Rev, string(in.Body))
				newPos := oldLeaf.Pos + 1
				newPath := revtree.Path{Pos: newPos, Revs: []string{newRev, oldLeaf.Rev}, Value: val}
				remerged, _, _ := revtree.Merge(acc.tree, newPath, d.revsLimit)
				acc.tree = remerged
				acc.changed = true
				acc.deleted = in.Deleted
				return Result{Ref: in.Ref, ID: acc.id, Pos: newPos, Rev: newRev}
			}
		}
		return reject()
	}

	acc.tree = merged
	acc.changed = true
	acc.deleted = in.Deleted
	return Result{Ref: in.Ref, ID: acc.id, Pos: in.Pos, Rev: in.Rev}
}

func (d *Database) lookupFullDocInfo(id string) (*doc.FullDocInfo, error) {
	raw, ok, err := d.engine.LookupByID(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &doc.FullDocInfo{ID: id, RevTree: &revtree.Tree{}}, nil
	}
	var entry codec.ByIDEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, err
	}
	return codec.ByIDJoin(entry), nil
}

func errResultsForGroup(g Group, err error) []Result {
	out := make([]Result, 0, len(g.Docs))
	for _, doc := range g.Docs {
		out = append(out, Result{Ref: doc.Ref, ID: g.ID, Err: err})
	}
	return out
}

// applyLocalDocs implements (e): local docs compare their caller-supplied
// previous revision (a decimal string) against the stored one and either
// apply or reject with conflict; they never touch update_seq.
func (d *Database) applyLocalDocs(docs []LocalDoc) []Result {
	if len(docs) == 0 {
		return nil
	}
	batchW := d.engine.NewBatch()
	results := make([]Result, 0, len(docs))
	for _, ld := range docs {
		storedRev, storedBody, ok, err := d.lookupLocal(ld.ID)
		if err != nil {
			results = append(results, Result{Ref: ld.Ref, ID: ld.ID, Err: err})
			continue
		}
		expected := "0"
		if ok {
			expected = storedRev
		}
		if ld.PrevRev != expected {
			results = append(results, Result{Ref: ld.Ref, ID: ld.ID, Err: mvccdb.ErrLocalConflict})
			continue
		}
		_ = storedBody
		nextRevNum, _ := strconv.Atoi(expected)
		nextRevNum++
		nextRev := strconv.Itoa(nextRevNum)

		if ld.Deleted {
			if err := batchW.DeleteLocal(ld.ID); err != nil {
				results = append(results, Result{Ref: ld.Ref, ID: ld.ID, Err: err})
				continue
			}
		} else {
			entry := localEntry{Rev: nextRev, Body: ld.Body}
			buf, err := json.Marshal(entry)
			if err != nil {
				results = append(results, Result{Ref: ld.Ref, ID: ld.ID, Err: err})
				continue
			}
			if err := batchW.PutLocal(ld.ID, buf); err != nil {
				results = append(results, Result{Ref: ld.Ref, ID: ld.ID, Err: err})
				continue
			}
		}
		results = append(results, Result{Ref: ld.Ref, ID: ld.ID, Rev: nextRev})
	}
	if err := batchW.Commit(); err != nil {
		corelog.Error("local doc batch commit failed", zap.Error(err))
	}
	return results
}

type localEntry struct {
	Rev  string
	Body []byte
}

func (d *Database) lookupLocal(id string) (rev string, body []byte, ok bool, err error) {
	raw, found, err := d.engine.LookupLocal(id)
	if err != nil || !found {
		return "", nil, false, err
	}
	var entry localEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return "", nil, false, err
	}
	return entry.Rev, entry.Body, true, nil
}
