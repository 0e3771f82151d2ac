// Package codec provides the pure split/join/reduce functions that project
// document metadata into the two B+-tree indexes: by_id (keyed by document
// id, carrying the full revision tree) and by_seq (keyed by the document's
// highest update sequence, carrying only leaf metadata).
//
// These mirror the four callbacks a B+-tree implementation invokes on every
// insert/fold in the design this module is grounded on: split converts a
// rich in-memory value into the compact on-disk tuple, join is its inverse,
// and reduce/rereduce maintain an associative running total alongside the
// tree for fast counts.
package codec

import (
	"mvccdb/doc"
	"mvccdb/revtree"
)

// ByIDEntry is the on-disk tuple shape for a by_id leaf.
type ByIDEntry struct {
	ID        string
	HighSeq   int64
	Deleted   bool
	DiskTree  *revtree.Tree
	LeafsSize *int64
}

// ByIDSplit projects a FullDocInfo into its by_id tree entry.
func ByIDSplit(info *doc.FullDocInfo) ByIDEntry {
	return ByIDEntry{
		ID:        info.ID,
		HighSeq:   revtree.MaxLeafSeq(info.RevTree),
		Deleted:   info.Deleted,
		DiskTree:  info.RevTree,
		LeafsSize: info.LeafsSize,
	}
}

// ByIDJoin is the inverse of ByIDSplit. It also recomputes LeafsSize by
// summing every leaf's size, propagating nil if any leaf's size is unknown
// (the upgrade-compatibility rule carried from the original format).
func ByIDJoin(e ByIDEntry) *doc.FullDocInfo {
	var total int64
	known := true
	for _, l := range revtree.GetAllLeafs(e.DiskTree) {
		if l.Value == nil || l.Value.Size == nil {
			known = false
			continue
		}
		total += *l.Value.Size
	}
	var size *int64
	if known {
		size = &total
	}
	return &doc.FullDocInfo{
		ID:        e.ID,
		UpdateSeq: e.HighSeq,
		Deleted:   e.Deleted,
		RevTree:   e.DiskTree,
		LeafsSize: size,
	}
}

// BySeqEntry is the on-disk tuple shape for a by_seq leaf: revs are split
// into deleted/non-deleted lists, each reversed so BySeqJoin restores
// insertion order.
type BySeqEntry struct {
	ID          string
	HighSeq     int64
	NonDeleted  []doc.RevInfo
	DeletedRevs []doc.RevInfo
}

// BySeqSplit projects a DocInfo into its by_seq tree entry.
func BySeqSplit(info *doc.DocInfo) BySeqEntry {
	var nonDeleted, deleted []doc.RevInfo
	for i := len(info.Revs) - 1; i >= 0; i-- {
		r := info.Revs[i]
		if r.Deleted {
			deleted = append(deleted, r)
		} else {
			nonDeleted = append(nonDeleted, r)
		}
	}
	return BySeqEntry{
		ID:          info.ID,
		HighSeq:     info.HighSeq,
		NonDeleted:  nonDeleted,
		DeletedRevs: deleted,
	}
}

// BySeqJoin is the inverse of BySeqSplit.
func BySeqJoin(e BySeqEntry) *doc.DocInfo {
	revs := make([]doc.RevInfo, 0, len(e.NonDeleted)+len(e.DeletedRevs))
	for i := len(e.NonDeleted) - 1; i >= 0; i-- {
		revs = append(revs, e.NonDeleted[i])
	}
	for i := len(e.DeletedRevs) - 1; i >= 0; i-- {
		revs = append(revs, e.DeletedRevs[i])
	}
	return &doc.DocInfo{ID: e.ID, HighSeq: e.HighSeq, Revs: revs}
}

// ByIDReduction is the running total carried alongside the by_id tree.
type ByIDReduction struct {
	NotDeleted int64
	Deleted    int64
	TotalSize  *int64 // nil once any child's size is unknown
}

// ByIDReduce folds a leaf batch of FullDocInfo into a reduction.
func ByIDReduce(infos []*doc.FullDocInfo) ByIDReduction {
	var r ByIDReduction
	var total int64
	known := true
	for _, info := range infos {
		if info.Deleted {
			r.Deleted++
		} else {
			r.NotDeleted++
		}
		if info.LeafsSize == nil {
			known = false
			continue
		}
		total += *info.LeafsSize
	}
	if known {
		r.TotalSize = &total
	}
	return r
}

// ByIDRereduce folds already-reduced partitions into one.
func ByIDRereduce(parts []ByIDReduction) ByIDReduction {
	var r ByIDReduction
	var total int64
	known := true
	for _, p := range parts {
		r.NotDeleted += p.NotDeleted
		r.Deleted += p.Deleted
		if p.TotalSize == nil {
			known = false
			continue
		}
		total += *p.TotalSize
	}
	if known {
		r.TotalSize = &total
	}
	return r
}

// BySeqReduce counts documents; BySeqRereduce sums partition counts.
func BySeqReduce(infos []*doc.DocInfo) int64   { return int64(len(infos)) }
func BySeqRereduce(parts []int64) int64 {
	var total int64
	for _, p := range parts {
		total += p
	}
	return total
}
