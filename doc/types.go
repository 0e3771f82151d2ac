// Package doc holds the data-model types shared by the codec, store,
// updater, and compactor packages: the header record, the full-doc-info
// carried in the by-id tree, and the doc-info projection carried in the
// by-seq tree.
package doc

import "mvccdb/revtree"

// FullDocInfo is the by-id tree's value: everything the write pipeline and
// compactor need to know about one document, keyed by its id.
type FullDocInfo struct {
	ID        string
	UpdateSeq int64
	Deleted   bool
	RevTree   *revtree.Tree
	// LeafsSize is the sum of every leaf's size; nil if any leaf's size is
	// unknown (pre-upgrade records), propagated through reduce/rereduce.
	LeafsSize *int64
}

// RevInfo is one leaf's projection into the by-seq tree.
type RevInfo struct {
	Rev     string
	Pos     int64
	Seq     int64
	BodyPtr string
	Deleted bool
}

// DocInfo is the by-seq tree's value: a document's id plus its current
// leaf set, keyed by HighSeq (the max leaf seq).
type DocInfo struct {
	ID      string
	HighSeq int64
	Revs    []RevInfo
}

// Header is the fixed-schema record written at every commit. Legacy
// versions are upgraded in-memory to this width by defaulting the fields
// they lack (simple_upgrade_record in the design).
type Header struct {
	DiskVersion   int
	UpdateSeq     int64
	PurgeSeq      int64
	PurgedDocsPtr string
	ByIDState     string
	BySeqState    string
	LocalState    string
	SecurityPtr   string
	RevsLimit     int
}

// CurrentDiskVersion is the disk version this build writes and the highest
// version it will read without upgrading.
const CurrentDiskVersion = 6

// MinSupportedDiskVersion is the oldest disk version this build still reads.
// Versions 1-3 in the original format predate the security_ptr field and
// are rejected outright, matching spec's database_disk_version_error.
const MinSupportedDiskVersion = 4

// DefaultHeader returns a fresh header for a newly created database.
func DefaultHeader(revsLimit int) *Header {
	return &Header{
		DiskVersion: CurrentDiskVersion,
		RevsLimit:   revsLimit,
	}
}

// Upgrade pads an older header to the current width, defaulting fields the
// older version lacked. Versions below MinSupportedDiskVersion are rejected
// by the caller before Upgrade is reached.
func Upgrade(h *Header) *Header {
	out := *h
	if out.DiskVersion == 4 {
		out.SecurityPtr = ""
	}
	out.DiskVersion = CurrentDiskVersion
	if out.RevsLimit == 0 {
		out.RevsLimit = 1000
	}
	return &out
}
