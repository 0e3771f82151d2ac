// Package updater implements the single-writer actor that owns one
// database's mutable state: the write pipeline, purge, commit protocol, and
// compaction hand-off. Every mutation happens on the actor's own goroutine;
// callers interact exclusively through request/reply channels, the Go
// analog of the design's single-threaded message handler.
package updater

import "mvccdb/doc"

// IncomingDoc is one document revision submitted by a client in an
// update_docs batch. With an empty Rev it is a client edit: Pos and
// PrevRevs[0] name the revision it starts from (Pos 0 and no PrevRevs for a
// new document), and the updater derives the new rev one generation later.
type IncomingDoc struct {
	ID       string
	Ref      string // client correlation token, echoed back on Result
	Pos      int64
	Rev      string
	PrevRevs []string // ancestor chain, newest-first, excluding Rev itself
	Deleted  bool
	Body     []byte
}

// Group is a run of IncomingDoc sharing the same ID, the unit grouped_docs
// is built from.
type Group struct {
	ID   string
	Docs []IncomingDoc
}

// LocalDoc is a non-replicated document update, never entering a rev tree.
type LocalDoc struct {
	ID      string
	Ref     string
	PrevRev string // decimal string; "0" for a fresh local doc
	Deleted bool
	Body    []byte
}

// Result is one document's outcome, correlated back to its client by Ref.
type Result struct {
	Ref string
	ID  string
	Pos int64
	Rev string
	Err error
}

// UpdateDocsRequest is the hot-path message: update_docs(client,
// grouped_docs, non_replicated_docs, merge_conflicts, full_commit).
type UpdateDocsRequest struct {
	Client         string
	Groups         []Group
	NonRepDocs     []LocalDoc
	MergeConflicts bool
	FullCommit     bool
	Reply          chan UpdateDocsReply
}

// UpdateDocsReply carries per-doc outcomes and a batch-wide Err from writing
// the batch's index entries or committing the header. The pipeline does not
// detect a flush racing a compaction swap, so Err is never ErrRetry.
type UpdateDocsReply struct {
	Results      []Result
	LocalResults []Result
	Err          error
}

// Snapshot is the read-only view returned by GetDB: a point-in-time copy of
// the counters a reader cares about, safe to use after the call returns
// since the actor never mutates it in place.
type Snapshot struct {
	Header             *doc.Header
	UpdateSeq          int64
	CommittedUpdateSeq int64
	PurgeSeq           int64
	RevsLimit          int
	InstanceStartTime  int64
	CompactRunning     bool
}

// PurgeRequest removes specific (id, [rev]) pairs irrevocably.
type PurgeRequest struct {
	Pairs []PurgePair
	Reply chan PurgeReply
}

type PurgePair struct {
	ID   string
	Revs []string
}

type PurgeReply struct {
	NewPurgeSeq int64
	Purged      []PurgePair
	Err         error
}
