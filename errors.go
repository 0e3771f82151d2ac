package mvccdb

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the updater, compactor, and store packages.
// Named after the error kinds in the design's error handling section.
var (
	// ErrDiskVersion is returned when a header carries an unsupported or
	// corrupt disk version tag. Fatal at open.
	ErrDiskVersion = errors.New("mvccdb: unsupported or corrupt database disk version")

	// ErrPurgeDuringCompaction is returned when purge_docs is called while
	// a compactor is running.
	ErrPurgeDuringCompaction = errors.New("mvccdb: purge refused while compaction is in progress")

	// ErrConflict is the per-document outcome when a revision cannot be
	// merged without creating an unacknowledged fork.
	ErrConflict = errors.New("mvccdb: document update conflict")

	// ErrRetry names the per-batch outcome of a flush racing a compaction
	// file swap, after which a caller would resubmit the batch. The updater
	// does not detect that race, so no package in this module returns it.
	ErrRetry = errors.New("mvccdb: retry batch, compaction swapped the backing file")

	// ErrNotFound is returned by updater.Open when the database has no
	// header and create was not requested.
	ErrNotFound = errors.New("mvccdb: document not found")

	// ErrClosed is returned when operating on an actor that has stopped.
	ErrClosed = errors.New("mvccdb: database is closed")

	// ErrMissingVersionField mirrors the teacher's options validation: the
	// revision field used to drive optimistic concurrency must be present.
	ErrMissingVersionField = errors.New("mvccdb: revs field is required on every incoming document")

	// ErrCompactorBusy is returned by StartCompact when a compactor handle
	// already exists; StartCompact treats this as informational, not fatal.
	ErrCompactorBusy = errors.New("mvccdb: compaction already in progress")

	// ErrLocalConflict is returned when a local (non-replicated) document's
	// expected previous revision does not match the stored one.
	ErrLocalConflict = errors.New("mvccdb: local document revision conflict")
)

// ConflictError carries the document id and ref alongside ErrConflict so a
// batch reply can be routed back to the right client-side correlation token.
type ConflictError struct {
	DocID string
	Ref   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("mvccdb: conflict updating document %q (ref=%s)", e.DocID, e.Ref)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }
func (e *ConflictError) Unwrap() error         { return ErrConflict }

// FatalActorError wraps an error that terminates the Updater actor, mirroring
// the design's distinction between per-doc/per-batch outcomes (returned to
// callers) and cross-cutting faults (which stop the actor for a supervisor
// to restart).
type FatalActorError struct {
	Reason error
}

func (e *FatalActorError) Error() string { return fmt.Sprintf("mvccdb: actor stopped: %v", e.Reason) }
func (e *FatalActorError) Unwrap() error  { return e.Reason }
