package updater

import (
	"time"

	"go.uber.org/zap"

	"mvccdb"
	"mvccdb/doc"
	"mvccdb/internal/corelog"
	"mvccdb/notify"
	"mvccdb/store"
)

// compactorHandle tracks a running compactor task, the design's "optional
// handle to the running compactor task" database-state attribute. The
// result of the task's run arrives back on the actor's command channel as a
// compactResultMsg (see compact_handoff.go), not through this struct.
type compactorHandle struct {
	path   string
	cancel func()
}

// Database is the updater actor's owned state, field-for-field the design's
// database-state table. Every field below is touched only on the actor's
// own goroutine (run); all other access goes through the command channel.
type Database struct {
	name   string
	engine *store.Engine

	header *doc.Header

	updateSeq          int64
	committedUpdateSeq int64
	purgeSeq           int64
	purgedDocsPtr      string
	revsLimit          int

	securityPtr string
	security    []byte

	compactor *compactorHandle

	delayedCommitTimer *time.Timer
	delayedCommitFire  <-chan time.Time

	fsyncOptions map[mvccdb.FsyncEvent]bool
	compression  mvccdb.Compression
	cfg          mvccdb.Config

	instanceStartTime int64

	notifier *notify.Notifier

	cmds    chan any
	pending any // one command read ahead by coalescing and not yet dispatched
	closed  chan struct{}
}

// Open opens (or creates) the database at path and starts its actor
// goroutine. The caller must call Close to release the file handle and
// signal any running compactor to stop.
func Open(name, path string, cfg mvccdb.Config, create bool) (*Database, error) {
	eng, err := store.Open(path)
	if err != nil {
		return nil, err
	}

	h, err := eng.ReadHeader()
	if err != nil {
		eng.Close()
		return nil, err
	}
	if h == nil {
		if !create {
			eng.Close()
			return nil, mvccdb.ErrNotFound
		}
		h = doc.DefaultHeader(cfg.RevsLimit)
	} else {
		if h.DiskVersion < doc.MinSupportedDiskVersion {
			eng.Close()
			return nil, mvccdb.ErrDiskVersion
		}
		if h.DiskVersion < doc.CurrentDiskVersion {
			h = doc.Upgrade(h)
		}
	}

	if cfg.FsyncOptions[mvccdb.FsyncOnFileOpen] {
		if err := eng.Sync(); err != nil {
			eng.Close()
			return nil, err
		}
	}

	d := &Database{
		name:              name,
		engine:            eng,
		header:            h,
		updateSeq:         h.UpdateSeq,
		committedUpdateSeq: h.UpdateSeq,
		purgeSeq:          h.PurgeSeq,
		revsLimit:         h.RevsLimit,
		securityPtr:       h.SecurityPtr,
		fsyncOptions:      cfg.FsyncOptions,
		compression:       cfg.Compression,
		cfg:               cfg,
		instanceStartTime: time.Now().UnixMicro(),
		notifier:          notify.New(),
		cmds:              make(chan any, 64),
		closed:            make(chan struct{}),
	}

	go d.run()
	return d, nil
}

// Notifier exposes the database's change notifier for subscribers.
func (d *Database) Notifier() *notify.Notifier { return d.notifier }

// Close stops the actor, signals any running compactor to stop, and closes
// the file. It does not wait for the compactor goroutine to exit.
func (d *Database) Close() error {
	reply := make(chan error, 1)
	select {
	case d.cmds <- closeCmd{reply: reply}:
	case <-d.closed:
		return mvccdb.ErrClosed
	}
	return <-reply
}

type closeCmd struct{ reply chan error }

type getDBCmd struct{ reply chan Snapshot }

type fullCommitCmd struct{ reply chan error }

type incrementUpdateSeqCmd struct{ reply chan error }

type setRevsLimitCmd struct {
	n     int
	reply chan error
}

type startCompactCmd struct{ reply chan string }

type cancelCompactCmd struct{ reply chan error }

type delayedCommitCmd struct{}

// run is the actor's message loop: every command is handled to completion
// before the next is read, which is what makes every operation atomic with
// respect to the others.
func (d *Database) run() {
	defer close(d.closed)
	defer func() { d.engine.Close() }()

	for {
		var fireCh <-chan time.Time
		if d.delayedCommitFire != nil {
			fireCh = d.delayedCommitFire
		}

		if d.pending != nil {
			raw := d.pending
			d.pending = nil
			if d.dispatch(raw) {
				return
			}
			continue
		}

		select {
		case raw := <-d.cmds:
			if d.dispatch(raw) {
				return
			}
		case <-fireCh:
			d.delayedCommitFire = nil
			if err := d.commitData(false); err != nil {
				corelog.Error("delayed commit failed", zap.Error(err))
			}
		}
	}
}

// dispatch handles one command; returning true stops the actor.
func (d *Database) dispatch(raw any) bool {
	switch cmd := raw.(type) {
	case closeCmd:
		if d.compactor != nil && d.compactor.cancel != nil {
			d.compactor.cancel()
		}
		cmd.reply <- nil
		return true

	case getDBCmd:
		cmd.reply <- d.snapshot()

	case fullCommitCmd:
		cmd.reply <- d.commitData(false)

	case *UpdateDocsRequest:
		d.handleUpdateDocs(cmd)

	case incrementUpdateSeqCmd:
		d.updateSeq++
		cmd.reply <- d.commitData(false)

	case setRevsLimitCmd:
		d.revsLimit = cmd.n
		d.updateSeq++
		cmd.reply <- d.commitData(false)

	case *PurgeRequest:
		d.handlePurge(cmd)

	case startCompactCmd:
		cmd.reply <- d.handleStartCompact()

	case cancelCompactCmd:
		cmd.reply <- d.handleCancelCompact()

	case compactResultMsg:
		d.handleCompactDone(cmd)

	default:
		corelog.Error("updater received unknown command", zap.Any("cmd", raw))
	}
	return false
}

func (d *Database) snapshot() Snapshot {
	return Snapshot{
		Header:             d.header,
		UpdateSeq:          d.updateSeq,
		CommittedUpdateSeq: d.committedUpdateSeq,
		PurgeSeq:           d.purgeSeq,
		RevsLimit:          d.revsLimit,
		InstanceStartTime:  d.instanceStartTime,
		CompactRunning:     d.compactor != nil,
	}
}

// GetDB returns a snapshot of the current state.
func (d *Database) GetDB() (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	if !d.send(getDBCmd{reply: reply}) {
		return Snapshot{}, mvccdb.ErrClosed
	}
	return <-reply, nil
}

// FullCommit forces the header now if a delayed commit is owed.
func (d *Database) FullCommit() error {
	reply := make(chan error, 1)
	if !d.send(fullCommitCmd{reply: reply}) {
		return mvccdb.ErrClosed
	}
	return <-reply
}

// IncrementUpdateSeq bumps update_seq by one and commits the header.
func (d *Database) IncrementUpdateSeq() error {
	reply := make(chan error, 1)
	if !d.send(incrementUpdateSeqCmd{reply: reply}) {
		return mvccdb.ErrClosed
	}
	return <-reply
}

// SetRevsLimit stores a new revision-tree depth cap, bumps update_seq, and
// commits the header.
func (d *Database) SetRevsLimit(n int) error {
	reply := make(chan error, 1)
	if !d.send(setRevsLimitCmd{n: n, reply: reply}) {
		return mvccdb.ErrClosed
	}
	return <-reply
}

// UpdateDocs submits a batch and blocks for its reply.
func (d *Database) UpdateDocs(req *UpdateDocsRequest) (UpdateDocsReply, error) {
	req.Reply = make(chan UpdateDocsReply, 1)
	if !d.send(req) {
		return UpdateDocsReply{}, mvccdb.ErrClosed
	}
	return <-req.Reply, nil
}

// PurgeDocs irrevocably removes the named (id, [rev]) pairs.
func (d *Database) PurgeDocs(pairs []PurgePair) (PurgeReply, error) {
	req := &PurgeRequest{Pairs: pairs, Reply: make(chan PurgeReply, 1)}
	if !d.send(req) {
		return PurgeReply{}, mvccdb.ErrClosed
	}
	return <-req.Reply, nil
}

// StartCompact spawns a compactor if none is running, returning its target
// path either way (the existing one if already running).
func (d *Database) StartCompact() (string, error) {
	reply := make(chan string, 1)
	if !d.send(startCompactCmd{reply: reply}) {
		return "", mvccdb.ErrClosed
	}
	return <-reply, nil
}

// CancelCompact kills a running compactor and discards its partial output.
func (d *Database) CancelCompact() error {
	reply := make(chan error, 1)
	if !d.send(cancelCompactCmd{reply: reply}) {
		return mvccdb.ErrClosed
	}
	return <-reply
}

func (d *Database) send(v any) bool {
	select {
	case d.cmds <- v:
		return true
	case <-d.closed:
		return false
	}
}
