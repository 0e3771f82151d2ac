package updater

import (
	"os"

	"go.uber.org/zap"

	"mvccdb/compactor"
	"mvccdb/doc"
	"mvccdb/internal/corelog"
	"mvccdb/notify"
	"mvccdb/store"
)

// compactResultMsg is posted back onto the actor's command channel by the
// goroutine running compactor.Run, standing in for the design's "short-
// lived task posting one terminal cast" compact_done message.
type compactResultMsg struct {
	result compactor.Result
	err    error
}

// handleStartCompact spawns a compactor if none is running, returning its
// target path either way (§4.1 start_compact).
func (d *Database) handleStartCompact() string {
	if d.compactor != nil {
		return d.compactor.path
	}
	path := d.engine.CompactSidecarPath()
	cancelCh := make(chan struct{})
	d.compactor = &compactorHandle{path: path, cancel: func() { closeOnce(cancelCh) }}

	purgeSeq, purgedDocsPtr, revsLimit, cfg := d.purgeSeq, d.purgedDocsPtr, d.revsLimit, d.cfg
	src := d.engine
	go func(cmds chan any) {
		res, err := compactor.Run(src, path, purgeSeq, purgedDocsPtr, revsLimit, cfg, cancelCh)
		cmds <- compactResultMsg{result: res, err: err}
	}(d.cmds)

	return path
}

func closeOnce(ch chan struct{}) {
	select {
	case <-ch:
	default:
		close(ch)
	}
}

// handleCancelCompact unilaterally terminates the compactor and removes its
// partial output; the target file is never renamed over the source until
// hand-off, so no partial state becomes visible.
func (d *Database) handleCancelCompact() error {
	if d.compactor == nil {
		return nil
	}
	path := d.compactor.path
	d.compactor.cancel()
	d.compactor = nil
	return os.RemoveAll(path)
}

// handleCompactDone implements §4.8: decide whether the target caught up,
// and either swap it in or respawn the compactor against the same sidecar.
func (d *Database) handleCompactDone(msg compactResultMsg) {
	if d.compactor == nil {
		// Already cancelled; a stray result from the goroutine. Ignore.
		return
	}
	if msg.err != nil {
		corelog.Warn("compactor failed", zap.Error(msg.err))
		d.compactor = nil
		return
	}

	target, err := store.Open(msg.result.TargetPath)
	if err != nil {
		corelog.Error("failed reopening compaction target", zap.Error(err))
		d.compactor = nil
		return
	}

	if msg.result.TargetUpdateSeq == d.updateSeq {
		if err := d.swapInCompactedTarget(target); err != nil {
			corelog.Error("compaction hand-off failed", zap.Error(err))
			target.Close()
			d.compactor = nil
			return
		}
		d.notifier.Publish(notify.Event{Kind: notify.Compacted, Name: d.name})
		return
	}

	// Target fell behind: writes arrived while copying. Close it (its file
	// stays on disk) and respawn, which will reopen it with retry=true.
	target.Close()
	d.compactor = nil
	d.handleStartCompact()
}

// swapInCompactedTarget carries local docs over, commits the target's
// header, and swaps it in as the live engine: the old directory is removed
// and the target is then renamed into its place.
func (d *Database) swapInCompactedTarget(target *store.Engine) error {
	localBatch := target.NewBatch()
	if foldErr := foldLocalInto(d.engine, localBatch); foldErr != nil {
		localBatch.Discard()
		return foldErr
	}
	if err := localBatch.Commit(); err != nil {
		return err
	}

	h, err := target.ReadHeader()
	if err != nil {
		return err
	}
	if h == nil {
		h = doc.DefaultHeader(d.revsLimit)
	}
	h.RevsLimit = d.revsLimit
	if err := target.WriteHeader(h); err != nil {
		return err
	}

	oldPath := d.engine.Path()
	targetPath := target.Path()

	if err := d.engine.Close(); err != nil {
		return err
	}
	if err := target.Close(); err != nil {
		return err
	}
	if err := os.RemoveAll(oldPath); err != nil {
		return err
	}
	if err := os.Rename(targetPath, oldPath); err != nil {
		return err
	}

	newEngine, err := store.Open(oldPath)
	if err != nil {
		return err
	}
	newHeader, err := newEngine.ReadHeader()
	if err != nil {
		newEngine.Close()
		return err
	}

	d.engine = newEngine
	d.header = newHeader
	d.committedUpdateSeq = newHeader.UpdateSeq
	d.compactor = nil
	return nil
}

// foldLocalInto copies every local doc from src into a batch targeting dst,
// walking src's local-doc keys with Engine.FoldLocal.
func foldLocalInto(src *store.Engine, batch *store.Batch) error {
	return src.FoldLocal(func(id string, value []byte) (bool, error) {
		if err := batch.PutLocal(id, value); err != nil {
			return false, err
		}
		return true, nil
	})
}
