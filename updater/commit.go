package updater

import (
	"time"

	"mvccdb"
	"mvccdb/doc"
)

// commitData implements commit_data(db, delayed?) from the design's §4.6.
func (d *Database) commitData(delayed bool) error {
	if delayed {
		if d.delayedCommitFire == nil {
			timer := time.NewTimer(d.delayedCommitInterval())
			d.delayedCommitTimer = timer
			d.delayedCommitFire = timer.C
		}
		return nil
	}

	if d.delayedCommitTimer != nil {
		d.delayedCommitTimer.Stop()
		d.delayedCommitTimer = nil
		d.delayedCommitFire = nil
	}

	want := d.wouldBeHeader()
	if headersEqual(want, d.header) {
		return nil
	}

	if d.fsyncOptions[mvccdb.FsyncBeforeHeader] {
		if err := d.engine.Sync(); err != nil {
			return err
		}
	}
	if err := d.engine.WriteHeader(want); err != nil {
		return err
	}
	if d.fsyncOptions[mvccdb.FsyncAfterHeader] {
		if err := d.engine.Sync(); err != nil {
			return err
		}
	}

	d.header = want
	d.committedUpdateSeq = want.UpdateSeq
	return nil
}

func (d *Database) delayedCommitInterval() time.Duration {
	if d.cfg.DelayedCommitInterval > 0 {
		return d.cfg.DelayedCommitInterval
	}
	return time.Second
}

func (d *Database) wouldBeHeader() *doc.Header {
	return &doc.Header{
		DiskVersion:   doc.CurrentDiskVersion,
		UpdateSeq:     d.updateSeq,
		PurgeSeq:      d.purgeSeq,
		PurgedDocsPtr: d.purgedDocsPtr,
		SecurityPtr:   d.securityPtr,
		RevsLimit:     d.revsLimit,
	}
}

func headersEqual(a, b *doc.Header) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
