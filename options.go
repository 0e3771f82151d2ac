package mvccdb

import "time"

// FsyncEvent names one point in the commit protocol where an fsync can be
// requested.
type FsyncEvent string

const (
	FsyncBeforeHeader FsyncEvent = "before_header"
	FsyncAfterHeader  FsyncEvent = "after_header"
	FsyncOnFileOpen   FsyncEvent = "on_file_open"
)

// Compression names the body compressor selector. The updater keeps it on
// its state; the codec and store packages do not read it, and bodies are
// stored as given.
type Compression string

const (
	CompressionNone   Compression = "none"
	CompressionSnappy Compression = "snappy"
)

// Config is the injected configuration snapshot the updater and compactor
// read at open and at compaction start, never as an ambient global.
type Config struct {
	// FsyncOptions is the subset of {before_header, after_header,
	// on_file_open} to honor.
	FsyncOptions map[FsyncEvent]bool

	// Compression is the body codec selector; no package applies it.
	Compression Compression

	// RevsLimit is the default maximum revision-tree depth for newly
	// created databases.
	RevsLimit int

	// DocBufferSize is the compactor's copy-loop flush threshold, in bytes.
	DocBufferSize int

	// CheckpointAfter is the number of copied bytes between compactor
	// header commits.
	CheckpointAfter int

	// DelayedCommitInterval bounds how long a commit can be deferred once
	// one is owed.
	DelayedCommitInterval time.Duration

	// MaxRestarts caps how many times a supervisor restarts a crashed
	// updater actor before giving up. Not present in the distilled design;
	// added so a host process has a concrete backoff-then-give-up policy
	// instead of restarting forever.
	MaxRestarts int
}

// DefaultConfig returns the design's documented defaults.
func DefaultConfig() Config {
	return Config{
		FsyncOptions: map[FsyncEvent]bool{
			FsyncBeforeHeader: true,
			FsyncAfterHeader:  true,
			FsyncOnFileOpen:   true,
		},
		Compression:           CompressionSnappy,
		RevsLimit:             1000,
		DocBufferSize:         524288,
		CheckpointAfter:       524288 * 10,
		DelayedCommitInterval: time.Second,
		MaxRestarts:           5,
	}
}
