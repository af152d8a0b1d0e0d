// Package scanner implements the Directory Scanner of spec §4.6: a
// parallel directory-traversal work queue that fans files out to chunk
// pipelines while filtering, detecting symlink cycles, and reporting
// progress.
package scanner

import "time"

// SymlinkStrategy controls traversal behavior at a symbolic link.
type SymlinkStrategy int

const (
	// SymlinkSkip never descends into a symlinked directory and does
	// not record it.
	SymlinkSkip SymlinkStrategy = iota
	// SymlinkFollow descends, detecting cycles via a canonical-path
	// visited set.
	SymlinkFollow
	// SymlinkReportOnly records the entry with its link target but
	// never descends.
	SymlinkReportOnly
)

// Options configures one Scan call. The zero Options resolves every
// field to its documented default via withDefaults.
type Options struct {
	// Parallelism bounds concurrently in-flight directory-processing
	// jobs (default 4).
	Parallelism int

	// ChunkSize is the fixed chunk size handed to the default splitter
	// (default 256 KiB).
	ChunkSize int

	IncludePatterns []string
	ExcludePatterns []string
	IncludeHidden   bool

	Symlinks SymlinkStrategy

	// MaxDepth bounds descent: 0 visits only the root and never
	// descends, a positive N descends N levels below the root, and a
	// negative value means unbounded. There is deliberately no
	// "unset" sentinel distinct from 0 — DefaultOptions sets this
	// explicitly to -1 so the zero Options{} value is never mistaken
	// for "unbounded".
	MaxDepth int

	MinSizeBytes int64
	MaxSizeBytes int64 // 0 means unbounded

	EnableSparseDetection bool

	// FileOpTimeout bounds a single file's chunk pipeline processing
	// (default 30s).
	FileOpTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Parallelism <= 0 {
		o.Parallelism = 4
	}

	if o.ChunkSize <= 0 {
		o.ChunkSize = 256 * 1024
	}

	if o.FileOpTimeout <= 0 {
		o.FileOpTimeout = 30 * time.Second
	}

	return o
}

// DefaultOptions returns the recommended starting point for a scan:
// unbounded depth, no filters, symlinks skipped.
func DefaultOptions() Options {
	return Options{
		Parallelism: 4,
		ChunkSize:   256 * 1024,
		MaxDepth:    -1,
		Symlinks:    SymlinkSkip,
	}.withDefaults()
}
