package scanner

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"golang.org/x/sync/semaphore"

	"github.com/blake3vault/scancore/backpressure"
	"github.com/blake3vault/scancore/chunkpipeline"
	"github.com/blake3vault/scancore/chunkpipeline/splitter"
	"github.com/blake3vault/scancore/internal/clock"
	"github.com/blake3vault/scancore/logging"
	"github.com/blake3vault/scancore/pool"
	"github.com/blake3vault/scancore/scanerr"
)

var log = logging.Module("scanner")

// FileProcessor is invoked once per regular file that passes filtering,
// after the visitor has been given the chance to Skip it. It typically
// drives the file through a chunkpipeline.Pipeline; the default
// (NewChunkPipelineProcessor) does exactly that.
type FileProcessor func(ctx context.Context, path string, info os.FileInfo) error

// Scanner performs parallel directory traversal per §4.6.
type Scanner struct {
	poolMgr      *pool.Manager
	backpressure *backpressure.Controller
	visitor      FileVisitor
	progress     ProgressListener
	processFile  FileProcessor
}

// New constructs a Scanner. visitor and progress may be nil (treated as
// always-Continue / no-op, respectively); set them with SetFileVisitor
// / SetProgressListener before calling Scan.
func New(poolMgr *pool.Manager, bp *backpressure.Controller, processFile FileProcessor) *Scanner {
	return &Scanner{
		poolMgr:      poolMgr,
		backpressure: bp,
		processFile:  processFile,
	}
}

// SetFileVisitor installs the visitor consulted for every entry.
func (s *Scanner) SetFileVisitor(v FileVisitor) { s.visitor = v }

// SetProgressListener installs the listener notified after each file.
func (s *Scanner) SetProgressListener(l ProgressListener) { s.progress = l }

type scanState struct {
	opts Options

	filesProcessed   atomic.Int64
	entriesVisited   atomic.Int64
	directoriesSeen  atomic.Int64
	symlinksSeen     atomic.Int64
	sparseSeen       atomic.Int64
	totalSize        atomic.Int64
	totalEstimate    atomic.Int64
	firstTierDrained atomic.Bool

	errMu  sync.Mutex
	errors []ScanError

	cancelled atomic.Bool

	visitedMu sync.Mutex
	visited   map[string]struct{}

	sem *semaphore.Weighted
}

func newScanState(opts Options) *scanState {
	st := &scanState{
		opts:    opts,
		visited: make(map[string]struct{}),
		sem:     semaphore.NewWeighted(int64(opts.Parallelism)),
	}
	st.totalEstimate.Store(-1)

	return st
}

func (st *scanState) recordError(path string, kind scanerr.Kind, err error) {
	st.errMu.Lock()
	st.errors = append(st.errors, ScanError{Path: path, Kind: kind, Err: err})
	st.errMu.Unlock()
}

// Scan traverses root according to opts, dispatching files to
// processFile and returning the aggregated Result once traversal and
// every dispatched file have finished (§6 scan(root, options) →
// future<ScanResult>; this is the synchronous form — wrap in a
// goroutine for the async variant per Design Notes §9).
func (s *Scanner) Scan(ctx context.Context, root string, opts Options) *Result {
	opts = opts.withDefaults()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	st := newScanState(opts)

	if canon, err := filepath.EvalSymlinks(root); err == nil {
		st.visited[canon] = struct{}{}
	}

	result := &Result{
		ScanID:        uuid.NewString(),
		RootDirectory: root,
		StartTime:     clock.Now(),
		ThreadCount:   opts.Parallelism,
	}

	queue := newDirQueue()
	queue.push(workItem{path: root, depth: 0})

	var wg sync.WaitGroup

	for i := 0; i < opts.Parallelism; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()
			s.worker(ctx, queue, st)
		}()
	}

	wg.Wait()

	result.EndTime = clock.Now()
	result.ScannedFileCount = st.filesProcessed.Load()
	result.TotalSize = st.totalSize.Load()
	result.DirectoriesScanned = st.directoriesSeen.Load()
	result.SymbolicLinksEncountered = st.symlinksSeen.Load()
	result.SparseFilesDetected = st.sparseSeen.Load()
	result.WasCancelled = st.cancelled.Load() || ctx.Err() != nil

	st.errMu.Lock()
	result.Errors = st.errors
	result.ErrorCount = int64(len(st.errors))
	st.errMu.Unlock()

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	result.PeakMemoryUsage = int64(ms.HeapSys)

	return result
}

func (s *Scanner) worker(ctx context.Context, queue *dirQueue, st *scanState) {
	for {
		item, ok := queue.pop()
		if !ok {
			return
		}

		if ctx.Err() != nil || st.cancelled.Load() {
			queue.done()
			continue
		}

		s.processDir(ctx, item, queue, st)
		queue.done()
	}
}

func (s *Scanner) processDir(ctx context.Context, item workItem, queue *dirQueue, st *scanState) {
	st.directoriesSeen.Inc()

	entries, err := os.ReadDir(item.path)
	if err != nil {
		st.recordError(item.path, classifyIOErr(err), err)
		return
	}

	if !st.firstTierDrained.Swap(true) {
		st.totalEstimate.Store(int64(len(entries)))
	} else if st.totalEstimate.Load() >= 0 {
		st.totalEstimate.Add(int64(len(entries)))
	}

	for _, de := range entries {
		if ctx.Err() != nil || st.cancelled.Load() {
			return
		}

		full := filepath.Join(item.path, de.Name())
		st.entriesVisited.Inc()

		info, err := de.Info()
		if err != nil {
			st.recordError(full, scanerr.NotFound, err)
			continue
		}

		entry := Entry{
			Path:    full,
			IsDir:   de.IsDir(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
			Depth:   item.depth + 1,
		}

		isSymlink := info.Mode()&os.ModeSymlink != 0
		if isSymlink {
			entry.IsSymbolicLink = true
			st.symlinksSeen.Inc()

			if target, err := os.Readlink(full); err == nil {
				entry.LinkTarget = target
			}

			if ti, err := os.Stat(full); err == nil && ti.IsDir() {
				entry.IsDir = true
			}
		}

		if !s.passesFilters(entry, st.opts) {
			continue
		}

		directive := Continue
		if s.visitor != nil {
			directive = s.visitor.Visit(entry)
		}

		switch directive {
		case Skip:
			continue
		case Terminate:
			st.cancelled.Store(true)
			return
		case SkipSubtree:
			continue
		}

		if entry.IsDir {
			s.handleSubdir(full, item.depth, isSymlink, entry, st, queue)
			continue
		}

		s.handleFile(ctx, full, info, entry, st)
	}
}

func (s *Scanner) handleSubdir(full string, parentDepth int, isSymlink bool, entry Entry, st *scanState, queue *dirQueue) {
	if isSymlink {
		switch st.opts.Symlinks {
		case SymlinkSkip:
			return
		case SymlinkReportOnly:
			return
		case SymlinkFollow:
			canon, err := filepath.EvalSymlinks(full)
			if err != nil {
				st.recordError(full, scanerr.IOFailure, err)
				return
			}

			st.visitedMu.Lock()
			_, seen := st.visited[canon]
			if !seen {
				st.visited[canon] = struct{}{}
			}
			st.visitedMu.Unlock()

			if seen {
				st.recordError(full, scanerr.SymlinkCycle, nil)
				return
			}
		}
	}

	if st.opts.MaxDepth >= 0 && parentDepth+1 > st.opts.MaxDepth {
		return
	}

	queue.push(workItem{path: full, depth: parentDepth + 1})
}

func (s *Scanner) handleFile(ctx context.Context, full string, info os.FileInfo, entry Entry, st *scanState) {
	if st.opts.EnableSparseDetection && isSparse(info) {
		entry.IsSparse = true
		st.sparseSeen.Inc()
	}

	if err := st.sem.Acquire(ctx, 1); err != nil {
		st.cancelled.Store(true)
		return
	}
	defer st.sem.Release(1)

	fctx, cancel := context.WithTimeout(ctx, st.opts.FileOpTimeout)
	defer cancel()

	if s.backpressure != nil {
		for s.backpressure.IsUnderBackpressure(0.95) && fctx.Err() == nil {
			clock.SleepInterruptibly(fctx, 10*time.Millisecond)
		}
	}

	err := s.processFile(fctx, full, info)
	if err != nil {
		st.recordError(full, errKind(err), err)
	} else {
		st.filesProcessed.Inc()
		st.totalSize.Add(info.Size())
	}

	if s.progress != nil {
		s.progress.OnProgress(full, st.filesProcessed.Load(), st.totalEstimate.Load())
	}
}

func (s *Scanner) passesFilters(entry Entry, opts Options) bool {
	base := filepath.Base(entry.Path)

	if !opts.IncludeHidden && strings.HasPrefix(base, ".") {
		return false
	}

	if !entry.IsDir {
		if opts.MinSizeBytes > 0 && entry.Size < opts.MinSizeBytes {
			return false
		}

		if opts.MaxSizeBytes > 0 && entry.Size > opts.MaxSizeBytes {
			return false
		}
	}

	if len(opts.ExcludePatterns) > 0 && matchesAny(opts.ExcludePatterns, base) {
		return false
	}

	if len(opts.IncludePatterns) > 0 && !matchesAny(opts.IncludePatterns, base) {
		return false
	}

	return true
}

func matchesAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, _ := filepath.Match(p, name); ok {
			return true
		}
	}

	return false
}

// errKind extracts the *scanerr.Error Kind from err's chain, defaulting
// to IOFailure for errors the chunk pipeline or hasher produced without
// going through the scanerr taxonomy.
func errKind(err error) scanerr.Kind {
	var se *scanerr.Error
	if errors.As(err, &se) {
		return se.Kind
	}

	return scanerr.IOFailure
}

func classifyIOErr(err error) scanerr.Kind {
	if os.IsPermission(err) {
		return scanerr.PermissionDenied
	}

	if os.IsNotExist(err) {
		return scanerr.NotFound
	}

	return scanerr.IOFailure
}

// NewChunkPipelineProcessor returns a FileProcessor driving full into a
// chunkpipeline.Pipeline using sp (a fresh splitter per file — Fixed
// splitters are stateless, but ContentDefined's rolling hash needs a
// Reset between files, hence the factory), invoking onComplete with
// every fully-processed file's aggregated chunk result.
func NewChunkPipelineProcessor(p *chunkpipeline.Pipeline, newSplitter func() splitter.Splitter, onComplete func(*chunkpipeline.FileResult)) FileProcessor {
	return func(ctx context.Context, path string, info os.FileInfo) error {
		f, err := os.Open(path)
		if err != nil {
			return scanerr.Wrap(err, "open")
		}
		defer f.Close()

		fr := p.ProcessFile(ctx, path, f, newSplitter())

		if onComplete != nil {
			onComplete(fr)
		}

		return fr.Err
	}
}
