// Package chunkpipeline implements the per-file chunk pipeline of spec
// §4.4: bounded-concurrency chunk read/hash with ordered reassembly and
// clean resource release on every exit path.
package chunkpipeline

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/blake3vault/scancore/buf"
	"github.com/blake3vault/scancore/chunkpipeline/splitter"
	"github.com/blake3vault/scancore/internal/clock"
	"github.com/blake3vault/scancore/logging"
	"github.com/blake3vault/scancore/pool"
	"github.com/blake3vault/scancore/scanerr"
)

var log = logging.Module("chunkpipeline")

// State is one stage of a file's progress through the pipeline.
type State int

const (
	Idle State = iota
	Reading
	Hashing
	Draining
	Done
	Failed
	Cancelled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Reading:
		return "reading"
	case Hashing:
		return "hashing"
	case Draining:
		return "draining"
	case Done:
		return "done"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// ChunkResult is one chunk's hash, keyed by its index in file order.
type ChunkResult struct {
	Index int
	Hash  string
	Size  int
}

// FileResult aggregates every chunk of one file, in submission order.
type FileResult struct {
	Path   string
	Chunks []ChunkResult
	Err    error
}

// HashBatcher is the Batch Processor's narrow surface the pipeline
// depends on: submit one chunk's hash for eventual CPU-pool execution,
// invoking onDone exactly once when it completes (§4.4: "submits the
// hash on the CPU pool via the Batch Processor").
type HashBatcher interface {
	SubmitHash(ctx context.Context, path string, chunkIndex int, data []byte, onDone func(hash string, err error))
}

// Config configures a Pipeline.
type Config struct {
	// MaxConcurrentChunks bounds in-flight chunk jobs (default 4).
	MaxConcurrentChunks int
	// CloseTimeout bounds how long Close waits for in-flight jobs to
	// finish draining before returning anyway (default 5 min).
	CloseTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrentChunks <= 0 {
		c.MaxConcurrentChunks = 4
	}

	if c.CloseTimeout <= 0 {
		c.CloseTimeout = 5 * time.Minute
	}

	return c
}

// Pipeline processes files into ordered chunk-hash sequences with
// bounded concurrency, shared across every file it is asked to process
// (the concurrency bound and backpressure hooks are pipeline-wide, not
// per-file).
type Pipeline struct {
	cfg Config

	semMu sync.RWMutex
	sem   *semaphore.Weighted

	tracker *tracker

	bufPool     *buf.Pool
	poolMgr     *pool.Manager
	hashBatcher HashBatcher

	backpressureMu     sync.Mutex
	backpressureHeld   bool
	backpressureWeight int64
}

// New constructs a Pipeline. bufPool services chunk buffer acquisition,
// poolMgr dispatches reads onto its I/O-class pool, and hashBatcher
// receives completed reads for hashing.
func New(cfg Config, bufPool *buf.Pool, poolMgr *pool.Manager, hashBatcher HashBatcher) *Pipeline {
	cfg = cfg.withDefaults()

	return &Pipeline{
		cfg:         cfg,
		sem:         semaphore.NewWeighted(int64(cfg.MaxConcurrentChunks)),
		tracker:     newTracker(),
		bufPool:     bufPool,
		poolMgr:     poolMgr,
		hashBatcher: hashBatcher,
	}
}

func (p *Pipeline) currentSem() *semaphore.Weighted {
	p.semMu.RLock()
	defer p.semMu.RUnlock()

	return p.sem
}

// SetMaxConcurrentChunks swaps in a new semaphore of capacity n (n>0).
// In-flight permits acquired from the old semaphore are not reclaimed;
// they simply never release back into the new one, so capacity drains
// toward n as running jobs finish (§4.4).
func (p *Pipeline) SetMaxConcurrentChunks(n int) error {
	if n <= 0 {
		return scanerr.New(scanerr.InvalidArgument, "", nil)
	}

	p.semMu.Lock()
	p.sem = semaphore.NewWeighted(int64(n))
	p.semMu.Unlock()

	return nil
}

// ApplyBackpressure acquires one permit without running a job,
// throttling new submissions without killing in-flight work (§4.4).
// A second call while already applied is a no-op.
func (p *Pipeline) ApplyBackpressure(ctx context.Context) error {
	p.backpressureMu.Lock()
	defer p.backpressureMu.Unlock()

	if p.backpressureHeld {
		return nil
	}

	sem := p.currentSem()
	if err := sem.Acquire(ctx, 1); err != nil {
		return scanerr.New(scanerr.Interrupted, "", err)
	}

	p.backpressureHeld = true
	p.backpressureWeight = 1

	return nil
}

// ReleaseBackpressure returns the permit ApplyBackpressure acquired, if
// any is currently held.
func (p *Pipeline) ReleaseBackpressure() {
	p.backpressureMu.Lock()
	defer p.backpressureMu.Unlock()

	if !p.backpressureHeld {
		return
	}

	p.currentSem().Release(p.backpressureWeight)
	p.backpressureHeld = false
}

// ProcessFile reads r in chunk-sized pieces per sp, hashing each chunk
// with bounded concurrency, and returns the aggregated, index-ordered
// result once every chunk has completed or one has failed. After a
// failure no further chunks are submitted; chunks already in flight are
// waited for up to CloseTimeout.
func (p *Pipeline) ProcessFile(ctx context.Context, path string, r io.Reader, sp splitter.Splitter) *FileResult {
	sp.Reset()

	var (
		mu          sync.Mutex
		byIndex     = map[int]ChunkResult{}
		firstErr    error
		chunkIndex  int
		wgInFlight  sync.WaitGroup
	)

	recordErr := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	}

	for {
		mu.Lock()
		failed := firstErr != nil
		mu.Unlock()

		if failed {
			break
		}

		sem := p.currentSem()

		if err := sem.Acquire(ctx, 1); err != nil {
			recordErr(scanerr.New(scanerr.Interrupted, path, err))
			break
		}

		p.tracker.register()

		buffer, err := p.bufPool.Acquire(ctx, sp.MaxChunkSize())
		if err != nil {
			sem.Release(1)
			p.tracker.deregister()
			recordErr(err)

			break
		}

		n, eof, rerr := p.readChunk(ctx, r, buffer.Bytes, sp)
		if rerr != nil {
			p.bufPool.Release(buffer)
			sem.Release(1)
			p.tracker.deregister()
			recordErr(rerr)

			break
		}

		if n == 0 {
			p.bufPool.Release(buffer)
			sem.Release(1)
			p.tracker.deregister()

			break
		}

		idx := chunkIndex
		chunkIndex++

		wgInFlight.Add(1)

		data := buffer.Bytes[:n]

		p.hashBatcher.SubmitHash(ctx, path, idx, data, func(hash string, herr error) {
			defer wgInFlight.Done()
			defer p.bufPool.Release(buffer)
			defer sem.Release(1)
			defer p.tracker.deregister()

			if herr != nil {
				recordErr(scanerr.NewHashError(path, idx, herr))
				return
			}

			mu.Lock()
			byIndex[idx] = ChunkResult{Index: idx, Hash: hash, Size: n}
			mu.Unlock()
		})

		if eof {
			break
		}
	}

	waitWithTimeout(&wgInFlight, p.cfg.CloseTimeout)

	mu.Lock()
	err := firstErr
	chunks := make([]ChunkResult, 0, len(byIndex))

	for i := 0; i < chunkIndex; i++ {
		if cr, ok := byIndex[i]; ok {
			chunks = append(chunks, cr)
		}
	}

	mu.Unlock()

	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Index < chunks[j].Index })

	return &FileResult{Path: path, Chunks: chunks, Err: err}
}

// readChunk dispatches the blocking read onto the I/O pool and blocks
// the caller until it completes, per §4.4 ("reads the chunk on the I/O
// pool"). It accumulates into dst until sp reports a boundary or EOF.
func (p *Pipeline) readChunk(ctx context.Context, r io.Reader, dst []byte, sp splitter.Splitter) (n int, eof bool, err error) {
	type ioResult struct {
		n   int
		eof bool
		err error
	}

	done := make(chan ioResult, 1)

	submitErr := p.poolMgr.Submit(ctx, pool.IO, func(context.Context) {
		total := 0

		for {
			boundary, ok := sp.NextBoundary(dst[:total], false)
			if ok {
				done <- ioResult{n: boundary, eof: false}
				return
			}

			if total >= len(dst) {
				done <- ioResult{n: total, eof: false}
				return
			}

			read, rerr := r.Read(dst[total:])
			total += read

			if rerr == io.EOF {
				boundary, _ := sp.NextBoundary(dst[:total], true)
				done <- ioResult{n: boundary, eof: true}

				return
			}

			if rerr != nil {
				done <- ioResult{n: 0, err: rerr}
				return
			}
		}
	}, pool.Normal)

	if submitErr != nil {
		return 0, false, submitErr
	}

	select {
	case res := <-done:
		if res.err != nil {
			return 0, false, scanerr.New(scanerr.IOFailure, "", res.err)
		}

		return res.n, res.eof, nil
	case <-ctx.Done():
		return 0, false, scanerr.New(scanerr.Interrupted, "", ctx.Err())
	}
}

// Close requests a drain of every in-flight chunk job across every file
// this Pipeline has ever processed, waiting up to CloseTimeout.
func (p *Pipeline) Close() {
	p.tracker.requestDrain()
	<-drainOrTimeout(p.tracker, p.cfg.CloseTimeout)
}

func drainOrTimeout(t *tracker, timeout time.Duration) <-chan struct{} {
	out := make(chan struct{})

	go func() {
		defer close(out)

		select {
		case <-t.drained:
		case <-clock.NewTicker(timeout).C:
			log(context.Background()).Warnf("chunk pipeline: %d jobs still in flight after close timeout", t.inFlight())
		}
	}()

	return out
}

func waitWithTimeout(wg *sync.WaitGroup, timeout time.Duration) {
	done := make(chan struct{})

	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
	}
}
