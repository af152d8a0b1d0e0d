package scancore

import (
	"context"
	"reflect"

	"github.com/blake3vault/scancore/backpressure"
	"github.com/blake3vault/scancore/batch"
	"github.com/blake3vault/scancore/buf"
	"github.com/blake3vault/scancore/chunkpipeline"
	"github.com/blake3vault/scancore/chunkpipeline/splitter"
	"github.com/blake3vault/scancore/logging"
	"github.com/blake3vault/scancore/pool"
	"github.com/blake3vault/scancore/profiles"
	"github.com/blake3vault/scancore/scanner"
	"github.com/blake3vault/scancore/watch"
)

var log = logging.Module("scancore")

// Options configures New. Hasher, Store, MetadataSink, and ErrorSink
// may be left nil: a nil Hasher falls back to DefaultHasher, and a nil
// Store/MetadataSink/ErrorSink simply means that stage is skipped.
type Options struct {
	Profile      profiles.Profile
	Hasher       Hasher
	Store        ContentStore
	MetadataSink MetadataSink
	ErrorSink    ErrorSink

	// UseContentDefinedChunking opts into the rolling-hash splitter
	// instead of the default fixed-size one (SPEC_FULL §B).
	UseContentDefinedChunking bool
}

// ScanCore is the top-level facade of §6: it owns every subsystem
// (Buffer Pool, Thread-Pool Manager, Backpressure Controller, Batch
// Processor, Chunk Pipeline, Directory Scanner, Watch Manager) and
// exposes the small external surface the spec describes.
type ScanCore struct {
	bufPool      *buf.Pool
	poolMgr      *pool.Manager
	backpressure *backpressure.Controller
	batchProc    *batch.Processor
	pipeline     *chunkpipeline.Pipeline
	scan         *scanner.Scanner
	watchMgr     *watch.Manager

	tracker *fileChunkTracker
	opts    Options
}

// New builds a ScanCore from a configuration profile and the external
// collaborators the embedding program supplies.
func New(opts Options) *ScanCore {
	if opts.Hasher == nil {
		opts.Hasher = DefaultHasher{}
	}

	bundle := profiles.Resolve(opts.Profile)

	ctrl := backpressure.NewController()
	poolMgr := pool.NewManager(bundle.PoolConfig)
	ctrl.AddListener(poolMgr)

	bufPool := buf.NewPool(bundle.BufConfig, ctrl)

	bundle.BatchConfig.Resources = bundle.Resources
	batchProc := batch.New(bundle.BatchConfig, poolMgr, ctrl)

	tracker := newFileChunkTracker()
	adapter := newHashBatcherAdapter(batchProc, poolMgr, opts.Hasher, opts.Store, opts.ErrorSink, tracker)

	pipeline := chunkpipeline.New(chunkpipeline.Config{}, bufPool, poolMgr, adapter)
	ctrl.AddListener(pipelineListener{pipeline})

	core := &ScanCore{
		bufPool:      bufPool,
		poolMgr:      poolMgr,
		backpressure: ctrl,
		batchProc:    batchProc,
		pipeline:     pipeline,
		tracker:      tracker,
		opts:         opts,
	}

	processor := scanner.NewChunkPipelineProcessor(pipeline, core.newSplitter, core.onFileResult)
	core.scan = scanner.New(poolMgr, ctrl, processor)

	watchMgr, err := watch.NewManager(core.rescan)
	if err != nil {
		log(context.Background()).Errorf("watch manager unavailable: %v", err)
	} else {
		core.watchMgr = watchMgr
	}

	return core
}

func (c *ScanCore) newSplitter() splitter.Splitter {
	opts := bundleScanOptions(c.opts)

	if c.opts.UseContentDefinedChunking {
		return splitter.NewContentDefined(opts.ChunkSize/4, opts.ChunkSize*4, 14)
	}

	return splitter.NewFixed(opts.ChunkSize)
}

func bundleScanOptions(opts Options) scanner.Options {
	return profiles.Resolve(opts.Profile).ScanOptions
}

func (c *ScanCore) onFileResult(fr *chunkpipeline.FileResult) {
	c.tracker.wait(fr.Path)

	if fr.Err != nil {
		if c.opts.ErrorSink != nil {
			c.opts.ErrorSink.OnError(fr.Path, fr.Err)
		}

		return
	}

	if c.opts.MetadataSink == nil {
		return
	}

	meta := FileMetadata{Path: fr.Path, ChunkCount: len(fr.Chunks)}

	hashes := make([]string, len(fr.Chunks))
	for i, ch := range fr.Chunks {
		hashes[i] = ch.Hash
		meta.TotalSize += int64(ch.Size)
	}
	meta.Hashes = hashes

	c.opts.MetadataSink.OnFileComplete(meta)
}

// Scan runs a scan under opts (falling back to the configured
// profile's ScanOptions if the zero value is passed) and returns the
// aggregated result (§6 "scan(root, options) → future<ScanResult>" —
// synchronous here; wrap in a goroutine for the future/async form).
func (c *ScanCore) Scan(ctx context.Context, root string, opts scanner.Options) *scanner.Result {
	if reflect.DeepEqual(opts, scanner.Options{}) {
		opts = bundleScanOptions(c.opts)
	}

	return c.scan.Scan(ctx, root, opts)
}

// SetFileVisitor installs the visitor consulted for every traversed
// entry (§6 setFileVisitor).
func (c *ScanCore) SetFileVisitor(v scanner.FileVisitor) {
	c.scan.SetFileVisitor(v)
}

// SetProgressListener installs the listener notified after each file
// (§6 setProgressListener).
func (c *ScanCore) SetProgressListener(l scanner.ProgressListener) {
	c.scan.SetProgressListener(l)
}

// RegisterWatch attaches a watch to path (§6 Watch: register).
func (c *ScanCore) RegisterWatch(path string, opts watch.RegisterOptions) (string, error) {
	return c.watchMgr.Register(path, opts)
}

// DeactivateWatch detaches a prior registration (§6 Watch: deactivate).
func (c *ScanCore) DeactivateWatch(id string) error {
	return c.watchMgr.Deactivate(id)
}

// OnWatchEvent subscribes to every watch registration's coalesced
// batches (§6 Watch: onEvent).
func (c *ScanCore) OnWatchEvent(l watch.EventListener) {
	c.watchMgr.OnEvent(l)
}

func (c *ScanCore) rescan(ctx context.Context, root string) {
	c.Scan(ctx, root, bundleScanOptions(c.opts))
}

// BufferPool, ThreadPool, and Backpressure expose the owned subsystems
// for metrics registration and direct buffer-pool operations (§4.1)
// that sit outside the scan/watch surface.
func (c *ScanCore) BufferPool() *buf.Pool                    { return c.bufPool }
func (c *ScanCore) ThreadPool() *pool.Manager                { return c.poolMgr }
func (c *ScanCore) Backpressure() *backpressure.Controller   { return c.backpressure }

// Close shuts down every owned subsystem in dependency order: watch
// first (it can trigger rescans that use the rest), then the batch
// processor and chunk pipeline, then the thread pool, then the buffer
// pool.
func (c *ScanCore) Close() {
	if c.watchMgr != nil {
		_ = c.watchMgr.Close()
	}

	c.batchProc.Close()
	c.pipeline.Close()
	c.poolMgr.Shutdown()
	c.bufPool.Clear()
}

// pipelineListener adapts *chunkpipeline.Pipeline's backpressure hooks
// to backpressure.Listener so the controller can apply/release against
// it purely in reaction to global transitions, matching how pool.Manager
// subscribes (Decided Open Question #2 in DESIGN.md).
type pipelineListener struct {
	p *chunkpipeline.Pipeline
}

func (l pipelineListener) OnBackpressureChanged(level float64, applied bool) {
	ctx := context.Background()

	if applied {
		_ = l.p.ApplyBackpressure(ctx)
	} else {
		l.p.ReleaseBackpressure()
	}
}
