package batch

import (
	"context"
	"sync"
	"time"

	"go.uber.org/atomic"
	"golang.org/x/time/rate"

	"github.com/blake3vault/scancore/internal/clock"
	"github.com/blake3vault/scancore/logging"
	"github.com/blake3vault/scancore/pool"
	"github.com/blake3vault/scancore/scanerr"
)

var log = logging.Module("batch")

// PressureSink receives the processor's derived pressure level,
// exactly like buf.PressureSink, letting repeated resource-gating
// push-backs feed the shared backpressure.Controller (§4.5: "repeated
// push-backs contribute to backpressure").
type PressureSink interface {
	Report(level float64)
}

type queueKey struct {
	kind     OperationKind
	priority Priority
}

type pendingOp struct {
	op       Operation
	seq      int64
	resultCh chan BatchOperationResult
}

// Processor groups submitted Operations into (kind, priority) batches,
// gates them against a ResourceConfiguration, and dispatches them onto
// a pool.Manager's CPU class with bounded concurrency (§4.5).
type Processor struct {
	cfg     Config
	poolMgr *pool.Manager
	sink    PressureSink

	mu       sync.Mutex
	queues   map[queueKey][]*pendingOp
	nextSeq  int64
	committedMemory int64
	committedCPU    float64
	committedIO     float64

	effectiveBatchSize atomic.Int64
	activeBatches      atomic.Int64
	pushbacks          atomic.Int64
	pushbackStreak     atomic.Int64

	windowBytes   atomic.Int64
	windowElapsed atomic.Int64 // nanoseconds
	windowBatches atomic.Int64

	limiter *rate.Limiter

	notifyCh   chan struct{}
	shutdownCh chan struct{}
	closeOnce  sync.Once
}

// New constructs a Processor and starts its dispatch and (if enabled)
// adaptive-sizing loops.
func New(cfg Config, poolMgr *pool.Manager, sink PressureSink) *Processor {
	cfg = cfg.withDefaults()

	p := &Processor{
		cfg:        cfg,
		poolMgr:    poolMgr,
		sink:       sink,
		queues:     make(map[queueKey][]*pendingOp),
		notifyCh:   make(chan struct{}, 1),
		shutdownCh: make(chan struct{}),
		limiter:    rate.NewLimiter(rate.Limit(cfg.TargetThroughputMBps*1024*1024), int(cfg.TargetThroughputMBps*1024*1024)),
	}

	p.effectiveBatchSize.Store(int64(cfg.MinBatchSize))

	go p.dispatchLoop()

	if cfg.EnableAdaptiveSizing {
		go p.adaptiveSizingLoop()
	}

	return p
}

// Submit enqueues op and returns a channel that receives exactly one
// BatchOperationResult. Operations at or below SmallBufferThreshold
// bypass batching entirely and are dispatched immediately (§4.5 Small-
// operation bypass).
func (p *Processor) Submit(ctx context.Context, op Operation) <-chan BatchOperationResult {
	resultCh := make(chan BatchOperationResult, 1)

	if op.Size <= p.cfg.SmallBufferThreshold {
		p.runBypassed(ctx, op, resultCh)
		return resultCh
	}

	p.mu.Lock()
	p.nextSeq++
	key := queueKey{kind: op.Kind, priority: op.Priority}
	p.queues[key] = append(p.queues[key], &pendingOp{op: op, seq: p.nextSeq, resultCh: resultCh})
	p.mu.Unlock()

	p.wake()

	return resultCh
}

func (p *Processor) wake() {
	select {
	case p.notifyCh <- struct{}{}:
	default:
	}
}

func (p *Processor) runBypassed(ctx context.Context, op Operation, resultCh chan BatchOperationResult) {
	class := pool.CPU
	if op.Kind == Storage || op.Kind == Transfer {
		class = pool.IO
	}

	_ = p.poolMgr.Submit(ctx, class, func(ctx context.Context) {
		resultCh <- p.runOne(ctx, op)
	}, pool.Normal)
}

func (p *Processor) runOne(ctx context.Context, op Operation) BatchOperationResult {
	start := clock.Now()

	outcome, err := op.Work(ctx)

	return BatchOperationResult{
		OperationID:    op.ID,
		Success:        err == nil,
		Err:            err,
		Started:        start,
		Elapsed:        clock.Now().Sub(start),
		FilesProcessed: outcome.FilesProcessed,
		FilesFailed:    outcome.FilesFailed,
		BytesProcessed: outcome.BytesProcessed,
	}
}

// dispatchLoop picks the next eligible (kind, priority) group, gates it
// against available headroom, and runs it as a batch.
func (p *Processor) dispatchLoop() {
	ticker := clock.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-p.shutdownCh:
			return
		case <-p.notifyCh:
		case <-ticker.C:
		}

		for p.tryDispatchOne() {
		}
	}
}

// tryDispatchOne attempts to start one batch; returns true if it
// should be called again immediately (there may be more eligible work).
func (p *Processor) tryDispatchOne() bool {
	if int(p.activeBatches.Load()) >= p.cfg.MaxConcurrentBatches {
		return false
	}

	p.mu.Lock()

	key, ok := p.selectQueueLocked()
	if !ok {
		p.mu.Unlock()
		return false
	}

	size := int(p.effectiveBatchSize.Load())
	q := p.queues[key]

	if size > len(q) {
		size = len(q)
	}

	batch := q[:size]
	p.queues[key] = q[size:]

	p.mu.Unlock()

	if !p.admit(batch) {
		p.pushBack(key, batch)
		return false
	}

	p.activeBatches.Inc()

	go p.runBatch(key, batch)

	return true
}

func (p *Processor) selectQueueLocked() (queueKey, bool) {
	var (
		best    queueKey
		bestSeq int64 = -1
		found   bool
	)

	for key, q := range p.queues {
		if len(q) == 0 {
			continue
		}

		front := q[0].seq

		switch {
		case !found:
			best, bestSeq, found = key, front, true
		case p.cfg.EnablePriorityOrder && key.priority < best.priority:
			best, bestSeq = key, front
		case p.cfg.EnablePriorityOrder && key.priority == best.priority && front < bestSeq:
			best, bestSeq = key, front
		case !p.cfg.EnablePriorityOrder && front < bestSeq:
			best, bestSeq = key, front
		}
	}

	return best, found
}

// admit checks batch's aggregate resource requirement against
// available headroom and, if it fits, commits it.
func (p *Processor) admit(batch []*pendingOp) bool {
	var mem int64

	var cpu, io float64

	for _, po := range batch {
		mem += po.op.Resources.MemoryBytes
		cpu += po.op.Resources.CPUCores
		io += po.op.Resources.IOBandwidthMBps
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.committedMemory+mem > p.cfg.Resources.MaxMemoryBytes ||
		p.committedCPU+cpu > p.cfg.Resources.MaxCPUCores ||
		p.committedIO+io > p.cfg.Resources.MaxIOBandwidthMBps {
		return false
	}

	p.committedMemory += mem
	p.committedCPU += cpu
	p.committedIO += io

	return true
}

func (p *Processor) release(batch []*pendingOp) {
	var mem int64

	var cpu, io float64

	for _, po := range batch {
		mem += po.op.Resources.MemoryBytes
		cpu += po.op.Resources.CPUCores
		io += po.op.Resources.IOBandwidthMBps
	}

	p.mu.Lock()
	p.committedMemory -= mem
	p.committedCPU -= cpu
	p.committedIO -= io
	p.mu.Unlock()
}

func (p *Processor) pushBack(key queueKey, batch []*pendingOp) {
	p.mu.Lock()
	p.queues[key] = append(batch, p.queues[key]...)
	p.mu.Unlock()

	p.pushbacks.Inc()
	streak := p.pushbackStreak.Inc()

	if p.sink != nil {
		level := float64(streak) / 10
		if level > 1 {
			level = 1
		}

		p.sink.Report(level)
	}

	log(context.Background()).Debugf("batch: pushed back %d ops in (%s,%d) for insufficient headroom", len(batch), key.kind, key.priority)
}

func (p *Processor) runBatch(key queueKey, batch []*pendingOp) {
	defer p.activeBatches.Dec()
	defer p.release(batch)

	p.pushbackStreak.Store(0)

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.BatchTimeout)
	defer cancel()

	var wg sync.WaitGroup

	wg.Add(len(batch))

	start := clock.Now()

	for _, po := range batch {
		po := po

		_ = p.limiter.WaitN(ctx, clampTokens(po.op.Size))

		submitErr := p.poolMgr.Submit(ctx, pool.CPU, func(ctx context.Context) {
			defer wg.Done()

			res := p.runOne(ctx, po.op)
			po.resultCh <- res

			p.windowBytes.Add(res.BytesProcessed)
			p.windowElapsed.Add(int64(res.Elapsed))
			p.windowBatches.Inc()
		}, pool.Normal)

		if submitErr != nil {
			wg.Done()
			po.resultCh <- BatchOperationResult{OperationID: po.op.ID, Success: false, Err: scanerr.New(scanerr.BatchFailure, "", submitErr)}
		}
	}

	wg.Wait()

	log(context.Background()).Debugf("batch: completed (%s,%d) of %d ops in %s", key.kind, key.priority, len(batch), clock.Now().Sub(start))
}

func clampTokens(n int64) int {
	if n <= 0 {
		return 1
	}

	if n > 1<<30 {
		return 1 << 30
	}

	return int(n)
}

// adaptiveSizingLoop grows or shrinks effectiveBatchSize toward the
// configured throughput/latency targets (§4.5 Adaptive sizing).
func (p *Processor) adaptiveSizingLoop() {
	ticker := clock.NewTicker(p.cfg.AdaptiveSizingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.shutdownCh:
			return
		case <-ticker.C:
			p.adjustBatchSize()
		}
	}
}

func (p *Processor) adjustBatchSize() {
	bytesSeen := p.windowBytes.Swap(0)
	elapsedNs := p.windowElapsed.Swap(0)
	batches := p.windowBatches.Swap(0)

	if batches == 0 {
		return
	}

	avgLatencyMs := float64(elapsedNs) / float64(batches) / 1e6

	var throughputMBps float64
	if elapsedNs > 0 {
		throughputMBps = float64(bytesSeen) / (1024 * 1024) / (float64(elapsedNs) / 1e9)
	}

	current := p.effectiveBatchSize.Load()

	switch {
	case throughputMBps < p.cfg.TargetThroughputMBps && avgLatencyMs < float64(p.cfg.TargetLatencyMs):
		grown := current + current/4 + 1
		if grown > int64(p.cfg.MaxBatchSize) {
			grown = int64(p.cfg.MaxBatchSize)
		}

		p.effectiveBatchSize.Store(grown)
	case avgLatencyMs > float64(p.cfg.TargetLatencyMs):
		shrunk := current - current/4 - 1
		if shrunk < int64(p.cfg.MinBatchSize) {
			shrunk = int64(p.cfg.MinBatchSize)
		}

		p.effectiveBatchSize.Store(shrunk)
	}
}

// Stats is a point-in-time snapshot of processor-wide counters.
type Stats struct {
	ActiveBatches      int64
	EffectiveBatchSize int64
	Pushbacks          int64
	QueuedOperations   int
}

func (p *Processor) Stats() Stats {
	p.mu.Lock()
	queued := 0

	for _, q := range p.queues {
		queued += len(q)
	}

	p.mu.Unlock()

	return Stats{
		ActiveBatches:      p.activeBatches.Load(),
		EffectiveBatchSize: p.effectiveBatchSize.Load(),
		Pushbacks:          p.pushbacks.Load(),
		QueuedOperations:   queued,
	}
}

// Close stops the dispatch and adaptive-sizing loops. Idempotent.
func (p *Processor) Close() {
	p.closeOnce.Do(func() { close(p.shutdownCh) })
}
