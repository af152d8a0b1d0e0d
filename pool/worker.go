package pool

import (
	"context"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/blake3vault/scancore/internal/clock"
	"github.com/blake3vault/scancore/scanerr"
)

// Task is a unit of work submitted to a pool.
type Task func(ctx context.Context)

type queuedTask struct {
	task Task
	ctx  context.Context
}

// idleTimeout is how long a coreTimeout-eligible worker waits for a new
// task before exiting; it is respawned lazily by the next submit that
// finds live < effectiveMax.
const idleTimeout = 60 * time.Second

// workerPool runs Tasks for a single Class with a core/max goroutine
// count and a bounded FIFO queue. Rejection under saturation is
// caller-runs: submit executes the task on the calling goroutine rather
// than blocking or dropping it (§4.2). The Priority column in the
// spec's pool table has no OS-level equivalent Go can act on; it is
// retained here purely as metadata reported through Stats.
type workerPool struct {
	class Class
	spec  classSpec

	tasks   chan *queuedTask
	closeCh chan struct{}

	mu                 sync.Mutex
	coreN              int
	maxN               int
	live               int
	closed             bool
	backpressureFactor float64

	active   atomic.Int64
	totalRun atomic.Int64
	rejected atomic.Int64
}

func newWorkerPool(class Class, p int) *workerPool {
	spec := specs[class]
	wp := &workerPool{
		class:              class,
		spec:               spec,
		coreN:              spec.core(p),
		maxN:               spec.max(p),
		backpressureFactor: 1.0,
		tasks:              make(chan *queuedTask, spec.queue),
		closeCh:            make(chan struct{}),
	}

	wp.mu.Lock()
	for i := 0; i < wp.coreN; i++ {
		wp.spawnWorkerLocked()
	}
	wp.mu.Unlock()

	return wp
}

func (wp *workerPool) effectiveMax() int {
	wp.mu.Lock()
	m := int(float64(wp.maxN) * wp.backpressureFactor)
	core := wp.coreN
	wp.mu.Unlock()

	if m < core {
		m = core
	}

	return m
}

// submit enqueues task, spawning an overflow worker if there is spare
// capacity under effectiveMax, or running task on the caller's
// goroutine if the pool is saturated.
func (wp *workerPool) submit(ctx context.Context, task Task, _ Priority) error {
	wp.mu.Lock()

	if wp.closed {
		wp.mu.Unlock()
		return scanerr.New(scanerr.Shutdown, "", nil)
	}

	live := wp.live
	em := int(float64(wp.maxN) * wp.backpressureFactor)
	if em < wp.coreN {
		em = wp.coreN
	}

	if live < em {
		wp.spawnWorkerLocked()
	}

	wp.mu.Unlock()

	qt := &queuedTask{task: task, ctx: ctx}

	select {
	case wp.tasks <- qt:
		return nil
	default:
	}

	if live >= em {
		wp.rejected.Inc()
		wp.runMonitored(ctx, task)

		return nil
	}

	// A worker was just spawned but the channel is momentarily full;
	// block until it (or another) drains a slot.
	select {
	case wp.tasks <- qt:
	case <-wp.closeCh:
		return scanerr.New(scanerr.Shutdown, "", nil)
	}

	return nil
}

func (wp *workerPool) spawnWorkerLocked() {
	wp.live++

	go wp.runWorker()
}

func (wp *workerPool) runWorker() {
	defer func() {
		wp.mu.Lock()
		wp.live--
		wp.mu.Unlock()
	}()

	for {
		if wp.spec.coreTimeout {
			timer := clock.NewTicker(idleTimeout)

			select {
			case qt := <-wp.tasks:
				timer.Stop()
				wp.runMonitored(qt.ctx, qt.task)
			case <-timer.C:
				timer.Stop()
				return
			case <-wp.closeCh:
				timer.Stop()
				wp.drainRemaining()

				return
			}

			continue
		}

		select {
		case qt := <-wp.tasks:
			wp.runMonitored(qt.ctx, qt.task)
		case <-wp.closeCh:
			wp.drainRemaining()
			return
		}
	}
}

// drainRemaining runs every task still sitting in the queue after
// shutdown was signaled, giving the orderly-drain phase a chance to
// finish real work instead of abandoning it outright.
func (wp *workerPool) drainRemaining() {
	for {
		select {
		case qt := <-wp.tasks:
			wp.runMonitored(qt.ctx, qt.task)
		default:
			return
		}
	}
}

func (wp *workerPool) runMonitored(ctx context.Context, task Task) {
	wp.active.Inc()

	defer func() {
		wp.active.Dec()
		wp.totalRun.Inc()

		if r := recover(); r != nil {
			log(context.Background()).Errorf("pool %s: task panicked: %v", wp.class, r)
		}
	}()

	task(ctx)
}

// loadFactor is (active + queued) / max, the adaptive-sizing input.
func (wp *workerPool) loadFactor() float64 {
	wp.mu.Lock()
	m := wp.maxN
	wp.mu.Unlock()

	if m == 0 {
		return 0
	}

	return float64(wp.active.Load()+int64(len(wp.tasks))) / float64(m)
}

func (wp *workerPool) resize() {
	if wp.class == CPU {
		return // CPU pool's max is pinned to P, never resized
	}

	lf := wp.loadFactor()

	wp.mu.Lock()
	defer wp.mu.Unlock()

	switch {
	case lf > 0.8:
		grown := int(float64(wp.maxN) * wp.spec.growFactor)
		if grown > wp.maxN {
			wp.maxN = grown
		}
	case lf < 0.3 && wp.maxN > wp.coreN:
		shrunk := int(float64(wp.maxN) * wp.spec.shrinkFactor)
		if shrunk < wp.coreN {
			shrunk = wp.coreN
		}

		if shrunk < wp.maxN {
			wp.maxN = shrunk
		}
	}
}

// applyBackpressure lowers the pool's effective max by 30-50%
// proportional to level (§4.2).
func (wp *workerPool) applyBackpressure(level float64) {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	reduction := 0.30 + 0.20*level
	wp.backpressureFactor = 1.0 - reduction*level
}

func (wp *workerPool) releaseBackpressure() {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	wp.backpressureFactor = 1.0
}

// shutdown signals every worker to drain, waiting up to drainTimeout,
// then up to a further forceTimeout, logging any stragglers still
// running after both deadlines elapse.
func (wp *workerPool) shutdown(drainTimeout, forceTimeout time.Duration) {
	wp.mu.Lock()
	if wp.closed {
		wp.mu.Unlock()
		return
	}

	wp.closed = true
	wp.mu.Unlock()
	close(wp.closeCh)

	if wp.waitForDrain(drainTimeout) {
		return
	}

	if wp.waitForDrain(forceTimeout) {
		return
	}

	wp.mu.Lock()
	stragglers := wp.live
	wp.mu.Unlock()

	if stragglers > 0 {
		log(context.Background()).Errorf("pool %s: %d workers still running after shutdown deadlines", wp.class, stragglers)
	}
}

func (wp *workerPool) waitForDrain(timeout time.Duration) bool {
	deadline := clock.Now().Add(timeout)

	for clock.Now().Before(deadline) {
		wp.mu.Lock()
		live := wp.live
		wp.mu.Unlock()

		if live == 0 {
			return true
		}

		time.Sleep(10 * time.Millisecond)
	}

	return false
}
