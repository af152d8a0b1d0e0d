// Package buf implements the tiered byte-buffer pool described in
// spec §4.1: eleven power-of-two capacity classes from 1 KiB to 1 MiB,
// each split into a heap and a direct (mmap-backed) sub-pool, with
// adaptive per-tier sizing and a memory-pressure responder.
package buf

import (
	"context"
	"math/bits"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/atomic"

	"github.com/blake3vault/scancore/internal/clock"
	"github.com/blake3vault/scancore/logging"
	"github.com/blake3vault/scancore/scanerr"
)

var log = logging.Module("buf")

// PressureSink receives the pool's observed memory-pressure level,
// letting a shared backpressure.Controller (or any other consumer)
// react without buf importing that package.
type PressureSink interface {
	Report(level float64)
}

// Pool is a tiered buffer pool. The zero value is not usable; construct
// with NewPool.
type Pool struct {
	cfg Config

	// heapTiers[i] / directTiers[i] are the tier for size
	// MinTierSize<<i; nil when the category is disabled.
	heapTiers   [NumTiers]*tier
	directTiers [NumTiers]*tier

	outOfPool atomic.Int64 // count of allocations larger than MaxTierSize

	shutdownFlag atomic.Bool
	shutdownCh   chan struct{}

	detector *pressureDetector
	sink     PressureSink

	resizeCount              atomic.Int64
	consecutiveOptimizations atomic.Int64
}

// NewPool constructs a Pool and starts its management goroutines
// (adaptive sizing, memory-pressure polling, and optionally prefetch).
// Call Clear to stop them and release every buffer.
func NewPool(cfg Config, sink PressureSink) *Pool {
	cfg = cfg.withDefaults()

	p := &Pool{
		cfg:        cfg,
		shutdownCh: make(chan struct{}),
		sink:       sink,
	}

	for i := 0; i < NumTiers; i++ {
		size := MinTierSize << i
		if cfg.EnableHeap {
			p.heapTiers[i] = newTier(size, Heap, cfg.MinBuffersPerTier, cfg.MaxBuffersPerTier)
		}

		if cfg.EnableDirect {
			p.directTiers[i] = newTier(size, Direct, cfg.MinBuffersPerTier, cfg.MaxBuffersPerTier)
		}
	}

	p.detector = newPressureDetector(cfg.MemoryPressureThreshold)

	go p.managementLoop()

	return p
}

// tierIndexForSize returns the smallest tier index whose capacity is >=
// size, or -1 if size exceeds MaxTierSize.
func tierIndexForSize(size int) int {
	if size > MaxTierSize {
		return -1
	}

	if size <= MinTierSize {
		return 0
	}

	// bits.Len gives the position of the highest set bit; round up to the
	// next power of two by checking whether size is already one.
	n := size - 1
	idx := bits.Len(uint(n)) - bits.Len(uint(MinTierSize)) + 1

	if idx >= NumTiers {
		return NumTiers - 1
	}

	return idx
}

func (p *Pool) tierFor(idx int) (heap, direct *tier) {
	return p.heapTiers[idx], p.directTiers[idx]
}

// defaultCategory picks Direct for tiers above directTierThreshold,
// falling back to whichever category is enabled.
func (p *Pool) defaultCategory(idx int) Category {
	size := MinTierSize << idx

	preferDirect := size > directTierThreshold && p.cfg.EnableDirect
	if preferDirect {
		return Direct
	}

	if p.cfg.EnableHeap {
		return Heap
	}

	return Direct
}

// Acquire returns a buffer with capacity >= size. size must be positive.
// Sizes above MaxTierSize are serviced by an allocation outside the pool
// (no tier bookkeeping, no adaptive sizing, no OOM retry).
func (p *Pool) Acquire(ctx context.Context, size int) (*Buffer, error) {
	if size <= 0 {
		return nil, scanerr.New(scanerr.InvalidArgument, "", nil)
	}

	if p.shutdownFlag.Load() {
		return nil, scanerr.New(scanerr.Shutdown, "", nil)
	}

	idx := tierIndexForSize(size)
	if idx < 0 {
		p.outOfPool.Inc()

		b, err := allocate(size, Heap)
		if err != nil {
			return nil, scanerr.New(scanerr.OutOfMemory, "", err)
		}

		b.tier = -1

		return b, nil
	}

	return p.acquireFromTier(ctx, idx, size)
}

func (p *Pool) acquireFromTier(ctx context.Context, idx, size int) (*Buffer, error) {
	cat := p.defaultCategory(idx)
	t := p.tierForCategory(idx, cat)

	t.acquisitions.Inc()

	if b := t.tryTake(); b != nil {
		t.hits.Inc()
		b.released.Store(false)
		b.tier = idx
		b.Bytes = b.Bytes[:size]

		return b, nil
	}

	if int(t.total.Load()) < t.maxBuffers {
		b, err := p.allocateWithRetry(ctx, t, size)
		if err != nil {
			return nil, err
		}

		b.tier = idx
		t.total.Inc()
		t.inUse.Inc()
		b.Bytes = b.Bytes[:size]

		return b, nil
	}

	// Tier is at capacity: block until a release frees a slot.
	select {
	case b := <-t.available:
		t.hits.Inc()
		t.inUse.Inc()
		b.released.Store(false)
		b.tier = idx
		b.Bytes = b.Bytes[:size]

		return b, nil
	case <-ctx.Done():
		return nil, scanerr.New(scanerr.Interrupted, "", ctx.Err())
	}
}

func (p *Pool) tierForCategory(idx int, cat Category) *tier {
	if cat == Direct && p.directTiers[idx] != nil {
		return p.directTiers[idx]
	}

	return p.heapTiers[idx]
}

// allocateWithRetry allocates a fresh buffer for t's category, reporting
// to the pressure detector and retrying once after a bounded wait for a
// release if the first attempt fails (§4.1 Memory pressure / OOM).
func (p *Pool) allocateWithRetry(ctx context.Context, t *tier, size int) (*Buffer, error) {
	b, err := allocate(t.size, t.category)
	if err == nil {
		return b, nil
	}

	p.detector.reportOOM()
	p.publishPressure(1.0)

	retryOnce := backoff.NewExponentialBackOff()

	_, backoffErr := backoff.Retry(ctx, func() (struct{}, error) {
		select {
		case released := <-t.available:
			t.available <- released // put it back; caller's normal path will take it
			return struct{}{}, nil
		default:
			return struct{}{}, errNoReleaseYet
		}
	}, backoff.WithBackOff(retryOnce), backoff.WithMaxElapsedTime(2*time.Second))

	if backoffErr != nil {
		return nil, scanerr.New(scanerr.OutOfMemory, "", err)
	}

	b2, err2 := allocate(t.size, t.category)
	if err2 != nil {
		return nil, scanerr.New(scanerr.OutOfMemory, "", err2)
	}

	_ = size

	return b2, nil
}

var errNoReleaseYet = scanerr.New(scanerr.Timeout, "", nil)

// Release returns b to its originating tier. A nil buffer, a buffer that
// did not originate from this pool, or a buffer whose tier/category
// mismatch is silently dropped (§4.1: "foreign buffers ... are silently
// dropped rather than corrupting the tier"). Releasing an
// already-released buffer is a contract violation the pool detects on a
// best-effort basis and ignores.
func (p *Pool) Release(b *Buffer) {
	if b == nil {
		return
	}

	if !b.released.CompareAndSwap(false, true) {
		log(context.Background()).Warn("double release detected, ignoring")
		return
	}

	if b.tier < 0 || b.tier >= NumTiers {
		_ = b.unmapIfDirect()
		return
	}

	t := p.tierForCategory(b.tier, b.category)
	if t == nil {
		_ = b.unmapIfDirect()
		return
	}

	t.put(b) // released stays set until acquireFromTier hands b out again
}

// Clear drains every tier, stops background services, and causes
// subsequent Acquire calls to fail with Shutdown. Idempotent.
func (p *Pool) Clear() {
	if !p.shutdownFlag.CompareAndSwap(false, true) {
		return
	}

	close(p.shutdownCh)

	for i := 0; i < NumTiers; i++ {
		if t := p.heapTiers[i]; t != nil {
			t.drainAll()
		}

		if t := p.directTiers[i]; t != nil {
			t.drainAll()
		}
	}
}

// AvailableCount returns the total number of idle buffers across all
// tiers and categories.
func (p *Pool) AvailableCount() int {
	n := 0

	for i := 0; i < NumTiers; i++ {
		if t := p.heapTiers[i]; t != nil {
			n += len(t.available)
		}

		if t := p.directTiers[i]; t != nil {
			n += len(t.available)
		}
	}

	return n
}

// TotalCount returns the number of buffers the pool currently owns
// (idle + in use), across all tiers.
func (p *Pool) TotalCount() int {
	n := int64(0)

	for i := 0; i < NumTiers; i++ {
		if t := p.heapTiers[i]; t != nil {
			n += t.total.Load()
		}

		if t := p.directTiers[i]; t != nil {
			n += t.total.Load()
		}
	}

	return int(n)
}

// InUseCount returns TotalCount - AvailableCount, i.e. buffers currently
// checked out.
func (p *Pool) InUseCount() int {
	return p.TotalCount() - p.AvailableCount()
}

// Stats is a point-in-time, weakly consistent snapshot (§4.1
// Observability).
type Stats struct {
	Name                     string
	Available                int
	Total                    int
	InUse                    int
	OutOfPoolAllocations     int64
	ResizeCount              int64
	ConsecutiveOptimizations int64
	Tiers                    []TierStats
}

// TierStats reports one (size, category) bucket's counters.
type TierStats struct {
	Size       int
	Category   Category
	Available  int
	Total      int
	InUse      int
	Hits       int64
	Acquisitions int64
}

// Stats returns a snapshot of pool-wide and per-tier counters.
func (p *Pool) Stats() Stats {
	s := Stats{
		Name:                     p.cfg.Name,
		Available:                p.AvailableCount(),
		Total:                    p.TotalCount(),
		OutOfPoolAllocations:     p.outOfPool.Load(),
		ResizeCount:              p.resizeCount.Load(),
		ConsecutiveOptimizations: p.consecutiveOptimizations.Load(),
	}
	s.InUse = s.Total - s.Available

	for i := 0; i < NumTiers; i++ {
		for _, t := range [2]*tier{p.heapTiers[i], p.directTiers[i]} {
			if t == nil {
				continue
			}

			avail := len(t.available)
			s.Tiers = append(s.Tiers, TierStats{
				Size:         t.size,
				Category:     t.category,
				Available:    avail,
				Total:        int(t.total.Load()),
				InUse:        int(t.total.Load()) - avail,
				Hits:         t.hits.Load(),
				Acquisitions: t.acquisitions.Load(),
			})
		}
	}

	return s
}

func (p *Pool) publishPressure(level float64) {
	if p.sink != nil {
		p.sink.Report(level)
	}
}

// managementLoop runs the adaptive-sizing, memory-pressure, and
// prefetch tasks on their configured intervals until Clear is called.
// This is the Management-class background work referenced by §5
// ("The Management pool hosts periodic supervisory tasks").
func (p *Pool) managementLoop() {
	ticker := clock.NewTicker(p.cfg.AdaptiveSizingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.shutdownCh:
			return
		case <-ticker.C:
			p.runAdaptiveSizing()
			p.runPressureCheck()
		}
	}
}

func (p *Pool) runAdaptiveSizing() {
	for i := 0; i < NumTiers; i++ {
		for _, t := range [2]*tier{p.heapTiers[i], p.directTiers[i]} {
			if t == nil {
				continue
			}

			p.adaptTier(t)
		}
	}
}

func (p *Pool) adaptTier(t *tier) {
	acquisitions := t.acquisitions.Swap(0)
	hits := t.hits.Swap(0)

	var hitRate float64 = 1
	if acquisitions > 0 {
		hitRate = float64(hits) / float64(acquisitions)
	}

	inUse := t.total.Load() - int64(len(t.available))

	switch {
	case hitRate < 0.9:
		grown := min64(int64(t.maxBuffers)-t.total.Load(), int64(t.minBuffers))
		if grown > 0 {
			if err := t.grow(int(grown)); err == nil {
				p.resizeCount.Inc()
				p.consecutiveOptimizations.Inc()
			}
		}

		t.belowMinStreak.Store(0)

	case inUse <= int64(t.minBuffers):
		if t.belowMinStreak.Inc() >= 2 {
			target := int64(float64(t.total.Load()) * 0.9)
			if target < int64(t.minBuffers) {
				target = int64(t.minBuffers)
			}

			if shrink := t.total.Load() - target; shrink > 0 {
				t.drainIdle(int(shrink))
				p.resizeCount.Inc()
			}

			t.belowMinStreak.Store(0)
		}

	default:
		t.belowMinStreak.Store(0)
	}

	if acquisitions > int64(p.cfg.PrefetchThreshold) && p.cfg.EnablePrefetch {
		headroom := int64(t.maxBuffers) - t.total.Load()
		if headroom > 0 {
			_ = t.grow(int(headroom))
		}
	}
}

func (p *Pool) runPressureCheck() {
	level, breached := p.detector.poll(p.cfg.MemoryPressureThreshold)

	p.publishPressure(level)

	if !breached {
		return
	}

	// Release idle buffers starting with the largest tier.
	for i := NumTiers - 1; i >= 0; i-- {
		for _, t := range [2]*tier{p.directTiers[i], p.heapTiers[i]} {
			if t == nil {
				continue
			}

			if t.drainIdle(len(t.available)) > 0 {
				return
			}
		}
	}
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}

	return b
}
