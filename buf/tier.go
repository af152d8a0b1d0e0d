package buf

import (
	"go.uber.org/atomic"
)

// tier holds one capacity class's buffers for one Category. The
// available queue is a bounded channel, giving lock-free-ish enqueue and
// dequeue semantics (§5: "lock-free enqueue/dequeue on a bounded ring per
// tier") without hand-rolling a CAS ring buffer.
type tier struct {
	size     int
	category Category

	available chan *Buffer

	total atomic.Int64
	inUse atomic.Int64

	// windowed counters, reset by the adaptive-sizing management task
	// each interval.
	acquisitions    atomic.Int64
	hits            atomic.Int64
	inUseHighWater  atomic.Int64
	belowMinStreak  atomic.Int64

	minBuffers int
	maxBuffers int
}

func newTier(size int, category Category, minBuffers, maxBuffers int) *tier {
	return &tier{
		size:       size,
		category:   category,
		available:  make(chan *Buffer, maxBuffers),
		minBuffers: minBuffers,
		maxBuffers: maxBuffers,
	}
}

// tryTake pops one buffer from the available queue without blocking.
func (t *tier) tryTake() *Buffer {
	select {
	case b := <-t.available:
		t.inUse.Inc()
		return b
	default:
		return nil
	}
}

// put returns a buffer to the available queue. If the queue is full
// (grown beyond the channel's capacity after a shrink) the buffer is
// dropped and total is decremented instead of blocking.
func (t *tier) put(b *Buffer) {
	b.reset()

	select {
	case t.available <- b:
	default:
		t.total.Dec()
	}

	t.inUse.Dec()
}

// grow allocates n new buffers for this tier and adds them to the
// available queue, for prefetching and adaptive growth.
func (t *tier) grow(n int) error {
	for i := 0; i < n; i++ {
		b, err := allocate(t.size, t.category)
		if err != nil {
			return err
		}

		b.tier = -1 // set by caller once index is known; placeholder

		select {
		case t.available <- b:
			t.total.Inc()
		default:
			return nil // queue capacity reached, stop growing
		}
	}

	return nil
}

func allocate(size int, category Category) (*Buffer, error) {
	if category == Direct {
		return newDirectBuffer(size)
	}

	return &Buffer{Bytes: make([]byte, size), category: Heap}, nil
}

// drainAll removes and discards every idle buffer, releasing direct
// mappings, and returns the count removed.
func (t *tier) drainAll() int {
	n := 0

	for {
		select {
		case b := <-t.available:
			_ = b.unmapIfDirect()
			t.total.Dec()
			n++
		default:
			return n
		}
	}
}

// drainIdle removes up to n idle buffers (used by the memory-pressure
// responder, largest tier first).
func (t *tier) drainIdle(n int) int {
	removed := 0

	for removed < n {
		select {
		case b := <-t.available:
			_ = b.unmapIfDirect()
			t.total.Dec()
			removed++
		default:
			return removed
		}
	}

	return removed
}
