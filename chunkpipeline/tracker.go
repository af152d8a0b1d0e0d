package chunkpipeline

import (
	"sync"

	"go.uber.org/atomic"
)

// tracker counts in-flight chunk jobs across every file a Pipeline is
// currently processing, and supports a one-shot drain-on-close: once
// requestDrain is called, the tracker closes drained once the
// in-flight count reaches zero (immediately, if it's already there).
type tracker struct {
	count   atomic.Int64
	draining atomic.Bool
	drained chan struct{}
	once    sync.Once
}

func newTracker() *tracker {
	return &tracker{drained: make(chan struct{})}
}

func (t *tracker) register() {
	t.count.Inc()
}

func (t *tracker) deregister() {
	if t.count.Dec() == 0 && t.draining.Load() {
		t.signalDrained()
	}
}

func (t *tracker) requestDrain() {
	t.draining.Store(true)

	if t.count.Load() == 0 {
		t.signalDrained()
	}
}

func (t *tracker) signalDrained() {
	t.once.Do(func() { close(t.drained) })
}

func (t *tracker) inFlight() int64 {
	return t.count.Load()
}
