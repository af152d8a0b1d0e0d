// Package backpressure implements the single shared pressure signal
// described in spec §4.3: a level in [0,1] that producers across the
// module (buffer pool, thread pools, batch processor) consult before
// admitting more work.
package backpressure

import (
	"context"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/blake3vault/scancore/internal/clock"
	"github.com/blake3vault/scancore/logging"
	"github.com/blake3vault/scancore/scanerr"
)

var log = logging.Module("backpressure")

// Listener is notified on every transition the Controller records, in
// addition to its own queryable state. Registering a listener is how a
// pool.Manager or the chunk pipeline (through the scancore facade's
// pipelineListener) subscribes to level changes rather than polling.
type Listener interface {
	OnBackpressureChanged(level float64, applied bool)
}

// Controller holds the single shared pressure level.
type Controller struct {
	mu      sync.RWMutex
	level   float64
	applied bool
	changed time.Time

	totalEvents atomic.Int64

	listenersMu sync.Mutex
	listeners   []Listener
}

// NewController returns a Controller at level 0 (no pressure applied).
func NewController() *Controller {
	return &Controller{changed: clock.Now()}
}

// AddListener registers l to be notified of every transition going
// forward. Not retroactive.
func (c *Controller) AddListener(l Listener) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()

	c.listeners = append(c.listeners, l)
}

// Report implements buf.PressureSink, letting a buffer pool feed its
// memory-pressure observations directly into the shared controller.
func (c *Controller) Report(level float64) {
	_ = c.SetLevel(level)
}

// SetLevel updates the shared level, applying the §4.3 transition
// table, and returns InvalidArgument if level is outside [0,1].
func (c *Controller) SetLevel(level float64) error {
	if level < 0 || level > 1 {
		return scanerr.New(scanerr.InvalidArgument, "", nil)
	}

	c.mu.Lock()

	wasApplied := c.applied
	c.level = level
	c.applied = level > 0

	transitioned := wasApplied != c.applied
	if transitioned {
		c.changed = clock.Now()

		if c.applied {
			c.totalEvents.Inc()
		}
	}

	nowApplied := c.applied

	c.mu.Unlock()

	if transitioned {
		log(context.Background()).Infof("backpressure transition: level=%.2f applied=%v", level, nowApplied)
		c.notify(level, nowApplied)
	}

	return nil
}

func (c *Controller) notify(level float64, applied bool) {
	c.listenersMu.Lock()
	ls := append([]Listener(nil), c.listeners...)
	c.listenersMu.Unlock()

	for _, l := range ls {
		l.OnBackpressureChanged(level, applied)
	}
}

// Current returns the current pressure level.
func (c *Controller) Current() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.level
}

// Applied reports whether pressure is currently non-zero.
func (c *Controller) Applied() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.applied
}

// TotalEvents is the lifetime count of 0→>0 transitions.
func (c *Controller) TotalEvents() int64 {
	return c.totalEvents.Load()
}

// IsUnderBackpressure reports whether the current level is at or above
// threshold.
func (c *Controller) IsUnderBackpressure(threshold float64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.level >= threshold
}

// LastChanged returns the timestamp of the most recent applied/cleared
// transition.
func (c *Controller) LastChanged() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.changed
}
