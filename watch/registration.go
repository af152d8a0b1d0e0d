package watch

import (
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/blake3vault/scancore/internal/clock"
)

// registration is the per-registration batching ring of §4.7: raw
// events accumulate under mu until either MaxEventBatchSize is reached
// or EventBatchTimeoutMs elapses since the first event, at which point
// the batch is coalesced and handed to the owning Manager.
type registration struct {
	id   string
	root string
	opts RegisterOptions

	active atomic.Bool

	dirsMu sync.Mutex
	dirs   map[string]struct{}

	mu           sync.Mutex
	pending      []FileChangeEvent
	timer        *time.Timer
	firstEventAt time.Time
}

func newRegistration(id, root string, opts RegisterOptions) *registration {
	r := &registration{
		id:   id,
		root: root,
		opts: opts,
		dirs: make(map[string]struct{}),
	}
	r.active.Store(true)

	return r
}

func (r *registration) addDir(dir string) {
	r.dirsMu.Lock()
	r.dirs[dir] = struct{}{}
	r.dirsMu.Unlock()
}

func (r *registration) hasDir(dir string) bool {
	r.dirsMu.Lock()
	_, ok := r.dirs[dir]
	r.dirsMu.Unlock()

	return ok
}

func (r *registration) watchedDirs() []string {
	r.dirsMu.Lock()
	defer r.dirsMu.Unlock()

	out := make([]string, 0, len(r.dirs))
	for d := range r.dirs {
		out = append(out, d)
	}

	return out
}

// ingest appends ev to the open batch, opening a new batch (and its
// timeout timer) if none is in progress, and returns the events to
// flush immediately if the size threshold was just reached (nil
// otherwise — the timeout timer will flush it later).
func (r *registration) ingest(ev FileChangeEvent, onTimeout func()) []FileChangeEvent {
	if !r.opts.allows(ev.Kind) {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.pending) == 0 {
		r.firstEventAt = clock.Now()
		r.timer = time.AfterFunc(time.Duration(r.opts.EventBatchTimeoutMs)*time.Millisecond, onTimeout)
	}

	r.pending = append(r.pending, ev)

	if len(r.pending) >= r.opts.MaxEventBatchSize {
		return r.takeLocked()
	}

	return nil
}

// takeFlush empties the pending batch unconditionally (called by the
// timeout timer).
func (r *registration) takeFlush() []FileChangeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.takeLocked()
}

func (r *registration) takeLocked() []FileChangeEvent {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}

	events := r.pending
	r.pending = nil

	return events
}

func (r *registration) stopBatch() {
	r.mu.Lock()
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.pending = nil
	r.mu.Unlock()
}

// deactivate atomically flips active; safe to call concurrently and
// idempotent (§4.7 deactivate).
func (r *registration) deactivate() bool {
	return r.active.CompareAndSwap(true, false)
}
