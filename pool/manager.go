package pool

import (
	"context"

	"github.com/blake3vault/scancore/backpressure"
	"github.com/blake3vault/scancore/internal/clock"
	"github.com/blake3vault/scancore/logging"
	"github.com/blake3vault/scancore/scanerr"
)

var log = logging.Module("pool")

// Manager owns the six fixed workload-class pools and their shared
// adaptive-sizing and backpressure hooks.
type Manager struct {
	cfg   Config
	pools [numClasses]*workerPool

	shutdownCh chan struct{}
}

// NewManager constructs a Manager and starts its Management-class
// adaptive-sizing loop. Call Shutdown to stop it and drain every pool.
func NewManager(cfg Config) *Manager {
	cfg = cfg.withDefaults()

	m := &Manager{
		cfg:        cfg,
		shutdownCh: make(chan struct{}),
	}

	for c := Class(0); c < numClasses; c++ {
		m.pools[c] = newWorkerPool(c, cfg.CPUCount)
	}

	go m.managementLoop()

	return m
}

// Submit enqueues task on the named pool with the given priority. A
// zero Context is rejected; use context.Background() for tasks with no
// natural deadline.
func (m *Manager) Submit(ctx context.Context, class Class, task Task, priority Priority) error {
	if ctx == nil {
		return scanerr.New(scanerr.InvalidArgument, "", nil)
	}

	return m.pools[class].submit(ctx, task, priority)
}

// OnBackpressureChanged implements backpressure.Listener, letting a
// Manager subscribe directly to a shared backpressure.Controller.
func (m *Manager) OnBackpressureChanged(level float64, applied bool) {
	for c := Class(0); c < numClasses; c++ {
		if applied {
			m.pools[c].applyBackpressure(level)
		} else {
			m.pools[c].releaseBackpressure()
		}
	}
}

var _ backpressure.Listener = (*Manager)(nil)

// Stats is a point-in-time snapshot of one pool's counters.
type Stats struct {
	Class     Class
	Priority  Priority
	Core      int
	Max       int
	Live      int
	Queued    int
	Active    int64
	TotalRun  int64
	Rejected  int64
}

// Stats returns a snapshot for every pool.
func (m *Manager) Stats() []Stats {
	out := make([]Stats, 0, numClasses)

	for c := Class(0); c < numClasses; c++ {
		wp := m.pools[c]

		wp.mu.Lock()
		core, max, live := wp.coreN, wp.maxN, wp.live
		wp.mu.Unlock()

		out = append(out, Stats{
			Class:    c,
			Priority: wp.spec.priority,
			Core:     core,
			Max:      max,
			Live:     live,
			Queued:   len(wp.tasks),
			Active:   wp.active.Load(),
			TotalRun: wp.totalRun.Load(),
			Rejected: wp.rejected.Load(),
		})
	}

	return out
}

func (m *Manager) managementLoop() {
	ticker := clock.NewTicker(m.cfg.AdaptiveSizingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.shutdownCh:
			return
		case <-ticker.C:
			for c := Class(0); c < numClasses; c++ {
				m.pools[c].resize()
			}
		}
	}
}

// Shutdown drains every pool (30s/10s tiers by default, per §4.2) and
// stops the adaptive-sizing loop. Idempotent.
func (m *Manager) Shutdown() {
	select {
	case <-m.shutdownCh:
		return
	default:
		close(m.shutdownCh)
	}

	for c := Class(0); c < numClasses; c++ {
		m.pools[c].shutdown(m.cfg.ShutdownDrainTimeout, m.cfg.ShutdownForceTimeout)
	}
}

// ShutdownAsync runs the same drain/force sequence as Shutdown but
// returns immediately, per §4.2 ("shutdownAsync runs the same on the
// Management pool"): the drain itself is driven off-caller so a
// Management-class task can request shutdown without blocking on its
// own pool's drain.
func (m *Manager) ShutdownAsync() <-chan struct{} {
	done := make(chan struct{})

	go func() {
		m.Shutdown()
		close(done)
	}()

	return done
}
