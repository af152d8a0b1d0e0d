// Package pool implements the thread-pool manager of spec §4.2: six
// workload-class pools, each with its own core/max/queue/priority and
// adaptive resizing, sharing a caller-runs rejection policy so no class
// can starve another.
package pool

import "time"

// Class names one of the six fixed workload pools.
type Class int

const (
	IO Class = iota
	CPU
	CompletionHandler
	BatchProcessing
	WatchService
	Management

	numClasses
)

func (c Class) String() string {
	switch c {
	case IO:
		return "io"
	case CPU:
		return "cpu"
	case CompletionHandler:
		return "completion_handler"
	case BatchProcessing:
		return "batch_processing"
	case WatchService:
		return "watch_service"
	case Management:
		return "management"
	default:
		return "unknown"
	}
}

// Priority is the priority label of a pool class (§4.2 table), reported
// through Stats. Submit accepts a per-task Priority but does not reorder
// a pool's FIFO queue by it.
type Priority int

const (
	Low Priority = iota
	Normal
	High
)

// classSpec is the static per-class defaults table from §4.2, expressed
// as a function of P (the detected CPU count).
type classSpec struct {
	core         func(p int) int
	max          func(p int) int
	queue        int
	priority     Priority
	coreTimeout  bool
	growFactor   float64
	shrinkFactor float64
}

var specs = [numClasses]classSpec{
	IO: {
		core:         func(p int) int { return max(2, p/2) },
		max:          func(p int) int { return 2 * p },
		queue:        500,
		priority:     Normal,
		coreTimeout:  true,
		growFactor:   1.20,
		shrinkFactor: 0.85,
	},
	CPU: {
		core:         func(p int) int { return p },
		max:          func(p int) int { return p },
		queue:        1000,
		priority:     High,
		coreTimeout:  false,
		growFactor:   1.0, // CPU pool's max is pinned to P, never grown
		shrinkFactor: 1.0,
	},
	CompletionHandler: {
		core:         func(int) int { return 4 },
		max:          func(int) int { return 8 },
		queue:        1000,
		priority:     High,
		coreTimeout:  true,
		growFactor:   1.30,
		shrinkFactor: 0.8,
	},
	BatchProcessing: {
		core:         func(p int) int { return max(2, p/4) },
		max:          func(p int) int { return p },
		queue:        200,
		priority:     Normal,
		coreTimeout:  true,
		growFactor:   1.15,
		shrinkFactor: 0.9,
	},
	WatchService: {
		core:         func(int) int { return 2 },
		max:          func(int) int { return 4 },
		queue:        50,
		priority:     Low,
		coreTimeout:  true,
		growFactor:   1.15,
		shrinkFactor: 0.9,
	},
	Management: {
		core:         func(int) int { return 2 },
		max:          func(int) int { return 4 },
		queue:        100,
		priority:     Low,
		coreTimeout:  true,
		growFactor:   1.15,
		shrinkFactor: 0.9,
	},
}

// Config configures a Manager.
type Config struct {
	// CPUCount overrides the detected P; 0 means use DefaultCPUCount().
	CPUCount int

	// AdaptiveSizingInterval is how often every pool recomputes its load
	// factor and resizes (default 30s).
	AdaptiveSizingInterval time.Duration

	// ShutdownDrainTimeout / ShutdownForceTimeout are the two shutdown
	// tiers (defaults 30s, 10s).
	ShutdownDrainTimeout time.Duration
	ShutdownForceTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.CPUCount <= 0 {
		c.CPUCount = DefaultCPUCount()
	}

	if c.AdaptiveSizingInterval <= 0 {
		c.AdaptiveSizingInterval = 30 * time.Second
	}

	if c.ShutdownDrainTimeout <= 0 {
		c.ShutdownDrainTimeout = 30 * time.Second
	}

	if c.ShutdownForceTimeout <= 0 {
		c.ShutdownForceTimeout = 10 * time.Second
	}

	return c
}
