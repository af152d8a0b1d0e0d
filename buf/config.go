package buf

import "time"

// NumTiers is the number of fixed capacity classes the pool maintains,
// from 1 KiB to 1 MiB inclusive, each a power of two of the previous.
const NumTiers = 11

// MinTierSize is the capacity of the smallest tier.
const MinTierSize = 1 << 10 // 1 KiB

// MaxTierSize is the capacity of the largest tier; acquire(size) for size
// above this is serviced outside the pool with no tier bookkeeping.
const MaxTierSize = 1 << 20 // 1 MiB

// directTierThreshold is the tier size above which tiers default to the
// direct (mmap-backed) category instead of heap, favoring kernel-boundary
// transfers for larger I/O buffers (§4.1); the 32 KiB tier itself and the
// smaller ones default to heap.
const directTierThreshold = 32 * 1024 // 32 KiB

// Config configures a Pool. The zero Config is valid and resolves every
// field to its documented default via Config.withDefaults.
type Config struct {
	// MinBuffersPerTier is the floor adaptive sizing will shrink a tier to.
	MinBuffersPerTier int
	// MaxBuffersPerTier is the ceiling adaptive sizing will grow a tier to.
	MaxBuffersPerTier int

	// EnableHeap and EnableDirect gate whether each category is usable at
	// all. Leaving both false is treated as unset: withDefaults enables
	// both.
	EnableHeap   bool
	EnableDirect bool

	// AdaptiveSizingInterval is how often the management task reevaluates
	// per-tier sizing (default 30s).
	AdaptiveSizingInterval time.Duration

	// MemoryPressureThreshold in [0,1] (default 0.8); breach triggers
	// releasing idle buffers, largest tier first.
	MemoryPressureThreshold float64

	// EnablePrefetch turns on the background prefetcher.
	EnablePrefetch bool
	// PrefetchThreshold is acquires/interval above which the prefetcher
	// grows a tier up to MaxBuffersPerTier (default 10). The tier's in-use
	// high-water mark is not tracked and does not limit prefetching.
	PrefetchThreshold int

	// Name identifies this pool in logs and metrics.
	Name string
}

func (c Config) withDefaults() Config {
	if c.MinBuffersPerTier <= 0 {
		c.MinBuffersPerTier = 4
	}

	if c.MaxBuffersPerTier <= 0 {
		c.MaxBuffersPerTier = 256
	}

	if c.MaxBuffersPerTier < c.MinBuffersPerTier {
		c.MaxBuffersPerTier = c.MinBuffersPerTier
	}

	if c.AdaptiveSizingInterval <= 0 {
		c.AdaptiveSizingInterval = 30 * time.Second
	}

	if c.MemoryPressureThreshold <= 0 {
		c.MemoryPressureThreshold = 0.8
	}

	if c.PrefetchThreshold <= 0 {
		c.PrefetchThreshold = 10
	}

	if !c.EnableHeap && !c.EnableDirect {
		c.EnableHeap = true
		c.EnableDirect = true
	}

	if c.Name == "" {
		c.Name = "default"
	}

	return c
}
