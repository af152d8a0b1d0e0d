package batch

import "time"

// Config configures a Processor. The zero Config resolves to the §4.5
// defaults via withDefaults.
type Config struct {
	MinBatchSize          int
	MaxBatchSize          int
	MaxConcurrentBatches  int
	BatchTimeout          time.Duration
	SmallBufferThreshold  int64
	EnableAdaptiveSizing  bool
	EnablePriorityOrder   bool
	TargetThroughputMBps  float64
	TargetLatencyMs       int64
	AdaptiveSizingInterval time.Duration
	Resources             ResourceConfiguration
}

func (c Config) withDefaults() Config {
	if c.MinBatchSize <= 0 {
		c.MinBatchSize = 10
	}

	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = 1000
	}

	if c.MaxBatchSize < c.MinBatchSize {
		c.MaxBatchSize = c.MinBatchSize
	}

	if c.MaxConcurrentBatches <= 0 {
		c.MaxConcurrentBatches = 10
	}

	if c.BatchTimeout <= 0 {
		c.BatchTimeout = 300 * time.Second
	}

	if c.SmallBufferThreshold <= 0 {
		c.SmallBufferThreshold = 64 * 1024
	}

	if c.TargetThroughputMBps <= 0 {
		c.TargetThroughputMBps = 100
	}

	if c.TargetLatencyMs <= 0 {
		c.TargetLatencyMs = 100
	}

	if c.AdaptiveSizingInterval <= 0 {
		c.AdaptiveSizingInterval = 30 * time.Second
	}

	if c.Resources.MaxMemoryBytes <= 0 {
		c.Resources.MaxMemoryBytes = 1 << 30 // 1 GiB
	}

	if c.Resources.MaxCPUCores <= 0 {
		c.Resources.MaxCPUCores = 4
	}

	if c.Resources.MaxIOBandwidthMBps <= 0 {
		c.Resources.MaxIOBandwidthMBps = 500
	}

	return c
}
