// Package profiles holds the three pre-seeded configuration bundles of
// §6 Configuration surface: high-performance, low-resource, and
// balanced presets over ScanOptions, the Thread-Pool Manager's Config,
// the Buffer Pool's Config, and the Batch Processor's resource budget,
// mirroring kopia's policy-tree defaults pattern (observed via
// snapshot/policy's compression/splitter policy presets).
package profiles

import (
	"time"

	"github.com/blake3vault/scancore/batch"
	"github.com/blake3vault/scancore/buf"
	"github.com/blake3vault/scancore/pool"
	"github.com/blake3vault/scancore/scanerr"
	"github.com/blake3vault/scancore/scanner"
)

// Profile is a closed enum naming one of the three built-in presets.
type Profile int

const (
	ProfileBalanced Profile = iota
	ProfileHighPerformance
	ProfileLowResource
)

func (p Profile) String() string {
	switch p {
	case ProfileHighPerformance:
		return "high-performance"
	case ProfileLowResource:
		return "low-resource"
	case ProfileBalanced:
		return "balanced"
	default:
		return "unknown"
	}
}

// ParseProfile resolves a CLI/config-boundary profile name to a
// Profile, returning scanerr.InvalidArgument for anything unrecognized
// (§A.3).
func ParseProfile(name string) (Profile, error) {
	switch name {
	case "high-performance":
		return ProfileHighPerformance, nil
	case "low-resource":
		return ProfileLowResource, nil
	case "balanced", "":
		return ProfileBalanced, nil
	default:
		return 0, scanerr.New(scanerr.InvalidArgument, name, nil)
	}
}

// Bundle is the full set of options a profile pre-seeds (§6
// Configuration surface).
type Bundle struct {
	ScanOptions scanner.Options
	PoolConfig  pool.Config
	BufConfig   buf.Config
	BatchConfig batch.Config
	Resources   batch.ResourceConfiguration
}

// Resolve returns the concrete Bundle for p.
func Resolve(p Profile) Bundle {
	switch p {
	case ProfileHighPerformance:
		return highPerformance()
	case ProfileLowResource:
		return lowResource()
	default:
		return balanced()
	}
}

func balanced() Bundle {
	opts := scanner.DefaultOptions()
	opts.Parallelism = 4

	return Bundle{
		ScanOptions: opts,
		PoolConfig:  pool.Config{}, // withDefaults() applied by pool.NewManager
		BufConfig:   buf.Config{Name: "balanced"},
		BatchConfig: batch.Config{EnableAdaptiveSizing: true, EnablePriorityOrder: true},
		Resources: batch.ResourceConfiguration{
			MaxMemoryBytes:     1 << 30, // 1 GiB
			MaxCPUCores:        4,
			MaxIOBandwidthMBps: 500,
		},
	}
}

func highPerformance() Bundle {
	opts := scanner.DefaultOptions()
	opts.Parallelism = 16

	return Bundle{
		ScanOptions: opts,
		PoolConfig: pool.Config{
			CPUCount:               0, // resolved via pool.DefaultCPUCount()
			AdaptiveSizingInterval: 10 * time.Second,
		},
		BufConfig: buf.Config{
			Name:              "high-performance",
			MinBuffersPerTier: 16,
			MaxBuffersPerTier: 1024,
			EnablePrefetch:    true,
			PrefetchThreshold: 4,
		},
		BatchConfig: batch.Config{
			MinBatchSize:          50,
			MaxBatchSize:          4000,
			MaxConcurrentBatches:  32,
			EnableAdaptiveSizing:  true,
			EnablePriorityOrder:   true,
			TargetThroughputMBps:  500,
			TargetLatencyMs:       50,
			AdaptiveSizingInterval: 10 * time.Second,
		},
		Resources: batch.ResourceConfiguration{
			MaxMemoryBytes:     4 << 30, // 4 GiB
			MaxCPUCores:        16,
			MaxIOBandwidthMBps: 2000,
		},
	}
}

func lowResource() Bundle {
	opts := scanner.DefaultOptions()
	opts.Parallelism = 1
	opts.FileOpTimeout = 60 * time.Second

	return Bundle{
		ScanOptions: opts,
		PoolConfig: pool.Config{
			AdaptiveSizingInterval: 60 * time.Second,
		},
		BufConfig: buf.Config{
			Name:              "low-resource",
			MinBuffersPerTier: 1,
			MaxBuffersPerTier: 32,
			EnablePrefetch:    false,
			MemoryPressureThreshold: 0.6,
		},
		BatchConfig: batch.Config{
			MinBatchSize:          4,
			MaxBatchSize:          100,
			MaxConcurrentBatches:  2,
			EnableAdaptiveSizing:  false,
			EnablePriorityOrder:   true,
			TargetThroughputMBps:  10,
			TargetLatencyMs:       500,
			AdaptiveSizingInterval: 60 * time.Second,
		},
		Resources: batch.ResourceConfiguration{
			MaxMemoryBytes:     128 << 20, // 128 MiB
			MaxCPUCores:        1,
			MaxIOBandwidthMBps: 50,
		},
	}
}
