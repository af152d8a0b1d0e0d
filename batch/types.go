// Package batch implements the Batch Processor of spec §4.5: groups
// submitted operations by (kind, priority) into resource-gated
// batches, with adaptive sizing, priority dispatch, and a
// small-operation bypass straight to the relevant thread pool.
package batch

import (
	"context"
	"time"
)

// OperationKind classifies a submitted operation (§3 BatchOperation).
type OperationKind int

const (
	Chunking OperationKind = iota
	Hashing
	Storage
	Transfer
	Verification
	Compression
	Deduplication
	Metadata
	Recovery
	Maintenance
)

func (k OperationKind) String() string {
	switch k {
	case Chunking:
		return "chunking"
	case Hashing:
		return "hashing"
	case Storage:
		return "storage"
	case Transfer:
		return "transfer"
	case Verification:
		return "verification"
	case Compression:
		return "compression"
	case Deduplication:
		return "deduplication"
	case Metadata:
		return "metadata"
	case Recovery:
		return "recovery"
	case Maintenance:
		return "maintenance"
	default:
		return "unknown"
	}
}

// Priority orders batches; lower numeric value dispatches first.
type Priority int

const (
	Critical   Priority = 1
	High       Priority = 2
	Normal     Priority = 3
	Low        Priority = 4
	Background Priority = 5
)

// ResourceRequirement is one operation's declared resource budget.
type ResourceRequirement struct {
	MemoryBytes     int64
	CPUCores        float64
	IOBandwidthMBps float64
	Timeout         time.Duration
}

// Work is the operation's actual unit of execution, returning
// file-level and byte-level counters for the derived metrics in
// BatchOperationResult.
type Work func(ctx context.Context) (WorkOutcome, error)

// WorkOutcome reports what an operation's Work processed.
type WorkOutcome struct {
	FilesProcessed int
	FilesFailed    int
	BytesProcessed int64
}

// Operation is one unit submitted to the processor.
type Operation struct {
	ID        string
	Kind      OperationKind
	Priority  Priority
	Resources ResourceRequirement
	Files     []string
	// Size is the operation's payload size in bytes, compared against
	// smallBufferThreshold for the small-operation bypass.
	Size int64
	Work Work
}

// BatchOperationResult is the per-operation outcome (§4.5 Result).
type BatchOperationResult struct {
	OperationID    string
	Success        bool
	Err            error
	Started        time.Time
	Elapsed        time.Duration
	FilesProcessed int
	FilesFailed    int
	BytesProcessed int64
}

// SuccessRate is succeeded/(succeeded+failed)*100, or 100 if no files
// were attributed to the operation at all.
func (r BatchOperationResult) SuccessRate() float64 {
	total := r.FilesProcessed + r.FilesFailed
	if total == 0 {
		return 100
	}

	return float64(r.FilesProcessed) / float64(total) * 100
}

// ThroughputMBps is bytes processed per elapsed second, in MB/s.
func (r BatchOperationResult) ThroughputMBps() float64 {
	secs := r.Elapsed.Seconds()
	if secs <= 0 {
		return 0
	}

	return float64(r.BytesProcessed) / (1024 * 1024) / secs
}

// ResourceConfiguration is the processor's total available headroom,
// against which each batch's declared resource requirements are
// gated before it is allowed to start (§4.5 Resource gating).
type ResourceConfiguration struct {
	MaxMemoryBytes     int64
	MaxCPUCores        float64
	MaxIOBandwidthMBps float64
}
