package buf

import "go.uber.org/atomic"

// Category distinguishes the two allocation strategies a tier can back
// its buffers with.
type Category int

const (
	// Heap buffers are backed by a plain make([]byte, n) allocation.
	Heap Category = iota
	// Direct buffers are backed by anonymous mmap pages, favored for
	// tiers above directTierThreshold to reduce copies at kernel
	// boundaries (file reads, network I/O).
	Direct
)

func (c Category) String() string {
	if c == Direct {
		return "direct"
	}

	return "heap"
}

// Buffer is a pool-owned, fixed-capacity byte buffer. A Buffer is
// exclusively owned by whoever holds it between Acquire and Release.
type Buffer struct {
	// Bytes is the usable region of the buffer, len == the size requested
	// at acquisition, cap == the tier's fixed capacity.
	Bytes []byte

	tier     int // index into the pool's tier table, -1 for out-of-pool
	category Category
	pool     *Pool
	released atomic.Bool // best-effort double-release detection
	mm       mmapHandle  // non-nil only for Direct buffers
}

// Cap returns the buffer's fixed tier capacity.
func (b *Buffer) Cap() int { return cap(b.Bytes) }

// Pooled reports whether this buffer came from a tier (false for
// out-of-pool allocations larger than MaxTierSize).
func (b *Buffer) Pooled() bool { return b != nil && b.tier >= 0 }

// reset restores position/limit invariants (§3: "position/limit are reset
// to zero/capacity on release") by re-slicing Bytes back to full capacity.
// The released flag stays set until the buffer is acquired again.
func (b *Buffer) reset() {
	b.Bytes = b.Bytes[:cap(b.Bytes)]
}
