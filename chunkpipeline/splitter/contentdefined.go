package splitter

import (
	"github.com/chmduquesne/rollinghash/buzhash32"
)

// ContentDefined splits on a rolling-hash boundary (Rabin-Karp-style
// content-defined chunking via a buzhash rolling hash), bounded to
// [MinSize, MaxSize] so a pathological input can't produce a
// pipeline-unfriendly 1-byte or unbounded chunk. Average chunk size is
// approximately 1<<MaskBits.
type ContentDefined struct {
	MinSize  int
	MaxSize  int
	MaskBits uint

	h *buzhash32.Buzhash32
}

// NewContentDefined returns a ContentDefined splitter targeting an
// average chunk size of 1<<maskBits bytes, clamped to [minSize,
// maxSize].
func NewContentDefined(minSize, maxSize int, maskBits uint) *ContentDefined {
	return &ContentDefined{
		MinSize:  minSize,
		MaxSize:  maxSize,
		MaskBits: maskBits,
		h:        buzhash32.New(),
	}
}

func (c *ContentDefined) mask() uint32 {
	return (uint32(1) << c.MaskBits) - 1
}

func (c *ContentDefined) NextBoundary(buf []byte, eof bool) (int, bool) {
	if len(buf) >= c.MaxSize {
		return c.MaxSize, true
	}

	if eof {
		return len(buf), true
	}

	if len(buf) < c.MinSize {
		return 0, false
	}

	// Re-roll from MinSize forward each call; the hasher's window is the
	// first MinSize bytes of this chunk attempt and then slides forward
	// one byte per Roll, keeping that width. Rescanning each call is
	// acceptable for a bounded buffer (chunks are capped at MaxSize).
	c.h.Reset()
	_, _ = c.h.Write(buf[:c.MinSize])

	for i := c.MinSize; i < len(buf); i++ {
		c.h.Roll(buf[i])

		if c.h.Sum32()&c.mask() == 0 {
			return i + 1, true
		}
	}

	return 0, false
}

func (c *ContentDefined) Reset() {
	c.h.Reset()
}

func (c *ContentDefined) MaxChunkSize() int { return c.MaxSize }
