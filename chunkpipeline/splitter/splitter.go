// Package splitter provides the Chunk Pipeline's file-to-chunk-boundary
// strategies: a default fixed-size splitter (§4.4's "chunk size 256
// KiB" scenario) and a content-defined alternative grounded in kopia's
// own repo/splitter design.
package splitter

// Splitter decides where the next chunk boundary falls. NextBoundary is
// given the bytes read so far beyond the previous boundary (buf) and
// whether the reader has hit EOF; it returns the length of the next
// chunk, or 0 if buf does not yet contain a full chunk and more data
// should be read (only valid when !eof).
type Splitter interface {
	// NextBoundary returns the length of the next chunk within buf, and
	// ok=false if buf doesn't yet contain a boundary and the caller
	// should read more before asking again (never happens when eof is
	// true: eof always forces a boundary at len(buf)).
	NextBoundary(buf []byte, eof bool) (length int, ok bool)

	// Reset clears any accumulated rolling state so the Splitter can
	// start a new file.
	Reset()

	// MaxChunkSize bounds the largest possible chunk this Splitter can
	// produce, used to size the buffer a caller acquires before reading.
	MaxChunkSize() int
}

// Fixed splits every chunk at exactly Size bytes, except the final
// chunk of a file which is whatever remains. This is the pipeline's
// default; it's what makes §8's "chunk index i is byte offset
// i*chunkSize" boundary property hold without qualification.
type Fixed struct {
	Size int
}

// NewFixed returns a Fixed splitter with the given chunk size; size
// must be positive.
func NewFixed(size int) *Fixed {
	return &Fixed{Size: size}
}

func (f *Fixed) NextBoundary(buf []byte, eof bool) (int, bool) {
	if len(buf) >= f.Size {
		return f.Size, true
	}

	if eof {
		return len(buf), true
	}

	return 0, false
}

func (f *Fixed) Reset() {}

func (f *Fixed) MaxChunkSize() int { return f.Size }
