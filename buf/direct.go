package buf

import (
	"github.com/edsrzf/mmap-go"
	"github.com/pkg/errors"
)

// mmapHandle owns the OS mapping backing a Direct buffer; nil for Heap
// buffers. Kept separate from Buffer.Bytes so Unmap has the original
// full-length slice regardless of how far Bytes has been re-sliced.
type mmapHandle mmap.MMap

func newDirectBuffer(size int) (*Buffer, error) {
	m, err := mmap.MapRegion(nil, size, mmap.RDWR, mmap.ANON, 0)
	if err != nil {
		return nil, errors.Wrap(err, "mmap anonymous region")
	}

	return &Buffer{
		Bytes:    []byte(m)[:size],
		category: Direct,
		mm:       mmapHandle(m),
	}, nil
}

func (b *Buffer) unmapIfDirect() error {
	if b.category != Direct || b.mm == nil {
		return nil
	}

	m := mmap.MMap(b.mm)

	return errors.Wrap(m.Unmap(), "munmap")
}
