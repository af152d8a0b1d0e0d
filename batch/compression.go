package batch

import (
	"bytes"
	"context"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/blake3vault/scancore/scanerr"
)

// CompressChunk compresses data with zstd, giving the Compression
// operation kind a concrete implementation (§4.5 / SPEC_FULL domain
// stack).
func CompressChunk(data []byte) ([]byte, error) {
	var buf bytes.Buffer

	w, err := zstd.NewWriter(&buf)
	if err != nil {
		return nil, scanerr.Wrap(err, "zstd writer")
	}

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return nil, scanerr.Wrap(err, "zstd write")
	}

	if err := w.Close(); err != nil {
		return nil, scanerr.Wrap(err, "zstd close")
	}

	return buf.Bytes(), nil
}

// DecompressChunk reverses CompressChunk.
func DecompressChunk(data []byte) ([]byte, error) {
	r, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, scanerr.Wrap(err, "zstd reader")
	}
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, scanerr.Wrap(err, "zstd read")
	}

	return out, nil
}

// NewCompressionOperation wraps CompressChunk as a ready-to-submit
// Compression-kind Operation.
func NewCompressionOperation(id string, data []byte, priority Priority) Operation {
	return Operation{
		ID:       id,
		Kind:     Compression,
		Priority: priority,
		Size:     int64(len(data)),
		Resources: ResourceRequirement{
			MemoryBytes: int64(len(data)) * 2,
			CPUCores:    0.5,
		},
		Work: func(context.Context) (WorkOutcome, error) {
			out, err := CompressChunk(data)
			if err != nil {
				return WorkOutcome{FilesFailed: 1}, err
			}

			return WorkOutcome{FilesProcessed: 1, BytesProcessed: int64(len(out))}, nil
		},
	}
}
