package batch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blake3vault/scancore/pool"
)

func newTestProcessor(t *testing.T) (*Processor, *pool.Manager) {
	t.Helper()

	pm := pool.NewManager(pool.Config{CPUCount: 2})
	p := New(Config{
		SmallBufferThreshold: 1024,
		BatchTimeout:         2 * time.Second,
		MaxConcurrentBatches: 4,
	}, pm, nil)

	t.Cleanup(func() {
		p.Close()
		pm.Shutdown()
	})

	return p, pm
}

func makeOp(id string, size int64, priority Priority) Operation {
	return Operation{
		ID:       id,
		Kind:     Hashing,
		Priority: priority,
		Size:     size,
		Work: func(context.Context) (WorkOutcome, error) {
			return WorkOutcome{FilesProcessed: 1, BytesProcessed: size}, nil
		},
	}
}

func TestSmallOperationBypassesBatching(t *testing.T) {
	p, _ := newTestProcessor(t)

	resultCh := p.Submit(context.Background(), makeOp("small", 100, Normal))

	select {
	case res := <-resultCh:
		assert.True(t, res.Success)
		assert.Equal(t, 1, res.FilesProcessed)
	case <-time.After(2 * time.Second):
		t.Fatal("bypassed operation never completed")
	}
}

func TestLargeOperationIsBatched(t *testing.T) {
	p, _ := newTestProcessor(t)

	resultCh := p.Submit(context.Background(), makeOp("large", 2048, Normal))

	select {
	case res := <-resultCh:
		assert.True(t, res.Success)
		assert.Equal(t, int64(2048), res.BytesProcessed)
	case <-time.After(3 * time.Second):
		t.Fatal("batched operation never completed")
	}
}

func TestCompressionOperationSucceeds(t *testing.T) {
	p, _ := newTestProcessor(t)

	data := []byte("hello world, this is compressible data data data data")
	resultCh := p.Submit(context.Background(), NewCompressionOperation("c1", data, High))

	select {
	case res := <-resultCh:
		require.True(t, res.Success)
		require.Greater(t, res.BytesProcessed, int64(0))
	case <-time.After(3 * time.Second):
		t.Fatal("compression operation never completed")
	}
}

func TestCompressDecompressRoundTrip(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog, repeated many times for compressibility")

	compressed, err := CompressChunk(data)
	require.NoError(t, err)

	decompressed, err := DecompressChunk(compressed)
	require.NoError(t, err)

	assert.Equal(t, data, decompressed)
}

func TestStatsReportsEffectiveBatchSize(t *testing.T) {
	p, _ := newTestProcessor(t)

	for i := 0; i < 5; i++ {
		p.Submit(context.Background(), makeOp("op", 4096, Low))
	}

	stats := p.Stats()
	assert.GreaterOrEqual(t, stats.EffectiveBatchSize, int64(0))
}
