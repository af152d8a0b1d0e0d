package chunkpipeline

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blake3vault/scancore/buf"
	"github.com/blake3vault/scancore/chunkpipeline/splitter"
	"github.com/blake3vault/scancore/pool"
)

type syncHasher struct{}

func (syncHasher) SubmitHash(ctx context.Context, path string, chunkIndex int, data []byte, onDone func(hash string, err error)) {
	sum := sha256.Sum256(data)
	onDone(hex.EncodeToString(sum[:]), nil)
}

func newTestDeps(t *testing.T) (*buf.Pool, *pool.Manager) {
	t.Helper()

	bp := buf.NewPool(buf.Config{EnableHeap: true, EnableDirect: false}, nil)
	pm := pool.NewManager(pool.Config{CPUCount: 2})

	t.Cleanup(func() {
		bp.Clear()
		pm.Shutdown()
	})

	return bp, pm
}

func TestProcessFileProducesOrderedChunks(t *testing.T) {
	bp, pm := newTestDeps(t)

	p := New(Config{MaxConcurrentChunks: 2}, bp, pm, syncHasher{})

	data := bytes.Repeat([]byte("x"), 1000)
	r := bytes.NewReader(data)

	result := p.ProcessFile(context.Background(), "/f", r, splitter.NewFixed(256))

	require.NoError(t, result.Err)
	require.Len(t, result.Chunks, 4)

	for i, c := range result.Chunks {
		assert.Equal(t, i, c.Index)
		assert.NotEmpty(t, c.Hash)
	}

	assert.Equal(t, 256, result.Chunks[0].Size)
	assert.Equal(t, 232, result.Chunks[3].Size)
}

func TestProcessFileEmptyReader(t *testing.T) {
	bp, pm := newTestDeps(t)

	p := New(Config{}, bp, pm, syncHasher{})

	result := p.ProcessFile(context.Background(), "/empty", bytes.NewReader(nil), splitter.NewFixed(256))

	require.NoError(t, result.Err)
	assert.Empty(t, result.Chunks)
}

func TestSetMaxConcurrentChunksRejectsNonPositive(t *testing.T) {
	bp, pm := newTestDeps(t)

	p := New(Config{}, bp, pm, syncHasher{})

	assert.Error(t, p.SetMaxConcurrentChunks(0))
	assert.NoError(t, p.SetMaxConcurrentChunks(8))
}

func TestApplyAndReleaseBackpressure(t *testing.T) {
	bp, pm := newTestDeps(t)

	p := New(Config{MaxConcurrentChunks: 1}, bp, pm, syncHasher{})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, p.ApplyBackpressure(ctx))

	p.ReleaseBackpressure()

	data := bytes.Repeat([]byte("y"), 10)
	result := p.ProcessFile(context.Background(), "/g", bytes.NewReader(data), splitter.NewFixed(256))
	require.NoError(t, result.Err)
}

func TestCloseDrains(t *testing.T) {
	bp, pm := newTestDeps(t)

	p := New(Config{CloseTimeout: time.Second}, bp, pm, syncHasher{})

	data := bytes.Repeat([]byte("z"), 512)
	p.ProcessFile(context.Background(), "/h", bytes.NewReader(data), splitter.NewFixed(256))

	assert.NotPanics(t, func() {
		p.Close()
	})
}
