package buf

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T) *Pool {
	t.Helper()

	p := NewPool(Config{
		MinBuffersPerTier:      2,
		MaxBuffersPerTier:      8,
		EnableHeap:             true,
		EnableDirect:           false,
		AdaptiveSizingInterval: 0, // resolved to the default; loop won't fire within the test
	}, nil)

	t.Cleanup(p.Clear)

	return p
}

func TestAcquireSmallestTier(t *testing.T) {
	p := newTestPool(t)

	b, err := p.Acquire(context.Background(), 1)
	require.NoError(t, err)
	defer p.Release(b)

	assert.Equal(t, MinTierSize, b.Cap())
	assert.True(t, b.Pooled())
}

func TestAcquireLargestTier(t *testing.T) {
	p := newTestPool(t)

	b, err := p.Acquire(context.Background(), MaxTierSize)
	require.NoError(t, err)
	defer p.Release(b)

	assert.Equal(t, MaxTierSize, b.Cap())
}

func TestAcquireAboveMaxTierIsOutOfPool(t *testing.T) {
	p := newTestPool(t)

	b, err := p.Acquire(context.Background(), MaxTierSize+1)
	require.NoError(t, err)
	defer p.Release(b)

	assert.False(t, b.Pooled())
	assert.Equal(t, MaxTierSize+1, len(b.Bytes))
	assert.Equal(t, int64(1), p.outOfPool.Load())
}

func TestAcquireRejectsNonPositiveSize(t *testing.T) {
	p := newTestPool(t)

	_, err := p.Acquire(context.Background(), 0)
	require.Error(t, err)

	_, err = p.Acquire(context.Background(), -1)
	require.Error(t, err)
}

func TestAcquireAfterClearFails(t *testing.T) {
	p := NewPool(Config{}, nil)
	p.Clear()

	_, err := p.Acquire(context.Background(), 1024)
	require.Error(t, err)
}

func TestClearZeroesTotalCount(t *testing.T) {
	p := newTestPool(t)

	b1, err := p.Acquire(context.Background(), 1024)
	require.NoError(t, err)

	b2, err := p.Acquire(context.Background(), 2048)
	require.NoError(t, err)

	p.Release(b1)
	p.Release(b2)

	assert.Greater(t, p.TotalCount(), 0)

	p.Clear()

	assert.Equal(t, 0, p.TotalCount())
}

func TestAvailablePlusInUseEqualsTotal(t *testing.T) {
	p := newTestPool(t)

	var held []*Buffer

	for i := 0; i < 5; i++ {
		b, err := p.Acquire(context.Background(), 4096)
		require.NoError(t, err)

		held = append(held, b)
	}

	assert.Equal(t, p.TotalCount(), p.AvailableCount()+p.InUseCount())

	for _, b := range held {
		p.Release(b)
	}

	assert.Equal(t, p.TotalCount(), p.AvailableCount()+p.InUseCount())
	assert.Equal(t, 0, p.InUseCount())
}

func TestReleaseIgnoresForeignBuffer(t *testing.T) {
	p := newTestPool(t)

	foreign := &Buffer{Bytes: make([]byte, 1024), tier: -1}

	assert.NotPanics(t, func() {
		p.Release(foreign)
	})
}

func TestReleaseIgnoresDoubleRelease(t *testing.T) {
	p := newTestPool(t)

	b, err := p.Acquire(context.Background(), 1024)
	require.NoError(t, err)

	p.Release(b)

	assert.NotPanics(t, func() {
		p.Release(b)
	})
}

func TestTierIndexForSize(t *testing.T) {
	cases := []struct {
		size int
		idx  int
	}{
		{1, 0},
		{MinTierSize, 0},
		{MinTierSize + 1, 1},
		{MaxTierSize, NumTiers - 1},
		{MaxTierSize + 1, -1},
	}

	for _, c := range cases {
		assert.Equal(t, c.idx, tierIndexForSize(c.size), "size=%d", c.size)
	}
}

type recordingSink struct {
	levels []float64
}

func (s *recordingSink) Report(level float64) {
	s.levels = append(s.levels, level)
}

func TestStatsReflectsAcquisitions(t *testing.T) {
	p := newTestPool(t)

	b, err := p.Acquire(context.Background(), 1024)
	require.NoError(t, err)
	defer p.Release(b)

	stats := p.Stats()
	assert.Equal(t, "default", stats.Name)
	assert.GreaterOrEqual(t, stats.Total, 1)
	require.NotEmpty(t, stats.Tiers)
}
