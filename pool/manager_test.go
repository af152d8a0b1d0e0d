package pool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitRunsTask(t *testing.T) {
	m := NewManager(Config{CPUCount: 2})
	defer m.Shutdown()

	done := make(chan struct{})

	err := m.Submit(context.Background(), CPU, func(context.Context) {
		close(done)
	}, High)
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task never ran")
	}
}

func TestSubmitManyTasksAllComplete(t *testing.T) {
	m := NewManager(Config{CPUCount: 2})
	defer m.Shutdown()

	var wg sync.WaitGroup

	const n = 200
	wg.Add(n)

	for i := 0; i < n; i++ {
		err := m.Submit(context.Background(), IO, func(context.Context) {
			wg.Done()
		}, Normal)
		require.NoError(t, err)
	}

	waitOrTimeout(t, &wg, 5*time.Second)
}

func TestSubmitAfterShutdownFails(t *testing.T) {
	m := NewManager(Config{CPUCount: 2})
	m.Shutdown()

	err := m.Submit(context.Background(), CPU, func(context.Context) {}, Normal)
	assert.Error(t, err)
}

func TestShutdownIsIdempotent(t *testing.T) {
	m := NewManager(Config{CPUCount: 2})

	assert.NotPanics(t, func() {
		m.Shutdown()
		m.Shutdown()
	})
}

func TestStatsReportsAllClasses(t *testing.T) {
	m := NewManager(Config{CPUCount: 4})
	defer m.Shutdown()

	stats := m.Stats()
	assert.Len(t, stats, int(numClasses))

	for _, s := range stats {
		assert.GreaterOrEqual(t, s.Core, 1)
		assert.GreaterOrEqual(t, s.Max, s.Core)
	}
}

func TestCPUPoolMaxEqualsCore(t *testing.T) {
	m := NewManager(Config{CPUCount: 4})
	defer m.Shutdown()

	for _, s := range m.Stats() {
		if s.Class == CPU {
			assert.Equal(t, s.Core, s.Max)
		}
	}
}

func waitOrTimeout(t *testing.T, wg *sync.WaitGroup, timeout time.Duration) {
	t.Helper()

	done := make(chan struct{})

	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatal("timed out waiting for tasks to complete")
	}
}
