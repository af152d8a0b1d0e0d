package scancore

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFileChunkTrackerWaitBlocksUntilAllChunksEnd(t *testing.T) {
	tr := newFileChunkTracker()

	tr.begin("a")
	tr.begin("a")
	tr.begin("a")

	done := make(chan struct{})

	go func() {
		tr.wait("a")
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("wait returned before all chunks ended")
	case <-time.After(20 * time.Millisecond):
	}

	tr.end("a")
	tr.end("a")
	tr.end("a")

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("wait did not return after all chunks ended")
	}
}

func TestFileChunkTrackerWaitOnUnknownPathReturnsImmediately(t *testing.T) {
	tr := newFileChunkTracker()

	done := make(chan struct{})
	go func() {
		tr.wait("never-begun")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("wait on a path with no begin() call should not block")
	}
}

func TestFileChunkTrackerTracksIndependentPaths(t *testing.T) {
	tr := newFileChunkTracker()

	tr.begin("a")
	tr.begin("b")

	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		tr.wait("b")
	}()

	tr.end("b")
	wg.Wait()

	assert.NotPanics(t, func() { tr.end("a") })
}
