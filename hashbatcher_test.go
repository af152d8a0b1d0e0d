package scancore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blake3vault/scancore/backpressure"
	"github.com/blake3vault/scancore/batch"
	"github.com/blake3vault/scancore/pool"
)

type fakeHasher struct{}

func (fakeHasher) Hash(data []byte) (string, error) { return "deadbeef", nil }

type capturingStore struct {
	hash string
	data []byte
}

func (s *capturingStore) Store(ctx context.Context, chunkHash string, data []byte) error {
	s.hash = chunkHash
	s.data = append([]byte(nil), data...)
	return nil
}

type capturingErrorSink struct {
	path string
	err  error
}

func (s *capturingErrorSink) OnError(path string, err error) {
	s.path = path
	s.err = err
}

func newTestAdapter(store ContentStore, errSink ErrorSink) (*hashBatcherAdapter, *fileChunkTracker, func()) {
	ctrl := backpressure.NewController()
	poolMgr := pool.NewManager(pool.Config{})
	ctrl.AddListener(poolMgr)

	processor := batch.New(batch.Config{}, poolMgr, ctrl)
	tracker := newFileChunkTracker()

	adapter := newHashBatcherAdapter(processor, poolMgr, fakeHasher{}, store, errSink, tracker)

	return adapter, tracker, func() {
		processor.Close()
		poolMgr.Shutdown()
	}
}

func TestHashBatcherAdapterStoresOnSuccessfulHash(t *testing.T) {
	store := &capturingStore{}
	adapter, tracker, cleanup := newTestAdapter(store, nil)
	defer cleanup()

	var gotHash string
	var gotErr error
	done := make(chan struct{})

	adapter.SubmitHash(context.Background(), "/tmp/file.txt", 0, []byte("payload"), func(hash string, err error) {
		gotHash, gotErr = hash, err
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("onDone was never called")
	}

	tracker.wait("/tmp/file.txt")

	require.NoError(t, gotErr)
	assert.Equal(t, "deadbeef", gotHash)
	assert.Equal(t, "deadbeef", store.hash)
	assert.Equal(t, []byte("payload"), store.data)
}

func TestHashBatcherAdapterReportsStoreFailureToErrorSink(t *testing.T) {
	errSink := &capturingErrorSink{}
	adapter, tracker, cleanup := newTestAdapter(failingStore{}, errSink)
	defer cleanup()

	done := make(chan struct{})
	adapter.SubmitHash(context.Background(), "/tmp/file.txt", 0, []byte("payload"), func(hash string, err error) {
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("onDone was never called")
	}

	tracker.wait("/tmp/file.txt")

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && errSink.err == nil {
		time.Sleep(5 * time.Millisecond)
	}

	require.Error(t, errSink.err)
	assert.Equal(t, "/tmp/file.txt", errSink.path)
}

type failingStore struct{}

func (failingStore) Store(ctx context.Context, chunkHash string, data []byte) error {
	return assert.AnError
}
