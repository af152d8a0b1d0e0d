// Package scancore wires the Buffer Pool, Thread-Pool Manager,
// Backpressure Controller, Chunk Pipeline, Batch Processor, Directory
// Scanner, and Watch Manager into the single top-level facade §6
// describes, and declares the external collaborator interfaces
// (Hasher, Content Store, Metadata Sink, Error Sink) those packages
// never import directly.
package scancore

import (
	"context"
	"fmt"

	"github.com/blake3vault/scancore/batch"
	"github.com/blake3vault/scancore/pool"
)

// hashBatcherAdapter satisfies chunkpipeline.HashBatcher on top of a
// *batch.Processor, so the Chunk Pipeline never imports batch directly
// (it would otherwise have to, to be constructed with one) — this is
// the one place the two are wired together, avoiding the import cycle
// that would exist if chunkpipeline imported batch.Processor's package
// to declare the dependency itself.
type hashBatcherAdapter struct {
	processor *batch.Processor
	poolMgr   *pool.Manager
	hasher    Hasher
	store     ContentStore
	errorSink ErrorSink

	tracker *fileChunkTracker
}

func newHashBatcherAdapter(processor *batch.Processor, poolMgr *pool.Manager, hasher Hasher, store ContentStore, errorSink ErrorSink, tracker *fileChunkTracker) *hashBatcherAdapter {
	return &hashBatcherAdapter{
		processor: processor,
		poolMgr:   poolMgr,
		hasher:    hasher,
		store:     store,
		errorSink: errorSink,
		tracker:   tracker,
	}
}

// SubmitHash implements chunkpipeline.HashBatcher: the hash itself runs
// on the CPU pool via the Batch Processor; once it succeeds, storage is
// dispatched onto the CompletionHandler pool (§4 data flow: "submits
// hash jobs to the CPU pool via the Batch Processor... reports
// completion on the CompletionHandler pool").
func (a *hashBatcherAdapter) SubmitHash(ctx context.Context, path string, chunkIndex int, data []byte, onDone func(hash string, err error)) {
	a.tracker.begin(path)

	op := batch.Operation{
		ID:       fmt.Sprintf("%s#%d", path, chunkIndex),
		Kind:     batch.Hashing,
		Priority: batch.Normal,
		Resources: batch.ResourceRequirement{
			MemoryBytes: int64(len(data)),
		},
		Files: []string{path},
		Size:  int64(len(data)),
		Work: func(ctx context.Context) (batch.WorkOutcome, error) {
			hash, err := a.hasher.Hash(data)

			onDone(hash, err)

			if err != nil {
				a.tracker.end(path)
				return batch.WorkOutcome{FilesFailed: 1}, err
			}

			a.completeOnHandlerPool(ctx, path, hash, data)

			return batch.WorkOutcome{FilesProcessed: 1, BytesProcessed: int64(len(data))}, nil
		},
	}

	resultCh := a.processor.Submit(ctx, op)

	go func() {
		<-resultCh
	}()
}

func (a *hashBatcherAdapter) completeOnHandlerPool(ctx context.Context, path, hash string, data []byte) {
	submitErr := a.poolMgr.Submit(ctx, pool.CompletionHandler, func(ctx context.Context) {
		defer a.tracker.end(path)

		if a.store == nil {
			return
		}

		if err := a.store.Store(ctx, hash, data); err != nil && a.errorSink != nil {
			a.errorSink.OnError(path, err)
		}
	}, pool.Normal)

	if submitErr != nil {
		a.tracker.end(path)

		if a.errorSink != nil {
			a.errorSink.OnError(path, submitErr)
		}
	}
}
