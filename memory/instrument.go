package memory

import (
	"context"

	obs "github.com/concord-dev/concord/pkg/observability"
)

// Instrumented decorates a SharedMemory with per-operation process metrics.
// Participant-facing operations tick the shared-memory op counter;
// introspection calls (Metadata, Stats, Snapshot, AccessLog) pass through
// uncounted, matching what the backends count internally.
type Instrumented struct {
	inner SharedMemory
}

// Instrument wraps a store with metrics recording. Wrapping an already
// instrumented store returns it unchanged.
func Instrument(mem SharedMemory) SharedMemory {
	if _, ok := mem.(*Instrumented); ok {
		return mem
	}
	return &Instrumented{inner: mem}
}

// Write implements SharedMemory.
func (i *Instrumented) Write(ctx context.Context, key string, value any, writer string, metadata map[string]any) (int64, error) {
	obs.RecordSharedMemoryOp("write")
	return i.inner.Write(ctx, key, value, writer, metadata)
}

// Read implements SharedMemory.
func (i *Instrumented) Read(ctx context.Context, key, reader string) (any, bool, error) {
	obs.RecordSharedMemoryOp("read")
	return i.inner.Read(ctx, key, reader)
}

// Increment implements SharedMemory.
func (i *Instrumented) Increment(ctx context.Context, key, writer string) (int64, error) {
	obs.RecordSharedMemoryOp("increment")
	return i.inner.Increment(ctx, key, writer)
}

// Append implements SharedMemory.
func (i *Instrumented) Append(ctx context.Context, key string, item any, writer string) ([]any, error) {
	obs.RecordSharedMemoryOp("append")
	return i.inner.Append(ctx, key, item, writer)
}

// CompareAndSwap implements SharedMemory.
func (i *Instrumented) CompareAndSwap(ctx context.Context, key string, expected, replacement any, writer string) (bool, error) {
	obs.RecordSharedMemoryOp("cas")
	return i.inner.CompareAndSwap(ctx, key, expected, replacement, writer)
}

// Delete implements SharedMemory.
func (i *Instrumented) Delete(ctx context.Context, key, writer string) (bool, error) {
	obs.RecordSharedMemoryOp("delete")
	return i.inner.Delete(ctx, key, writer)
}

// Metadata implements SharedMemory.
func (i *Instrumented) Metadata(ctx context.Context, key string) (Entry, bool, error) {
	return i.inner.Metadata(ctx, key)
}

// Stats implements SharedMemory.
func (i *Instrumented) Stats(ctx context.Context) (Stats, error) {
	return i.inner.Stats(ctx)
}

// Snapshot implements SharedMemory.
func (i *Instrumented) Snapshot(ctx context.Context) (map[string]Entry, error) {
	return i.inner.Snapshot(ctx)
}

// AccessLog implements SharedMemory.
func (i *Instrumented) AccessLog(ctx context.Context, limit int) ([]AccessRecord, error) {
	return i.inner.AccessLog(ctx, limit)
}

// Close implements SharedMemory.
func (i *Instrumented) Close() error {
	return i.inner.Close()
}
