package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteVersioning(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	v, err := s.Write(ctx, "plan", "draft", "alice", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), v, "first write starts at version 0")

	v, err = s.Write(ctx, "plan", "final", "bob", map[string]any{"reviewed": true})
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	entry, ok, err := s.Metadata(ctx, "plan")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "bob", entry.WrittenBy)
	assert.Equal(t, int64(1), entry.Version)
	assert.Equal(t, true, entry.Metadata["reviewed"])

	// Metadata does not count as a read.
	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Reads)
}

func TestReadMissingKey(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	v, ok, err := s.Read(ctx, "absent", "alice")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, v)
}

func TestIncrement(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	n, err := s.Increment(ctx, "counter", "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "missing key increments from 0")

	n, err = s.Increment(ctx, "counter", "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// Increments are writes: versions advance.
	entry, ok, err := s.Metadata(ctx, "counter")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), entry.Version)

	_, err = s.Write(ctx, "label", "not a number", "alice", nil)
	require.NoError(t, err)
	_, err = s.Increment(ctx, "label", "alice")
	var tm *TypeMismatchError
	require.True(t, errors.As(err, &tm))
	assert.Equal(t, "increment", tm.Op)
}

func TestIncrementAcceptsWholeFloats(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	// JSON round-trips decode numbers as float64.
	_, err := s.Write(ctx, "counter", float64(4), "alice", nil)
	require.NoError(t, err)
	n, err := s.Increment(ctx, "counter", "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
}

func TestAppend(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	list, err := s.Append(ctx, "log", "first", "alice")
	require.NoError(t, err)
	assert.Equal(t, []any{"first"}, list)

	list, err = s.Append(ctx, "log", "second", "bob")
	require.NoError(t, err)
	assert.Equal(t, []any{"first", "second"}, list)

	_, err = s.Write(ctx, "scalar", 7, "alice", nil)
	require.NoError(t, err)
	_, err = s.Append(ctx, "scalar", "x", "alice")
	var tm *TypeMismatchError
	require.True(t, errors.As(err, &tm))
	assert.Equal(t, "append", tm.Op)
}

func TestCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	// A missing key matches a nil expected value.
	swapped, err := s.CompareAndSwap(ctx, "owner", nil, "alice", "alice")
	require.NoError(t, err)
	assert.True(t, swapped)

	swapped, err = s.CompareAndSwap(ctx, "owner", "bob", "carol", "carol")
	require.NoError(t, err)
	assert.False(t, swapped, "mismatched expectation must not swap")

	// Failed swap leaves value and version untouched.
	entry, ok, err := s.Metadata(ctx, "owner")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "alice", entry.Value)
	assert.Equal(t, int64(0), entry.Version)

	swapped, err = s.CompareAndSwap(ctx, "owner", "alice", "bob", "bob")
	require.NoError(t, err)
	assert.True(t, swapped)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.CASAttempts)
	assert.Equal(t, int64(1), stats.CASFailures)
}

func TestCompareAndSwapSingleWinner(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	_, err := s.Write(ctx, "lock", "free", "setup", nil)
	require.NoError(t, err)

	const writers = 32
	var wg sync.WaitGroup
	wins := make(chan string, writers)
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := string(rune('A' + i))
			ok, err := s.CompareAndSwap(ctx, "lock", "free", id, id)
			assert.NoError(t, err)
			if ok {
				wins <- id
			}
		}()
	}
	wg.Wait()
	close(wins)

	var winners []string
	for id := range wins {
		winners = append(winners, id)
	}
	require.Len(t, winners, 1, "exactly one concurrent swap may succeed")

	v, ok, err := s.Read(ctx, "lock", "check")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, winners[0], v)
}

func TestConcurrentIncrements(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	const n = 100
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Increment(ctx, "hits", "worker")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	v, ok, err := s.Read(ctx, "hits", "check")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(n), v)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	existed, err := s.Delete(ctx, "ghost", "alice")
	require.NoError(t, err)
	assert.False(t, existed)

	_, err = s.Write(ctx, "tmp", 1, "alice", nil)
	require.NoError(t, err)
	existed, err = s.Delete(ctx, "tmp", "alice")
	require.NoError(t, err)
	assert.True(t, existed)

	// Re-creating a deleted key starts versioning over.
	v, err := s.Write(ctx, "tmp", 2, "alice", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)
}

func TestSnapshotIsACopy(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	_, err := s.Append(ctx, "list", "a", "alice")
	require.NoError(t, err)

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	list := snap["list"].Value.([]any)
	list[0] = "mutated"

	v, _, err := s.Read(ctx, "list", "check")
	require.NoError(t, err)
	assert.Equal(t, []any{"a"}, v, "snapshot mutation must not leak into the store")
}

func TestAccessLog(t *testing.T) {
	ctx := context.Background()
	s := NewStore(WithAccessLogSize(3))

	_, err := s.Write(ctx, "k", 1, "alice", nil)
	require.NoError(t, err)
	_, _, err = s.Read(ctx, "k", "bob")
	require.NoError(t, err)
	_, err = s.Increment(ctx, "n", "carol")
	require.NoError(t, err)
	_, err = s.Delete(ctx, "k", "alice")
	require.NoError(t, err)

	records, err := s.AccessLog(ctx, 0)
	require.NoError(t, err)
	require.Len(t, records, 3, "log is bounded")
	assert.Equal(t, "read", records[0].Op)
	assert.Equal(t, "delete", records[2].Op)

	recent, err := s.AccessLog(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "delete", recent[0].Op)
}
