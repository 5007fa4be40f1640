// Package memory provides the shared blackboard: a versioned,
// mutation-tracked key/value store all participants use for indirect
// coordination. Two backends implement the same interface: an in-process
// Store and a Redis-backed RedisStore for state that outlives one
// coordinating process.
package memory

import (
	"context"
	"fmt"
	"time"
)

// TypeMismatchError reports an increment or append against an incompatible
// stored value. All other "key absent" cases are statuses, not errors.
type TypeMismatchError struct {
	Key string
	Op  string
	Got string
}

// Error implements error.
func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("%s on key %q: existing value is %s", e.Op, e.Key, e.Got)
}

// Entry is one blackboard slot as visible to readers: the value plus the
// provenance of its last write. Version starts at 0 on the first write and
// increases by exactly 1 on every successful write to the key; a failed
// compare-and-swap never advances it.
type Entry struct {
	Value     any            `json:"value"`
	WrittenBy string         `json:"writtenBy"`
	WrittenAt time.Time      `json:"writtenAt"`
	Version   int64          `json:"version"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// AccessRecord is one line of the access log retained for observability.
type AccessRecord struct {
	Op          string    `json:"op"`
	Key         string    `json:"key"`
	Participant string    `json:"participant"`
	At          time.Time `json:"at"`
}

// Stats summarizes store activity. Reads never mutate versions; they only
// tick the Reads counter.
type Stats struct {
	Keys        int   `json:"keys"`
	Writes      int64 `json:"writes"`
	Reads       int64 `json:"reads"`
	Increments  int64 `json:"increments"`
	Appends     int64 `json:"appends"`
	CASAttempts int64 `json:"casAttempts"`
	CASFailures int64 `json:"casFailures"`
	Deletes     int64 `json:"deletes"`
}

// SharedMemory is the blackboard contract. All operations are total:
// missing keys are reported through return values, and only increment and
// append against an incompatible existing value produce an error
// (*TypeMismatchError). Implementations serialize all mutations so
// concurrent participant turns are safe.
type SharedMemory interface {
	// Write stores a value unconditionally and returns the new version.
	Write(ctx context.Context, key string, value any, writer string, metadata map[string]any) (int64, error)

	// Read returns the current value and whether the key exists.
	Read(ctx context.Context, key, reader string) (any, bool, error)

	// Increment treats a missing key as 0, atomically adds 1 and returns
	// the new value. Non-numeric existing values are a TypeMismatch.
	Increment(ctx context.Context, key, writer string) (int64, error)

	// Append treats a missing key as an empty list, atomically appends the
	// item and returns the new list. Non-list existing values are a
	// TypeMismatch.
	Append(ctx context.Context, key string, item any, writer string) ([]any, error)

	// CompareAndSwap replaces the value iff the current value equals
	// expected; a missing key matches a nil expected. It returns whether
	// the swap happened. On failure the store is unchanged and the version
	// does not advance. This is the sole primitive that prevents lost
	// updates under concurrent writers.
	CompareAndSwap(ctx context.Context, key string, expected, replacement any, writer string) (bool, error)

	// Delete removes a key, reporting whether it existed.
	Delete(ctx context.Context, key, writer string) (bool, error)

	// Metadata returns the entry for a key without counting as a read.
	Metadata(ctx context.Context, key string) (Entry, bool, error)

	// Stats returns activity counters.
	Stats(ctx context.Context) (Stats, error)

	// Snapshot returns a copy of every entry, for export and synthesis.
	Snapshot(ctx context.Context) (map[string]Entry, error)

	// AccessLog returns up to limit most recent access records, oldest
	// first. A non-positive limit returns everything retained.
	AccessLog(ctx context.Context, limit int) ([]AccessRecord, error)

	// Close releases backend resources.
	Close() error
}

// asCounter coerces a stored value to an integer counter. JSON round-trips
// decode numbers as float64, so whole floats count as integers.
func asCounter(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true
		}
	}
	return 0, false
}

// asList coerces a stored value to a list.
func asList(v any) ([]any, bool) {
	switch l := v.(type) {
	case []any:
		return l, true
	case nil:
		return nil, false
	}
	return nil, false
}
