package memory

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"
)

const defaultAccessLogSize = 1000

// Store is the in-process SharedMemory implementation. A single mutex
// serializes every operation, which keeps the compare-and-swap indivisible
// and makes parallel participant turns safe without per-key locking.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	stats   Stats

	log     []AccessRecord
	logSize int
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithAccessLogSize bounds the retained access log. Zero disables logging.
func WithAccessLogSize(n int) StoreOption {
	return func(s *Store) {
		s.logSize = n
	}
}

// NewStore creates an empty in-process blackboard.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		entries: make(map[string]*Entry),
		logSize: defaultAccessLogSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) record(op, key, participant string) {
	if s.logSize <= 0 {
		return
	}
	s.log = append(s.log, AccessRecord{Op: op, Key: key, Participant: participant, At: time.Now().UTC()})
	if len(s.log) > s.logSize {
		s.log = s.log[len(s.log)-s.logSize:]
	}
}

// put creates or replaces an entry, advancing the version by exactly one.
// Caller holds the write lock.
func (s *Store) put(key string, value any, writer string, metadata map[string]any) int64 {
	var version int64
	if existing, ok := s.entries[key]; ok {
		version = existing.Version + 1
	}
	meta := make(map[string]any, len(metadata))
	for k, v := range metadata {
		meta[k] = v
	}
	s.entries[key] = &Entry{
		Value:     value,
		WrittenBy: writer,
		WrittenAt: time.Now().UTC(),
		Version:   version,
		Metadata:  meta,
	}
	return version
}

// Write implements SharedMemory.
func (s *Store) Write(ctx context.Context, key string, value any, writer string, metadata map[string]any) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	version := s.put(key, value, writer, metadata)
	s.stats.Writes++
	s.record("write", key, writer)
	return version, nil
}

// Read implements SharedMemory.
func (s *Store) Read(ctx context.Context, key, reader string) (any, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Reads++
	s.record("read", key, reader)
	entry, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	return entry.Value, true, nil
}

// Increment implements SharedMemory.
func (s *Store) Increment(ctx context.Context, key, writer string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current int64
	if entry, ok := s.entries[key]; ok {
		n, numeric := asCounter(entry.Value)
		if !numeric {
			return 0, &TypeMismatchError{Key: key, Op: "increment", Got: typeName(entry.Value)}
		}
		current = n
	}
	next := current + 1
	s.put(key, next, writer, nil)
	s.stats.Increments++
	s.stats.Writes++
	s.record("increment", key, writer)
	return next, nil
}

// Append implements SharedMemory.
func (s *Store) Append(ctx context.Context, key string, item any, writer string) ([]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current []any
	if entry, ok := s.entries[key]; ok {
		list, isList := asList(entry.Value)
		if !isList {
			return nil, &TypeMismatchError{Key: key, Op: "append", Got: typeName(entry.Value)}
		}
		current = list
	}
	next := make([]any, 0, len(current)+1)
	next = append(next, current...)
	next = append(next, item)
	s.put(key, next, writer, nil)
	s.stats.Appends++
	s.stats.Writes++
	s.record("append", key, writer)

	out := make([]any, len(next))
	copy(out, next)
	return out, nil
}

// CompareAndSwap implements SharedMemory.
func (s *Store) CompareAndSwap(ctx context.Context, key string, expected, replacement any, writer string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.CASAttempts++
	s.record("cas", key, writer)

	var current any
	if entry, ok := s.entries[key]; ok {
		current = entry.Value
	}
	if !reflect.DeepEqual(current, expected) {
		s.stats.CASFailures++
		return false, nil
	}
	s.put(key, replacement, writer, nil)
	s.stats.Writes++
	return true, nil
}

// Delete implements SharedMemory.
func (s *Store) Delete(ctx context.Context, key, writer string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.entries[key]
	if ok {
		delete(s.entries, key)
		s.stats.Deletes++
	}
	s.record("delete", key, writer)
	return ok, nil
}

// Metadata implements SharedMemory.
func (s *Store) Metadata(ctx context.Context, key string) (Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[key]
	if !ok {
		return Entry{}, false, nil
	}
	return cloneEntry(entry), true, nil
}

// Stats implements SharedMemory.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := s.stats
	stats.Keys = len(s.entries)
	return stats, nil
}

// Snapshot implements SharedMemory.
func (s *Store) Snapshot(ctx context.Context) (map[string]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := make(map[string]Entry, len(s.entries))
	for key, entry := range s.entries {
		snap[key] = cloneEntry(entry)
	}
	return snap, nil
}

// AccessLog implements SharedMemory.
func (s *Store) AccessLog(ctx context.Context, limit int) ([]AccessRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := s.log
	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}
	out := make([]AccessRecord, len(records))
	copy(out, records)
	return out, nil
}

// Close implements SharedMemory.
func (s *Store) Close() error { return nil }

func cloneEntry(entry *Entry) Entry {
	clone := *entry
	clone.Metadata = make(map[string]any, len(entry.Metadata))
	for k, v := range entry.Metadata {
		clone.Metadata[k] = v
	}
	if list, ok := entry.Value.([]any); ok {
		value := make([]any, len(list))
		copy(value, list)
		clone.Value = value
	}
	return clone
}

func typeName(v any) string {
	if v == nil {
		return "nil"
	}
	return fmt.Sprintf("%T", v)
}
