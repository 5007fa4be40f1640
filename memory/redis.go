package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// casRetries bounds optimistic retries when a watched key changes between
// read and commit.
const casRetries = 10

// ErrStoreClosed is returned when operating on a closed Redis store.
var ErrStoreClosed = errors.New("shared memory store is closed")

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string
	// Password is the Redis password (optional).
	Password string
	// DB is the Redis database number.
	DB int
	// Prefix is the key prefix for all blackboard keys
	// (default: "concord:memory:").
	Prefix string
	// PoolSize is the connection pool size (default: 10).
	PoolSize int
}

// RedisStore implements SharedMemory on Redis, letting blackboard state span
// coordinating processes or outlive a single run. Entries are stored as JSON
// under namespaced keys; every mutation runs inside a WATCH transaction so
// compare-and-swap and read-modify-write operations stay indivisible.
//
// The access log is kept in-process: it serves observability of this
// coordinator, not shared state.
type RedisStore struct {
	client *redis.Client
	prefix string

	mu      sync.Mutex
	closed  bool
	log     []AccessRecord
	logSize int
}

// NewRedisStore connects to Redis and verifies connectivity.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: poolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewRedisStoreFromClient(client, cfg.Prefix), nil
}

// NewRedisStoreFromClient wraps an existing client. Useful for testing with
// miniredis.
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "concord:memory:"
	}
	return &RedisStore{
		client:  client,
		prefix:  prefix,
		logSize: defaultAccessLogSize,
	}
}

func (r *RedisStore) entryKey(key string) string { return r.prefix + "entry:" + key }
func (r *RedisStore) keysKey() string            { return r.prefix + "keys" }
func (r *RedisStore) statsKey() string           { return r.prefix + "stats" }

func (r *RedisStore) checkOpen() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrStoreClosed
	}
	return nil
}

func (r *RedisStore) record(op, key, participant string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.logSize <= 0 {
		return
	}
	r.log = append(r.log, AccessRecord{Op: op, Key: key, Participant: participant, At: time.Now().UTC()})
	if len(r.log) > r.logSize {
		r.log = r.log[len(r.log)-r.logSize:]
	}
}

func (r *RedisStore) loadEntry(ctx context.Context, tx *redis.Tx, key string) (*Entry, bool, error) {
	data, err := tx.Get(ctx, r.entryKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read entry %q: %w", key, err)
	}
	var entry Entry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		return nil, false, fmt.Errorf("decode entry %q: %w", key, err)
	}
	return &entry, true, nil
}

// mutate runs fn inside a WATCH transaction on the entry key, retrying a
// bounded number of times when a concurrent writer invalidates the watch.
// fn returns the entry to store (nil means leave the key untouched) plus
// stats hash increments to apply atomically with the write.
func (r *RedisStore) mutate(ctx context.Context, key, op, writer string,
	fn func(current *Entry, exists bool) (*Entry, map[string]int64, error)) error {

	if err := r.checkOpen(); err != nil {
		return err
	}

	txn := func(tx *redis.Tx) error {
		current, exists, err := r.loadEntry(ctx, tx, key)
		if err != nil {
			return err
		}
		next, bumps, err := fn(current, exists)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if next != nil {
				data, err := json.Marshal(next)
				if err != nil {
					return fmt.Errorf("encode entry %q: %w", key, err)
				}
				pipe.Set(ctx, r.entryKey(key), data, 0)
				pipe.SAdd(ctx, r.keysKey(), key)
			}
			for field, delta := range bumps {
				pipe.HIncrBy(ctx, r.statsKey(), field, delta)
			}
			return nil
		})
		return err
	}

	if err := r.watch(ctx, key, txn); err != nil {
		return err
	}
	r.record(op, key, writer)
	return nil
}

// watch runs txn under WATCH on the entry key, retrying a bounded number of
// times when a concurrent writer invalidates it.
func (r *RedisStore) watch(ctx context.Context, key string, txn func(tx *redis.Tx) error) error {
	var err error
	for i := 0; i < casRetries; i++ {
		err = r.client.Watch(ctx, txn, r.entryKey(key))
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	return err
}

// Write implements SharedMemory.
func (r *RedisStore) Write(ctx context.Context, key string, value any, writer string, metadata map[string]any) (int64, error) {
	var version int64
	err := r.mutate(ctx, key, "write", writer, func(current *Entry, exists bool) (*Entry, map[string]int64, error) {
		if exists {
			version = current.Version + 1
		}
		return &Entry{
			Value:     value,
			WrittenBy: writer,
			WrittenAt: time.Now().UTC(),
			Version:   version,
			Metadata:  metadata,
		}, map[string]int64{"writes": 1}, nil
	})
	return version, err
}

// Read implements SharedMemory.
func (r *RedisStore) Read(ctx context.Context, key, reader string) (any, bool, error) {
	if err := r.checkOpen(); err != nil {
		return nil, false, err
	}
	data, err := r.client.Get(ctx, r.entryKey(key)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		// A failed fetch is not a read; leave the counter alone.
		return nil, false, fmt.Errorf("read entry %q: %w", key, err)
	}
	if berr := r.client.HIncrBy(ctx, r.statsKey(), "reads", 1).Err(); berr != nil {
		return nil, false, berr
	}
	r.record("read", key, reader)
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	var entry Entry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		return nil, false, fmt.Errorf("decode entry %q: %w", key, err)
	}
	return entry.Value, true, nil
}

// Increment implements SharedMemory.
func (r *RedisStore) Increment(ctx context.Context, key, writer string) (int64, error) {
	var next int64
	err := r.mutate(ctx, key, "increment", writer, func(current *Entry, exists bool) (*Entry, map[string]int64, error) {
		var base int64
		var version int64
		if exists {
			n, numeric := asCounter(current.Value)
			if !numeric {
				return nil, nil, &TypeMismatchError{Key: key, Op: "increment", Got: typeName(current.Value)}
			}
			base = n
			version = current.Version + 1
		}
		next = base + 1
		return &Entry{
			Value:     next,
			WrittenBy: writer,
			WrittenAt: time.Now().UTC(),
			Version:   version,
		}, map[string]int64{"writes": 1, "increments": 1}, nil
	})
	return next, err
}

// Append implements SharedMemory.
func (r *RedisStore) Append(ctx context.Context, key string, item any, writer string) ([]any, error) {
	var out []any
	err := r.mutate(ctx, key, "append", writer, func(current *Entry, exists bool) (*Entry, map[string]int64, error) {
		var list []any
		var version int64
		if exists {
			l, isList := asList(current.Value)
			if !isList {
				return nil, nil, &TypeMismatchError{Key: key, Op: "append", Got: typeName(current.Value)}
			}
			list = l
			version = current.Version + 1
		}
		next := make([]any, 0, len(list)+1)
		next = append(next, list...)
		next = append(next, item)
		out = next
		return &Entry{
			Value:     next,
			WrittenBy: writer,
			WrittenAt: time.Now().UTC(),
			Version:   version,
		}, map[string]int64{"writes": 1, "appends": 1}, nil
	})
	return out, err
}

// CompareAndSwap implements SharedMemory.
func (r *RedisStore) CompareAndSwap(ctx context.Context, key string, expected, replacement any, writer string) (bool, error) {
	var swapped bool
	err := r.mutate(ctx, key, "cas", writer, func(current *Entry, exists bool) (*Entry, map[string]int64, error) {
		var value any
		var version int64
		if exists {
			value = current.Value
			version = current.Version + 1
		}
		if !equalJSON(value, expected) {
			swapped = false
			return nil, map[string]int64{"casAttempts": 1, "casFailures": 1}, nil
		}
		swapped = true
		return &Entry{
			Value:     replacement,
			WrittenBy: writer,
			WrittenAt: time.Now().UTC(),
			Version:   version,
		}, map[string]int64{"casAttempts": 1, "writes": 1}, nil
	})
	return swapped, err
}

// Delete implements SharedMemory. The entry, the key set and the stats
// update land in one transaction so Snapshot and Stats never observe a
// half-removed key when a concurrent write races the delete.
func (r *RedisStore) Delete(ctx context.Context, key, writer string) (bool, error) {
	if err := r.checkOpen(); err != nil {
		return false, err
	}

	var existed bool
	txn := func(tx *redis.Tx) error {
		_, exists, err := r.loadEntry(ctx, tx, key)
		if err != nil {
			return err
		}
		existed = exists
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if exists {
				pipe.Del(ctx, r.entryKey(key))
				pipe.SRem(ctx, r.keysKey(), key)
				pipe.HIncrBy(ctx, r.statsKey(), "deletes", 1)
			}
			return nil
		})
		return err
	}
	if err := r.watch(ctx, key, txn); err != nil {
		return false, fmt.Errorf("delete entry %q: %w", key, err)
	}
	r.record("delete", key, writer)
	return existed, nil
}

// Metadata implements SharedMemory.
func (r *RedisStore) Metadata(ctx context.Context, key string) (Entry, bool, error) {
	if err := r.checkOpen(); err != nil {
		return Entry{}, false, err
	}
	data, err := r.client.Get(ctx, r.entryKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("read entry %q: %w", key, err)
	}
	var entry Entry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		return Entry{}, false, fmt.Errorf("decode entry %q: %w", key, err)
	}
	return entry, true, nil
}

// Stats implements SharedMemory.
func (r *RedisStore) Stats(ctx context.Context) (Stats, error) {
	if err := r.checkOpen(); err != nil {
		return Stats{}, err
	}
	fields, err := r.client.HGetAll(ctx, r.statsKey()).Result()
	if err != nil {
		return Stats{}, fmt.Errorf("read stats: %w", err)
	}
	keys, err := r.client.SCard(ctx, r.keysKey()).Result()
	if err != nil {
		return Stats{}, fmt.Errorf("count keys: %w", err)
	}
	stats := Stats{Keys: int(keys)}
	get := func(field string) int64 {
		var n int64
		fmt.Sscanf(fields[field], "%d", &n)
		return n
	}
	stats.Writes = get("writes")
	stats.Reads = get("reads")
	stats.Increments = get("increments")
	stats.Appends = get("appends")
	stats.CASAttempts = get("casAttempts")
	stats.CASFailures = get("casFailures")
	stats.Deletes = get("deletes")
	return stats, nil
}

// Snapshot implements SharedMemory.
func (r *RedisStore) Snapshot(ctx context.Context) (map[string]Entry, error) {
	if err := r.checkOpen(); err != nil {
		return nil, err
	}
	keys, err := r.client.SMembers(ctx, r.keysKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	snap := make(map[string]Entry, len(keys))
	for _, key := range keys {
		entry, ok, err := r.Metadata(ctx, key)
		if err != nil {
			return nil, err
		}
		if ok {
			snap[key] = entry
		}
	}
	return snap, nil
}

// AccessLog implements SharedMemory.
func (r *RedisStore) AccessLog(ctx context.Context, limit int) ([]AccessRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	records := r.log
	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}
	out := make([]AccessRecord, len(records))
	copy(out, records)
	return out, nil
}

// Close implements SharedMemory.
func (r *RedisStore) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()
	return r.client.Close()
}

// equalJSON compares values the way they compare after a JSON round-trip,
// so a CAS written by one process matches a read from another. In-process
// values that never hit JSON compare with DeepEqual first.
func equalJSON(a, b any) bool {
	if reflect.DeepEqual(a, b) {
		return true
	}
	aj, errA := json.Marshal(a)
	bj, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(aj) == string(bj)
}
