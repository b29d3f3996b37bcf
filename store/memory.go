// Package store provides storage backends for github.com/jassus213/go-lockout.
//
// Currently supported backends:
//   - MemoryStore: in-memory store for single-instance applications and tests
//   - RedisStore: Redis-based store for distributed applications
//   - SQLStore: database/sql store for SQLite, PostgreSQL and MySQL
//
// Every backend implements ratelimiter.Store and applies attempts atomically, so two
// concurrent requests from the same principal are never counted as one.
//
// Example usage:
//
//	ctx := context.Background()
//	store := store.NewMemory(ctx, time.Minute) // cleanup interval = 1 minute
//	limiter, err := ratelimiter.NewAddressLimiter(store, ratelimiter.AuthPolicy)
package store

import (
	"context"
	"sync"
	"time"

	"github.com/jassus213/go-lockout/ratelimiter"
)

// Retention is how long after its day started a record is kept before cleanup removes it.
// It covers a full day of counting plus the longest shipped block.
const Retention = 48 * time.Hour

type memoryKey struct {
	policy    string
	principal string
	day       int64
}

func toMemoryKey(k ratelimiter.Key) memoryKey {
	return memoryKey{policy: k.Policy, principal: k.Principal, day: k.Day.UnixMilli()}
}

// MemoryStore is an in-memory implementation of ratelimiter.Store.
//
// It optionally runs a background cleanup goroutine to remove records of past days.
//
// Note: MemoryStore is suitable for single-instance applications.
type MemoryStore struct {
	mu      sync.Mutex
	records map[memoryKey]ratelimiter.AttemptRecord
}

// NewMemory creates a new MemoryStore instance.
//
// ctx: a parent context used to manage the lifecycle of the background cleanup goroutine.
// cleanupInterval: interval at which stale records are removed. Pass 0 to disable cleanup.
//
// Example:
//
//	ctx := context.Background()
//	store := store.NewMemory(ctx, time.Minute)
func NewMemory(ctx context.Context, cleanupInterval time.Duration) *MemoryStore {
	store := &MemoryStore{
		records: make(map[memoryKey]ratelimiter.AttemptRecord),
	}

	if cleanupInterval > 0 {
		go store.runCleanup(ctx, cleanupInterval)
	}

	return store
}

// Find returns a copy of the record stored under key.
func (s *MemoryStore) Find(ctx context.Context, key ratelimiter.Key) (*ratelimiter.AttemptRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, found := s.records[toMemoryKey(key)]
	if !found {
		return nil, nil
	}
	return &rec, nil
}

// Upsert stores rec, replacing any record with the same key.
func (s *MemoryStore) Upsert(ctx context.Context, rec ratelimiter.AttemptRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[toMemoryKey(rec.Key())] = rec
	return nil
}

// Increment applies one attempt under the store lock.
//
// Example:
//
//	rec, err := store.Increment(ctx, key, time.Now(), ratelimiter.AuthPolicy, "alice")
func (s *MemoryStore) Increment(ctx context.Context, key ratelimiter.Key, now time.Time, p ratelimiter.Policy, label string) (ratelimiter.AttemptRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mk := toMemoryKey(key)
	rec, found := s.records[mk]
	if !found {
		rec = ratelimiter.AttemptRecord{
			Policy:    key.Policy,
			Principal: key.Principal,
			Day:       key.Day,
		}
	}

	rec.Apply(now, p, label)
	s.records[mk] = rec
	return rec, nil
}

// ResetDay clears the counter and block of the record under key, if any.
func (s *MemoryStore) ResetDay(ctx context.Context, key ratelimiter.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mk := toMemoryKey(key)
	if rec, found := s.records[mk]; found {
		rec.Clear()
		s.records[mk] = rec
	}
	return nil
}

// BulkReset clears every record of principal under policy.
func (s *MemoryStore) BulkReset(ctx context.Context, policy, principal string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for mk, rec := range s.records {
		if mk.policy == policy && mk.principal == principal {
			rec.Clear()
			s.records[mk] = rec
		}
	}
	return nil
}

// ListBlocked returns the records of day under policy that are blocked at now.
func (s *MemoryStore) ListBlocked(ctx context.Context, policy string, day, now time.Time) ([]ratelimiter.AttemptRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dayMs := day.UnixMilli()
	var out []ratelimiter.AttemptRecord
	for mk, rec := range s.records {
		if mk.policy == policy && mk.day == dayMs && rec.ActiveBlock(now) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Purge deletes records whose day started before the given time.
func (s *MemoryStore) Purge(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.purgeLocked(before), nil
}

func (s *MemoryStore) purgeLocked(before time.Time) int64 {
	var n int64
	cutoff := before.UnixMilli()
	for mk := range s.records {
		if mk.day < cutoff {
			delete(s.records, mk)
			n++
		}
	}
	return n
}

// runCleanup periodically removes records older than Retention.
func (s *MemoryStore) runCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			s.purgeLocked(time.Now().Add(-Retention))
			s.mu.Unlock()
		case <-ctx.Done():
			return
		}
	}
}
