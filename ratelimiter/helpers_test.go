package ratelimiter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{t: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// mapStore is a minimal Store used to test the limiters in isolation from the store package.
type mapStore struct {
	mu   sync.Mutex
	recs map[string]AttemptRecord
	err  error
}

func newMapStore() *mapStore {
	return &mapStore{recs: make(map[string]AttemptRecord)}
}

func mapKey(k Key) string {
	return fmt.Sprintf("%s|%s|%d", k.Policy, k.Principal, k.Day.UnixMilli())
}

func (s *mapStore) Find(_ context.Context, key Key) (*AttemptRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	rec, ok := s.recs[mapKey(key)]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *mapStore) Upsert(_ context.Context, rec AttemptRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.recs[mapKey(rec.Key())] = rec
	return nil
}

func (s *mapStore) Increment(_ context.Context, key Key, now time.Time, p Policy, label string) (AttemptRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return AttemptRecord{}, s.err
	}
	rec, ok := s.recs[mapKey(key)]
	if !ok {
		rec = AttemptRecord{Policy: key.Policy, Principal: key.Principal, Day: key.Day}
	}
	rec.Apply(now, p, label)
	s.recs[mapKey(key)] = rec
	return rec, nil
}

func (s *mapStore) ResetDay(_ context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if rec, ok := s.recs[mapKey(key)]; ok {
		rec.Clear()
		s.recs[mapKey(key)] = rec
	}
	return nil
}

func (s *mapStore) BulkReset(_ context.Context, policy, principal string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	for k, rec := range s.recs {
		if rec.Policy == policy && rec.Principal == principal {
			rec.Clear()
			s.recs[k] = rec
		}
	}
	return nil
}

func (s *mapStore) ListBlocked(_ context.Context, policy string, day, now time.Time) ([]AttemptRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	var out []AttemptRecord
	for _, rec := range s.recs {
		if rec.Policy == policy && rec.Day.Equal(day) && rec.ActiveBlock(now) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *mapStore) Purge(context.Context, time.Time) (int64, error) {
	return 0, errors.New("not implemented")
}
