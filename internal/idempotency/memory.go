package idempotency

import (
	"context"
	"sync"
	"time"
)

type memoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

// NewMemoryStore constructs an in-memory store for tests and development.
func NewMemoryStore() Store {
	return &memoryStore{records: make(map[string]Record)}
}

func (s *memoryStore) Create(_ context.Context, rec Record) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.records[rec.Key]; ok {
		return existing, false, nil
	}
	s.records[rec.Key] = rec
	return rec, true, nil
}

func (s *memoryStore) Get(_ context.Context, key string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (s *memoryStore) MarkSucceeded(_ context.Context, key string, responseJSON []byte, at time.Time) error {
	return s.update(key, func(rec *Record) {
		rec.Status = StatusSucceeded
		rec.ResponseJSON = responseJSON
		rec.LastSeenAt = at
	})
}

func (s *memoryStore) MarkFailed(_ context.Context, key string, at time.Time) error {
	return s.update(key, func(rec *Record) {
		rec.Status = StatusFailed
		rec.LastSeenAt = at
	})
}

func (s *memoryStore) Restart(_ context.Context, key, payloadHash string, cutoff, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		return false, ErrNotFound
	}
	// Compare-and-swap on status: a record another retry already took back
	// to a fresh inflight is no longer eligible.
	eligible := rec.Status == StatusFailed ||
		(rec.Status == StatusInflight && !rec.CreatedAt.After(cutoff))
	if !eligible {
		return false, nil
	}
	rec.Status = StatusInflight
	rec.PayloadHash = payloadHash
	rec.ResponseJSON = nil
	rec.CreatedAt = at
	rec.LastSeenAt = at
	s.records[key] = rec
	return true, nil
}

func (s *memoryStore) update(key string, fn func(rec *Record)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		return ErrNotFound
	}
	fn(&rec)
	s.records[key] = rec
	return nil
}
