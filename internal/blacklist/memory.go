package blacklist

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a mutex-guarded Store for tests and single-node development.
// Insert-if-absent under one lock gives the same first-writer-wins guarantee
// the durable stores get from SET NX and unique constraints.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (s *MemoryStore) Insert(_ context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[entry.Token]; ok {
		return ErrDuplicate
	}
	if entry.BlacklistedAt.IsZero() {
		entry.BlacklistedAt = time.Now()
	}
	s.entries[entry.Token] = entry
	return nil
}

func (s *MemoryStore) Exists(_ context.Context, tokenValue string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.entries[tokenValue]
	return ok, nil
}

func (s *MemoryStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for token, entry := range s.entries {
		if entry.ExpiresAt.Before(now) {
			delete(s.entries, token)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) DeleteByUser(_ context.Context, userID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for token, entry := range s.entries {
		if entry.UserID == userID {
			delete(s.entries, token)
			removed++
		}
	}
	return removed, nil
}

// Len reports the current entry count. Test helper.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
