package identity

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a mutex-guarded Store for tests and single-node development.
type MemoryStore struct {
	mu     sync.RWMutex
	nextID int64
	byID   map[int64]*Principal
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nextID: 1, byID: make(map[int64]*Principal)}
}

func (s *MemoryStore) FindByEmail(_ context.Context, email string) (*Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	email = NormalizeEmail(email)
	for _, p := range s.byID {
		if p.Email == email {
			clone := *p
			return &clone, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) FindByID(_ context.Context, id int64) (*Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *p
	return &clone, nil
}

func (s *MemoryStore) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	_, err := s.FindByEmail(ctx, email)
	if err == nil {
		return true, nil
	}
	return false, nil
}

func (s *MemoryStore) Save(_ context.Context, p *Principal) (*Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := NormalizeEmail(p.Email)
	for _, existing := range s.byID {
		if existing.Email == email {
			return nil, ErrEmailExists
		}
	}

	saved := *p
	saved.ID = s.nextID
	saved.Email = email
	saved.CreatedAt = time.Now()
	s.nextID++
	s.byID[saved.ID] = &saved

	clone := saved
	return &clone, nil
}

func (s *MemoryStore) Update(_ context.Context, p *Principal) (*Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.byID[p.ID]
	if !ok {
		return nil, ErrNotFound
	}
	existing.Name = p.Name
	existing.PhoneNumber = p.PhoneNumber
	existing.Enabled = p.Enabled

	clone := *existing
	return &clone, nil
}
