package sessions

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	now      func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

func (m *MemoryStore) Get(_ context.Context, shop string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[shop]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) Save(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	cp := *s
	cp.ID = OfflineID(s.Shop)
	cp.UpdatedAt = now
	if existing, ok := m.sessions[s.Shop]; ok {
		cp.CreatedAt = existing.CreatedAt
	} else {
		cp.CreatedAt = now
	}
	m.sessions[s.Shop] = &cp
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, shop string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[shop]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, shop)
	return nil
}

func (m *MemoryStore) MarkInitialized(_ context.Context, shop string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[shop]
	if !ok {
		return ErrNotFound
	}
	s.MetafieldsInitialized = true
	s.UpdatedAt = m.now()
	return nil
}

var _ Store = (*MemoryStore)(nil)
