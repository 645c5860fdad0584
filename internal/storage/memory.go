package storage

import (
	"context"
	"sync"
	"time"
)

// MemoryStorage keeps sessions for the life of the process.
type MemoryStorage struct {
	mu       sync.RWMutex
	sessions map[string]*PersistedSession
}

var _ SessionStore = (*MemoryStorage)(nil)

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{sessions: make(map[string]*PersistedSession)}
}

func (m *MemoryStorage) Load(_ context.Context, profile string) (*PersistedSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[profile]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return clone(s), nil
}

func (m *MemoryStorage) Save(_ context.Context, profile string, s *PersistedSession) error {
	c := clone(s)
	c.UpdatedAt = time.Now()

	m.mu.Lock()
	m.sessions[profile] = c
	m.mu.Unlock()
	return nil
}

func (m *MemoryStorage) Delete(_ context.Context, profile string) error {
	m.mu.Lock()
	delete(m.sessions, profile)
	m.mu.Unlock()
	return nil
}
