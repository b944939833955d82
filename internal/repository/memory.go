package repository

import (
	"context"
	"sync"
	"time"

	"nc-assistant/internal/domain"
)

// Memory is a process-local UserStore for development runs.
type Memory struct {
	mu    sync.RWMutex
	users map[string]domain.User
}

func NewMemory() *Memory {
	return &Memory{users: make(map[string]domain.User)}
}

func (m *Memory) CreateUser(_ context.Context, u domain.User) error {
	key := normalizeUsername(u.Username)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[key]; ok {
		return ErrUserExists
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	u.Username = key
	m.users[key] = u
	return nil
}

func (m *Memory) GetUser(_ context.Context, username string) (domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[normalizeUsername(username)]
	if !ok {
		return domain.User{}, ErrUserNotFound
	}
	return u, nil
}
