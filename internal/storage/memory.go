package storage

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps sessions in process memory
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]map[string]string
	current  string
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: map[string]map[string]string{}}
}

func (s *MemoryStore) ListSessions(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.sessions))
	for name := range s.sessions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *MemoryStore) GetSession(ctx context.Context, name string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	values, ok := s.sessions[name]
	if !ok {
		return nil, ErrNotFound
	}
	return copyValues(values), nil
}

func (s *MemoryStore) SaveSession(ctx context.Context, name string, values map[string]string) error {
	if err := ValidateName(name); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[name] = copyValues(values)
	return nil
}

func (s *MemoryStore) DeleteSession(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[name]; !ok {
		return ErrNotFound
	}
	delete(s.sessions, name)
	if s.current == name {
		s.current = ""
	}
	return nil
}

func (s *MemoryStore) CurrentSession(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.current == "" {
		return "", ErrNotFound
	}
	return s.current, nil
}

func (s *MemoryStore) SetCurrentSession(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if name != "" {
		if _, ok := s.sessions[name]; !ok {
			return ErrNotFound
		}
	}
	s.current = name
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
