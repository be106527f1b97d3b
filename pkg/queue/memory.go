package queue

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store. Contents do not survive a restart.
type MemoryStore struct {
	mu     sync.Mutex
	items  []*Mutation
	nextID int64
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func clone(m *Mutation) *Mutation {
	c := *m
	c.Header = m.Header.Clone()
	c.Body = append([]byte(nil), m.Body...)
	return &c
}

// Append implements Store.
func (s *MemoryStore) Append(_ context.Context, m *Mutation) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	c := clone(m)
	c.ID = s.nextID
	s.items = append(s.items, c)
	return c.ID, nil
}

// Head implements Store.
func (s *MemoryStore) Head(_ context.Context, maxID int64) (*Mutation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.items) == 0 || s.items[0].ID > maxID {
		return nil, ErrNotFound
	}
	return clone(s.items[0]), nil
}

// MaxID implements Store.
func (s *MemoryStore) MaxID(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.items) == 0 {
		return 0, nil
	}
	return s.items[len(s.items)-1].ID, nil
}

// Remove implements Store.
func (s *MemoryStore) Remove(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, m := range s.items {
		if m.ID == id {
			s.items = append(s.items[:i], s.items[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

// RecordFailure implements Store.
func (s *MemoryStore) RecordFailure(_ context.Context, id int64, lastErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.items {
		if m.ID == id {
			m.Attempts++
			m.LastError = lastErr
			return nil
		}
	}
	return ErrNotFound
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context) ([]*Mutation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Mutation, 0, len(s.items))
	for _, m := range s.items {
		out = append(out, clone(m))
	}
	return out, nil
}

// Len implements Store.
func (s *MemoryStore) Len(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items), nil
}
