package cache

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. It is used in tests and when no data
// directory is configured.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]map[string]*Entry
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]map[string]*Entry)}
}

func copyEntry(e *Entry) *Entry {
	c := *e
	c.Header = e.Header.Clone()
	c.Body = append([]byte(nil), e.Body...)
	return &c
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, partition, key string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[partition][key]
	if !ok {
		return nil, ErrNotFound
	}
	return copyEntry(e), nil
}

// Put implements Store.
func (s *MemoryStore) Put(_ context.Context, e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.entries[e.Partition]
	if !ok {
		p = make(map[string]*Entry)
		s.entries[e.Partition] = p
	}
	p[e.Key] = copyEntry(e)
	return nil
}

// Touch implements Store.
func (s *MemoryStore) Touch(_ context.Context, partition, key string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[partition][key]; ok {
		e.LastAccess = at
	}
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, partition, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries[partition], key)
	return nil
}

// Evict implements Store.
func (s *MemoryStore) Evict(_ context.Context, partition string, expiredBefore time.Time, maxEntries int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.entries[partition]
	removed := 0
	if !expiredBefore.IsZero() {
		for k, e := range p {
			if !e.CachedAt.After(expiredBefore) {
				delete(p, k)
				removed++
			}
		}
	}
	if maxEntries > 0 && len(p) > maxEntries {
		list := make([]*Entry, 0, len(p))
		for _, e := range p {
			list = append(list, e)
		}
		sort.Slice(list, func(i, j int) bool {
			return list[i].LastAccess.Before(list[j].LastAccess)
		})
		for _, e := range list[:len(list)-maxEntries] {
			delete(p, e.Key)
			removed++
		}
	}
	return removed, nil
}

// Stats implements Store.
func (s *MemoryStore) Stats(_ context.Context) ([]PartitionStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := make([]PartitionStats, 0, len(s.entries))
	for name, p := range s.entries {
		if len(p) == 0 {
			continue
		}
		st := PartitionStats{Partition: name}
		for _, e := range p {
			st.Entries++
			st.Bytes += int64(len(e.Body))
			if st.Oldest.IsZero() || e.CachedAt.Before(st.Oldest) {
				st.Oldest = e.CachedAt
			}
			if e.CachedAt.After(st.Newest) {
				st.Newest = e.CachedAt
			}
		}
		stats = append(stats, st)
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Partition < stats[j].Partition })
	return stats, nil
}

// Clear implements Store.
func (s *MemoryStore) Clear(_ context.Context, partition string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if partition == "" {
		n := 0
		for _, p := range s.entries {
			n += len(p)
		}
		s.entries = make(map[string]map[string]*Entry)
		return n, nil
	}
	n := len(s.entries[partition])
	delete(s.entries, partition)
	return n, nil
}
