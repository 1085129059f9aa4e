package gridindex

import (
	"context"
	"sort"
	"sync"
)

// Store is the set-membership store behind the grid index. Add and Remove
// touch every key in one pipelined round trip. Both are idempotent.
type Store interface {
	Add(ctx context.Context, keys []string, member string) error
	Remove(ctx context.Context, keys []string, member string) error
	// Members returns each key's members; absent keys map to nil.
	Members(ctx context.Context, keys []string) (map[string][]string, error)
	// Union returns the distinct members across keys.
	Union(ctx context.Context, keys []string) ([]string, error)
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu   sync.RWMutex
	sets map[string]map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sets: make(map[string]map[string]struct{}),
	}
}

func (m *MemoryStore) Add(_ context.Context, keys []string, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		set, ok := m.sets[key]
		if !ok {
			set = make(map[string]struct{})
			m.sets[key] = set
		}
		set[member] = struct{}{}
	}
	return nil
}

func (m *MemoryStore) Remove(_ context.Context, keys []string, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		set, ok := m.sets[key]
		if !ok {
			continue
		}
		delete(set, member)
		if len(set) == 0 {
			delete(m.sets, key)
		}
	}
	return nil
}

func (m *MemoryStore) Members(_ context.Context, keys []string) (map[string][]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string][]string, len(keys))
	for _, key := range keys {
		set := m.sets[key]
		if len(set) == 0 {
			out[key] = nil
			continue
		}
		members := make([]string, 0, len(set))
		for member := range set {
			members = append(members, member)
		}
		out[key] = members
	}
	return out, nil
}

func (m *MemoryStore) Union(_ context.Context, keys []string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, key := range keys {
		for member := range m.sets[key] {
			seen[member] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for member := range seen {
		out = append(out, member)
	}
	return out, nil
}

// Snapshot returns a sorted copy of every non-empty set.
func (m *MemoryStore) Snapshot() map[string][]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string][]string, len(m.sets))
	for key, set := range m.sets {
		members := make([]string, 0, len(set))
		for member := range set {
			members = append(members, member)
		}
		sort.Strings(members)
		out[key] = members
	}
	return out
}

// KeysOf returns the sorted keys whose set contains member.
func (m *MemoryStore) KeysOf(member string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for key, set := range m.sets {
		if _, ok := set[member]; ok {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}
