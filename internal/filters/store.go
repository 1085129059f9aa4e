package filters

import (
	"context"
	"sync"
)

// Store returns the resolved filters of a person.
type Store interface {
	PersonFilters(ctx context.Context, personToken string) (*PersonFilters, error)
}

// StaticCatalog is a CatalogSource over fixed slices.
type StaticCatalog struct {
	ModeList    []Mode
	NetworkList []Network
}

func (s StaticCatalog) LoadModes(context.Context) ([]Mode, error) {
	return s.ModeList, nil
}

func (s StaticCatalog) LoadNetworks(context.Context) ([]Network, error) {
	return s.NetworkList, nil
}

// MemoryStore is a Store backed by a map. A person without an entry has no
// filters, which is fully permissive.
type MemoryStore struct {
	mu      sync.RWMutex
	filters map[string]*PersonFilters
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{filters: make(map[string]*PersonFilters)}
}

func (m *MemoryStore) Put(personToken string, pf *PersonFilters) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.filters[personToken] = pf
}

func (m *MemoryStore) PersonFilters(_ context.Context, personToken string) (*PersonFilters, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if pf, ok := m.filters[personToken]; ok {
		return pf, nil
	}
	return &PersonFilters{}, nil
}
