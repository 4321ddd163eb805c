package exception

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory exception store for demo/development and tests.
type MemoryStore struct {
	mu         sync.RWMutex
	exceptions map[string]*Exception // key: tenantID|id
}

// NewMemoryStore creates a new in-memory exception store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{exceptions: make(map[string]*Exception)}
}

func (m *MemoryStore) Create(_ context.Context, e *Exception) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.exceptions[e.TenantID+"|"+e.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(_ context.Context, tenantID, id string) (*Exception, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.exceptions[tenantID+"|"+id]
	if !ok {
		return nil, ErrExceptionNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *MemoryStore) GetOpenByTransaction(_ context.Context, tenantID, transactionID string) (*Exception, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var newest *Exception
	for _, e := range m.exceptions {
		if e.TenantID != tenantID || e.TransactionID != transactionID || e.Status.IsTerminal() {
			continue
		}
		if newest == nil || e.CreatedAt.After(newest.CreatedAt) {
			newest = e
		}
	}
	if newest == nil {
		return nil, ErrExceptionNotFound
	}
	cp := *newest
	return &cp, nil
}

func (m *MemoryStore) List(_ context.Context, tenantID string, f ListFilter) ([]*Exception, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Exception
	for _, e := range m.exceptions {
		if e.TenantID != tenantID {
			continue
		}
		if f.Status != "" && e.Status != f.Status {
			continue
		}
		if f.Priority != "" && e.Priority != f.Priority {
			continue
		}
		if f.Type != "" && e.Type != f.Type {
			continue
		}
		cp := *e
		result = append(result, &cp)
	}
	// Most severe first, newest within a priority.
	sort.Slice(result, func(i, j int) bool {
		if result[i].Priority != result[j].Priority {
			return result[i].Priority.rank() < result[j].Priority.rank()
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if f.Limit > 0 && len(result) > f.Limit {
		result = result[:f.Limit]
	}
	return result, nil
}

func (m *MemoryStore) Update(_ context.Context, e *Exception) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := e.TenantID + "|" + e.ID
	if _, ok := m.exceptions[key]; !ok {
		return ErrExceptionNotFound
	}
	cp := *e
	m.exceptions[key] = &cp
	return nil
}

var _ Store = (*MemoryStore)(nil)
