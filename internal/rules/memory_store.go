package rules

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory rule store for demo/development and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	rules map[string]*Rule  // key: tenantID|id
	names map[string]string // tenantID|name -> id
}

// NewMemoryStore creates a new in-memory rule store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rules: make(map[string]*Rule),
		names: make(map[string]string),
	}
}

func (m *MemoryStore) Create(_ context.Context, r *Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	nameKey := r.TenantID + "|" + r.Name
	if _, taken := m.names[nameKey]; taken {
		return ErrNameTaken
	}

	cp := *r
	m.rules[r.TenantID+"|"+r.ID] = &cp
	m.names[nameKey] = r.ID
	return nil
}

func (m *MemoryStore) Get(_ context.Context, tenantID, id string) (*Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.rules[tenantID+"|"+id]
	if !ok {
		return nil, ErrRuleNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) List(_ context.Context, tenantID string) ([]*Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Rule
	for _, r := range m.rules {
		if r.TenantID == tenantID {
			cp := *r
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Priority != result[j].Priority {
			return result[i].Priority < result[j].Priority
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (m *MemoryStore) Update(_ context.Context, r *Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := r.TenantID + "|" + r.ID
	old, ok := m.rules[key]
	if !ok {
		return ErrRuleNotFound
	}
	if old.Name != r.Name {
		nameKey := r.TenantID + "|" + r.Name
		if _, taken := m.names[nameKey]; taken {
			return ErrNameTaken
		}
		delete(m.names, r.TenantID+"|"+old.Name)
		m.names[nameKey] = r.ID
	}
	cp := *r
	m.rules[key] = &cp
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, tenantID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := tenantID + "|" + id
	r, ok := m.rules[key]
	if !ok {
		return ErrRuleNotFound
	}
	delete(m.names, tenantID+"|"+r.Name)
	delete(m.rules, key)
	return nil
}

var _ Store = (*MemoryStore)(nil)
