package adjustment

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory adjustment store for demo/development mode and
// tests.
type MemoryStore struct {
	mu          sync.RWMutex
	adjustments map[string]*Adjustment // key: tenantID|id
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory adjustment store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{adjustments: make(map[string]*Adjustment)}
}

func (m *MemoryStore) Create(ctx context.Context, a *Adjustment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *a
	m.adjustments[a.TenantID+"|"+a.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, tenantID, id string) (*Adjustment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.adjustments[tenantID+"|"+id]
	if !ok {
		return nil, ErrAdjustmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryStore) Update(ctx context.Context, a *Adjustment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.adjustments[a.TenantID+"|"+a.ID]; !ok {
		return ErrAdjustmentNotFound
	}
	cp := *a
	m.adjustments[a.TenantID+"|"+a.ID] = &cp
	return nil
}

func (m *MemoryStore) List(ctx context.Context, tenantID string, f ListFilter) ([]*Adjustment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Adjustment
	for _, a := range m.adjustments {
		if a.TenantID != tenantID {
			continue
		}
		if f.Status != "" && a.ApprovalStatus != f.Status {
			continue
		}
		if f.Type != "" && a.Type != f.Type {
			continue
		}
		if f.TransactionID != "" && a.TransactionID != f.TransactionID {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}
