package matching

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory match store for demo/development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	matches map[string]*Match // key: tenantID|id
}

// NewMemoryStore creates a new in-memory match store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{matches: make(map[string]*Match)}
}

func (m *MemoryStore) Create(_ context.Context, match *Match) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.matches {
		if existing.TenantID != match.TenantID || existing.TransactionID != match.TransactionID {
			continue
		}
		if existing.SettlementID == match.SettlementID {
			return ErrDuplicatePair
		}
		if !existing.Superseded {
			return ErrActiveMatchExists
		}
	}

	cp := *match
	m.matches[match.TenantID+"|"+match.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(_ context.Context, tenantID, id string) (*Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	match, ok := m.matches[tenantID+"|"+id]
	if !ok {
		return nil, ErrMatchNotFound
	}
	cp := *match
	return &cp, nil
}

func (m *MemoryStore) GetActiveByTransaction(_ context.Context, tenantID, transactionID string) (*Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, match := range m.matches {
		if match.TenantID == tenantID && match.TransactionID == transactionID && !match.Superseded {
			cp := *match
			return &cp, nil
		}
	}
	return nil, ErrMatchNotFound
}

func (m *MemoryStore) ListByTransaction(_ context.Context, tenantID, transactionID string) ([]*Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*Match
	for _, match := range m.matches {
		if match.TenantID == tenantID && match.TransactionID == transactionID {
			cp := *match
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (m *MemoryStore) Supersede(_ context.Context, tenantID, transactionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	found := false
	for _, match := range m.matches {
		if match.TenantID == tenantID && match.TransactionID == transactionID && !match.Superseded {
			match.Superseded = true
			found = true
		}
	}
	if !found {
		return ErrMatchNotFound
	}
	return nil
}

var _ Store = (*MemoryStore)(nil)
