package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryGuard is an in-memory guard for demo/development and tests.
type MemoryGuard struct {
	mu     sync.Mutex
	claims map[string]*Claim // key: tenantID|key
}

// NewMemoryGuard creates a new in-memory guard.
func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{claims: make(map[string]*Claim)}
}

func (m *MemoryGuard) Acquire(_ context.Context, tenantID, key, operation string) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	k := tenantID + "|" + key
	if _, taken := m.claims[k]; taken {
		return false, nil
	}
	m.claims[k] = &Claim{
		TenantID:  tenantID,
		Key:       key,
		Operation: operation,
		CreatedAt: time.Now(),
	}
	return true, nil
}

func (m *MemoryGuard) Seen(_ context.Context, tenantID, key string) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	_, taken := m.claims[tenantID+"|"+key]
	return taken, nil
}

var _ Guard = (*MemoryGuard)(nil)
