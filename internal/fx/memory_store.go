package fx

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory rate store for demo/development and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	rates map[string]*Rate // key: tenant|base|quote|date
}

// NewMemoryStore creates a new in-memory rate store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rates: make(map[string]*Rate)}
}

func rateKey(tenantID, base, quote string, date time.Time) string {
	return tenantID + "|" + strings.ToUpper(base) + "|" + strings.ToUpper(quote) + "|" + day(date).Format("2006-01-02")
}

func (m *MemoryStore) PutRate(_ context.Context, r *Rate) error {
	if r.Rate.Sign() <= 0 {
		return ErrInvalidRate
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *r
	cp.BaseCurrency = strings.ToUpper(cp.BaseCurrency)
	cp.QuoteCurrency = strings.ToUpper(cp.QuoteCurrency)
	cp.RateDate = day(cp.RateDate)
	cp.CreatedAt = time.Now()
	m.rates[rateKey(cp.TenantID, cp.BaseCurrency, cp.QuoteCurrency, cp.RateDate)] = &cp
	return nil
}

func (m *MemoryStore) GetRate(_ context.Context, tenantID, base, quote string, date time.Time) (*Rate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.rates[rateKey(tenantID, base, quote, date)]
	if !ok {
		return nil, ErrRateNotFound
	}
	cp := *r
	return &cp, nil
}

var _ Store = (*MemoryStore)(nil)
