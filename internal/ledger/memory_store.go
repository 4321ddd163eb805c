package ledger

import (
	"context"
	"sort"
	"sync"

	"github.com/settleline/recon/internal/pagination"
	"github.com/settleline/recon/internal/transaction"
)

// MemoryStore is an in-memory Store for tests and local development.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []*Entry
	sets    map[string]bool // tenantID|referenceKey
	txns    transaction.Store
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory ledger. The transaction store is
// used to apply status flips; it may be nil when flips are never requested.
func NewMemoryStore(txns transaction.Store) *MemoryStore {
	return &MemoryStore{
		sets: make(map[string]bool),
		txns: txns,
	}
}

func (m *MemoryStore) PostEntries(ctx context.Context, entries []*Entry, flip *StatusFlip) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(entries) > 0 {
		key := entries[0].TenantID + "|" + entries[0].referenceKey()
		if m.sets[key] {
			return ErrAlreadyPosted
		}
		for _, e := range entries {
			if e.Amount <= 0 {
				return ErrInvalidAmount
			}
		}
	}

	// Flip before insert so a conflict leaves the ledger untouched, mirroring
	// the single database transaction of the postgres store.
	if flip != nil {
		if _, err := m.txns.TransitionStatus(ctx, flip.TenantID, flip.TransactionID, flip.To, flip.Version); err != nil {
			return err
		}
	}

	for _, e := range entries {
		cp := *e
		m.entries = append(m.entries, &cp)
	}
	if len(entries) > 0 {
		m.sets[entries[0].TenantID+"|"+entries[0].referenceKey()] = true
	}
	return nil
}

func (m *MemoryStore) ListByReference(ctx context.Context, tenantID, referenceID string) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Entry
	for _, e := range m.entries {
		if e.TenantID != tenantID {
			continue
		}
		if e.RefTransactionID == referenceID || e.RefMatchID == referenceID || e.RefAdjustmentID == referenceID {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) List(ctx context.Context, tenantID string, limit int, cursor *pagination.Cursor) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Entry
	for _, e := range m.entries {
		if e.TenantID != tenantID {
			continue
		}
		if cursor != nil && !before(e, cursor) {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// before reports whether e sorts strictly after the cursor position in the
// newest-first ordering, i.e. (createdAt, id) < cursor.
func before(e *Entry, c *pagination.Cursor) bool {
	if !e.CreatedAt.Equal(c.CreatedAt) {
		return e.CreatedAt.Before(c.CreatedAt)
	}
	return e.ID < c.ID
}
