package transaction

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory transaction store for demo/development mode
// and tests.
type MemoryStore struct {
	mu           sync.RWMutex
	transactions map[string]*NormalizedTransaction // key: tenantID|transactionID
	settlements  map[string]*PspSettlement         // key: tenantID|settlementID
	txnKeys      map[string]string                 // natural key -> transactionID
	lineKeys     map[string]string                 // natural key -> settlementID
}

// NewMemoryStore creates a new in-memory transaction store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		transactions: make(map[string]*NormalizedTransaction),
		settlements:  make(map[string]*PspSettlement),
		txnKeys:      make(map[string]string),
		lineKeys:     make(map[string]string),
	}
}

func (m *MemoryStore) CreateTransaction(ctx context.Context, txn *NormalizedTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.txnKeys[txn.NaturalKey()]; exists {
		return ErrDuplicate
	}

	cp := *txn
	if cp.ReconciliationStatus == "" {
		cp.ReconciliationStatus = ReconPending
	}
	if cp.Version == 0 {
		cp.Version = 1
	}
	now := time.Now()
	cp.CreatedAt = now
	cp.UpdatedAt = now
	cp.TransactionDate = Day(cp.TransactionDate)

	m.transactions[cp.TenantID+"|"+cp.TransactionID] = &cp
	m.txnKeys[cp.NaturalKey()] = cp.TransactionID
	return nil
}

func (m *MemoryStore) GetTransaction(ctx context.Context, tenantID, transactionID string) (*NormalizedTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	txn, ok := m.transactions[tenantID+"|"+transactionID]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	cp := *txn
	return &cp, nil
}

func (m *MemoryStore) TransitionStatus(ctx context.Context, tenantID, transactionID string, to ReconStatus, version int64) (*NormalizedTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	txn, ok := m.transactions[tenantID+"|"+transactionID]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	if txn.Version != version {
		return nil, ErrVersionConflict
	}
	if txn.ReconciliationStatus == to {
		cp := *txn
		return &cp, nil
	}
	if !CanTransition(txn.ReconciliationStatus, to) {
		return nil, ErrIllegalTransition
	}

	txn.ReconciliationStatus = to
	txn.Version++
	txn.UpdatedAt = time.Now()
	cp := *txn
	return &cp, nil
}

func (m *MemoryStore) ListReprocessable(ctx context.Context, tenantID string, from, to time.Time, pspConnectionID string, limit int) ([]*NormalizedTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	from, to = Day(from), Day(to)
	var result []*NormalizedTransaction
	for _, txn := range m.transactions {
		if txn.TenantID != tenantID {
			continue
		}
		switch txn.ReconciliationStatus {
		case ReconPending, ReconUnmatched, ReconPartialMatch:
		default:
			continue
		}
		if txn.TransactionDate.Before(from) || txn.TransactionDate.After(to) {
			continue
		}
		if pspConnectionID != "" && txn.PSPConnectionID != pspConnectionID {
			continue
		}
		cp := *txn
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].TransactionDate.Equal(result[j].TransactionDate) {
			return result[i].TransactionDate.Before(result[j].TransactionDate)
		}
		return result[i].TransactionID < result[j].TransactionID
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) CreateSettlement(ctx context.Context, line *PspSettlement) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.lineKeys[line.NaturalKey()]; exists {
		return ErrDuplicate
	}

	cp := *line
	now := time.Now()
	cp.CreatedAt = now
	cp.UpdatedAt = now
	cp.SettlementDate = Day(cp.SettlementDate)
	cp.PSPTransactionIDs = append([]string(nil), line.PSPTransactionIDs...)

	m.settlements[cp.TenantID+"|"+cp.SettlementID] = &cp
	m.lineKeys[cp.NaturalKey()] = cp.SettlementID
	return nil
}

func (m *MemoryStore) GetSettlement(ctx context.Context, tenantID, settlementID string) (*PspSettlement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	line, ok := m.settlements[tenantID+"|"+settlementID]
	if !ok {
		return nil, ErrSettlementNotFound
	}
	cp := *line
	return &cp, nil
}

func (m *MemoryStore) FindSettlementCandidates(ctx context.Context, q CandidateQuery) ([]*PspSettlement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	from, to := Day(q.DateFrom), Day(q.DateTo)
	var result []*PspSettlement
	for _, line := range m.settlements {
		if line.TenantID != q.TenantID || line.PSPConnectionID != q.PSPConnectionID {
			continue
		}
		if line.SettlementDate.Before(from) || line.SettlementDate.After(to) {
			continue
		}
		if q.Currency != "" && line.AmountCurrency != q.Currency {
			continue
		}
		cp := *line
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if !a.SettlementDate.Equal(b.SettlementDate) {
			return a.SettlementDate.Before(b.SettlementDate)
		}
		if a.BatchID != b.BatchID {
			return a.BatchID < b.BatchID
		}
		return a.LineNumber < b.LineNumber
	})
	if q.Limit > 0 && len(result) > q.Limit {
		result = result[:q.Limit]
	}
	return result, nil
}
