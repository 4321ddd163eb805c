package matching

import "context"

// Store persists reconciliation matches. All access is tenant-scoped.
type Store interface {
	// Create inserts a match. Returns ErrDuplicatePair when a match for the
	// same (tenant, transaction, settlement) pair already exists, and
	// ErrActiveMatchExists when the transaction already has a different
	// active match.
	Create(ctx context.Context, m *Match) error
	Get(ctx context.Context, tenantID, id string) (*Match, error)
	// GetActiveByTransaction returns the transaction's non-superseded match,
	// or ErrMatchNotFound.
	GetActiveByTransaction(ctx context.Context, tenantID, transactionID string) (*Match, error)
	ListByTransaction(ctx context.Context, tenantID, transactionID string) ([]*Match, error)
	// Supersede marks the transaction's active match superseded, freeing the
	// transaction for a replacement match (manual corrections, voids).
	Supersede(ctx context.Context, tenantID, transactionID string) error
}
