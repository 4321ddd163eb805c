package transaction

import (
	"context"
	"time"
)

// Store persists normalized transactions and settlement lines. All reads and
// writes are tenant-scoped; implementations must never return rows for a
// different tenant than the one asked for.
type Store interface {
	// CreateTransaction inserts a new transaction. Returns ErrDuplicate when
	// the natural key (tenant, psp connection, psp transaction id, event type)
	// already exists.
	CreateTransaction(ctx context.Context, txn *NormalizedTransaction) error
	GetTransaction(ctx context.Context, tenantID, transactionID string) (*NormalizedTransaction, error)

	// TransitionStatus moves a transaction's reconciliation status using a
	// conditional write on the version column. Returns ErrVersionConflict when
	// the caller's version is stale and ErrIllegalTransition when the move is
	// not allowed by the transition table. A same-status transition succeeds
	// without bumping the version.
	TransitionStatus(ctx context.Context, tenantID, transactionID string, to ReconStatus, version int64) (*NormalizedTransaction, error)

	// ListReprocessable returns transactions in a date window that are still
	// eligible for (re-)matching: PENDING, UNMATCHED or PARTIAL_MATCH.
	// pspConnectionID narrows the scan when non-empty.
	ListReprocessable(ctx context.Context, tenantID string, from, to time.Time, pspConnectionID string, limit int) ([]*NormalizedTransaction, error)

	// CreateSettlement inserts a settlement line. Returns ErrDuplicate when
	// the line's natural key already exists.
	CreateSettlement(ctx context.Context, line *PspSettlement) error
	GetSettlement(ctx context.Context, tenantID, settlementID string) (*PspSettlement, error)

	// FindSettlementCandidates returns settlement lines inside the query
	// window ordered by (settlement_date, batch id, line number). The result
	// is bounded by q.Limit; an empty result is a normal outcome.
	FindSettlementCandidates(ctx context.Context, q CandidateQuery) ([]*PspSettlement, error)
}
