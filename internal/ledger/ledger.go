// Package ledger records the financial effect of reconciled transactions as
// append-only double-entry postings.
//
// Every entry is balanced by construction: one debit account, one credit
// account, one positive amount. A compound posting is several balanced
// entries written atomically. Entries are never updated or deleted;
// corrections are new offsetting entries.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/settleline/recon/internal/pagination"
	"github.com/settleline/recon/internal/transaction"
)

// Errors
var (
	ErrEntryNotFound  = errors.New("ledger: entry not found")
	ErrNoRecipe       = errors.New("ledger: no posting recipe for event type")
	ErrAlreadyPosted  = errors.New("ledger: reference already posted")
	ErrNotPostable    = errors.New("ledger: transaction is not in a postable status")
	ErrInvalidAmount  = errors.New("ledger: entry amount must be positive")
	ErrNothingToVoid  = errors.New("ledger: no posting set to reverse")
	ErrMissingAccount = errors.New("ledger: posting recipe names an empty account")
)

// Entry is one balanced double-entry posting.
type Entry struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`

	AccountDebit  string `json:"accountDebit"`
	AccountCredit string `json:"accountCredit"`
	Amount        int64  `json:"amount"` // positive minor units
	Currency      string `json:"currency"`

	EventType   string `json:"eventType,omitempty"`
	Description string `json:"description,omitempty"`

	// Exactly one reference is set per posting set.
	RefTransactionID string `json:"refTransactionId,omitempty"`
	RefMatchID       string `json:"refMatchId,omitempty"`
	RefAdjustmentID  string `json:"refAdjustmentId,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// referenceKey returns the idempotency key for the entry's posting set.
func (e *Entry) referenceKey() string {
	switch {
	case e.RefAdjustmentID != "":
		return "adj:" + e.RefAdjustmentID
	case e.RefMatchID != "":
		return "mch:" + e.RefMatchID
	default:
		return "txn:" + e.RefTransactionID
	}
}

// StatusFlip asks the store to move a transaction's reconciliation status in
// the same atomic unit as the entry insert.
type StatusFlip struct {
	TenantID      string
	TransactionID string
	To            transaction.ReconStatus
	Version       int64
}

// Store persists ledger entries. All access is tenant-scoped.
type Store interface {
	// PostEntries atomically inserts a posting set and applies the optional
	// status flip: both succeed or both fail. Returns ErrAlreadyPosted when
	// a set for the same reference already exists.
	PostEntries(ctx context.Context, entries []*Entry, flip *StatusFlip) error
	// ListByReference returns the posting set for a reference id, oldest
	// first. The reference id may be a transaction, match or adjustment id.
	ListByReference(ctx context.Context, tenantID, referenceID string) ([]*Entry, error)
	// List returns entries newest first. A non-nil cursor resumes after the
	// (createdAt, id) position of a previous page.
	List(ctx context.Context, tenantID string, limit int, cursor *pagination.Cursor) ([]*Entry, error)
}
