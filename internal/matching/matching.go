// Package matching implements the reconciliation matching engine.
//
// The engine resolves normalized transactions against settlement lines in
// four levels of decreasing strength: strong ID cross-reference, PSP
// reference array, fuzzy amount+date, and amount+date only. Each accepted
// level records a ReconciliationMatch with a confidence score; everything
// else becomes an exception. Matching is idempotent and safely re-runnable
// over historical windows.
package matching

import (
	"errors"
	"time"
)

// Errors
var (
	ErrMatchNotFound     = errors.New("matching: match not found")
	ErrActiveMatchExists = errors.New("matching: transaction already has an active match")
	ErrDuplicatePair     = errors.New("matching: match already exists for this transaction/settlement pair")
)

// Method records how a match came to be.
type Method string

const (
	MethodAuto   Method = "AUTO"
	MethodManual Method = "MANUAL"
	MethodRule   Method = "RULE"
)

// MatchStatus is the state of a match link.
type MatchStatus string

const (
	StatusMatched       MatchStatus = "MATCHED"
	StatusPartialMatch  MatchStatus = "PARTIAL_MATCH"
	StatusPendingReview MatchStatus = "PENDING_REVIEW"
)

// Match links a transaction to a settlement line. At most one active
// (non-superseded) match per transaction; the (tenant, transaction,
// settlement) pair is unique.
type Match struct {
	ID            string `json:"id"`
	TenantID      string `json:"tenantId"`
	TransactionID string `json:"transactionId"`
	SettlementID  string `json:"settlementId,omitempty"` // empty for void/unresolved records

	MatchLevel      int         `json:"matchLevel"` // 1 strongest .. 4 weakest
	ConfidenceScore int         `json:"confidenceScore"`
	Method          Method      `json:"method"`
	Status          MatchStatus `json:"status"`

	// AmountDifference is transaction net minus settlement net, in the
	// transaction's currency after FX normalization.
	AmountDifference    int64   `json:"amountDifference"`
	AmountDifferencePct float64 `json:"amountDifferencePct"`

	Superseded bool `json:"superseded"`

	CreatedByUserID string    `json:"createdByUserId,omitempty"` // manual matches only
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}
