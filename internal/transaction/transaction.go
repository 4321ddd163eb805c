// Package transaction holds the canonical reconciliation data model:
// normalized PSP transactions and settlement-file lines.
//
// Records arrive from the ingestion/normalization collaborator and are
// immutable here except for reconciliation bookkeeping: the
// reconciliation_status column and its optimistic-locking version. All
// status changes go through the transition table in this package so that
// illegal transitions are rejected in exactly one place.
package transaction

import (
	"errors"
	"strconv"
	"time"
)

// Errors
var (
	ErrTransactionNotFound = errors.New("transaction: not found")
	ErrSettlementNotFound  = errors.New("transaction: settlement not found")
	ErrDuplicate           = errors.New("transaction: duplicate natural key")
	ErrIllegalTransition   = errors.New("transaction: illegal status transition")
	ErrVersionConflict     = errors.New("transaction: version conflict")
)

// EventType classifies the business event a normalized transaction records.
type EventType string

const (
	EventDeposit            EventType = "DEPOSIT"
	EventWithdrawal         EventType = "WITHDRAWAL"
	EventRefund             EventType = "REFUND"
	EventChargeback         EventType = "CHARGEBACK"
	EventChargebackReversal EventType = "CHARGEBACK_REVERSAL"
	EventFee                EventType = "FEE"
	EventRollingReserve     EventType = "ROLLING_RESERVE"
	EventPartialCapture     EventType = "PARTIAL_CAPTURE"
	EventSplitSettlement    EventType = "SPLIT_SETTLEMENT"
	EventNegativeSettlement EventType = "NEGATIVE_SETTLEMENT"
	EventFxConversion       EventType = "FX_CONVERSION"
)

// Status is the business status reported by the PSP.
type Status string

const (
	StatusCompleted Status = "COMPLETED"
	StatusPending   Status = "PENDING"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// ReconStatus tracks a transaction through the reconciliation lifecycle.
type ReconStatus string

const (
	ReconPending      ReconStatus = "PENDING"
	ReconMatched      ReconStatus = "MATCHED"
	ReconPartialMatch ReconStatus = "PARTIAL_MATCH"
	ReconUnmatched    ReconStatus = "UNMATCHED"
	ReconExpected     ReconStatus = "EXPECTED"
	ReconPosted       ReconStatus = "POSTED"
	ReconVoided       ReconStatus = "VOIDED"
)

// IsTerminal returns true for states the matching pipeline never re-enters.
// POSTED can still move to VOIDED, but only through an approved void
// reversal, never through matching.
func (s ReconStatus) IsTerminal() bool {
	return s == ReconPosted || s == ReconVoided
}

// reconTransitions is the single source of truth for legal status moves.
// PENDING is the only initial state; VOIDED is terminal. POSTED leaves only
// via the void reversal recipe. Intermediate states stay re-evaluable: a
// late settlement line may move UNMATCHED back to MATCHED, but a MATCHED
// transaction never regresses.
var reconTransitions = map[ReconStatus][]ReconStatus{
	ReconPending:      {ReconMatched, ReconPartialMatch, ReconUnmatched, ReconExpected, ReconVoided},
	ReconMatched:      {ReconPosted, ReconVoided},
	ReconPartialMatch: {ReconMatched, ReconPosted, ReconVoided},
	ReconUnmatched:    {ReconMatched, ReconPartialMatch, ReconExpected, ReconVoided},
	ReconExpected:     {ReconMatched, ReconPartialMatch, ReconUnmatched, ReconVoided},
	ReconPosted:       {ReconVoided},
	ReconVoided:       {},
}

// CanTransition reports whether moving from one reconciliation status to
// another is legal. A same-state transition is allowed and treated as a
// no-op by callers (idempotent re-delivery).
func CanTransition(from, to ReconStatus) bool {
	if from == to {
		return true
	}
	for _, next := range reconTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NormalizedTransaction is a PSP event converted to the canonical schema.
// Amounts are integer minor units (cents).
type NormalizedTransaction struct {
	TransactionID   string    `json:"transactionId"`
	TenantID        string    `json:"tenantId"`
	PSPConnectionID string    `json:"pspConnectionId"`
	EventType       EventType `json:"eventType"`
	EventTimestamp  time.Time `json:"eventTimestamp"`
	TransactionDate time.Time `json:"transactionDate"` // date precision, UTC midnight

	AmountValue    int64  `json:"amountValue"`
	AmountCurrency string `json:"amountCurrency"`
	PSPFee         int64  `json:"pspFee"`
	NetAmount      int64  `json:"netAmount"` // amount minus PSP fee

	PSPTransactionID string `json:"pspTransactionId"`
	PSPPaymentID     string `json:"pspPaymentId,omitempty"`
	PSPSettlementID  string `json:"pspSettlementId,omitempty"` // optional hint from the PSP
	PSPBatchID       string `json:"pspBatchId,omitempty"`
	CustomerID       string `json:"customerId,omitempty"`

	Status               Status      `json:"status"`
	ReconciliationStatus ReconStatus `json:"reconciliationStatus"`

	SourceIdempotencyKey string `json:"sourceIdempotencyKey"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NaturalKey returns the transaction's uniqueness tuple. It is stable across
// redeliveries and independent of any ingestion-layer deduplication.
func (t *NormalizedTransaction) NaturalKey() string {
	return t.TenantID + "|" + t.PSPConnectionID + "|" + t.PSPTransactionID + "|" + string(t.EventType)
}

// Net returns the net amount, falling back to the gross amount minus fee
// when the normalizer did not supply one.
func (t *NormalizedTransaction) Net() int64 {
	if t.NetAmount != 0 {
		return t.NetAmount
	}
	return t.AmountValue - t.PSPFee
}

// PspSettlement is one line of a PSP settlement/payout file.
type PspSettlement struct {
	SettlementID    string    `json:"settlementId"`
	TenantID        string    `json:"tenantId"`
	PSPConnectionID string    `json:"pspConnectionId"`
	SettlementDate  time.Time `json:"settlementDate"` // date precision, UTC midnight
	BatchID         string    `json:"batchId"`
	LineNumber      int       `json:"lineNumber"`

	AmountValue    int64  `json:"amountValue"`
	AmountCurrency string `json:"amountCurrency"`
	PSPFee         int64  `json:"pspFee"`
	NetAmount      int64  `json:"netAmount"`

	PSPSettlementID   string   `json:"pspSettlementId,omitempty"`
	PSPTransactionIDs []string `json:"pspTransactionIds,omitempty"`

	SourceIdempotencyKey string `json:"sourceIdempotencyKey"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NaturalKey returns the settlement line's uniqueness tuple.
func (s *PspSettlement) NaturalKey() string {
	return s.TenantID + "|" + s.PSPConnectionID + "|" + s.SettlementDate.Format("2006-01-02") + "|" + s.BatchID + "|" + strconv.Itoa(s.LineNumber)
}

// References reports whether the settlement line carries the given PSP
// transaction id in its reference array.
func (s *PspSettlement) References(pspTransactionID string) bool {
	if pspTransactionID == "" {
		return false
	}
	for _, id := range s.PSPTransactionIDs {
		if id == pspTransactionID {
			return true
		}
	}
	return false
}

// Net returns the settlement line's net amount.
func (s *PspSettlement) Net() int64 {
	if s.NetAmount != 0 {
		return s.NetAmount
	}
	return s.AmountValue - s.PSPFee
}

// CandidateQuery bounds a settlement candidate scan. The window never spans
// tenants or PSP connections; date bounds keep the scan finite even when the
// underlying table is partitioned by date.
type CandidateQuery struct {
	TenantID        string
	PSPConnectionID string
	DateFrom        time.Time
	DateTo          time.Time
	Currency        string // empty = any currency (cross-currency handled by FX normalization)
	Limit           int
}

// Day truncates a timestamp to UTC midnight, the precision used for
// transaction and settlement dates throughout.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
