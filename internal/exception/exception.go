// Package exception manages reconciliation exception cases.
//
// Anything the matching engine cannot cleanly resolve lands here: unmatched
// transactions, partial matches, amount mismatches and ambiguous duplicates.
// Exceptions carry an analyst-facing priority (P1 highest) assigned by the
// tenant's policy and are worked to a terminal RESOLVED or EXPECTED state.
package exception

import (
	"errors"
	"time"
)

// Errors
var (
	ErrExceptionNotFound = errors.New("exception: not found")
	ErrTerminal          = errors.New("exception: already in a terminal state")
	ErrResolverRequired  = errors.New("exception: resolver identity and notes required")
)

// Type classifies why the exception was opened.
type Type string

const (
	TypeUnmatched      Type = "UNMATCHED"
	TypePartialMatch   Type = "PARTIAL_MATCH"
	TypeAmountMismatch Type = "AMOUNT_MISMATCH"
	TypeDuplicate      Type = "DUPLICATE"
)

// Priority is the analyst triage priority, P1 highest.
type Priority string

const (
	PriorityP1 Priority = "P1"
	PriorityP2 Priority = "P2"
	PriorityP3 Priority = "P3"
	PriorityP4 Priority = "P4"
)

// ValidPriority reports whether p is a known priority.
func ValidPriority(p Priority) bool {
	return p == PriorityP1 || p == PriorityP2 || p == PriorityP3 || p == PriorityP4
}

// rank maps priorities to sortable severity, lower = more severe.
func (p Priority) rank() int {
	switch p {
	case PriorityP1:
		return 1
	case PriorityP2:
		return 2
	case PriorityP3:
		return 3
	default:
		return 4
	}
}

// MoreSevere returns the more severe of two priorities.
func MoreSevere(a, b Priority) Priority {
	if a.rank() <= b.rank() {
		return a
	}
	return b
}

// Status is the exception workflow state.
type Status string

const (
	StatusOpen        Status = "OPEN"
	StatusUnderReview Status = "UNDER_REVIEW"
	StatusResolved    Status = "RESOLVED"
	StatusExpected    Status = "EXPECTED"
)

// IsTerminal returns true for states that end the exception's lifecycle.
// Reopening requires a new exception.
func (s Status) IsTerminal() bool {
	return s == StatusResolved || s == StatusExpected
}

// Exception is one reconciliation exception case.
type Exception struct {
	ID            string `json:"id"`
	TenantID      string `json:"tenantId"`
	TransactionID string `json:"transactionId,omitempty"`
	SettlementID  string `json:"settlementId,omitempty"`

	Type     Type     `json:"type"`
	Priority Priority `json:"priority"`
	Status   Status   `json:"status"`
	Reason   string   `json:"reason"`

	AmountValue    int64  `json:"amountValue"`
	AmountCurrency string `json:"amountCurrency"`
	EventType      string `json:"eventType,omitempty"`

	AssignedToUserID string    `json:"assignedToUserId,omitempty"`
	ResolutionNotes  string    `json:"resolutionNotes,omitempty"`
	ResolvedByUserID string    `json:"resolvedByUserId,omitempty"`
	ResolvedAt       time.Time `json:"resolvedAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
