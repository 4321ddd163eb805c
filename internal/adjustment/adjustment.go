// Package adjustment implements analyst-initiated corrections and the
// four-eyes approval workflow that gates them.
package adjustment

import (
	"errors"
	"time"
)

// Errors
var (
	ErrAdjustmentNotFound = errors.New("adjustment: not found")
	ErrNotPending         = errors.New("adjustment: not in PENDING status")
	ErrSelfApproval       = errors.New("adjustment: approver must differ from creator")
	ErrReasonRequired     = errors.New("adjustment: rejection reason is required")
	ErrInvalidAdjustment  = errors.New("adjustment: invalid adjustment")
)

// Type is the kind of correction an adjustment performs.
type Type string

const (
	TypeManualMatch      Type = "MANUAL_MATCH"
	TypeAmountCorrection Type = "AMOUNT_CORRECTION"
	TypeVoid             Type = "VOID"
)

// ValidType reports whether t is a known adjustment type.
func ValidType(t Type) bool {
	switch t {
	case TypeManualMatch, TypeAmountCorrection, TypeVoid:
		return true
	}
	return false
}

// ApprovalStatus is the adjustment's position in the approval state machine.
// PENDING moves to APPROVED or REJECTED; both are terminal.
type ApprovalStatus string

const (
	StatusPending  ApprovalStatus = "PENDING"
	StatusApproved ApprovalStatus = "APPROVED"
	StatusRejected ApprovalStatus = "REJECTED"
)

// Adjustment is one analyst-initiated correction.
type Adjustment struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`

	TransactionID string `json:"transactionId"`
	// SettlementID is set for MANUAL_MATCH adjustments only.
	SettlementID string `json:"settlementId,omitempty"`
	// ExceptionID links the exception this adjustment resolves, if any.
	ExceptionID string `json:"exceptionId,omitempty"`

	Type        Type   `json:"type"`
	AmountValue int64  `json:"amountValue,omitempty"` // signed minor units, AMOUNT_CORRECTION only
	Currency    string `json:"currency,omitempty"`
	Reason      string `json:"reason"`

	ApprovalStatus   ApprovalStatus `json:"approvalStatus"`
	ApprovalRequired bool           `json:"approvalRequired"`
	CreatedByUserID  string         `json:"createdByUserId"`
	ApprovedByUserID string         `json:"approvedByUserId,omitempty"`
	RejectionReason  string         `json:"rejectionReason,omitempty"`

	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	DecidedAt *time.Time `json:"decidedAt,omitempty"`
}
