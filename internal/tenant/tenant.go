// Package tenant provides multi-tenancy for the reconciliation engine.
//
// Every domain row in the system is scoped to a tenant, and every tenant
// carries its own reconciliation settings: matching tolerances, exception
// thresholds and the approval threshold for manual adjustments. PSP
// connections (one per payment provider account) hang off the tenant.
package tenant

import (
	"errors"
	"time"
)

// Errors
var (
	ErrTenantNotFound     = errors.New("tenant: not found")
	ErrSlugTaken          = errors.New("tenant: slug already taken")
	ErrConnectionNotFound = errors.New("tenant: psp connection not found")
	ErrConnectionExists   = errors.New("tenant: psp connection already exists")
)

// Status represents a tenant's lifecycle state.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusCancelled Status = "cancelled"
)

// Settings stores per-tenant reconciliation parameters. Zero values mean
// "use the platform default" and are filled in by DefaultSettings.
type Settings struct {
	// AmountTolerancePct is the relative tolerance for amount comparison
	// in fuzzy matching, e.g. 0.001 = 0.1%.
	AmountTolerancePct float64 `json:"amountTolerancePct"`
	// DateWindowDays bounds the fuzzy-match date window.
	DateWindowDays int `json:"dateWindowDays"`
	// HighValueThreshold in minor units; unmatched transactions at or above
	// it open P1 exceptions.
	HighValueThreshold int64 `json:"highValueThreshold"`
	// ApprovalThreshold in minor units; adjustments at or above it require
	// a second approver.
	ApprovalThreshold int64 `json:"approvalThreshold"`
	// StaleAfterHours promotes exceptions still open after this many hours.
	StaleAfterHours int `json:"staleAfterHours"`
	// LowValueEventTypes lists event types whose anomalies are deprioritized
	// to P4 unless the amount or staleness says otherwise.
	LowValueEventTypes []string `json:"lowValueEventTypes,omitempty"`
}

// DefaultSettings returns the platform default reconciliation settings.
func DefaultSettings() Settings {
	return Settings{
		AmountTolerancePct: 0.001,
		DateWindowDays:     1,
		HighValueThreshold: 1_000_000,
		ApprovalThreshold:  1_000_000,
		StaleAfterHours:    72,
	}
}

// Normalize fills zero-valued fields from the platform defaults.
func (s Settings) Normalize() Settings {
	def := DefaultSettings()
	if s.AmountTolerancePct <= 0 {
		s.AmountTolerancePct = def.AmountTolerancePct
	}
	if s.DateWindowDays <= 0 {
		s.DateWindowDays = def.DateWindowDays
	}
	if s.HighValueThreshold <= 0 {
		s.HighValueThreshold = def.HighValueThreshold
	}
	if s.ApprovalThreshold <= 0 {
		s.ApprovalThreshold = def.ApprovalThreshold
	}
	if s.StaleAfterHours <= 0 {
		s.StaleAfterHours = def.StaleAfterHours
	}
	return s
}

// Tenant represents an operator organisation using the platform.
type Tenant struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Slug         string    `json:"slug"`
	BaseCurrency string    `json:"baseCurrency"`
	Status       Status    `json:"status"`
	Settings     Settings  `json:"settings"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// PSPConnection is one configured payment service provider account for a
// tenant (e.g. a Stripe account, an Adyen merchant account).
type PSPConnection struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenantId"`
	Provider  string    `json:"provider"` // e.g. "stripe", "adyen", "checkout"
	Label     string    `json:"label"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
