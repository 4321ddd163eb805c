// Package fx provides foreign-exchange rate lookup and cross-currency amount
// normalization for matching. Rates are supplied externally (rate sourcing is
// out of scope); this package only stores and applies them.
package fx

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrRateNotFound = errors.New("fx: rate not found")
	ErrInvalidRate  = errors.New("fx: rate must be positive")
)

// Rate is one stored conversion rate for a currency pair on a date.
type Rate struct {
	TenantID      string          `json:"tenantId"`
	BaseCurrency  string          `json:"baseCurrency"`
	QuoteCurrency string          `json:"quoteCurrency"`
	RateDate      time.Time       `json:"rateDate"` // date precision, UTC midnight
	Rate          decimal.Decimal `json:"rate"`     // 1 base = Rate quote
	Source        string          `json:"source,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// Store persists FX rates.
type Store interface {
	// PutRate upserts a rate for (tenant, base, quote, date).
	PutRate(ctx context.Context, r *Rate) error
	// GetRate returns the rate for the pair on the given date.
	// Returns ErrRateNotFound when no rate is stored.
	GetRate(ctx context.Context, tenantID, base, quote string, date time.Time) (*Rate, error)
}

// Converter converts minor-unit amounts between currencies using stored
// rates. When a direct rate is missing it falls back to the inverse pair.
type Converter struct {
	store Store
}

// NewConverter creates a converter over a rate store.
func NewConverter(store Store) *Converter {
	return &Converter{store: store}
}

// Convert converts an integer minor-unit amount from one currency to another
// using the rate stored for the given date. Same-currency conversion is the
// identity. Rounding is banker's rounding to whole minor units.
func (c *Converter) Convert(ctx context.Context, tenantID string, amount int64, from, to string, date time.Time) (int64, error) {
	from, to = strings.ToUpper(from), strings.ToUpper(to)
	if from == to {
		return amount, nil
	}

	rate, err := c.rateFor(ctx, tenantID, from, to, date)
	if err != nil {
		return 0, err
	}

	converted := decimal.NewFromInt(amount).Mul(rate)
	return converted.RoundBank(0).IntPart(), nil
}

func (c *Converter) rateFor(ctx context.Context, tenantID, from, to string, date time.Time) (decimal.Decimal, error) {
	r, err := c.store.GetRate(ctx, tenantID, from, to, date)
	if err == nil {
		return r.Rate, nil
	}
	if !errors.Is(err, ErrRateNotFound) {
		return decimal.Zero, err
	}

	// Inverse pair fallback.
	inv, err := c.store.GetRate(ctx, tenantID, to, from, date)
	if err != nil {
		return decimal.Zero, err
	}
	if inv.Rate.IsZero() {
		return decimal.Zero, ErrInvalidRate
	}
	return decimal.NewFromInt(1).DivRound(inv.Rate, 12), nil
}

// day truncates to UTC midnight; rates are stored at date precision.
func day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
