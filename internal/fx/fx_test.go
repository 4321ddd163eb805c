package fx

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func day_(s string) time.Time {
	t, _ := time.Parse("2006-01-02", s)
	return t
}

func TestConvert_SameCurrency(t *testing.T) {
	conv := NewConverter(NewMemoryStore())

	got, err := conv.Convert(context.Background(), "ten_1", 12345, "USD", "USD", day_("2024-01-10"))
	if err != nil {
		t.Fatalf("convert failed: %v", err)
	}
	if got != 12345 {
		t.Errorf("same-currency conversion must be identity, got %d", got)
	}
}

func TestConvert_DirectRate(t *testing.T) {
	store := NewMemoryStore()
	conv := NewConverter(store)
	ctx := context.Background()

	rate, _ := decimal.NewFromString("0.92")
	err := store.PutRate(ctx, &Rate{
		TenantID: "ten_1", BaseCurrency: "USD", QuoteCurrency: "EUR",
		RateDate: day_("2024-01-10"), Rate: rate,
	})
	if err != nil {
		t.Fatalf("put rate: %v", err)
	}

	// 100.00 USD -> 92.00 EUR
	got, err := conv.Convert(ctx, "ten_1", 10000, "USD", "EUR", day_("2024-01-10"))
	if err != nil {
		t.Fatalf("convert failed: %v", err)
	}
	if got != 9200 {
		t.Errorf("expected 9200, got %d", got)
	}
}

func TestConvert_InverseFallback(t *testing.T) {
	store := NewMemoryStore()
	conv := NewConverter(store)
	ctx := context.Background()

	rate, _ := decimal.NewFromString("0.80")
	_ = store.PutRate(ctx, &Rate{
		TenantID: "ten_1", BaseCurrency: "GBP", QuoteCurrency: "USD",
		RateDate: day_("2024-01-10"), Rate: rate,
	})

	// No USD->GBP rate stored; inverse of GBP->USD 0.80 is 1.25.
	got, err := conv.Convert(ctx, "ten_1", 8000, "USD", "GBP", day_("2024-01-10"))
	if err != nil {
		t.Fatalf("convert failed: %v", err)
	}
	if got != 10000 {
		t.Errorf("expected 10000 via inverse rate, got %d", got)
	}
}

func TestConvert_MissingRate(t *testing.T) {
	conv := NewConverter(NewMemoryStore())

	_, err := conv.Convert(context.Background(), "ten_1", 100, "USD", "JPY", day_("2024-01-10"))
	if err != ErrRateNotFound {
		t.Errorf("expected ErrRateNotFound, got %v", err)
	}
}

func TestConvert_RoundsToMinorUnits(t *testing.T) {
	store := NewMemoryStore()
	conv := NewConverter(store)
	ctx := context.Background()

	rate, _ := decimal.NewFromString("0.333333")
	_ = store.PutRate(ctx, &Rate{
		TenantID: "ten_1", BaseCurrency: "USD", QuoteCurrency: "EUR",
		RateDate: day_("2024-01-10"), Rate: rate,
	})

	got, err := conv.Convert(ctx, "ten_1", 1000, "USD", "EUR", day_("2024-01-10"))
	if err != nil {
		t.Fatalf("convert failed: %v", err)
	}
	if got != 333 {
		t.Errorf("expected 333, got %d", got)
	}
}

func TestPutRate_RejectsNonPositive(t *testing.T) {
	store := NewMemoryStore()

	err := store.PutRate(context.Background(), &Rate{
		TenantID: "ten_1", BaseCurrency: "USD", QuoteCurrency: "EUR",
		RateDate: day_("2024-01-10"), Rate: decimal.Zero,
	})
	if err != ErrInvalidRate {
		t.Errorf("expected ErrInvalidRate, got %v", err)
	}
}

func TestRates_AreTenantScoped(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	rate, _ := decimal.NewFromString("0.92")
	_ = store.PutRate(ctx, &Rate{
		TenantID: "ten_1", BaseCurrency: "USD", QuoteCurrency: "EUR",
		RateDate: day_("2024-01-10"), Rate: rate,
	})

	if _, err := store.GetRate(ctx, "ten_2", "USD", "EUR", day_("2024-01-10")); err != ErrRateNotFound {
		t.Errorf("expected ErrRateNotFound for other tenant, got %v", err)
	}
}
