package ledger

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/settleline/recon/internal/pagination"
	"github.com/settleline/recon/internal/tenant"
	"github.com/settleline/recon/internal/testutil"
	"github.com/settleline/recon/internal/transaction"
)

// Integration tests against a real database; skipped unless POSTGRES_URL is
// set. The atomic post-and-flip path and the keyset pagination both depend on
// SQL the memory store cannot stand in for.

func seedTenant(t *testing.T, ctx context.Context, store *tenant.PostgresStore) {
	t.Helper()
	err := store.Create(ctx, &tenant.Tenant{
		ID:           "ten_1",
		Name:         "Acme Gaming",
		Slug:         "acme",
		BaseCurrency: "EUR",
		Status:       tenant.StatusActive,
		Settings:     tenant.DefaultSettings(),
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}
}

func seedTransaction(t *testing.T, ctx context.Context, store *transaction.PostgresStore, id string) *transaction.NormalizedTransaction {
	t.Helper()
	txn := &transaction.NormalizedTransaction{
		TransactionID:        id,
		TenantID:             "ten_1",
		PSPConnectionID:      "psp_1",
		EventType:            transaction.EventDeposit,
		EventTimestamp:       time.Now(),
		TransactionDate:      time.Now(),
		AmountValue:          10000,
		AmountCurrency:       "EUR",
		PSPFee:               300,
		NetAmount:            9700,
		PSPTransactionID:     "ext_" + id,
		SourceIdempotencyKey: "src_" + id,
		ReconciliationStatus: transaction.ReconMatched,
	}
	if err := store.CreateTransaction(ctx, txn); err != nil {
		t.Fatal(err)
	}
	got, err := store.GetTransaction(ctx, "ten_1", id)
	if err != nil {
		t.Fatal(err)
	}
	return got
}

func TestPostgresStore_PostAndFlipAtomic(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	ctx := context.Background()

	seedTenant(t, ctx, tenant.NewPostgresStore(db))
	txns := transaction.NewPostgresStore(db)
	txn := seedTransaction(t, ctx, txns, "txn_1")

	store := NewPostgresStore(db)
	entries := []*Entry{{
		ID: "led_1", TenantID: "ten_1",
		AccountDebit: CashAccount("psp_1"), AccountCredit: AccountPlayerBalances,
		Amount: 10000, Currency: "EUR",
		EventType:        string(transaction.EventDeposit),
		RefTransactionID: "txn_1", RefMatchID: "mch_1",
		CreatedAt: time.Now(),
	}}
	flip := &StatusFlip{
		TenantID: "ten_1", TransactionID: "txn_1",
		To: transaction.ReconPosted, Version: txn.Version,
	}

	if err := store.PostEntries(ctx, entries, flip); err != nil {
		t.Fatal(err)
	}

	got, err := txns.GetTransaction(ctx, "ten_1", "txn_1")
	if err != nil {
		t.Fatal(err)
	}
	if got.ReconciliationStatus != transaction.ReconPosted {
		t.Errorf("status after posting: %s", got.ReconciliationStatus)
	}
	if got.Version != txn.Version+1 {
		t.Errorf("version after posting: %d", got.Version)
	}

	// Same reference again must be rejected.
	err = store.PostEntries(ctx, entries, nil)
	if !errors.Is(err, ErrAlreadyPosted) {
		t.Errorf("expected ErrAlreadyPosted, got %v", err)
	}

	set, err := store.ListByReference(ctx, "ten_1", "txn_1")
	if err != nil {
		t.Fatal(err)
	}
	if len(set) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(set))
	}
}

func TestPostgresStore_StaleVersionRollsBack(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	ctx := context.Background()

	seedTenant(t, ctx, tenant.NewPostgresStore(db))
	txns := transaction.NewPostgresStore(db)
	txn := seedTransaction(t, ctx, txns, "txn_1")

	store := NewPostgresStore(db)
	entries := []*Entry{{
		ID: "led_1", TenantID: "ten_1",
		AccountDebit: CashAccount("psp_1"), AccountCredit: AccountPlayerBalances,
		Amount: 10000, Currency: "EUR",
		RefTransactionID: "txn_1",
		CreatedAt:        time.Now(),
	}}

	err := store.PostEntries(ctx, entries, &StatusFlip{
		TenantID: "ten_1", TransactionID: "txn_1",
		To: transaction.ReconPosted, Version: txn.Version + 7,
	})
	if !errors.Is(err, transaction.ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}

	// The entry insert must have rolled back with the flip.
	set, err := store.ListByReference(ctx, "ten_1", "txn_1")
	if err != nil {
		t.Fatal(err)
	}
	if len(set) != 0 {
		t.Errorf("expected no entries after rollback, got %d", len(set))
	}
}

func TestPostgresStore_ListPaginates(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	ctx := context.Background()

	seedTenant(t, ctx, tenant.NewPostgresStore(db))
	store := NewPostgresStore(db)

	base := time.Now().Add(-time.Hour).Truncate(time.Microsecond)
	for i := 0; i < 5; i++ {
		err := store.PostEntries(ctx, []*Entry{{
			ID: fmt.Sprintf("led_%d", i), TenantID: "ten_1",
			AccountDebit: CashAccount("psp_1"), AccountCredit: AccountPlayerBalances,
			Amount: 100, Currency: "EUR",
			RefTransactionID: fmt.Sprintf("txn_%d", i),
			CreatedAt:        base.Add(time.Duration(i) * time.Minute),
		}}, nil)
		if err != nil {
			t.Fatal(err)
		}
	}

	first, err := store.List(ctx, "ten_1", 3, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 3 {
		t.Fatalf("first page: expected 3 entries, got %d", len(first))
	}
	if first[0].ID != "led_4" {
		t.Errorf("expected newest first, got %s", first[0].ID)
	}

	last := first[len(first)-1]
	second, err := store.List(ctx, "ten_1", 3, &pagination.Cursor{
		CreatedAt: last.CreatedAt, ID: last.ID,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(second) != 2 {
		t.Fatalf("second page: expected 2 entries, got %d", len(second))
	}
	if second[0].ID != "led_1" || second[1].ID != "led_0" {
		t.Errorf("second page out of order: %s, %s", second[0].ID, second[1].ID)
	}
}
