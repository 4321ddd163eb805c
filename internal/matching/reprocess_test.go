package matching

import (
	"context"
	"testing"
	"time"

	"github.com/settleline/recon/internal/exception"
	"github.com/settleline/recon/internal/transaction"
)

func TestLateSettlementReprocessesUnmatched(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	rp := NewReprocessor(f.engine, f.txns, 0)

	// First pass: nothing to match against.
	txn := f.addTransaction(t, "txn_1", "abc123", 10000, "USD")
	res, err := f.engine.MatchTransaction(ctx, txn, f.settings)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeUnmatched {
		t.Fatalf("first pass outcome: %s", res.Outcome)
	}

	// The settlement line lands a day later and triggers window re-evaluation.
	line := f.addSettlement(t, "stl_1", txnDate.Add(24*time.Hour), 10000, "USD", "abc123")
	stats, err := rp.OnSettlementArrival(ctx, line, f.settings)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Scanned != 1 || stats.Matched != 1 {
		t.Fatalf("stats: %+v", stats)
	}

	got, err := f.txns.GetTransaction(ctx, "ten_1", "txn_1")
	if err != nil {
		t.Fatal(err)
	}
	if got.ReconciliationStatus != transaction.ReconMatched {
		t.Errorf("status after reprocess: %s", got.ReconciliationStatus)
	}
	m, err := f.matches.GetActiveByTransaction(ctx, "ten_1", "txn_1")
	if err != nil {
		t.Fatal(err)
	}
	if m.MatchLevel != 1 {
		t.Errorf("level after reprocess: %d", m.MatchLevel)
	}
}

func TestReprocessRunIsIdempotent(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	rp := NewReprocessor(f.engine, f.txns, 0)

	f.addTransaction(t, "txn_1", "abc123", 10000, "USD")
	f.addSettlement(t, "stl_1", txnDate, 10000, "USD", "abc123")

	from, to := txnDate.Add(-24*time.Hour), txnDate.Add(24*time.Hour)
	stats, err := rp.Run(ctx, "ten_1", from, to, "", f.settings)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Matched != 1 {
		t.Fatalf("first run stats: %+v", stats)
	}

	// Second run scans nothing new: the transaction is MATCHED and no
	// longer reprocessable.
	stats, err = rp.Run(ctx, "ten_1", from, to, "", f.settings)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Scanned != 0 {
		t.Errorf("second run should scan nothing, got %+v", stats)
	}

	list, _ := f.matches.ListByTransaction(ctx, "ten_1", "txn_1")
	if len(list) != 1 {
		t.Errorf("match rows: %d", len(list))
	}
}

func TestReprocessCountsUnmatched(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	rp := NewReprocessor(f.engine, f.txns, 0)

	f.addTransaction(t, "txn_1", "aaa", 10000, "USD")
	f.addTransaction(t, "txn_2", "bbb", 20000, "USD")
	f.addSettlement(t, "stl_1", txnDate, 10000, "USD", "aaa")

	stats, err := rp.Run(ctx, "ten_1", txnDate.Add(-24*time.Hour), txnDate.Add(24*time.Hour), "", f.settings)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Scanned != 2 || stats.Matched != 1 || stats.Unmatched != 1 {
		t.Fatalf("stats: %+v", stats)
	}

	// The unmatched transaction opened an exception.
	exc, err := f.excStore.GetOpenByTransaction(ctx, "ten_1", "txn_2")
	if err != nil {
		t.Fatal(err)
	}
	if exc.Type != exception.TypeUnmatched {
		t.Errorf("exception type: %s", exc.Type)
	}
}
