package worker

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/settleline/recon/internal/alerts"
	"github.com/settleline/recon/internal/exception"
	"github.com/settleline/recon/internal/fx"
	"github.com/settleline/recon/internal/idempotency"
	"github.com/settleline/recon/internal/ledger"
	"github.com/settleline/recon/internal/matching"
	"github.com/settleline/recon/internal/rules"
	"github.com/settleline/recon/internal/tenant"
	"github.com/settleline/recon/internal/transaction"
)

var txnDate = time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)

type fixture struct {
	txns     *transaction.MemoryStore
	matches  *matching.MemoryStore
	entries  *ledger.MemoryStore
	excStore *exception.MemoryStore
	pipeline *Pipeline
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	txns := transaction.NewMemoryStore()
	matches := matching.NewMemoryStore()
	entries := ledger.NewMemoryStore(txns)
	excStore := exception.NewMemoryStore()
	ruleEngine := rules.NewEngine(rules.NewMemoryStore())
	excs := exception.NewManager(excStore, ruleEngine, alerts.NopRouter{})
	converter := fx.NewConverter(fx.NewMemoryStore())
	engine := matching.NewEngine(txns, matches, converter, excs, ruleEngine, alerts.NopRouter{})
	reprocessor := matching.NewReprocessor(engine, txns, 0)
	poster := ledger.NewPoster(entries)

	tenants := tenant.NewMemoryStore()
	if err := tenants.Create(context.Background(), &tenant.Tenant{
		ID:           "ten_1",
		Name:         "Acme Gaming",
		Slug:         "acme",
		BaseCurrency: "USD",
		Status:       tenant.StatusActive,
		Settings:     tenant.DefaultSettings(),
	}); err != nil {
		t.Fatal(err)
	}

	return &fixture{
		txns:     txns,
		matches:  matches,
		entries:  entries,
		excStore: excStore,
		pipeline: NewPipeline(idempotency.NewMemoryGuard(), txns, tenants, engine, reprocessor, poster),
	}
}

func mkTransaction(id, key string, amount int64) *transaction.NormalizedTransaction {
	return &transaction.NormalizedTransaction{
		TransactionID:        id,
		TenantID:             "ten_1",
		PSPConnectionID:      "psp_1",
		EventType:            transaction.EventDeposit,
		EventTimestamp:       txnDate,
		TransactionDate:      txnDate,
		AmountValue:          amount,
		AmountCurrency:       "USD",
		NetAmount:            amount,
		PSPTransactionID:     "ext_" + id,
		SourceIdempotencyKey: key,
	}
}

func mkSettlement(id, key string, amount int64, refs ...string) *transaction.PspSettlement {
	return &transaction.PspSettlement{
		SettlementID:         id,
		TenantID:             "ten_1",
		PSPConnectionID:      "psp_1",
		SettlementDate:       txnDate,
		BatchID:              "batch_" + id,
		LineNumber:           1,
		AmountValue:          amount,
		AmountCurrency:       "USD",
		NetAmount:            amount,
		PSPTransactionIDs:    refs,
		SourceIdempotencyKey: key,
	}
}

func TestProcessTransaction_MatchesAndPosts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.pipeline.ProcessSettlement(ctx, mkSettlement("stl_1", "key_s1", 10000, "ext_txn_1")); err != nil {
		t.Fatal(err)
	}
	if err := f.pipeline.ProcessTransaction(ctx, mkTransaction("txn_1", "key_t1", 10000)); err != nil {
		t.Fatal(err)
	}

	got, err := f.txns.GetTransaction(ctx, "ten_1", "txn_1")
	if err != nil {
		t.Fatal(err)
	}
	if got.ReconciliationStatus != transaction.ReconPosted {
		t.Errorf("status after pipeline: %s", got.ReconciliationStatus)
	}

	m, err := f.matches.GetActiveByTransaction(ctx, "ten_1", "txn_1")
	if err != nil {
		t.Fatal(err)
	}
	if m.MatchLevel != 1 || m.ConfidenceScore != 100 {
		t.Errorf("match: level=%d confidence=%d", m.MatchLevel, m.ConfidenceScore)
	}

	entries, _ := f.entries.ListByReference(ctx, "ten_1", "txn_1")
	if len(entries) == 0 {
		t.Error("full match should produce a posting set")
	}
}

func TestProcessTransaction_RedeliveryIsNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.pipeline.ProcessSettlement(ctx, mkSettlement("stl_1", "key_s1", 10000, "ext_txn_1")); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if err := f.pipeline.ProcessTransaction(ctx, mkTransaction("txn_1", "key_t1", 10000)); err != nil {
			t.Fatalf("delivery %d: %v", i+1, err)
		}
	}

	list, _ := f.matches.ListByTransaction(ctx, "ten_1", "txn_1")
	if len(list) != 1 {
		t.Errorf("match rows after redelivery: %d", len(list))
	}
	entries, _ := f.entries.ListByReference(ctx, "ten_1", "txn_1")
	if len(entries) != 1 {
		t.Errorf("posting sets after redelivery: %d entries", len(entries))
	}
}

func TestProcessTransaction_ConcurrentRedelivery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.pipeline.ProcessSettlement(ctx, mkSettlement("stl_1", "key_s1", 10000, "ext_txn_1")); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = f.pipeline.ProcessTransaction(ctx, mkTransaction("txn_1", "key_t1", 10000))
		}()
	}
	wg.Wait()

	list, _ := f.matches.ListByTransaction(ctx, "ten_1", "txn_1")
	if len(list) != 1 {
		t.Errorf("match rows after concurrent redelivery: %d", len(list))
	}
	entries, _ := f.entries.List(ctx, "ten_1", 0, nil)
	if len(entries) != 1 {
		t.Errorf("ledger rows after concurrent redelivery: %d", len(entries))
	}
}

func TestProcessSettlement_ReprocessesWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Transaction arrives first and finds nothing.
	if err := f.pipeline.ProcessTransaction(ctx, mkTransaction("txn_1", "key_t1", 10000)); err != nil {
		t.Fatal(err)
	}
	got, _ := f.txns.GetTransaction(ctx, "ten_1", "txn_1")
	if got.ReconciliationStatus != transaction.ReconUnmatched {
		t.Fatalf("status before settlement: %s", got.ReconciliationStatus)
	}

	// The late settlement line re-evaluates the window.
	if err := f.pipeline.ProcessSettlement(ctx, mkSettlement("stl_1", "key_s1", 10000, "ext_txn_1")); err != nil {
		t.Fatal(err)
	}
	got, _ = f.txns.GetTransaction(ctx, "ten_1", "txn_1")
	if got.ReconciliationStatus != transaction.ReconMatched {
		t.Errorf("status after settlement: %s", got.ReconciliationStatus)
	}
}

func TestConsumerHandle(t *testing.T) {
	f := newFixture(t)
	c := &Consumer{pipeline: f.pipeline}
	ctx := context.Background()

	raw, _ := json.Marshal(feedMessage{Type: "transaction", Transaction: mkTransaction("txn_1", "key_t1", 10000)})
	if err := c.handle(ctx, raw); err != nil {
		t.Fatal(err)
	}
	if _, err := f.txns.GetTransaction(ctx, "ten_1", "txn_1"); err != nil {
		t.Errorf("transaction not ingested: %v", err)
	}

	raw, _ = json.Marshal(feedMessage{Type: "settlement", Settlement: mkSettlement("stl_1", "key_s1", 10000, "ext_txn_1")})
	if err := c.handle(ctx, raw); err != nil {
		t.Fatal(err)
	}
	if _, err := f.txns.GetSettlement(ctx, "ten_1", "stl_1"); err != nil {
		t.Errorf("settlement not ingested: %v", err)
	}

	// Garbage and unknown types are dropped, not errors.
	if err := c.handle(ctx, []byte("{not json")); err != nil {
		t.Errorf("malformed message should be dropped: %v", err)
	}
	if err := c.handle(ctx, []byte(`{"type":"heartbeat"}`)); err != nil {
		t.Errorf("unknown type should be skipped: %v", err)
	}
	if err := c.handle(ctx, []byte(`{"type":"transaction"}`)); err != nil {
		t.Errorf("missing payload should be dropped: %v", err)
	}
}
