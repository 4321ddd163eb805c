package alerts

import (
	"context"
	"log/slog"
	"testing"
	"time"
)

func testHub() *Hub {
	return NewHub(slog.Default())
}

// ---------------------------------------------------------------------------
// wants tests
// ---------------------------------------------------------------------------

func TestWants_AllEvents(t *testing.T) {
	client := &Client{sub: Subscription{AllEvents: true}}

	e := &Event{Kind: KindExceptionOpened, TenantID: "ten_1", Timestamp: time.Now()}
	if !client.wants(e) {
		t.Error("AllEvents client should receive all events")
	}
}

func TestWants_TenantScoping(t *testing.T) {
	client := &Client{tenantID: "ten_1", sub: Subscription{AllEvents: true}}

	own := &Event{Kind: KindExceptionOpened, TenantID: "ten_1"}
	foreign := &Event{Kind: KindExceptionOpened, TenantID: "ten_2"}

	if !client.wants(own) {
		t.Error("Should receive own tenant's events")
	}
	if client.wants(foreign) {
		t.Error("Should NOT receive another tenant's events, even with AllEvents")
	}
}

func TestWants_KindFilter(t *testing.T) {
	client := &Client{sub: Subscription{
		Kinds: []Kind{KindExceptionOpened, KindRuleAlert},
	}}

	if !client.wants(&Event{Kind: KindExceptionOpened}) {
		t.Error("Should receive exception_opened events")
	}
	if !client.wants(&Event{Kind: KindRuleAlert}) {
		t.Error("Should receive rule_alert events")
	}
	if client.wants(&Event{Kind: KindMatchCreated}) {
		t.Error("Should NOT receive match_created events")
	}
}

func TestWants_PriorityFilter(t *testing.T) {
	client := &Client{sub: Subscription{
		Priorities: []string{"P1", "P2"},
	}}

	if !client.wants(&Event{Kind: KindExceptionOpened, Priority: "P1"}) {
		t.Error("Should receive P1 events")
	}
	if client.wants(&Event{Kind: KindExceptionOpened, Priority: "P3"}) {
		t.Error("Should NOT receive P3 events")
	}
}

func TestWants_EmptySubscription(t *testing.T) {
	// No filters, not AllEvents: everything passes.
	client := &Client{sub: Subscription{}}

	if !client.wants(&Event{Kind: KindMatchCreated}) {
		t.Error("Empty subscription (no filters) should receive events")
	}
}

// ---------------------------------------------------------------------------
// Hub lifecycle tests
// ---------------------------------------------------------------------------

func TestHub_Stats_Initial(t *testing.T) {
	h := testHub()

	stats := h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients, got %v", stats["connectedClients"])
	}
	if stats["totalEvents"].(int64) != 0 {
		t.Errorf("Expected 0 total events, got %v", stats["totalEvents"])
	}
}

func TestHub_SendAndStats(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	h.Send(context.Background(), Event{Kind: KindExceptionOpened, TenantID: "ten_1"})
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["totalEvents"].(int64) != 1 {
		t.Errorf("Expected 1 total event, got %v", stats["totalEvents"])
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{AllEvents: true},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["connectedClients"].(int) != 1 {
		t.Errorf("Expected 1 connected client, got %v", stats["connectedClients"])
	}
	if stats["peakClients"].(int64) != 1 {
		t.Errorf("Expected peak 1, got %v", stats["peakClients"])
	}

	h.unregister <- client
	time.Sleep(50 * time.Millisecond)

	stats = h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients after unregister, got %v", stats["connectedClients"])
	}
	// Peak should still be 1
	if stats["peakClients"].(int64) != 1 {
		t.Errorf("Expected peak still 1, got %v", stats["peakClients"])
	}
}

func TestHub_SendToClient(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:      h,
		send:     make(chan []byte, 256),
		tenantID: "ten_1",
		sub:      Subscription{AllEvents: true},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	h.Send(context.Background(), Event{
		Kind:        KindRuleAlert,
		TenantID:    "ten_1",
		Priority:    "P1",
		ExceptionID: "exc_1",
	})

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("Expected non-empty message")
		}
	case <-time.After(time.Second):
		t.Error("Timeout waiting for event")
	}
}

func TestHub_FilteredSend(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	// Client only wants rule alerts.
	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{Kinds: []Kind{KindRuleAlert}},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	h.Send(context.Background(), Event{Kind: KindMatchCreated, TenantID: "ten_1"})
	time.Sleep(100 * time.Millisecond)

	select {
	case <-client.send:
		t.Error("Client should NOT receive match_created event")
	default:
		// Filtered out
	}

	h.Send(context.Background(), Event{Kind: KindRuleAlert, TenantID: "ten_1"})

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("Expected non-empty message")
		}
	case <-time.After(time.Second):
		t.Error("Client should receive rule_alert event")
	}
}

func TestHub_ContextCancellation(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
		// Hub stopped
	case <-time.After(2 * time.Second):
		t.Error("Hub did not stop after context cancellation")
	}
}

func TestMemoryRouter(t *testing.T) {
	r := NewMemoryRouter()
	r.Send(context.Background(), Event{Kind: KindExceptionOpened, TenantID: "ten_1"})
	r.Send(context.Background(), Event{Kind: KindRuleAlert, TenantID: "ten_1"})

	events := r.Events()
	if len(events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(events))
	}
	if events[0].Kind != KindExceptionOpened || events[1].Kind != KindRuleAlert {
		t.Errorf("Events out of order: %+v", events)
	}
}
