// Package alerts emits structured alert events for operator consumption.
//
// The engine only produces events; delivery channels (pager, email, chat)
// belong to an external router. In-process consumers get the events over the
// WebSocket feed hub, and tests use the memory router.
package alerts

import (
	"context"
	"sync"
	"time"
)

// Kind classifies a feed event.
type Kind string

const (
	KindExceptionOpened   Kind = "exception_opened"
	KindExceptionResolved Kind = "exception_resolved"
	KindExceptionStale    Kind = "exception_stale"
	KindMatchCreated      Kind = "match_created"
	KindRuleAlert         Kind = "rule_alert"
	KindAdjustmentPending Kind = "adjustment_pending"
)

// Kinds lists every event kind, for validating subscription filters.
func Kinds() []Kind {
	return []Kind{
		KindExceptionOpened, KindExceptionResolved, KindExceptionStale,
		KindMatchCreated, KindRuleAlert, KindAdjustmentPending,
	}
}

// ValidKind reports whether k is a known event kind.
func ValidKind(k Kind) bool {
	for _, known := range Kinds() {
		if k == known {
			return true
		}
	}
	return false
}

// Event is one structured alert event.
type Event struct {
	Kind        Kind      `json:"kind"`
	TenantID    string    `json:"tenantId"`
	Priority    string    `json:"priority,omitempty"` // P1..P4 where applicable
	ExceptionID string    `json:"exceptionId,omitempty"`
	MatchID     string    `json:"matchId,omitempty"`
	ChannelHint string    `json:"channelHint,omitempty"` // e.g. "pagerduty", "email"
	Message     string    `json:"message,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Router receives alert events. Send must not block the caller; delivery is
// best-effort and failures stay inside the router.
type Router interface {
	Send(ctx context.Context, e Event)
}

// NopRouter discards all events.
type NopRouter struct{}

func (NopRouter) Send(context.Context, Event) {}

// MemoryRouter records events in memory. Test double.
type MemoryRouter struct {
	mu     sync.Mutex
	events []Event
}

// NewMemoryRouter creates an in-memory event sink.
func NewMemoryRouter() *MemoryRouter {
	return &MemoryRouter{}
}

func (m *MemoryRouter) Send(_ context.Context, e Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
}

// Events returns a copy of everything sent so far.
func (m *MemoryRouter) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// MultiRouter fans every event out to all child routers.
type MultiRouter []Router

// NewMultiRouter combines routers into one. Nil children are dropped.
func NewMultiRouter(routers ...Router) MultiRouter {
	out := make(MultiRouter, 0, len(routers))
	for _, r := range routers {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

func (m MultiRouter) Send(ctx context.Context, e Event) {
	for _, r := range m {
		r.Send(ctx, e)
	}
}

var (
	_ Router = NopRouter{}
	_ Router = (*MemoryRouter)(nil)
	_ Router = MultiRouter(nil)
)
