package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestNew_Levels(t *testing.T) {
	cases := []struct {
		level   string
		debugOn bool
		infoOn  bool
	}{
		{"debug", true, true},
		{"info", false, true},
		{"error", false, false},
		{"bogus", false, true}, // unknown falls back to info
	}
	for _, tc := range cases {
		t.Run(tc.level, func(t *testing.T) {
			logger := New(tc.level, "text")
			ctx := context.Background()
			if got := logger.Enabled(ctx, slog.LevelDebug); got != tc.debugOn {
				t.Errorf("debug enabled = %v, want %v", got, tc.debugOn)
			}
			if got := logger.Enabled(ctx, slog.LevelInfo); got != tc.infoOn {
				t.Errorf("info enabled = %v, want %v", got, tc.infoOn)
			}
		})
	}
}

func TestContextCarriers(t *testing.T) {
	ctx := context.Background()

	if RequestID(ctx) != "" || TenantID(ctx) != "" {
		t.Fatal("fresh context must carry no ids")
	}

	ctx = WithRequestID(ctx, "req_9a1")
	ctx = WithTenantID(ctx, "ten_1")
	if RequestID(ctx) != "req_9a1" {
		t.Errorf("request id: %q", RequestID(ctx))
	}
	if TenantID(ctx) != "ten_1" {
		t.Errorf("tenant id: %q", TenantID(ctx))
	}

	// Later values shadow earlier ones.
	ctx = WithRequestID(ctx, "req_9a2")
	if RequestID(ctx) != "req_9a2" {
		t.Errorf("request id after overwrite: %q", RequestID(ctx))
	}
}

func TestFromContext_FallsBackToDefault(t *testing.T) {
	if FromContext(context.Background()) == nil {
		t.Fatal("expected the default logger")
	}

	custom := New("debug", "json")
	ctx := WithLogger(context.Background(), custom)
	if FromContext(ctx) != custom {
		t.Error("expected the stored logger back")
	}
}

func TestL_TagsRequestAndTenant(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	ctx := WithLogger(context.Background(), logger)
	ctx = WithRequestID(ctx, "req_9a1")
	ctx = WithTenantID(ctx, "ten_1")

	L(ctx).Info("match created")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if line["request_id"] != "req_9a1" {
		t.Errorf("request_id = %v", line["request_id"])
	}
	if line["tenant_id"] != "ten_1" {
		t.Errorf("tenant_id = %v", line["tenant_id"])
	}
}
