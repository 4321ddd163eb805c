package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/settleline/recon/internal/config"
)

func testCfg() *config.Config {
	return &config.Config{
		Port:               "8080",
		Env:                "development",
		LogLevel:           "error",
		AmountTolerancePct: 0.001,
		DateWindowDays:     1,
		HighValueThreshold: 1_000_000,
		ApprovalThreshold:  1_000_000,
		ReprocessBatchSize: 100,
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(testCfg())
	require.NoError(t, err)
	s.ready.Store(true)
	return s
}

func doJSON(t *testing.T, s *Server, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func createTenant(t *testing.T, s *Server) string {
	t.Helper()
	w := doJSON(t, s, http.MethodPost, "/v1/tenants", map[string]any{
		"name": "Acme Gaming",
		"slug": "acme-gaming",
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decode(t, w)
	tenant := body["tenant"].(map[string]any)
	return tenant["id"].(string)
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "healthy", body["status"])

	w = doJSON(t, s, http.MethodGet, "/health/live", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, s, http.MethodGet, "/health/ready", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, s, http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "settleline_")
}

func TestCreateTenant_RequiresAdmin(t *testing.T) {
	s := newTestServer(t)
	s.cfg.AdminSecret = "s3cret" // dev auto-admin off once a secret is set

	w := doJSON(t, s, http.MethodPost, "/v1/tenants", map[string]any{
		"name": "Acme", "slug": "acme",
	}, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(t, s, http.MethodPost, "/v1/tenants", map[string]any{
		"name": "Acme", "slug": "acme",
	}, map[string]string{"X-Admin-Secret": "s3cret"})
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestTenantIsolation(t *testing.T) {
	s := newTestServer(t)
	s.cfg.AdminSecret = "s3cret"

	w := doJSON(t, s, http.MethodPost, "/v1/tenants", map[string]any{
		"name": "Acme", "slug": "acme",
	}, map[string]string{"X-Admin-Secret": "s3cret"})
	require.Equal(t, http.StatusCreated, w.Code)
	tenantID := decode(t, w)["tenant"].(map[string]any)["id"].(string)

	// A caller identified as another tenant may not read this one.
	w = doJSON(t, s, http.MethodGet, "/v1/tenants/"+tenantID, nil,
		map[string]string{"X-Tenant-ID": "ten_other"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	// The owning tenant may.
	w = doJSON(t, s, http.MethodGet, "/v1/tenants/"+tenantID, nil,
		map[string]string{"X-Tenant-ID": tenantID})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestIngestToPostedFlow(t *testing.T) {
	s := newTestServer(t)
	tenantID := createTenant(t, s)

	base := fmt.Sprintf("/v1/tenants/%s", tenantID)

	w := doJSON(t, s, http.MethodPost, base+"/settlements", map[string]any{
		"settlementId":         "stl_1",
		"pspConnectionId":      "psp_1",
		"settlementDate":       "2024-01-10T00:00:00Z",
		"batchId":              "batch_1",
		"lineNumber":           1,
		"amountValue":          10000,
		"amountCurrency":       "USD",
		"netAmount":            10000,
		"pspTransactionIds":    []string{"ext_1"},
		"sourceIdempotencyKey": "key_s1",
	}, nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	w = doJSON(t, s, http.MethodPost, base+"/transactions", map[string]any{
		"transactionId":        "txn_1",
		"pspConnectionId":      "psp_1",
		"eventType":            "DEPOSIT",
		"eventTimestamp":       "2024-01-10T09:00:00Z",
		"transactionDate":      "2024-01-10T00:00:00Z",
		"amountValue":          10000,
		"amountCurrency":       "USD",
		"netAmount":            10000,
		"pspTransactionId":     "ext_1",
		"sourceIdempotencyKey": "key_t1",
	}, nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	w = doJSON(t, s, http.MethodGet, base+"/transactions/txn_1", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	txn := decode(t, w)["transaction"].(map[string]any)
	assert.Equal(t, "POSTED", txn["reconciliationStatus"])

	// The posting set is visible on the ledger surface.
	w = doJSON(t, s, http.MethodGet, base+"/ledger/references/txn_1", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.NotEmpty(t, body["entries"])
}

func TestIngestValidation(t *testing.T) {
	s := newTestServer(t)
	tenantID := createTenant(t, s)

	w := doJSON(t, s, http.MethodPost, "/v1/tenants/"+tenantID+"/transactions", map[string]any{
		"transactionId":  "txn_1",
		"amountCurrency": "us dollars",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "validation_failed")
}

func TestUnknownRoute(t *testing.T) {
	s := newTestServer(t)
	w := doJSON(t, s, http.MethodGet, "/v1/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
