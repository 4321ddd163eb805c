package tenant

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// --- Test Setup ---

func setupTestHandler() (*Handler, *MemoryStore) {
	store := NewMemoryStore()
	handler := NewHandler(store)

	// Create a default tenant for testing
	_ = store.Create(context.Background(), &Tenant{
		ID:           "ten_1",
		Name:         "Test Tenant",
		Slug:         "test-tenant",
		BaseCurrency: "USD",
		Status:       StatusActive,
		Settings:     DefaultSettings(),
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	})

	return handler, store
}

// makeContext creates a gin.Context for direct handler testing.
func makeContext(t *testing.T, method, path string, body []byte, tenantParam, callerTenantID string, admin bool) (*httptest.ResponseRecorder, *gin.Context) {
	t.Helper()
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	if tenantParam != "" {
		c.Params = gin.Params{{Key: "id", Value: tenantParam}}
	}

	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	c.Request = req

	if callerTenantID != "" {
		c.Set("tenantID", callerTenantID)
	}
	if admin {
		c.Set("isAdmin", true)
	}
	return w, c
}

// --- CreateTenant ---

func TestCreateTenant_Success(t *testing.T) {
	handler, store := setupTestHandler()

	body, _ := json.Marshal(map[string]any{
		"name": "New Operator",
		"slug": "new-operator",
	})
	w, c := makeContext(t, "POST", "/v1/tenants", body, "", "", true)
	handler.CreateTenant(c)

	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		Tenant Tenant `json:"tenant"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "New Operator", resp.Tenant.Name)
	assert.Equal(t, "new-operator", resp.Tenant.Slug)
	assert.Equal(t, "USD", resp.Tenant.BaseCurrency)
	assert.Equal(t, DefaultSettings(), resp.Tenant.Settings)

	saved, err := store.GetBySlug(context.Background(), "new-operator")
	require.NoError(t, err)
	assert.Equal(t, resp.Tenant.ID, saved.ID)
}

func TestCreateTenant_InvalidSlug(t *testing.T) {
	handler, _ := setupTestHandler()

	body, _ := json.Marshal(map[string]any{"name": "X", "slug": "Bad Slug!"})
	w, c := makeContext(t, "POST", "/v1/tenants", body, "", "", true)
	handler.CreateTenant(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_slug")
}

func TestCreateTenant_InvalidCurrency(t *testing.T) {
	handler, _ := setupTestHandler()

	body, _ := json.Marshal(map[string]any{
		"name": "X", "slug": "valid-slug", "baseCurrency": "dollars",
	})
	w, c := makeContext(t, "POST", "/v1/tenants", body, "", "", true)
	handler.CreateTenant(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_currency")
}

func TestCreateTenant_SlugTaken(t *testing.T) {
	handler, _ := setupTestHandler()

	body, _ := json.Marshal(map[string]any{"name": "X", "slug": "test-tenant"})
	w, c := makeContext(t, "POST", "/v1/tenants", body, "", "", true)
	handler.CreateTenant(c)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "slug_taken")
}

func TestCreateTenant_CustomSettings(t *testing.T) {
	handler, _ := setupTestHandler()

	body, _ := json.Marshal(map[string]any{
		"name": "Tight Shop",
		"slug": "tight-shop",
		"settings": map[string]any{
			"amountTolerancePct": 0.0005,
			"approvalThreshold":  250000,
		},
	})
	w, c := makeContext(t, "POST", "/v1/tenants", body, "", "", true)
	handler.CreateTenant(c)

	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		Tenant Tenant `json:"tenant"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 0.0005, resp.Tenant.Settings.AmountTolerancePct)
	assert.Equal(t, int64(250000), resp.Tenant.Settings.ApprovalThreshold)
	// Unset fields filled from defaults
	assert.Equal(t, DefaultSettings().DateWindowDays, resp.Tenant.Settings.DateWindowDays)
}

// --- GetTenant / UpdateTenant ---

func TestGetTenant_OwnTenant(t *testing.T) {
	handler, _ := setupTestHandler()

	w, c := makeContext(t, "GET", "/v1/tenants/ten_1", nil, "ten_1", "ten_1", false)
	handler.GetTenant(c)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Test Tenant")
}

func TestGetTenant_OtherTenantForbidden(t *testing.T) {
	handler, _ := setupTestHandler()

	w, c := makeContext(t, "GET", "/v1/tenants/ten_1", nil, "ten_1", "ten_other", false)
	handler.GetTenant(c)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestGetTenant_AdminAnyTenant(t *testing.T) {
	handler, _ := setupTestHandler()

	w, c := makeContext(t, "GET", "/v1/tenants/ten_1", nil, "ten_1", "", true)
	handler.GetTenant(c)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGetTenant_NotFound(t *testing.T) {
	handler, _ := setupTestHandler()

	w, c := makeContext(t, "GET", "/v1/tenants/ten_x", nil, "ten_x", "", true)
	handler.GetTenant(c)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpdateTenant_Settings(t *testing.T) {
	handler, store := setupTestHandler()

	body, _ := json.Marshal(map[string]any{
		"settings": map[string]any{"highValueThreshold": 2_000_000},
	})
	w, c := makeContext(t, "PATCH", "/v1/tenants/ten_1", body, "ten_1", "ten_1", false)
	handler.UpdateTenant(c)

	require.Equal(t, http.StatusOK, w.Code)

	saved, err := store.Get(context.Background(), "ten_1")
	require.NoError(t, err)
	assert.Equal(t, int64(2_000_000), saved.Settings.HighValueThreshold)
}

// --- Connections ---

func TestCreateConnection_Success(t *testing.T) {
	handler, store := setupTestHandler()

	body, _ := json.Marshal(map[string]any{
		"id": "stripe_main", "provider": "stripe", "label": "Main Stripe account",
	})
	w, c := makeContext(t, "POST", "/v1/tenants/ten_1/connections", body, "ten_1", "ten_1", false)
	handler.CreateConnection(c)

	require.Equal(t, http.StatusCreated, w.Code)

	conn, err := store.GetConnection(context.Background(), "ten_1", "stripe_main")
	require.NoError(t, err)
	assert.Equal(t, "stripe", conn.Provider)
	assert.True(t, conn.Active)
}

func TestCreateConnection_Duplicate(t *testing.T) {
	handler, store := setupTestHandler()
	_ = store.CreateConnection(context.Background(), &PSPConnection{ID: "stripe_main", TenantID: "ten_1", Provider: "stripe"})

	body, _ := json.Marshal(map[string]any{"id": "stripe_main", "provider": "stripe"})
	w, c := makeContext(t, "POST", "/v1/tenants/ten_1/connections", body, "ten_1", "ten_1", false)
	handler.CreateConnection(c)

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestListConnections(t *testing.T) {
	handler, store := setupTestHandler()
	_ = store.CreateConnection(context.Background(), &PSPConnection{ID: "stripe_main", TenantID: "ten_1", Provider: "stripe"})
	_ = store.CreateConnection(context.Background(), &PSPConnection{ID: "adyen_eu", TenantID: "ten_1", Provider: "adyen"})

	w, c := makeContext(t, "GET", "/v1/tenants/ten_1/connections", nil, "ten_1", "ten_1", false)
	handler.ListConnections(c)

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Connections []PSPConnection `json:"connections"`
		Count       int             `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
}
