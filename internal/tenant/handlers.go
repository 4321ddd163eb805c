package tenant

import (
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/settleline/recon/internal/idgen"
	"github.com/settleline/recon/internal/validation"
)

var validSlug = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{1,62}[a-z0-9]$`)

// Handler provides HTTP endpoints for tenant management.
type Handler struct {
	store Store
}

// NewHandler creates a new tenant handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterAdminRoutes sets up the admin-only tenant creation route.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/tenants", h.CreateTenant)
}

// RegisterProtectedRoutes sets up tenant routes available to tenant owners.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.GET("/tenants/:id", h.GetTenant)
	r.PATCH("/tenants/:id", h.UpdateTenant)
	r.GET("/tenants/:id/connections", h.ListConnections)
	r.POST("/tenants/:id/connections", h.CreateConnection)
}

// ---------- Admin endpoints ----------

// CreateTenant handles POST /v1/tenants (admin only).
func (h *Handler) CreateTenant(c *gin.Context) {
	var req struct {
		Name         string    `json:"name" binding:"required"`
		Slug         string    `json:"slug" binding:"required"`
		BaseCurrency string    `json:"baseCurrency"`
		Settings     *Settings `json:"settings"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "name and slug required"})
		return
	}

	req.Slug = strings.ToLower(strings.TrimSpace(req.Slug))
	if !validSlug.MatchString(req.Slug) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_slug",
			"message": "slug must be 3-64 lowercase alphanumeric/hyphens, start/end with alphanumeric",
		})
		return
	}

	if req.BaseCurrency == "" {
		req.BaseCurrency = "USD"
	}
	if !validation.IsValidCurrency(req.BaseCurrency) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_currency", "message": "baseCurrency must be a 3-letter ISO 4217 code"})
		return
	}

	settings := DefaultSettings()
	if req.Settings != nil {
		settings = req.Settings.Normalize()
	}

	now := time.Now()
	t := &Tenant{
		ID:           idgen.WithPrefix("ten_"),
		Name:         validation.SanitizeString(req.Name, 200),
		Slug:         req.Slug,
		BaseCurrency: req.BaseCurrency,
		Status:       StatusActive,
		Settings:     settings,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := h.store.Create(c.Request.Context(), t); err != nil {
		if err == ErrSlugTaken {
			c.JSON(http.StatusConflict, gin.H{"error": "slug_taken", "message": "slug already in use"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to create tenant"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"tenant": t})
}

// GetTenant handles GET /v1/tenants/:id
func (h *Handler) GetTenant(c *gin.Context) {
	id := c.Param("id")
	if !h.requireTenantOwnership(c, id) {
		return
	}

	t, err := h.store.Get(c.Request.Context(), id)
	if err != nil {
		if err == ErrTenantNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "tenant not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"tenant": t})
}

// UpdateTenant handles PATCH /v1/tenants/:id
func (h *Handler) UpdateTenant(c *gin.Context) {
	id := c.Param("id")
	if !h.requireTenantOwnership(c, id) {
		return
	}

	t, err := h.store.Get(c.Request.Context(), id)
	if err != nil {
		if err == ErrTenantNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "tenant not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}

	var req struct {
		Name     *string   `json:"name"`
		Settings *Settings `json:"settings"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "invalid body"})
		return
	}

	if req.Name != nil {
		t.Name = validation.SanitizeString(*req.Name, 200)
	}
	if req.Settings != nil {
		t.Settings = req.Settings.Normalize()
	}
	t.UpdatedAt = time.Now()

	if err := h.store.Update(c.Request.Context(), t); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to update tenant"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"tenant": t})
}

// ---------- Tenant-scoped endpoints ----------

// ListConnections handles GET /v1/tenants/:id/connections
func (h *Handler) ListConnections(c *gin.Context) {
	tenantID := c.Param("id")
	if !h.requireTenantOwnership(c, tenantID) {
		return
	}

	conns, err := h.store.ListConnections(c.Request.Context(), tenantID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"connections": conns, "count": len(conns)})
}

// CreateConnection handles POST /v1/tenants/:id/connections
func (h *Handler) CreateConnection(c *gin.Context) {
	tenantID := c.Param("id")
	if !h.requireTenantOwnership(c, tenantID) {
		return
	}

	var req struct {
		ID       string `json:"id"` // optional stable id, generated if empty
		Provider string `json:"provider" binding:"required"`
		Label    string `json:"label"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "provider required"})
		return
	}
	if req.ID != "" && !validation.IsValidID(req.ID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_id", "message": "connection id contains invalid characters"})
		return
	}
	if req.ID == "" {
		req.ID = idgen.WithPrefix("psp_")
	}

	now := time.Now()
	conn := &PSPConnection{
		ID:        req.ID,
		TenantID:  tenantID,
		Provider:  validation.SanitizeString(req.Provider, 100),
		Label:     validation.SanitizeString(req.Label, 200),
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := h.store.CreateConnection(c.Request.Context(), conn); err != nil {
		if err == ErrConnectionExists {
			c.JSON(http.StatusConflict, gin.H{"error": "connection_exists", "message": "connection id already in use"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to create connection"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"connection": conn})
}

// ---------- helpers ----------

// requireTenantOwnership checks if the caller owns the given tenant.
// Returns false (and sends error response) if not authorized.
func (h *Handler) requireTenantOwnership(c *gin.Context, tenantID string) bool {
	if isAdmin(c) {
		return true
	}
	if c.GetString("tenantID") != tenantID {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": "not your tenant"})
		return false
	}
	return true
}

// isAdmin returns true if the request was authenticated via admin secret.
func isAdmin(c *gin.Context) bool {
	return c.GetBool("isAdmin")
}
