package webhooks

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/settleline/recon/internal/alerts"
	"github.com/settleline/recon/internal/idgen"
	"github.com/settleline/recon/internal/security"
	"github.com/settleline/recon/internal/validation"
)

// Handler manages webhook subscriptions over HTTP.
type Handler struct {
	store Store
}

// NewHandler creates a webhook subscription handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes sets up webhook routes under the tenant-protected group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/tenants/:id/webhooks", h.Create)
	r.GET("/tenants/:id/webhooks", h.List)
	r.DELETE("/tenants/:id/webhooks/:whId", h.Delete)
}

// Create handles POST /v1/tenants/:id/webhooks
func (h *Handler) Create(c *gin.Context) {
	tenantID := c.Param("id")
	if !requireTenantOwnership(c, tenantID) {
		return
	}

	var req struct {
		URL    string        `json:"url" binding:"required"`
		Secret string        `json:"secret"`
		Kinds  []alerts.Kind `json:"kinds" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "url and kinds required"})
		return
	}

	if err := security.ValidateEndpointURL(req.URL); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_url", "message": err.Error()})
		return
	}
	for _, k := range req.Kinds {
		if !alerts.ValidKind(k) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_kind", "message": "unknown event kind: " + string(k)})
			return
		}
	}

	sub := &Subscription{
		ID:        idgen.WithPrefix("wh_"),
		TenantID:  tenantID,
		URL:       req.URL,
		Secret:    req.Secret,
		Kinds:     req.Kinds,
		Active:    true,
		CreatedAt: time.Now(),
	}
	if err := h.store.Create(c.Request.Context(), sub); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to create subscription"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"webhook": sub})
}

// List handles GET /v1/tenants/:id/webhooks
func (h *Handler) List(c *gin.Context) {
	tenantID := c.Param("id")
	if !requireTenantOwnership(c, tenantID) {
		return
	}

	subs, err := h.store.ListByTenant(c.Request.Context(), tenantID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to list subscriptions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"webhooks": subs, "count": len(subs)})
}

// Delete handles DELETE /v1/tenants/:id/webhooks/:whId
func (h *Handler) Delete(c *gin.Context) {
	tenantID := c.Param("id")
	if !requireTenantOwnership(c, tenantID) {
		return
	}
	whID := c.Param("whId")
	if !validation.IsValidID(whID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_id", "message": "webhook id contains invalid characters"})
		return
	}

	if err := h.store.Delete(c.Request.Context(), tenantID, whID); err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "subscription not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to delete subscription"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": whID})
}

func requireTenantOwnership(c *gin.Context, tenantID string) bool {
	if c.GetBool("isAdmin") {
		return true
	}
	if c.GetString("tenantID") != tenantID {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": "not your tenant"})
		return false
	}
	return true
}
