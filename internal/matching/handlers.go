package matching

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/settleline/recon/internal/tenant"
	"github.com/settleline/recon/internal/validation"
)

// Handler provides HTTP endpoints for match inspection and reprocessing.
type Handler struct {
	store       Store
	reprocessor *Reprocessor
	tenants     tenant.Store
}

// NewHandler creates a new matching handler.
func NewHandler(store Store, reprocessor *Reprocessor, tenants tenant.Store) *Handler {
	return &Handler{store: store, reprocessor: reprocessor, tenants: tenants}
}

// RegisterRoutes sets up matching routes under the tenant-protected group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/tenants/:id/matches/:matchId", h.Get)
	r.GET("/tenants/:id/transactions/:txnId/matches", h.ListByTransaction)
	r.POST("/tenants/:id/reprocess", h.Reprocess)
}

// Get handles GET /v1/tenants/:id/matches/:matchId
func (h *Handler) Get(c *gin.Context) {
	tenantID := c.Param("id")
	if !requireTenantOwnership(c, tenantID) {
		return
	}

	m, err := h.store.Get(c.Request.Context(), tenantID, c.Param("matchId"))
	if err != nil {
		if err == ErrMatchNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "match not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"match": m})
}

// ListByTransaction handles GET /v1/tenants/:id/transactions/:txnId/matches
func (h *Handler) ListByTransaction(c *gin.Context) {
	tenantID := c.Param("id")
	if !requireTenantOwnership(c, tenantID) {
		return
	}

	list, err := h.store.ListByTransaction(c.Request.Context(), tenantID, c.Param("txnId"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	if list == nil {
		list = []*Match{}
	}
	c.JSON(http.StatusOK, gin.H{"matches": list, "count": len(list)})
}

// Reprocess handles POST /v1/tenants/:id/reprocess
func (h *Handler) Reprocess(c *gin.Context) {
	tenantID := c.Param("id")
	if !requireTenantOwnership(c, tenantID) {
		return
	}

	var req struct {
		DateFrom        string `json:"dateFrom" binding:"required"` // YYYY-MM-DD
		DateTo          string `json:"dateTo" binding:"required"`
		PSPConnectionID string `json:"pspConnectionId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "dateFrom and dateTo required"})
		return
	}

	from, err1 := time.Parse("2006-01-02", req.DateFrom)
	to, err2 := time.Parse("2006-01-02", req.DateTo)
	if err1 != nil || err2 != nil || to.Before(from) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "dates must be YYYY-MM-DD with dateFrom <= dateTo"})
		return
	}
	if req.PSPConnectionID != "" && !validation.IsValidID(req.PSPConnectionID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "invalid pspConnectionId"})
		return
	}

	t, err := h.tenants.Get(c.Request.Context(), tenantID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "tenant not found"})
		return
	}

	stats, err := h.reprocessor.Run(c.Request.Context(), tenantID, from, to, req.PSPConnectionID, t.Settings.Normalize())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "reprocess run failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"stats": stats})
}

// requireTenantOwnership checks if the caller owns the given tenant.
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
