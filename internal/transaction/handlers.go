package transaction

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler exposes read endpoints over normalized transactions and settlement
// lines. Writes go through the worker pipeline, not HTTP mutation of rows.
type Handler struct {
	store Store
}

// NewHandler creates a transaction HTTP handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes registers transaction read routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/tenants/:id/transactions/:txnId", h.GetTransaction)
	r.GET("/tenants/:id/settlements/:stlId", h.GetSettlement)
}

// GetTransaction handles GET /v1/tenants/:id/transactions/:txnId
func (h *Handler) GetTransaction(c *gin.Context) {
	tenantID := c.Param("id")
	if !requireTenantOwnership(c, tenantID) {
		return
	}

	txn, err := h.store.GetTransaction(c.Request.Context(), tenantID, c.Param("txnId"))
	if err != nil {
		if errors.Is(err, ErrTransactionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "transaction not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": txn})
}

// GetSettlement handles GET /v1/tenants/:id/settlements/:stlId
func (h *Handler) GetSettlement(c *gin.Context) {
	tenantID := c.Param("id")
	if !requireTenantOwnership(c, tenantID) {
		return
	}

	line, err := h.store.GetSettlement(c.Request.Context(), tenantID, c.Param("stlId"))
	if err != nil {
		if errors.Is(err, ErrSettlementNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "settlement not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"settlement": line})
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
