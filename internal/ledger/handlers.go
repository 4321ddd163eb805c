package ledger

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/settleline/recon/internal/pagination"
	"github.com/settleline/recon/internal/validation"
)

// Handler exposes read-only ledger endpoints. Entries are only ever written
// by the poster; there is no write surface over HTTP.
type Handler struct {
	store Store
}

// NewHandler creates a ledger HTTP handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes registers ledger endpoints.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/tenants/:id/ledger", h.List)
	r.GET("/tenants/:id/ledger/references/:refId", h.ListByReference)
}

// List returns the tenant's most recent ledger entries, newest first.
// GET /tenants/:id/ledger?limit=100&cursor=...
func (h *Handler) List(c *gin.Context) {
	tenantID := c.Param("id")
	if !requireTenantOwnership(c, tenantID) {
		return
	}

	limit := 100
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_limit",
				"message": "limit must be an integer between 1 and 1000",
			})
			return
		}
		limit = n
	}

	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_cursor",
			"message": "cursor is not valid",
		})
		return
	}

	// Fetch one extra row to detect whether a further page exists.
	entries, err := h.store.List(c.Request.Context(), tenantID, limit+1, cursor)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "list_failed",
			"message": "failed to list ledger entries",
		})
		return
	}

	entries, nextCursor, hasMore := pagination.ComputePage(entries, limit, func(e *Entry) (time.Time, string) {
		return e.CreatedAt, e.ID
	})
	c.JSON(http.StatusOK, gin.H{
		"entries":    entries,
		"count":      len(entries),
		"nextCursor": nextCursor,
		"hasMore":    hasMore,
	})
}

// ListByReference returns the posting set for a transaction, match or
// adjustment id.
// GET /tenants/:id/ledger/references/:refId
func (h *Handler) ListByReference(c *gin.Context) {
	tenantID := c.Param("id")
	if !requireTenantOwnership(c, tenantID) {
		return
	}
	refID := c.Param("refId")
	if !validation.IsValidID(refID) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_reference",
			"message": "reference id is not valid",
		})
		return
	}

	entries, err := h.store.ListByReference(c.Request.Context(), tenantID, refID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "list_failed",
			"message": "failed to list ledger entries",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

func requireTenantOwnership(c *gin.Context, tenantID string) bool {
	if c.GetBool("isAdmin") {
		return true
	}
	if c.GetString("tenantID") != tenantID {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": "cannot access another tenant's resources",
		})
		return false
	}
	return true
}
