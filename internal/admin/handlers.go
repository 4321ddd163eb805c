package admin

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler provides admin HTTP endpoints. Every dependency is optional; an
// endpoint whose collaborator was never wired answers 503.
type Handler struct {
	tenants TenantDirectory
	feed    FeedStats
	sweeper Sweeper
}

// NewHandler creates a new admin handler.
func NewHandler() *Handler {
	return &Handler{}
}

// WithTenantDirectory sets the tenant directory for the listing endpoint.
func (h *Handler) WithTenantDirectory(d TenantDirectory) *Handler {
	h.tenants = d
	return h
}

// WithFeedStats sets the alert feed stats source.
func (h *Handler) WithFeedStats(f FeedStats) *Handler {
	h.feed = f
	return h
}

// WithSweeper sets the on-demand staleness sweeper.
func (h *Handler) WithSweeper(s Sweeper) *Handler {
	h.sweeper = s
	return h
}

// RegisterRoutes sets up admin routes. The caller is responsible for putting
// these behind an admin gate.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/admin/tenants", h.listTenants)
	r.GET("/admin/alerts/stats", h.alertStats)
	r.POST("/admin/exceptions/sweep", h.triggerSweep)
}

// listTenants returns every tenant on the platform.
func (h *Handler) listTenants(c *gin.Context) {
	if h.tenants == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "tenant directory not configured"})
		return
	}

	list, err := h.tenants.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list tenants", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"tenants": list, "count": len(list)})
}

// alertStats returns live alert feed counters.
func (h *Handler) alertStats(c *gin.Context) {
	if h.feed == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "alert feed not configured"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"stats": h.feed.Stats()})
}

// triggerSweep runs one stale-exception sweep immediately instead of waiting
// for the next poll tick.
func (h *Handler) triggerSweep(c *gin.Context) {
	if h.sweeper == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "sweeper not configured"})
		return
	}

	if err := h.sweeper.SweepNow(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sweep failed", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"swept": true})
}
