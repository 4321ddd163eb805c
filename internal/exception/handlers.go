package exception

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/settleline/recon/internal/validation"
)

// Handler provides HTTP endpoints for the exception workflow.
type Handler struct {
	manager *Manager
	store   Store
}

// NewHandler creates a new exception handler.
func NewHandler(manager *Manager, store Store) *Handler {
	return &Handler{manager: manager, store: store}
}

// RegisterRoutes sets up exception routes under the tenant-protected group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/tenants/:id/exceptions", h.List)
	r.GET("/tenants/:id/exceptions/:excId", h.Get)
	r.POST("/tenants/:id/exceptions/:excId/assign", h.Assign)
	r.POST("/tenants/:id/exceptions/:excId/resolve", h.Resolve)
	r.POST("/tenants/:id/exceptions/:excId/expected", h.MarkExpected)
}

// List handles GET /v1/tenants/:id/exceptions
func (h *Handler) List(c *gin.Context) {
	tenantID := c.Param("id")
	if !requireTenantOwnership(c, tenantID) {
		return
	}

	f := ListFilter{
		Status:   Status(c.Query("status")),
		Priority: Priority(c.Query("priority")),
		Type:     Type(c.Query("type")),
		Limit:    100,
	}

	list, err := h.store.List(c.Request.Context(), tenantID, f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	if list == nil {
		list = []*Exception{}
	}
	c.JSON(http.StatusOK, gin.H{"exceptions": list, "count": len(list)})
}

// Get handles GET /v1/tenants/:id/exceptions/:excId
func (h *Handler) Get(c *gin.Context) {
	tenantID := c.Param("id")
	if !requireTenantOwnership(c, tenantID) {
		return
	}

	e, err := h.store.Get(c.Request.Context(), tenantID, c.Param("excId"))
	if err != nil {
		if err == ErrExceptionNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "exception not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"exception": e})
}

// Assign handles POST /v1/tenants/:id/exceptions/:excId/assign
func (h *Handler) Assign(c *gin.Context) {
	tenantID := c.Param("id")
	if !requireTenantOwnership(c, tenantID) {
		return
	}

	var req struct {
		UserID string `json:"userId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "userId required"})
		return
	}

	e, err := h.manager.Assign(c.Request.Context(), tenantID, c.Param("excId"), validation.SanitizeString(req.UserID, 128))
	if err != nil {
		writeWorkflowError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"exception": e})
}

// Resolve handles POST /v1/tenants/:id/exceptions/:excId/resolve
func (h *Handler) Resolve(c *gin.Context) {
	tenantID := c.Param("id")
	if !requireTenantOwnership(c, tenantID) {
		return
	}

	var req struct {
		ResolverUserID string `json:"resolverUserId" binding:"required"`
		Notes          string `json:"notes" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "resolverUserId and notes required"})
		return
	}

	e, err := h.manager.Resolve(c.Request.Context(), tenantID, c.Param("excId"),
		validation.SanitizeString(req.ResolverUserID, 128), validation.SanitizeString(req.Notes, 2000))
	if err != nil {
		writeWorkflowError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"exception": e})
}

// MarkExpected handles POST /v1/tenants/:id/exceptions/:excId/expected
func (h *Handler) MarkExpected(c *gin.Context) {
	tenantID := c.Param("id")
	if !requireTenantOwnership(c, tenantID) {
		return
	}

	e, err := h.manager.MarkExpected(c.Request.Context(), tenantID, c.Param("excId"))
	if err != nil {
		writeWorkflowError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"exception": e})
}

func writeWorkflowError(c *gin.Context, err error) {
	switch err {
	case ErrExceptionNotFound:
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "exception not found"})
	case ErrTerminal:
		c.JSON(http.StatusConflict, gin.H{"error": "terminal_state", "message": "exception is already resolved or expected"})
	case ErrResolverRequired:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "resolver identity and notes required"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
	}
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
