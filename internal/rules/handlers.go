package rules

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/settleline/recon/internal/idgen"
	"github.com/settleline/recon/internal/validation"
)

// Handler provides HTTP endpoints for rule CRUD.
type Handler struct {
	store  Store
	engine *Engine
}

// NewHandler creates a new rule handler. The engine may be nil; when set its
// cache is invalidated on every write.
func NewHandler(store Store, engine *Engine) *Handler {
	return &Handler{store: store, engine: engine}
}

// RegisterRoutes sets up rule routes under the tenant-protected group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/tenants/:id/rules", h.Create)
	r.GET("/tenants/:id/rules", h.List)
	r.GET("/tenants/:id/rules/:ruleId", h.Get)
	r.PUT("/tenants/:id/rules/:ruleId", h.Update)
	r.DELETE("/tenants/:id/rules/:ruleId", h.Delete)
}

func (h *Handler) invalidate(tenantID string) {
	if h.engine != nil {
		h.engine.InvalidateCache(tenantID)
	}
}

// Create handles POST /v1/tenants/:id/rules
func (h *Handler) Create(c *gin.Context) {
	tenantID := c.Param("id")
	if !requireTenantOwnership(c, tenantID) {
		return
	}

	var req struct {
		Name         string          `json:"name" binding:"required"`
		Type         string          `json:"type" binding:"required"`
		Condition    json.RawMessage `json:"condition" binding:"required"`
		Action       string          `json:"action" binding:"required"`
		ActionParams json.RawMessage `json:"actionParams"`
		Priority     int             `json:"priority"`
		Enabled      *bool           `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "name, type, condition and action required"})
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	now := time.Now()
	r := &Rule{
		ID:           idgen.WithPrefix("rule_"),
		TenantID:     tenantID,
		Name:         validation.SanitizeString(req.Name, 200),
		Type:         Type(req.Type),
		Condition:    req.Condition,
		Action:       Action(req.Action),
		ActionParams: req.ActionParams,
		Priority:     req.Priority,
		Enabled:      enabled,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := Validate(r); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_rule", "message": err.Error()})
		return
	}

	if err := h.store.Create(c.Request.Context(), r); err != nil {
		if err == ErrNameTaken {
			c.JSON(http.StatusConflict, gin.H{"error": "name_taken", "message": "rule name already exists for this tenant"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to create rule"})
		return
	}

	h.invalidate(tenantID)
	c.JSON(http.StatusCreated, gin.H{"rule": r})
}

// List handles GET /v1/tenants/:id/rules
func (h *Handler) List(c *gin.Context) {
	tenantID := c.Param("id")
	if !requireTenantOwnership(c, tenantID) {
		return
	}

	list, err := h.store.List(c.Request.Context(), tenantID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	if list == nil {
		list = []*Rule{}
	}
	c.JSON(http.StatusOK, gin.H{"rules": list, "count": len(list)})
}

// Get handles GET /v1/tenants/:id/rules/:ruleId
func (h *Handler) Get(c *gin.Context) {
	tenantID := c.Param("id")
	if !requireTenantOwnership(c, tenantID) {
		return
	}

	r, err := h.store.Get(c.Request.Context(), tenantID, c.Param("ruleId"))
	if err != nil {
		if err == ErrRuleNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "rule not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rule": r})
}

// Update handles PUT /v1/tenants/:id/rules/:ruleId
func (h *Handler) Update(c *gin.Context) {
	tenantID := c.Param("id")
	if !requireTenantOwnership(c, tenantID) {
		return
	}

	existing, err := h.store.Get(c.Request.Context(), tenantID, c.Param("ruleId"))
	if err != nil {
		if err == ErrRuleNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "rule not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}

	var req struct {
		Name         *string         `json:"name"`
		Type         *string         `json:"type"`
		Condition    json.RawMessage `json:"condition"`
		Action       *string         `json:"action"`
		ActionParams json.RawMessage `json:"actionParams"`
		Priority     *int            `json:"priority"`
		Enabled      *bool           `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "invalid body"})
		return
	}

	if req.Name != nil {
		existing.Name = validation.SanitizeString(*req.Name, 200)
	}
	if req.Type != nil {
		existing.Type = Type(*req.Type)
	}
	if req.Condition != nil {
		existing.Condition = req.Condition
	}
	if req.Action != nil {
		existing.Action = Action(*req.Action)
	}
	if req.ActionParams != nil {
		existing.ActionParams = req.ActionParams
	}
	if req.Priority != nil {
		existing.Priority = *req.Priority
	}
	if req.Enabled != nil {
		existing.Enabled = *req.Enabled
	}
	existing.UpdatedAt = time.Now()

	if err := Validate(existing); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_rule", "message": err.Error()})
		return
	}

	if err := h.store.Update(c.Request.Context(), existing); err != nil {
		if err == ErrNameTaken {
			c.JSON(http.StatusConflict, gin.H{"error": "name_taken", "message": "rule name already exists for this tenant"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to update rule"})
		return
	}

	h.invalidate(tenantID)
	c.JSON(http.StatusOK, gin.H{"rule": existing})
}

// Delete handles DELETE /v1/tenants/:id/rules/:ruleId
func (h *Handler) Delete(c *gin.Context) {
	tenantID := c.Param("id")
	if !requireTenantOwnership(c, tenantID) {
		return
	}

	ruleID := c.Param("ruleId")
	if err := h.store.Delete(c.Request.Context(), tenantID, ruleID); err != nil {
		if err == ErrRuleNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "rule not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to delete rule"})
		return
	}

	h.invalidate(tenantID)
	c.JSON(http.StatusOK, gin.H{"message": "rule deleted", "id": ruleID})
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
