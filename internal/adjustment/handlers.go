package adjustment

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/settleline/recon/internal/ledger"
	"github.com/settleline/recon/internal/matching"
	"github.com/settleline/recon/internal/tenant"
	"github.com/settleline/recon/internal/transaction"
	"github.com/settleline/recon/internal/validation"
)

// Handler provides HTTP endpoints for the adjustment workflow.
type Handler struct {
	workflow *Workflow
	store    Store
	tenants  tenant.Store
}

// NewHandler creates a new adjustment handler.
func NewHandler(workflow *Workflow, store Store, tenants tenant.Store) *Handler {
	return &Handler{workflow: workflow, store: store, tenants: tenants}
}

// RegisterRoutes sets up adjustment routes under the tenant-protected group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/tenants/:id/adjustments", h.Create)
	r.GET("/tenants/:id/adjustments", h.List)
	r.GET("/tenants/:id/adjustments/:adjId", h.Get)
	r.POST("/tenants/:id/adjustments/:adjId/approve", h.Approve)
	r.POST("/tenants/:id/adjustments/:adjId/reject", h.Reject)
}

// Create handles POST /v1/tenants/:id/adjustments
func (h *Handler) Create(c *gin.Context) {
	tenantID := c.Param("id")
	if !requireTenantOwnership(c, tenantID) {
		return
	}

	var in CreateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	in.TenantID = tenantID
	in.Reason = validation.SanitizeString(in.Reason, 2000)
	in.CreatedByUserID = validation.SanitizeString(in.CreatedByUserID, 128)

	t, err := h.tenants.Get(c.Request.Context(), tenantID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "tenant not found"})
		return
	}

	adj, err := h.workflow.Create(c.Request.Context(), in, t.Settings.Normalize())
	if err != nil {
		writeWorkflowError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"adjustment": adj})
}

// List handles GET /v1/tenants/:id/adjustments
func (h *Handler) List(c *gin.Context) {
	tenantID := c.Param("id")
	if !requireTenantOwnership(c, tenantID) {
		return
	}

	f := ListFilter{
		Status:        ApprovalStatus(c.Query("status")),
		Type:          Type(c.Query("type")),
		TransactionID: c.Query("transactionId"),
		Limit:         100,
	}

	list, err := h.store.List(c.Request.Context(), tenantID, f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	if list == nil {
		list = []*Adjustment{}
	}
	c.JSON(http.StatusOK, gin.H{"adjustments": list, "count": len(list)})
}

// Get handles GET /v1/tenants/:id/adjustments/:adjId
func (h *Handler) Get(c *gin.Context) {
	tenantID := c.Param("id")
	if !requireTenantOwnership(c, tenantID) {
		return
	}

	adj, err := h.store.Get(c.Request.Context(), tenantID, c.Param("adjId"))
	if err != nil {
		writeWorkflowError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"adjustment": adj})
}

// Approve handles POST /v1/tenants/:id/adjustments/:adjId/approve
func (h *Handler) Approve(c *gin.Context) {
	tenantID := c.Param("id")
	if !requireTenantOwnership(c, tenantID) {
		return
	}

	var req struct {
		ApproverUserID string `json:"approverUserId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "approverUserId required"})
		return
	}

	adj, err := h.workflow.Approve(c.Request.Context(), tenantID, c.Param("adjId"),
		validation.SanitizeString(req.ApproverUserID, 128))
	if err != nil {
		writeWorkflowError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"adjustment": adj})
}

// Reject handles POST /v1/tenants/:id/adjustments/:adjId/reject
func (h *Handler) Reject(c *gin.Context) {
	tenantID := c.Param("id")
	if !requireTenantOwnership(c, tenantID) {
		return
	}

	var req struct {
		ApproverUserID string `json:"approverUserId" binding:"required"`
		Reason         string `json:"reason" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "approverUserId and reason required"})
		return
	}

	adj, err := h.workflow.Reject(c.Request.Context(), tenantID, c.Param("adjId"),
		validation.SanitizeString(req.ApproverUserID, 128), validation.SanitizeString(req.Reason, 2000))
	if err != nil {
		writeWorkflowError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"adjustment": adj})
}

func writeWorkflowError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrAdjustmentNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "adjustment not found"})
	case errors.Is(err, transaction.ErrTransactionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "transaction not found"})
	case errors.Is(err, transaction.ErrSettlementNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "settlement not found"})
	case errors.Is(err, ErrInvalidAdjustment), errors.Is(err, ErrReasonRequired):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
	case errors.Is(err, ErrSelfApproval):
		c.JSON(http.StatusConflict, gin.H{"error": "approval_error", "message": "approver must differ from creator"})
	case errors.Is(err, ErrNotPending):
		c.JSON(http.StatusConflict, gin.H{"error": "approval_error", "message": "adjustment is not pending"})
	case errors.Is(err, matching.ErrActiveMatchExists), errors.Is(err, matching.ErrDuplicatePair):
		c.JSON(http.StatusConflict, gin.H{"error": "match_conflict", "message": err.Error()})
	case errors.Is(err, transaction.ErrIllegalTransition), errors.Is(err, transaction.ErrVersionConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "state_conflict", "message": err.Error()})
	case errors.Is(err, ledger.ErrNotPostable), errors.Is(err, ledger.ErrNothingToVoid),
		errors.Is(err, ledger.ErrNoRecipe), errors.Is(err, ledger.ErrInvalidAmount):
		c.JSON(http.StatusConflict, gin.H{"error": "posting_error", "message": err.Error()})
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
