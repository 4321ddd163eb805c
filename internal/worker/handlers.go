package worker

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/settleline/recon/internal/transaction"
	"github.com/settleline/recon/internal/validation"
)

// Handler exposes the HTTP ingest surface of the pipeline. It is the only
// feed when no Kafka consumer is configured, and an operational escape hatch
// otherwise. Delivery here is at-least-once just like the broker path: the
// idempotency guard makes replays harmless.
type Handler struct {
	pipeline *Pipeline
}

// NewHandler creates an ingest handler.
func NewHandler(pipeline *Pipeline) *Handler {
	return &Handler{pipeline: pipeline}
}

// RegisterRoutes registers ingest routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/tenants/:id/transactions", h.IngestTransaction)
	r.POST("/tenants/:id/settlements", h.IngestSettlement)
}

// IngestTransaction handles POST /v1/tenants/:id/transactions
func (h *Handler) IngestTransaction(c *gin.Context) {
	tenantID := c.Param("id")
	if !requireTenantOwnership(c, tenantID) {
		return
	}

	var txn transaction.NormalizedTransaction
	if err := c.ShouldBindJSON(&txn); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	txn.TenantID = tenantID

	errs := validation.Validate(
		validation.Required("transactionId", txn.TransactionID),
		validation.ValidID("transactionId", txn.TransactionID),
		validation.Required("pspConnectionId", txn.PSPConnectionID),
		validation.Required("eventType", string(txn.EventType)),
		validation.Required("pspTransactionId", txn.PSPTransactionID),
		validation.ValidCurrency("amountCurrency", txn.AmountCurrency),
		validation.NonZeroAmount("amountValue", txn.AmountValue),
		validation.Required("sourceIdempotencyKey", txn.SourceIdempotencyKey),
	)
	if len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "details": errs})
		return
	}

	if err := h.pipeline.ProcessTransaction(c.Request.Context(), &txn); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "ingest_failed", "message": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"transactionId": txn.TransactionID, "status": "accepted"})
}

// IngestSettlement handles POST /v1/tenants/:id/settlements
func (h *Handler) IngestSettlement(c *gin.Context) {
	tenantID := c.Param("id")
	if !requireTenantOwnership(c, tenantID) {
		return
	}

	var line transaction.PspSettlement
	if err := c.ShouldBindJSON(&line); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	line.TenantID = tenantID

	errs := validation.Validate(
		validation.Required("settlementId", line.SettlementID),
		validation.ValidID("settlementId", line.SettlementID),
		validation.Required("pspConnectionId", line.PSPConnectionID),
		validation.Required("batchId", line.BatchID),
		validation.ValidCurrency("amountCurrency", line.AmountCurrency),
		validation.Required("sourceIdempotencyKey", line.SourceIdempotencyKey),
	)
	if len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "details": errs})
		return
	}

	if err := h.pipeline.ProcessSettlement(c.Request.Context(), &line); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "ingest_failed", "message": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"settlementId": line.SettlementID, "status": "accepted"})
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
