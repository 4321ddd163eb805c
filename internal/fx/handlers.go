package fx

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/settleline/recon/internal/validation"
)

// Handler exposes FX rate management. Rates are pushed by an operator or a
// rate feed job; matching only reads them.
type Handler struct {
	store Store
}

// NewHandler creates an FX rate HTTP handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes registers FX rate routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.PUT("/tenants/:id/fx-rates", h.PutRate)
	r.GET("/tenants/:id/fx-rates", h.GetRate)
}

type putRateRequest struct {
	BaseCurrency  string `json:"baseCurrency" binding:"required"`
	QuoteCurrency string `json:"quoteCurrency" binding:"required"`
	RateDate      string `json:"rateDate" binding:"required"` // YYYY-MM-DD
	Rate          string `json:"rate" binding:"required"`
	Source        string `json:"source"`
}

// PutRate handles PUT /v1/tenants/:id/fx-rates
func (h *Handler) PutRate(c *gin.Context) {
	tenantID := c.Param("id")
	if !requireTenantOwnership(c, tenantID) {
		return
	}

	var req putRateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	errs := validation.Validate(
		validation.ValidCurrency("baseCurrency", req.BaseCurrency),
		validation.ValidCurrency("quoteCurrency", req.QuoteCurrency),
		validation.ValidDate("rateDate", req.RateDate),
	)
	if len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "details": errs})
		return
	}

	rate, err := decimal.NewFromString(req.Rate)
	if err != nil || !rate.IsPositive() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_rate", "message": "rate must be a positive decimal"})
		return
	}
	date, _ := time.ParseInLocation("2006-01-02", req.RateDate, time.UTC)

	r := &Rate{
		TenantID:      tenantID,
		BaseCurrency:  req.BaseCurrency,
		QuoteCurrency: req.QuoteCurrency,
		RateDate:      date,
		Rate:          rate,
		Source:        req.Source,
	}
	if err := h.store.PutRate(c.Request.Context(), r); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rate": r})
}

// GetRate handles GET /v1/tenants/:id/fx-rates?base=EUR&quote=USD&date=2024-01-10
func (h *Handler) GetRate(c *gin.Context) {
	tenantID := c.Param("id")
	if !requireTenantOwnership(c, tenantID) {
		return
	}

	base, quote, dateStr := c.Query("base"), c.Query("quote"), c.Query("date")
	errs := validation.Validate(
		validation.ValidCurrency("base", base),
		validation.ValidCurrency("quote", quote),
		validation.ValidDate("date", dateStr),
	)
	if len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "details": errs})
		return
	}
	date, _ := time.ParseInLocation("2006-01-02", dateStr, time.UTC)

	r, err := h.store.GetRate(c.Request.Context(), tenantID, base, quote, date)
	if err != nil {
		if errors.Is(err, ErrRateNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "no rate for pair on date"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rate": r})
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
