package usage

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	apperrors "github.com/storecraft/server/internal/shared/errors"
	"github.com/storecraft/server/internal/shared/middleware"
)

// Handler handles usage HTTP requests.
type Handler struct {
	ledger *Ledger
}

// NewHandler creates a new usage handler.
func NewHandler(ledger *Ledger) *Handler {
	return &Handler{ledger: ledger}
}

// RegisterRoutes registers the usage routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	u := r.Group("/plugins/:plugin/usage")
	{
		u.GET("", h.GetUsage)
		u.GET("/:metric/check", h.CheckLimit)
		u.POST("/:metric/consume", h.Consume)
	}

	admin := r.Group("/tenants/:tenant/usage", middleware.RequireAdmin())
	{
		admin.PUT("/:plugin/:metric", h.SetUsed)
		admin.DELETE("/:plugin", h.ResetAll)
	}
}

// ConsumeRequest is the payload for consuming quota.
type ConsumeRequest struct {
	Delta int64 `json:"delta"`
}

// SetUsedRequest is the payload for an admin counter correction.
type SetUsedRequest struct {
	Value int64 `json:"value"`
}

// GetUsage returns the tenant's counters for the active period.
func (h *Handler) GetUsage(c *gin.Context) {
	records, err := h.ledger.Usage(c.Request.Context(), middleware.TenantID(c), c.Param("plugin"))
	if err != nil {
		handleUsageError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"usage": records})
}

// CheckLimit reports whether the tenant is within the metric's limit.
func (h *Handler) CheckLimit(c *gin.Context) {
	result, err := h.ledger.CheckLimit(
		c.Request.Context(),
		middleware.TenantID(c),
		c.Param("plugin"),
		c.Param("metric"),
	)
	if err != nil {
		handleUsageError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Consume records metered work against the tenant's quota.
func (h *Handler) Consume(c *gin.Context) {
	var req ConsumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Delta <= 0 {
		req.Delta = 1
	}

	result, err := h.ledger.Consume(
		c.Request.Context(),
		middleware.TenantID(c),
		c.Param("plugin"),
		c.Param("metric"),
		req.Delta,
	)
	if err != nil {
		if errors.Is(err, apperrors.ErrQuotaExceeded) {
			c.JSON(http.StatusTooManyRequests, result)
			return
		}
		handleUsageError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// SetUsed overwrites a counter, admin only.
func (h *Handler) SetUsed(c *gin.Context) {
	tenantID, err := uuid.Parse(c.Param("tenant"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tenant id"})
		return
	}

	var req SetUsedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.ledger.SetUsed(c.Request.Context(), tenantID, c.Param("plugin"), c.Param("metric"), req.Value); err != nil {
		handleUsageError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ResetAll wipes calendar-scoped counters for a tenant+plugin, admin only.
func (h *Handler) ResetAll(c *gin.Context) {
	tenantID, err := uuid.Parse(c.Param("tenant"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tenant id"})
		return
	}

	if err := h.ledger.ResetAll(c.Request.Context(), tenantID, c.Param("plugin")); err != nil {
		handleUsageError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}

func handleUsageError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, apperrors.ErrBadRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, apperrors.ErrQuotaExceeded):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "quota_exceeded"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}
