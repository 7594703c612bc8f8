package entitlement

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/storecraft/server/internal/module/catalog"
	"github.com/storecraft/server/internal/shared/middleware"
)

// Handler handles admin HTTP requests for tenant overrides.
type Handler struct {
	repo     Repository
	resolver *Resolver
}

// NewHandler creates a new entitlement handler.
func NewHandler(repo Repository, resolver *Resolver) *Handler {
	return &Handler{repo: repo, resolver: resolver}
}

// RegisterRoutes registers the override routes. All routes are admin-only.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	overrides := r.Group("/tenants/:tenant/overrides", middleware.RequireAdmin())
	{
		overrides.GET("/limits/:plugin", h.ResolveLimits)
		overrides.POST("/pricing", h.SaveCustomPricing)
		overrides.DELETE("/pricing/:id", h.DeleteCustomPricing)
		overrides.POST("/usage", h.SaveUsageOverride)
		overrides.DELETE("/usage/:id", h.DeleteUsageOverride)
		overrides.POST("/features", h.SaveFeatureOverride)
		overrides.DELETE("/features/:id", h.DeleteFeatureOverride)
	}
}

// OverrideWindowRequest carries the shared validity window fields.
type OverrideWindowRequest struct {
	ValidFrom *time.Time `json:"valid_from"`
	ValidTo   *time.Time `json:"valid_to"`
	Reason    string     `json:"reason"`
}

func (r *OverrideWindowRequest) window() Window {
	from := time.Now().UTC()
	if r.ValidFrom != nil {
		from = *r.ValidFrom
	}
	return Window{ValidFrom: from, ValidTo: r.ValidTo}
}

// SaveCustomPricingRequest is the payload for custom pricing records.
type SaveCustomPricingRequest struct {
	OverrideWindowRequest
	PluginID   string           `json:"plugin_id" binding:"required"`
	PriceCents int64            `json:"price_cents"`
	Currency   string           `json:"currency"`
	Limits     map[string]int64 `json:"limits"`
}

// SaveUsageOverrideRequest is the payload for usage limit overrides.
type SaveUsageOverrideRequest struct {
	OverrideWindowRequest
	PluginID string `json:"plugin_id" binding:"required"`
	Metric   string `json:"metric" binding:"required"`
	Limit    int64  `json:"limit"`
}

// SaveFeatureOverrideRequest is the payload for feature toggles.
type SaveFeatureOverrideRequest struct {
	OverrideWindowRequest
	PluginID string `json:"plugin_id" binding:"required"`
	Feature  string `json:"feature" binding:"required"`
	Enabled  bool   `json:"enabled"`
}

// ResolveLimits returns the effective limit map for a tenant+plugin.
func (h *Handler) ResolveLimits(c *gin.Context) {
	tenantID, err := uuid.Parse(c.Param("tenant"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tenant id"})
		return
	}

	limits, err := h.resolver.ResolveLimits(
		c.Request.Context(),
		tenantID,
		c.Param("plugin"),
		c.Query("plan_id"),
		time.Now().UTC(),
	)
	if err != nil {
		handleOverrideError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"limits": limits})
}

// SaveCustomPricing creates or updates a custom pricing record.
func (h *Handler) SaveCustomPricing(c *gin.Context) {
	tenantID, err := uuid.Parse(c.Param("tenant"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tenant id"})
		return
	}

	var req SaveCustomPricingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := catalog.LimitMap(req.Limits).Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	currency := req.Currency
	if currency == "" {
		currency = "usd"
	}
	cp := &TenantCustomPricing{
		TenantID:   tenantID,
		PluginID:   req.PluginID,
		PriceCents: req.PriceCents,
		Currency:   currency,
		Limits:     datatypes.NewJSONType(catalog.LimitMap(req.Limits)),
		Reason:     req.Reason,
		Window:     req.window(),
	}
	if err := h.repo.SaveCustomPricing(c.Request.Context(), cp); err != nil {
		handleOverrideError(c, err)
		return
	}
	c.JSON(http.StatusOK, cp)
}

// SaveUsageOverride creates or updates a usage limit override.
func (h *Handler) SaveUsageOverride(c *gin.Context) {
	tenantID, err := uuid.Parse(c.Param("tenant"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tenant id"})
		return
	}

	var req SaveUsageOverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Limit < catalog.Unlimited {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}

	o := &TenantUsageOverride{
		TenantID: tenantID,
		PluginID: req.PluginID,
		Metric:   req.Metric,
		Limit:    req.Limit,
		Reason:   req.Reason,
		Window:   req.window(),
	}
	if err := h.repo.SaveUsageOverride(c.Request.Context(), o); err != nil {
		handleOverrideError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

// SaveFeatureOverride creates or updates a feature toggle.
func (h *Handler) SaveFeatureOverride(c *gin.Context) {
	tenantID, err := uuid.Parse(c.Param("tenant"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tenant id"})
		return
	}

	var req SaveFeatureOverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	o := &TenantFeatureOverride{
		TenantID: tenantID,
		PluginID: req.PluginID,
		Feature:  req.Feature,
		Enabled:  req.Enabled,
		Reason:   req.Reason,
		Window:   req.window(),
	}
	if err := h.repo.SaveFeatureOverride(c.Request.Context(), o); err != nil {
		handleOverrideError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

// DeleteCustomPricing removes a custom pricing record.
func (h *Handler) DeleteCustomPricing(c *gin.Context) {
	h.deleteOverride(c, h.repo.DeleteCustomPricing)
}

// DeleteUsageOverride removes a usage override.
func (h *Handler) DeleteUsageOverride(c *gin.Context) {
	h.deleteOverride(c, h.repo.DeleteUsageOverride)
}

// DeleteFeatureOverride removes a feature toggle.
func (h *Handler) DeleteFeatureOverride(c *gin.Context) {
	h.deleteOverride(c, h.repo.DeleteFeatureOverride)
}

func (h *Handler) deleteOverride(c *gin.Context, del func(ctx context.Context, id uuid.UUID) error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid override id"})
		return
	}
	if err := del(c.Request.Context(), id); err != nil {
		handleOverrideError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func handleOverrideError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrOverrideNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "override_not_found"})
	case errors.Is(err, catalog.ErrPlanNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "plan_not_found"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}
