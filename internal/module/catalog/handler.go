package catalog

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lib/pq"
	"gorm.io/datatypes"

	"github.com/storecraft/server/internal/shared/middleware"
)

// Handler handles HTTP requests for the plan catalog.
type Handler struct {
	service ServiceInterface
}

// NewHandler creates a new catalog handler.
func NewHandler(service ServiceInterface) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers the catalog routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	plans := r.Group("/plugins/:plugin/plans")
	{
		plans.GET("", h.ListPlans)
		plans.GET("/:plan", h.GetPlan)
		plans.PUT("/:plan", middleware.RequireAdmin(), h.UpsertPlan)
		plans.DELETE("/:plan", middleware.RequireAdmin(), h.DeletePlan)
	}
}

// UpsertPlanRequest is the admin payload for creating or updating a plan.
type UpsertPlanRequest struct {
	Name        string           `json:"name" binding:"required"`
	Description string           `json:"description"`
	PriceCents  int64            `json:"price_cents"`
	Currency    string           `json:"currency"`
	Cycle       string           `json:"billing_cycle"`
	TrialDays   int              `json:"trial_days"`
	Features    []string         `json:"features"`
	Limits      map[string]int64 `json:"limits"`
	Active      *bool            `json:"active"`
}

// ListPlans returns the active plans for a plugin.
func (h *Handler) ListPlans(c *gin.Context) {
	plans, err := h.service.ListPlans(c.Request.Context(), c.Param("plugin"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list plans"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"plans": plans})
}

// GetPlan returns a single plan.
func (h *Handler) GetPlan(c *gin.Context) {
	plan, err := h.service.GetPlan(c.Request.Context(), c.Param("plugin"), c.Param("plan"))
	if err != nil {
		handleCatalogError(c, err)
		return
	}
	c.JSON(http.StatusOK, plan)
}

// UpsertPlan creates or replaces a plan.
func (h *Handler) UpsertPlan(c *gin.Context) {
	var req UpsertPlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	currency := req.Currency
	if currency == "" {
		currency = "usd"
	}
	cycle := BillingCycle(req.Cycle)
	if req.Cycle == "" {
		cycle = BillingCycleMonthly
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}

	plan := &Plan{
		PluginID:    c.Param("plugin"),
		PlanID:      c.Param("plan"),
		Name:        req.Name,
		Description: req.Description,
		PriceCents:  req.PriceCents,
		Currency:    currency,
		Cycle:       cycle,
		TrialDays:   req.TrialDays,
		Features:    pq.StringArray(req.Features),
		Limits:      datatypes.NewJSONType(LimitMap(req.Limits)),
		Active:      active,
	}

	if err := h.service.UpsertPlan(c.Request.Context(), plan); err != nil {
		handleCatalogError(c, err)
		return
	}
	c.JSON(http.StatusOK, plan)
}

// DeletePlan removes a plan with no live subscribers.
func (h *Handler) DeletePlan(c *gin.Context) {
	err := h.service.DeletePlan(c.Request.Context(), c.Param("plugin"), c.Param("plan"))
	if err != nil {
		handleCatalogError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func handleCatalogError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrPlanNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "plan_not_found"})
	case errors.Is(err, ErrInvalidPlan):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, ErrPlanInUse):
		c.JSON(http.StatusConflict, gin.H{"error": "plan_in_use"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}
