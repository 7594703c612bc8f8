package subscription

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/storecraft/server/internal/module/catalog"
	apperrors "github.com/storecraft/server/internal/shared/errors"
	"github.com/storecraft/server/internal/shared/middleware"
)

// Handler handles tenant-facing subscription HTTP requests.
type Handler struct {
	service *Service
}

// NewHandler creates a new subscription handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers the subscription routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/subscriptions", h.ListSubscriptions)

	sub := r.Group("/plugins/:plugin/subscription")
	{
		sub.GET("", h.GetCurrent)
		sub.POST("", h.Subscribe)
		sub.POST("/change", h.ChangePlan)
		sub.POST("/cancel", h.Cancel)
		sub.GET("/changes", h.ListChanges)
	}

	admin := r.Group("/admin", middleware.RequireAdmin())
	admin.PUT("/tenants/:tenant/subscription/:plugin/status", h.UpdateSubscriptionStatus)
}

// SubscribeRequest is the payload to start a subscription.
type SubscribeRequest struct {
	PlanID     string `json:"plan_id" binding:"required"`
	SuccessURL string `json:"success_url"`
	CancelURL  string `json:"cancel_url"`
}

// ChangePlanRequest is the payload to move to a different plan.
type ChangePlanRequest struct {
	PlanID string `json:"plan_id" binding:"required"`
}

// CancelRequest is the payload to cancel a subscription.
type CancelRequest struct {
	Immediately bool `json:"immediately"`
}

// UpdateStatusRequest is the admin payload to force a subscription's status
// and period fields.
type UpdateStatusRequest struct {
	Status            string     `json:"status" binding:"required"`
	PeriodStart       *time.Time `json:"period_start"`
	PeriodEnd         *time.Time `json:"period_end"`
	CancelAtPeriodEnd bool       `json:"cancel_at_period_end"`
}

// GetCurrent returns the tenant's subscription for a plugin.
func (h *Handler) GetCurrent(c *gin.Context) {
	sub, err := h.service.Current(c.Request.Context(), middleware.TenantID(c), c.Param("plugin"))
	if err != nil {
		handleSubscriptionError(c, err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

// ListSubscriptions returns all subscription rows for the tenant.
func (h *Handler) ListSubscriptions(c *gin.Context) {
	subs, err := h.service.ListByTenant(c.Request.Context(), middleware.TenantID(c))
	if err != nil {
		handleSubscriptionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscriptions": subs})
}

// Subscribe starts a subscription on a plan.
func (h *Handler) Subscribe(c *gin.Context) {
	var req SubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.service.Subscribe(
		c.Request.Context(),
		middleware.TenantID(c),
		c.Param("plugin"),
		req.PlanID,
		req.SuccessURL,
		req.CancelURL,
	)
	if err != nil {
		handleSubscriptionError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ChangePlan upgrades or downgrades the tenant's subscription.
func (h *Handler) ChangePlan(c *gin.Context) {
	var req ChangePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	initiator := InitiatorTenant
	if c.GetString(middleware.ContextRole) == middleware.RoleAdmin {
		initiator = InitiatorAdmin
	}
	sub, err := h.service.ChangePlan(
		c.Request.Context(),
		middleware.TenantID(c),
		c.Param("plugin"),
		req.PlanID,
		initiator,
	)
	if err != nil {
		handleSubscriptionError(c, err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

// Cancel cancels the tenant's subscription.
func (h *Handler) Cancel(c *gin.Context) {
	// Body is optional; default is cancel at period end.
	var req CancelRequest
	_ = c.ShouldBindJSON(&req)

	sub, err := h.service.Cancel(
		c.Request.Context(),
		middleware.TenantID(c),
		c.Param("plugin"),
		req.Immediately,
		InitiatorTenant,
	)
	if err != nil {
		handleSubscriptionError(c, err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

// UpdateSubscriptionStatus forces a tenant's subscription status, for
// operators repairing drift against the processor.
func (h *Handler) UpdateSubscriptionStatus(c *gin.Context) {
	tenantID, err := uuid.Parse(c.Param("tenant"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tenant id"})
		return
	}

	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	status := Status(req.Status)
	if !status.IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
		return
	}

	state := RemoteState{Status: status, CancelAtPeriodEnd: req.CancelAtPeriodEnd}
	if req.PeriodStart != nil {
		state.PeriodStart = *req.PeriodStart
	}
	if req.PeriodEnd != nil {
		state.PeriodEnd = *req.PeriodEnd
	}

	sub, err := h.service.UpdateStatus(c.Request.Context(), tenantID, c.Param("plugin"), state)
	if err != nil {
		handleSubscriptionError(c, err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

// ListChanges returns the change history for the tenant's current
// subscription row.
func (h *Handler) ListChanges(c *gin.Context) {
	ctx := c.Request.Context()
	sub, err := h.service.Current(ctx, middleware.TenantID(c), c.Param("plugin"))
	if err != nil {
		handleSubscriptionError(c, err)
		return
	}

	var id uuid.UUID
	if subID := c.Query("subscription_id"); subID != "" {
		parsed, err := uuid.Parse(subID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid subscription id"})
			return
		}
		id = parsed
	} else {
		id = sub.ID
	}

	changes, err := h.service.History(ctx, id)
	if err != nil {
		handleSubscriptionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"changes": changes})
}

func handleSubscriptionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrSubscriptionNotFound), errors.Is(err, ErrNoLiveSubscription):
		c.JSON(http.StatusNotFound, gin.H{"error": "subscription_not_found"})
	case errors.Is(err, catalog.ErrPlanNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "plan_not_found"})
	case errors.Is(err, ErrSubscriptionExists):
		c.JSON(http.StatusConflict, gin.H{"error": "subscription_exists"})
	case errors.Is(err, ErrAlreadyCanceled):
		c.JSON(http.StatusConflict, gin.H{"error": "already_canceled"})
	case errors.Is(err, apperrors.ErrRemoteCall):
		c.JSON(http.StatusBadGateway, gin.H{"error": "payment_processor_error"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}
