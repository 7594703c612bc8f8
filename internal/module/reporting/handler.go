package reporting

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/storecraft/server/internal/shared/middleware"
)

// Handler handles admin reporting HTTP requests.
type Handler struct {
	service *Service
}

// NewHandler creates a reporting handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers the admin reporting routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	admin := r.Group("/admin", middleware.RequireAdmin())
	{
		admin.GET("/plugins/:plugin/stats", h.PluginStats)
		admin.GET("/tenants/:tenant/overview/:plugin", h.TenantOverview)
		admin.GET("/events/failed", h.FailedEvents)
	}
}

// PluginStats returns per-plan live counts and revenue for a plugin.
func (h *Handler) PluginStats(c *gin.Context) {
	stats, err := h.service.PluginStats(c.Request.Context(), c.Param("plugin"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// TenantOverview returns the tenant's full billing picture for a plugin.
func (h *Handler) TenantOverview(c *gin.Context) {
	tenantID, err := uuid.Parse(c.Param("tenant"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tenant id"})
		return
	}

	overview, err := h.service.TenantOverview(c.Request.Context(), tenantID, c.Param("plugin"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, overview)
}

// FailedEvents lists events that exhausted retries.
func (h *Handler) FailedEvents(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	events, err := h.service.FailedEvents(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}
