package reconciler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/storecraft/server/internal/module/processor"
)

const maxWebhookBody = 1 << 20

// WebhookHandler receives processor webhook deliveries.
type WebhookHandler struct {
	service  *Service
	provider processor.Provider
	logger   *zap.Logger
}

// NewWebhookHandler creates a webhook handler.
func NewWebhookHandler(service *Service, provider processor.Provider, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		service:  service,
		provider: provider,
		logger:   logger,
	}
}

// RegisterRoutes registers the webhook route. The route is unauthenticated;
// the signature check is the authentication.
func (h *WebhookHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/webhooks/"+h.provider.Name(), h.Receive)
}

// Receive verifies, persists and processes one webhook delivery. A failed
// outcome returns 500 so the processor redelivers; the stored row makes the
// retry sweep a backstop for deliveries that never come back. Malformed
// events are acknowledged, redelivering the same payload cannot help.
func (h *WebhookHandler) Receive(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	signature := c.GetHeader("Stripe-Signature")
	if err := h.provider.VerifyWebhookSignature(payload, signature); err != nil {
		if errors.Is(err, processor.ErrInvalidSignature) {
			h.logger.Warn("webhook signature rejected", zap.Error(err))
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_signature"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "verification_failed"})
		return
	}

	var envelope struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil || envelope.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed_event"})
		return
	}

	result, err := h.service.HandleInbound(c.Request.Context(), h.provider.Name(), envelope.ID, envelope.Type, payload)
	if err != nil {
		h.logger.Error("webhook handling failed",
			zap.String("event_id", envelope.ID),
			zap.String("event_type", envelope.Type),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	if result.Status == EventFailed {
		c.JSON(http.StatusInternalServerError, result)
		return
	}
	c.JSON(http.StatusOK, result)
}
