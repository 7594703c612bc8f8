package reconciler

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/storecraft/server/internal/module/processor"
)

// stubProvider accepts every signature so handler tests exercise the
// processing outcomes, not verification.
type stubProvider struct {
	processor.Provider
}

func (stubProvider) Name() string { return "stripe" }

func (stubProvider) VerifyWebhookSignature(payload []byte, signature string) error { return nil }

func postWebhook(t *testing.T, svc *Service, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	handler := NewWebhookHandler(svc, stubProvider{}, zap.NewNop())
	handler.RegisterRoutes(router.Group("/api/v1"))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestWebhookHandler_Receive(t *testing.T) {
	t.Run("failed processing returns 500 so the processor redelivers", func(t *testing.T) {
		svc, _ := newTestService(errors.New("storage offline"))
		payload := stripePayload("invoice.paid", 1767225600, `{
			"id": "in_1",
			"subscription": "sub_123"
		}`)

		rec := postWebhook(t, svc, payload)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Contains(t, rec.Body.String(), string(EventFailed))
	})

	t.Run("skipped event returns 200", func(t *testing.T) {
		svc, _ := newTestService(nil)
		payload := stripePayload("charge.refunded", 1767225600, `{"id": "ch_1"}`)

		rec := postWebhook(t, svc, payload)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("malformed event is acknowledged", func(t *testing.T) {
		svc, _ := newTestService(nil)
		payload := stripePayload("checkout.session.completed", 1767225600, `{
			"id": "cs_1",
			"metadata": {}
		}`)

		rec := postWebhook(t, svc, payload)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), string(EventMalformed))
	})
}
