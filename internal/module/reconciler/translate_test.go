package reconciler

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storecraft/server/internal/module/subscription"
)

func stripePayload(eventType string, created int64, object string) []byte {
	return []byte(fmt.Sprintf(`{
		"id": "evt_test_1",
		"type": %q,
		"created": %d,
		"data": {"object": %s}
	}`, eventType, created, object))
}

func TestTranslateStripeEvent_CheckoutCompleted(t *testing.T) {
	const created = int64(1767225600)

	t.Run("routes via metadata", func(t *testing.T) {
		payload := stripePayload("checkout.session.completed", created, `{
			"id": "cs_test_1",
			"subscription": "sub_123",
			"customer": "cus_456",
			"metadata": {
				"tenant_id": "6ba7b810-9dad-11d1-80b4-00c04fd430c8",
				"plugin_id": "analytics",
				"plan_id": "pro"
			}
		}`)

		event, err := translateStripeEvent("checkout.session.completed", payload)
		require.NoError(t, err)
		assert.Equal(t, subscription.EventCheckoutCompleted, event.Kind)
		assert.Equal(t, "6ba7b810-9dad-11d1-80b4-00c04fd430c8", event.TenantID.String())
		assert.Equal(t, "analytics", event.PluginID)
		assert.Equal(t, "pro", event.PlanID)
		assert.Equal(t, "sub_123", event.ExternalSubscriptionID)
		assert.Equal(t, "cus_456", event.ExternalCustomerID)
		assert.Equal(t, time.Unix(created, 0).UTC(), event.OccurredAt)
	})

	t.Run("missing tenant metadata fails", func(t *testing.T) {
		payload := stripePayload("checkout.session.completed", created, `{
			"id": "cs_test_2",
			"metadata": {"plugin_id": "analytics"}
		}`)

		_, err := translateStripeEvent("checkout.session.completed", payload)
		require.Error(t, err)
		assert.ErrorIs(t, err, errMalformedEvent)
		assert.Contains(t, err.Error(), "tenant metadata")
	})
}

func TestTranslateStripeEvent_Invoices(t *testing.T) {
	const created = int64(1767225600)

	t.Run("invoice.paid maps to payment succeeded", func(t *testing.T) {
		payload := stripePayload("invoice.paid", created, `{
			"id": "in_test_1",
			"subscription": "sub_123",
			"customer": "cus_456",
			"period_start": 1764547200,
			"period_end": 1767225600
		}`)

		event, err := translateStripeEvent("invoice.paid", payload)
		require.NoError(t, err)
		assert.Equal(t, subscription.EventPaymentSucceeded, event.Kind)
		assert.Equal(t, "sub_123", event.ExternalSubscriptionID)
		assert.Equal(t, time.Unix(1764547200, 0).UTC(), event.PeriodStart)
		assert.Equal(t, time.Unix(1767225600, 0).UTC(), event.PeriodEnd)
	})

	t.Run("line item period overrides invoice period", func(t *testing.T) {
		payload := stripePayload("invoice.payment_succeeded", created, `{
			"id": "in_test_2",
			"subscription": "sub_123",
			"period_start": 1764547200,
			"period_end": 1767225600,
			"lines": {"data": [{
				"id": "il_test_1",
				"period": {"start": 1767225600, "end": 1769904000}
			}]}
		}`)

		event, err := translateStripeEvent("invoice.payment_succeeded", payload)
		require.NoError(t, err)
		assert.Equal(t, time.Unix(1767225600, 0).UTC(), event.PeriodStart)
		assert.Equal(t, time.Unix(1769904000, 0).UTC(), event.PeriodEnd)
	})

	t.Run("invoice.payment_failed maps to payment failed", func(t *testing.T) {
		payload := stripePayload("invoice.payment_failed", created, `{
			"id": "in_test_3",
			"subscription": "sub_123"
		}`)

		event, err := translateStripeEvent("invoice.payment_failed", payload)
		require.NoError(t, err)
		assert.Equal(t, subscription.EventPaymentFailed, event.Kind)
	})
}

func TestTranslateStripeEvent_SubscriptionLifecycle(t *testing.T) {
	const created = int64(1767225600)

	t.Run("deleted maps to remote cancel", func(t *testing.T) {
		payload := stripePayload("customer.subscription.deleted", created, `{
			"id": "sub_123",
			"customer": "cus_456",
			"status": "canceled"
		}`)

		event, err := translateStripeEvent("customer.subscription.deleted", payload)
		require.NoError(t, err)
		assert.Equal(t, subscription.EventRemoteCanceled, event.Kind)
		assert.Equal(t, "sub_123", event.ExternalSubscriptionID)
		assert.Equal(t, "canceled", event.RemoteStatus)
	})

	t.Run("created maps to remote update", func(t *testing.T) {
		payload := stripePayload("customer.subscription.created", created, `{
			"id": "sub_123",
			"status": "active"
		}`)

		event, err := translateStripeEvent("customer.subscription.created", payload)
		require.NoError(t, err)
		assert.Equal(t, subscription.EventRemoteUpdated, event.Kind)
	})

	t.Run("updated carries period and cancel flag", func(t *testing.T) {
		payload := stripePayload("customer.subscription.updated", created, `{
			"id": "sub_123",
			"status": "active",
			"cancel_at_period_end": true,
			"current_period_start": 1764547200,
			"current_period_end": 1767225600
		}`)

		event, err := translateStripeEvent("customer.subscription.updated", payload)
		require.NoError(t, err)
		assert.Equal(t, subscription.EventRemoteUpdated, event.Kind)
		assert.True(t, event.CancelAtPeriodEnd)
		assert.Equal(t, time.Unix(1764547200, 0).UTC(), event.PeriodStart)
		assert.Equal(t, time.Unix(1767225600, 0).UTC(), event.PeriodEnd)
	})
}

func TestTranslateStripeEvent_Unsupported(t *testing.T) {
	payload := stripePayload("charge.refunded", 1767225600, `{"id": "ch_test_1"}`)

	_, err := translateStripeEvent("charge.refunded", payload)
	require.ErrorIs(t, err, errUnsupportedEvent)
}

func TestMapRemoteStatus(t *testing.T) {
	assert.Equal(t, subscription.StatusActive, mapRemoteStatus("active"))
	assert.Equal(t, subscription.StatusPastDue, mapRemoteStatus("past_due"))
	assert.Equal(t, subscription.StatusIncompleteExpired, mapRemoteStatus("incomplete_expired"))
	assert.Equal(t, subscription.Status(""), mapRemoteStatus("paused"))
}
