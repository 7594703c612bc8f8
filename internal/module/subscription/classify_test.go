package subscription

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func liveSub(status Status, createdAt time.Time) *Subscription {
	extID := "sub_ext_1"
	return &Subscription{
		ID:                     uuid.New(),
		TenantID:               uuid.New(),
		PluginID:               "analytics",
		PlanID:                 "pro",
		Status:                 status,
		AmountCents:            2900,
		CurrentPeriodStart:     createdAt,
		CurrentPeriodEnd:       createdAt.AddDate(0, 1, 0),
		AutoRenew:              true,
		ExternalSubscriptionID: &extID,
		CreatedAt:              createdAt,
	}
}

func TestClassifyEvent_PaymentSucceeded(t *testing.T) {
	now := time.Now().UTC()
	grace := 5 * time.Minute

	tests := []struct {
		name     string
		current  *Subscription
		expected TransitionKind
	}{
		{
			name:     "no subscription is skipped",
			current:  nil,
			expected: TransitionSkip,
		},
		{
			name:     "within grace window refreshes instead of renewing",
			current:  liveSub(StatusActive, now.Add(-2*time.Minute)),
			expected: TransitionRefresh,
		},
		{
			name:     "exactly at grace boundary still refreshes",
			current:  liveSub(StatusActive, now.Add(-grace)),
			expected: TransitionRefresh,
		},
		{
			name:     "past grace window renews",
			current:  liveSub(StatusActive, now.Add(-time.Hour)),
			expected: TransitionRenew,
		},
		{
			name:     "past_due subscription renews on payment",
			current:  liveSub(StatusPastDue, now.Add(-time.Hour)),
			expected: TransitionRenew,
		},
		{
			name:     "canceled subscription is skipped",
			current:  liveSub(StatusCanceled, now.Add(-time.Hour)),
			expected: TransitionSkip,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := &InboundEvent{Kind: EventPaymentSucceeded, OccurredAt: now}
			c := ClassifyEvent(event, tt.current, grace, now)
			assert.Equal(t, tt.expected, c.Kind)
		})
	}
}

func TestClassifyEvent_PaymentFailed(t *testing.T) {
	now := time.Now().UTC()
	event := &InboundEvent{Kind: EventPaymentFailed, OccurredAt: now}

	t.Run("live subscription goes past due", func(t *testing.T) {
		c := ClassifyEvent(event, liveSub(StatusActive, now.Add(-time.Hour)), 0, now)
		assert.Equal(t, TransitionPastDue, c.Kind)
	})

	t.Run("stale failure against canceled subscription is skipped", func(t *testing.T) {
		c := ClassifyEvent(event, liveSub(StatusCanceled, now.Add(-time.Hour)), 0, now)
		assert.Equal(t, TransitionSkip, c.Kind)
		assert.Equal(t, "stale payment failure", c.Reason)
	})

	t.Run("unknown external id is skipped", func(t *testing.T) {
		c := ClassifyEvent(event, nil, 0, now)
		assert.Equal(t, TransitionSkip, c.Kind)
	})
}

func TestClassifyEvent_RemoteCanceled(t *testing.T) {
	now := time.Now().UTC()
	event := &InboundEvent{Kind: EventRemoteCanceled, OccurredAt: now}

	t.Run("live subscription cancels to free", func(t *testing.T) {
		c := ClassifyEvent(event, liveSub(StatusActive, now.Add(-time.Hour)), 0, now)
		assert.Equal(t, TransitionCancelToFree, c.Kind)
	})

	t.Run("redelivered cancel against closed row is skipped", func(t *testing.T) {
		c := ClassifyEvent(event, liveSub(StatusCanceled, now.Add(-time.Hour)), 0, now)
		assert.Equal(t, TransitionSkip, c.Kind)
	})
}

func TestClassifyEvent_CheckoutCompleted(t *testing.T) {
	now := time.Now().UTC()

	t.Run("fresh checkout activates", func(t *testing.T) {
		event := &InboundEvent{Kind: EventCheckoutCompleted, ExternalSubscriptionID: "sub_new", OccurredAt: now}
		c := ClassifyEvent(event, nil, 0, now)
		assert.Equal(t, TransitionActivate, c.Kind)
	})

	t.Run("redelivered checkout for applied subscription is skipped", func(t *testing.T) {
		current := liveSub(StatusActive, now.Add(-time.Minute))
		event := &InboundEvent{
			Kind:                   EventCheckoutCompleted,
			ExternalSubscriptionID: current.ExternalID(),
			OccurredAt:             now,
		}
		c := ClassifyEvent(event, current, 0, now)
		assert.Equal(t, TransitionSkip, c.Kind)
	})
}

func TestClassifyEvent_RenewalDue(t *testing.T) {
	now := time.Now().UTC()

	t.Run("elapsed period renews", func(t *testing.T) {
		sub := liveSub(StatusActive, now.AddDate(0, -2, 0))
		sub.CurrentPeriodEnd = now.Add(-time.Hour)
		c := ClassifyEvent(&InboundEvent{Kind: EventRenewalDue}, sub, 0, now)
		assert.Equal(t, TransitionRenew, c.Kind)
	})

	t.Run("period not elapsed is skipped", func(t *testing.T) {
		sub := liveSub(StatusActive, now.Add(-time.Hour))
		c := ClassifyEvent(&InboundEvent{Kind: EventRenewalDue}, sub, 0, now)
		assert.Equal(t, TransitionSkip, c.Kind)
	})

	t.Run("cancel at period end disables renewal", func(t *testing.T) {
		sub := liveSub(StatusActive, now.AddDate(0, -2, 0))
		sub.CurrentPeriodEnd = now.Add(-time.Hour)
		sub.CancelAtPeriodEnd = true
		c := ClassifyEvent(&InboundEvent{Kind: EventRenewalDue}, sub, 0, now)
		assert.Equal(t, TransitionSkip, c.Kind)
	})
}

func TestClassifyEvent_RemoteUpdated(t *testing.T) {
	now := time.Now().UTC()

	c := ClassifyEvent(&InboundEvent{Kind: EventRemoteUpdated}, liveSub(StatusActive, now), 0, now)
	assert.Equal(t, TransitionRefresh, c.Kind)

	c = ClassifyEvent(&InboundEvent{Kind: EventRemoteUpdated}, nil, 0, now)
	assert.Equal(t, TransitionSkip, c.Kind)
}

func TestClassifyEvent_UnknownKind(t *testing.T) {
	now := time.Now().UTC()
	c := ClassifyEvent(&InboundEvent{Kind: EventKind("mystery")}, liveSub(StatusActive, now), 0, now)
	assert.Equal(t, TransitionSkip, c.Kind)
}
