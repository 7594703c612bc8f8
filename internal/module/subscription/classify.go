package subscription

import (
	"time"

	"github.com/google/uuid"
)

// EventKind is the normalized kind of an inbound billing event after the
// processor-specific event type has been translated.
type EventKind string

const (
	EventPaymentSucceeded  EventKind = "payment_succeeded"
	EventPaymentFailed     EventKind = "payment_failed"
	EventRemoteCanceled    EventKind = "remote_canceled"
	EventRemoteUpdated     EventKind = "remote_updated"
	EventCheckoutCompleted EventKind = "checkout_completed"
	EventRenewalDue        EventKind = "renewal_due"
)

// InboundEvent is a processor webhook (or internal scheduler tick) normalized
// into the fields the ledger cares about.
type InboundEvent struct {
	Kind                   EventKind
	ExternalSubscriptionID string
	ExternalCustomerID     string
	TenantID               uuid.UUID
	PluginID               string
	PlanID                 string
	RemoteStatus           string
	PeriodStart            time.Time
	PeriodEnd              time.Time
	CancelAtPeriodEnd      bool
	OccurredAt             time.Time
}

// TransitionKind is the ledger transition an inbound event maps to.
type TransitionKind string

const (
	TransitionActivate     TransitionKind = "activate"
	TransitionRenew        TransitionKind = "renew"
	TransitionRefresh      TransitionKind = "refresh"
	TransitionPastDue      TransitionKind = "past_due"
	TransitionCancelToFree TransitionKind = "cancel_to_free"
	TransitionSkip         TransitionKind = "skip"
)

// Classification is the outcome of classifying one inbound event against the
// current subscription row.
type Classification struct {
	Kind   TransitionKind
	Reason string
}

func skip(reason string) Classification {
	return Classification{Kind: TransitionSkip, Reason: reason}
}

// ClassifyEvent maps an inbound event plus the current subscription row to
// the ledger transition to apply. All event-driven transition decisions go
// through here so the rules live in one place.
//
// A successful payment within activationGrace of the row's creation is the
// initial charge for that row, not a renewal, so it only refreshes fields.
func ClassifyEvent(event *InboundEvent, current *Subscription, activationGrace time.Duration, now time.Time) Classification {
	switch event.Kind {
	case EventCheckoutCompleted:
		if current != nil && current.IsLive() && !current.IsFree() &&
			current.ExternalID() == event.ExternalSubscriptionID {
			return skip("checkout already applied")
		}
		return Classification{Kind: TransitionActivate}

	case EventPaymentSucceeded:
		if current == nil {
			return skip("no subscription for external id")
		}
		if !current.IsLive() {
			return skip("payment for non-live subscription")
		}
		if now.Sub(current.CreatedAt) <= activationGrace {
			return Classification{Kind: TransitionRefresh, Reason: "initial payment"}
		}
		return Classification{Kind: TransitionRenew}

	case EventPaymentFailed:
		if current == nil {
			return skip("no subscription for external id")
		}
		if !current.IsLive() {
			return skip("stale payment failure")
		}
		return Classification{Kind: TransitionPastDue}

	case EventRemoteCanceled:
		if current == nil {
			return skip("no subscription for external id")
		}
		if !current.IsLive() {
			return skip("already canceled")
		}
		return Classification{Kind: TransitionCancelToFree}

	case EventRemoteUpdated:
		if current == nil {
			return skip("no subscription for external id")
		}
		return Classification{Kind: TransitionRefresh}

	case EventRenewalDue:
		if current == nil || !current.IsLive() {
			return skip("no live subscription to renew")
		}
		if !current.AutoRenew || current.CancelAtPeriodEnd {
			return skip("auto-renew disabled")
		}
		if now.Before(current.CurrentPeriodEnd) {
			return skip("period not elapsed")
		}
		return Classification{Kind: TransitionRenew}
	}

	return skip("unknown event kind")
}
