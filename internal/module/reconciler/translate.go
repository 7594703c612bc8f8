package reconciler

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v76"

	"github.com/storecraft/server/internal/module/subscription"
)

// errUnsupportedEvent marks processor event types the reconciler ignores.
var errUnsupportedEvent = fmt.Errorf("unsupported event type")

// errMalformedEvent marks payloads no retry can fix: undecodable bodies or
// events missing the metadata that correlates them to a tenant.
var errMalformedEvent = fmt.Errorf("malformed event")

// translateStripeEvent normalizes a raw Stripe webhook event into the
// ledger's inbound event shape. Unsupported event types return
// errUnsupportedEvent so the caller can record a skip.
func translateStripeEvent(eventType string, payload []byte) (*subscription.InboundEvent, error) {
	var raw stripe.Event
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("%w: decode stripe event: %v", errMalformedEvent, err)
	}

	switch eventType {
	case "checkout.session.completed":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(raw.Data.Raw, &session); err != nil {
			return nil, fmt.Errorf("%w: decode checkout session: %v", errMalformedEvent, err)
		}
		return translateCheckout(&session, raw.Created)

	case "invoice.paid", "invoice.payment_succeeded":
		invoice, err := decodeInvoice(raw.Data.Raw)
		if err != nil {
			return nil, err
		}
		return translateInvoice(invoice, subscription.EventPaymentSucceeded, raw.Created), nil

	case "invoice.payment_failed":
		invoice, err := decodeInvoice(raw.Data.Raw)
		if err != nil {
			return nil, err
		}
		return translateInvoice(invoice, subscription.EventPaymentFailed, raw.Created), nil

	case "customer.subscription.deleted":
		sub, err := decodeSubscription(raw.Data.Raw)
		if err != nil {
			return nil, err
		}
		return translateSubscription(sub, subscription.EventRemoteCanceled, raw.Created), nil

	case "customer.subscription.created", "customer.subscription.updated":
		sub, err := decodeSubscription(raw.Data.Raw)
		if err != nil {
			return nil, err
		}
		return translateSubscription(sub, subscription.EventRemoteUpdated, raw.Created), nil
	}

	return nil, fmt.Errorf("%w: %s", errUnsupportedEvent, eventType)
}

func decodeInvoice(raw json.RawMessage) (*stripe.Invoice, error) {
	var invoice stripe.Invoice
	if err := json.Unmarshal(raw, &invoice); err != nil {
		return nil, fmt.Errorf("%w: decode invoice: %v", errMalformedEvent, err)
	}
	return &invoice, nil
}

func decodeSubscription(raw json.RawMessage) (*stripe.Subscription, error) {
	var sub stripe.Subscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return nil, fmt.Errorf("%w: decode subscription: %v", errMalformedEvent, err)
	}
	return &sub, nil
}

func translateCheckout(session *stripe.CheckoutSession, created int64) (*subscription.InboundEvent, error) {
	tenantID, err := uuid.Parse(session.Metadata[subscription.MetaTenantID])
	if err != nil {
		return nil, fmt.Errorf("%w: checkout session missing tenant metadata: %v", errMalformedEvent, err)
	}

	event := &subscription.InboundEvent{
		Kind:       subscription.EventCheckoutCompleted,
		TenantID:   tenantID,
		PluginID:   session.Metadata[subscription.MetaPluginID],
		PlanID:     session.Metadata[subscription.MetaPlanID],
		OccurredAt: time.Unix(created, 0).UTC(),
	}
	if session.Subscription != nil {
		event.ExternalSubscriptionID = session.Subscription.ID
	}
	if session.Customer != nil {
		event.ExternalCustomerID = session.Customer.ID
	}
	return event, nil
}

func translateInvoice(invoice *stripe.Invoice, kind subscription.EventKind, created int64) *subscription.InboundEvent {
	event := &subscription.InboundEvent{
		Kind:       kind,
		OccurredAt: time.Unix(created, 0).UTC(),
	}
	if invoice.Subscription != nil {
		event.ExternalSubscriptionID = invoice.Subscription.ID
	}
	if invoice.Customer != nil {
		event.ExternalCustomerID = invoice.Customer.ID
	}
	if invoice.PeriodStart > 0 {
		event.PeriodStart = time.Unix(invoice.PeriodStart, 0).UTC()
	}
	if invoice.PeriodEnd > 0 {
		event.PeriodEnd = time.Unix(invoice.PeriodEnd, 0).UTC()
	}
	if invoice.Lines != nil && len(invoice.Lines.Data) > 0 && invoice.Lines.Data[0].Period != nil {
		period := invoice.Lines.Data[0].Period
		event.PeriodStart = time.Unix(period.Start, 0).UTC()
		event.PeriodEnd = time.Unix(period.End, 0).UTC()
	}
	return event
}

func translateSubscription(sub *stripe.Subscription, kind subscription.EventKind, created int64) *subscription.InboundEvent {
	event := &subscription.InboundEvent{
		Kind:                   kind,
		ExternalSubscriptionID: sub.ID,
		RemoteStatus:           string(sub.Status),
		CancelAtPeriodEnd:      sub.CancelAtPeriodEnd,
		OccurredAt:             time.Unix(created, 0).UTC(),
	}
	if sub.Customer != nil {
		event.ExternalCustomerID = sub.Customer.ID
	}
	if sub.CurrentPeriodStart > 0 {
		event.PeriodStart = time.Unix(sub.CurrentPeriodStart, 0).UTC()
	}
	if sub.CurrentPeriodEnd > 0 {
		event.PeriodEnd = time.Unix(sub.CurrentPeriodEnd, 0).UTC()
	}
	return event
}

// mapRemoteStatus converts a processor status string to the ledger status.
func mapRemoteStatus(remote string) subscription.Status {
	status := subscription.Status(remote)
	if status.IsValid() {
		return status
	}
	return ""
}
