package processor

import (
	"context"
	"errors"
)

// Processor errors.
var (
	ErrRemoteUnavailable = errors.New("payment processor unavailable")
	ErrInvalidSignature  = errors.New("invalid webhook signature")
)

// RemoteSubscription is the processor-side view of a subscription.
type RemoteSubscription struct {
	ID                 string
	CustomerID         string
	ItemID             string
	PriceID            string
	Status             string
	CurrentPeriodStart int64
	CurrentPeriodEnd   int64
	CancelAtPeriodEnd  bool
	Metadata           map[string]string
}

// CheckoutSession is a hosted checkout session for a plan purchase.
type CheckoutSession struct {
	ID        string
	URL       string
	ExpiresAt int64
}

// CheckoutParams describes the checkout session to create.
type CheckoutParams struct {
	CustomerID string
	PriceID    string
	SuccessURL string
	CancelURL  string
	TrialDays  int
	Metadata   map[string]string
}

// Refund is the processor-side view of a refund.
type Refund struct {
	ID       string
	ChargeID string
	Amount   int64
	Status   string
}

// Provider is the narrow capability interface through which the platform
// reaches the external payment processor. Callers must treat every method as
// at-least-once: the remote side may retry and redeliver.
type Provider interface {
	// Name returns the provider name.
	Name() string

	// Subscriptions
	CreateSubscription(ctx context.Context, customerID, priceID string, metadata map[string]string) (*RemoteSubscription, error)
	GetSubscription(ctx context.Context, subscriptionID string) (*RemoteSubscription, error)
	CancelSubscription(ctx context.Context, subscriptionID string, immediately bool) error

	// Checkout
	CreateCheckoutSession(ctx context.Context, params *CheckoutParams) (*CheckoutSession, error)

	// Refunds
	CreateRefund(ctx context.Context, chargeID string, amount int64, reason string) (*Refund, error)

	// Webhooks
	VerifyWebhookSignature(payload []byte, signature string) error
}
