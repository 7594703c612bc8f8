package processor

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// BreakerProvider wraps a Provider with a circuit breaker so a degraded
// processor fails fast instead of tying up reconciler workers. Signature
// verification is local and bypasses the breaker.
type BreakerProvider struct {
	inner   Provider
	breaker *gobreaker.CircuitBreaker[any]
	logger  *zap.Logger
}

// NewBreakerProvider wraps the given provider.
func NewBreakerProvider(inner Provider, logger *zap.Logger) *BreakerProvider {
	settings := gobreaker.Settings{
		Name:    inner.Name(),
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("processor breaker state change",
				zap.String("provider", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}
	return &BreakerProvider{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker[any](settings),
		logger:  logger,
	}
}

// Name returns the wrapped provider's name.
func (p *BreakerProvider) Name() string {
	return p.inner.Name()
}

func (p *BreakerProvider) execute(fn func() (any, error)) (any, error) {
	result, err := p.breaker.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, ErrRemoteUnavailable
	}
	return result, err
}

func (p *BreakerProvider) CreateSubscription(ctx context.Context, customerID, priceID string, metadata map[string]string) (*RemoteSubscription, error) {
	result, err := p.execute(func() (any, error) {
		return p.inner.CreateSubscription(ctx, customerID, priceID, metadata)
	})
	if err != nil {
		return nil, err
	}
	return result.(*RemoteSubscription), nil
}

func (p *BreakerProvider) GetSubscription(ctx context.Context, subscriptionID string) (*RemoteSubscription, error) {
	result, err := p.execute(func() (any, error) {
		return p.inner.GetSubscription(ctx, subscriptionID)
	})
	if err != nil {
		return nil, err
	}
	return result.(*RemoteSubscription), nil
}

func (p *BreakerProvider) CancelSubscription(ctx context.Context, subscriptionID string, immediately bool) error {
	_, err := p.execute(func() (any, error) {
		return nil, p.inner.CancelSubscription(ctx, subscriptionID, immediately)
	})
	return err
}

func (p *BreakerProvider) CreateCheckoutSession(ctx context.Context, params *CheckoutParams) (*CheckoutSession, error) {
	result, err := p.execute(func() (any, error) {
		return p.inner.CreateCheckoutSession(ctx, params)
	})
	if err != nil {
		return nil, err
	}
	return result.(*CheckoutSession), nil
}

func (p *BreakerProvider) CreateRefund(ctx context.Context, chargeID string, amount int64, reason string) (*Refund, error) {
	result, err := p.execute(func() (any, error) {
		return p.inner.CreateRefund(ctx, chargeID, amount, reason)
	})
	if err != nil {
		return nil, err
	}
	return result.(*Refund), nil
}

func (p *BreakerProvider) VerifyWebhookSignature(payload []byte, signature string) error {
	return p.inner.VerifyWebhookSignature(payload, signature)
}
