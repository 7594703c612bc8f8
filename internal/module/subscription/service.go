package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/storecraft/server/internal/module/catalog"
	"github.com/storecraft/server/internal/module/processor"
	apperrors "github.com/storecraft/server/internal/shared/errors"
)

// Metadata keys stamped onto processor-side objects so webhook events can be
// routed back to the owning tenant.
const (
	MetaTenantID = "tenant_id"
	MetaPluginID = "plugin_id"
	MetaPlanID   = "plan_id"
)

// SubscribeResult is the outcome of a subscribe call: either an immediately
// live subscription (free plans) or a checkout session to complete payment.
type SubscribeResult struct {
	Subscription *Subscription              `json:"subscription,omitempty"`
	Checkout     *processor.CheckoutSession `json:"checkout,omitempty"`
}

// Service orchestrates tenant-facing subscription commands. Remote processor
// calls always happen before the ledger transaction so a failed remote call
// leaves the ledger untouched.
type Service struct {
	ledger   *Ledger
	repo     Repository
	plans    catalog.ServiceInterface
	provider processor.Provider
	logger   *zap.Logger
}

// NewService creates a subscription service.
func NewService(ledger *Ledger, repo Repository, plans catalog.ServiceInterface, provider processor.Provider, logger *zap.Logger) *Service {
	return &Service{
		ledger:   ledger,
		repo:     repo,
		plans:    plans,
		provider: provider,
		logger:   logger,
	}
}

// Current returns the selected subscription for a tenant+plugin pair.
func (s *Service) Current(ctx context.Context, tenantID uuid.UUID, pluginID string) (*Subscription, error) {
	return s.repo.Current(ctx, tenantID, pluginID)
}

// ListByTenant returns all subscription rows for a tenant, newest first.
func (s *Service) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]*Subscription, error) {
	return s.repo.ListByTenant(ctx, tenantID)
}

// History returns the change records for one subscription row.
func (s *Service) History(ctx context.Context, subscriptionID uuid.UUID) ([]*Change, error) {
	return s.repo.ListChanges(ctx, subscriptionID)
}

// Subscribe starts a subscription on the given plan. Free plans activate
// immediately; paid plans return a hosted checkout session and the ledger row
// is opened when the completed-checkout event arrives.
func (s *Service) Subscribe(ctx context.Context, tenantID uuid.UUID, pluginID, planID, successURL, cancelURL string) (*SubscribeResult, error) {
	plan, err := s.plans.GetPlan(ctx, pluginID, planID)
	if err != nil {
		return nil, err
	}

	if plan.IsFree() {
		sub, err := s.ledger.Create(ctx, CreateParams{
			TenantID:  tenantID,
			PluginID:  pluginID,
			PlanID:    planID,
			Initiator: InitiatorTenant,
		})
		if err != nil {
			return nil, err
		}
		return &SubscribeResult{Subscription: sub}, nil
	}

	current, err := s.repo.Current(ctx, tenantID, pluginID)
	if err != nil && !errors.Is(err, ErrSubscriptionNotFound) {
		return nil, err
	}
	if current != nil && current.IsLive() && !current.IsFree() {
		return nil, fmt.Errorf("%w: plan %s", ErrSubscriptionExists, current.PlanID)
	}

	session, err := s.provider.CreateCheckoutSession(ctx, &processor.CheckoutParams{
		PriceID:    priceID(plan),
		SuccessURL: successURL,
		CancelURL:  cancelURL,
		TrialDays:  plan.TrialDays,
		Metadata: map[string]string{
			MetaTenantID: tenantID.String(),
			MetaPluginID: pluginID,
			MetaPlanID:   planID,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrRemoteCall, err)
	}

	s.logger.Info("checkout session created",
		zap.String("tenant_id", tenantID.String()),
		zap.String("plugin_id", pluginID),
		zap.String("plan_id", planID),
		zap.String("session_id", session.ID),
	)
	return &SubscribeResult{Checkout: session}, nil
}

// ChangePlan moves a tenant's live subscription to a different plan.
func (s *Service) ChangePlan(ctx context.Context, tenantID uuid.UUID, pluginID, targetPlanID string, initiator Initiator) (*Subscription, error) {
	return s.ledger.ChangePlan(ctx, ChangeParams{
		TenantID:     tenantID,
		PluginID:     pluginID,
		TargetPlanID: targetPlanID,
		Initiator:    initiator,
	})
}

// Cancel cancels the tenant's subscription. For paid subscriptions the remote
// side is canceled first; a remote failure aborts without a ledger write.
func (s *Service) Cancel(ctx context.Context, tenantID uuid.UUID, pluginID string, immediately bool, initiator Initiator) (*Subscription, error) {
	current, err := s.repo.Current(ctx, tenantID, pluginID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			return nil, ErrNoLiveSubscription
		}
		return nil, err
	}
	if current.IsCanceled() {
		return nil, ErrAlreadyCanceled
	}

	if current.ExternalID() != "" {
		if err := s.provider.CancelSubscription(ctx, current.ExternalID(), immediately); err != nil {
			return nil, fmt.Errorf("%w: %v", apperrors.ErrRemoteCall, err)
		}
	}
	return s.ledger.Cancel(ctx, tenantID, pluginID, immediately, initiator)
}

// UpdateStatus forces the status and period fields of a tenant's current
// subscription. Operators use this to repair drift against the processor; a
// past_due status goes through the dunning path so it is logged the same way
// a failed payment is.
func (s *Service) UpdateStatus(ctx context.Context, tenantID uuid.UUID, pluginID string, state RemoteState) (*Subscription, error) {
	current, err := s.repo.Current(ctx, tenantID, pluginID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			return nil, ErrNoLiveSubscription
		}
		return nil, err
	}
	if state.Status == StatusPastDue {
		return s.ledger.MarkPastDue(ctx, current.ID)
	}
	return s.ledger.Refresh(ctx, current.ID, state)
}

// RenewDue rolls one subscription whose period has elapsed and whose renewal
// is handled locally rather than by processor webhooks.
func (s *Service) RenewDue(ctx context.Context, sub *Subscription, now time.Time) error {
	event := &InboundEvent{Kind: EventRenewalDue, OccurredAt: now}
	c := ClassifyEvent(event, sub, 0, now)
	if c.Kind == TransitionSkip {
		return nil
	}
	_, err := s.ledger.Renew(ctx, sub.ID, time.Time{}, time.Time{}, InitiatorSystem)
	return err
}

// priceID maps a catalog plan to the processor price identifier.
func priceID(plan *catalog.Plan) string {
	if plan.ExternalPriceID != "" {
		return plan.ExternalPriceID
	}
	return fmt.Sprintf("%s:%s", plan.PluginID, plan.PlanID)
}
