package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/storecraft/server/internal/module/catalog"
	"github.com/storecraft/server/internal/shared/events"
)

// UsageSeeder seeds and resets usage counters inside the ledger transaction.
// The usage module provides the implementation; tx lets the writes join the
// ledger's transaction so a rollback leaves no orphan counters.
type UsageSeeder interface {
	SeedZero(ctx context.Context, tx *gorm.DB, sub *Subscription, metrics []string) error
	ResetCalendar(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, pluginID string) error
}

// Ledger applies subscription state transitions. Each transition runs in one
// database transaction covering the subscription rows, the change records and
// the seeded usage counters. Remote processor calls never happen in here;
// callers talk to the processor first and feed the outcome in.
type Ledger struct {
	repo   Repository
	plans  catalog.ServiceInterface
	seeder UsageSeeder
	bus    *events.Bus
	logger *zap.Logger
}

// NewLedger creates a subscription ledger.
func NewLedger(repo Repository, plans catalog.ServiceInterface, seeder UsageSeeder, bus *events.Bus, logger *zap.Logger) *Ledger {
	return &Ledger{
		repo:   repo,
		plans:  plans,
		seeder: seeder,
		bus:    bus,
		logger: logger,
	}
}

// Current returns the selected subscription for a tenant+plugin pair.
func (l *Ledger) Current(ctx context.Context, tenantID uuid.UUID, pluginID string) (*Subscription, error) {
	return l.repo.Current(ctx, tenantID, pluginID)
}

// ByExternalID returns the subscription tied to an external subscription id,
// preferring the live row.
func (l *Ledger) ByExternalID(ctx context.Context, externalID string) (*Subscription, error) {
	return l.repo.FindByExternalID(ctx, externalID)
}

// ExternalIDs carries processor-side identifiers onto a new row.
type ExternalIDs struct {
	SubscriptionID string
	CustomerID     string
	ItemID         string
}

func (e ExternalIDs) apply(sub *Subscription) {
	if e.SubscriptionID != "" {
		sub.ExternalSubscriptionID = &e.SubscriptionID
	}
	if e.CustomerID != "" {
		sub.ExternalCustomerID = &e.CustomerID
	}
	if e.ItemID != "" {
		sub.ExternalItemID = &e.ItemID
	}
}

// CreateParams describes a new subscription.
type CreateParams struct {
	TenantID    uuid.UUID
	PluginID    string
	PlanID      string
	Initiator   Initiator
	External    ExternalIDs
	PeriodStart time.Time
	PeriodEnd   time.Time
	Metadata    map[string]any
}

// Create opens the first subscription row for a tenant+plugin pair. A live
// row for the same plan makes the call idempotent; a live row for a different
// plan is a conflict, plan moves go through ChangePlan.
func (l *Ledger) Create(ctx context.Context, params CreateParams) (*Subscription, error) {
	plan, err := l.plans.GetPlan(ctx, params.PluginID, params.PlanID)
	if err != nil {
		return nil, err
	}

	var created *Subscription
	err = l.repo.Transaction(ctx, func(tx *gorm.DB, repo Repository) error {
		existing, err := repo.CurrentForUpdate(ctx, params.TenantID, params.PluginID)
		if err != nil && !errors.Is(err, ErrSubscriptionNotFound) {
			return err
		}
		if existing != nil && existing.IsLive() {
			if existing.PlanID == params.PlanID {
				created = existing
				return nil
			}
			return fmt.Errorf("%w: plan %s", ErrSubscriptionExists, existing.PlanID)
		}

		sub := l.newRow(plan, params.TenantID, params.Initiator, params.External, params.PeriodStart, params.PeriodEnd)
		if params.Metadata != nil {
			sub.Metadata = datatypes.JSONMap(params.Metadata)
		}
		if err := repo.Create(ctx, sub); err != nil {
			return err
		}
		if err := repo.CreateChange(ctx, &Change{
			SubscriptionID: sub.ID,
			TenantID:       sub.TenantID,
			PluginID:       sub.PluginID,
			Type:           ChangeCreated,
			ToPlanID:       sub.PlanID,
			ToAmount:       sub.AmountCents,
			EffectiveAt:    sub.CurrentPeriodStart,
			Initiator:      params.Initiator,
		}); err != nil {
			return err
		}
		if err := l.seeder.SeedZero(ctx, tx, sub, plan.LimitMap().Metrics()); err != nil {
			return err
		}
		created = sub
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.logTransition("subscription created", created, params.Initiator)
	l.bus.Publish(events.NewSubscriptionChangedEvent(
		created.TenantID, created.PluginID, created.ID,
		string(ChangeCreated), "", created.PlanID, string(params.Initiator),
	))
	return created, nil
}

// ChangeParams describes an upgrade or downgrade.
type ChangeParams struct {
	TenantID     uuid.UUID
	PluginID     string
	TargetPlanID string
	Initiator    Initiator
	External     ExternalIDs
	PeriodStart  time.Time
	PeriodEnd    time.Time
}

// ChangePlan closes the current live row and opens a new one on the target
// plan. The closed row and its change records stay in place so plan history
// survives every upgrade and downgrade.
func (l *Ledger) ChangePlan(ctx context.Context, params ChangeParams) (*Subscription, error) {
	plan, err := l.plans.GetPlan(ctx, params.PluginID, params.TargetPlanID)
	if err != nil {
		return nil, err
	}

	var (
		opened     *Subscription
		changeType ChangeType
		fromPlanID string
	)
	err = l.repo.Transaction(ctx, func(tx *gorm.DB, repo Repository) error {
		current, err := repo.CurrentForUpdate(ctx, params.TenantID, params.PluginID)
		if err != nil {
			if errors.Is(err, ErrSubscriptionNotFound) {
				return ErrNoLiveSubscription
			}
			return err
		}
		if !current.IsLive() {
			return ErrNoLiveSubscription
		}
		if current.PlanID == params.TargetPlanID {
			opened = current
			return nil
		}

		now := time.Now().UTC()
		fromPlanID = current.PlanID
		changeType = ChangeUpgraded
		if plan.PriceCents < current.AmountCents {
			changeType = ChangeDowngraded
		}

		if err := l.closeRow(ctx, repo, current, now, fmt.Sprintf("superseded by plan %s", params.TargetPlanID), params.Initiator); err != nil {
			return err
		}

		external := params.External
		if external.SubscriptionID == "" && current.ExternalSubscriptionID != nil {
			external = ExternalIDs{
				SubscriptionID: current.ExternalID(),
			}
			if current.ExternalCustomerID != nil {
				external.CustomerID = *current.ExternalCustomerID
			}
			if current.ExternalItemID != nil {
				external.ItemID = *current.ExternalItemID
			}
		}

		sub := l.newRow(plan, params.TenantID, params.Initiator, external, params.PeriodStart, params.PeriodEnd)
		if err := repo.Create(ctx, sub); err != nil {
			return err
		}
		// The new row gets both a created record and the direction record, so
		// its history reads the same as any other row's.
		if err := repo.CreateChange(ctx, &Change{
			SubscriptionID: sub.ID,
			TenantID:       sub.TenantID,
			PluginID:       sub.PluginID,
			Type:           ChangeCreated,
			ToPlanID:       sub.PlanID,
			ToAmount:       sub.AmountCents,
			EffectiveAt:    now,
			Initiator:      params.Initiator,
		}); err != nil {
			return err
		}
		if err := repo.CreateChange(ctx, &Change{
			SubscriptionID: sub.ID,
			TenantID:       sub.TenantID,
			PluginID:       sub.PluginID,
			Type:           changeType,
			FromPlanID:     current.PlanID,
			ToPlanID:       sub.PlanID,
			FromAmount:     current.AmountCents,
			ToAmount:       sub.AmountCents,
			EffectiveAt:    now,
			Initiator:      params.Initiator,
		}); err != nil {
			return err
		}
		if current.IsFree() && !plan.IsFree() {
			if err := l.seeder.ResetCalendar(ctx, tx, params.TenantID, params.PluginID); err != nil {
				return err
			}
		}
		if err := l.seeder.SeedZero(ctx, tx, sub, plan.LimitMap().Metrics()); err != nil {
			return err
		}
		opened = sub
		return nil
	})
	if err != nil {
		return nil, err
	}

	if fromPlanID != "" {
		l.logTransition("subscription plan changed", opened, params.Initiator)
		l.bus.Publish(events.NewSubscriptionChangedEvent(
			opened.TenantID, opened.PluginID, opened.ID,
			string(changeType), fromPlanID, opened.PlanID, string(params.Initiator),
		))
	}
	return opened, nil
}

// Renew rolls a live subscription into its next billing period: the current
// row is closed and a new row opens on the same plan and amount. A renewal
// whose period the ledger already holds refreshes fields and returns the
// committed row, so redelivered payment events cannot double-roll.
func (l *Ledger) Renew(ctx context.Context, subscriptionID uuid.UUID, periodStart, periodEnd time.Time, initiator Initiator) (*Subscription, error) {
	var renewed *Subscription
	err := l.repo.Transaction(ctx, func(tx *gorm.DB, repo Repository) error {
		current, err := l.lockLatest(ctx, repo, subscriptionID)
		if err != nil {
			return err
		}
		if !current.IsLive() {
			return ErrNoLiveSubscription
		}
		if !periodStart.IsZero() && !current.CurrentPeriodStart.Before(periodStart) {
			renewed = l.refreshPeriod(current, periodStart, periodEnd)
			return repo.Update(ctx, renewed)
		}

		plan, err := l.plans.GetPlan(ctx, current.PluginID, current.PlanID)
		if err != nil && !errors.Is(err, catalog.ErrPlanNotFound) {
			return err
		}

		now := time.Now().UTC()
		start, end := periodStart, periodEnd
		if start.IsZero() {
			start = current.CurrentPeriodEnd
			end = catalog.BillingCycle(current.Cycle).Add(start)
		}

		if err := l.closeRow(ctx, repo, current, now, "rolled into next period", initiator); err != nil {
			return err
		}

		next := &Subscription{
			TenantID:               current.TenantID,
			PluginID:               current.PluginID,
			PlanID:                 current.PlanID,
			Status:                 StatusActive,
			AmountCents:            current.AmountCents,
			Currency:               current.Currency,
			Cycle:                  current.Cycle,
			CurrentPeriodStart:     start,
			CurrentPeriodEnd:       end,
			AutoRenew:              current.AutoRenew,
			ExternalSubscriptionID: current.ExternalSubscriptionID,
			ExternalCustomerID:     current.ExternalCustomerID,
			ExternalItemID:         current.ExternalItemID,
			Metadata:               current.Metadata,
		}
		if err := repo.Create(ctx, next); err != nil {
			return err
		}
		if err := repo.CreateChange(ctx, &Change{
			SubscriptionID: next.ID,
			TenantID:       next.TenantID,
			PluginID:       next.PluginID,
			Type:           ChangeRenewed,
			FromPlanID:     current.PlanID,
			ToPlanID:       next.PlanID,
			FromAmount:     current.AmountCents,
			ToAmount:       next.AmountCents,
			EffectiveAt:    start,
			Initiator:      initiator,
		}); err != nil {
			return err
		}
		metrics := []string{}
		if plan != nil {
			metrics = plan.LimitMap().Metrics()
		}
		if err := l.seeder.SeedZero(ctx, tx, next, metrics); err != nil {
			return err
		}
		renewed = next
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.logTransition("subscription renewed", renewed, initiator)
	l.bus.Publish(events.NewSubscriptionChangedEvent(
		renewed.TenantID, renewed.PluginID, renewed.ID,
		string(ChangeRenewed), renewed.PlanID, renewed.PlanID, string(initiator),
	))
	return renewed, nil
}

// MarkPastDue flips a live subscription to past_due after a failed payment.
// Entitlements stay resolvable; only the status changes.
func (l *Ledger) MarkPastDue(ctx context.Context, subscriptionID uuid.UUID) (*Subscription, error) {
	var sub *Subscription
	err := l.repo.Transaction(ctx, func(tx *gorm.DB, repo Repository) error {
		current, err := l.lockLatest(ctx, repo, subscriptionID)
		if err != nil {
			return err
		}
		if current.Status == StatusPastDue {
			sub = current
			return nil
		}
		if !current.IsLive() {
			return ErrNoLiveSubscription
		}
		current.Status = StatusPastDue
		if err := repo.Update(ctx, current); err != nil {
			return err
		}
		sub = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.logger.Warn("subscription past due",
		zap.String("subscription_id", sub.ID.String()),
		zap.String("tenant_id", sub.TenantID.String()),
		zap.String("plugin_id", sub.PluginID),
	)
	return sub, nil
}

// RemoteState is the field-level snapshot used for a refresh.
type RemoteState struct {
	Status            Status
	PeriodStart       time.Time
	PeriodEnd         time.Time
	CancelAtPeriodEnd bool
}

// Refresh syncs status and period fields from the remote snapshot without
// creating rows or change records.
func (l *Ledger) Refresh(ctx context.Context, subscriptionID uuid.UUID, state RemoteState) (*Subscription, error) {
	var sub *Subscription
	err := l.repo.Transaction(ctx, func(tx *gorm.DB, repo Repository) error {
		current, err := l.lockLatest(ctx, repo, subscriptionID)
		if err != nil {
			return err
		}
		if state.Status != "" && state.Status.IsValid() {
			current.Status = state.Status
		}
		if !state.PeriodStart.IsZero() {
			current.CurrentPeriodStart = state.PeriodStart
		}
		if !state.PeriodEnd.IsZero() {
			current.CurrentPeriodEnd = state.PeriodEnd
		}
		current.CancelAtPeriodEnd = state.CancelAtPeriodEnd
		if err := repo.Update(ctx, current); err != nil {
			return err
		}
		sub = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// CancelToFree closes the paid row after a remote cancellation and opens a
// zero-amount free row so the tenant keeps baseline access. Without a free
// plan in the catalog the tenant is left with no live subscription.
func (l *Ledger) CancelToFree(ctx context.Context, subscriptionID uuid.UUID, initiator Initiator) (*Subscription, error) {
	var (
		closed *Subscription
		opened *Subscription
	)
	err := l.repo.Transaction(ctx, func(tx *gorm.DB, repo Repository) error {
		current, err := l.lockLatest(ctx, repo, subscriptionID)
		if err != nil {
			return err
		}
		if !current.IsLive() {
			closed = current
			return nil
		}

		now := time.Now().UTC()
		if err := l.closeRow(ctx, repo, current, now, "canceled by processor", initiator); err != nil {
			return err
		}
		closed = current

		if current.IsFree() {
			return nil
		}

		freePlan, err := l.plans.GetPlan(ctx, current.PluginID, PlanFree)
		if err != nil {
			if errors.Is(err, catalog.ErrPlanNotFound) {
				return nil
			}
			return err
		}

		free := l.newRow(freePlan, current.TenantID, initiator, ExternalIDs{}, now, freePlan.Cycle.Add(now))
		if err := repo.Create(ctx, free); err != nil {
			return err
		}
		if err := repo.CreateChange(ctx, &Change{
			SubscriptionID: free.ID,
			TenantID:       free.TenantID,
			PluginID:       free.PluginID,
			Type:           ChangeCreated,
			FromPlanID:     current.PlanID,
			ToPlanID:       free.PlanID,
			FromAmount:     current.AmountCents,
			EffectiveAt:    now,
			Reason:         "fallback after remote cancellation",
			Initiator:      initiator,
		}); err != nil {
			return err
		}
		if err := l.seeder.SeedZero(ctx, tx, free, freePlan.LimitMap().Metrics()); err != nil {
			return err
		}
		opened = free
		return nil
	})
	if err != nil {
		return nil, err
	}

	result := closed
	toPlan := ""
	if opened != nil {
		result = opened
		toPlan = opened.PlanID
	}
	l.logTransition("subscription canceled to free", result, initiator)
	l.bus.Publish(events.NewSubscriptionChangedEvent(
		closed.TenantID, closed.PluginID, result.ID,
		string(ChangeCanceled), closed.PlanID, toPlan, string(initiator),
	))
	return result, nil
}

// Cancel cancels the tenant's live subscription, either immediately or at the
// period end. Canceling an already-canceled subscription is an error.
func (l *Ledger) Cancel(ctx context.Context, tenantID uuid.UUID, pluginID string, immediately bool, initiator Initiator) (*Subscription, error) {
	var sub *Subscription
	err := l.repo.Transaction(ctx, func(tx *gorm.DB, repo Repository) error {
		current, err := repo.CurrentForUpdate(ctx, tenantID, pluginID)
		if err != nil {
			if errors.Is(err, ErrSubscriptionNotFound) {
				return ErrNoLiveSubscription
			}
			return err
		}
		if current.IsCanceled() {
			return ErrAlreadyCanceled
		}
		if !current.IsLive() {
			return ErrNoLiveSubscription
		}

		now := time.Now().UTC()
		if immediately {
			if err := l.closeRow(ctx, repo, current, now, "canceled by request", initiator); err != nil {
				return err
			}
		} else {
			current.CancelAtPeriodEnd = true
			current.AutoRenew = false
			current.CanceledAt = &now
			if err := repo.Update(ctx, current); err != nil {
				return err
			}
			if err := repo.CreateChange(ctx, &Change{
				SubscriptionID: current.ID,
				TenantID:       current.TenantID,
				PluginID:       current.PluginID,
				Type:           ChangeCanceled,
				FromPlanID:     current.PlanID,
				FromAmount:     current.AmountCents,
				EffectiveAt:    current.CurrentPeriodEnd,
				Reason:         "cancel at period end",
				Initiator:      initiator,
			}); err != nil {
				return err
			}
		}
		sub = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.logTransition("subscription canceled", sub, initiator)
	l.bus.Publish(events.NewSubscriptionChangedEvent(
		sub.TenantID, sub.PluginID, sub.ID,
		string(ChangeCanceled), sub.PlanID, "", string(initiator),
	))
	return sub, nil
}

// lockLatest re-reads the row under lock and, when the row was already closed
// by a concurrent transition, follows the external id to the live successor.
func (l *Ledger) lockLatest(ctx context.Context, repo Repository, subscriptionID uuid.UUID) (*Subscription, error) {
	sub, err := repo.GetByID(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub.IsLive() || sub.ExternalSubscriptionID == nil {
		return repo.CurrentForUpdate(ctx, sub.TenantID, sub.PluginID)
	}
	return repo.FindByExternalIDForUpdate(ctx, sub.ExternalID())
}

func (l *Ledger) newRow(plan *catalog.Plan, tenantID uuid.UUID, initiator Initiator, external ExternalIDs, periodStart, periodEnd time.Time) *Subscription {
	now := time.Now().UTC()
	if periodStart.IsZero() {
		periodStart = now
	}
	if periodEnd.IsZero() {
		periodEnd = plan.Cycle.Add(periodStart)
	}

	sub := &Subscription{
		TenantID:           tenantID,
		PluginID:           plan.PluginID,
		PlanID:             plan.PlanID,
		Status:             StatusActive,
		AmountCents:        plan.PriceCents,
		Currency:           plan.Currency,
		Cycle:              plan.Cycle.String(),
		CurrentPeriodStart: periodStart,
		CurrentPeriodEnd:   periodEnd,
		AutoRenew:          true,
	}
	if plan.TrialDays > 0 && initiator != InitiatorProcessor {
		trialEnd := periodStart.AddDate(0, 0, plan.TrialDays)
		sub.Status = StatusTrialing
		sub.TrialStart = &periodStart
		sub.TrialEnd = &trialEnd
	}
	external.apply(sub)
	return sub
}

func (l *Ledger) closeRow(ctx context.Context, repo Repository, sub *Subscription, at time.Time, reason string, initiator Initiator) error {
	sub.Status = StatusCanceled
	sub.CanceledAt = &at
	sub.AutoRenew = false
	if err := repo.Update(ctx, sub); err != nil {
		return err
	}
	return repo.CreateChange(ctx, &Change{
		SubscriptionID: sub.ID,
		TenantID:       sub.TenantID,
		PluginID:       sub.PluginID,
		Type:           ChangeCanceled,
		FromPlanID:     sub.PlanID,
		FromAmount:     sub.AmountCents,
		EffectiveAt:    at,
		Reason:         reason,
		Initiator:      initiator,
	})
}

func (l *Ledger) refreshPeriod(sub *Subscription, start, end time.Time) *Subscription {
	if !start.IsZero() && sub.CurrentPeriodStart.Equal(start) && !end.IsZero() {
		sub.CurrentPeriodEnd = end
	}
	if sub.Status == StatusPastDue {
		sub.Status = StatusActive
	}
	return sub
}

func (l *Ledger) logTransition(msg string, sub *Subscription, initiator Initiator) {
	l.logger.Info(msg,
		zap.String("subscription_id", sub.ID.String()),
		zap.String("tenant_id", sub.TenantID.String()),
		zap.String("plugin_id", sub.PluginID),
		zap.String("plan_id", sub.PlanID),
		zap.String("status", sub.Status.String()),
		zap.String("initiator", string(initiator)),
	)
}
