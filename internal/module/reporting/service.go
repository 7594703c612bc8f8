package reporting

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/storecraft/server/internal/module/catalog"
	"github.com/storecraft/server/internal/module/entitlement"
	"github.com/storecraft/server/internal/module/reconciler"
	"github.com/storecraft/server/internal/module/subscription"
	"github.com/storecraft/server/internal/module/usage"
)

// PlanStats aggregates live subscription counts for one plan.
type PlanStats struct {
	PlanID            string `json:"plan_id"`
	Name              string `json:"name"`
	PriceCents        int64  `json:"price_cents"`
	LiveSubscriptions int64  `json:"live_subscriptions"`
	MonthlyCents      int64  `json:"monthly_cents"`
}

// PluginStats is the per-plugin rollup for the admin dashboard.
type PluginStats struct {
	PluginID          string       `json:"plugin_id"`
	Plans             []*PlanStats `json:"plans"`
	LiveSubscriptions int64        `json:"live_subscriptions"`
	MonthlyCents      int64        `json:"monthly_cents"`
}

// TenantOverview is the full billing picture for one tenant+plugin.
type TenantOverview struct {
	TenantID     uuid.UUID                  `json:"tenant_id"`
	PluginID     string                     `json:"plugin_id"`
	Subscription *subscription.Subscription `json:"subscription,omitempty"`
	Limits       catalog.LimitMap           `json:"limits"`
	Features     map[string]bool            `json:"features"`
	Usage        []*usage.Record            `json:"usage"`
	Changes      []*subscription.Change     `json:"changes"`
}

// Service assembles admin reporting views from the other modules. It only
// reads; every mutation goes through the owning module.
type Service struct {
	subs       subscription.Repository
	plans      catalog.ServiceInterface
	resolver   *entitlement.Resolver
	usage      *usage.Ledger
	reconciler *reconciler.Service
	logger     *zap.Logger
}

// NewService creates a reporting service.
func NewService(
	subs subscription.Repository,
	plans catalog.ServiceInterface,
	resolver *entitlement.Resolver,
	usageLedger *usage.Ledger,
	rec *reconciler.Service,
	logger *zap.Logger,
) *Service {
	return &Service{
		subs:       subs,
		plans:      plans,
		resolver:   resolver,
		usage:      usageLedger,
		reconciler: rec,
		logger:     logger,
	}
}

// PluginStats returns live subscription counts and gross monthly revenue per
// plan for one plugin.
func (s *Service) PluginStats(ctx context.Context, pluginID string) (*PluginStats, error) {
	counts, err := s.subs.CountLiveByPlugin(ctx, pluginID)
	if err != nil {
		return nil, err
	}
	plans, err := s.plans.ListPlans(ctx, pluginID)
	if err != nil {
		return nil, err
	}

	stats := &PluginStats{PluginID: pluginID}
	seen := make(map[string]bool, len(plans))
	for _, plan := range plans {
		ps := &PlanStats{
			PlanID:            plan.PlanID,
			Name:              plan.Name,
			PriceCents:        plan.PriceCents,
			LiveSubscriptions: counts[plan.PlanID],
		}
		ps.MonthlyCents = monthlyRevenue(plan.PriceCents, plan.Cycle, ps.LiveSubscriptions)
		stats.Plans = append(stats.Plans, ps)
		stats.LiveSubscriptions += ps.LiveSubscriptions
		stats.MonthlyCents += ps.MonthlyCents
		seen[plan.PlanID] = true
	}

	// Live rows can reference plans since removed from the catalog.
	for planID, count := range counts {
		if seen[planID] {
			continue
		}
		stats.Plans = append(stats.Plans, &PlanStats{
			PlanID:            planID,
			LiveSubscriptions: count,
		})
		stats.LiveSubscriptions += count
	}

	return stats, nil
}

// TenantOverview resolves the tenant's subscription, effective entitlements,
// current-period usage and recent change history for one plugin.
func (s *Service) TenantOverview(ctx context.Context, tenantID uuid.UUID, pluginID string) (*TenantOverview, error) {
	overview := &TenantOverview{
		TenantID: tenantID,
		PluginID: pluginID,
	}

	sub, err := s.subs.Current(ctx, tenantID, pluginID)
	if err != nil && !errors.Is(err, subscription.ErrSubscriptionNotFound) {
		return nil, err
	}
	planID := ""
	if sub != nil && sub.IsLive() {
		overview.Subscription = sub
		planID = sub.PlanID
	}

	now := time.Now().UTC()
	limits, err := s.resolver.ResolveLimits(ctx, tenantID, pluginID, planID, now)
	if err != nil {
		return nil, err
	}
	overview.Limits = limits

	features, err := s.resolver.ResolveFeatures(ctx, tenantID, pluginID, planID, now)
	if err != nil {
		return nil, err
	}
	overview.Features = features

	records, err := s.usage.Usage(ctx, tenantID, pluginID)
	if err != nil {
		return nil, err
	}
	overview.Usage = records

	changes, err := s.subs.ListChangesByTenant(ctx, tenantID, 20)
	if err != nil {
		return nil, err
	}
	for _, change := range changes {
		if change.PluginID == pluginID {
			overview.Changes = append(overview.Changes, change)
		}
	}

	return overview, nil
}

// FailedEvents lists events that exhausted processing, for operators.
func (s *Service) FailedEvents(ctx context.Context, limit int) ([]*reconciler.SubscriptionEvent, error) {
	return s.reconciler.ListFailed(ctx, limit)
}

// monthlyRevenue normalizes plan revenue to a per-month figure.
func monthlyRevenue(priceCents int64, cycle catalog.BillingCycle, count int64) int64 {
	total := priceCents * count
	switch cycle {
	case catalog.BillingCycleQuarterly:
		return total / 3
	case catalog.BillingCycleYearly:
		return total / 12
	default:
		return total
	}
}
