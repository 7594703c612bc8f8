package entitlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/storecraft/server/internal/module/catalog"
)

// PlanSource supplies plan defaults for resolution.
type PlanSource interface {
	GetPlan(ctx context.Context, pluginID, planID string) (*catalog.Plan, error)
}

// Resolver computes effective limits and features for a tenant by layering
// overrides on top of the plan catalog. Precedence, lowest to highest:
// plan default, custom pricing, usage override.
type Resolver struct {
	plans  PlanSource
	repo   Repository
	logger *zap.Logger
}

// NewResolver creates a new entitlement resolver.
func NewResolver(plans PlanSource, repo Repository, logger *zap.Logger) *Resolver {
	return &Resolver{
		plans:  plans,
		repo:   repo,
		logger: logger,
	}
}

// ResolveLimits returns the effective limit map for a tenant+plugin+plan at
// asOf. An empty planID yields an empty base map (implicit free plan with no
// metered entitlements beyond overrides).
func (r *Resolver) ResolveLimits(ctx context.Context, tenantID uuid.UUID, pluginID, planID string, asOf time.Time) (catalog.LimitMap, error) {
	limits := catalog.LimitMap{}
	if planID != "" {
		plan, err := r.plans.GetPlan(ctx, pluginID, planID)
		if err != nil {
			return nil, fmt.Errorf("resolve plan limits: %w", err)
		}
		limits = plan.LimitMap()
	}

	cp, err := r.repo.GetCustomPricing(ctx, tenantID, pluginID, asOf)
	if err != nil && !errors.Is(err, ErrOverrideNotFound) {
		return nil, err
	}
	if cp != nil {
		for metric, limit := range cp.Limits.Data() {
			limits[metric] = limit
		}
	}

	overrides, err := r.repo.ListUsageOverrides(ctx, tenantID, pluginID, asOf)
	if err != nil {
		return nil, err
	}
	for _, o := range overrides {
		limits[o.Metric] = o.Limit
	}

	return limits, nil
}

// ResolveLimit returns the effective limit for a single metric, with the
// source layer that supplied it.
func (r *Resolver) ResolveLimit(ctx context.Context, tenantID uuid.UUID, pluginID, planID, metric string, asOf time.Time) (*LimitCheck, error) {
	check := &LimitCheck{Metric: metric, Limit: catalog.Unlimited, Source: "plan"}

	if planID != "" {
		plan, err := r.plans.GetPlan(ctx, pluginID, planID)
		if err != nil {
			return nil, fmt.Errorf("resolve plan limit: %w", err)
		}
		check.Limit = plan.LimitFor(metric)
	}

	cp, err := r.repo.GetCustomPricing(ctx, tenantID, pluginID, asOf)
	if err != nil && !errors.Is(err, ErrOverrideNotFound) {
		return nil, err
	}
	if cp != nil {
		if limit, ok := cp.Limits.Data()[metric]; ok {
			check.Limit = limit
			check.Source = "custom_pricing"
		}
	}

	overrides, err := r.repo.ListUsageOverrides(ctx, tenantID, pluginID, asOf)
	if err != nil {
		return nil, err
	}
	for _, o := range overrides {
		if o.Metric == metric {
			check.Limit = o.Limit
			check.Source = "usage_override"
		}
	}

	return check, nil
}

// ResolveFeatures returns the effective feature set: the plan's capability
// tags adjusted by per-feature toggles.
func (r *Resolver) ResolveFeatures(ctx context.Context, tenantID uuid.UUID, pluginID, planID string, asOf time.Time) (map[string]bool, error) {
	features := map[string]bool{}
	if planID != "" {
		plan, err := r.plans.GetPlan(ctx, pluginID, planID)
		if err != nil {
			return nil, fmt.Errorf("resolve plan features: %w", err)
		}
		features = plan.FeatureSet()
	}

	overrides, err := r.repo.ListFeatureOverrides(ctx, tenantID, pluginID, asOf)
	if err != nil {
		return nil, err
	}
	for _, o := range overrides {
		if o.Enabled {
			features[o.Feature] = true
		} else {
			delete(features, o.Feature)
		}
	}

	return features, nil
}

// HasFeature resolves a single feature toggle.
func (r *Resolver) HasFeature(ctx context.Context, tenantID uuid.UUID, pluginID, planID, feature string, asOf time.Time) (bool, error) {
	features, err := r.ResolveFeatures(ctx, tenantID, pluginID, planID, asOf)
	if err != nil {
		return false, err
	}
	return features[feature], nil
}
