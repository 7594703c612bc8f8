package entitlement

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/storecraft/server/internal/module/catalog"
)

type memPlans struct {
	plans map[string]*catalog.Plan
}

func (m *memPlans) GetPlan(ctx context.Context, pluginID, planID string) (*catalog.Plan, error) {
	plan, ok := m.plans[pluginID+"/"+planID]
	if !ok {
		return nil, catalog.ErrPlanNotFound
	}
	return plan, nil
}

type memOverrides struct {
	pricing  []*TenantCustomPricing
	usage    []*TenantUsageOverride
	features []*TenantFeatureOverride
}

func (m *memOverrides) GetCustomPricing(ctx context.Context, tenantID uuid.UUID, pluginID string, asOf time.Time) (*TenantCustomPricing, error) {
	var best *TenantCustomPricing
	for _, cp := range m.pricing {
		if cp.TenantID == tenantID && cp.PluginID == pluginID && cp.Contains(asOf) {
			if best == nil || cp.ValidFrom.After(best.ValidFrom) {
				best = cp
			}
		}
	}
	if best == nil {
		return nil, ErrOverrideNotFound
	}
	return best, nil
}

func (m *memOverrides) ListUsageOverrides(ctx context.Context, tenantID uuid.UUID, pluginID string, asOf time.Time) ([]*TenantUsageOverride, error) {
	var out []*TenantUsageOverride
	for _, o := range m.usage {
		if o.TenantID == tenantID && o.PluginID == pluginID && o.Contains(asOf) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ValidFrom.Before(out[j].ValidFrom) })
	return out, nil
}

func (m *memOverrides) ListFeatureOverrides(ctx context.Context, tenantID uuid.UUID, pluginID string, asOf time.Time) ([]*TenantFeatureOverride, error) {
	var out []*TenantFeatureOverride
	for _, o := range m.features {
		if o.TenantID == tenantID && o.PluginID == pluginID && o.Contains(asOf) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ValidFrom.Before(out[j].ValidFrom) })
	return out, nil
}

func (m *memOverrides) SaveCustomPricing(ctx context.Context, cp *TenantCustomPricing) error { return nil }
func (m *memOverrides) SaveUsageOverride(ctx context.Context, o *TenantUsageOverride) error  { return nil }
func (m *memOverrides) SaveFeatureOverride(ctx context.Context, o *TenantFeatureOverride) error {
	return nil
}
func (m *memOverrides) DeleteCustomPricing(ctx context.Context, id uuid.UUID) error { return nil }
func (m *memOverrides) DeleteUsageOverride(ctx context.Context, id uuid.UUID) error { return nil }
func (m *memOverrides) DeleteFeatureOverride(ctx context.Context, id uuid.UUID) error {
	return nil
}

func window(from time.Time, to *time.Time) Window {
	return Window{ValidFrom: from, ValidTo: to}
}

func TestResolver_LimitPrecedence(t *testing.T) {
	tenantID := uuid.New()
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	past := now.AddDate(0, -1, 0)

	plan := &catalog.Plan{
		PluginID:   "analytics",
		PlanID:     "pro",
		Name:       "Pro",
		PriceCents: 2900,
		Currency:   "usd",
		Cycle:      catalog.BillingCycleMonthly,
		Limits:     datatypes.NewJSONType(catalog.LimitMap{"api_calls": 50}),
	}
	plans := &memPlans{plans: map[string]*catalog.Plan{"analytics/pro": plan}}

	t.Run("plan default applies with no overrides", func(t *testing.T) {
		resolver := NewResolver(plans, &memOverrides{}, zap.NewNop())
		check, err := resolver.ResolveLimit(context.Background(), tenantID, "analytics", "pro", "api_calls", now)
		require.NoError(t, err)
		assert.Equal(t, int64(50), check.Limit)
		assert.Equal(t, "plan", check.Source)
	})

	t.Run("custom pricing shadows plan default", func(t *testing.T) {
		repo := &memOverrides{
			pricing: []*TenantCustomPricing{{
				TenantID: tenantID,
				PluginID: "analytics",
				Limits:   datatypes.NewJSONType(catalog.LimitMap{"api_calls": 200}),
				Window:   window(past, nil),
			}},
		}
		resolver := NewResolver(plans, repo, zap.NewNop())
		check, err := resolver.ResolveLimit(context.Background(), tenantID, "analytics", "pro", "api_calls", now)
		require.NoError(t, err)
		assert.Equal(t, int64(200), check.Limit)
		assert.Equal(t, "custom_pricing", check.Source)
	})

	t.Run("usage override wins over custom pricing", func(t *testing.T) {
		repo := &memOverrides{
			pricing: []*TenantCustomPricing{{
				TenantID: tenantID,
				PluginID: "analytics",
				Limits:   datatypes.NewJSONType(catalog.LimitMap{"api_calls": 200}),
				Window:   window(past, nil),
			}},
			usage: []*TenantUsageOverride{{
				TenantID: tenantID,
				PluginID: "analytics",
				Metric:   "api_calls",
				Limit:    100,
				Window:   window(past, nil),
			}},
		}
		resolver := NewResolver(plans, repo, zap.NewNop())
		check, err := resolver.ResolveLimit(context.Background(), tenantID, "analytics", "pro", "api_calls", now)
		require.NoError(t, err)
		assert.Equal(t, int64(100), check.Limit)
		assert.Equal(t, "usage_override", check.Source)
	})

	t.Run("lapsed override falls back to next layer", func(t *testing.T) {
		expired := now.AddDate(0, 0, -1)
		repo := &memOverrides{
			pricing: []*TenantCustomPricing{{
				TenantID: tenantID,
				PluginID: "analytics",
				Limits:   datatypes.NewJSONType(catalog.LimitMap{"api_calls": 200}),
				Window:   window(past, nil),
			}},
			usage: []*TenantUsageOverride{{
				TenantID: tenantID,
				PluginID: "analytics",
				Metric:   "api_calls",
				Limit:    100,
				Window:   window(past, &expired),
			}},
		}
		resolver := NewResolver(plans, repo, zap.NewNop())
		check, err := resolver.ResolveLimit(context.Background(), tenantID, "analytics", "pro", "api_calls", now)
		require.NoError(t, err)
		assert.Equal(t, int64(200), check.Limit)
		assert.Equal(t, "custom_pricing", check.Source)
	})

	t.Run("unmetered metric is unlimited", func(t *testing.T) {
		resolver := NewResolver(plans, &memOverrides{}, zap.NewNop())
		check, err := resolver.ResolveLimit(context.Background(), tenantID, "analytics", "pro", "exports", now)
		require.NoError(t, err)
		assert.Equal(t, catalog.Unlimited, check.Limit)
	})

	t.Run("empty plan id yields override-only resolution", func(t *testing.T) {
		repo := &memOverrides{
			usage: []*TenantUsageOverride{{
				TenantID: tenantID,
				PluginID: "analytics",
				Metric:   "api_calls",
				Limit:    10,
				Window:   window(past, nil),
			}},
		}
		resolver := NewResolver(plans, repo, zap.NewNop())
		check, err := resolver.ResolveLimit(context.Background(), tenantID, "analytics", "", "api_calls", now)
		require.NoError(t, err)
		assert.Equal(t, int64(10), check.Limit)
	})
}

func TestResolver_ResolveLimits(t *testing.T) {
	tenantID := uuid.New()
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	past := now.AddDate(0, -1, 0)

	plan := &catalog.Plan{
		PluginID: "analytics",
		PlanID:   "pro",
		Limits:   datatypes.NewJSONType(catalog.LimitMap{"api_calls": 50, "exports": 5}),
	}
	plans := &memPlans{plans: map[string]*catalog.Plan{"analytics/pro": plan}}

	repo := &memOverrides{
		usage: []*TenantUsageOverride{{
			TenantID: tenantID,
			PluginID: "analytics",
			Metric:   "api_calls",
			Limit:    500,
			Window:   window(past, nil),
		}},
	}
	resolver := NewResolver(plans, repo, zap.NewNop())

	limits, err := resolver.ResolveLimits(context.Background(), tenantID, "analytics", "pro", now)
	require.NoError(t, err)
	assert.Equal(t, catalog.LimitMap{"api_calls": 500, "exports": 5}, limits)
}

func TestResolver_Features(t *testing.T) {
	tenantID := uuid.New()
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	past := now.AddDate(0, -1, 0)

	plan := &catalog.Plan{
		PluginID: "analytics",
		PlanID:   "pro",
		Features: pq.StringArray{"dashboards", "api_access"},
	}
	plans := &memPlans{plans: map[string]*catalog.Plan{"analytics/pro": plan}}

	repo := &memOverrides{
		features: []*TenantFeatureOverride{
			{
				TenantID: tenantID,
				PluginID: "analytics",
				Feature:  "api_access",
				Enabled:  false,
				Window:   window(past, nil),
			},
			{
				TenantID: tenantID,
				PluginID: "analytics",
				Feature:  "beta_reports",
				Enabled:  true,
				Window:   window(past, nil),
			},
		},
	}
	resolver := NewResolver(plans, repo, zap.NewNop())

	features, err := resolver.ResolveFeatures(context.Background(), tenantID, "analytics", "pro", now)
	require.NoError(t, err)
	assert.True(t, features["dashboards"])
	assert.False(t, features["api_access"])
	assert.True(t, features["beta_reports"])

	has, err := resolver.HasFeature(context.Background(), tenantID, "analytics", "pro", "beta_reports", now)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestWindow_Contains(t *testing.T) {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		window   Window
		asOf     time.Time
		expected bool
	}{
		{"before start", Window{ValidFrom: from, ValidTo: &to}, from.Add(-time.Second), false},
		{"at start is inclusive", Window{ValidFrom: from, ValidTo: &to}, from, true},
		{"inside window", Window{ValidFrom: from, ValidTo: &to}, from.AddDate(0, 0, 15), true},
		{"at end is exclusive", Window{ValidFrom: from, ValidTo: &to}, to, false},
		{"open ended", Window{ValidFrom: from}, to.AddDate(1, 0, 0), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.window.Contains(tt.asOf))
		})
	}
}
