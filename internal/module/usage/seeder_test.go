package usage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/storecraft/server/internal/module/subscription"
)

type recordingRepo struct {
	Repository

	seeded []*Record
	resets []string
}

func (r *recordingRepo) SeedZero(ctx context.Context, records []*Record) error {
	r.seeded = append(r.seeded, records...)
	return nil
}

func (r *recordingRepo) DeleteCalendarScoped(ctx context.Context, tenantID uuid.UUID, pluginSlug string) error {
	r.resets = append(r.resets, pluginSlug)
	return nil
}

func (r *recordingRepo) WithTx(tx *gorm.DB) Repository {
	return r
}

func TestSeeder_SeedZero(t *testing.T) {
	periodStart := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	t.Run("paid subscription seeds period-scoped counters", func(t *testing.T) {
		repo := &recordingRepo{}
		seeder := NewSeeder(repo)

		sub := &subscription.Subscription{
			ID:                 uuid.New(),
			TenantID:           uuid.New(),
			PluginID:           "analytics",
			PlanID:             "pro",
			AmountCents:        2900,
			CurrentPeriodStart: periodStart,
		}

		err := seeder.SeedZero(context.Background(), nil, sub, []string{"api_calls", "exports"})
		require.NoError(t, err)
		require.Len(t, repo.seeded, 2)

		want := SubscriptionPeriodKey(sub.ID, periodStart)
		for _, rec := range repo.seeded {
			assert.Equal(t, sub.TenantID, rec.TenantID)
			assert.Equal(t, "analytics", rec.PluginSlug)
			assert.Equal(t, want, rec.PeriodKey)
			assert.Zero(t, rec.Used)
		}
		assert.Equal(t, "api_calls", repo.seeded[0].Metric)
		assert.Equal(t, "exports", repo.seeded[1].Metric)
	})

	t.Run("free subscription seeds calendar counters", func(t *testing.T) {
		repo := &recordingRepo{}
		seeder := NewSeeder(repo)

		sub := &subscription.Subscription{
			ID:                 uuid.New(),
			TenantID:           uuid.New(),
			PluginID:           "analytics",
			PlanID:             subscription.PlanFree,
			AmountCents:        0,
			CurrentPeriodStart: periodStart,
		}

		err := seeder.SeedZero(context.Background(), nil, sub, []string{"api_calls"})
		require.NoError(t, err)
		require.Len(t, repo.seeded, 1)
		assert.Equal(t, "2026-03", repo.seeded[0].PeriodKey)
	})

	t.Run("no metrics is a no-op", func(t *testing.T) {
		repo := &recordingRepo{}
		seeder := NewSeeder(repo)

		sub := &subscription.Subscription{ID: uuid.New(), TenantID: uuid.New(), PluginID: "analytics"}
		err := seeder.SeedZero(context.Background(), nil, sub, nil)
		require.NoError(t, err)
		assert.Empty(t, repo.seeded)
	})
}

func TestSeeder_ResetCalendar(t *testing.T) {
	repo := &recordingRepo{}
	seeder := NewSeeder(repo)

	err := seeder.ResetCalendar(context.Background(), nil, uuid.New(), "analytics")
	require.NoError(t, err)
	assert.Equal(t, []string{"analytics"}, repo.resets)
}
