package usage

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/storecraft/server/internal/module/subscription"
)

// Seeder implements subscription.UsageSeeder: zero-valued counters are
// written inside the subscription ledger's transaction so a rolled-back
// transition leaves no counters behind.
type Seeder struct {
	repo Repository
}

// NewSeeder creates a usage seeder.
func NewSeeder(repo Repository) *Seeder {
	return &Seeder{repo: repo}
}

// SeedZero inserts zero counters for the subscription's metered metrics in
// its period scope. Existing rows are left untouched.
func (s *Seeder) SeedZero(ctx context.Context, tx *gorm.DB, sub *subscription.Subscription, metrics []string) error {
	if len(metrics) == 0 {
		return nil
	}

	periodKey := CalendarPeriodKey(sub.CurrentPeriodStart)
	if !sub.IsFree() {
		periodKey = SubscriptionPeriodKey(sub.ID, sub.CurrentPeriodStart)
	}

	records := make([]*Record, 0, len(metrics))
	for _, metric := range metrics {
		records = append(records, &Record{
			TenantID:   sub.TenantID,
			PluginSlug: sub.PluginID,
			Metric:     metric,
			PeriodKey:  periodKey,
			Used:       0,
		})
	}
	return s.repo.WithTx(tx).SeedZero(ctx, records)
}

// ResetCalendar wipes calendar-scoped counters inside the transaction, used
// when a tenant moves off the free tier.
func (s *Seeder) ResetCalendar(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, pluginID string) error {
	return s.repo.WithTx(tx).DeleteCalendarScoped(ctx, tenantID, pluginID)
}
