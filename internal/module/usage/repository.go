package usage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository defines the usage record data access interface.
type Repository interface {
	Get(ctx context.Context, tenantID uuid.UUID, pluginSlug, metric, periodKey string) (*Record, error)
	ListByPeriod(ctx context.Context, tenantID uuid.UUID, pluginSlug, periodKey string) ([]*Record, error)
	ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]*Record, error)
	IncrementBy(ctx context.Context, tenantID uuid.UUID, pluginSlug, metric, periodKey string, delta int64) (int64, error)
	Set(ctx context.Context, tenantID uuid.UUID, pluginSlug, metric, periodKey string, value int64) error
	SeedZero(ctx context.Context, records []*Record) error
	DeleteCalendarScoped(ctx context.Context, tenantID uuid.UUID, pluginSlug string) error

	// WithTx returns a repository bound to an existing transaction.
	WithTx(tx *gorm.DB) Repository
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a new usage repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{db: tx}
}

func (r *repository) Get(ctx context.Context, tenantID uuid.UUID, pluginSlug, metric, periodKey string) (*Record, error) {
	var record Record
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND plugin_slug = ? AND metric = ? AND period_key = ?",
			tenantID, pluginSlug, metric, periodKey).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get usage record: %w", err)
	}
	return &record, nil
}

func (r *repository) ListByPeriod(ctx context.Context, tenantID uuid.UUID, pluginSlug, periodKey string) ([]*Record, error) {
	var records []*Record
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND plugin_slug = ? AND period_key = ?", tenantID, pluginSlug, periodKey).
		Order("metric ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("list usage records: %w", err)
	}
	return records, nil
}

func (r *repository) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]*Record, error) {
	var records []*Record
	err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("plugin_slug ASC, metric ASC, period_key DESC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("list tenant usage records: %w", err)
	}
	return records, nil
}

// IncrementBy atomically adds delta to the counter, creating the row on
// first use, and returns the new value.
func (r *repository) IncrementBy(ctx context.Context, tenantID uuid.UUID, pluginSlug, metric, periodKey string, delta int64) (int64, error) {
	record := Record{
		TenantID:   tenantID,
		PluginSlug: pluginSlug,
		Metric:     metric,
		PeriodKey:  periodKey,
		Used:       delta,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "tenant_id"}, {Name: "plugin_slug"}, {Name: "metric"}, {Name: "period_key"},
		},
		DoUpdates: clause.Assignments(map[string]any{
			"used":       gorm.Expr("usage_records.used + ?", delta),
			"updated_at": gorm.Expr("NOW()"),
		}),
	}).Create(&record).Error
	if err != nil {
		return 0, fmt.Errorf("increment usage: %w", err)
	}

	current, err := r.Get(ctx, tenantID, pluginSlug, metric, periodKey)
	if err != nil {
		return 0, err
	}
	if current == nil {
		return record.Used, nil
	}
	return current.Used, nil
}

func (r *repository) Set(ctx context.Context, tenantID uuid.UUID, pluginSlug, metric, periodKey string, value int64) error {
	record := Record{
		TenantID:   tenantID,
		PluginSlug: pluginSlug,
		Metric:     metric,
		PeriodKey:  periodKey,
		Used:       value,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "tenant_id"}, {Name: "plugin_slug"}, {Name: "metric"}, {Name: "period_key"},
		},
		DoUpdates: clause.Assignments(map[string]any{
			"used":       value,
			"updated_at": gorm.Expr("NOW()"),
		}),
	}).Create(&record).Error
	if err != nil {
		return fmt.Errorf("set usage: %w", err)
	}
	return nil
}

// SeedZero inserts zero-valued rows, leaving existing counters untouched so
// a replayed transition cannot wipe accumulated usage.
func (r *repository) SeedZero(ctx context.Context, records []*Record) error {
	if len(records) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "tenant_id"}, {Name: "plugin_slug"}, {Name: "metric"}, {Name: "period_key"},
		},
		DoNothing: true,
	}).Create(&records).Error
	if err != nil {
		return fmt.Errorf("seed usage records: %w", err)
	}
	return nil
}

// DeleteCalendarScoped removes calendar-month counters for a tenant+plugin.
// Subscription-scoped rows embed a colon in the period key and are kept, so
// paid-period history survives the reset.
func (r *repository) DeleteCalendarScoped(ctx context.Context, tenantID uuid.UUID, pluginSlug string) error {
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND plugin_slug = ? AND period_key NOT LIKE '%:%'", tenantID, pluginSlug).
		Delete(&Record{}).Error
	if err != nil {
		return fmt.Errorf("delete calendar usage records: %w", err)
	}
	return nil
}
