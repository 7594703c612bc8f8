package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository defines the subscription data access interface.
type Repository interface {
	Create(ctx context.Context, sub *Subscription) error
	Update(ctx context.Context, sub *Subscription) error
	GetByID(ctx context.Context, id uuid.UUID) (*Subscription, error)
	Current(ctx context.Context, tenantID uuid.UUID, pluginID string) (*Subscription, error)
	CurrentForUpdate(ctx context.Context, tenantID uuid.UUID, pluginID string) (*Subscription, error)
	ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]*Subscription, error)
	FindByExternalID(ctx context.Context, externalID string) (*Subscription, error)
	FindByExternalIDForUpdate(ctx context.Context, externalID string) (*Subscription, error)
	ListDueForRenewal(ctx context.Context, before time.Time, limit int) ([]*Subscription, error)
	CountLiveByPlan(ctx context.Context, pluginID, planID string) (int64, error)
	CountLiveByPlugin(ctx context.Context, pluginID string) (map[string]int64, error)
	CreateChange(ctx context.Context, change *Change) error
	ListChanges(ctx context.Context, subscriptionID uuid.UUID) ([]*Change, error)
	ListChangesByTenant(ctx context.Context, tenantID uuid.UUID, limit int) ([]*Change, error)

	// Transaction runs fn with a repository bound to one database
	// transaction. The raw handle is passed alongside so cross-module
	// writers can join the same transaction.
	Transaction(ctx context.Context, fn func(tx *gorm.DB, repo Repository) error) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a new subscription repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, sub *Subscription) error {
	if err := r.db.WithContext(ctx).Create(sub).Error; err != nil {
		return fmt.Errorf("create subscription: %w", err)
	}
	return nil
}

func (r *repository) Update(ctx context.Context, sub *Subscription) error {
	if err := r.db.WithContext(ctx).Save(sub).Error; err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	return nil
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	var sub Subscription
	err := r.db.WithContext(ctx).First(&sub, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return &sub, nil
}

// current is the single selection rule for "the tenant's subscription":
// newest live row wins; with no live row the newest row of any status is
// returned so callers can still see a canceled history. Equal creation
// timestamps break toward the lowest id.
func (r *repository) current(ctx context.Context, tenantID uuid.UUID, pluginID string, lock bool) (*Subscription, error) {
	q := r.db.WithContext(ctx).
		Where("tenant_id = ? AND plugin_id = ?", tenantID, pluginID).
		Order("created_at DESC, id ASC")
	if lock {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var sub Subscription
	err := q.Where("status IN ?", LiveStatuses()).First(&sub).Error
	if err == nil {
		return &sub, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("select live subscription: %w", err)
	}

	err = q.First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("select subscription: %w", err)
	}
	return &sub, nil
}

func (r *repository) Current(ctx context.Context, tenantID uuid.UUID, pluginID string) (*Subscription, error) {
	return r.current(ctx, tenantID, pluginID, false)
}

func (r *repository) CurrentForUpdate(ctx context.Context, tenantID uuid.UUID, pluginID string) (*Subscription, error) {
	return r.current(ctx, tenantID, pluginID, true)
}

func (r *repository) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]*Subscription, error) {
	var subs []*Subscription
	err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at DESC, id ASC").
		Find(&subs).Error
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	return subs, nil
}

func (r *repository) findByExternalID(ctx context.Context, externalID string, lock bool) (*Subscription, error) {
	q := r.db.WithContext(ctx).
		Where("external_subscription_id = ?", externalID).
		Order("created_at DESC, id ASC")
	if lock {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var sub Subscription
	err := q.Where("status IN ?", LiveStatuses()).First(&sub).Error
	if err == nil {
		return &sub, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("select subscription by external id: %w", err)
	}

	err = q.First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("select subscription by external id: %w", err)
	}
	return &sub, nil
}

func (r *repository) FindByExternalID(ctx context.Context, externalID string) (*Subscription, error) {
	return r.findByExternalID(ctx, externalID, false)
}

func (r *repository) FindByExternalIDForUpdate(ctx context.Context, externalID string) (*Subscription, error) {
	return r.findByExternalID(ctx, externalID, true)
}

// ListDueForRenewal returns locally-billed live subscriptions whose period
// has elapsed. Processor-billed rows renew from payment events instead.
func (r *repository) ListDueForRenewal(ctx context.Context, before time.Time, limit int) ([]*Subscription, error) {
	if limit <= 0 {
		limit = 100
	}
	var subs []*Subscription
	err := r.db.WithContext(ctx).
		Where("status IN ? AND auto_renew AND NOT cancel_at_period_end", LiveStatuses()).
		Where("external_subscription_id IS NULL AND current_period_end < ?", before).
		Order("current_period_end ASC").
		Limit(limit).
		Find(&subs).Error
	if err != nil {
		return nil, fmt.Errorf("list due subscriptions: %w", err)
	}
	return subs, nil
}

func (r *repository) CountLiveByPlan(ctx context.Context, pluginID, planID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&Subscription{}).
		Where("plugin_id = ? AND plan_id = ? AND status IN ?", pluginID, planID, LiveStatuses()).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count live subscriptions: %w", err)
	}
	return count, nil
}

func (r *repository) CountLiveByPlugin(ctx context.Context, pluginID string) (map[string]int64, error) {
	var rows []struct {
		PlanID string
		Count  int64
	}
	err := r.db.WithContext(ctx).Model(&Subscription{}).
		Select("plan_id, COUNT(*) AS count").
		Where("plugin_id = ? AND status IN ?", pluginID, LiveStatuses()).
		Group("plan_id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("count live by plugin: %w", err)
	}
	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.PlanID] = row.Count
	}
	return counts, nil
}

func (r *repository) CreateChange(ctx context.Context, change *Change) error {
	if err := r.db.WithContext(ctx).Create(change).Error; err != nil {
		return fmt.Errorf("create subscription change: %w", err)
	}
	return nil
}

func (r *repository) ListChanges(ctx context.Context, subscriptionID uuid.UUID) ([]*Change, error) {
	var changes []*Change
	err := r.db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		Order("created_at ASC").
		Find(&changes).Error
	if err != nil {
		return nil, fmt.Errorf("list subscription changes: %w", err)
	}
	return changes, nil
}

func (r *repository) ListChangesByTenant(ctx context.Context, tenantID uuid.UUID, limit int) ([]*Change, error) {
	if limit <= 0 {
		limit = 50
	}
	var changes []*Change
	err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at DESC").
		Limit(limit).
		Find(&changes).Error
	if err != nil {
		return nil, fmt.Errorf("list tenant changes: %w", err)
	}
	return changes, nil
}

func (r *repository) Transaction(ctx context.Context, fn func(tx *gorm.DB, repo Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(tx, &repository{db: tx})
	})
}
