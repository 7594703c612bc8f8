package catalog

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository defines the interface for plan data access.
type Repository interface {
	GetPlan(ctx context.Context, pluginID, planID string) (*Plan, error)
	ListPlans(ctx context.Context, pluginID string) ([]*Plan, error)
	UpsertPlan(ctx context.Context, plan *Plan) error
	DeletePlan(ctx context.Context, pluginID, planID string) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a new catalog repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) GetPlan(ctx context.Context, pluginID, planID string) (*Plan, error) {
	var plan Plan
	err := r.db.WithContext(ctx).
		Where("plugin_id = ? AND plan_id = ?", pluginID, planID).
		First(&plan).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPlanNotFound
		}
		return nil, fmt.Errorf("get plan: %w", err)
	}
	return &plan, nil
}

func (r *repository) ListPlans(ctx context.Context, pluginID string) ([]*Plan, error) {
	var plans []*Plan
	err := r.db.WithContext(ctx).
		Where("plugin_id = ? AND active = ?", pluginID, true).
		Order("price_cents ASC").
		Find(&plans).Error
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	return plans, nil
}

func (r *repository) UpsertPlan(ctx context.Context, plan *Plan) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "plugin_id"}, {Name: "plan_id"}},
			UpdateAll: true,
		}).
		Create(plan).Error
	if err != nil {
		return fmt.Errorf("upsert plan: %w", err)
	}
	return nil
}

func (r *repository) DeletePlan(ctx context.Context, pluginID, planID string) error {
	res := r.db.WithContext(ctx).
		Where("plugin_id = ? AND plan_id = ?", pluginID, planID).
		Delete(&Plan{})
	if res.Error != nil {
		return fmt.Errorf("delete plan: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrPlanNotFound
	}
	return nil
}
