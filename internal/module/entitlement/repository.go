package entitlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrOverrideNotFound is returned when an override record does not exist.
var ErrOverrideNotFound = errors.New("override not found")

// Repository defines the interface for override data access.
type Repository interface {
	// Resolution reads; all scoped to records whose window contains asOf.
	GetCustomPricing(ctx context.Context, tenantID uuid.UUID, pluginID string, asOf time.Time) (*TenantCustomPricing, error)
	ListUsageOverrides(ctx context.Context, tenantID uuid.UUID, pluginID string, asOf time.Time) ([]*TenantUsageOverride, error)
	ListFeatureOverrides(ctx context.Context, tenantID uuid.UUID, pluginID string, asOf time.Time) ([]*TenantFeatureOverride, error)

	// Admin CRUD.
	SaveCustomPricing(ctx context.Context, cp *TenantCustomPricing) error
	SaveUsageOverride(ctx context.Context, o *TenantUsageOverride) error
	SaveFeatureOverride(ctx context.Context, o *TenantFeatureOverride) error
	DeleteCustomPricing(ctx context.Context, id uuid.UUID) error
	DeleteUsageOverride(ctx context.Context, id uuid.UUID) error
	DeleteFeatureOverride(ctx context.Context, id uuid.UUID) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a new entitlement repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

// windowScope limits rows to those valid at asOf.
func windowScope(asOf time.Time) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("valid_from <= ? AND (valid_to IS NULL OR valid_to > ?)", asOf, asOf)
	}
}

func (r *repository) GetCustomPricing(ctx context.Context, tenantID uuid.UUID, pluginID string, asOf time.Time) (*TenantCustomPricing, error) {
	var cp TenantCustomPricing
	err := r.db.WithContext(ctx).
		Scopes(windowScope(asOf)).
		Where("tenant_id = ? AND plugin_id = ?", tenantID, pluginID).
		Order("valid_from DESC").
		First(&cp).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOverrideNotFound
		}
		return nil, fmt.Errorf("get custom pricing: %w", err)
	}
	return &cp, nil
}

func (r *repository) ListUsageOverrides(ctx context.Context, tenantID uuid.UUID, pluginID string, asOf time.Time) ([]*TenantUsageOverride, error) {
	var overrides []*TenantUsageOverride
	err := r.db.WithContext(ctx).
		Scopes(windowScope(asOf)).
		Where("tenant_id = ? AND plugin_id = ?", tenantID, pluginID).
		Order("valid_from ASC").
		Find(&overrides).Error
	if err != nil {
		return nil, fmt.Errorf("list usage overrides: %w", err)
	}
	return overrides, nil
}

func (r *repository) ListFeatureOverrides(ctx context.Context, tenantID uuid.UUID, pluginID string, asOf time.Time) ([]*TenantFeatureOverride, error) {
	var overrides []*TenantFeatureOverride
	err := r.db.WithContext(ctx).
		Scopes(windowScope(asOf)).
		Where("tenant_id = ? AND plugin_id = ?", tenantID, pluginID).
		Order("valid_from ASC").
		Find(&overrides).Error
	if err != nil {
		return nil, fmt.Errorf("list feature overrides: %w", err)
	}
	return overrides, nil
}

func (r *repository) SaveCustomPricing(ctx context.Context, cp *TenantCustomPricing) error {
	if err := r.db.WithContext(ctx).Save(cp).Error; err != nil {
		return fmt.Errorf("save custom pricing: %w", err)
	}
	return nil
}

func (r *repository) SaveUsageOverride(ctx context.Context, o *TenantUsageOverride) error {
	if err := r.db.WithContext(ctx).Save(o).Error; err != nil {
		return fmt.Errorf("save usage override: %w", err)
	}
	return nil
}

func (r *repository) SaveFeatureOverride(ctx context.Context, o *TenantFeatureOverride) error {
	if err := r.db.WithContext(ctx).Save(o).Error; err != nil {
		return fmt.Errorf("save feature override: %w", err)
	}
	return nil
}

func (r *repository) DeleteCustomPricing(ctx context.Context, id uuid.UUID) error {
	return r.deleteByID(ctx, &TenantCustomPricing{}, id)
}

func (r *repository) DeleteUsageOverride(ctx context.Context, id uuid.UUID) error {
	return r.deleteByID(ctx, &TenantUsageOverride{}, id)
}

func (r *repository) DeleteFeatureOverride(ctx context.Context, id uuid.UUID) error {
	return r.deleteByID(ctx, &TenantFeatureOverride{}, id)
}

func (r *repository) deleteByID(ctx context.Context, model interface{}, id uuid.UUID) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(model)
	if res.Error != nil {
		return fmt.Errorf("delete override: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrOverrideNotFound
	}
	return nil
}
