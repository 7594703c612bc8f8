package entitlement

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/storecraft/server/internal/module/catalog"
)

// Window is the validity window shared by all override records. A nil End
// means open-ended.
type Window struct {
	ValidFrom time.Time  `json:"valid_from" gorm:"not null"`
	ValidTo   *time.Time `json:"valid_to,omitempty"`
}

// Contains reports whether asOf falls inside the window.
func (w Window) Contains(asOf time.Time) bool {
	if asOf.Before(w.ValidFrom) {
		return false
	}
	return w.ValidTo == nil || asOf.Before(*w.ValidTo)
}

// TenantCustomPricing shadows a plan's price and limit map for one tenant.
type TenantCustomPricing struct {
	ID         uuid.UUID                            `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	TenantID   uuid.UUID                            `json:"tenant_id" gorm:"type:uuid;not null;index:idx_custom_pricing_tenant_plugin"`
	PluginID   string                               `json:"plugin_id" gorm:"not null;index:idx_custom_pricing_tenant_plugin"`
	PriceCents int64                                `json:"price_cents"`
	Currency   string                               `json:"currency" gorm:"default:usd"`
	Limits     datatypes.JSONType[catalog.LimitMap] `json:"limits"`
	Reason     string                               `json:"reason"`
	Window     `gorm:"embedded"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TableName returns the database table name.
func (TenantCustomPricing) TableName() string {
	return "tenant_custom_pricing"
}

// TenantUsageOverride raises or lowers a single metric limit for one tenant.
// It wins over both custom pricing and the plan default.
type TenantUsageOverride struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	TenantID  uuid.UUID `json:"tenant_id" gorm:"type:uuid;not null;index:idx_usage_override_tenant_plugin"`
	PluginID  string    `json:"plugin_id" gorm:"not null;index:idx_usage_override_tenant_plugin"`
	Metric    string    `json:"metric" gorm:"not null"`
	Limit     int64     `json:"limit" gorm:"not null"`
	Reason    string    `json:"reason"`
	Window    `gorm:"embedded"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name.
func (TenantUsageOverride) TableName() string {
	return "tenant_usage_overrides"
}

// TenantFeatureOverride toggles a single feature for one tenant independent
// of the plan's feature set.
type TenantFeatureOverride struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	TenantID  uuid.UUID `json:"tenant_id" gorm:"type:uuid;not null;index:idx_feature_override_tenant_plugin"`
	PluginID  string    `json:"plugin_id" gorm:"not null;index:idx_feature_override_tenant_plugin"`
	Feature   string    `json:"feature" gorm:"not null"`
	Enabled   bool      `json:"enabled" gorm:"not null"`
	Reason    string    `json:"reason"`
	Window    `gorm:"embedded"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name.
func (TenantFeatureOverride) TableName() string {
	return "tenant_feature_overrides"
}

// LimitCheck is the resolved view of one metric at a point in time.
type LimitCheck struct {
	Metric string `json:"metric"`
	Limit  int64  `json:"limit"`
	Source string `json:"source"` // plan, custom_pricing, usage_override
}
