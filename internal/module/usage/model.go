package usage

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Record is the durable usage counter for one (tenant, plugin, metric,
// period). The Redis counter in front of it is a cache; this row is the
// source of truth.
type Record struct {
	ID         uuid.UUID `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	TenantID   uuid.UUID `json:"tenant_id" gorm:"type:uuid;not null;uniqueIndex:idx_usage_records_key"`
	PluginSlug string    `json:"plugin_slug" gorm:"not null;uniqueIndex:idx_usage_records_key"`
	Metric     string    `json:"metric" gorm:"not null;uniqueIndex:idx_usage_records_key"`
	PeriodKey  string    `json:"period_key" gorm:"not null;uniqueIndex:idx_usage_records_key"`
	Used       int64     `json:"used" gorm:"not null;default:0"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TableName returns the database table name.
func (Record) TableName() string {
	return "usage_records"
}

// CalendarPeriodKey returns the period key for calendar-month scoped
// counters, used for free plans and tenants without a subscription.
func CalendarPeriodKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// SubscriptionPeriodKey returns the period key for counters scoped to a paid
// subscription's billing period.
func SubscriptionPeriodKey(subscriptionID uuid.UUID, periodStart time.Time) string {
	return fmt.Sprintf("%s:%s", subscriptionID, periodStart.UTC().Format("2006-01-02"))
}

// IsCalendarKey reports whether a period key is calendar-month scoped.
// Subscription-scoped keys embed the subscription id and a colon.
func IsCalendarKey(periodKey string) bool {
	return !strings.Contains(periodKey, ":")
}

// LimitCheckResult is the outcome of a quota check.
type LimitCheckResult struct {
	Allowed    bool    `json:"allowed"`
	Current    int64   `json:"current"`
	Limit      int64   `json:"limit"`
	Percentage float64 `json:"percentage"`
	Source     string  `json:"source"`
	PeriodKey  string  `json:"period_key"`
}
