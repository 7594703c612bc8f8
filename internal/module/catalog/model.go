package catalog

import (
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"gorm.io/datatypes"
)

// Unlimited marks a metric with no cap.
const Unlimited int64 = -1

// BillingCycle represents the billing period of a plan.
type BillingCycle string

const (
	BillingCycleMonthly   BillingCycle = "monthly"
	BillingCycleQuarterly BillingCycle = "quarterly"
	BillingCycleYearly    BillingCycle = "yearly"
)

// String returns the string representation of the billing cycle.
func (b BillingCycle) String() string {
	return string(b)
}

// IsValid checks if the billing cycle is valid.
func (b BillingCycle) IsValid() bool {
	switch b {
	case BillingCycleMonthly, BillingCycleQuarterly, BillingCycleYearly:
		return true
	}
	return false
}

// Add advances t by one billing period.
func (b BillingCycle) Add(t time.Time) time.Time {
	switch b {
	case BillingCycleQuarterly:
		return t.AddDate(0, 3, 0)
	case BillingCycleYearly:
		return t.AddDate(1, 0, 0)
	default:
		return t.AddDate(0, 1, 0)
	}
}

// LimitMap maps metric names to integer limits. Unlimited (-1) means no cap.
type LimitMap map[string]int64

// Validate checks metric names and limit values.
func (m LimitMap) Validate() error {
	for metric, limit := range m {
		if strings.TrimSpace(metric) == "" {
			return fmt.Errorf("%w: empty metric name", ErrInvalidPlan)
		}
		if limit < Unlimited {
			return fmt.Errorf("%w: metric %q has limit %d", ErrInvalidPlan, metric, limit)
		}
	}
	return nil
}

// Clone returns a copy of the limit map.
func (m LimitMap) Clone() LimitMap {
	out := make(LimitMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Metrics returns the metric names in the map.
func (m LimitMap) Metrics() []string {
	metrics := make([]string, 0, len(m))
	for k := range m {
		metrics = append(metrics, k)
	}
	return metrics
}

// Plan represents a versioned billing plan for a plugin. A plan is identified
// by (PluginID, PlanID); edits only affect subscriptions created afterwards.
type Plan struct {
	PluginID    string         `json:"plugin_id" gorm:"primaryKey"`
	PlanID      string         `json:"plan_id" gorm:"primaryKey"`
	Name        string         `json:"name" gorm:"not null"`
	Description string         `json:"description"`
	PriceCents  int64          `json:"price_cents"`
	Currency    string         `json:"currency" gorm:"default:usd"`
	Cycle       BillingCycle   `json:"billing_cycle" gorm:"default:monthly"`
	TrialDays   int            `json:"trial_days" gorm:"default:0"`
	Features    pq.StringArray `json:"features" gorm:"type:text[]"`
	// ExternalPriceID links the plan to the processor-side price object.
	ExternalPriceID string                       `json:"external_price_id,omitempty"`
	Limits          datatypes.JSONType[LimitMap] `json:"limits"`
	Active          bool                         `json:"active" gorm:"default:true"`
	CreatedAt       time.Time                    `json:"created_at"`
	UpdatedAt       time.Time                    `json:"updated_at"`
}

// TableName returns the database table name.
func (Plan) TableName() string {
	return "plans"
}

// LimitFor returns the configured limit for a metric, or Unlimited when the
// plan does not meter it.
func (p *Plan) LimitFor(metric string) int64 {
	limits := p.Limits.Data()
	if limit, ok := limits[metric]; ok {
		return limit
	}
	return Unlimited
}

// LimitMap returns a copy of the plan's limit map.
func (p *Plan) LimitMap() LimitMap {
	return p.Limits.Data().Clone()
}

// HasFeature returns true if the plan carries the capability tag.
func (p *Plan) HasFeature(feature string) bool {
	for _, f := range p.Features {
		if f == feature {
			return true
		}
	}
	return false
}

// FeatureSet returns the plan features as a set.
func (p *Plan) FeatureSet() map[string]bool {
	set := make(map[string]bool, len(p.Features))
	for _, f := range p.Features {
		set[f] = true
	}
	return set
}

// IsFree returns true for zero-amount plans.
func (p *Plan) IsFree() bool {
	return p.PriceCents == 0
}

// Validate checks the plan at the catalog boundary so call sites can rely on
// typed, well-formed limits and features.
func (p *Plan) Validate() error {
	if strings.TrimSpace(p.PluginID) == "" {
		return fmt.Errorf("%w: missing plugin id", ErrInvalidPlan)
	}
	if strings.TrimSpace(p.PlanID) == "" {
		return fmt.Errorf("%w: missing plan id", ErrInvalidPlan)
	}
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidPlan)
	}
	if p.PriceCents < 0 {
		return fmt.Errorf("%w: negative price", ErrInvalidPlan)
	}
	if p.TrialDays < 0 {
		return fmt.Errorf("%w: negative trial days", ErrInvalidPlan)
	}
	if !p.Cycle.IsValid() {
		return fmt.Errorf("%w: billing cycle %q", ErrInvalidPlan, p.Cycle)
	}
	if len(p.Currency) != 3 {
		return fmt.Errorf("%w: currency %q", ErrInvalidPlan, p.Currency)
	}

	seen := make(map[string]bool, len(p.Features))
	for _, f := range p.Features {
		if strings.TrimSpace(f) == "" {
			return fmt.Errorf("%w: empty feature tag", ErrInvalidPlan)
		}
		if seen[f] {
			return fmt.Errorf("%w: duplicate feature %q", ErrInvalidPlan, f)
		}
		seen[f] = true
	}

	return p.Limits.Data().Validate()
}
