package subscription

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// PlanFree is the plan id of the implicit zero-amount plan a tenant falls
// back to when a paid subscription is canceled remotely.
const PlanFree = "free"

// Status represents the status of a subscription.
type Status string

const (
	StatusTrialing           Status = "trialing"
	StatusActive             Status = "active"
	StatusPastDue            Status = "past_due"
	StatusCanceled           Status = "canceled"
	StatusIncomplete         Status = "incomplete"
	StatusIncompleteExpired  Status = "incomplete_expired"
	StatusUnpaid             Status = "unpaid"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// IsValid checks if the status is valid.
func (s Status) IsValid() bool {
	switch s {
	case StatusTrialing, StatusActive, StatusPastDue, StatusCanceled,
		StatusIncomplete, StatusIncompleteExpired, StatusUnpaid:
		return true
	}
	return false
}

// IsLive returns true for statuses that count against the at-most-one-live
// invariant.
func (s Status) IsLive() bool {
	return s == StatusTrialing || s == StatusActive || s == StatusPastDue
}

// LiveStatuses lists the statuses considered live, for queries.
func LiveStatuses() []Status {
	return []Status{StatusTrialing, StatusActive, StatusPastDue}
}

// Initiator identifies who triggered a ledger transition.
type Initiator string

const (
	InitiatorTenant    Initiator = "tenant"
	InitiatorAdmin     Initiator = "admin"
	InitiatorProcessor Initiator = "processor"
	InitiatorSystem    Initiator = "system"
)

// Subscription is one plan period for a (tenant, plugin) pair. Rows are
// append-mostly: a plan change closes the current row and opens a new one
// instead of mutating plan or amount in place. Only status and
// period-boundary fields change after creation.
type Subscription struct {
	ID         uuid.UUID `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	TenantID   uuid.UUID `json:"tenant_id" gorm:"type:uuid;not null;index:idx_subscriptions_tenant_plugin"`
	PluginID   string    `json:"plugin_id" gorm:"not null;index:idx_subscriptions_tenant_plugin"`
	PlanID     string    `json:"plan_id" gorm:"not null"`
	Status     Status    `json:"status" gorm:"not null;default:active"`
	AmountCents int64    `json:"amount_cents"`
	Currency   string    `json:"currency" gorm:"default:usd"`
	Cycle      string    `json:"billing_cycle" gorm:"default:monthly"`

	CurrentPeriodStart time.Time  `json:"current_period_start"`
	CurrentPeriodEnd   time.Time  `json:"current_period_end"`
	TrialStart         *time.Time `json:"trial_start,omitempty"`
	TrialEnd           *time.Time `json:"trial_end,omitempty"`

	CancelAtPeriodEnd bool       `json:"cancel_at_period_end" gorm:"default:false"`
	CanceledAt        *time.Time `json:"canceled_at,omitempty"`
	AutoRenew         bool       `json:"auto_renew" gorm:"default:true"`

	// External identifiers are shared across plan changes: the processor
	// reuses the remote subscription when we swap prices.
	ExternalSubscriptionID *string `json:"-" gorm:"index"`
	ExternalCustomerID     *string `json:"-"`
	ExternalItemID         *string `json:"-"`

	Metadata datatypes.JSONMap `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name.
func (Subscription) TableName() string {
	return "subscriptions"
}

// IsLive returns true if the subscription counts as live.
func (s *Subscription) IsLive() bool {
	return s.Status.IsLive()
}

// IsCanceled returns true if the subscription is canceled.
func (s *Subscription) IsCanceled() bool {
	return s.Status == StatusCanceled
}

// IsFree returns true for zero-amount subscriptions.
func (s *Subscription) IsFree() bool {
	return s.AmountCents == 0
}

// ExternalID returns the external subscription id, or "".
func (s *Subscription) ExternalID() string {
	if s.ExternalSubscriptionID == nil {
		return ""
	}
	return *s.ExternalSubscriptionID
}

// ChangeType represents the kind of ledger transition recorded.
type ChangeType string

const (
	ChangeCreated    ChangeType = "created"
	ChangeUpgraded   ChangeType = "upgraded"
	ChangeDowngraded ChangeType = "downgraded"
	ChangeCanceled   ChangeType = "canceled"
	ChangeRenewed    ChangeType = "renewed"
)

// Change is an immutable audit record of one ledger transition. Changes are
// never updated or deleted.
type Change struct {
	ID             uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	SubscriptionID uuid.UUID  `json:"subscription_id" gorm:"type:uuid;not null;index"`
	TenantID       uuid.UUID  `json:"tenant_id" gorm:"type:uuid;not null;index"`
	PluginID       string     `json:"plugin_id" gorm:"not null"`
	Type           ChangeType `json:"type" gorm:"not null"`
	FromPlanID     string     `json:"from_plan_id"`
	ToPlanID       string     `json:"to_plan_id"`
	FromAmount     int64      `json:"from_amount_cents"`
	ToAmount       int64      `json:"to_amount_cents"`
	EffectiveAt    time.Time  `json:"effective_at" gorm:"not null"`
	Reason         string     `json:"reason"`
	Initiator      Initiator  `json:"initiator" gorm:"not null"`
	CreatedAt      time.Time  `json:"created_at"`
}

// TableName returns the database table name.
func (Change) TableName() string {
	return "subscription_changes"
}
