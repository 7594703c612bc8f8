package events

import (
	"time"

	"github.com/google/uuid"
)

// Event type constants.
const (
	SubscriptionChangedType = "SubscriptionChanged"
	QuotaExceededType       = "QuotaExceeded"
)

// Event is the interface all published events implement.
type Event interface {
	EventType() string
	OccurredAt() time.Time
}

// BaseEvent carries fields common to all events.
type BaseEvent struct {
	EventID    uuid.UUID `json:"event_id"`
	Type       string    `json:"type"`
	Occurred   time.Time `json:"occurred_at"`
	EntityID   uuid.UUID `json:"entity_id"`
	EntityKind string    `json:"entity_kind"`
}

// NewBaseEvent creates a BaseEvent.
func NewBaseEvent(eventType string, entityID uuid.UUID, entityKind string) BaseEvent {
	return BaseEvent{
		EventID:    uuid.New(),
		Type:       eventType,
		Occurred:   time.Now().UTC(),
		EntityID:   entityID,
		EntityKind: entityKind,
	}
}

// EventType returns the event type.
func (e BaseEvent) EventType() string {
	return e.Type
}

// OccurredAt returns when the event occurred.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Occurred
}

// SubscriptionChangedEvent is emitted after a ledger transition commits.
// Consumers (notification, provisioning) react outside the transaction.
type SubscriptionChangedEvent struct {
	BaseEvent

	// TenantID is the tenant whose subscription changed.
	TenantID uuid.UUID `json:"tenant_id"`

	// PluginID identifies the plugin the subscription belongs to.
	PluginID string `json:"plugin_id"`

	// SubscriptionID is the resulting subscription row.
	SubscriptionID uuid.UUID `json:"subscription_id"`

	// ChangeType is the ledger change kind (created, upgraded, ...).
	ChangeType string `json:"change_type"`

	FromPlanID string `json:"from_plan_id,omitempty"`
	ToPlanID   string `json:"to_plan_id"`
	Initiator  string `json:"initiator"`
}

// NewSubscriptionChangedEvent creates a SubscriptionChangedEvent.
func NewSubscriptionChangedEvent(
	tenantID uuid.UUID,
	pluginID string,
	subscriptionID uuid.UUID,
	changeType, fromPlanID, toPlanID, initiator string,
) *SubscriptionChangedEvent {
	return &SubscriptionChangedEvent{
		BaseEvent:      NewBaseEvent(SubscriptionChangedType, subscriptionID, "Subscription"),
		TenantID:       tenantID,
		PluginID:       pluginID,
		SubscriptionID: subscriptionID,
		ChangeType:     changeType,
		FromPlanID:     fromPlanID,
		ToPlanID:       toPlanID,
		Initiator:      initiator,
	}
}

// QuotaExceededEvent is emitted when a metered call is rejected over limit.
type QuotaExceededEvent struct {
	BaseEvent

	TenantID   uuid.UUID `json:"tenant_id"`
	PluginSlug string    `json:"plugin_slug"`
	Metric     string    `json:"metric"`
	Current    int64     `json:"current"`
	Limit      int64     `json:"limit"`
}

// NewQuotaExceededEvent creates a QuotaExceededEvent.
func NewQuotaExceededEvent(tenantID uuid.UUID, pluginSlug, metric string, current, limit int64) *QuotaExceededEvent {
	return &QuotaExceededEvent{
		BaseEvent:  NewBaseEvent(QuotaExceededType, tenantID, "Tenant"),
		TenantID:   tenantID,
		PluginSlug: pluginSlug,
		Metric:     metric,
		Current:    current,
		Limit:      limit,
	}
}
