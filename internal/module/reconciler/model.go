package reconciler

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// EventStatus tracks an inbound event through processing.
type EventStatus string

const (
	EventPending   EventStatus = "pending"
	EventProcessed EventStatus = "processed"
	EventFailed    EventStatus = "failed"
	EventSkipped   EventStatus = "skipped"
	// EventMalformed marks events no retry can fix: undecodable payloads,
	// missing correlating metadata, references to unknown plans. They stay
	// on the failed-events surface but never re-enter the retry sweep.
	EventMalformed EventStatus = "malformed"
)

// SubscriptionEvent is one inbound processor event, persisted before
// processing. The unique external event id is the dedupe key: redeliveries
// hit the existing row and are acknowledged without reprocessing.
type SubscriptionEvent struct {
	ID              uuid.UUID         `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	ExternalEventID string            `json:"external_event_id" gorm:"not null;uniqueIndex"`
	Provider        string            `json:"provider" gorm:"not null"`
	EventType       string            `json:"event_type" gorm:"not null;index"`
	Status          EventStatus       `json:"status" gorm:"not null;default:pending;index"`
	Payload         datatypes.JSON    `json:"payload"`
	Error           string            `json:"error,omitempty"`
	RetryCount      int               `json:"retry_count" gorm:"not null;default:0"`
	ProcessedAt     *time.Time        `json:"processed_at,omitempty"`
	ReceivedAt      time.Time         `json:"received_at" gorm:"not null"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// TableName returns the database table name.
func (SubscriptionEvent) TableName() string {
	return "subscription_events"
}

// IsTerminal reports whether the event needs no further attempts.
func (e *SubscriptionEvent) IsTerminal() bool {
	return e.Status == EventProcessed || e.Status == EventSkipped || e.Status == EventMalformed
}
