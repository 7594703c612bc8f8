package reconciler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrEventNotFound is returned when no event matches.
var ErrEventNotFound = errors.New("subscription event not found")

// Repository defines the subscription event data access interface.
type Repository interface {
	// Insert stores a new inbound event. The second return value is false
	// when an event with the same external id already exists.
	Insert(ctx context.Context, event *SubscriptionEvent) (bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*SubscriptionEvent, error)
	GetByExternalID(ctx context.Context, externalEventID string) (*SubscriptionEvent, error)
	Update(ctx context.Context, event *SubscriptionEvent) error
	ListRetryable(ctx context.Context, maxRetries, limit int) ([]*SubscriptionEvent, error)
	ListFailed(ctx context.Context, limit int) ([]*SubscriptionEvent, error)
	DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a new reconciler repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Insert(ctx context.Context, event *SubscriptionEvent) (bool, error) {
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "external_event_id"}},
		DoNothing: true,
	}).Create(event)
	if result.Error != nil {
		return false, fmt.Errorf("insert subscription event: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*SubscriptionEvent, error) {
	var event SubscriptionEvent
	err := r.db.WithContext(ctx).First(&event, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("get subscription event: %w", err)
	}
	return &event, nil
}

func (r *repository) GetByExternalID(ctx context.Context, externalEventID string) (*SubscriptionEvent, error) {
	var event SubscriptionEvent
	err := r.db.WithContext(ctx).First(&event, "external_event_id = ?", externalEventID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("get subscription event: %w", err)
	}
	return &event, nil
}

func (r *repository) Update(ctx context.Context, event *SubscriptionEvent) error {
	if err := r.db.WithContext(ctx).Save(event).Error; err != nil {
		return fmt.Errorf("update subscription event: %w", err)
	}
	return nil
}

// ListRetryable returns failed events still under the retry cap, oldest
// first, bounded to one sweep batch.
func (r *repository) ListRetryable(ctx context.Context, maxRetries, limit int) ([]*SubscriptionEvent, error) {
	var events []*SubscriptionEvent
	err := r.db.WithContext(ctx).
		Where("status = ? AND retry_count < ?", EventFailed, maxRetries).
		Order("received_at ASC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("list retryable events: %w", err)
	}
	return events, nil
}

func (r *repository) ListFailed(ctx context.Context, limit int) ([]*SubscriptionEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	var events []*SubscriptionEvent
	err := r.db.WithContext(ctx).
		Where("status IN ?", []EventStatus{EventFailed, EventMalformed}).
		Order("received_at DESC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("list failed events: %w", err)
	}
	return events, nil
}

func (r *repository) DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("status IN ? AND processed_at < ?", []EventStatus{EventProcessed, EventSkipped, EventMalformed}, cutoff).
		Delete(&SubscriptionEvent{})
	if result.Error != nil {
		return 0, fmt.Errorf("prune subscription events: %w", result.Error)
	}
	return result.RowsAffected, nil
}
