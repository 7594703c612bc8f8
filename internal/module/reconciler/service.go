package reconciler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/storecraft/server/internal/module/catalog"
	"github.com/storecraft/server/internal/module/subscription"
	"github.com/storecraft/server/internal/shared/config"
	apperrors "github.com/storecraft/server/internal/shared/errors"
	"github.com/storecraft/server/internal/shared/metrics"
)

// Result is the outcome of handling one inbound event.
type Result struct {
	Status EventStatus `json:"status"`
	Reason string      `json:"reason,omitempty"`
}

// Service is the event reconciler: it persists inbound processor events,
// deduplicates redeliveries, classifies each event against the current
// ledger row and applies the resulting transition.
type Service struct {
	repo    Repository
	ledger  *subscription.Ledger
	cfg     config.BillingConfig
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewService creates a reconciler service.
func NewService(repo Repository, ledger *subscription.Ledger, cfg config.BillingConfig, m *metrics.Metrics, logger *zap.Logger) *Service {
	return &Service{
		repo:    repo,
		ledger:  ledger,
		cfg:     cfg,
		metrics: m,
		logger:  logger,
	}
}

// HandleInbound persists one inbound event and processes it. A redelivered
// event that already reached a terminal state is acknowledged without
// reprocessing; a redelivery of a failed event gets another attempt.
func (s *Service) HandleInbound(ctx context.Context, provider, externalEventID, eventType string, payload []byte) (*Result, error) {
	event := &SubscriptionEvent{
		ExternalEventID: externalEventID,
		Provider:        provider,
		EventType:       eventType,
		Status:          EventPending,
		Payload:         datatypes.JSON(payload),
		ReceivedAt:      time.Now().UTC(),
	}

	inserted, err := s.repo.Insert(ctx, event)
	if err != nil {
		return nil, err
	}
	if !inserted {
		existing, err := s.repo.GetByExternalID(ctx, externalEventID)
		if err != nil {
			return nil, err
		}
		if existing.IsTerminal() {
			s.metrics.EventsSkipped.WithLabelValues("duplicate").Inc()
			return &Result{Status: existing.Status, Reason: "duplicate delivery"}, nil
		}
		event = existing
	}

	return s.Process(ctx, event)
}

// Process runs one pending or failed event through classification and the
// ledger, then records the outcome on the event row.
func (s *Service) Process(ctx context.Context, event *SubscriptionEvent) (*Result, error) {
	result := s.apply(ctx, event)

	now := time.Now().UTC()
	event.Status = result.Status
	event.Error = result.Reason
	switch result.Status {
	case EventProcessed, EventSkipped:
		event.ProcessedAt = &now
		event.Error = ""
		if result.Status == EventProcessed {
			s.metrics.EventsProcessed.WithLabelValues(event.EventType).Inc()
		} else {
			s.metrics.EventsSkipped.WithLabelValues("classified").Inc()
		}
	case EventFailed:
		event.RetryCount++
		s.metrics.EventsFailed.WithLabelValues(event.EventType).Inc()
		s.logger.Error("subscription event failed",
			zap.String("external_event_id", event.ExternalEventID),
			zap.String("event_type", event.EventType),
			zap.Int("retry_count", event.RetryCount),
			zap.String("error", result.Reason),
		)
	case EventMalformed:
		// Terminal: the row keeps its error for operators but never
		// re-enters the retry sweep.
		event.ProcessedAt = &now
		s.metrics.EventsFailed.WithLabelValues(event.EventType).Inc()
		s.logger.Warn("subscription event malformed",
			zap.String("external_event_id", event.ExternalEventID),
			zap.String("event_type", event.EventType),
			zap.String("error", result.Reason),
		)
	}

	if err := s.repo.Update(ctx, event); err != nil {
		return nil, err
	}
	return result, nil
}

// apply translates, classifies and applies the event, retrying a bounded
// number of times on storage write conflicts.
func (s *Service) apply(ctx context.Context, event *SubscriptionEvent) *Result {
	inbound, err := translateStripeEvent(event.EventType, event.Payload)
	if err != nil {
		if errors.Is(err, errUnsupportedEvent) {
			return &Result{Status: EventSkipped, Reason: err.Error()}
		}
		if errors.Is(err, errMalformedEvent) {
			return &Result{Status: EventMalformed, Reason: err.Error()}
		}
		return &Result{Status: EventFailed, Reason: err.Error()}
	}

	attempts := s.cfg.ConflictRetries
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		result, err := s.applyOnce(ctx, inbound)
		if err == nil {
			return result
		}
		if !isStorageConflict(err) {
			// An unknown plan cannot appear on a later attempt either.
			if errors.Is(err, catalog.ErrPlanNotFound) {
				return &Result{Status: EventMalformed, Reason: err.Error()}
			}
			return &Result{Status: EventFailed, Reason: err.Error()}
		}
		lastErr = err
		s.logger.Warn("storage conflict applying event, retrying",
			zap.String("external_event_id", event.ExternalEventID),
			zap.Int("attempt", i+1),
		)
	}
	return &Result{Status: EventFailed, Reason: fmt.Sprintf("storage conflict: %v", lastErr)}
}

func (s *Service) applyOnce(ctx context.Context, inbound *subscription.InboundEvent) (*Result, error) {
	current, err := s.currentFor(ctx, inbound)
	if err != nil {
		return nil, err
	}

	c := subscription.ClassifyEvent(inbound, current, s.cfg.ActivationGrace, time.Now().UTC())
	switch c.Kind {
	case subscription.TransitionSkip:
		return &Result{Status: EventSkipped, Reason: c.Reason}, nil

	case subscription.TransitionActivate:
		// A live row (typically the free tier) is superseded rather than
		// conflicting with the paid activation.
		existing, err := s.ledger.Current(ctx, inbound.TenantID, inbound.PluginID)
		if err != nil && !errors.Is(err, subscription.ErrSubscriptionNotFound) {
			return nil, err
		}
		if existing != nil && existing.IsLive() && existing.PlanID != inbound.PlanID {
			_, err := s.ledger.ChangePlan(ctx, subscription.ChangeParams{
				TenantID:     inbound.TenantID,
				PluginID:     inbound.PluginID,
				TargetPlanID: inbound.PlanID,
				Initiator:    subscription.InitiatorProcessor,
				External: subscription.ExternalIDs{
					SubscriptionID: inbound.ExternalSubscriptionID,
					CustomerID:     inbound.ExternalCustomerID,
				},
				PeriodStart: inbound.PeriodStart,
				PeriodEnd:   inbound.PeriodEnd,
			})
			if err != nil {
				return nil, err
			}
			return &Result{Status: EventProcessed}, nil
		}

		_, err = s.ledger.Create(ctx, subscription.CreateParams{
			TenantID:  inbound.TenantID,
			PluginID:  inbound.PluginID,
			PlanID:    inbound.PlanID,
			Initiator: subscription.InitiatorProcessor,
			External: subscription.ExternalIDs{
				SubscriptionID: inbound.ExternalSubscriptionID,
				CustomerID:     inbound.ExternalCustomerID,
			},
			PeriodStart: inbound.PeriodStart,
			PeriodEnd:   inbound.PeriodEnd,
		})
		if err != nil {
			if errors.Is(err, subscription.ErrSubscriptionExists) {
				return &Result{Status: EventSkipped, Reason: err.Error()}, nil
			}
			return nil, err
		}
		return &Result{Status: EventProcessed}, nil

	case subscription.TransitionRenew:
		_, err := s.ledger.Renew(ctx, current.ID, inbound.PeriodStart, inbound.PeriodEnd, subscription.InitiatorProcessor)
		if err != nil {
			return nil, err
		}
		return &Result{Status: EventProcessed}, nil

	case subscription.TransitionRefresh:
		_, err := s.ledger.Refresh(ctx, current.ID, subscription.RemoteState{
			Status:            mapRemoteStatus(inbound.RemoteStatus),
			PeriodStart:       inbound.PeriodStart,
			PeriodEnd:         inbound.PeriodEnd,
			CancelAtPeriodEnd: inbound.CancelAtPeriodEnd,
		})
		if err != nil {
			return nil, err
		}
		return &Result{Status: EventProcessed}, nil

	case subscription.TransitionPastDue:
		_, err := s.ledger.MarkPastDue(ctx, current.ID)
		if err != nil {
			return nil, err
		}
		return &Result{Status: EventProcessed}, nil

	case subscription.TransitionCancelToFree:
		_, err := s.ledger.CancelToFree(ctx, current.ID, subscription.InitiatorProcessor)
		if err != nil {
			return nil, err
		}
		return &Result{Status: EventProcessed}, nil
	}

	return &Result{Status: EventSkipped, Reason: "unhandled transition"}, nil
}

// currentFor resolves the ledger row an event refers to, nil when the
// external id is unknown.
func (s *Service) currentFor(ctx context.Context, inbound *subscription.InboundEvent) (*subscription.Subscription, error) {
	if inbound.ExternalSubscriptionID == "" {
		return nil, nil
	}
	current, err := s.ledger.ByExternalID(ctx, inbound.ExternalSubscriptionID)
	if err != nil {
		if errors.Is(err, subscription.ErrSubscriptionNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return current, nil
}

// ListFailed exposes failed events for the admin surface.
func (s *Service) ListFailed(ctx context.Context, limit int) ([]*SubscriptionEvent, error) {
	return s.repo.ListFailed(ctx, limit)
}

func isStorageConflict(err error) bool {
	return errors.Is(err, apperrors.ErrStorageConflict) ||
		errors.Is(err, gorm.ErrDuplicatedKey) ||
		errors.Is(err, subscription.ErrConcurrentChange)
}
