package reconciler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/storecraft/server/internal/module/subscription"
	"github.com/storecraft/server/internal/shared/config"
	"github.com/storecraft/server/internal/shared/metrics"
)

// Renewer rolls due subscriptions; the subscription service implements it.
type Renewer interface {
	RenewDue(ctx context.Context, sub *subscription.Subscription, now time.Time) error
}

// DueSource lists locally-billed subscriptions whose period has elapsed.
type DueSource interface {
	ListDueForRenewal(ctx context.Context, before time.Time, limit int) ([]*subscription.Subscription, error)
}

// Sweeper runs the periodic maintenance loops: retrying failed events,
// pruning old processed events and rolling scheduled renewals.
type Sweeper struct {
	service *Service
	repo    Repository
	renewer Renewer
	due     DueSource
	cfg     config.BillingConfig
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewSweeper creates a sweeper.
func NewSweeper(service *Service, repo Repository, renewer Renewer, due DueSource, cfg config.BillingConfig, m *metrics.Metrics, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		service: service,
		repo:    repo,
		renewer: renewer,
		due:     due,
		cfg:     cfg,
		metrics: m,
		logger:  logger,
	}
}

// Run blocks until ctx is canceled, driving the sweep and renewal tickers.
func (s *Sweeper) Run(ctx context.Context) {
	sweep := time.NewTicker(s.cfg.SweepInterval)
	renew := time.NewTicker(s.cfg.RenewInterval)
	defer sweep.Stop()
	defer renew.Stop()

	s.logger.Info("sweeper started",
		zap.Duration("sweep_interval", s.cfg.SweepInterval),
		zap.Duration("renew_interval", s.cfg.RenewInterval),
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return
		case <-sweep.C:
			s.Sweep(ctx)
		case <-renew.C:
			s.RenewDue(ctx)
		}
	}
}

// Sweep retries one batch of failed events oldest-first, then prunes
// processed events past the retention window.
func (s *Sweeper) Sweep(ctx context.Context) {
	s.metrics.SweepRuns.Inc()

	events, err := s.repo.ListRetryable(ctx, s.cfg.MaxEventRetries, s.cfg.SweepBatchSize)
	if err != nil {
		s.logger.Error("sweep: list retryable events", zap.Error(err))
		return
	}
	for _, event := range events {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.service.Process(ctx, event); err != nil {
			s.logger.Error("sweep: retry event",
				zap.String("external_event_id", event.ExternalEventID),
				zap.Error(err),
			)
		}
	}

	if s.cfg.EventRetention > 0 {
		cutoff := time.Now().UTC().Add(-s.cfg.EventRetention)
		pruned, err := s.repo.DeleteProcessedBefore(ctx, cutoff)
		if err != nil {
			s.logger.Error("sweep: prune events", zap.Error(err))
			return
		}
		if pruned > 0 {
			s.logger.Info("sweep: pruned processed events", zap.Int64("count", pruned))
		}
	}
}

// RenewDue rolls locally-billed subscriptions whose period has elapsed.
func (s *Sweeper) RenewDue(ctx context.Context) {
	now := time.Now().UTC()
	subs, err := s.due.ListDueForRenewal(ctx, now, s.cfg.SweepBatchSize)
	if err != nil {
		s.logger.Error("renewal: list due subscriptions", zap.Error(err))
		return
	}
	for _, sub := range subs {
		if ctx.Err() != nil {
			return
		}
		if err := s.renewer.RenewDue(ctx, sub, now); err != nil {
			s.logger.Error("renewal: roll subscription",
				zap.String("subscription_id", sub.ID.String()),
				zap.Error(err),
			)
		}
	}
}
