package catalog

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// LiveRefCounter reports how many live subscriptions reference a plan. The
// subscription module provides the implementation; the catalog only needs the
// count to guard destructive edits.
type LiveRefCounter interface {
	CountLiveByPlan(ctx context.Context, pluginID, planID string) (int64, error)
}

// ServiceInterface defines the plan catalog service interface.
type ServiceInterface interface {
	GetPlan(ctx context.Context, pluginID, planID string) (*Plan, error)
	ListPlans(ctx context.Context, pluginID string) ([]*Plan, error)
	UpsertPlan(ctx context.Context, plan *Plan) error
	DeletePlan(ctx context.Context, pluginID, planID string) error
}

// Service implements plan catalog operations.
type Service struct {
	repo    Repository
	liveRef LiveRefCounter
	logger  *zap.Logger
}

// NewService creates a new catalog service.
func NewService(repo Repository, liveRef LiveRefCounter, logger *zap.Logger) *Service {
	return &Service{
		repo:    repo,
		liveRef: liveRef,
		logger:  logger,
	}
}

func (s *Service) GetPlan(ctx context.Context, pluginID, planID string) (*Plan, error) {
	return s.repo.GetPlan(ctx, pluginID, planID)
}

func (s *Service) ListPlans(ctx context.Context, pluginID string) ([]*Plan, error) {
	return s.repo.ListPlans(ctx, pluginID)
}

func (s *Service) UpsertPlan(ctx context.Context, plan *Plan) error {
	if err := plan.Validate(); err != nil {
		return err
	}
	if err := s.repo.UpsertPlan(ctx, plan); err != nil {
		return err
	}
	s.logger.Info("plan upserted",
		zap.String("plugin_id", plan.PluginID),
		zap.String("plan_id", plan.PlanID),
		zap.Int64("price_cents", plan.PriceCents),
	)
	return nil
}

func (s *Service) DeletePlan(ctx context.Context, pluginID, planID string) error {
	live, err := s.liveRef.CountLiveByPlan(ctx, pluginID, planID)
	if err != nil {
		return fmt.Errorf("count live subscriptions: %w", err)
	}
	if live > 0 {
		return fmt.Errorf("%w: %d live subscriptions", ErrPlanInUse, live)
	}
	if err := s.repo.DeletePlan(ctx, pluginID, planID); err != nil {
		return err
	}
	s.logger.Info("plan deleted",
		zap.String("plugin_id", pluginID),
		zap.String("plan_id", planID),
	)
	return nil
}
