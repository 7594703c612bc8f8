package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/storecraft/server/internal/module/catalog"
	"github.com/storecraft/server/internal/module/entitlement"
	"github.com/storecraft/server/internal/module/subscription"
	apperrors "github.com/storecraft/server/internal/shared/errors"
	"github.com/storecraft/server/internal/shared/events"
	"github.com/storecraft/server/internal/shared/metrics"
)

// SubscriptionSource supplies the current subscription so the ledger can
// scope counters to the right period.
type SubscriptionSource interface {
	Current(ctx context.Context, tenantID uuid.UUID, pluginID string) (*subscription.Subscription, error)
}

// Ledger is the quota ledger: durable usage counters in Postgres with a
// Redis counter in front. Redis failures degrade to the database, and an
// unreadable counter never blocks a metered call outright.
type Ledger struct {
	repo     Repository
	counter  *Counter
	resolver *entitlement.Resolver
	subs     SubscriptionSource
	bus      *events.Bus
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewLedger creates a usage ledger.
func NewLedger(
	repo Repository,
	counter *Counter,
	resolver *entitlement.Resolver,
	subs SubscriptionSource,
	bus *events.Bus,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Ledger {
	return &Ledger{
		repo:     repo,
		counter:  counter,
		resolver: resolver,
		subs:     subs,
		bus:      bus,
		metrics:  m,
		logger:   logger,
	}
}

// scope is the resolved billing context for one quota operation.
type scope struct {
	sub       *subscription.Subscription
	planID    string
	periodKey string
	periodEnd time.Time
}

// resolveScope picks the period key for a tenant+plugin: paid live
// subscriptions meter per billing period, everything else per calendar
// month.
func (l *Ledger) resolveScope(ctx context.Context, tenantID uuid.UUID, pluginSlug string, now time.Time) (*scope, error) {
	sub, err := l.subs.Current(ctx, tenantID, pluginSlug)
	if err != nil && !errors.Is(err, subscription.ErrSubscriptionNotFound) {
		return nil, err
	}

	s := &scope{
		sub:       sub,
		periodKey: CalendarPeriodKey(now),
		periodEnd: endOfMonth(now),
	}
	if sub != nil && sub.IsLive() {
		s.planID = sub.PlanID
		if !sub.IsFree() {
			s.periodKey = SubscriptionPeriodKey(sub.ID, sub.CurrentPeriodStart)
			s.periodEnd = sub.CurrentPeriodEnd
		}
	}
	return s, nil
}

// Get returns the current counter value for a metric in the active period.
func (l *Ledger) Get(ctx context.Context, tenantID uuid.UUID, pluginSlug, metric string) (int64, error) {
	s, err := l.resolveScope(ctx, tenantID, pluginSlug, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return l.read(ctx, tenantID, pluginSlug, metric, s)
}

// read consults Redis first and falls back to the durable record, refilling
// the cache on a miss.
func (l *Ledger) read(ctx context.Context, tenantID uuid.UUID, pluginSlug, metric string, s *scope) (int64, error) {
	val, found, err := l.counter.Get(ctx, tenantID, pluginSlug, metric, s.periodKey)
	if err == nil && found {
		return val, nil
	}
	if err != nil {
		l.logger.Warn("usage counter read failed, falling back to database",
			zap.String("tenant_id", tenantID.String()),
			zap.String("metric", metric),
			zap.Error(err),
		)
	}

	record, dbErr := l.repo.Get(ctx, tenantID, pluginSlug, metric, s.periodKey)
	if dbErr != nil {
		return 0, dbErr
	}
	if record == nil {
		return 0, nil
	}
	if err == nil {
		if setErr := l.counter.Set(ctx, tenantID, pluginSlug, metric, s.periodKey, record.Used, s.periodEnd); setErr != nil {
			l.logger.Warn("usage counter backfill failed", zap.Error(setErr))
		}
	}
	return record.Used, nil
}

// Increment adds delta to a metric's counter in the active period and
// returns the new value. The database write is the source of truth; Redis is
// updated best effort.
func (l *Ledger) Increment(ctx context.Context, tenantID uuid.UUID, pluginSlug, metric string, delta int64) (int64, error) {
	if delta <= 0 {
		return 0, fmt.Errorf("%w: delta must be positive", apperrors.ErrBadRequest)
	}

	s, err := l.resolveScope(ctx, tenantID, pluginSlug, time.Now().UTC())
	if err != nil {
		return 0, err
	}

	val, err := l.repo.IncrementBy(ctx, tenantID, pluginSlug, metric, s.periodKey, delta)
	if err != nil {
		return 0, err
	}
	l.metrics.QuotaIncrements.Inc()

	if err := l.counter.Set(ctx, tenantID, pluginSlug, metric, s.periodKey, val, s.periodEnd); err != nil {
		l.logger.Warn("usage counter write failed",
			zap.String("tenant_id", tenantID.String()),
			zap.String("metric", metric),
			zap.Error(err),
		)
	}
	return val, nil
}

// SetUsed overwrites a metric's counter, for admin corrections.
func (l *Ledger) SetUsed(ctx context.Context, tenantID uuid.UUID, pluginSlug, metric string, value int64) error {
	if value < 0 {
		return fmt.Errorf("%w: value must not be negative", apperrors.ErrBadRequest)
	}

	s, err := l.resolveScope(ctx, tenantID, pluginSlug, time.Now().UTC())
	if err != nil {
		return err
	}
	if err := l.repo.Set(ctx, tenantID, pluginSlug, metric, s.periodKey, value); err != nil {
		return err
	}
	if err := l.counter.Set(ctx, tenantID, pluginSlug, metric, s.periodKey, value, s.periodEnd); err != nil {
		l.logger.Warn("usage counter write failed", zap.Error(err))
	}
	return nil
}

// CheckLimit resolves the effective limit for a metric and compares it with
// the active period's counter.
func (l *Ledger) CheckLimit(ctx context.Context, tenantID uuid.UUID, pluginSlug, metric string) (*LimitCheckResult, error) {
	now := time.Now().UTC()
	s, err := l.resolveScope(ctx, tenantID, pluginSlug, now)
	if err != nil {
		return nil, err
	}

	check, err := l.resolver.ResolveLimit(ctx, tenantID, pluginSlug, s.planID, metric, now)
	if err != nil {
		return nil, err
	}

	result := &LimitCheckResult{
		Allowed:   true,
		Limit:     check.Limit,
		Source:    check.Source,
		PeriodKey: s.periodKey,
	}
	if check.Limit == catalog.Unlimited {
		l.metrics.QuotaChecks.WithLabelValues("unlimited").Inc()
		return result, nil
	}

	current, err := l.read(ctx, tenantID, pluginSlug, metric, s)
	if err != nil {
		// Degrade open: an unreadable counter must not block tenants.
		l.logger.Warn("quota check degraded, allowing request",
			zap.String("tenant_id", tenantID.String()),
			zap.String("metric", metric),
			zap.Error(err),
		)
		l.metrics.QuotaChecks.WithLabelValues("degraded").Inc()
		return result, nil
	}

	result.Current = current
	if check.Limit > 0 {
		result.Percentage = float64(current) / float64(check.Limit) * 100
	}
	if current >= check.Limit {
		result.Allowed = false
		l.metrics.QuotaChecks.WithLabelValues("denied").Inc()
		l.bus.Publish(events.NewQuotaExceededEvent(tenantID, pluginSlug, metric, current, check.Limit))
		return result, nil
	}

	l.metrics.QuotaChecks.WithLabelValues("allowed").Inc()
	return result, nil
}

// Consume checks the limit and, when allowed, increments by delta. Metered
// endpoints call this once per unit of work.
func (l *Ledger) Consume(ctx context.Context, tenantID uuid.UUID, pluginSlug, metric string, delta int64) (*LimitCheckResult, error) {
	result, err := l.CheckLimit(ctx, tenantID, pluginSlug, metric)
	if err != nil {
		return nil, err
	}
	if !result.Allowed {
		return result, fmt.Errorf("%w: %s at %d/%d", apperrors.ErrQuotaExceeded, metric, result.Current, result.Limit)
	}

	val, err := l.Increment(ctx, tenantID, pluginSlug, metric, delta)
	if err != nil {
		return nil, err
	}
	result.Current = val
	if result.Limit > 0 {
		result.Percentage = float64(val) / float64(result.Limit) * 100
	}
	return result, nil
}

// Usage returns all counters for the tenant+plugin in the active period.
func (l *Ledger) Usage(ctx context.Context, tenantID uuid.UUID, pluginSlug string) ([]*Record, error) {
	s, err := l.resolveScope(ctx, tenantID, pluginSlug, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	return l.repo.ListByPeriod(ctx, tenantID, pluginSlug, s.periodKey)
}

// ResetAll wipes the tenant's calendar-scoped counters for a plugin.
// Subscription-scoped counters are never reset here; they die with their
// billing period.
func (l *Ledger) ResetAll(ctx context.Context, tenantID uuid.UUID, pluginSlug string) error {
	if err := l.repo.DeleteCalendarScoped(ctx, tenantID, pluginSlug); err != nil {
		return err
	}
	if err := l.counter.DeleteCalendarScoped(ctx, tenantID, pluginSlug); err != nil {
		l.logger.Warn("usage counter reset failed",
			zap.String("tenant_id", tenantID.String()),
			zap.String("plugin_slug", pluginSlug),
			zap.Error(err),
		)
	}
	l.logger.Info("calendar usage reset",
		zap.String("tenant_id", tenantID.String()),
		zap.String("plugin_slug", pluginSlug),
	)
	return nil
}

func endOfMonth(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
}
