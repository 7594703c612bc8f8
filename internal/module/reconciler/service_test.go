package reconciler

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/storecraft/server/internal/module/subscription"
	"github.com/storecraft/server/internal/shared/config"
	"github.com/storecraft/server/internal/shared/events"
	"github.com/storecraft/server/internal/shared/metrics"
)

// memEventRepo is an in-memory event Repository for service tests.
type memEventRepo struct {
	rows    map[string]*SubscriptionEvent
	inserts int
	updates int
}

func newMemEventRepo() *memEventRepo {
	return &memEventRepo{rows: make(map[string]*SubscriptionEvent)}
}

func (m *memEventRepo) Insert(ctx context.Context, event *SubscriptionEvent) (bool, error) {
	if _, ok := m.rows[event.ExternalEventID]; ok {
		return false, nil
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	copied := *event
	m.rows[event.ExternalEventID] = &copied
	m.inserts++
	return true, nil
}

func (m *memEventRepo) GetByID(ctx context.Context, id uuid.UUID) (*SubscriptionEvent, error) {
	for _, row := range m.rows {
		if row.ID == id {
			copied := *row
			return &copied, nil
		}
	}
	return nil, ErrEventNotFound
}

func (m *memEventRepo) GetByExternalID(ctx context.Context, externalEventID string) (*SubscriptionEvent, error) {
	row, ok := m.rows[externalEventID]
	if !ok {
		return nil, ErrEventNotFound
	}
	copied := *row
	return &copied, nil
}

func (m *memEventRepo) Update(ctx context.Context, event *SubscriptionEvent) error {
	copied := *event
	m.rows[event.ExternalEventID] = &copied
	m.updates++
	return nil
}

func (m *memEventRepo) ListRetryable(ctx context.Context, maxRetries, limit int) ([]*SubscriptionEvent, error) {
	var out []*SubscriptionEvent
	for _, row := range m.rows {
		if row.Status == EventFailed && row.RetryCount < maxRetries {
			copied := *row
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memEventRepo) ListFailed(ctx context.Context, limit int) ([]*SubscriptionEvent, error) {
	var out []*SubscriptionEvent
	for _, row := range m.rows {
		if row.Status == EventFailed || row.Status == EventMalformed {
			copied := *row
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *memEventRepo) DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	for key, row := range m.rows {
		if row.IsTerminal() && row.ProcessedAt != nil && row.ProcessedAt.Before(cutoff) {
			delete(m.rows, key)
			n++
		}
	}
	return n, nil
}

// stubSubs satisfies the ledger's storage interface for events that only
// resolve subscriptions by external id.
type stubSubs struct {
	subscription.Repository
	findErr error
}

func (r *stubSubs) FindByExternalID(ctx context.Context, externalID string) (*subscription.Subscription, error) {
	return nil, r.findErr
}

func newTestService(subErr error) (*Service, *memEventRepo) {
	repo := newMemEventRepo()
	ledger := subscription.NewLedger(
		&stubSubs{findErr: subErr}, nil, nil,
		events.NewBus(zap.NewNop()), zap.NewNop(),
	)
	cfg := config.BillingConfig{MaxEventRetries: 3, ConflictRetries: 2}
	return NewService(repo, ledger, cfg, metrics.New(), zap.NewNop()), repo
}

func TestService_HandleInbound_DuplicateDelivery(t *testing.T) {
	svc, repo := newTestService(nil)
	ctx := context.Background()
	payload := stripePayload("charge.refunded", 1767225600, `{"id": "ch_1"}`)

	first, err := svc.HandleInbound(ctx, "stripe", "evt_dup_1", "charge.refunded", payload)
	require.NoError(t, err)
	assert.Equal(t, EventSkipped, first.Status)
	assert.Equal(t, 1, repo.inserts)
	updatesAfterFirst := repo.updates

	// The redelivery hits the stored terminal row and is acknowledged
	// without another processing pass.
	second, err := svc.HandleInbound(ctx, "stripe", "evt_dup_1", "charge.refunded", payload)
	require.NoError(t, err)
	assert.Equal(t, EventSkipped, second.Status)
	assert.Equal(t, "duplicate delivery", second.Reason)
	assert.Equal(t, 1, repo.inserts)
	assert.Equal(t, updatesAfterFirst, repo.updates)
}

func TestService_HandleInbound_FailedRetryBookkeeping(t *testing.T) {
	svc, repo := newTestService(errors.New("storage offline"))
	ctx := context.Background()
	payload := stripePayload("invoice.paid", 1767225600, `{
		"id": "in_1",
		"subscription": "sub_123",
		"period_start": 1764547200,
		"period_end": 1767225600
	}`)

	result, err := svc.HandleInbound(ctx, "stripe", "evt_fail_1", "invoice.paid", payload)
	require.NoError(t, err)
	assert.Equal(t, EventFailed, result.Status)

	stored, err := repo.GetByExternalID(ctx, "evt_fail_1")
	require.NoError(t, err)
	assert.Equal(t, 1, stored.RetryCount)
	assert.NotEmpty(t, stored.Error)
	assert.Nil(t, stored.ProcessedAt)

	// A redelivered failed event is not terminal and gets another attempt.
	result, err = svc.HandleInbound(ctx, "stripe", "evt_fail_1", "invoice.paid", payload)
	require.NoError(t, err)
	assert.Equal(t, EventFailed, result.Status)

	stored, err = repo.GetByExternalID(ctx, "evt_fail_1")
	require.NoError(t, err)
	assert.Equal(t, 2, stored.RetryCount)

	retryable, err := repo.ListRetryable(ctx, 3, 10)
	require.NoError(t, err)
	assert.Len(t, retryable, 1)
}

func TestService_HandleInbound_MalformedIsTerminal(t *testing.T) {
	svc, repo := newTestService(nil)
	ctx := context.Background()
	payload := stripePayload("checkout.session.completed", 1767225600, `{
		"id": "cs_1",
		"metadata": {"plugin_id": "analytics"}
	}`)

	result, err := svc.HandleInbound(ctx, "stripe", "evt_bad_1", "checkout.session.completed", payload)
	require.NoError(t, err)
	assert.Equal(t, EventMalformed, result.Status)

	stored, err := repo.GetByExternalID(ctx, "evt_bad_1")
	require.NoError(t, err)
	assert.True(t, stored.IsTerminal())
	assert.NotNil(t, stored.ProcessedAt)
	assert.Contains(t, stored.Error, "tenant metadata")

	// Malformed rows stay on the operator surface but never re-enter the
	// retry sweep.
	retryable, err := repo.ListRetryable(ctx, 3, 10)
	require.NoError(t, err)
	assert.Empty(t, retryable)

	failed, err := repo.ListFailed(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, failed, 1)

	result, err = svc.HandleInbound(ctx, "stripe", "evt_bad_1", "checkout.session.completed", payload)
	require.NoError(t, err)
	assert.Equal(t, EventMalformed, result.Status)
	assert.Equal(t, "duplicate delivery", result.Reason)
}
