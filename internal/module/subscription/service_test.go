package subscription

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/storecraft/server/internal/module/catalog"
)

func newTestService(t *testing.T, plans ...*catalog.Plan) (*Service, *memRepo) {
	t.Helper()
	ledger, repo, _ := newTestLedger(t, plans...)
	svc := NewService(ledger, repo, newMemPlans(plans...), nil, zap.NewNop())
	return svc, repo
}

func TestService_UpdateStatus(t *testing.T) {
	pro := testPlan("pro", 2900, catalog.LimitMap{"api_calls": 50000})
	tenantID := uuid.New()
	ctx := context.Background()

	t.Run("refreshes status and period fields", func(t *testing.T) {
		svc, _ := newTestService(t, pro)
		sub, err := svc.ledger.Create(ctx, CreateParams{
			TenantID: tenantID, PluginID: "analytics", PlanID: "pro", Initiator: InitiatorTenant,
		})
		require.NoError(t, err)

		start := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
		end := start.AddDate(0, 1, 0)
		updated, err := svc.UpdateStatus(ctx, tenantID, "analytics", RemoteState{
			Status:            StatusActive,
			PeriodStart:       start,
			PeriodEnd:         end,
			CancelAtPeriodEnd: true,
		})
		require.NoError(t, err)
		assert.Equal(t, sub.ID, updated.ID)
		assert.Equal(t, StatusActive, updated.Status)
		assert.Equal(t, start, updated.CurrentPeriodStart)
		assert.Equal(t, end, updated.CurrentPeriodEnd)
		assert.True(t, updated.CancelAtPeriodEnd)
	})

	t.Run("past_due goes through the dunning path", func(t *testing.T) {
		svc, repo := newTestService(t, pro)
		sub, err := svc.ledger.Create(ctx, CreateParams{
			TenantID: tenantID, PluginID: "analytics", PlanID: "pro", Initiator: InitiatorTenant,
		})
		require.NoError(t, err)

		updated, err := svc.UpdateStatus(ctx, tenantID, "analytics", RemoteState{Status: StatusPastDue})
		require.NoError(t, err)
		assert.Equal(t, StatusPastDue, updated.Status)

		stored, err := repo.GetByID(ctx, sub.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusPastDue, stored.Status)
	})

	t.Run("no subscription fails", func(t *testing.T) {
		svc, _ := newTestService(t, pro)
		_, err := svc.UpdateStatus(ctx, tenantID, "analytics", RemoteState{Status: StatusActive})
		assert.ErrorIs(t, err, ErrNoLiveSubscription)
	})
}
