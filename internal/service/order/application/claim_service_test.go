package application

import (
	"context"
	"testing"
	"time"

	"fulfillment/internal/pkg/apperr"
	"fulfillment/internal/service/order/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requestCmd() RequestClaimCommand {
	return RequestClaimCommand{
		OrderID:      "o-1",
		OrderItemID:  "i-1",
		Type:         domain.ClaimExchange,
		Reason:       "wrong size",
		Quantity:     1,
		RefundAmount: decimal.Zero,
		Actor:        domain.ActorCustomer,
	}
}

func TestRequestClaimPersistsAndRecords(t *testing.T) {
	h := newHarness(t)
	h.seedOrder(t, "o-1", domain.StateDelivered)
	svc := NewClaimService(h.deps, readClaims{h.store}, fixedPolicy{eligible: true})

	c, err := svc.RequestClaim(context.Background(), requestCmd())
	require.NoError(t, err)
	assert.NotEmpty(t, c.ID)
	assert.Equal(t, domain.ClaimRequested, c.Status)

	stored, err := svc.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, "o-1", stored.OrderID)
	assert.Equal(t, []domain.EventType{domain.EventClaimRequested}, h.store.eventTypes("o-1"))
}

func TestRequestClaimRefusedByPolicy(t *testing.T) {
	h := newHarness(t)
	h.seedOrder(t, "o-1", domain.StateCompleted)
	svc := NewClaimService(h.deps, readClaims{h.store}, fixedPolicy{eligible: false})

	_, err := svc.RequestClaim(context.Background(), requestCmd())
	assert.True(t, apperr.Is(err, apperr.KindStateConflict), "got %v", err)
	assert.Equal(t, 0, h.store.eventCount())
}

func TestRequestClaimPolicyFailure(t *testing.T) {
	h := newHarness(t)
	h.seedOrder(t, "o-1", domain.StateDelivered)
	svc := NewClaimService(h.deps, readClaims{h.store}, fixedPolicy{err: errBoom})

	_, err := svc.RequestClaim(context.Background(), requestCmd())
	assert.True(t, apperr.Is(err, apperr.KindInternal))
	assert.ErrorIs(t, err, errBoom)
}

func TestRequestClaimOnOpenOrder(t *testing.T) {
	h := newHarness(t)
	h.seedOrder(t, "o-1", domain.StatePreparing)
	svc := NewClaimService(h.deps, readClaims{h.store}, nil)

	_, err := svc.RequestClaim(context.Background(), requestCmd())
	assert.ErrorIs(t, err, apperr.ErrStateConflict)
}

func TestClaimServiceFlow(t *testing.T) {
	h := newHarness(t)
	h.seedOrder(t, "o-1", domain.StateDelivered)
	svc := NewClaimService(h.deps, readClaims{h.store}, fixedPolicy{eligible: true})
	ctx := context.Background()

	c, err := svc.RequestClaim(ctx, requestCmd())
	require.NoError(t, err)

	h.clock.Advance(time.Hour)
	_, err = svc.Approve(ctx, ClaimCommand{ClaimID: c.ID, Actor: domain.ActorSeller})
	require.NoError(t, err)
	_, err = svc.ScheduleReturnPickup(ctx, ClaimTimestampCommand{ClaimID: c.ID, At: t0.Add(24 * time.Hour), Actor: domain.ActorSeller})
	require.NoError(t, err)
	_, err = svc.MarkReturnReceived(ctx, ClaimTimestampCommand{ClaimID: c.ID, At: t0.Add(48 * time.Hour), Actor: domain.ActorSeller})
	require.NoError(t, err)
	_, err = svc.StartProcessing(ctx, ClaimCommand{ClaimID: c.ID, Actor: domain.ActorSeller})
	require.NoError(t, err)
	_, err = svc.MarkExchangeShipped(ctx, ClaimTimestampCommand{ClaimID: c.ID, At: t0.Add(50 * time.Hour), Actor: domain.ActorSeller})
	require.NoError(t, err)
	_, err = svc.MarkExchangeDelivered(ctx, ClaimTimestampCommand{ClaimID: c.ID, At: t0.Add(70 * time.Hour), Actor: domain.ActorSystem})
	require.NoError(t, err)
	done, err := svc.Complete(ctx, ClaimCommand{ClaimID: c.ID, Actor: domain.ActorSeller})
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimCompleted, done.Status)

	// 终态之后任何迁移都被拒绝，事件数不变
	before := h.store.eventCount()
	_, err = svc.Cancel(ctx, ClaimCommand{ClaimID: c.ID, Actor: domain.ActorCustomer})
	assert.ErrorIs(t, err, apperr.ErrStateConflict)
	_, err = svc.Reject(ctx, RejectClaimCommand{ClaimID: c.ID, Actor: domain.ActorAdmin, Reason: "late"})
	assert.ErrorIs(t, err, apperr.ErrStateConflict)
	assert.Equal(t, before, h.store.eventCount())
	assert.Len(t, h.store.eventTypes("o-1"), 8)
}

func TestClaimServiceUnknownClaim(t *testing.T) {
	h := newHarness(t)
	svc := NewClaimService(h.deps, readClaims{h.store}, nil)
	_, err := svc.Approve(context.Background(), ClaimCommand{ClaimID: "nope", Actor: domain.ActorSeller})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
