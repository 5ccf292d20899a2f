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

func placeRequest(key string) PlaceOrderRequest {
	return PlaceOrderRequest{
		IdempotencyKey: key,
		MemberID:       "m-7",
		Items: []PlaceOrderItem{
			{ProductID: "p-1", Quantity: 1, UnitPrice: decimal.RequireFromString("12.50")},
			{ProductID: "p-2", Quantity: 3, UnitPrice: decimal.RequireFromString("1.00")},
		},
	}
}

func TestPlaceOrderCreatesOnce(t *testing.T) {
	h := newHarness(t)
	svc := NewCheckoutService(h.deps)
	ctx := context.Background()

	first, err := svc.PlaceOrder(ctx, placeRequest("k-1"))
	require.NoError(t, err)
	assert.False(t, first.Duplicate)
	assert.Equal(t, domain.StateCreated, first.Order.State)
	assert.Equal(t, "k-1", first.Order.IdempotencyKey)
	require.Len(t, first.Order.Items, 2)
	assert.NotEqual(t, first.Order.Items[0].ID, first.Order.Items[1].ID)

	h.clock.Advance(time.Second)
	again, err := svc.PlaceOrder(ctx, placeRequest("k-1"))
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Equal(t, first.Order.ID, again.Order.ID)

	assert.Equal(t, []domain.EventType{domain.EventOrderCreated}, h.store.eventTypes(first.Order.ID))
	assert.Equal(t, 1, h.publisher.count())
}

func TestFailedCheckoutRollsBackAndKeyStaysUsable(t *testing.T) {
	h := newHarness(t)
	svc := NewCheckoutService(h.deps)
	ctx := context.Background()

	h.store.failAppend = errBoom
	_, err := svc.PlaceOrder(ctx, placeRequest("k-1"))
	require.ErrorIs(t, err, errBoom)
	assert.Empty(t, h.store.orders)
	assert.Empty(t, h.store.idempotency)
	assert.Equal(t, 0, h.publisher.count())

	h.store.failAppend = nil
	res, err := svc.PlaceOrder(ctx, placeRequest("k-1"))
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Equal(t, []domain.EventType{domain.EventOrderCreated}, h.store.eventTypes(res.Order.ID))
}

func TestPlaceOrderDistinctKeys(t *testing.T) {
	h := newHarness(t)
	svc := NewCheckoutService(h.deps)

	a, err := svc.PlaceOrder(context.Background(), placeRequest("k-1"))
	require.NoError(t, err)
	b, err := svc.PlaceOrder(context.Background(), placeRequest("k-2"))
	require.NoError(t, err)
	assert.NotEqual(t, a.Order.ID, b.Order.ID)
}

func TestPlaceOrderValidation(t *testing.T) {
	h := newHarness(t)
	svc := NewCheckoutService(h.deps)
	ctx := context.Background()

	_, err := svc.PlaceOrder(ctx, placeRequest("  "))
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	bad := placeRequest("k-bad")
	bad.Items[0].Quantity = 0
	_, err = svc.PlaceOrder(ctx, bad)
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	// 校验失败不留下幂等记录，修正后可以用同一个键重试
	ok, err := svc.PlaceOrder(ctx, placeRequest("k-bad"))
	require.NoError(t, err)
	assert.False(t, ok.Duplicate)
}

func TestPlaceOrderLockTimeout(t *testing.T) {
	h := newHarness(t)
	svc := NewCheckoutService(h.deps)

	_, held, err := h.locks.NewLocker().TryLock(context.Background(), CheckoutLockKey("k-1"), 0, time.Minute)
	require.NoError(t, err)
	require.True(t, held)

	_, err = svc.PlaceOrder(context.Background(), placeRequest("k-1"))
	assert.ErrorIs(t, err, apperr.ErrLockTimeout)
	assert.Equal(t, 0, h.store.eventCount())
}
