package application

import (
	"context"
	"testing"
	"time"

	"fulfillment/internal/pkg/apperr"
	"fulfillment/internal/service/order/domain"
	"fulfillment/internal/service/order/domain/port"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCarrier struct {
	update domain.TrackingUpdate
	err    error
	calls  int
}

func (c *stubCarrier) LatestTracking(context.Context, string, string) (domain.TrackingUpdate, error) {
	c.calls++
	return c.update, c.err
}

func newShipmentHarness(t *testing.T, state domain.State, carrier *stubCarrier) (*harness, *ShipmentService, *OrderService) {
	t.Helper()
	h := newHarness(t)
	h.seedOrder(t, "o-1", state)
	orders := NewOrderService(h.deps, readOrders{h.store})
	var c port.CarrierTracking
	if carrier != nil {
		c = carrier
	}
	svc := NewShipmentService(h.deps, readShipments{h.store}, orders, c)
	return h, svc, orders
}

func register(t *testing.T, svc *ShipmentService) *domain.Shipment {
	t.Helper()
	sh, err := svc.Register(context.Background(), RegisterShipmentCommand{
		OrderID:       "o-1",
		CarrierID:     "cj",
		InvoiceNumber: "5551234",
		Sender:        domain.SenderInfo{Name: "Warehouse A"},
		Actor:         domain.ActorSeller,
	})
	require.NoError(t, err)
	return sh
}

func TestRegisterShipmentRequiresFulfillableOrder(t *testing.T) {
	_, svc, _ := newShipmentHarness(t, domain.StateCreated, nil)
	_, err := svc.Register(context.Background(), RegisterShipmentCommand{OrderID: "o-1", CarrierID: "cj", InvoiceNumber: "1"})
	assert.ErrorIs(t, err, apperr.ErrStateConflict)

	_, svc, _ = newShipmentHarness(t, domain.StatePreparing, nil)
	sh := register(t, svc)
	assert.Equal(t, domain.DeliveryReady, sh.Status)
}

func TestUpdateTrackingIgnoresStaleUpdates(t *testing.T) {
	h, svc, _ := newShipmentHarness(t, domain.StateShipped, nil)
	sh := register(t, svc)
	ctx := context.Background()

	res, err := svc.UpdateTracking(ctx, sh.ID, domain.TrackingUpdate{Location: "Hub", TrackedAt: t0.Add(2 * time.Hour)})
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, domain.DeliveryInTransit, res.Shipment.Status)
	count := h.store.eventCount()

	res, err = svc.UpdateTracking(ctx, sh.ID, domain.TrackingUpdate{Location: "Old", TrackedAt: t0.Add(time.Hour)})
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Equal(t, "Hub", res.Shipment.Tracking.LastLocation)
	assert.Equal(t, count, h.store.eventCount())
}

func TestDeliveredTrackingAdvancesOrder(t *testing.T) {
	h, svc, orders := newShipmentHarness(t, domain.StateShipped, nil)
	sh := register(t, svc)
	ctx := context.Background()

	_, err := svc.UpdateTracking(ctx, sh.ID, domain.TrackingUpdate{TrackedAt: t0.Add(5 * time.Hour)})
	require.NoError(t, err)

	delivered := t0.Add(3 * time.Hour)
	res, err := svc.UpdateTracking(ctx, sh.ID, domain.TrackingUpdate{TrackedAt: delivered, DeliveredAt: &delivered})
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, domain.DeliveryDelivered, res.Shipment.Status)

	o, err := orders.Get(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateDelivered, o.State)

	// 重放签收消息不会重复推进，也不会产生新事件
	count := h.store.eventCount()
	res, err = svc.UpdateTracking(ctx, sh.ID, domain.TrackingUpdate{TrackedAt: delivered, DeliveredAt: &delivered})
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Equal(t, count, h.store.eventCount())
	assert.Equal(t, []domain.EventType{
		domain.EventShipmentRegistered,
		domain.EventShipmentInTransit,
		domain.EventShipmentDelivered,
		domain.EventOrderDelivered,
	}, h.store.eventTypes("o-1"))
}

func TestDeliveredTrackingLeavesPreparingOrderAlone(t *testing.T) {
	_, svc, orders := newShipmentHarness(t, domain.StatePreparing, nil)
	sh := register(t, svc)

	delivered := t0.Add(time.Hour)
	_, err := svc.UpdateTracking(context.Background(), sh.ID, domain.TrackingUpdate{TrackedAt: delivered, DeliveredAt: &delivered})
	require.NoError(t, err)

	o, _ := orders.Get(context.Background(), "o-1")
	assert.Equal(t, domain.StatePreparing, o.State)
}

func TestUpdateTrackingByInvoice(t *testing.T) {
	_, svc, _ := newShipmentHarness(t, domain.StateShipped, nil)
	register(t, svc)

	res, err := svc.UpdateTrackingByInvoice(context.Background(), "cj", "5551234", domain.TrackingUpdate{Location: "Hub", TrackedAt: t0.Add(time.Hour)})
	require.NoError(t, err)
	assert.True(t, res.Applied)

	_, err = svc.UpdateTrackingByInvoice(context.Background(), "cj", "000", domain.TrackingUpdate{TrackedAt: t0})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestPollTracking(t *testing.T) {
	carrier := &stubCarrier{update: domain.TrackingUpdate{Location: "Hub", TrackedAt: t0.Add(time.Hour)}}
	_, svc, _ := newShipmentHarness(t, domain.StateShipped, carrier)
	sh := register(t, svc)

	res, err := svc.PollTracking(context.Background(), sh.ID)
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, 1, carrier.calls)

	carrier.err = errBoom
	_, err = svc.PollTracking(context.Background(), sh.ID)
	assert.True(t, apperr.Is(err, apperr.KindExternalDependency))
}

func TestChangeInvoiceThroughService(t *testing.T) {
	_, svc, _ := newShipmentHarness(t, domain.StateShipped, nil)
	sh := register(t, svc)
	ctx := context.Background()

	updated, err := svc.ChangeInvoice(ctx, ChangeInvoiceCommand{ShipmentID: sh.ID, CarrierID: "hanjin", InvoiceNumber: "42", Actor: domain.ActorSeller})
	require.NoError(t, err)
	assert.Equal(t, "42", updated.InvoiceNumber)

	_, err = svc.UpdateTracking(ctx, sh.ID, domain.TrackingUpdate{TrackedAt: t0.Add(time.Hour)})
	require.NoError(t, err)
	_, err = svc.ChangeInvoice(ctx, ChangeInvoiceCommand{ShipmentID: sh.ID, CarrierID: "cj", InvoiceNumber: "43", Actor: domain.ActorSeller})
	assert.ErrorIs(t, err, apperr.ErrStateConflict)
}
