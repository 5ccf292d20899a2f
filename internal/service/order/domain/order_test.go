package domain

import (
	"testing"
	"time"

	"fulfillment/internal/pkg/apperr"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestOrder(t *testing.T) *Order {
	t.Helper()
	o, err := NewOrder(NewOrderParams{
		ID:       "o-1",
		MemberID: "m-1",
		Items: []OrderItem{
			{ID: "i-1", ProductID: "p-1", Quantity: 2, UnitPrice: decimal.RequireFromString("19.90")},
		},
		Actor: ActorCustomer,
		Now:   t0,
	})
	require.NoError(t, err)
	return o
}

func orderInState(s State) *Order {
	return ReconstituteOrder(Order{
		ID:        "o-1",
		MemberID:  "m-1",
		Items:     []OrderItem{{ID: "i-1", ProductID: "p-1", Quantity: 2}},
		State:     s,
		CreatedAt: t0,
		UpdatedAt: t0,
	})
}

// 按迁移名调用对应的方法
func invoke(o *Order, name string, now time.Time) error {
	switch name {
	case "confirm":
		return o.Confirm(ActorSeller, now)
	case "startPreparing":
		return o.StartPreparing(ActorSeller, now)
	case "ship":
		return o.Ship(ActorSeller, now)
	case "deliver":
		return o.Deliver(ActorSystem, now)
	case "complete":
		return o.Complete(ActorCustomer, now)
	case "cancel":
		return o.Cancel(ActorCustomer, "changed my mind", now)
	}
	panic("unknown transition " + name)
}

func TestNewOrderEmitsCreated(t *testing.T) {
	o := newTestOrder(t)

	assert.Equal(t, StateCreated, o.State)
	events := o.PullEvents()
	require.Len(t, events, 1)
	assert.Equal(t, EventOrderCreated, events[0].EventType)
	assert.Equal(t, SourceOrder, events[0].EventSource)
	assert.Equal(t, "o-1", events[0].OrderID)
	assert.Equal(t, 0, o.PendingEvents())
}

func TestNewOrderValidation(t *testing.T) {
	cases := []struct {
		name  string
		items []OrderItem
	}{
		{"no items", nil},
		{"zero quantity", []OrderItem{{ID: "i-1", ProductID: "p-1", Quantity: 0}}},
		{"negative price", []OrderItem{{ID: "i-1", ProductID: "p-1", Quantity: 1, UnitPrice: decimal.NewFromInt(-1)}}},
		{"duplicate item", []OrderItem{
			{ID: "i-1", ProductID: "p-1", Quantity: 1},
			{ID: "i-1", ProductID: "p-2", Quantity: 1},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewOrder(NewOrderParams{ID: "o-1", MemberID: "m-1", Items: tc.items, Now: t0})
			assert.True(t, apperr.Is(err, apperr.KindValidation), "got %v", err)
		})
	}
}

func TestReconstituteEmitsNothing(t *testing.T) {
	o := orderInState(StateShipped)
	assert.Equal(t, 0, o.PendingEvents())
}

func TestOrderTransitionGrid(t *testing.T) {
	for _, tr := range OrderTransitions() {
		for _, s := range AllStates {
			tr, s := tr, s
			t.Run(tr.Name+"/"+string(s), func(t *testing.T) {
				o := orderInState(s)
				now := t0.Add(time.Hour)
				err := invoke(o, tr.Name, now)

				if !tr.Allows(s) {
					require.Error(t, err)
					var ae *apperr.Error
					require.ErrorAs(t, err, &ae)
					assert.Equal(t, apperr.KindStateConflict, ae.Kind)
					assert.Equal(t, string(s), ae.Current)
					assert.Equal(t, string(tr.To), ae.Requested)
					assert.Equal(t, tr.Name, ae.Action)
					assert.Equal(t, s, o.State, "state must not change on rejection")
					assert.Equal(t, t0, o.UpdatedAt)
					assert.Equal(t, 0, o.PendingEvents())
					return
				}

				require.NoError(t, err)
				assert.Equal(t, tr.To, o.State)
				assert.Equal(t, now, o.UpdatedAt)
				events := o.PullEvents()
				require.Len(t, events, 1)
				assert.Equal(t, tr.Event, events[0].EventType)
				assert.Equal(t, now, events[0].OccurredAt)
			})
		}
	}
}

func TestTerminalStatesRejectEverything(t *testing.T) {
	for _, s := range AllStates {
		if !s.IsTerminal() {
			continue
		}
		for _, tr := range OrderTransitions() {
			assert.False(t, tr.Allows(s), "%s must not leave %s", tr.Name, s)
		}
	}
}

func TestConfirmThenCancelThenShipFails(t *testing.T) {
	o := newTestOrder(t)
	o.PullEvents()

	require.NoError(t, o.Confirm(ActorSeller, t0.Add(time.Minute)))
	require.NoError(t, o.Cancel(ActorCustomer, "  out of budget ", t0.Add(2*time.Minute)))
	assert.Equal(t, "out of budget", o.CancelReason)
	require.NotNil(t, o.CancelledAt)

	err := o.Ship(ActorSeller, t0.Add(3*time.Minute))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrStateConflict)
	assert.Equal(t, StateCancelled, o.State)

	events := o.PullEvents()
	require.Len(t, events, 2)
	assert.Equal(t, EventOrderConfirmed, events[0].EventType)
	assert.Equal(t, EventOrderCancelled, events[1].EventType)
	assert.Equal(t, "order cancelled: out of budget", events[1].Description)
}

func TestInvalidActorRejected(t *testing.T) {
	o := orderInState(StateCreated)
	err := o.Confirm(ActorType("ROBOT"), t0)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	assert.Equal(t, StateCreated, o.State)
}

func TestPermitsClaims(t *testing.T) {
	for _, s := range AllStates {
		want := s == StateDelivered || s == StateCompleted
		assert.Equal(t, want, orderInState(s).PermitsClaims(), string(s))
	}
}
