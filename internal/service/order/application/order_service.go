// internal/service/order/application/order_service.go
package application

import (
	"context"
	"time"

	"fulfillment/internal/pkg/logger"
	"fulfillment/internal/service/order/domain"
)

// OrderService 编排订单状态机的命令
type OrderService struct {
	deps   Deps
	orders domain.OrderRepository
}

func NewOrderService(deps Deps, orders domain.OrderRepository) *OrderService {
	return &OrderService{deps: deps, orders: orders}
}

func (s *OrderService) Get(ctx context.Context, orderID string) (*domain.Order, error) {
	return s.orders.FindByID(ctx, orderID)
}

func (s *OrderService) Confirm(ctx context.Context, cmd OrderCommand) (*domain.Order, error) {
	return s.transition(ctx, "app.ConfirmOrder", cmd.OrderID, func(o *domain.Order, now time.Time) error {
		return o.Confirm(cmd.Actor, now)
	})
}

func (s *OrderService) StartPreparing(ctx context.Context, cmd OrderCommand) (*domain.Order, error) {
	return s.transition(ctx, "app.StartPreparingOrder", cmd.OrderID, func(o *domain.Order, now time.Time) error {
		return o.StartPreparing(cmd.Actor, now)
	})
}

func (s *OrderService) Ship(ctx context.Context, cmd OrderCommand) (*domain.Order, error) {
	return s.transition(ctx, "app.ShipOrder", cmd.OrderID, func(o *domain.Order, now time.Time) error {
		return o.Ship(cmd.Actor, now)
	})
}

func (s *OrderService) Deliver(ctx context.Context, cmd OrderCommand) (*domain.Order, error) {
	return s.transition(ctx, "app.DeliverOrder", cmd.OrderID, func(o *domain.Order, now time.Time) error {
		return o.Deliver(cmd.Actor, now)
	})
}

func (s *OrderService) Complete(ctx context.Context, cmd OrderCommand) (*domain.Order, error) {
	return s.transition(ctx, "app.CompleteOrder", cmd.OrderID, func(o *domain.Order, now time.Time) error {
		return o.Complete(cmd.Actor, now)
	})
}

func (s *OrderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (*domain.Order, error) {
	return s.transition(ctx, "app.CancelOrder", cmd.OrderID, func(o *domain.Order, now time.Time) error {
		return o.Cancel(cmd.Actor, cmd.Reason, now)
	})
}

// AdvanceOnShipmentDelivered 运单签收后把 SHIPPED 的订单推进到 DELIVERED。
// 订单处于其他状态时保持不变，只记录日志；重复调用是安全的。
func (s *OrderService) AdvanceOnShipmentDelivered(ctx context.Context, orderID string) (bool, error) {
	advanced := false
	err := s.deps.runCommand(ctx, "app.AdvanceOrderOnDelivery", "order", OrderLockKey(orderID),
		func(ctx context.Context, st domain.Stores, now time.Time) ([]domain.OrderEvent, error) {
			o, err := st.Orders.FindByID(ctx, orderID)
			if err != nil {
				return nil, err
			}
			if o.State != domain.StateShipped {
				logger.Ctx(ctx).Info().Str("order_id", orderID).Str("state", string(o.State)).
					Msg("shipment delivered but order is not SHIPPED, leaving order state as is")
				return nil, nil
			}
			if err := o.Deliver(domain.ActorSystem, now); err != nil {
				return nil, err
			}
			if err := st.Orders.Save(ctx, o); err != nil {
				return nil, err
			}
			advanced = true
			return o.PullEvents(), nil
		})
	return advanced, err
}

func (s *OrderService) transition(ctx context.Context, spanName, orderID string, apply func(*domain.Order, time.Time) error) (*domain.Order, error) {
	var result *domain.Order
	err := s.deps.runCommand(ctx, spanName, "order", OrderLockKey(orderID),
		func(ctx context.Context, st domain.Stores, now time.Time) ([]domain.OrderEvent, error) {
			o, err := st.Orders.FindByID(ctx, orderID)
			if err != nil {
				return nil, err
			}
			if err := apply(o, now); err != nil {
				return nil, err
			}
			if err := st.Orders.Save(ctx, o); err != nil {
				return nil, err
			}
			result = o
			return o.PullEvents(), nil
		})
	if err != nil {
		return nil, err
	}
	logger.Ctx(ctx).Info().Str("order_id", orderID).Str("state", string(result.State)).Msg("✅ order transition accepted")
	return result, nil
}
