// internal/service/order/application/checkout.go
package application

import (
	"context"
	"strings"
	"time"

	"fulfillment/internal/pkg/apperr"
	"fulfillment/internal/pkg/logger"
	"fulfillment/internal/service/order/application/saga"
	"fulfillment/internal/service/order/domain"

	"github.com/google/uuid"
)

// CheckoutService 是结算下单的入口，同一个幂等键只会创建一个订单
type CheckoutService struct {
	deps  Deps
	chain saga.Handler
}

func NewCheckoutService(deps Deps) *CheckoutService {
	return &CheckoutService{deps: deps, chain: saga.NewCheckoutChain(uuid.NewString)}
}

// PlaceOrder 在 checkout:<key> 锁内运行结算链。
// 重复的请求返回第一次创建的订单，Duplicate 为 true，不再产生事件。
func (s *CheckoutService) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*PlaceOrderResponse, error) {
	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		return nil, apperr.Validation("checkout.place", "idempotency key is required")
	}

	items := make([]domain.OrderItem, len(req.Items))
	for i, it := range req.Items {
		items[i] = domain.OrderItem{ProductID: it.ProductID, Quantity: it.Quantity, UnitPrice: it.UnitPrice}
	}

	var out saga.CheckoutContext
	err := s.deps.runCommand(ctx, "app.PlaceOrder", "order", CheckoutLockKey(key),
		func(ctx context.Context, st domain.Stores, now time.Time) ([]domain.OrderEvent, error) {
			out = saga.CheckoutContext{
				Ctx:            ctx,
				Tracer:         s.deps.Tracer,
				Stores:         st,
				Now:            now,
				IdempotencyKey: key,
				MemberID:       req.MemberID,
				Items:          items,
			}
			if err := s.chain.Handle(&out); err != nil {
				return nil, err
			}
			if out.Duplicate {
				return nil, nil
			}
			return out.Order.PullEvents(), nil
		})
	if err != nil {
		return nil, err
	}
	if !out.Duplicate {
		logger.Ctx(ctx).Info().Str("order_id", out.Order.ID).Str("member_id", req.MemberID).Msg("✅ order placed")
	}
	return &PlaceOrderResponse{Order: out.Order, Duplicate: out.Duplicate}, nil
}
