package saga

import (
	"context"
	"time"

	"fulfillment/internal/service/order/domain"

	"go.opentelemetry.io/otel/trace"
)

// CheckoutContext 在结算责任链中传递上下文数据。
// 整条链运行在同一个数据库事务内，Stores 是事务内的仓储；
// 任何一步出错都由事务回滚撤销，链上没有事务外的副作用。
type CheckoutContext struct {
	Ctx    context.Context
	Tracer trace.Tracer
	Stores domain.Stores
	Now    time.Time

	IdempotencyKey string
	MemberID       string
	Items          []domain.OrderItem

	// 链的输出
	Order     *domain.Order
	Duplicate bool
}

// Handler 是责任链中的一个步骤
type Handler interface {
	SetNext(handler Handler) Handler
	Handle(c *CheckoutContext) error
}

type NextHandler struct {
	next Handler
}

func (h *NextHandler) SetNext(handler Handler) Handler {
	h.next = handler
	return handler
}

func (h *NextHandler) executeNext(c *CheckoutContext) error {
	if h.next != nil {
		return h.next.Handle(c)
	}
	return nil
}

// NewCheckoutChain 组装结算链：幂等检查 -> 构建订单 -> 持久化
func NewCheckoutChain(newID func() string) Handler {
	head := &IdempotencyHandler{}
	head.SetNext(&BuildOrderHandler{newID: newID}).
		SetNext(&PersistHandler{})
	return head
}
