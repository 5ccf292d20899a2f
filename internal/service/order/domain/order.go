// internal/service/order/domain/order.go
package domain

import (
	"fmt"
	"strings"
	"time"

	"fulfillment/internal/pkg/apperr"

	"github.com/shopspring/decimal"
)

// OrderItem 是订单行，理赔通过 ID 引用它
type OrderItem struct {
	ID        string
	ProductID string
	Quantity  int
	UnitPrice decimal.Decimal
}

// Order 是订单聚合的根实体
type Order struct {
	eventBuffer

	ID             string
	MemberID       string
	IdempotencyKey string
	Items          []OrderItem
	State          State
	CancelReason   string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	ConfirmedAt *time.Time
	PreparingAt *time.Time
	ShippedAt   *time.Time
	DeliveredAt *time.Time
	CompletedAt *time.Time
	CancelledAt *time.Time
}

// NewOrderParams 是结算完成时创建订单的输入
type NewOrderParams struct {
	ID             string
	MemberID       string
	IdempotencyKey string
	Items          []OrderItem
	Actor          ActorType
	Now            time.Time
}

// 工厂函数: NewOrder 在结算完成时创建订单，并产生 ORDER_CREATED 事件
func NewOrder(p NewOrderParams) (*Order, error) {
	const op = "order.create"
	if strings.TrimSpace(p.ID) == "" || strings.TrimSpace(p.MemberID) == "" {
		return nil, apperr.Validation(op, "order id and member id are required")
	}
	if len(p.Items) == 0 {
		return nil, apperr.Validation(op, "order must contain at least one item")
	}
	seen := make(map[string]struct{}, len(p.Items))
	for _, it := range p.Items {
		if it.ID == "" || it.ProductID == "" {
			return nil, apperr.Validation(op, "order item id and product id are required")
		}
		if _, dup := seen[it.ID]; dup {
			return nil, apperr.Validation(op, "duplicate order item %s", it.ID)
		}
		seen[it.ID] = struct{}{}
		if it.Quantity <= 0 {
			return nil, apperr.Validation(op, "item %s quantity must be positive", it.ID)
		}
		if it.UnitPrice.IsNegative() {
			return nil, apperr.Validation(op, "item %s unit price must not be negative", it.ID)
		}
	}
	actor := p.Actor
	if !actor.Valid() {
		actor = ActorCustomer
	}

	o := &Order{
		ID:             p.ID,
		MemberID:       p.MemberID,
		IdempotencyKey: p.IdempotencyKey,
		Items:          append([]OrderItem(nil), p.Items...),
		State:          StateCreated, // 初始状态
		CreatedAt:      p.Now,
		UpdatedAt:      p.Now,
	}
	o.raise(OrderEvent{
		OrderID:     o.ID,
		AggregateID: o.ID,
		EventType:   EventOrderCreated,
		EventSource: SourceOrder,
		ActorType:   actor,
		OccurredAt:  p.Now,
		Description: fmt.Sprintf("order created with %d item(s)", len(o.Items)),
	})
	return o, nil
}

// ReconstituteOrder 从持久化字段重建订单，不产生任何事件
func ReconstituteOrder(o Order) *Order {
	o.eventBuffer = eventBuffer{}
	o.Items = append([]OrderItem(nil), o.Items...)
	return &o
}

// Transition 描述一条具名迁移：允许的源状态集合、目标状态和事件类型
type Transition struct {
	Name  string
	From  []State
	To    State
	Event EventType
}

var (
	transitionConfirm        = Transition{"confirm", []State{StateCreated}, StateConfirmed, EventOrderConfirmed}
	transitionStartPreparing = Transition{"startPreparing", []State{StateConfirmed}, StatePreparing, EventOrderPreparingStarted}
	transitionShip           = Transition{"ship", []State{StatePreparing}, StateShipped, EventOrderShipped}
	transitionDeliver        = Transition{"deliver", []State{StateShipped}, StateDelivered, EventOrderDelivered}
	transitionComplete       = Transition{"complete", []State{StateDelivered}, StateCompleted, EventOrderCompleted}
	transitionCancel         = Transition{"cancel", []State{StateCreated, StateConfirmed, StatePreparing}, StateCancelled, EventOrderCancelled}
)

// OrderTransitions 返回订单状态机的全部边
func OrderTransitions() []Transition {
	return []Transition{
		transitionConfirm, transitionStartPreparing, transitionShip,
		transitionDeliver, transitionComplete, transitionCancel,
	}
}

// Allows 判断给定状态是否在源状态集合中
func (t Transition) Allows(s State) bool {
	for _, f := range t.From {
		if f == s {
			return true
		}
	}
	return false
}

// apply 先校验再修改；校验失败时聚合保持不变
func (o *Order) apply(t Transition, actor ActorType, now time.Time, description string) error {
	if !t.Allows(o.State) {
		return apperr.TransitionConflict("order."+t.Name, t.Name, string(o.State), string(t.To))
	}
	if !actor.Valid() {
		return apperr.Validation("order."+t.Name, "unknown actor type %q", actor)
	}

	o.State = t.To
	o.UpdatedAt = now
	at := now
	switch t.To {
	case StateConfirmed:
		o.ConfirmedAt = &at
	case StatePreparing:
		o.PreparingAt = &at
	case StateShipped:
		o.ShippedAt = &at
	case StateDelivered:
		o.DeliveredAt = &at
	case StateCompleted:
		o.CompletedAt = &at
	case StateCancelled:
		o.CancelledAt = &at
	}

	if description == "" {
		description = fmt.Sprintf("order %s", strings.ToLower(string(t.To)))
	}
	o.raise(OrderEvent{
		OrderID:     o.ID,
		AggregateID: o.ID,
		EventType:   t.Event,
		EventSource: SourceOrder,
		ActorType:   actor,
		OccurredAt:  now,
		Description: description,
	})
	return nil
}

// Confirm CREATED -> CONFIRMED
func (o *Order) Confirm(actor ActorType, now time.Time) error {
	return o.apply(transitionConfirm, actor, now, "")
}

// StartPreparing CONFIRMED -> PREPARING
func (o *Order) StartPreparing(actor ActorType, now time.Time) error {
	return o.apply(transitionStartPreparing, actor, now, "")
}

// Ship PREPARING -> SHIPPED
func (o *Order) Ship(actor ActorType, now time.Time) error {
	return o.apply(transitionShip, actor, now, "")
}

// Deliver SHIPPED -> DELIVERED
func (o *Order) Deliver(actor ActorType, now time.Time) error {
	return o.apply(transitionDeliver, actor, now, "")
}

// Complete DELIVERED -> COMPLETED
func (o *Order) Complete(actor ActorType, now time.Time) error {
	return o.apply(transitionComplete, actor, now, "")
}

// Cancel 只允许在发货前取消
func (o *Order) Cancel(actor ActorType, reason string, now time.Time) error {
	desc := "order cancelled"
	if r := strings.TrimSpace(reason); r != "" {
		desc = "order cancelled: " + r
	}
	if err := o.apply(transitionCancel, actor, now, desc); err != nil {
		return err
	}
	o.CancelReason = strings.TrimSpace(reason)
	return nil
}

// PermitsClaims 售后窗口：已送达或已完成的订单才能发起理赔
func (o *Order) PermitsClaims() bool {
	return o.State == StateDelivered || o.State == StateCompleted
}

// FindItem 按订单行 ID 查找
func (o *Order) FindItem(itemID string) (OrderItem, bool) {
	for _, it := range o.Items {
		if it.ID == itemID {
			return it, true
		}
	}
	return OrderItem{}, false
}
