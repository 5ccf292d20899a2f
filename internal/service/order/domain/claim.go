// internal/service/order/domain/claim.go
package domain

import (
	"fmt"
	"strings"
	"time"

	"fulfillment/internal/pkg/apperr"

	"github.com/shopspring/decimal"
)

// ClaimType 售后类型
type ClaimType string

const (
	ClaimReturn   ClaimType = "RETURN"   // 退货
	ClaimExchange ClaimType = "EXCHANGE" // 换货
	ClaimRefund   ClaimType = "REFUND"   // 仅退款
)

func (t ClaimType) Valid() bool {
	return t == ClaimReturn || t == ClaimExchange || t == ClaimRefund
}

// ClaimStatus 理赔的生命周期状态
type ClaimStatus string

const (
	ClaimRequested  ClaimStatus = "REQUESTED"
	ClaimApproved   ClaimStatus = "APPROVED"
	ClaimRejected   ClaimStatus = "REJECTED"
	ClaimInProgress ClaimStatus = "IN_PROGRESS"
	ClaimCompleted  ClaimStatus = "COMPLETED"
	ClaimCancelled  ClaimStatus = "CANCELLED"
)

var AllClaimStatuses = []ClaimStatus{
	ClaimRequested, ClaimApproved, ClaimRejected, ClaimInProgress, ClaimCompleted, ClaimCancelled,
}

func (s ClaimStatus) IsTerminal() bool {
	return s == ClaimRejected || s == ClaimCompleted || s == ClaimCancelled
}

// Claim 是售后理赔聚合。它只通过 ID 引用订单，不持有订单对象。
type Claim struct {
	eventBuffer

	ID           string
	OrderID      string
	OrderItemID  string
	Type         ClaimType
	Reason       string
	Quantity     int
	RefundAmount decimal.Decimal
	Status       ClaimStatus
	RejectReason string

	CreatedAt time.Time
	UpdatedAt time.Time

	// 子时间戳独立于主状态，但必须按顺序单调不减
	ReturnPickupScheduledAt *time.Time
	ReturnReceivedAt        *time.Time
	ExchangeShippedAt       *time.Time
	ExchangeDeliveredAt     *time.Time
}

// ClaimRequest 是发起理赔的输入
type ClaimRequest struct {
	ID           string
	OrderItemID  string
	Type         ClaimType
	Reason       string
	Quantity     int
	RefundAmount decimal.Decimal
	Actor        ActorType
	Now          time.Time
}

// RequestClaim 是 Claim 唯一的入口，订单必须处于允许售后的状态。
// eligible 是外部资格策略的结果，与 order.PermitsClaims() 一起构成门槛。
func RequestClaim(order *Order, eligible bool, req ClaimRequest) (*Claim, error) {
	const op = "claim.request"
	if order == nil {
		return nil, apperr.NotFound(op, "order is required")
	}
	if !order.PermitsClaims() || !eligible {
		return nil, apperr.StateConflict(op, string(order.State), "requestClaim")
	}
	if strings.TrimSpace(req.ID) == "" {
		return nil, apperr.Validation(op, "claim id is required")
	}
	if !req.Type.Valid() {
		return nil, apperr.Validation(op, "unknown claim type %q", req.Type)
	}
	if req.Quantity <= 0 {
		return nil, apperr.Validation(op, "quantity must be positive")
	}
	if req.RefundAmount.IsNegative() {
		return nil, apperr.Validation(op, "refund amount must not be negative")
	}
	if strings.TrimSpace(req.OrderItemID) == "" {
		return nil, apperr.Validation(op, "order item id is required")
	}
	if len(order.Items) > 0 {
		item, ok := order.FindItem(req.OrderItemID)
		if !ok {
			return nil, apperr.Validation(op, "order item %s does not belong to order %s", req.OrderItemID, order.ID)
		}
		if req.Quantity > item.Quantity {
			return nil, apperr.Validation(op, "quantity %d exceeds ordered quantity %d", req.Quantity, item.Quantity)
		}
	}
	actor := req.Actor
	if !actor.Valid() {
		actor = ActorCustomer
	}

	c := &Claim{
		ID:           req.ID,
		OrderID:      order.ID,
		OrderItemID:  req.OrderItemID,
		Type:         req.Type,
		Reason:       strings.TrimSpace(req.Reason),
		Quantity:     req.Quantity,
		RefundAmount: req.RefundAmount,
		Status:       ClaimRequested,
		CreatedAt:    req.Now,
		UpdatedAt:    req.Now,
	}
	c.raiseEvent(EventClaimRequested, actor, req.Now,
		fmt.Sprintf("%s claim requested for item %s (qty %d)", strings.ToLower(string(c.Type)), c.OrderItemID, c.Quantity))
	return c, nil
}

// ReconstituteClaim 从持久化字段重建理赔
func ReconstituteClaim(c Claim) *Claim {
	c.eventBuffer = eventBuffer{}
	return &c
}

func (c *Claim) raiseEvent(t EventType, actor ActorType, now time.Time, desc string) {
	c.raise(OrderEvent{
		OrderID:     c.OrderID,
		AggregateID: c.ID,
		EventType:   t,
		EventSource: SourceClaim,
		ActorType:   actor,
		OccurredAt:  now,
		Description: desc,
	})
}

func (c *Claim) move(name string, from []ClaimStatus, to ClaimStatus, event EventType, actor ActorType, now time.Time, desc string) error {
	allowed := false
	for _, s := range from {
		if s == c.Status {
			allowed = true
			break
		}
	}
	if !allowed {
		return apperr.TransitionConflict("claim."+name, name, string(c.Status), string(to))
	}
	if !actor.Valid() {
		return apperr.Validation("claim."+name, "unknown actor type %q", actor)
	}
	c.Status = to
	c.UpdatedAt = now
	if desc == "" {
		desc = fmt.Sprintf("claim %s", strings.ToLower(string(to)))
	}
	c.raiseEvent(event, actor, now, desc)
	return nil
}

// Approve REQUESTED -> APPROVED
func (c *Claim) Approve(actor ActorType, now time.Time) error {
	return c.move("approve", []ClaimStatus{ClaimRequested}, ClaimApproved, EventClaimApproved, actor, now, "")
}

// Reject REQUESTED -> REJECTED（终态）
func (c *Claim) Reject(actor ActorType, reason string, now time.Time) error {
	reason = strings.TrimSpace(reason)
	desc := "claim rejected"
	if reason != "" {
		desc += ": " + reason
	}
	if err := c.move("reject", []ClaimStatus{ClaimRequested}, ClaimRejected, EventClaimRejected, actor, now, desc); err != nil {
		return err
	}
	c.RejectReason = reason
	return nil
}

// StartProcessing APPROVED -> IN_PROGRESS
func (c *Claim) StartProcessing(actor ActorType, now time.Time) error {
	return c.move("startProcessing", []ClaimStatus{ClaimApproved}, ClaimInProgress, EventClaimProcessingStarted, actor, now, "claim processing started")
}

// Complete IN_PROGRESS -> COMPLETED
func (c *Claim) Complete(actor ActorType, now time.Time) error {
	return c.move("complete", []ClaimStatus{ClaimInProgress}, ClaimCompleted, EventClaimCompleted, actor, now, "")
}

// Cancel 只能从非终态取消
func (c *Claim) Cancel(actor ActorType, now time.Time) error {
	return c.move("cancel", []ClaimStatus{ClaimRequested, ClaimApproved, ClaimInProgress}, ClaimCancelled, EventClaimCancelled, actor, now, "")
}

// subTimestamp 是子时间戳的顺序槽位，顺序即先后约束
type subTimestamp int

const (
	slotPickup subTimestamp = iota
	slotReceived
	slotExchangeShipped
	slotExchangeDelivered
)

var subTimestampNames = [...]string{"returnPickupScheduledAt", "returnReceivedAt", "exchangeShippedAt", "exchangeDeliveredAt"}

func (c *Claim) slots() [4]*time.Time {
	return [4]*time.Time{c.ReturnPickupScheduledAt, c.ReturnReceivedAt, c.ExchangeShippedAt, c.ExchangeDeliveredAt}
}

// setSubTimestamp 校验顺序后写入；越序属于输入错误（ValidationError），不是状态冲突
func (c *Claim) setSubTimestamp(slot subTimestamp, at time.Time, actor ActorType, now time.Time, event EventType) error {
	name := subTimestampNames[slot]
	op := "claim.set." + name
	if at.IsZero() {
		return apperr.Validation(op, "%s must be set", name)
	}
	if !actor.Valid() {
		return apperr.Validation(op, "unknown actor type %q", actor)
	}
	switch slot {
	case slotPickup, slotReceived:
		if c.Type == ClaimRefund {
			return apperr.Validation(op, "%s is not applicable to %s claims", name, c.Type)
		}
	case slotExchangeShipped, slotExchangeDelivered:
		if c.Type != ClaimExchange {
			return apperr.Validation(op, "%s is only applicable to EXCHANGE claims", name)
		}
	}
	if at.Before(c.CreatedAt) {
		return apperr.Validation(op, "%s %s is before claim creation %s", name, at.Format(time.RFC3339Nano), c.CreatedAt.Format(time.RFC3339Nano))
	}

	slots := c.slots()
	if cur := slots[slot]; cur != nil && at.Before(*cur) {
		return apperr.Validation(op, "%s cannot move backwards from %s", name, cur.Format(time.RFC3339Nano))
	}
	for i := int(slot) - 1; i >= 0; i-- {
		if prev := slots[i]; prev != nil && at.Before(*prev) {
			return apperr.Validation(op, "%s must not precede %s", name, subTimestampNames[i])
		}
	}
	for i := int(slot) + 1; i < len(slots); i++ {
		if next := slots[i]; next != nil && at.After(*next) {
			return apperr.Validation(op, "%s must not follow %s", name, subTimestampNames[i])
		}
	}

	v := at
	switch slot {
	case slotPickup:
		c.ReturnPickupScheduledAt = &v
	case slotReceived:
		c.ReturnReceivedAt = &v
	case slotExchangeShipped:
		c.ExchangeShippedAt = &v
	case slotExchangeDelivered:
		c.ExchangeDeliveredAt = &v
	}
	c.UpdatedAt = now
	c.raiseEvent(event, actor, now, fmt.Sprintf("%s set to %s", name, at.UTC().Format(time.RFC3339)))
	return nil
}

func (c *Claim) ScheduleReturnPickup(at time.Time, actor ActorType, now time.Time) error {
	return c.setSubTimestamp(slotPickup, at, actor, now, EventClaimPickupScheduled)
}

func (c *Claim) MarkReturnReceived(at time.Time, actor ActorType, now time.Time) error {
	return c.setSubTimestamp(slotReceived, at, actor, now, EventClaimReturnReceived)
}

func (c *Claim) MarkExchangeShipped(at time.Time, actor ActorType, now time.Time) error {
	return c.setSubTimestamp(slotExchangeShipped, at, actor, now, EventClaimExchangeShipped)
}

func (c *Claim) MarkExchangeDelivered(at time.Time, actor ActorType, now time.Time) error {
	return c.setSubTimestamp(slotExchangeDelivered, at, actor, now, EventClaimExchangeDelivered)
}
