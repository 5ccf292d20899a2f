// internal/service/order/domain/event.go
package domain

import "time"

// EventSource 标识事件来自哪个聚合/子域
type EventSource string

const (
	SourceOrder    EventSource = "ORDER"
	SourceClaim    EventSource = "CLAIM"
	SourcePayment  EventSource = "PAYMENT"
	SourceShipping EventSource = "SHIPPING"
)

// ActorType 标识触发迁移的参与方
type ActorType string

const (
	ActorCustomer ActorType = "CUSTOMER"
	ActorSeller   ActorType = "SELLER"
	ActorAdmin    ActorType = "ADMIN"
	ActorSystem   ActorType = "SYSTEM"
)

func (a ActorType) Valid() bool {
	switch a {
	case ActorCustomer, ActorSeller, ActorAdmin, ActorSystem:
		return true
	}
	return false
}

type EventType string

const (
	EventOrderCreated          EventType = "ORDER_CREATED"
	EventOrderConfirmed        EventType = "ORDER_CONFIRMED"
	EventOrderPreparingStarted EventType = "ORDER_PREPARING_STARTED"
	EventOrderShipped          EventType = "ORDER_SHIPPED"
	EventOrderDelivered        EventType = "ORDER_DELIVERED"
	EventOrderCompleted        EventType = "ORDER_COMPLETED"
	EventOrderCancelled        EventType = "ORDER_CANCELLED"

	EventClaimRequested         EventType = "CLAIM_REQUESTED"
	EventClaimApproved          EventType = "CLAIM_APPROVED"
	EventClaimRejected          EventType = "CLAIM_REJECTED"
	EventClaimProcessingStarted EventType = "CLAIM_PROCESSING_STARTED"
	EventClaimCompleted         EventType = "CLAIM_COMPLETED"
	EventClaimCancelled         EventType = "CLAIM_CANCELLED"
	EventClaimPickupScheduled   EventType = "CLAIM_RETURN_PICKUP_SCHEDULED"
	EventClaimReturnReceived    EventType = "CLAIM_RETURN_RECEIVED"
	EventClaimExchangeShipped   EventType = "CLAIM_EXCHANGE_SHIPPED"
	EventClaimExchangeDelivered EventType = "CLAIM_EXCHANGE_DELIVERED"

	EventShipmentRegistered     EventType = "SHIPMENT_REGISTERED"
	EventShipmentInTransit      EventType = "SHIPMENT_IN_TRANSIT"
	EventShipmentDelivered      EventType = "SHIPMENT_DELIVERED"
	EventShipmentInvoiceChanged EventType = "SHIPMENT_INVOICE_CHANGED"
)

// OrderEvent 是只追加的事件记录，写入后不会被修改或删除。
// EventID 和 Sequence 由记录器/存储在写入时分配，聚合产生事件时为空。
type OrderEvent struct {
	EventID     string
	Sequence    int64
	OrderID     string
	AggregateID string
	EventType   EventType
	EventSource EventSource
	ActorType   ActorType
	OccurredAt  time.Time
	Description string
}

// eventBuffer 嵌入到聚合中，缓存本次操作中被接受的迁移所产生的事件
type eventBuffer struct {
	pending []OrderEvent
}

func (b *eventBuffer) raise(e OrderEvent) {
	b.pending = append(b.pending, e)
}

// PullEvents 取出并清空待记录的事件
func (b *eventBuffer) PullEvents() []OrderEvent {
	out := b.pending
	b.pending = nil
	return out
}

// PendingEvents 只读查看待记录的事件数量，主要用于测试和日志
func (b *eventBuffer) PendingEvents() int {
	return len(b.pending)
}
