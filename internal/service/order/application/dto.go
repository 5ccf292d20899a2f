// internal/service/order/application/dto.go
package application

import (
	"time"

	"fulfillment/internal/service/order/domain"

	"github.com/shopspring/decimal"
)

// OrderCommand 是订单迁移命令的输入
type OrderCommand struct {
	OrderID string
	Actor   domain.ActorType
}

type CancelOrderCommand struct {
	OrderID string
	Actor   domain.ActorType
	Reason  string
}

// RequestClaimCommand 是发起理赔的输入
type RequestClaimCommand struct {
	OrderID      string
	OrderItemID  string
	Type         domain.ClaimType
	Reason       string
	Quantity     int
	RefundAmount decimal.Decimal
	Actor        domain.ActorType
}

type ClaimCommand struct {
	ClaimID string
	Actor   domain.ActorType
}

type RejectClaimCommand struct {
	ClaimID string
	Actor   domain.ActorType
	Reason  string
}

// ClaimTimestampCommand 设置理赔的子时间戳（取件、签收、换货发出、换货送达）
type ClaimTimestampCommand struct {
	ClaimID string
	At      time.Time
	Actor   domain.ActorType
}

type RegisterShipmentCommand struct {
	OrderID       string
	CarrierID     string
	InvoiceNumber string
	Sender        domain.SenderInfo
	Actor         domain.ActorType
}

type ChangeInvoiceCommand struct {
	ShipmentID    string
	CarrierID     string
	InvoiceNumber string
	Actor         domain.ActorType
}

// TrackingResult 轨迹更新的结果；Applied 为 false 表示乱序或重复推送被忽略
type TrackingResult struct {
	Shipment *domain.Shipment
	Applied  bool
}

// PlaceOrderItem 结算中的一行商品
type PlaceOrderItem struct {
	ProductID string
	Quantity  int
	UnitPrice decimal.Decimal
}

// PlaceOrderRequest 是结算下单用例的输入数据
type PlaceOrderRequest struct {
	IdempotencyKey string
	MemberID       string
	Items          []PlaceOrderItem
}

// PlaceOrderResponse 是结算下单用例的输出数据；Duplicate 表示命中了幂等记录
type PlaceOrderResponse struct {
	Order     *domain.Order
	Duplicate bool
}

// TimelineEntry 是时间线上的一条记录
type TimelineEntry struct {
	EventType   domain.EventType   `json:"eventType"`
	EventSource domain.EventSource `json:"eventSource"`
	ActorType   domain.ActorType   `json:"actorType"`
	OccurredAt  time.Time          `json:"occurredAt"`
	Description string             `json:"description"`
}
