package infrastructure

import (
	"time"

	"gorm.io/datatypes"
)

// OrderModel 对应数据库中的 orders 表
type OrderModel struct {
	ID             string `gorm:"primaryKey;size:64"`
	MemberID       string `gorm:"size:64;index"`
	IdempotencyKey string `gorm:"size:128"`
	State          string `gorm:"size:32"`
	CancelReason   string `gorm:"size:512"`
	Items          datatypes.JSONSlice[OrderItemRecord]

	CreatedAt   time.Time `gorm:"autoCreateTime:false"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime:false"`
	ConfirmedAt *time.Time
	PreparingAt *time.Time
	ShippedAt   *time.Time
	DeliveredAt *time.Time
	CompletedAt *time.Time
	CancelledAt *time.Time
}

func (OrderModel) TableName() string { return "orders" }

// OrderItemRecord 订单行以 JSON 保存在 items 列中
type OrderItemRecord struct {
	ID        string `json:"id"`
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unitPrice"`
}

// ClaimModel 对应 claims 表
type ClaimModel struct {
	ID           string `gorm:"primaryKey;size:64"`
	OrderID      string `gorm:"size:64;index"`
	OrderItemID  string `gorm:"size:64"`
	Type         string `gorm:"size:16"`
	Status       string `gorm:"size:32"`
	Reason       string `gorm:"size:512"`
	RejectReason string `gorm:"size:512"`
	Quantity     int
	RefundAmount string `gorm:"type:decimal(12,2)"`

	CreatedAt time.Time `gorm:"autoCreateTime:false"`
	UpdatedAt time.Time `gorm:"autoUpdateTime:false"`

	ReturnPickupScheduledAt *time.Time
	ReturnReceivedAt        *time.Time
	ExchangeShippedAt       *time.Time
	ExchangeDeliveredAt     *time.Time
}

func (ClaimModel) TableName() string { return "claims" }

// ShipmentModel 对应 shipments 表，同一承运商下运单号唯一
type ShipmentModel struct {
	ID            string `gorm:"primaryKey;size:64"`
	OrderID       string `gorm:"size:64;index"`
	CarrierID     string `gorm:"size:32;uniqueIndex:uk_carrier_invoice"`
	InvoiceNumber string `gorm:"size:64;uniqueIndex:uk_carrier_invoice"`
	SenderInfo    datatypes.JSONType[SenderRecord]
	Status        string `gorm:"size:16"`

	LastLocation  string `gorm:"size:255"`
	LastMessage   string `gorm:"size:512"`
	LastTrackedAt *time.Time
	DeliveredAt   *time.Time

	CreatedAt time.Time `gorm:"autoCreateTime:false"`
	UpdatedAt time.Time `gorm:"autoUpdateTime:false"`
}

func (ShipmentModel) TableName() string { return "shipments" }

type SenderRecord struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

// OrderEventModel 对应只追加的 order_events 表；Sequence 是插入顺序
type OrderEventModel struct {
	Sequence    int64     `gorm:"primaryKey;autoIncrement"`
	EventID     string    `gorm:"size:32;uniqueIndex"`
	OrderID     string    `gorm:"size:64;index:idx_order_source"`
	EventSource string    `gorm:"size:16;index:idx_order_source;index:idx_source_aggregate"`
	AggregateID string    `gorm:"size:64;index:idx_source_aggregate"`
	EventType   string    `gorm:"size:64"`
	ActorType   string    `gorm:"size:16"`
	OccurredAt  time.Time `gorm:"precision:6"`
	Description string    `gorm:"size:1024"`
}

func (OrderEventModel) TableName() string { return "order_events" }

// IdempotencyModel 对应 checkout_idempotency 表
type IdempotencyModel struct {
	Key       string    `gorm:"column:idempotency_key;primaryKey;size:128"`
	OrderID   string    `gorm:"size:64"`
	CreatedAt time.Time `gorm:"autoCreateTime:false"`
}

func (IdempotencyModel) TableName() string { return "checkout_idempotency" }

// Models 返回需要迁移的全部表
func Models() []any {
	return []any{&OrderModel{}, &ClaimModel{}, &ShipmentModel{}, &OrderEventModel{}, &IdempotencyModel{}}
}
