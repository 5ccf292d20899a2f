package domain

import (
	"context"
	"time"
)

// OrderRepository 定义了订单数据的持久化接口
// 这是领域层与基础设施层之间的“插座”
type OrderRepository interface {
	FindByID(ctx context.Context, id string) (*Order, error)
	Save(ctx context.Context, order *Order) error
}

type ClaimRepository interface {
	FindByID(ctx context.Context, id string) (*Claim, error)
	// FindByOrderID 返回属于该订单的全部理赔，时间线通过它收集理赔 ID
	FindByOrderID(ctx context.Context, orderID string) ([]*Claim, error)
	Save(ctx context.Context, claim *Claim) error
}

type ShipmentRepository interface {
	FindByID(ctx context.Context, id string) (*Shipment, error)
	FindByInvoice(ctx context.Context, carrierID, invoiceNumber string) (*Shipment, error)
	Save(ctx context.Context, shipment *Shipment) error
}

// EventStore 是只追加的事件存储，没有更新和删除方法
type EventStore interface {
	// Append 写入事件并回填 Sequence
	Append(ctx context.Context, events []OrderEvent) ([]OrderEvent, error)
	FindByOrderAndSources(ctx context.Context, orderID string, sources ...EventSource) ([]OrderEvent, error)
	FindByAggregateIDs(ctx context.Context, source EventSource, aggregateIDs []string) ([]OrderEvent, error)
}

// IdempotencyRecord 记录一次结算请求的幂等键与其创建的订单
type IdempotencyRecord struct {
	Key       string
	OrderID   string
	CreatedAt time.Time
}

type IdempotencyRepository interface {
	// Find 找不到时返回 (nil, nil)
	Find(ctx context.Context, key string) (*IdempotencyRecord, error)
	// Create 键已存在时返回 STATE_CONFLICT
	Create(ctx context.Context, rec IdempotencyRecord) error
}

// Stores 是一个事务内可见的仓储集合
type Stores struct {
	Orders      OrderRepository
	Claims      ClaimRepository
	Shipments   ShipmentRepository
	Events      EventStore
	Idempotency IdempotencyRepository
}

// TxRunner 在同一个数据库事务中执行 fn，fn 返回错误时整体回滚
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context, s Stores) error) error
}
