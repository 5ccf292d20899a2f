package infrastructure

import (
	"context"

	"fulfillment/internal/service/order/domain"

	"gorm.io/gorm"
)

// GormTxRunner 在一个 gorm 事务中提供全部仓储
type GormTxRunner struct {
	db *gorm.DB
}

func NewGormTxRunner(db *gorm.DB) *GormTxRunner {
	return &GormTxRunner{db: db}
}

func (r *GormTxRunner) InTx(ctx context.Context, fn func(ctx context.Context, s domain.Stores) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, StoresFor(tx))
	})
}

// StoresFor 返回绑定到 db（可以是事务）的仓储集合
func StoresFor(db *gorm.DB) domain.Stores {
	return domain.Stores{
		Orders:      NewGormOrderRepository(db),
		Claims:      NewGormClaimRepository(db),
		Shipments:   NewGormShipmentRepository(db),
		Events:      NewGormEventStore(db),
		Idempotency: NewGormIdempotencyRepository(db),
	}
}

var (
	_ domain.TxRunner              = (*GormTxRunner)(nil)
	_ domain.OrderRepository       = (*GormOrderRepository)(nil)
	_ domain.ClaimRepository       = (*GormClaimRepository)(nil)
	_ domain.ShipmentRepository    = (*GormShipmentRepository)(nil)
	_ domain.EventStore            = (*GormEventStore)(nil)
	_ domain.IdempotencyRepository = (*GormIdempotencyRepository)(nil)
)
