package infrastructure

import (
	"context"

	"fulfillment/internal/pkg/apperr"
	"fulfillment/internal/pkg/database"
	"fulfillment/internal/service/order/domain"

	"gorm.io/gorm"
)

// GormOrderRepository 是 OrderRepository 的 GORM 实现
type GormOrderRepository struct {
	db *gorm.DB
}

func NewGormOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

func (r *GormOrderRepository) FindByID(ctx context.Context, id string) (*domain.Order, error) {
	var model OrderModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		return nil, database.MapError("order.find", err, "order %s not found", id)
	}
	o, err := toDomainOrder(&model)
	if err != nil {
		return nil, apperr.Internal("order.find", err)
	}
	return o, nil
}

// Save 主键不存在时插入，否则整行更新
func (r *GormOrderRepository) Save(ctx context.Context, o *domain.Order) error {
	return database.MapError("order.save", upsert(ctx, r.db, &OrderModel{}, o.ID, fromDomainOrder(o)), "save order %s", o.ID)
}

// upsert 按主键插入或整行更新；其它唯一键（例如运单号）冲突时返回错误
func upsert(ctx context.Context, db *gorm.DB, table any, id string, model any) error {
	var n int64
	if err := db.WithContext(ctx).Model(table).Where("id = ?", id).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return db.WithContext(ctx).Create(model).Error
	}
	return db.WithContext(ctx).Select("*").Updates(model).Error
}

// GormClaimRepository 是 ClaimRepository 的 GORM 实现
type GormClaimRepository struct {
	db *gorm.DB
}

func NewGormClaimRepository(db *gorm.DB) *GormClaimRepository {
	return &GormClaimRepository{db: db}
}

func (r *GormClaimRepository) FindByID(ctx context.Context, id string) (*domain.Claim, error) {
	var model ClaimModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		return nil, database.MapError("claim.find", err, "claim %s not found", id)
	}
	c, err := toDomainClaim(&model)
	if err != nil {
		return nil, apperr.Internal("claim.find", err)
	}
	return c, nil
}

func (r *GormClaimRepository) FindByOrderID(ctx context.Context, orderID string) ([]*domain.Claim, error) {
	var models []ClaimModel
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Order("created_at, id").Find(&models).Error; err != nil {
		return nil, database.MapError("claim.findByOrder", err, "list claims of order %s", orderID)
	}
	claims := make([]*domain.Claim, 0, len(models))
	for i := range models {
		c, err := toDomainClaim(&models[i])
		if err != nil {
			return nil, apperr.Internal("claim.findByOrder", err)
		}
		claims = append(claims, c)
	}
	return claims, nil
}

func (r *GormClaimRepository) Save(ctx context.Context, c *domain.Claim) error {
	return database.MapError("claim.save", upsert(ctx, r.db, &ClaimModel{}, c.ID, fromDomainClaim(c)), "save claim %s", c.ID)
}

// GormShipmentRepository 是 ShipmentRepository 的 GORM 实现
type GormShipmentRepository struct {
	db *gorm.DB
}

func NewGormShipmentRepository(db *gorm.DB) *GormShipmentRepository {
	return &GormShipmentRepository{db: db}
}

func (r *GormShipmentRepository) FindByID(ctx context.Context, id string) (*domain.Shipment, error) {
	var model ShipmentModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		return nil, database.MapError("shipment.find", err, "shipment %s not found", id)
	}
	return toDomainShipment(&model), nil
}

func (r *GormShipmentRepository) FindByInvoice(ctx context.Context, carrierID, invoiceNumber string) (*domain.Shipment, error) {
	var model ShipmentModel
	err := r.db.WithContext(ctx).
		Where("carrier_id = ? AND invoice_number = ?", carrierID, invoiceNumber).
		First(&model).Error
	if err != nil {
		return nil, database.MapError("shipment.findByInvoice", err, "shipment %s/%s not found", carrierID, invoiceNumber)
	}
	return toDomainShipment(&model), nil
}

func (r *GormShipmentRepository) Save(ctx context.Context, s *domain.Shipment) error {
	return database.MapError("shipment.save", upsert(ctx, r.db, &ShipmentModel{}, s.ID, fromDomainShipment(s)), "save shipment %s", s.ID)
}

// GormEventStore 只插入、只查询
type GormEventStore struct {
	db *gorm.DB
}

func NewGormEventStore(db *gorm.DB) *GormEventStore {
	return &GormEventStore{db: db}
}

// Append 逐条插入以便拿到自增的 Sequence
func (s *GormEventStore) Append(ctx context.Context, events []domain.OrderEvent) ([]domain.OrderEvent, error) {
	out := make([]domain.OrderEvent, len(events))
	for i, e := range events {
		model := fromDomainEvent(e)
		if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
			return nil, database.MapError("event.append", err, "append event %s for order %s", e.EventType, e.OrderID)
		}
		e.Sequence = model.Sequence
		out[i] = e
	}
	return out, nil
}

func (s *GormEventStore) FindByOrderAndSources(ctx context.Context, orderID string, sources ...domain.EventSource) ([]domain.OrderEvent, error) {
	if len(sources) == 0 {
		return nil, nil
	}
	names := make([]string, len(sources))
	for i, src := range sources {
		names[i] = string(src)
	}
	var models []OrderEventModel
	err := s.db.WithContext(ctx).
		Where("order_id = ? AND event_source IN ?", orderID, names).
		Order("sequence").
		Find(&models).Error
	if err != nil {
		return nil, database.MapError("event.findByOrder", err, "load events of order %s", orderID)
	}
	return toDomainEvents(models), nil
}

func (s *GormEventStore) FindByAggregateIDs(ctx context.Context, source domain.EventSource, aggregateIDs []string) ([]domain.OrderEvent, error) {
	if len(aggregateIDs) == 0 {
		return nil, nil
	}
	var models []OrderEventModel
	err := s.db.WithContext(ctx).
		Where("event_source = ? AND aggregate_id IN ?", string(source), aggregateIDs).
		Order("sequence").
		Find(&models).Error
	if err != nil {
		return nil, database.MapError("event.findByAggregate", err, "load %s events", source)
	}
	return toDomainEvents(models), nil
}

func toDomainEvents(models []OrderEventModel) []domain.OrderEvent {
	out := make([]domain.OrderEvent, len(models))
	for i := range models {
		out[i] = toDomainEvent(&models[i])
	}
	return out
}

// GormIdempotencyRepository 保存结算幂等记录
type GormIdempotencyRepository struct {
	db *gorm.DB
}

func NewGormIdempotencyRepository(db *gorm.DB) *GormIdempotencyRepository {
	return &GormIdempotencyRepository{db: db}
}

func (r *GormIdempotencyRepository) Find(ctx context.Context, key string) (*domain.IdempotencyRecord, error) {
	var models []IdempotencyModel
	if err := r.db.WithContext(ctx).Where("idempotency_key = ?", key).Limit(1).Find(&models).Error; err != nil {
		return nil, database.MapError("idempotency.find", err, "find idempotency key %s", key)
	}
	if len(models) == 0 {
		return nil, nil
	}
	return &domain.IdempotencyRecord{Key: models[0].Key, OrderID: models[0].OrderID, CreatedAt: models[0].CreatedAt}, nil
}

func (r *GormIdempotencyRepository) Create(ctx context.Context, rec domain.IdempotencyRecord) error {
	model := &IdempotencyModel{Key: rec.Key, OrderID: rec.OrderID, CreatedAt: rec.CreatedAt}
	return database.MapError("idempotency.create", r.db.WithContext(ctx).Create(model).Error, "create idempotency key %s", rec.Key)
}
