package saga

import (
	"fulfillment/internal/pkg/logger"
	"fulfillment/internal/service/order/domain"

	"go.opentelemetry.io/otel/attribute"
)

// IdempotencyHandler 命中已有的幂等记录时加载原订单并终止链
type IdempotencyHandler struct {
	NextHandler
}

func (h *IdempotencyHandler) Handle(c *CheckoutContext) error {
	ctx, span := c.Tracer.Start(c.Ctx, "saga.CheckIdempotency")
	defer span.End()

	rec, err := c.Stores.Idempotency.Find(ctx, c.IdempotencyKey)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if rec != nil {
		order, err := c.Stores.Orders.FindByID(ctx, rec.OrderID)
		if err != nil {
			span.RecordError(err)
			return err
		}
		c.Order = order
		c.Duplicate = true
		span.SetAttributes(attribute.Bool("checkout.duplicate", true))
		logger.Ctx(ctx).Info().Str("idempotency_key", c.IdempotencyKey).Str("order_id", order.ID).
			Msg("🔁 checkout replayed, returning existing order")
		return nil
	}
	return h.executeNext(c)
}

// BuildOrderHandler 校验结算内容并创建订单聚合
type BuildOrderHandler struct {
	NextHandler
	newID func() string
}

func (h *BuildOrderHandler) Handle(c *CheckoutContext) error {
	_, span := c.Tracer.Start(c.Ctx, "saga.BuildOrder")
	defer span.End()

	items := make([]domain.OrderItem, len(c.Items))
	for i, it := range c.Items {
		it.ID = h.newID()
		items[i] = it
	}
	order, err := domain.NewOrder(domain.NewOrderParams{
		ID:             h.newID(),
		MemberID:       c.MemberID,
		IdempotencyKey: c.IdempotencyKey,
		Items:          items,
		Actor:          domain.ActorCustomer,
		Now:            c.Now,
	})
	if err != nil {
		span.RecordError(err)
		return err
	}
	c.Order = order
	span.SetAttributes(attribute.String("order.id", order.ID))
	return h.executeNext(c)
}

// PersistHandler 在同一事务内写入订单和幂等记录
type PersistHandler struct {
	NextHandler
}

func (h *PersistHandler) Handle(c *CheckoutContext) error {
	ctx, span := c.Tracer.Start(c.Ctx, "saga.PersistOrder")
	defer span.End()

	if err := c.Stores.Orders.Save(ctx, c.Order); err != nil {
		span.RecordError(err)
		return err
	}
	err := c.Stores.Idempotency.Create(ctx, domain.IdempotencyRecord{
		Key:       c.IdempotencyKey,
		OrderID:   c.Order.ID,
		CreatedAt: c.Now,
	})
	if err != nil {
		span.RecordError(err)
		return err
	}
	span.AddEvent("order and idempotency record saved")
	return h.executeNext(c)
}
