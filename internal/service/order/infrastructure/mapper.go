package infrastructure

import (
	"fulfillment/internal/service/order/domain"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// toDomainOrder 将数据库模型转换为领域模型
func toDomainOrder(m *OrderModel) (*domain.Order, error) {
	items := make([]domain.OrderItem, len(m.Items))
	for i, it := range m.Items {
		price, err := decimal.NewFromString(it.UnitPrice)
		if err != nil {
			return nil, errors.Wrapf(err, "order %s item %s: bad unit price %q", m.ID, it.ID, it.UnitPrice)
		}
		items[i] = domain.OrderItem{ID: it.ID, ProductID: it.ProductID, Quantity: it.Quantity, UnitPrice: price}
	}
	return domain.ReconstituteOrder(domain.Order{
		ID:             m.ID,
		MemberID:       m.MemberID,
		IdempotencyKey: m.IdempotencyKey,
		Items:          items,
		State:          domain.State(m.State),
		CancelReason:   m.CancelReason,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
		ConfirmedAt:    m.ConfirmedAt,
		PreparingAt:    m.PreparingAt,
		ShippedAt:      m.ShippedAt,
		DeliveredAt:    m.DeliveredAt,
		CompletedAt:    m.CompletedAt,
		CancelledAt:    m.CancelledAt,
	}), nil
}

func fromDomainOrder(o *domain.Order) *OrderModel {
	items := make(datatypes.JSONSlice[OrderItemRecord], len(o.Items))
	for i, it := range o.Items {
		items[i] = OrderItemRecord{ID: it.ID, ProductID: it.ProductID, Quantity: it.Quantity, UnitPrice: it.UnitPrice.String()}
	}
	return &OrderModel{
		ID:             o.ID,
		MemberID:       o.MemberID,
		IdempotencyKey: o.IdempotencyKey,
		State:          string(o.State),
		CancelReason:   o.CancelReason,
		Items:          items,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
		ConfirmedAt:    o.ConfirmedAt,
		PreparingAt:    o.PreparingAt,
		ShippedAt:      o.ShippedAt,
		DeliveredAt:    o.DeliveredAt,
		CompletedAt:    o.CompletedAt,
		CancelledAt:    o.CancelledAt,
	}
}

func toDomainClaim(m *ClaimModel) (*domain.Claim, error) {
	refund := decimal.Zero
	if m.RefundAmount != "" {
		var err error
		if refund, err = decimal.NewFromString(m.RefundAmount); err != nil {
			return nil, errors.Wrapf(err, "claim %s: bad refund amount %q", m.ID, m.RefundAmount)
		}
	}
	return domain.ReconstituteClaim(domain.Claim{
		ID:                      m.ID,
		OrderID:                 m.OrderID,
		OrderItemID:             m.OrderItemID,
		Type:                    domain.ClaimType(m.Type),
		Status:                  domain.ClaimStatus(m.Status),
		Reason:                  m.Reason,
		RejectReason:            m.RejectReason,
		Quantity:                m.Quantity,
		RefundAmount:            refund,
		CreatedAt:               m.CreatedAt,
		UpdatedAt:               m.UpdatedAt,
		ReturnPickupScheduledAt: m.ReturnPickupScheduledAt,
		ReturnReceivedAt:        m.ReturnReceivedAt,
		ExchangeShippedAt:       m.ExchangeShippedAt,
		ExchangeDeliveredAt:     m.ExchangeDeliveredAt,
	}), nil
}

func fromDomainClaim(c *domain.Claim) *ClaimModel {
	return &ClaimModel{
		ID:                      c.ID,
		OrderID:                 c.OrderID,
		OrderItemID:             c.OrderItemID,
		Type:                    string(c.Type),
		Status:                  string(c.Status),
		Reason:                  c.Reason,
		RejectReason:            c.RejectReason,
		Quantity:                c.Quantity,
		RefundAmount:            c.RefundAmount.StringFixed(2),
		CreatedAt:               c.CreatedAt,
		UpdatedAt:               c.UpdatedAt,
		ReturnPickupScheduledAt: c.ReturnPickupScheduledAt,
		ReturnReceivedAt:        c.ReturnReceivedAt,
		ExchangeShippedAt:       c.ExchangeShippedAt,
		ExchangeDeliveredAt:     c.ExchangeDeliveredAt,
	}
}

func toDomainShipment(m *ShipmentModel) *domain.Shipment {
	sender := m.SenderInfo.Data()
	return domain.ReconstituteShipment(domain.Shipment{
		ID:            m.ID,
		OrderID:       m.OrderID,
		CarrierID:     m.CarrierID,
		InvoiceNumber: m.InvoiceNumber,
		Sender:        domain.SenderInfo{Name: sender.Name, Phone: sender.Phone, Address: sender.Address},
		Status:        domain.DeliveryStatus(m.Status),
		Tracking: domain.TrackingInfo{
			LastLocation:  m.LastLocation,
			LastMessage:   m.LastMessage,
			LastTrackedAt: m.LastTrackedAt,
			DeliveredAt:   m.DeliveredAt,
		},
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	})
}

func fromDomainShipment(s *domain.Shipment) *ShipmentModel {
	return &ShipmentModel{
		ID:            s.ID,
		OrderID:       s.OrderID,
		CarrierID:     s.CarrierID,
		InvoiceNumber: s.InvoiceNumber,
		SenderInfo:    datatypes.NewJSONType(SenderRecord{Name: s.Sender.Name, Phone: s.Sender.Phone, Address: s.Sender.Address}),
		Status:        string(s.Status),
		LastLocation:  s.Tracking.LastLocation,
		LastMessage:   s.Tracking.LastMessage,
		LastTrackedAt: s.Tracking.LastTrackedAt,
		DeliveredAt:   s.Tracking.DeliveredAt,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
}

func toDomainEvent(m *OrderEventModel) domain.OrderEvent {
	return domain.OrderEvent{
		EventID:     m.EventID,
		Sequence:    m.Sequence,
		OrderID:     m.OrderID,
		AggregateID: m.AggregateID,
		EventType:   domain.EventType(m.EventType),
		EventSource: domain.EventSource(m.EventSource),
		ActorType:   domain.ActorType(m.ActorType),
		OccurredAt:  m.OccurredAt.UTC(),
		Description: m.Description,
	}
}

func fromDomainEvent(e domain.OrderEvent) *OrderEventModel {
	return &OrderEventModel{
		EventID:     e.EventID,
		OrderID:     e.OrderID,
		AggregateID: e.AggregateID,
		EventType:   string(e.EventType),
		EventSource: string(e.EventSource),
		ActorType:   string(e.ActorType),
		OccurredAt:  e.OccurredAt,
		Description: e.Description,
	}
}
