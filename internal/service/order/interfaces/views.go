package interfaces

import (
	"time"

	"fulfillment/internal/service/order/domain"
)

type orderItemView struct {
	ID        string `json:"id"`
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unitPrice"`
}

type orderView struct {
	ID           string          `json:"id"`
	MemberID     string          `json:"memberId"`
	State        domain.State    `json:"state"`
	Items        []orderItemView `json:"items"`
	CancelReason string          `json:"cancelReason,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

func toOrderView(o *domain.Order) orderView {
	v := orderView{
		ID:           o.ID,
		MemberID:     o.MemberID,
		State:        o.State,
		CancelReason: o.CancelReason,
		CreatedAt:    o.CreatedAt,
		UpdatedAt:    o.UpdatedAt,
	}
	for _, it := range o.Items {
		v.Items = append(v.Items, orderItemView{ID: it.ID, ProductID: it.ProductID, Quantity: it.Quantity, UnitPrice: it.UnitPrice.String()})
	}
	return v
}

type claimView struct {
	ID                      string             `json:"id"`
	OrderID                 string             `json:"orderId"`
	OrderItemID             string             `json:"orderItemId"`
	Type                    domain.ClaimType   `json:"type"`
	Status                  domain.ClaimStatus `json:"status"`
	Quantity                int                `json:"quantity"`
	RefundAmount            string             `json:"refundAmount"`
	RejectReason            string             `json:"rejectReason,omitempty"`
	ReturnPickupScheduledAt *time.Time         `json:"returnPickupScheduledAt,omitempty"`
	ReturnReceivedAt        *time.Time         `json:"returnReceivedAt,omitempty"`
	ExchangeShippedAt       *time.Time         `json:"exchangeShippedAt,omitempty"`
	ExchangeDeliveredAt     *time.Time         `json:"exchangeDeliveredAt,omitempty"`
}

func toClaimView(c *domain.Claim) claimView {
	return claimView{
		ID:                      c.ID,
		OrderID:                 c.OrderID,
		OrderItemID:             c.OrderItemID,
		Type:                    c.Type,
		Status:                  c.Status,
		Quantity:                c.Quantity,
		RefundAmount:            c.RefundAmount.StringFixed(2),
		RejectReason:            c.RejectReason,
		ReturnPickupScheduledAt: c.ReturnPickupScheduledAt,
		ReturnReceivedAt:        c.ReturnReceivedAt,
		ExchangeShippedAt:       c.ExchangeShippedAt,
		ExchangeDeliveredAt:     c.ExchangeDeliveredAt,
	}
}

type shipmentView struct {
	ID            string                `json:"id"`
	OrderID       string                `json:"orderId"`
	CarrierID     string                `json:"carrierId"`
	InvoiceNumber string                `json:"invoiceNumber"`
	Status        domain.DeliveryStatus `json:"status"`
	Sender        domain.SenderInfo     `json:"sender"`
	LastLocation  string                `json:"lastLocation,omitempty"`
	LastTrackedAt *time.Time            `json:"lastTrackedAt,omitempty"`
	DeliveredAt   *time.Time            `json:"deliveredAt,omitempty"`
}

func toShipmentView(s *domain.Shipment) shipmentView {
	return shipmentView{
		ID:            s.ID,
		OrderID:       s.OrderID,
		CarrierID:     s.CarrierID,
		InvoiceNumber: s.InvoiceNumber,
		Status:        s.Status,
		Sender:        s.Sender,
		LastLocation:  s.Tracking.LastLocation,
		LastTrackedAt: s.Tracking.LastTrackedAt,
		DeliveredAt:   s.Tracking.DeliveredAt,
	}
}
