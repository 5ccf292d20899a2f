// internal/service/order/domain/shipment.go
package domain

import (
	"fmt"
	"strings"
	"time"

	"fulfillment/internal/pkg/apperr"
)

// DeliveryStatus 物流状态，只会向前推进
type DeliveryStatus string

const (
	DeliveryReady     DeliveryStatus = "READY"
	DeliveryInTransit DeliveryStatus = "IN_TRANSIT"
	DeliveryDelivered DeliveryStatus = "DELIVERED"
)

// SenderInfo 发件人信息
type SenderInfo struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

// TrackingInfo 最近一次承运商回传的轨迹
type TrackingInfo struct {
	LastLocation  string
	LastMessage   string
	LastTrackedAt *time.Time
	DeliveredAt   *time.Time
}

// TrackingUpdate 承运商推送或轮询得到的一次轨迹更新
type TrackingUpdate struct {
	Location    string
	Message     string
	TrackedAt   time.Time
	DeliveredAt *time.Time
}

// Shipment 物流聚合，与订单一对多，只持有订单 ID
type Shipment struct {
	eventBuffer

	ID            string
	OrderID       string
	CarrierID     string
	InvoiceNumber string
	Sender        SenderInfo
	Status        DeliveryStatus
	Tracking      TrackingInfo

	CreatedAt time.Time
	UpdatedAt time.Time
}

// RegisterShipmentParams 登记运单的输入
type RegisterShipmentParams struct {
	ID            string
	OrderID       string
	CarrierID     string
	InvoiceNumber string
	Sender        SenderInfo
	Actor         ActorType
	Now           time.Time
}

func RegisterShipment(p RegisterShipmentParams) (*Shipment, error) {
	const op = "shipment.register"
	if strings.TrimSpace(p.ID) == "" || strings.TrimSpace(p.OrderID) == "" {
		return nil, apperr.Validation(op, "shipment id and order id are required")
	}
	if err := validateInvoice(op, p.CarrierID, p.InvoiceNumber); err != nil {
		return nil, err
	}
	actor := p.Actor
	if !actor.Valid() {
		actor = ActorSeller
	}
	s := &Shipment{
		ID:            p.ID,
		OrderID:       p.OrderID,
		CarrierID:     strings.TrimSpace(p.CarrierID),
		InvoiceNumber: strings.TrimSpace(p.InvoiceNumber),
		Sender:        p.Sender,
		Status:        DeliveryReady,
		CreatedAt:     p.Now,
		UpdatedAt:     p.Now,
	}
	s.raiseEvent(EventShipmentRegistered, actor, p.Now,
		fmt.Sprintf("shipment registered with carrier %s, invoice %s", s.CarrierID, s.InvoiceNumber))
	return s, nil
}

// ReconstituteShipment 从持久化字段重建运单
func ReconstituteShipment(s Shipment) *Shipment {
	s.eventBuffer = eventBuffer{}
	return &s
}

func validateInvoice(op, carrierID, invoiceNumber string) error {
	if strings.TrimSpace(carrierID) == "" {
		return apperr.Validation(op, "carrier id is required")
	}
	if strings.TrimSpace(invoiceNumber) == "" {
		return apperr.Validation(op, "invoice number is required")
	}
	return nil
}

func (s *Shipment) raiseEvent(t EventType, actor ActorType, now time.Time, desc string) {
	s.raise(OrderEvent{
		OrderID:     s.OrderID,
		AggregateID: s.ID,
		EventType:   t,
		EventSource: SourceShipping,
		ActorType:   actor,
		OccurredAt:  now,
		Description: desc,
	})
}

// UpdateTracking 应用一次轨迹更新，返回是否真正生效。
//
//   - 不带 DeliveredAt 的更新：已签收、或 TrackedAt 不晚于 LastTrackedAt 时忽略（乱序/重复推送）
//   - 带 DeliveredAt 的更新：总是生效并强制 DELIVERED，同一 DeliveredAt 的重复签收除外
func (s *Shipment) UpdateTracking(u TrackingUpdate, now time.Time) (bool, error) {
	if u.TrackedAt.IsZero() {
		return false, apperr.Validation("shipment.updateTracking", "trackedAt is required")
	}

	if u.DeliveredAt != nil {
		if s.Status == DeliveryDelivered && s.Tracking.DeliveredAt != nil && s.Tracking.DeliveredAt.Equal(*u.DeliveredAt) {
			return false, nil
		}
		tracked, delivered := u.TrackedAt, *u.DeliveredAt
		s.Tracking.LastLocation = u.Location
		s.Tracking.LastMessage = u.Message
		s.Tracking.LastTrackedAt = &tracked
		s.Tracking.DeliveredAt = &delivered
		s.Status = DeliveryDelivered
		s.UpdatedAt = now
		s.raiseEvent(EventShipmentDelivered, ActorSystem, now, describeTracking("delivered", u))
		return true, nil
	}

	if s.Status == DeliveryDelivered {
		return false, nil
	}
	if s.Tracking.LastTrackedAt != nil && !u.TrackedAt.After(*s.Tracking.LastTrackedAt) {
		return false, nil
	}
	tracked := u.TrackedAt
	s.Tracking.LastLocation = u.Location
	s.Tracking.LastMessage = u.Message
	s.Tracking.LastTrackedAt = &tracked
	s.Status = DeliveryInTransit
	s.UpdatedAt = now
	s.raiseEvent(EventShipmentInTransit, ActorSystem, now, describeTracking("in transit", u))
	return true, nil
}

func describeTracking(prefix string, u TrackingUpdate) string {
	parts := []string{"shipment " + prefix}
	if u.Location != "" {
		parts = append(parts, "at "+u.Location)
	}
	if u.Message != "" {
		parts = append(parts, "("+u.Message+")")
	}
	return strings.Join(parts, " ")
}

// ChangeInvoice 只允许在出库前（READY）更换承运商/运单号
func (s *Shipment) ChangeInvoice(carrierID, invoiceNumber string, actor ActorType, now time.Time) error {
	const op = "shipment.changeInvoice"
	if s.Status != DeliveryReady {
		return apperr.StateConflict(op, string(s.Status), "changeInvoice")
	}
	if err := validateInvoice(op, carrierID, invoiceNumber); err != nil {
		return err
	}
	if !actor.Valid() {
		return apperr.Validation(op, "unknown actor type %q", actor)
	}
	prevCarrier, prevInvoice := s.CarrierID, s.InvoiceNumber
	s.CarrierID = strings.TrimSpace(carrierID)
	s.InvoiceNumber = strings.TrimSpace(invoiceNumber)
	s.UpdatedAt = now
	s.raiseEvent(EventShipmentInvoiceChanged, actor, now,
		fmt.Sprintf("invoice changed from %s/%s to %s/%s", prevCarrier, prevInvoice, s.CarrierID, s.InvoiceNumber))
	return nil
}
