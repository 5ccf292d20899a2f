// internal/service/order/application/shipment_service.go
package application

import (
	"context"
	"time"

	"fulfillment/internal/pkg/apperr"
	"fulfillment/internal/pkg/logger"
	"fulfillment/internal/service/order/domain"
	"fulfillment/internal/service/order/domain/port"

	"github.com/google/uuid"
)

// 可以登记运单的订单状态
var shippableStates = map[domain.State]bool{
	domain.StateConfirmed: true,
	domain.StatePreparing: true,
	domain.StateShipped:   true,
}

// ShipmentService 编排运单登记、轨迹更新和换单
type ShipmentService struct {
	deps      Deps
	shipments domain.ShipmentRepository
	orders    *OrderService
	carrier   port.CarrierTracking
}

func NewShipmentService(deps Deps, shipments domain.ShipmentRepository, orders *OrderService, carrier port.CarrierTracking) *ShipmentService {
	return &ShipmentService{deps: deps, shipments: shipments, orders: orders, carrier: carrier}
}

func (s *ShipmentService) Get(ctx context.Context, shipmentID string) (*domain.Shipment, error) {
	return s.shipments.FindByID(ctx, shipmentID)
}

func (s *ShipmentService) Register(ctx context.Context, cmd RegisterShipmentCommand) (*domain.Shipment, error) {
	var result *domain.Shipment
	err := s.deps.runCommand(ctx, "app.RegisterShipment", "shipment", OrderLockKey(cmd.OrderID),
		func(ctx context.Context, st domain.Stores, now time.Time) ([]domain.OrderEvent, error) {
			order, err := st.Orders.FindByID(ctx, cmd.OrderID)
			if err != nil {
				return nil, err
			}
			if !shippableStates[order.State] {
				return nil, apperr.StateConflict("shipment.register", string(order.State), "registerShipment")
			}
			sh, err := domain.RegisterShipment(domain.RegisterShipmentParams{
				ID:            uuid.NewString(),
				OrderID:       order.ID,
				CarrierID:     cmd.CarrierID,
				InvoiceNumber: cmd.InvoiceNumber,
				Sender:        cmd.Sender,
				Actor:         cmd.Actor,
				Now:           now,
			})
			if err != nil {
				return nil, err
			}
			if err := st.Shipments.Save(ctx, sh); err != nil {
				return nil, err
			}
			result = sh
			return sh.PullEvents(), nil
		})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *ShipmentService) ChangeInvoice(ctx context.Context, cmd ChangeInvoiceCommand) (*domain.Shipment, error) {
	var result *domain.Shipment
	err := s.deps.runCommand(ctx, "app.ChangeInvoice", "shipment", ShipmentLockKey(cmd.ShipmentID),
		func(ctx context.Context, st domain.Stores, now time.Time) ([]domain.OrderEvent, error) {
			sh, err := st.Shipments.FindByID(ctx, cmd.ShipmentID)
			if err != nil {
				return nil, err
			}
			if err := sh.ChangeInvoice(cmd.CarrierID, cmd.InvoiceNumber, cmd.Actor, now); err != nil {
				return nil, err
			}
			if err := st.Shipments.Save(ctx, sh); err != nil {
				return nil, err
			}
			result = sh
			return sh.PullEvents(), nil
		})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// UpdateTracking 应用一次轨迹更新。运单处于 DELIVERED 时会尝试推进订单，
// 这样重放同一条签收消息可以补上之前失败的订单推进。
func (s *ShipmentService) UpdateTracking(ctx context.Context, shipmentID string, update domain.TrackingUpdate) (TrackingResult, error) {
	var result TrackingResult
	err := s.deps.runCommand(ctx, "app.UpdateTracking", "shipment", ShipmentLockKey(shipmentID),
		func(ctx context.Context, st domain.Stores, now time.Time) ([]domain.OrderEvent, error) {
			sh, err := st.Shipments.FindByID(ctx, shipmentID)
			if err != nil {
				return nil, err
			}
			applied, err := sh.UpdateTracking(update, now)
			if err != nil {
				return nil, err
			}
			result = TrackingResult{Shipment: sh, Applied: applied}
			if !applied {
				return nil, nil
			}
			if err := st.Shipments.Save(ctx, sh); err != nil {
				return nil, err
			}
			return sh.PullEvents(), nil
		})
	if err != nil {
		return TrackingResult{}, err
	}
	if !result.Applied {
		logger.Ctx(ctx).Debug().Str("shipment_id", shipmentID).Time("tracked_at", update.TrackedAt).Msg("stale or duplicate tracking update ignored")
	}

	if result.Shipment.Status == domain.DeliveryDelivered && update.DeliveredAt != nil && s.orders != nil {
		if _, err := s.orders.AdvanceOnShipmentDelivered(ctx, result.Shipment.OrderID); err != nil {
			return result, err
		}
	}
	return result, nil
}

// UpdateTrackingByInvoice 承运商回调只带运单号，先定位运单再更新
func (s *ShipmentService) UpdateTrackingByInvoice(ctx context.Context, carrierID, invoiceNumber string, update domain.TrackingUpdate) (TrackingResult, error) {
	sh, err := s.shipments.FindByInvoice(ctx, carrierID, invoiceNumber)
	if err != nil {
		return TrackingResult{}, err
	}
	return s.UpdateTracking(ctx, sh.ID, update)
}

// PollTracking 主动向承运商拉取最新轨迹
func (s *ShipmentService) PollTracking(ctx context.Context, shipmentID string) (TrackingResult, error) {
	if s.carrier == nil {
		return TrackingResult{}, apperr.Validation("shipment.poll", "no carrier tracking adapter configured")
	}
	sh, err := s.shipments.FindByID(ctx, shipmentID)
	if err != nil {
		return TrackingResult{}, err
	}
	if sh.Status == domain.DeliveryDelivered {
		return TrackingResult{Shipment: sh}, nil
	}
	update, err := s.carrier.LatestTracking(ctx, sh.CarrierID, sh.InvoiceNumber)
	if err != nil {
		return TrackingResult{}, apperr.External("shipment.poll", err)
	}
	return s.UpdateTracking(ctx, shipmentID, update)
}
