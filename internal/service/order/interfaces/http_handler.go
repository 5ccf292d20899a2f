package interfaces

import (
	"context"
	"net/http"
	"time"

	"fulfillment/internal/pkg/httpx"
	"fulfillment/internal/service/order/application"
	"fulfillment/internal/service/order/domain"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const serviceName = "order-service"

// Services 是 HTTP 层依赖的应用服务
type Services struct {
	Orders    *application.OrderService
	Claims    *application.ClaimService
	Shipments *application.ShipmentService
	Checkout  *application.CheckoutService
	Timeline  *application.TimelineAssembler
}

// OrderHandler 封装了订单履约的 HTTP 处理器
type OrderHandler struct {
	svc    Services
	tracer trace.Tracer
}

func NewOrderHandler(svc Services) *OrderHandler {
	return &OrderHandler{svc: svc, tracer: otel.Tracer(serviceName)}
}

// RegisterRoutes 在 ServeMux 上注册所有路由；/healthz 和 /metrics 由 bootstrap 注册
func (h *OrderHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /checkout", h.placeOrder)
	mux.HandleFunc("GET /orders/{id}", h.getOrder)
	mux.HandleFunc("GET /orders/{id}/timeline", h.getTimeline)
	mux.HandleFunc("POST /orders/{id}/claims", h.requestClaim)
	mux.HandleFunc("POST /orders/{id}/shipments", h.registerShipment)
	mux.HandleFunc("POST /orders/{id}/{action}", h.orderAction)
	mux.HandleFunc("GET /claims/{id}", h.getClaim)
	mux.HandleFunc("POST /claims/{id}/{action}", h.claimAction)
	mux.HandleFunc("GET /shipments/{id}", h.getShipment)
	mux.HandleFunc("POST /shipments/{id}/tracking", h.updateTracking)
	mux.HandleFunc("POST /shipments/{id}/invoice", h.changeInvoice)
	mux.HandleFunc("POST /shipments/{id}/poll", h.pollTracking)
	mux.HandleFunc("POST /carriers/{carrier}/tracking", h.carrierCallback)
}

// start 从请求头恢复上游 trace，并开启本次请求的 span
func (h *OrderHandler) start(r *http.Request, name string) (context.Context, trace.Span) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	return h.tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindServer))
}

// --- 请求体 ---

type actorRequest struct {
	Actor  domain.ActorType `json:"actor"`
	Reason string           `json:"reason"`
	At     time.Time        `json:"at"`
}

type checkoutRequest struct {
	IdempotencyKey string `json:"idempotencyKey"`
	MemberID       string `json:"memberId"`
	Items          []struct {
		ProductID string          `json:"productId"`
		Quantity  int             `json:"quantity"`
		UnitPrice decimal.Decimal `json:"unitPrice"`
	} `json:"items"`
}

type claimRequest struct {
	OrderItemID  string           `json:"orderItemId"`
	Type         domain.ClaimType `json:"type"`
	Reason       string           `json:"reason"`
	Quantity     int              `json:"quantity"`
	RefundAmount decimal.Decimal  `json:"refundAmount"`
	Actor        domain.ActorType `json:"actor"`
}

type shipmentRequest struct {
	CarrierID     string            `json:"carrierId"`
	InvoiceNumber string            `json:"invoiceNumber"`
	Sender        domain.SenderInfo `json:"sender"`
	Actor         domain.ActorType  `json:"actor"`
}

type trackingRequest struct {
	InvoiceNumber string     `json:"invoiceNumber"`
	Location      string     `json:"location"`
	Message       string     `json:"message"`
	TrackedAt     time.Time  `json:"trackedAt"`
	DeliveredAt   *time.Time `json:"deliveredAt"`
}

func (t trackingRequest) update() domain.TrackingUpdate {
	return domain.TrackingUpdate{Location: t.Location, Message: t.Message, TrackedAt: t.TrackedAt, DeliveredAt: t.DeliveredAt}
}

// --- 处理器 ---

func (h *OrderHandler) placeOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.start(r, "http.PlaceOrder")
	defer span.End()

	var req checkoutRequest
	if !httpx.Decode(ctx, w, r, &req) {
		return
	}
	in := application.PlaceOrderRequest{IdempotencyKey: req.IdempotencyKey, MemberID: req.MemberID}
	if in.IdempotencyKey == "" {
		in.IdempotencyKey = r.Header.Get("Idempotency-Key")
	}
	for _, it := range req.Items {
		in.Items = append(in.Items, application.PlaceOrderItem{ProductID: it.ProductID, Quantity: it.Quantity, UnitPrice: it.UnitPrice})
	}
	span.SetAttributes(attribute.String("checkout.idempotency_key", in.IdempotencyKey))

	resp, err := h.svc.Checkout.PlaceOrder(ctx, in)
	if err != nil {
		httpx.WriteError(ctx, w, err)
		return
	}
	status := http.StatusCreated
	if resp.Duplicate {
		status = http.StatusOK
	}
	httpx.WriteJSON(w, status, map[string]any{"order": toOrderView(resp.Order), "duplicate": resp.Duplicate})
}

func (h *OrderHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.start(r, "http.GetOrder")
	defer span.End()
	o, err := h.svc.Orders.Get(ctx, r.PathValue("id"))
	if err != nil {
		httpx.WriteError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toOrderView(o))
}

func (h *OrderHandler) getTimeline(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.start(r, "http.GetOrderTimeline")
	defer span.End()
	entries, err := h.svc.Timeline.GetTimeline(ctx, r.PathValue("id"))
	if err != nil {
		httpx.WriteError(ctx, w, err)
		return
	}
	if entries == nil {
		entries = []application.TimelineEntry{}
	}
	httpx.WriteJSON(w, http.StatusOK, entries)
}

func (h *OrderHandler) orderAction(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.start(r, "http.OrderAction")
	defer span.End()

	var req actorRequest
	if !httpx.Decode(ctx, w, r, &req) {
		return
	}
	cmd := application.OrderCommand{OrderID: r.PathValue("id"), Actor: req.Actor}
	action := r.PathValue("action")
	span.SetAttributes(attribute.String("order.action", action))

	var (
		o   *domain.Order
		err error
	)
	switch action {
	case "confirm":
		o, err = h.svc.Orders.Confirm(ctx, cmd)
	case "start-preparing":
		o, err = h.svc.Orders.StartPreparing(ctx, cmd)
	case "ship":
		o, err = h.svc.Orders.Ship(ctx, cmd)
	case "deliver":
		o, err = h.svc.Orders.Deliver(ctx, cmd)
	case "complete":
		o, err = h.svc.Orders.Complete(ctx, cmd)
	case "cancel":
		o, err = h.svc.Orders.Cancel(ctx, application.CancelOrderCommand{OrderID: cmd.OrderID, Actor: cmd.Actor, Reason: req.Reason})
	default:
		http.NotFound(w, r)
		return
	}
	if err != nil {
		httpx.WriteError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toOrderView(o))
}

func (h *OrderHandler) requestClaim(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.start(r, "http.RequestClaim")
	defer span.End()

	var req claimRequest
	if !httpx.Decode(ctx, w, r, &req) {
		return
	}
	c, err := h.svc.Claims.RequestClaim(ctx, application.RequestClaimCommand{
		OrderID:      r.PathValue("id"),
		OrderItemID:  req.OrderItemID,
		Type:         req.Type,
		Reason:       req.Reason,
		Quantity:     req.Quantity,
		RefundAmount: req.RefundAmount,
		Actor:        req.Actor,
	})
	if err != nil {
		httpx.WriteError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toClaimView(c))
}

func (h *OrderHandler) getClaim(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.start(r, "http.GetClaim")
	defer span.End()
	c, err := h.svc.Claims.Get(ctx, r.PathValue("id"))
	if err != nil {
		httpx.WriteError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toClaimView(c))
}

func (h *OrderHandler) claimAction(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.start(r, "http.ClaimAction")
	defer span.End()

	var req actorRequest
	if !httpx.Decode(ctx, w, r, &req) {
		return
	}
	id := r.PathValue("id")
	action := r.PathValue("action")
	span.SetAttributes(attribute.String("claim.action", action))
	cmd := application.ClaimCommand{ClaimID: id, Actor: req.Actor}
	ts := application.ClaimTimestampCommand{ClaimID: id, At: req.At, Actor: req.Actor}

	var (
		c   *domain.Claim
		err error
	)
	switch action {
	case "approve":
		c, err = h.svc.Claims.Approve(ctx, cmd)
	case "reject":
		c, err = h.svc.Claims.Reject(ctx, application.RejectClaimCommand{ClaimID: id, Actor: req.Actor, Reason: req.Reason})
	case "start-processing":
		c, err = h.svc.Claims.StartProcessing(ctx, cmd)
	case "complete":
		c, err = h.svc.Claims.Complete(ctx, cmd)
	case "cancel":
		c, err = h.svc.Claims.Cancel(ctx, cmd)
	case "return-pickup":
		c, err = h.svc.Claims.ScheduleReturnPickup(ctx, ts)
	case "return-received":
		c, err = h.svc.Claims.MarkReturnReceived(ctx, ts)
	case "exchange-shipped":
		c, err = h.svc.Claims.MarkExchangeShipped(ctx, ts)
	case "exchange-delivered":
		c, err = h.svc.Claims.MarkExchangeDelivered(ctx, ts)
	default:
		http.NotFound(w, r)
		return
	}
	if err != nil {
		httpx.WriteError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toClaimView(c))
}

func (h *OrderHandler) registerShipment(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.start(r, "http.RegisterShipment")
	defer span.End()

	var req shipmentRequest
	if !httpx.Decode(ctx, w, r, &req) {
		return
	}
	s, err := h.svc.Shipments.Register(ctx, application.RegisterShipmentCommand{
		OrderID:       r.PathValue("id"),
		CarrierID:     req.CarrierID,
		InvoiceNumber: req.InvoiceNumber,
		Sender:        req.Sender,
		Actor:         req.Actor,
	})
	if err != nil {
		httpx.WriteError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toShipmentView(s))
}

func (h *OrderHandler) getShipment(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.start(r, "http.GetShipment")
	defer span.End()
	s, err := h.svc.Shipments.Get(ctx, r.PathValue("id"))
	if err != nil {
		httpx.WriteError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toShipmentView(s))
}

func (h *OrderHandler) updateTracking(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.start(r, "http.UpdateTracking")
	defer span.End()

	var req trackingRequest
	if !httpx.Decode(ctx, w, r, &req) {
		return
	}
	res, err := h.svc.Shipments.UpdateTracking(ctx, r.PathValue("id"), req.update())
	if err != nil {
		httpx.WriteError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"shipment": toShipmentView(res.Shipment), "applied": res.Applied})
}

// carrierCallback 承运商推送只带运单号
func (h *OrderHandler) carrierCallback(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.start(r, "http.CarrierCallback")
	defer span.End()

	var req trackingRequest
	if !httpx.Decode(ctx, w, r, &req) {
		return
	}
	res, err := h.svc.Shipments.UpdateTrackingByInvoice(ctx, r.PathValue("carrier"), req.InvoiceNumber, req.update())
	if err != nil {
		httpx.WriteError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"shipment": toShipmentView(res.Shipment), "applied": res.Applied})
}

func (h *OrderHandler) changeInvoice(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.start(r, "http.ChangeInvoice")
	defer span.End()

	var req shipmentRequest
	if !httpx.Decode(ctx, w, r, &req) {
		return
	}
	s, err := h.svc.Shipments.ChangeInvoice(ctx, application.ChangeInvoiceCommand{
		ShipmentID:    r.PathValue("id"),
		CarrierID:     req.CarrierID,
		InvoiceNumber: req.InvoiceNumber,
		Actor:         req.Actor,
	})
	if err != nil {
		httpx.WriteError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toShipmentView(s))
}

func (h *OrderHandler) pollTracking(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.start(r, "http.PollTracking")
	defer span.End()
	res, err := h.svc.Shipments.PollTracking(ctx, r.PathValue("id"))
	if err != nil {
		httpx.WriteError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"shipment": toShipmentView(res.Shipment), "applied": res.Applied})
}
