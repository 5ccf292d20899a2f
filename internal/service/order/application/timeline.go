// internal/service/order/application/timeline.go
package application

import (
	"context"
	"sort"
	"time"

	"fulfillment/internal/pkg/metrics"
	"fulfillment/internal/service/order/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// TimelineAssembler 把订单自身、支付、配送和理赔的事件合并成一条按时间排序的时间线
type TimelineAssembler struct {
	orders domain.OrderRepository
	claims domain.ClaimRepository
	events domain.EventStore
	tracer trace.Tracer
}

func NewTimelineAssembler(orders domain.OrderRepository, claims domain.ClaimRepository, events domain.EventStore, tracer trace.Tracer) *TimelineAssembler {
	return &TimelineAssembler{orders: orders, claims: claims, events: events, tracer: tracer}
}

// GetTimeline 只读；订单不存在时返回 NOT_FOUND。
// 相同发生时间的事件按写入顺序（Sequence）排列。
func (a *TimelineAssembler) GetTimeline(ctx context.Context, orderID string) ([]TimelineEntry, error) {
	ctx, span := a.tracer.Start(ctx, "app.GetTimeline", trace.WithAttributes(attribute.String("order.id", orderID)))
	defer span.End()
	start := time.Now()
	defer func() { metrics.TimelineAssemblyDuration.Observe(time.Since(start).Seconds()) }()

	if _, err := a.orders.FindByID(ctx, orderID); err != nil {
		span.RecordError(err)
		return nil, err
	}

	var own, claimEvents []domain.OrderEvent
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		own, err = a.events.FindByOrderAndSources(gctx, orderID,
			domain.SourceOrder, domain.SourcePayment, domain.SourceShipping)
		return err
	})
	g.Go(func() error {
		claims, err := a.claims.FindByOrderID(gctx, orderID)
		if err != nil || len(claims) == 0 {
			return err
		}
		ids := make([]string, len(claims))
		for i, c := range claims {
			ids[i] = c.ID
		}
		claimEvents, err = a.events.FindByAggregateIDs(gctx, domain.SourceClaim, ids)
		return err
	})
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return nil, err
	}

	merged := append(own, claimEvents...)
	sort.SliceStable(merged, func(i, j int) bool {
		if !merged[i].OccurredAt.Equal(merged[j].OccurredAt) {
			return merged[i].OccurredAt.Before(merged[j].OccurredAt)
		}
		return merged[i].Sequence < merged[j].Sequence
	})

	entries := make([]TimelineEntry, len(merged))
	for i, e := range merged {
		entries[i] = TimelineEntry{
			EventType:   e.EventType,
			EventSource: e.EventSource,
			ActorType:   e.ActorType,
			OccurredAt:  e.OccurredAt,
			Description: e.Description,
		}
	}
	span.SetAttributes(attribute.Int("timeline.entries", len(entries)))
	return entries, nil
}
