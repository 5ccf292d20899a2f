// internal/service/order/application/command.go
package application

import (
	"context"
	"time"

	"fulfillment/internal/pkg/apperr"
	"fulfillment/internal/pkg/clock"
	"fulfillment/internal/pkg/lock"
	"fulfillment/internal/pkg/logger"
	"fulfillment/internal/pkg/metrics"
	"fulfillment/internal/service/order/domain"
	"fulfillment/internal/service/order/domain/port"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Deps 是各个应用服务共享的依赖
type Deps struct {
	Tx        domain.TxRunner
	Locker    lock.Locker
	Clock     clock.Clock
	Recorder  *EventRecorder
	Publisher port.EventPublisher
	Tracer    trace.Tracer
	LockWait  time.Duration
	LockLease time.Duration
}

// mutation 在事务内加载聚合、执行迁移并保存，返回聚合产生的待记录事件
type mutation func(ctx context.Context, s domain.Stores, now time.Time) ([]domain.OrderEvent, error)

// runCommand 是每个写命令的统一流程：
// 业务键加锁 -> 事务内（加载、迁移、保存、记录事件）-> 提交后尽力投递事件。
func (d *Deps) runCommand(ctx context.Context, spanName, aggregate, lockKey string, fn mutation) error {
	ctx, span := d.Tracer.Start(ctx, spanName, trace.WithAttributes(
		attribute.String("lock.key", lockKey),
		attribute.String("aggregate", aggregate),
	))
	defer span.End()

	var recorded []domain.OrderEvent
	err := lock.Run(ctx, d.Locker, lockKey, d.LockWait, d.LockLease, func(ctx context.Context) error {
		return d.Tx.InTx(ctx, func(ctx context.Context, s domain.Stores) error {
			pending, err := fn(ctx, s, d.Clock.Now())
			if err != nil {
				return err
			}
			recorded, err = d.Recorder.Record(ctx, s.Events, pending...)
			return err
		})
	})
	if err != nil {
		kind := apperr.KindOf(err)
		metrics.RejectedCommandsTotal.WithLabelValues(aggregate, string(kind)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, string(kind))
		logger.Ctx(ctx).Warn().Err(err).Str("lock_key", lockKey).Str("kind", string(kind)).Msg("❌ command rejected")
		return err
	}

	for _, e := range recorded {
		metrics.StateTransitionsTotal.WithLabelValues(aggregate, string(e.EventType)).Inc()
	}
	span.AddEvent("events recorded", trace.WithAttributes(attribute.Int("events.count", len(recorded))))
	d.publish(ctx, recorded)
	return nil
}

// publish 事务已提交，投递失败只记录日志和指标，事件存储仍然是权威数据
func (d *Deps) publish(ctx context.Context, events []domain.OrderEvent) {
	if d.Publisher == nil || len(events) == 0 {
		return
	}
	if err := d.Publisher.Publish(ctx, events); err != nil {
		metrics.EventPublishFailuresTotal.Add(float64(len(events)))
		logger.Ctx(ctx).Error().Err(err).Int("events", len(events)).Msg("⚠️ failed to publish recorded events")
	}
}
