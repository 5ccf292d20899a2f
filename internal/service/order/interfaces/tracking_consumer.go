// internal/service/order/interfaces/tracking_consumer.go
package interfaces

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"fulfillment/internal/pkg/apperr"
	"fulfillment/internal/pkg/logger"
	"fulfillment/internal/pkg/mq"
	"fulfillment/internal/service/order/application"
	"fulfillment/internal/service/order/domain"

	"github.com/cenkalti/backoff/v5"
	"github.com/segmentio/kafka-go"
)

const (
	defaultRetryInitial = 200 * time.Millisecond
	defaultRetryMax     = 30 * time.Second
)

// MessageReader 是 *kafka.Reader 中消费者用到的部分
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// FailureSink 接收处理失败的消息，生产环境是 *mq.FailureHandler
type FailureSink interface {
	Handle(ctx context.Context, msg kafka.Message, cause error)
}

// TrackingUpdater 由 ShipmentService 实现
type TrackingUpdater interface {
	UpdateTrackingByInvoice(ctx context.Context, carrierID, invoiceNumber string, update domain.TrackingUpdate) (application.TrackingResult, error)
}

// TrackingMessage 是承运商轨迹主题上的消息体
type TrackingMessage struct {
	CarrierID     string     `json:"carrierId"`
	InvoiceNumber string     `json:"invoiceNumber"`
	Location      string     `json:"location"`
	Message       string     `json:"message"`
	TrackedAt     time.Time  `json:"trackedAt"`
	DeliveredAt   *time.Time `json:"deliveredAt,omitempty"`
}

// TrackingConsumerAdapter 是一个驱动适配器，它监听承运商轨迹消息并驱动 ShipmentService。
type TrackingConsumerAdapter struct {
	reader  MessageReader
	topic   string
	updater TrackingUpdater
	wg      sync.WaitGroup
	stopped atomic.Bool
	cancel  context.CancelFunc

	failureHandler FailureSink

	// 暂时性失败时原地重试同一条消息的退避区间
	retryInitial time.Duration
	retryMax     time.Duration
}

func NewTrackingConsumerAdapter(reader MessageReader, topic string, updater TrackingUpdater, failureHandler FailureSink) *TrackingConsumerAdapter {
	return &TrackingConsumerAdapter{
		reader:         reader,
		topic:          topic,
		updater:        updater,
		failureHandler: failureHandler,
		retryInitial:   defaultRetryInitial,
		retryMax:       defaultRetryMax,
	}
}

// Start 开始监听 Kafka 主题。这是一个长期运行的方法。
func (a *TrackingConsumerAdapter) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		logger.Ctx(ctx).Info().Str("topic", a.topic).Msg("✅ Tracking Consumer Adapter started.")
		for !a.stopped.Load() {
			msg, err := a.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil || a.stopped.Load() {
					logger.Ctx(ctx).Info().Msg("🛑 Tracking Consumer Adapter shutting down.")
					return
				}
				logger.Ctx(ctx).Error().Err(err).Msg("could not read message, retrying")
				time.Sleep(time.Second)
				continue
			}
			a.handle(ctx, msg)
		}
	}()
	return nil
}

// handle 处理单条消息。
// 校验失败、查无此单、状态冲突属于终态错误，移交 FailureSink 后提交 offset；
// 其余错误按指数退避原地重试，重试期间不拉取后续消息。
// 关停打断重试时不提交，重启后这条消息会重新投递。
func (a *TrackingConsumerAdapter) handle(ctx context.Context, msg kafka.Message) {
	msgCtx := mq.ExtractTraceContext(ctx, msg.Headers)
	_, err := backoff.Retry(msgCtx, func() (struct{}, error) {
		err := a.processMessage(msgCtx, msg)
		if err != nil && !retryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(a.newBackOff()),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Ctx(msgCtx).Warn().Err(err).
				Str("kind", string(apperr.KindOf(err))).
				Int64("offset", msg.Offset).
				Dur("retry_in", next).
				Msg("🔁 transient tracking failure, retrying message")
		}),
	)
	if err != nil {
		if ctx.Err() != nil {
			logger.Ctx(ctx).Info().Int64("offset", msg.Offset).Msg("🛑 retry interrupted by shutdown, message left uncommitted")
			return
		}
		a.failureHandler.Handle(msgCtx, msg, err)
	}
	if err := a.reader.CommitMessages(ctx, msg); err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("Failed to commit messages")
	}
}

// retryable 判断失败是否值得重投同一条消息
func retryable(err error) bool {
	switch apperr.KindOf(err) {
	case apperr.KindValidation, apperr.KindNotFound, apperr.KindStateConflict:
		return false
	}
	return true
}

func (a *TrackingConsumerAdapter) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = a.retryInitial
	b.MaxInterval = a.retryMax
	return b
}

func (a *TrackingConsumerAdapter) Stop(ctx context.Context) {
	a.stopped.Store(true)
	if a.cancel != nil {
		a.cancel()
	}
	_ = a.reader.Close()
	a.wg.Wait()
	logger.Ctx(ctx).Info().Str("topic", a.topic).Msg("✅ Tracking Consumer Adapter stopped.")
}

func (a *TrackingConsumerAdapter) processMessage(ctx context.Context, msg kafka.Message) error {
	var m TrackingMessage
	if err := json.Unmarshal(msg.Value, &m); err != nil {
		return apperr.Validation("tracking.decode", "malformed tracking message: %v", err)
	}
	res, err := a.updater.UpdateTrackingByInvoice(ctx, m.CarrierID, m.InvoiceNumber, domain.TrackingUpdate{
		Location:    m.Location,
		Message:     m.Message,
		TrackedAt:   m.TrackedAt,
		DeliveredAt: m.DeliveredAt,
	})
	if err != nil {
		return err
	}
	if !res.Applied {
		logger.Ctx(ctx).Debug().Str("invoice", m.InvoiceNumber).Msg("stale tracking message ignored")
	}
	return nil
}
