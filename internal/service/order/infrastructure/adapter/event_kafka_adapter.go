package adapter

import (
	"context"
	"encoding/json"
	"time"

	"fulfillment/internal/pkg/mq"
	"fulfillment/internal/service/order/domain"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

// EventMessage 是发布到 order-events 的消息体
type EventMessage struct {
	EventID     string    `json:"eventId"`
	Sequence    int64     `json:"sequence"`
	OrderID     string    `json:"orderId"`
	AggregateID string    `json:"aggregateId"`
	EventType   string    `json:"eventType"`
	EventSource string    `json:"eventSource"`
	ActorType   string    `json:"actorType"`
	OccurredAt  time.Time `json:"occurredAt"`
	Description string    `json:"description"`
}

// EventKafkaAdapter 实现了 port.EventPublisher，key 为订单 ID 以保证同一订单分区内有序
type EventKafkaAdapter struct {
	writer *kafka.Writer
}

func NewEventKafkaAdapter(writer *kafka.Writer) *EventKafkaAdapter {
	return &EventKafkaAdapter{writer: writer}
}

func (a *EventKafkaAdapter) Publish(ctx context.Context, events []domain.OrderEvent) error {
	if len(events) == 0 {
		return nil
	}
	msgs, err := buildMessages(ctx, events)
	if err != nil {
		return err
	}
	if err := a.writer.WriteMessages(ctx, msgs...); err != nil {
		return errors.Wrapf(err, "publish %d events to %s", len(msgs), a.writer.Topic)
	}
	return nil
}

func (a *EventKafkaAdapter) Close() error {
	return a.writer.Close()
}

func buildMessages(ctx context.Context, events []domain.OrderEvent) ([]kafka.Message, error) {
	msgs := make([]kafka.Message, 0, len(events))
	for _, e := range events {
		body, err := json.Marshal(EventMessage{
			EventID:     e.EventID,
			Sequence:    e.Sequence,
			OrderID:     e.OrderID,
			AggregateID: e.AggregateID,
			EventType:   string(e.EventType),
			EventSource: string(e.EventSource),
			ActorType:   string(e.ActorType),
			OccurredAt:  e.OccurredAt,
			Description: e.Description,
		})
		if err != nil {
			return nil, errors.Wrapf(err, "marshal event %s", e.EventID)
		}
		msg := kafka.Message{Key: []byte(e.OrderID), Value: body}
		mq.InjectTraceContext(ctx, &msg.Headers)
		msgs = append(msgs, msg)
	}
	return msgs, nil
}
