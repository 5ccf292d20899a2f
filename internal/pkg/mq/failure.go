// internal/pkg/mq/failure.go
package mq

import (
	"context"
	"fmt"
	"strconv"

	"fulfillment/internal/pkg/logger"

	"github.com/segmentio/kafka-go"
)

// 死信消息携带的原始位置与异常信息
const (
	HeaderOriginalTopic     = "dlt-original-topic"
	HeaderOriginalPartition = "dlt-original-partition"
	HeaderOriginalOffset    = "dlt-original-offset"
	HeaderExceptionFqcn     = "dlt-exception-fqcn"
	HeaderExceptionMessage  = "dlt-exception-message"

	DLTSuffix = "-dlt"
)

// FailureHandler 把处理失败的消息转投到 <topic>-dlt
type FailureHandler struct {
	writer *kafka.Writer
}

// NewFailureHandler writer 不能设置 Topic，目标 topic 由每条消息指定
func NewFailureHandler(writer *kafka.Writer) *FailureHandler {
	return &FailureHandler{writer: writer}
}

func (h *FailureHandler) Handle(ctx context.Context, msg kafka.Message, cause error) {
	dead := DeadLetter(msg, cause)
	if err := h.writer.WriteMessages(ctx, dead); err != nil {
		logger.Ctx(ctx).Error().Err(err).
			Str("original_topic", msg.Topic).
			Int64("original_offset", msg.Offset).
			Msg("🚨 failed to forward message to DLT, message is lost")
		return
	}
	logger.Ctx(ctx).Warn().Err(cause).
		Str("dlt_topic", dead.Topic).
		Int64("original_offset", msg.Offset).
		Msg("⚠️ message forwarded to DLT")
}

// DeadLetter 构造转投死信队列的消息，保留原始 key/value/headers
func DeadLetter(msg kafka.Message, cause error) kafka.Message {
	carrier := KafkaHeaderCarrier(append(make([]kafka.Header, 0, len(msg.Headers)+5), msg.Headers...))
	carrier.Set(HeaderOriginalTopic, msg.Topic)
	carrier.Set(HeaderOriginalPartition, strconv.Itoa(msg.Partition))
	carrier.Set(HeaderOriginalOffset, strconv.FormatInt(msg.Offset, 10))
	carrier.Set(HeaderExceptionFqcn, fmt.Sprintf("%T", cause))
	if cause != nil {
		carrier.Set(HeaderExceptionMessage, cause.Error())
	}
	return kafka.Message{
		Topic:   msg.Topic + DLTSuffix,
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: carrier,
	}
}
