// internal/service/order/application/recorder.go
package application

import (
	"context"
	"fmt"

	"fulfillment/internal/pkg/apperr"
	"fulfillment/internal/service/order/domain"

	"github.com/bwmarrin/snowflake"
)

// IDGenerator 生成事件 ID
type IDGenerator interface {
	NextID() string
}

// SnowflakeIDs 基于 snowflake 的事件 ID；只保证单节点内单调，不参与排序
type SnowflakeIDs struct {
	node *snowflake.Node
}

func NewSnowflakeIDs(nodeID int64) (*SnowflakeIDs, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to create snowflake node %d: %w", nodeID, err)
	}
	return &SnowflakeIDs{node: node}, nil
}

func (s *SnowflakeIDs) NextID() string { return s.node.Generate().String() }

// EventRecorder 把聚合产生的事件追加到事件存储。
// 它只做插入：每个被接受的迁移对应恰好一条事件，写入后不再修改。
type EventRecorder struct {
	ids IDGenerator
}

func NewEventRecorder(ids IDGenerator) *EventRecorder {
	return &EventRecorder{ids: ids}
}

// Record 在调用方的事务内写入事件，返回带有 EventID 和 Sequence 的副本
func (r *EventRecorder) Record(ctx context.Context, store domain.EventStore, events ...domain.OrderEvent) ([]domain.OrderEvent, error) {
	if len(events) == 0 {
		return nil, nil
	}
	out := make([]domain.OrderEvent, len(events))
	for i, e := range events {
		if err := validateEvent(e); err != nil {
			return nil, err
		}
		if e.EventID == "" {
			e.EventID = r.ids.NextID()
		}
		out[i] = e
	}
	return store.Append(ctx, out)
}

func validateEvent(e domain.OrderEvent) error {
	const op = "event.record"
	switch {
	case e.OrderID == "":
		return apperr.Validation(op, "event %s has no order id", e.EventType)
	case e.EventType == "":
		return apperr.Validation(op, "event type is required")
	case e.EventSource == "":
		return apperr.Validation(op, "event %s has no source", e.EventType)
	case !e.ActorType.Valid():
		return apperr.Validation(op, "event %s has unknown actor %q", e.EventType, e.ActorType)
	case e.OccurredAt.IsZero():
		return apperr.Validation(op, "event %s has no occurrence time", e.EventType)
	}
	return nil
}
