package port

import (
	"context"

	"fulfillment/internal/service/order/domain"
)

// EventPublisher 把已落库的事件投递到消息总线。
// 投递是尽力而为的，失败不会回滚已提交的事务。
type EventPublisher interface {
	Publish(ctx context.Context, events []domain.OrderEvent) error
}
