package port

import (
	"context"
	"time"

	"fulfillment/internal/service/order/domain"
)

// ClaimEligibilityPolicy 是理赔资格判定的出站端口。
// 默认实现由基础设施层用 CEL 表达式提供，规则可以随配置下发。
type ClaimEligibilityPolicy interface {
	// Eligible 判断订单在 now 时刻能否发起指定类型的理赔
	Eligible(ctx context.Context, order *domain.Order, claimType domain.ClaimType, now time.Time) (bool, error)
}
