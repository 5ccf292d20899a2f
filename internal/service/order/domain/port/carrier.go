package port

import (
	"context"

	"fulfillment/internal/service/order/domain"
)

// CarrierTracking 是承运商轨迹查询的出站端口。
type CarrierTracking interface {
	// LatestTracking 拉取运单最新的一条轨迹
	LatestTracking(ctx context.Context, carrierID, invoiceNumber string) (domain.TrackingUpdate, error)
}
