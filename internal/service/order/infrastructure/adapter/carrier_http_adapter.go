package adapter

import (
	"context"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"fulfillment/internal/pkg/httpclient"
	"fulfillment/internal/service/order/domain"

	"github.com/pkg/errors"
)

// carrierTrackingResponse 承运商轨迹查询接口的响应
type carrierTrackingResponse struct {
	Location    string     `json:"location"`
	Message     string     `json:"message"`
	TrackedAt   time.Time  `json:"trackedAt"`
	DeliveredAt *time.Time `json:"deliveredAt,omitempty"`
}

// ServiceResolver 按服务名发现一个健康实例，nacos.Client 实现了它
type ServiceResolver interface {
	DiscoverServiceInstance(serviceName string) (string, int, error)
}

// CarrierHTTPAdapter 实现了 port.CarrierTracking 接口
type CarrierHTTPAdapter struct {
	client  *httpclient.Client
	baseURL func() (string, error)
}

// NewCarrierHTTPAdapter 使用固定的网关地址
func NewCarrierHTTPAdapter(client *httpclient.Client, baseURL string) *CarrierHTTPAdapter {
	base := strings.TrimRight(baseURL, "/")
	return &CarrierHTTPAdapter{client: client, baseURL: func() (string, error) { return base, nil }}
}

// NewDiscoveredCarrierHTTPAdapter 每次查询前通过注册中心定位网关实例
func NewDiscoveredCarrierHTTPAdapter(client *httpclient.Client, resolver ServiceResolver, serviceName string) *CarrierHTTPAdapter {
	return &CarrierHTTPAdapter{client: client, baseURL: func() (string, error) {
		ip, port, err := resolver.DiscoverServiceInstance(serviceName)
		if err != nil {
			return "", err
		}
		return "http://" + net.JoinHostPort(ip, strconv.Itoa(port)), nil
	}}
}

// LatestTracking GET {base}/carriers/{carrierID}/tracking?invoice=...
func (a *CarrierHTTPAdapter) LatestTracking(ctx context.Context, carrierID, invoiceNumber string) (domain.TrackingUpdate, error) {
	base, err := a.baseURL()
	if err != nil {
		return domain.TrackingUpdate{}, errors.Wrap(err, "resolve carrier gateway")
	}
	endpoint := base + "/carriers/" + url.PathEscape(carrierID) + "/tracking"
	params := url.Values{}
	params.Set("invoice", invoiceNumber)

	var resp carrierTrackingResponse
	if err := a.client.GetJSON(ctx, endpoint, params, &resp); err != nil {
		return domain.TrackingUpdate{}, errors.Wrapf(err, "query tracking %s/%s", carrierID, invoiceNumber)
	}
	return domain.TrackingUpdate{
		Location:    resp.Location,
		Message:     resp.Message,
		TrackedAt:   resp.TrackedAt.UTC(),
		DeliveredAt: resp.DeliveredAt,
	}, nil
}
