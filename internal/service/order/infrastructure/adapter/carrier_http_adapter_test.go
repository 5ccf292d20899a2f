package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"fulfillment/internal/pkg/httpclient"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestCarrierLatestTracking(t *testing.T) {
	delivered := t0.Add(5 * time.Hour)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/carriers/cj/tracking", r.URL.Path)
		assert.Equal(t, "5551234", r.URL.Query().Get("invoice"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"location":    "Front door",
			"message":     "delivered",
			"trackedAt":   delivered,
			"deliveredAt": delivered,
		})
	}))
	defer srv.Close()

	a := NewCarrierHTTPAdapter(httpclient.NewClient(noop.NewTracerProvider().Tracer("test")), srv.URL+"/")
	u, err := a.LatestTracking(context.Background(), "cj", "5551234")
	require.NoError(t, err)
	assert.Equal(t, "Front door", u.Location)
	assert.True(t, u.TrackedAt.Equal(delivered))
	require.NotNil(t, u.DeliveredAt)
	assert.True(t, u.DeliveredAt.Equal(delivered))
}

func TestCarrierErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	a := NewCarrierHTTPAdapter(httpclient.NewClient(noop.NewTracerProvider().Tracer("test")), srv.URL)
	_, err := a.LatestTracking(context.Background(), "cj", "1")
	var statusErr *httpclient.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
}

type staticResolver struct {
	addr string
	err  error
	name string
}

func (r *staticResolver) DiscoverServiceInstance(serviceName string) (string, int, error) {
	r.name = serviceName
	if r.err != nil {
		return "", 0, r.err
	}
	host, port, _ := net.SplitHostPort(r.addr)
	p, _ := strconv.Atoi(port)
	return host, p, nil
}

func TestCarrierDiscoveredGateway(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/carriers/hanjin/tracking", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{"location": "Hub", "trackedAt": t0})
	}))
	defer srv.Close()

	resolver := &staticResolver{addr: srv.Listener.Addr().String()}
	a := NewDiscoveredCarrierHTTPAdapter(httpclient.NewClient(noop.NewTracerProvider().Tracer("test")), resolver, "carrier-gateway")
	u, err := a.LatestTracking(context.Background(), "hanjin", "77")
	require.NoError(t, err)
	assert.Equal(t, "Hub", u.Location)
	assert.Equal(t, "carrier-gateway", resolver.name)
}

func TestCarrierDiscoveryFailure(t *testing.T) {
	resolver := &staticResolver{err: errors.New("no healthy instance")}
	a := NewDiscoveredCarrierHTTPAdapter(httpclient.NewClient(noop.NewTracerProvider().Tracer("test")), resolver, "carrier-gateway")
	_, err := a.LatestTracking(context.Background(), "cj", "1")
	assert.ErrorContains(t, err, "no healthy instance")
}
