// internal/pkg/metrics/metrics.go
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// 订单履约核心的 Prometheus 指标
var (
	StateTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fulfillment_state_transitions_total",
			Help: "Accepted state transitions by aggregate and event type",
		},
		[]string{"aggregate", "event_type"},
	)

	RejectedCommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fulfillment_rejected_commands_total",
			Help: "Commands rejected by the domain, by aggregate and error kind",
		},
		[]string{"aggregate", "kind"},
	)

	LockAcquisitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fulfillment_lock_acquisitions_total",
			Help: "Distributed lock attempts by key prefix and result (acquired, timeout, error)",
		},
		[]string{"prefix", "result"},
	)

	LockWaitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fulfillment_lock_wait_duration_seconds",
			Help:    "Time spent waiting for a distributed lock",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"prefix"},
	)

	CacheFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fulfillment_cache_failures_total",
			Help: "Secondary store (cache) failures by operation",
		},
		[]string{"operation"},
	)

	EventPublishFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fulfillment_event_publish_failures_total",
			Help: "Recorded events that could not be published to the message bus",
		},
	)

	TimelineAssemblyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fulfillment_timeline_assembly_duration_seconds",
			Help:    "Duration of order timeline assembly",
			Buckets: prometheus.DefBuckets,
		},
	)
)

var registerOnce sync.Once

// Register 把全部指标注册到默认 registry，可重复调用
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			StateTransitionsTotal,
			RejectedCommandsTotal,
			LockAcquisitionsTotal,
			LockWaitDuration,
			CacheFailuresTotal,
			EventPublishFailuresTotal,
			TimelineAssemblyDuration,
		)
	})
}
