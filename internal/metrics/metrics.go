// Package metrics 暴露图片缓存的 Prometheus 指标。所有 Record* 方法都允许
// nil receiver，便于测试或关闭指标时直接传 nil。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 请求结果标签。
const (
	ResultHit    = "HIT"
	ResultMiss   = "MISS"
	ResultBypass = "BYPASS"
	ResultError  = "ERROR"
)

type Metrics struct {
	registry      *prometheus.Registry
	requests      *prometheus.CounterVec
	storeFailures *prometheus.CounterVec
	probeFailures *prometheus.CounterVec
	trimRemoved   prometheus.Counter
	regenerate    prometheus.Histogram
}

// New 创建独立 registry，避免与进程内其它 collector 冲突。
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "imgcache_requests_total",
		Help: "Total image requests by cache result",
	}, []string{"result"})

	storeFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "imgcache_store_failures_total",
		Help: "Total cache backend failures by operation",
	}, []string{"op"})

	probeFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "imgcache_probe_failures_total",
		Help: "Total freshness probes degraded to an empty signal",
	}, []string{"kind"})

	trimRemoved := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "imgcache_trim_removed_total",
		Help: "Total expired cache entries removed by trim",
	})

	regenerate := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "imgcache_regenerate_seconds",
		Help:    "Time spent regenerating an artifact from its source",
		Buckets: prometheus.DefBuckets,
	})

	registry.MustRegister(requests, storeFailures, probeFailures, trimRemoved, regenerate)
	return &Metrics{
		registry:      registry,
		requests:      requests,
		storeFailures: storeFailures,
		probeFailures: probeFailures,
		trimRemoved:   trimRemoved,
		regenerate:    regenerate,
	}
}

// Handler 返回 Prometheus 文本格式的 http.Handler。
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordRequest(result string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordStoreFailure(op string) {
	if m == nil {
		return
	}
	if op == "" {
		op = "unknown"
	}
	m.storeFailures.WithLabelValues(op).Inc()
}

func (m *Metrics) RecordProbeFailure(kind string) {
	if m == nil {
		return
	}
	m.probeFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordTrimRemoved(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.trimRemoved.Add(float64(n))
}

func (m *Metrics) ObserveRegenerate(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.regenerate.Observe(elapsed.Seconds())
}
