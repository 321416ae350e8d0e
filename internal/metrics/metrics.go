// Package metrics holds the daemon's per-process counters (spec §3
// "Per-daemon singletons", §4.3 SIGUSR1/SIGUSR2). No HTTP endpoint is ever
// opened — exposing a scrape endpoint is out of scope — the registry is
// rendered straight to text and logged on SIGUSR1, and zeroed on SIGUSR2.
package metrics

import (
	"bytes"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	dto "github.com/prometheus/client_model/go"

	"github.com/ianremillard/ccached/internal/log"
)

// Metrics is the full set of counters the daemon maintains.
type Metrics struct {
	registry *prometheus.Registry

	ActiveClients prometheus.Gauge
	ActiveHandles prometheus.Gauge
	PoolSize      prometheus.Gauge
	QueueDepth    prometheus.Gauge

	RequestsTotal  *prometheus.CounterVec // labeled by method
	RequestsFailed *prometheus.CounterVec
	ResponseTime   *prometheus.SummaryVec // labeled by method: low/median/high via quantiles; mean from _sum/_count
}

// New creates and registers all counters in a private registry (never the
// global default one, so repeated daemon instances in tests don't collide).
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		ActiveClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ccached_active_clients",
			Help: "Number of currently connected client sessions.",
		}),
		ActiveHandles: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ccached_active_handles",
			Help: "Number of upstream handles with an in-flight request.",
		}),
		PoolSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ccached_pool_size",
			Help: "Configured size of the upstream handle pool.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ccached_queue_depth",
			Help: "Number of jobs waiting for a free handle.",
		}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ccached_requests_total",
			Help: "Upstream requests dispatched, by method.",
		}, []string{"method"}),
		RequestsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ccached_requests_failed_total",
			Help: "Upstream requests that failed at the transport level, by method.",
		}, []string{"method"}),
		ResponseTime: prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Name:       "ccached_response_time_seconds",
			Help:       "Upstream response time, by method.",
			Objectives: map[float64]float64{0: 0.0, 0.5: 0.05, 1: 0.0}, // low/median/high (§3)
		}, []string{"method"}),
	}

	reg.MustRegister(
		m.ActiveClients,
		m.ActiveHandles,
		m.PoolSize,
		m.QueueDepth,
		m.RequestsTotal,
		m.RequestsFailed,
		m.ResponseTime,
	)

	return m
}

// ObserveRequest records one completed request's outcome and latency.
func (m *Metrics) ObserveRequest(method string, seconds float64, failed bool) {
	m.RequestsTotal.WithLabelValues(method).Inc()
	m.ResponseTime.WithLabelValues(method).Observe(seconds)
	if failed {
		m.RequestsFailed.WithLabelValues(method).Inc()
	}
}

// Dump renders the registry as text and logs it (SIGUSR1, spec §4.3 —
// the Go translation of daemon.c's SIGUSR1 counter dump).
func (m *Metrics) Dump(logger log.Logger) {
	families, err := m.registry.Gather()
	if err != nil {
		logger.Errorf("metrics: gather failed: %v", err)
		return
	}
	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, expfmt.FmtText)
	for _, f := range families {
		if err := enc.Encode(f); err != nil {
			logger.Errorf("metrics: encode failed: %v", err)
			return
		}
	}
	logger.Infof("metrics dump:\n%s", buf.String())
}

// Reset zeroes the request counters, the response-time summary and the
// active-clients, active-handles and queue-depth gauges (SIGUSR2, spec
// §4.3). Each vector is cleared with its own Reset(); the gauges are set
// back to zero directly. PoolSize is left unchanged.
func (m *Metrics) Reset() {
	m.ActiveClients.Set(0)
	m.ActiveHandles.Set(0)
	m.QueueDepth.Set(0)
	m.RequestsTotal.Reset()
	m.RequestsFailed.Reset()
	m.ResponseTime.Reset()
}

// metricValue is a tiny helper for tests that want to assert a single
// gauge's current value without pulling in the full expfmt text format.
func metricValue(g prometheus.Gauge) float64 {
	var m dto.Metric
	g.Write(&m)
	return m.GetGauge().GetValue()
}
