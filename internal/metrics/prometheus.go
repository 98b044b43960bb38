// Package metrics implements §4.12's counters and histograms as Prometheus
// collectors: request volume/latency for the HTTP surface, plus
// verify/settle outcome and cost metrics for the settlement path.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus collector the facilitator exposes. Each
// Metrics owns its registry, so constructing more than one (as tests do)
// never collides in the process-global default registry.
type Metrics struct {
	registry        *prometheus.Registry
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	verifyTotal     *prometheus.CounterVec
	settleTotal     *prometheus.CounterVec
	settleErrors    *prometheus.CounterVec
	settleDuration  *prometheus.HistogramVec
	gasUsed         *prometheus.HistogramVec
	settlementProfitUSD *prometheus.HistogramVec
	claimTotal      *prometheus.CounterVec
	activeRequests  prometheus.Gauge
}

// New creates and registers every facilitator metric.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "facilitator_requests_total", Help: "Total number of HTTP requests"},
			[]string{"method", "endpoint", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "facilitator_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		verifyTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "facilitator_verify_total", Help: "Total number of verify requests"},
			[]string{"network", "scheme", "result"},
		),
		settleTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "facilitator_settle_total", Help: "Total number of settle requests"},
			[]string{"network", "scheme", "result"},
		),
		settleErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "facilitator_settle_errors_total", Help: "Settlement failures by error type"},
			[]string{"network", "type"},
		),
		settleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "facilitator_settle_duration_ms",
				Help:    "Settlement wall-clock duration in milliseconds",
				Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
			},
			[]string{"network"},
		),
		gasUsed: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "facilitator_settlement_gas_used",
				Help:    "Gas used by successful settlement transactions",
				Buckets: prometheus.ExponentialBuckets(20_000, 2, 10),
			},
			[]string{"network"},
		),
		settlementProfitUSD: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "facilitator_settlement_profit_usd",
				Help:    "Facilitator fee minus gas cost, in USD, per settlement",
				Buckets: []float64{-1, -0.1, -0.01, 0, 0.01, 0.1, 1, 10},
			},
			[]string{"network"},
		),
		claimTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "facilitator_claim_total", Help: "Fee claim groups by outcome"},
			[]string{"network", "status"},
		),
		activeRequests: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "facilitator_active_requests", Help: "Number of currently active requests"},
		),
	}

	m.registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.verifyTotal,
		m.settleTotal,
		m.settleErrors,
		m.settleDuration,
		m.gasUsed,
		m.settlementProfitUSD,
		m.claimTotal,
		m.activeRequests,
	)

	return m
}

// Middleware returns a Gin middleware that records request volume, latency,
// and in-flight count.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		start := time.Now()
		m.activeRequests.Inc()

		c.Next()

		m.activeRequests.Dec()
		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		m.requestsTotal.WithLabelValues(c.Request.Method, c.FullPath(), status).Inc()
		m.requestDuration.WithLabelValues(c.Request.Method, c.FullPath()).Observe(duration)
	}
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// RecordVerify records a verify request's outcome.
func (m *Metrics) RecordVerify(network, scheme string, success bool) {
	m.verifyTotal.WithLabelValues(network, scheme, resultLabel(success)).Inc()
}

// RecordSettle records a settle request's outcome and, on failure, the
// classified error type (§4.9's reclassification rules).
func (m *Metrics) RecordSettle(network, scheme string, success bool, errorType string) {
	m.settleTotal.WithLabelValues(network, scheme, resultLabel(success)).Inc()
	if !success && errorType != "" {
		m.settleErrors.WithLabelValues(network, errorType).Inc()
	}
}

// ObserveSettleDuration records a settlement's wall-clock latency.
func (m *Metrics) ObserveSettleDuration(network string, d time.Duration) {
	m.settleDuration.WithLabelValues(network).Observe(float64(d.Milliseconds()))
}

// ObserveSettlementCost records a successful settlement's gas used and
// facilitator profit in USD, per §4.9 step e / §4.12.
func (m *Metrics) ObserveSettlementCost(network string, gasUsed uint64, profitUSD float64) {
	m.gasUsed.WithLabelValues(network).Observe(float64(gasUsed))
	m.settlementProfitUSD.WithLabelValues(network).Observe(profitUSD)
}

// RecordClaim records one fee-claim group's outcome.
func (m *Metrics) RecordClaim(network, status string) {
	m.claimTotal.WithLabelValues(network, status).Inc()
}

// Handler returns the Prometheus scrape endpoint for this instance's
// registry.
func (m *Metrics) Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
