package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "payout_engine"

// Metrics stores Prometheus collectors used by the API, the worker and the engine.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal      *prometheus.CounterVec
	httpRequestDuration    *prometheus.HistogramVec
	paymentsTotal          *prometheus.CounterVec
	paymentSubmitDuration  *prometheus.HistogramVec
	settlementFeeDrops     prometheus.Histogram
	payoutRunsTotal        *prometheus.CounterVec
	runsInflight           prometheus.Gauge
	storeWriteRetriesTotal *prometheus.CounterVec
	runLockContendedTotal  prometheus.Counter
	resultNotifyTotal      *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		paymentsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "payments_total",
				Help:      "Total number of payments that reached a terminal outcome.",
			},
			[]string{"outcome"},
		),
		paymentSubmitDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "payment_submit_duration_seconds",
				Help:      "Time from submission to settlement in seconds grouped by outcome.",
				Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
			},
			[]string{"outcome"},
		),
		settlementFeeDrops: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "settlement_fee_drops",
				Help:      "Fee charged by the ledger for successful payments, in drops.",
				Buckets:   prometheus.ExponentialBuckets(10, 2, 12),
			},
		),
		payoutRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "payout_runs_total",
				Help:      "Total number of payout runs grouped by how they ended.",
			},
			[]string{"result"},
		),
		runsInflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "runs_inflight",
				Help:      "Current number of payout runs in progress.",
			},
		),
		storeWriteRetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "store_write_retries_total",
				Help:      "Total number of retried batch store writes grouped by operation.",
			},
			[]string{"operation"},
		),
		runLockContendedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "run_lock_contended_total",
				Help:      "Total number of payout requests that found the funding account locked.",
			},
		),
		resultNotifyTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "result_notifications_total",
				Help:      "Total number of batch result webhook deliveries grouped by status.",
			},
			[]string{"status"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.paymentsTotal,
		m.paymentSubmitDuration,
		m.settlementFeeDrops,
		m.payoutRunsTotal,
		m.runsInflight,
		m.storeWriteRetriesTotal,
		m.runLockContendedTotal,
		m.resultNotifyTotal,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncPayment(outcome string) {
	if m == nil {
		return
	}
	m.paymentsTotal.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *Metrics) ObservePaymentSubmitDuration(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.paymentSubmitDuration.WithLabelValues(normalizeLabel(outcome)).Observe(seconds)
}

func (m *Metrics) ObserveSettlementFee(feeDrops int64) {
	if m == nil || feeDrops < 0 {
		return
	}
	m.settlementFeeDrops.Observe(float64(feeDrops))
}

func (m *Metrics) IncPayoutRun(result string) {
	if m == nil {
		return
	}
	m.payoutRunsTotal.WithLabelValues(normalizeLabel(result)).Inc()
}

func (m *Metrics) IncRunsInFlight() {
	if m == nil {
		return
	}
	m.runsInflight.Inc()
}

func (m *Metrics) DecRunsInFlight() {
	if m == nil {
		return
	}
	m.runsInflight.Dec()
}

func (m *Metrics) IncStoreWriteRetry(operation string) {
	if m == nil {
		return
	}
	m.storeWriteRetriesTotal.WithLabelValues(normalizeLabel(operation)).Inc()
}

func (m *Metrics) IncRunLockContended() {
	if m == nil {
		return
	}
	m.runLockContendedTotal.Inc()
}

func (m *Metrics) IncResultNotification(status string) {
	if m == nil {
		return
	}
	m.resultNotifyTotal.WithLabelValues(normalizeLabel(status)).Inc()
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
