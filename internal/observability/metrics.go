package observability

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics stores Prometheus collectors used by the API, the dispatcher and the tracker.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal        *prometheus.CounterVec
	httpRequestDuration      *prometheus.HistogramVec
	datagramsSentTotal       *prometheus.CounterVec
	datagramsFailedTotal     *prometheus.CounterVec
	datagramSendDuration     *prometheus.HistogramVec
	dispatcherInflight       prometheus.Gauge
	transferTransitionsTotal *prometheus.CounterVec
	modemRepliesDroppedTotal prometheus.Counter
	transferPersistDropped   prometheus.Counter
}

const namespace = "satellite_dispatch"

func newCounterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help}, labels)
}

func newHistogramVec(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: namespace, Name: name, Help: help, Buckets: buckets}, labels)
}

// NewMetrics registers every collector on a private registry alongside the
// Go runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		httpRequestsTotal: newCounterVec("http_requests_total",
			"HTTP requests served, by method, route and status.", "method", "path", "status"),
		httpRequestDuration: newHistogramVec("http_request_duration_seconds",
			"HTTP request latency by method and route.", prometheus.DefBuckets, "method", "path"),

		datagramsSentTotal: newCounterVec("datagrams_sent_total",
			"Datagrams that reached SEND_SUCCESS, by transport.", "transport"),
		datagramsFailedTotal: newCounterVec("datagrams_failed_total",
			"Datagrams that reached SEND_FAILED, by transport and error code.", "transport", "error"),
		// 50ms up to roughly 100s
		datagramSendDuration: newHistogramVec("datagram_send_duration_seconds",
			"Time from SENDING to the terminal state, by transport.", prometheus.ExponentialBuckets(0.05, 2, 12), "transport"),
		dispatcherInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dispatcher_inflight",
			Help:      "Sends handed to a transport and not yet completed.",
		}),

		transferTransitionsTotal: newCounterVec("transfer_state_transitions_total",
			"Transfer state notifications published, by state.", "state"),
		modemRepliesDroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "modem_replies_dropped_total",
			Help:      "Modem replies whose token matched no pending send.",
		}),
		transferPersistDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfer_persist_dropped_total",
			Help:      "Transfer state updates not persisted because the write queue was full.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.datagramsSentTotal,
		m.datagramsFailedTotal,
		m.datagramSendDuration,
		m.dispatcherInflight,
		m.transferTransitionsTotal,
		m.modemRepliesDroppedTotal,
		m.transferPersistDropped,
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
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncDatagramSent(transport string) {
	if m == nil {
		return
	}
	m.datagramsSentTotal.WithLabelValues(normalizeLabel(transport)).Inc()
}

func (m *Metrics) IncDatagramFailed(transport string, reason string) {
	if m == nil {
		return
	}
	m.datagramsFailedTotal.WithLabelValues(normalizeLabel(transport), normalizeLabel(reason)).Inc()
}

func (m *Metrics) ObserveDatagramSendDuration(transport string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.datagramSendDuration.WithLabelValues(normalizeLabel(transport)).Observe(seconds)
}

func (m *Metrics) IncInFlight() {
	if m == nil {
		return
	}
	m.dispatcherInflight.Inc()
}

func (m *Metrics) DecInFlight() {
	if m == nil {
		return
	}
	m.dispatcherInflight.Dec()
}

func (m *Metrics) IncTransferState(state string) {
	if m == nil {
		return
	}
	m.transferTransitionsTotal.WithLabelValues(normalizeLabel(state)).Inc()
}

func (m *Metrics) IncModemReplyDropped() {
	if m == nil {
		return
	}
	m.modemRepliesDroppedTotal.Inc()
}

func (m *Metrics) IncTransferPersistDropped() {
	if m == nil {
		return
	}
	m.transferPersistDropped.Inc()
}

// ObserveModemPending exports fn as the number of modem sends awaiting a reply.
func (m *Metrics) ObserveModemPending(fn func() int) error {
	if m == nil || fn == nil {
		return nil
	}
	return m.registry.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "modem_pending_replies",
		Help:      "Modem sends published and still awaiting a reply.",
	}, func() float64 { return float64(fn()) }))
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

// statusFromResult maps a handler result to the status recorded for it.
func statusFromResult(c *fiber.Ctx, err error) int {
	var fiberErr *fiber.Error
	switch {
	case errors.As(err, &fiberErr):
		return fiberErr.Code
	case err != nil:
		return fiber.StatusInternalServerError
	case c == nil || c.Response().StatusCode() == 0:
		return fiber.StatusOK
	default:
		return c.Response().StatusCode()
	}
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
