package observability

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsDatagramCollectors(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()

	metrics.IncDatagramSent("MODEM")
	metrics.IncDatagramFailed("phone", "SERVICE_ERROR")
	metrics.ObserveDatagramSendDuration("modem", 120*time.Millisecond)
	metrics.IncInFlight()
	metrics.DecInFlight()
	metrics.IncTransferState("SENDING")
	metrics.IncTransferState("sending")
	metrics.IncModemReplyDropped()
	metrics.IncTransferPersistDropped()

	if got := testutil.ToFloat64(metrics.datagramsSentTotal.WithLabelValues("modem")); got != 1 {
		t.Fatalf("datagrams_sent_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.datagramsFailedTotal.WithLabelValues("phone", "service_error")); got != 1 {
		t.Fatalf("datagrams_failed_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.transferTransitionsTotal.WithLabelValues("sending")); got != 2 {
		t.Fatalf("transfer_state_transitions_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(metrics.dispatcherInflight); got != 0 {
		t.Fatalf("dispatcher_inflight = %v, want 0", got)
	}
	if got := testutil.ToFloat64(metrics.modemRepliesDroppedTotal); got != 1 {
		t.Fatalf("modem_replies_dropped_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.transferPersistDropped); got != 1 {
		t.Fatalf("transfer_persist_dropped_total = %v, want 1", got)
	}
}

func TestMetricsObserveModemPending(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()
	pending := 3
	if err := metrics.ObserveModemPending(func() int { return pending }); err != nil {
		t.Fatalf("ObserveModemPending() error = %v", err)
	}
	if err := metrics.ObserveModemPending(func() int { return 0 }); err == nil {
		t.Fatal("expected duplicate registration error")
	}

	if n, err := testutil.GatherAndCount(metrics.registry, "satellite_dispatch_modem_pending_replies"); err != nil || n != 1 {
		t.Fatalf("GatherAndCount() = %d, %v", n, err)
	}

	expected := `
# HELP satellite_dispatch_modem_pending_replies Modem sends published and still awaiting a reply.
# TYPE satellite_dispatch_modem_pending_replies gauge
satellite_dispatch_modem_pending_replies 3
`
	if err := testutil.GatherAndCompare(metrics.registry, strings.NewReader(expected), "satellite_dispatch_modem_pending_replies"); err != nil {
		t.Fatalf("GatherAndCompare() error = %v", err)
	}
}

func TestMetricsNilReceiver(t *testing.T) {
	t.Parallel()

	var metrics *Metrics
	metrics.IncDatagramSent("modem")
	metrics.IncDatagramFailed("modem", "error")
	metrics.ObserveDatagramSendDuration("modem", time.Second)
	metrics.IncInFlight()
	metrics.DecInFlight()
	metrics.IncTransferState("idle")
	metrics.IncModemReplyDropped()
	metrics.IncTransferPersistDropped()
	if err := metrics.ObserveModemPending(func() int { return 1 }); err != nil {
		t.Fatalf("ObserveModemPending() on nil metrics error = %v", err)
	}

	if metrics.Handler() == nil {
		t.Fatal("Handler() should fall back to the default handler")
	}
}

func TestMetricsHTTPMiddlewareRecordsRequest(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()
	app := fiber.New()
	app.Use(metrics.HTTPMiddleware())
	app.Get("/livez", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	req := httptest.NewRequest("GET", "/livez", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	if got := testutil.ToFloat64(metrics.httpRequestsTotal.WithLabelValues("GET", "/livez", "200")); got != 1 {
		t.Fatalf("http_requests_total = %v, want 1", got)
	}
}

func TestMetricsHTTPMiddlewareRecordsErrorStatus(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()
	app := fiber.New()
	app.Use(metrics.HTTPMiddleware())
	app.Get("/boom", func(c *fiber.Ctx) error {
		return errors.New("boom")
	})

	req := httptest.NewRequest("GET", "/boom", nil)
	_, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	if got := testutil.ToFloat64(metrics.httpRequestsTotal.WithLabelValues("GET", "/boom", "500")); got != 1 {
		t.Fatalf("http_requests_total = %v, want 1", got)
	}
}
