package observability

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsPayoutCollectors(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()

	metrics.IncPayment("SUCCEEDED")
	metrics.IncPayment("skipped")
	metrics.IncPayment("skipped")
	metrics.ObservePaymentSubmitDuration("succeeded", 4*time.Second)
	metrics.ObserveSettlementFee(12)
	metrics.IncPayoutRun("halted")
	metrics.IncRunsInFlight()
	metrics.DecRunsInFlight()
	metrics.IncStoreWriteRetry("payment_outcome")
	metrics.IncRunLockContended()
	metrics.IncResultNotification("")

	if got := testutil.ToFloat64(metrics.paymentsTotal.WithLabelValues("succeeded")); got != 1 {
		t.Fatalf("payments_total{succeeded} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.paymentsTotal.WithLabelValues("skipped")); got != 2 {
		t.Fatalf("payments_total{skipped} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(metrics.payoutRunsTotal.WithLabelValues("halted")); got != 1 {
		t.Fatalf("payout_runs_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.runsInflight); got != 0 {
		t.Fatalf("runs_inflight = %v, want 0", got)
	}
	if got := testutil.ToFloat64(metrics.storeWriteRetriesTotal.WithLabelValues("payment_outcome")); got != 1 {
		t.Fatalf("store_write_retries_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.runLockContendedTotal); got != 1 {
		t.Fatalf("run_lock_contended_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.resultNotifyTotal.WithLabelValues("unknown")); got != 1 {
		t.Fatalf("result_notifications_total = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(metrics.settlementFeeDrops); got != 1 {
		t.Fatalf("settlement_fee_drops series = %d, want 1", got)
	}
}

func TestMetricsNilSafe(t *testing.T) {
	t.Parallel()

	var metrics *Metrics
	metrics.IncPayment("succeeded")
	metrics.ObserveSettlementFee(10)
	metrics.IncPayoutRun("completed")
	metrics.IncRunsInFlight()
	metrics.DecRunsInFlight()
	if metrics.Handler() == nil {
		t.Fatal("nil metrics should still expose a handler")
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
