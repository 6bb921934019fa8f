package observability

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsDispatchCollectors(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()

	metrics.IncNotificationCreated("Email")
	metrics.IncNotificationDelivered("email")
	metrics.IncNotificationFailed("email", "retries_exhausted")
	metrics.ObserveNotificationSendDuration("email", 120*time.Millisecond)
	metrics.IncDispatchInFlight("email")
	metrics.DecDispatchInFlight("email")
	metrics.IncRetryScheduled("email")
	metrics.IncInactiveDevice("push")
	metrics.AddOptOutCascaded(3)

	if got := testutil.ToFloat64(metrics.notificationsCreatedTotal.WithLabelValues("email")); got != 1 {
		t.Fatalf("notifications_created_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.notificationsDelivered.WithLabelValues("email")); got != 1 {
		t.Fatalf("notifications_delivered_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.notificationsFailedTotal.WithLabelValues("email", "retries_exhausted")); got != 1 {
		t.Fatalf("notifications_failed_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.retryScheduledTotal.WithLabelValues("email")); got != 1 {
		t.Fatalf("retry_scheduled_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.dispatchInflight.WithLabelValues("email")); got != 0 {
		t.Fatalf("dispatch_inflight = %v, want 0", got)
	}
	if got := testutil.ToFloat64(metrics.inactiveDeviceTotal.WithLabelValues("push")); got != 1 {
		t.Fatalf("inactive_device_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.optOutCascadedTotal); got != 3 {
		t.Fatalf("opt_out_cascaded_total = %v, want 3", got)
	}
}

func TestMetricsNilReceiverIsSafe(t *testing.T) {
	t.Parallel()

	var metrics *Metrics

	metrics.IncNotificationCreated("email")
	metrics.IncNotificationDelivered("email")
	metrics.IncNotificationFailed("email", "")
	metrics.ObserveNotificationSendDuration("email", time.Second)
	metrics.ObserveDispatchPassDuration(time.Second)
	metrics.IncDispatchInFlight("email")
	metrics.DecDispatchInFlight("email")
	metrics.IncRetryScheduled("email")
	metrics.IncInactiveDevice("email")
	metrics.AddOptOutCascaded(1)
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

func TestMetricsHTTPMiddlewareSkipsMetricsPath(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()
	app := fiber.New()
	app.Use(metrics.HTTPMiddleware())
	app.Get("/metrics", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	req := httptest.NewRequest("GET", "/metrics", nil)
	if _, err := app.Test(req); err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	if got := testutil.ToFloat64(metrics.httpRequestsTotal.WithLabelValues("GET", "/metrics", "200")); got != 0 {
		t.Fatalf("http_requests_total = %v, want 0", got)
	}
}
