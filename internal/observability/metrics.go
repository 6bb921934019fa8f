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

// Metrics stores Prometheus collectors used by the API, the dispatch loop,
// and the async workers.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDuration        *prometheus.HistogramVec
	notificationsCreatedTotal  *prometheus.CounterVec
	notificationsDelivered     *prometheus.CounterVec
	notificationsFailedTotal   *prometheus.CounterVec
	notificationSendDuration   *prometheus.HistogramVec
	dispatchInflight           *prometheus.GaugeVec
	dispatchPassDuration       prometheus.Histogram
	retryScheduledTotal        *prometheus.CounterVec
	inactiveDeviceTotal        *prometheus.CounterVec
	optOutCascadedTotal        prometheus.Counter
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "notification_engine",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "notification_engine",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		notificationsCreatedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "notification_engine",
				Name:      "notifications_created_total",
				Help:      "Total number of notifications created by the creators.",
			},
			[]string{"channel"},
		),
		notificationsDelivered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "notification_engine",
				Name:      "notifications_delivered_total",
				Help:      "Total number of notifications delivered successfully.",
			},
			[]string{"channel"},
		),
		notificationsFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "notification_engine",
				Name:      "notifications_failed_total",
				Help:      "Total number of notifications that reached DELIVERY_FAILURE.",
			},
			[]string{"channel", "reason"},
		),
		notificationSendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "notification_engine",
				Name:      "notification_send_duration_seconds",
				Help:      "Provider send duration in seconds grouped by channel.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"channel"},
		),
		dispatchInflight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "notification_engine",
				Name:      "dispatch_inflight",
				Help:      "Current number of in-flight handler invocations grouped by channel.",
			},
			[]string{"channel"},
		),
		dispatchPassDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "notification_engine",
				Name:      "dispatch_pass_duration_seconds",
				Help:      "Duration of one full dispatch pass in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
			},
		),
		retryScheduledTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "notification_engine",
				Name:      "retry_scheduled_total",
				Help:      "Total number of notifications moved to RETRY.",
			},
			[]string{"channel"},
		),
		inactiveDeviceTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "notification_engine",
				Name:      "inactive_device_total",
				Help:      "Total number of notifications short-circuited to INACTIVE_DEVICE.",
			},
			[]string{"channel"},
		),
		optOutCascadedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "notification_engine",
				Name:      "opt_out_cascaded_total",
				Help:      "Total number of pending notifications cancelled by opt-out cascades.",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.notificationsCreatedTotal,
		m.notificationsDelivered,
		m.notificationsFailedTotal,
		m.notificationSendDuration,
		m.dispatchInflight,
		m.dispatchPassDuration,
		m.retryScheduledTotal,
		m.inactiveDeviceTotal,
		m.optOutCascadedTotal,
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

func (m *Metrics) IncNotificationCreated(channel string) {
	if m == nil {
		return
	}
	m.notificationsCreatedTotal.WithLabelValues(normalizeChannel(channel)).Inc()
}

func (m *Metrics) IncNotificationDelivered(channel string) {
	if m == nil {
		return
	}
	m.notificationsDelivered.WithLabelValues(normalizeChannel(channel)).Inc()
}

func (m *Metrics) IncNotificationFailed(channel string, reason string) {
	if m == nil {
		return
	}
	reasonLabel := strings.TrimSpace(strings.ToLower(reason))
	if reasonLabel == "" {
		reasonLabel = "unknown"
	}
	m.notificationsFailedTotal.WithLabelValues(normalizeChannel(channel), reasonLabel).Inc()
}

func (m *Metrics) ObserveNotificationSendDuration(channel string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.notificationSendDuration.WithLabelValues(normalizeChannel(channel)).Observe(seconds)
}

func (m *Metrics) ObserveDispatchPassDuration(duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.dispatchPassDuration.Observe(seconds)
}

func (m *Metrics) IncDispatchInFlight(channel string) {
	if m == nil {
		return
	}
	m.dispatchInflight.WithLabelValues(normalizeChannel(channel)).Inc()
}

func (m *Metrics) DecDispatchInFlight(channel string) {
	if m == nil {
		return
	}
	m.dispatchInflight.WithLabelValues(normalizeChannel(channel)).Dec()
}

func (m *Metrics) IncRetryScheduled(channel string) {
	if m == nil {
		return
	}
	m.retryScheduledTotal.WithLabelValues(normalizeChannel(channel)).Inc()
}

func (m *Metrics) IncInactiveDevice(channel string) {
	if m == nil {
		return
	}
	m.inactiveDeviceTotal.WithLabelValues(normalizeChannel(channel)).Inc()
}

func (m *Metrics) AddOptOutCascaded(count int64) {
	if m == nil || count <= 0 {
		return
	}
	m.optOutCascadedTotal.Add(float64(count))
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

func normalizeChannel(channel string) string {
	normalized := strings.ToLower(strings.TrimSpace(channel))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
