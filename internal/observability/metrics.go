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

// Metrics stores Prometheus collectors used by the proxy and sync flows.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	queueDepth          prometheus.Gauge
	replaysTotal        *prometheus.CounterVec
	flushDuration       prometheus.Histogram
	syncCyclesTotal     *prometheus.CounterVec
	remindersFiredTotal *prometheus.CounterVec
	channelMessages     *prometheus.CounterVec
	cacheLookupsTotal   *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sync_engine",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "sync_engine",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		queueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "sync_engine",
				Name:      "offline_queue_depth",
				Help:      "Current number of requests persisted in the offline queue.",
			},
		),
		replaysTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sync_engine",
				Name:      "replays_total",
				Help:      "Total number of queued request replays by outcome.",
			},
			[]string{"outcome"},
		),
		flushDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "sync_engine",
				Name:      "flush_duration_seconds",
				Help:      "Duration of one offline queue flush pass in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
		),
		syncCyclesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sync_engine",
				Name:      "sync_cycles_total",
				Help:      "Total number of sync cycle triggers by result.",
			},
			[]string{"result"},
		),
		remindersFiredTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sync_engine",
				Name:      "reminders_fired_total",
				Help:      "Total number of fired reminder notifications by delivery path.",
			},
			[]string{"delivery"},
		),
		channelMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sync_engine",
				Name:      "channel_messages_total",
				Help:      "Total number of cross-context messages by direction and type.",
			},
			[]string{"direction", "type"},
		),
		cacheLookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sync_engine",
				Name:      "cache_lookups_total",
				Help:      "Total number of GET response cache lookups by result.",
			},
			[]string{"result"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.queueDepth,
		m.replaysTotal,
		m.flushDuration,
		m.syncCyclesTotal,
		m.remindersFiredTotal,
		m.channelMessages,
		m.cacheLookupsTotal,
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

func (m *Metrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}

func (m *Metrics) IncReplay(outcome string) {
	if m == nil {
		return
	}
	m.replaysTotal.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *Metrics) ObserveFlushDuration(duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.flushDuration.Observe(seconds)
}

func (m *Metrics) IncSyncCycle(result string) {
	if m == nil {
		return
	}
	m.syncCyclesTotal.WithLabelValues(normalizeLabel(result)).Inc()
}

func (m *Metrics) IncReminderFired(delivery string) {
	if m == nil {
		return
	}
	m.remindersFiredTotal.WithLabelValues(normalizeLabel(delivery)).Inc()
}

func (m *Metrics) IncChannelMessage(direction string, messageType string) {
	if m == nil {
		return
	}
	m.channelMessages.WithLabelValues(normalizeLabel(direction), strings.TrimSpace(messageType)).Inc()
}

func (m *Metrics) IncCacheLookup(result string) {
	if m == nil {
		return
	}
	m.cacheLookupsTotal.WithLabelValues(normalizeLabel(result)).Inc()
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
