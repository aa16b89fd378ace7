package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsConfig configures the Prometheus metrics.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "teoweb").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for request duration.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures the Prometheus metrics.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the request duration buckets.
func WithBuckets(buckets []float64) MetricsOption {
	return func(c *MetricsConfig) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "teoweb",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Metrics holds the teoweb Prometheus metrics.
type Metrics struct {
	messagesTotal   *prometheus.CounterVec
	reconnectsTotal prometheus.Counter
	reconnectDelay  prometheus.Histogram
	proxyConnected  prometheus.Gauge

	patchesSent    prometheus.Counter
	activeSessions prometheus.Gauge
	wsErrors       *prometheus.CounterVec

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// NewMetrics registers the metrics with the configured registry.
//
// Metrics collected:
//   - teoweb_proxy_messages_total: packets received from the proxy by command
//   - teoweb_proxy_reconnects_total: scheduled reconnect attempts
//   - teoweb_proxy_reconnect_delay_seconds: backoff delay before each attempt
//   - teoweb_proxy_connected: 1 while the proxy connection is up
//   - teoweb_patches_sent_total: patches written to browser sessions
//   - teoweb_active_sessions: open browser sessions
//   - teoweb_websocket_errors_total: browser websocket errors by type
//   - teoweb_http_requests_total: HTTP requests by route and status
//   - teoweb_http_request_duration_seconds: HTTP request duration by route
func NewMetrics(opts ...MetricsOption) *Metrics {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registry)

	counter := func(name, help string) prometheus.CounterOpts {
		return prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: config.ConstLabels,
		}
	}
	gauge := func(name, help string) prometheus.GaugeOpts {
		return prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: config.ConstLabels,
		}
	}

	return &Metrics{
		messagesTotal: factory.NewCounterVec(
			counter("proxy_messages_total", "Total packets received from the Teonet proxy"),
			[]string{"command"}),

		reconnectsTotal: factory.NewCounter(
			counter("proxy_reconnects_total", "Total proxy reconnect attempts scheduled")),

		reconnectDelay: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "proxy_reconnect_delay_seconds",
			Help:        "Backoff delay before each reconnect attempt",
			ConstLabels: config.ConstLabels,
			Buckets:     []float64{0.5, 1, 2, 4, 8, 16, 32, 64},
		}),

		proxyConnected: factory.NewGauge(
			gauge("proxy_connected", "Whether the proxy connection is up")),

		patchesSent: factory.NewCounter(
			counter("patches_sent_total", "Total number of patches sent to browser sessions")),

		activeSessions: factory.NewGauge(
			gauge("active_sessions", "Number of open browser sessions")),

		wsErrors: factory.NewCounterVec(
			counter("websocket_errors_total", "Total browser websocket errors by type"),
			[]string{"type"}),

		requestsTotal: factory.NewCounterVec(
			counter("http_requests_total", "Total HTTP requests by route and status"),
			[]string{"route", "method", "status"}),

		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "http_request_duration_seconds",
			Help:        "HTTP request duration in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}, []string{"route"}),
	}
}

// RecordMessage counts one packet received from the proxy.
func (m *Metrics) RecordMessage(cmd string) {
	m.messagesTotal.WithLabelValues(cmd).Inc()
}

// RecordReconnect counts a scheduled reconnect and its delay.
func (m *Metrics) RecordReconnect(delay time.Duration) {
	m.reconnectsTotal.Inc()
	m.reconnectDelay.Observe(delay.Seconds())
}

// SetConnected reflects the proxy connection state.
func (m *Metrics) SetConnected(connected bool) {
	if connected {
		m.proxyConnected.Set(1)
		return
	}
	m.proxyConnected.Set(0)
}

// RecordPatches counts patches written to a browser session.
func (m *Metrics) RecordPatches(count int) {
	m.patchesSent.Add(float64(count))
}

// SessionOpened records a new browser session.
func (m *Metrics) SessionOpened() {
	m.activeSessions.Inc()
}

// SessionClosed records a browser session going away.
func (m *Metrics) SessionClosed() {
	m.activeSessions.Dec()
}

// RecordWebSocketError counts a browser websocket error.
func (m *Metrics) RecordWebSocketError(errorType string) {
	m.wsErrors.WithLabelValues(errorType).Inc()
}

// Handler is chi middleware recording request counts and durations. The
// route label is the matched chi pattern, which keeps its cardinality low.
func (m *Metrics) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		route := routePattern(r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		m.requestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
	})
}

// routePattern returns the chi route pattern matched for r.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}
