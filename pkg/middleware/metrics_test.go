package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func metricCounterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("counter Write() error: %v", err)
	}
	if m.Counter == nil {
		t.Fatal("expected counter metric to have Counter field")
	}
	return m.GetCounter().GetValue()
}

func metricGaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("gauge Write() error: %v", err)
	}
	if m.Gauge == nil {
		t.Fatal("expected gauge metric to have Gauge field")
	}
	return m.GetGauge().GetValue()
}

func metricHistogramCount(t *testing.T, o prometheus.Observer) uint64 {
	t.Helper()
	metric, ok := o.(prometheus.Metric)
	if !ok {
		t.Fatalf("observer %T does not implement prometheus.Metric", o)
	}
	var m dto.Metric
	if err := metric.Write(&m); err != nil {
		t.Fatalf("histogram Write() error: %v", err)
	}
	if m.Histogram == nil {
		t.Fatal("expected histogram metric to have Histogram field")
	}
	return m.GetHistogram().GetSampleCount()
}

func TestMetrics_BinderRecorder(t *testing.T) {
	m := NewMetrics(WithRegistry(prometheus.NewRegistry()))

	m.RecordMessage("SendTo")
	m.RecordMessage("SendTo")
	m.RecordMessage("None")
	if got := metricCounterValue(t, m.messagesTotal.WithLabelValues("SendTo")); got != 2 {
		t.Errorf("SendTo messages = %v, want 2", got)
	}
	if got := metricCounterValue(t, m.messagesTotal.WithLabelValues("None")); got != 1 {
		t.Errorf("None messages = %v, want 1", got)
	}

	m.RecordReconnect(time.Second)
	m.RecordReconnect(2 * time.Second)
	if got := metricCounterValue(t, m.reconnectsTotal); got != 2 {
		t.Errorf("reconnects = %v, want 2", got)
	}
	if got := metricHistogramCount(t, m.reconnectDelay); got != 2 {
		t.Errorf("reconnect delay samples = %d, want 2", got)
	}

	m.SetConnected(true)
	if got := metricGaugeValue(t, m.proxyConnected); got != 1 {
		t.Errorf("connected = %v, want 1", got)
	}
	m.SetConnected(false)
	if got := metricGaugeValue(t, m.proxyConnected); got != 0 {
		t.Errorf("connected = %v, want 0", got)
	}
}

func TestMetrics_Sessions(t *testing.T) {
	m := NewMetrics(WithRegistry(prometheus.NewRegistry()), WithNamespace("test"))

	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed()
	m.RecordPatches(3)
	m.RecordWebSocketError("read")

	if got := metricGaugeValue(t, m.activeSessions); got != 1 {
		t.Errorf("active sessions = %v, want 1", got)
	}
	if got := metricCounterValue(t, m.patchesSent); got != 3 {
		t.Errorf("patches sent = %v, want 3", got)
	}
	if got := metricCounterValue(t, m.wsErrors.WithLabelValues("read")); got != 1 {
		t.Errorf("websocket errors = %v, want 1", got)
	}
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics(WithRegistry(prometheus.NewRegistry()))

	r := chi.NewRouter()
	r.Use(m.Handler)
	r.Get("/items/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	r.Get("/ok", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	for _, path := range []string{"/items/1", "/items/2", "/ok", "/missing"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	if got := metricCounterValue(t, m.requestsTotal.WithLabelValues("/items/{id}", "GET", "418")); got != 2 {
		t.Errorf("/items/{id} requests = %v, want 2", got)
	}
	if got := metricCounterValue(t, m.requestsTotal.WithLabelValues("/ok", "GET", "200")); got != 1 {
		t.Errorf("/ok requests = %v, want 1", got)
	}
	if got := metricHistogramCount(t, m.requestDuration.WithLabelValues("/items/{id}")); got != 2 {
		t.Errorf("/items/{id} duration samples = %d, want 2", got)
	}
}

func TestMetrics_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(WithRegistry(reg))

	defer func() {
		if recover() == nil {
			t.Error("expected second registration on the same registry to panic")
		}
	}()
	NewMetrics(WithRegistry(reg))
}
