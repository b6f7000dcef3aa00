package observe

import (
	"net/http"
	"net/http/httptest"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	m, err := NewMetrics(sdkmetric.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func TestNewMetrics_AllInstrumentsCreated(t *testing.T) {
	t.Parallel()
	m := newTestMetrics(t)

	if m.DetectDuration == nil || m.UploadDuration == nil || m.HTTPRequestDuration == nil {
		t.Error("histogram instruments not created")
	}
	if m.Detections == nil || m.SamplesAppended == nil || m.SamplesEvicted == nil || m.PersistenceErrors == nil {
		t.Error("counter instruments not created")
	}
	if m.ActiveSessions == nil {
		t.Error("up-down counter not created")
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	t.Parallel()
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics must return a stable instance")
	}
}

func TestMiddleware_PassesThroughStatus(t *testing.T) {
	t.Parallel()
	m := newTestMetrics(t)

	handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/session", nil))

	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusTeapot)
	}
}
