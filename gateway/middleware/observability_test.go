package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestObservabilityRecordsRequests(t *testing.T) {
	extra := prometheus.NewRegistry()
	extra.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "tipledger_extra_total", Help: "extra"}))
	obs := NewObservability(ObservabilityConfig{Enabled: true}, nil, extra)

	handler := obs.Middleware("rpc")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/rpc", nil))
	if res.Code != http.StatusTeapot {
		t.Fatalf("unexpected status %d", res.Code)
	}

	metrics := httptest.NewRecorder()
	obs.MetricsHandler().ServeHTTP(metrics, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(metrics.Body)
	text := string(body)
	if !strings.Contains(text, `tipledger_http_requests_total{method="POST",route="rpc",status="418"} 1`) {
		t.Fatalf("request counter missing from metrics:\n%s", text)
	}
	if !strings.Contains(text, "tipledger_extra_total") {
		t.Fatalf("extra gatherer not exposed")
	}
}

func TestCORSPreflight(t *testing.T) {
	handler := CORS(CORSConfig{AllowedOrigins: []string{"https://app.example"}})(okHandler())
	req := httptest.NewRequest(http.MethodOptions, "/rpc", nil)
	req.Header.Set("Origin", "https://app.example")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", res.Code)
	}
	if res.Header().Get("Access-Control-Allow-Origin") != "https://app.example" {
		t.Fatalf("origin not echoed")
	}

	req = httptest.NewRequest(http.MethodPost, "/rpc", nil)
	req.Header.Set("Origin", "https://evil.example")
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("disallowed origin echoed")
	}
}
