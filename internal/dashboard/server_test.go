package dashboard

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"cryptosignal/config"
	"cryptosignal/internal/metrics"
	"cryptosignal/logger"
	"cryptosignal/models"
)

func TestNormalizeAddress(t *testing.T) {
	cases := map[string]string{
		"":                               "0.0.0.0:8080",
		"  :9090  ":                      "0.0.0.0:9090",
		"localhost":                      "localhost:8080",
		"0.0.0.0:80":                     "0.0.0.0:80",
		"[::1]:443":                      "[::1]:443",
		"::1":                            "[::1]:8080",
		"*:8080":                         "0.0.0.0:8080",
		"http://13.200.112.203:8080":     "13.200.112.203:8080",
		"https://13.200.112.203":         "13.200.112.203:8080",
		"http://:7070":                   "0.0.0.0:7070",
		"tcp://localhost:5050":           "localhost:5050",
		"https://dashboard.example.com/": "dashboard.example.com:8080",
	}

	for input, want := range cases {
		if got := normalizeAddress(input); got != want {
			t.Fatalf("normalizeAddress(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestNewServerDisabled(t *testing.T) {
	srv, err := NewServer(config.DashboardConfig{}, logger.Logger())
	if err != nil || srv != nil {
		t.Fatalf("disabled dashboard: srv=%v err=%v", srv, err)
	}
	// nil receivers are safe
	srv.ObserveBatch(models.FeatureBatch{})
	if srv.Address() != "" {
		t.Fatal("nil server has an address")
	}
}

func TestNewServerNormalizesConfiguredAddress(t *testing.T) {
	srv, err := NewServer(config.DashboardConfig{Enabled: true, Address: ":9000"}, logger.Logger())
	if err != nil {
		t.Fatalf("NewServer returned error: %v", err)
	}
	if srv == nil {
		t.Fatal("expected dashboard server, got nil")
	}
	if got := srv.Address(); got != "0.0.0.0:9000" {
		t.Fatalf("server address = %q, want %q", got, "0.0.0.0:9000")
	}
	srv.cleanup()
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	srv, err := NewServer(config.DashboardConfig{Enabled: true, RefreshInterval: time.Second, MetricsHistory: 10, LogHistory: 10}, logger.Logger())
	if err != nil {
		t.Fatalf("NewServer error: %v", err)
	}
	t.Cleanup(srv.cleanup)
	return srv
}

func get(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	router, err := srv.buildRouter("cryptosignal")
	if err != nil {
		t.Fatalf("buildRouter error: %v", err)
	}
	res := httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(http.MethodGet, path, nil))
	return res
}

func TestMetricsEndpointEmitsStoredMetrics(t *testing.T) {
	srv := newTestServer(t)

	metrics.EmitMetric(logger.Logger(), "feature_processor", "batches_produced", 5, "counter", logger.Fields{"pair": "BTCUSDT:bybit/bitget"})

	res := get(t, srv, "/api/metrics")
	if res.Code != http.StatusOK {
		t.Fatalf("unexpected status code: %d", res.Code)
	}
	var body struct {
		Metrics []struct {
			Name  string  `json:"name"`
			Value float64 `json:"value"`
		} `json:"metrics"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Metrics) == 0 || body.Metrics[len(body.Metrics)-1].Name != "batches_produced" {
		t.Fatalf("metric not served: %s", res.Body.String())
	}
}

func TestFeaturesEndpoint(t *testing.T) {
	srv := newTestServer(t)
	pair := "BTCUSDT:bybit/bitget"
	srv.ObserveBatch(models.FeatureBatch{Pair: pair, Ts: 2, HalfLife: 3})
	srv.ObserveBatch(models.FeatureBatch{Pair: pair, Ts: 1, HalfLife: 9})

	res := get(t, srv, "/api/features/"+pair)
	if res.Code != http.StatusOK {
		t.Fatalf("unexpected status code: %d body=%s", res.Code, res.Body.String())
	}
	var got pairFeatures
	if err := json.Unmarshal(res.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Batch.Ts != 2 || got.Batch.HalfLife != 3 || got.Batches != 2 {
		t.Fatalf("unexpected pair features: %+v", got)
	}

	if res := get(t, srv, "/api/features/ETHUSDT:bybit/bitget"); res.Code != http.StatusNotFound {
		t.Fatalf("unknown pair status = %d", res.Code)
	}
	if res := get(t, srv, "/api/features"); !strings.Contains(res.Body.String(), pair) {
		t.Fatalf("pair missing from listing: %s", res.Body.String())
	}
}

func TestPrometheusAndHealth(t *testing.T) {
	srv := newTestServer(t)
	metrics.Reset()
	metrics.Inc(metrics.RecordsRead, "bybit", "books", 1)
	t.Cleanup(metrics.Reset)

	if res := get(t, srv, "/healthz"); res.Code != http.StatusOK || res.Body.String() != "ok" {
		t.Fatalf("healthz = %d %q", res.Code, res.Body.String())
	}
	res := get(t, srv, "/metrics")
	if res.Code != http.StatusOK || !strings.Contains(res.Body.String(), "cryptosignal_ingestion_total") {
		t.Fatalf("prometheus exposition missing ingestion counter: %d", res.Code)
	}
	if res := get(t, srv, "/"); !strings.Contains(res.Body.String(), `"records_read_total":1`) {
		t.Fatalf("status missing ingestion totals: %s", res.Body.String())
	}
}
