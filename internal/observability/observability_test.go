package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"

	"github.com/jkaninda/mcpkit/internal/config"
	"github.com/jkaninda/mcpkit/internal/ratelimit"
	"github.com/jkaninda/mcpkit/internal/sandbox"
	"github.com/jkaninda/mcpkit/internal/toolerr"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.ServerName = "test"
	cfg.MetricsPort = 0
	return cfg
}

func newTestInfra(cfg *config.Config) *Infrastructure {
	return New(cfg, WithLogOutput(io.Discard))
}

// --- Infrastructure ---

func TestInfrastructure_AllDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Features = config.Features{}
	infra := newTestInfra(cfg)

	infra.Ensure()

	if infra.Metrics() != nil {
		t.Error("metrics should be nil when not enabled")
	}
	if _, ok := infra.Limiter().(ratelimit.Unlimited); !ok {
		t.Errorf("limiter = %T, want ratelimit.Unlimited", infra.Limiter())
	}
	if infra.Logger() == nil {
		t.Error("logger should always be available")
	}
	if infra.Health() == nil {
		t.Error("health checker should always be created")
	}
	if got := infra.Features(); got != (FeatureStatus{}) {
		t.Errorf("features = %+v, want all false", got)
	}
}

func TestInfrastructure_EnabledFeatures(t *testing.T) {
	infra := newTestInfra(testConfig())

	got := infra.Features()
	want := FeatureStatus{Metrics: true, StructuredLogging: true, RateLimiting: true}
	if got != want {
		t.Errorf("features = %+v, want %+v", got, want)
	}
	if _, ok := infra.Limiter().(*ratelimit.FixedWindow); !ok {
		t.Errorf("limiter = %T, want *ratelimit.FixedWindow", infra.Limiter())
	}
}

func TestInfrastructure_EnsureIsIdempotentUnderConcurrency(t *testing.T) {
	infra := newTestInfra(testConfig())

	const n = 64
	metrics := make([]*MetricsCollector, n)
	limiters := make([]ratelimit.Limiter, n)
	loggers := make([]*slog.Logger, n)

	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			infra.Ensure()
			metrics[i] = infra.Metrics()
			limiters[i] = infra.Limiter()
			loggers[i] = infra.Logger()
		}()
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		if metrics[i] != metrics[0] {
			t.Fatal("metrics collector initialized more than once")
		}
		if limiters[i] != limiters[0] {
			t.Fatal("rate limiter initialized more than once")
		}
		if loggers[i] != loggers[0] {
			t.Fatal("logger initialized more than once")
		}
	}

	// Exactly one set of instruments: gathering must not report duplicates.
	metrics[0].RequestsTotal.WithLabelValues("echo", OutcomeSuccess).Inc()
	families, err := metrics[0].Registry.Gather()
	if err != nil {
		t.Fatalf("gather error: %v", err)
	}
	seen := make(map[string]int)
	for _, f := range families {
		seen[f.GetName()]++
	}
	for name, count := range seen {
		if count != 1 {
			t.Errorf("metric family %q registered %d times", name, count)
		}
	}
}

func TestInfrastructure_MalformedRateDegrades(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = "lots"
	infra := newTestInfra(cfg)

	if _, ok := infra.Limiter().(ratelimit.Unlimited); !ok {
		t.Errorf("limiter = %T, want ratelimit.Unlimited", infra.Limiter())
	}
	if infra.Features().RateLimiting {
		t.Error("rate limiting should report inactive")
	}
}

func TestInfrastructure_PlainLogging(t *testing.T) {
	cfg := testConfig()
	cfg.Features.StructuredLogging = false
	var buf bytes.Buffer
	infra := New(cfg, WithLogOutput(&buf))

	infra.Logger().Info("hello", slog.String("k", "v"))

	out := buf.String()
	if json.Valid(bytes.TrimSpace(buf.Bytes())) {
		t.Errorf("plain logging produced JSON: %q", out)
	}
	if !bytes.Contains(buf.Bytes(), []byte("hello")) {
		t.Errorf("log output missing message: %q", out)
	}
}

func TestInfrastructure_StructuredLogging(t *testing.T) {
	var buf bytes.Buffer
	infra := New(testConfig(), WithLogOutput(&buf))

	infra.Logger().Info("hello", slog.String("k", "v"))

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("structured log is not JSON: %v (%q)", err, buf.String())
	}
	if entry["msg"] != "hello" || entry["k"] != "v" {
		t.Errorf("entry = %v", entry)
	}
}

func TestInfrastructure_WithLogger(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	infra := New(testConfig(), WithLogger(logger))
	if infra.Logger() != logger {
		t.Error("expected injected logger to be used")
	}
}

func TestInfrastructure_ShutdownWithoutServer(t *testing.T) {
	infra := newTestInfra(testConfig())
	infra.Ensure()
	if err := infra.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error: %v", err)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name  string
		debug bool
		want  slog.Level
	}{
		{"DEBUG", false, slog.LevelDebug},
		{"info", false, slog.LevelInfo},
		{"WARNING", false, slog.LevelWarn},
		{"warn", false, slog.LevelWarn},
		{"ERROR", false, slog.LevelError},
		{"", false, slog.LevelInfo},
		{"ERROR", true, slog.LevelDebug},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.name, tt.debug); got != tt.want {
			t.Errorf("parseLevel(%q, %v) = %v, want %v", tt.name, tt.debug, got, tt.want)
		}
	}
}

// --- MetricsCollector ---

func TestMetricsCollector_Created(t *testing.T) {
	m := NewMetricsCollector("test")
	m.RequestsTotal.WithLabelValues("echo", OutcomeSuccess).Inc()
	m.CommandExecutionsTotal.WithLabelValues(CommandSuccess).Inc()
	m.HTTPRequestsTotal.WithLabelValues("GET", "/metrics", "200").Inc()

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("gather error: %v", err)
	}

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, expected := range []string{
		"test_requests_total",
		"test_command_executions_total",
		"test_http_requests_total",
		"test_active_requests",
		"test_health_status",
	} {
		if !names[expected] {
			t.Errorf("metric %q not found in registry", expected)
		}
	}
	if got := testutil.ToFloat64(m.HealthStatus); got != 1 {
		t.Errorf("initial health status = %v, want 1", got)
	}
}

func TestMetricNamespace(t *testing.T) {
	tests := map[string]string{
		"mcpkit":        "mcpkit",
		"My MCP-Server": "my_mcp_server",
		"9tools":        "_9tools",
		"":              "mcpkit",
	}
	for in, want := range tests {
		if got := metricNamespace(in); got != want {
			t.Errorf("metricNamespace(%q) = %q, want %q", in, got, want)
		}
	}
}

// --- HealthChecker ---

func TestHealthChecker_NoChecks(t *testing.T) {
	h := NewHealthChecker(nil)
	status := h.CheckReady(context.Background())
	if status.Status != "ok" {
		t.Errorf("status = %q, want ok", status.Status)
	}
}

func TestHealthChecker_OneFails(t *testing.T) {
	h := NewHealthChecker(nil)
	h.AddCheck("workspace", func(ctx context.Context) error { return errors.New("permission denied") })
	h.AddCheck("sandbox", func(ctx context.Context) error { return nil })

	status := h.CheckReady(context.Background())
	if status.Status != "degraded" {
		t.Errorf("status = %q, want degraded", status.Status)
	}
	if status.Checks["workspace"].Status != "fail" {
		t.Errorf("workspace check = %q, want fail", status.Checks["workspace"].Status)
	}
	if status.Checks["workspace"].Message != "permission denied" {
		t.Errorf("workspace message = %q", status.Checks["workspace"].Message)
	}
	if status.Checks["sandbox"].Status != "ok" {
		t.Errorf("sandbox check = %q, want ok", status.Checks["sandbox"].Status)
	}
}

func TestHealthChecker_Liveness(t *testing.T) {
	h := NewHealthChecker(nil)
	if status := h.CheckHealth(); status.Status != "ok" {
		t.Errorf("liveness = %q, want ok", status.Status)
	}
}

// --- InstrumentedSandbox ---

type mockSandbox struct {
	result *sandbox.ExecutionResult
	err    error
}

func (m *mockSandbox) Execute(ctx context.Context, req sandbox.ExecutionRequest) (*sandbox.ExecutionResult, error) {
	return m.result, m.err
}

func TestInstrumentedSandbox_Outcomes(t *testing.T) {
	tests := []struct {
		name    string
		inner   *mockSandbox
		outcome string
	}{
		{"success", &mockSandbox{result: &sandbox.ExecutionResult{Success: true}}, CommandSuccess},
		{"nonzero", &mockSandbox{result: &sandbox.ExecutionResult{ExitCode: 2}}, CommandNonZeroExit},
		{"timeout", &mockSandbox{err: &toolerr.TimeoutError{Timeout: time.Second}}, CommandTimeout},
		{"error", &mockSandbox{err: &toolerr.ExecutionError{Cause: errors.New("spawn")}}, CommandError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			infra := newTestInfra(testConfig())
			s := NewInstrumentedSandbox(tt.inner, "process", infra)

			result, err := s.Execute(context.Background(), sandbox.ExecutionRequest{Command: []string{"true"}})
			if result != tt.inner.result || err != tt.inner.err {
				t.Errorf("wrapper changed the result: %v, %v", result, err)
			}

			val := counterValue(t, infra.Metrics().Registry, "test_command_executions_total", prometheus.Labels{"outcome": tt.outcome})
			if val != 1 {
				t.Errorf("command executions{outcome=%s} = %v, want 1", tt.outcome, val)
			}
		})
	}
}

func TestInstrumentedSandbox_MetricsDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Features.Metrics = false
	s := NewInstrumentedSandbox(&mockSandbox{result: &sandbox.ExecutionResult{}}, "process", newTestInfra(cfg))

	if _, err := s.Execute(context.Background(), sandbox.ExecutionRequest{Command: []string{"true"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// --- HTTP Middleware ---

func TestHTTPMetricsMiddleware(t *testing.T) {
	metrics := NewMetricsCollector("test")

	handler := HTTPMetricsMiddleware(metrics, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	req := httptest.NewRequest("GET", "/readyz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}

	val := counterValue(t, metrics.Registry, "test_http_requests_total", prometheus.Labels{"method": "GET", "path": "/readyz", "status_code": "503"})
	if val != 1 {
		t.Errorf("http requests = %v, want 1", val)
	}
}

func TestHTTPMetricsMiddleware_NilMetrics(t *testing.T) {
	handler := HTTPMetricsMiddleware(nil, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

// --- Helpers ---

func labelMap(pairs []*dto.LabelPair) map[string]string {
	m := make(map[string]string)
	for _, p := range pairs {
		m[p.GetName()] = p.GetValue()
	}
	return m
}

func findMetric(t *testing.T, reg *prometheus.Registry, name string, labels prometheus.Labels) *dto.Metric {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather error: %v", err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, metric := range f.GetMetric() {
			lm := labelMap(metric.GetLabel())
			match := true
			for k, v := range labels {
				if lm[k] != v {
					match = false
					break
				}
			}
			if match {
				return metric
			}
		}
	}
	return nil
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels prometheus.Labels) float64 {
	t.Helper()
	if m := findMetric(t, reg, name, labels); m != nil {
		return m.GetCounter().GetValue()
	}
	return 0
}

func histogramCount(t *testing.T, reg *prometheus.Registry, name string, labels prometheus.Labels) uint64 {
	t.Helper()
	if m := findMetric(t, reg, name, labels); m != nil {
		return m.GetHistogram().GetSampleCount()
	}
	return 0
}
