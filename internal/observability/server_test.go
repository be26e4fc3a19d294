package observability

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestInfrastructure_MetricsPortInUseDegrades(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	cfg := testConfig()
	cfg.Host = "127.0.0.1"
	cfg.MetricsPort = ln.Addr().(*net.TCPAddr).Port
	infra := newTestInfra(cfg)

	infra.Ensure()

	if infra.Metrics() == nil {
		t.Fatal("metrics should still be recorded in-process")
	}
	if infra.server != nil {
		t.Error("server should not be kept after a bind failure")
	}
	if !infra.Features().Metrics {
		t.Error("metrics feature should report active")
	}
}

func TestMetricsServer_Serves(t *testing.T) {
	cfg := testConfig()
	cfg.Host = "127.0.0.1"
	cfg.MetricsPort = freePort(t)
	infra := newTestInfra(cfg)
	infra.Ensure()
	t.Cleanup(func() { _ = infra.Shutdown(context.Background()) })

	infra.Metrics().RequestsTotal.WithLabelValues("echo", OutcomeSuccess).Inc()

	base := "http://127.0.0.1:" + strconv.Itoa(cfg.MetricsPort)
	body := getWithRetry(t, base+"/metrics")
	if !strings.Contains(body, `test_requests_total{operation="echo",outcome="success"} 1`) {
		t.Errorf("metrics output missing request counter:\n%s", body)
	}

	if body := getWithRetry(t, base+"/healthz"); !strings.Contains(body, `"ok"`) {
		t.Errorf("healthz = %q", body)
	}
}

func getWithRetry(t *testing.T, url string) string {
	t.Helper()
	client := &http.Client{Timeout: time.Second}
	deadline := time.Now().Add(3 * time.Second)
	for {
		resp, err := client.Get(url)
		if err == nil {
			defer resp.Body.Close()
			b, _ := io.ReadAll(resp.Body)
			return string(b)
		}
		if time.Now().After(deadline) {
			t.Fatalf("GET %s: %v", url, err)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func newTestMetricsServer(t *testing.T) *MetricsServer {
	t.Helper()
	infra := newTestInfra(testConfig())
	infra.Ensure()
	srv := NewMetricsServer("127.0.0.1:0", infra.Metrics(), infra.Health(), infra.Tracer(), infra.Logger())
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return srv
}

func TestMetricsServer_ServesOnBoundListener(t *testing.T) {
	srv := newTestMetricsServer(t)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	// Port 0 is resolved at bind time; the server must answer on that port.
	if strings.HasSuffix(srv.server.Addr, ":0") {
		t.Fatalf("server addr = %q, want the bound port", srv.server.Addr)
	}
	if body := getWithRetry(t, "http://"+srv.server.Addr+"/healthz"); !strings.Contains(body, `"ok"`) {
		t.Errorf("healthz = %q", body)
	}
}

func TestMetricsServer_ShutdownHonoursContext(t *testing.T) {
	srv := newTestMetricsServer(t)
	addr := srv.server.Addr

	// Hold a connection open mid-request so a graceful shutdown has to wait.
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte("GET /healthz HTTP/1.1\r\nHost: x\r\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	err = srv.Shutdown(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Shutdown error = %v, want deadline exceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Shutdown took %v, want it bounded by the context", elapsed)
	}

	// The listener is released: the same address can be bound again.
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		t.Fatalf("rebinding %s after shutdown: %v", addr, err)
	}
	_ = ln.Close()
}
