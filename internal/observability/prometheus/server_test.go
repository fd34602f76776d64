package prometheus

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	logx "timerd/pkg/logx"
)

func waitAddr(t *testing.T, s *Server) string {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if addr := s.Addr(); addr != "" {
			return addr
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("server did not bind")
	return ""
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestServerServesMetricsAndHealth(t *testing.T) {
	exp, err := NewExporter("timerd", nil)
	if err != nil {
		t.Fatalf("NewExporter: %v", err)
	}
	var unhealthy atomic.Bool
	health := func() error {
		if unhealthy.Load() {
			return errors.New("driver gone")
		}
		return nil
	}
	s := NewServer(ServerConfig{Enabled: true, Addr: "127.0.0.1:0", Path: "/metrics"}, exp.Handler(), health, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop(context.Background())

	addr := waitAddr(t, s)
	if code, body := get(t, "http://"+addr+"/metrics"); code != http.StatusOK || body == "" {
		t.Fatalf("/metrics = %d", code)
	}
	if code, _ := get(t, "http://"+addr+"/healthz"); code != http.StatusOK {
		t.Fatalf("/healthz = %d, want 200", code)
	}
	if code, _ := get(t, "http://"+addr+"/debug/pprof/"); code != http.StatusNotFound {
		t.Fatalf("pprof without opt-in = %d, want 404", code)
	}

	unhealthy.Store(true)
	if code, body := get(t, "http://"+addr+"/healthz"); code != http.StatusServiceUnavailable {
		t.Fatalf("/healthz = %d (%s), want 503", code, body)
	}
}

func TestServerReconfigure(t *testing.T) {
	s := NewServer(ServerConfig{Enabled: false}, http.NotFoundHandler(), nil, logx.Logger{})
	ctx := context.Background()

	s.Start(ctx)
	if s.Addr() != "" {
		t.Fatal("disabled server should not bind")
	}

	s.Reconfigure(ctx, ServerConfig{Enabled: true, Addr: "127.0.0.1:0", Pprof: true})
	addr := waitAddr(t, s)
	if code, _ := get(t, "http://"+addr+"/debug/pprof/cmdline"); code != http.StatusOK {
		t.Fatalf("pprof cmdline = %d, want 200", code)
	}

	s.Reconfigure(ctx, ServerConfig{Enabled: false})
	if s.Addr() != "" {
		t.Fatal("address should be cleared after disable")
	}
	if _, err := http.Get("http://" + addr + "/healthz"); err == nil {
		t.Fatal("listener should be closed after disable")
	}
}
