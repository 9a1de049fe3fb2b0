package opshttp

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/keithlinneman/linnemanlabs-plugins/internal/health"
)

func get(h http.Handler, target, remote string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.RemoteAddr = remote
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestNewHandler_Routes(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "plugins_installed 2\n")
	})

	tests := []struct {
		name   string
		opts   Options
		target string
		want   int
	}{
		{"healthz", Options{}, "/healthz", http.StatusOK},
		{"readyz failing", Options{Readiness: health.Fixed(false, "draining")}, "/readyz", http.StatusServiceUnavailable},
		{"metrics mounted", Options{Metrics: metrics}, "/metrics", http.StatusOK},
		{"metrics absent", Options{}, "/metrics", http.StatusNotFound},
		{"pprof disabled", Options{}, "/debug/pprof/", http.StatusNotFound},
		{"pprof disabled subpath", Options{}, "/debug/pprof/heap", http.StatusNotFound},
		{"pprof enabled", Options{EnablePprof: true}, "/debug/pprof/", http.StatusOK},
		{"pprof cmdline", Options{EnablePprof: true}, "/debug/pprof/cmdline", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := tt.opts
			if rec := get(NewHandler(nil, &opts), tt.target, "127.0.0.1:5000"); rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestRequireNonPublicNetwork(t *testing.T) {
	h := NewHandler(nil, &Options{})
	tests := []struct {
		remote string
		want   int
	}{
		{"127.0.0.1:1", http.StatusOK},
		{"[::1]:1", http.StatusOK},
		{"10.1.2.3:1", http.StatusOK},
		{"172.16.0.9:1", http.StatusOK},
		{"192.168.1.1:1", http.StatusOK},
		{"[fd00::1]:1", http.StatusOK},
		{"169.254.10.1:1", http.StatusOK},
		{"[::ffff:10.0.0.1]:1", http.StatusOK},
		{"203.0.113.5:1", http.StatusForbidden},
		{"[2001:db8::1]:1", http.StatusForbidden},
		{"[::ffff:8.8.8.8]:1", http.StatusForbidden},
		{"garbage", http.StatusForbidden},
		{"", http.StatusForbidden},
	}
	for _, tt := range tests {
		if rec := get(h, "/healthz", tt.remote); rec.Code != tt.want {
			t.Errorf("remote %q: status = %d, want %d", tt.remote, rec.Code, tt.want)
		}
	}
}

func TestNewHandler_RecoversPanickingMetrics(t *testing.T) {
	panics := 0
	h := NewHandler(nil, &Options{
		UseRecoverMW: true,
		OnPanic:      func() { panics++ },
		Metrics:      http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("gatherer broke") }),
	})
	if rec := get(h, "/metrics", "127.0.0.1:1"); rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if panics != 1 {
		t.Errorf("OnPanic called %d times", panics)
	}
}

func TestStart_Lifecycle(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	ctx := context.Background()
	stop, err := Start(ctx, nil, &Options{Port: port})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/healthz", port))
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "ok\n" {
		t.Errorf("status = %d body = %q", resp.StatusCode, body)
	}

	if err := stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := stop(ctx); err != nil {
		t.Errorf("second stop: %v", err)
	}
}

func TestStart_PortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	if _, err := Start(context.Background(), nil, &Options{Port: ln.Addr().(*net.TCPAddr).Port}); err == nil {
		t.Fatal("Start succeeded on a port in use")
	}
}
