package core

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type stubProbe struct {
	name  string
	err   error
	delay time.Duration
}

func (p *stubProbe) Name() string { return p.name }

func (p *stubProbe) Check(ctx context.Context) error {
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return p.err
}

func doHealthCheck(t *testing.T, srv *Server) (*http.Response, healthResponse) {
	t.Helper()
	w := httptest.NewRecorder()
	srv.HandleHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	resp := w.Result()
	var body healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode health response: %v", err)
	}
	return resp, body
}

func TestHandleHealth_NoProbes(t *testing.T) {
	srv := newTestServer(t)

	resp, body := doHealthCheck(t, srv)

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}
	if body.Status != "healthy" {
		t.Errorf("expected healthy, got %q", body.Status)
	}
}

func TestHandleHealth_AllHealthy(t *testing.T) {
	srv := newTestServer(t)
	srv.HealthProbes = []HealthProbe{
		&stubProbe{name: "database"},
		&stubProbe{name: "queue"},
	}

	resp, body := doHealthCheck(t, srv)

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}
	if body.Components["database"].Status != "healthy" {
		t.Errorf("expected database healthy, got %v", body.Components["database"])
	}
	if body.Components["queue"].Status != "healthy" {
		t.Errorf("expected queue healthy, got %v", body.Components["queue"])
	}
}

func TestHandleHealth_OneUnhealthy(t *testing.T) {
	srv := newTestServer(t)
	srv.HealthProbes = []HealthProbe{
		&stubProbe{name: "database", err: errors.New("connection refused")},
		&stubProbe{name: "queue"},
	}

	resp, body := doHealthCheck(t, srv)

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", resp.StatusCode)
	}
	if body.Status != "unhealthy" {
		t.Errorf("expected unhealthy overall, got %q", body.Status)
	}
	if body.Components["database"].Status != "unhealthy" {
		t.Errorf("expected database unhealthy, got %v", body.Components["database"])
	}
	if body.Components["database"].Message != "connection refused" {
		t.Errorf("expected probe message surfaced, got %q", body.Components["database"].Message)
	}
	if body.Components["queue"].Status != "healthy" {
		t.Errorf("healthy probe must still report, got %v", body.Components["queue"])
	}
}

func TestHandleHealth_SlowProbeTimesOut(t *testing.T) {
	srv := newTestServer(t)
	srv.HealthProbes = []HealthProbe{
		&stubProbe{name: "database", delay: healthCheckTimeout + time.Second},
	}

	start := time.Now()
	resp, body := doHealthCheck(t, srv)
	elapsed := time.Since(start)

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", resp.StatusCode)
	}
	if body.Components["database"].Status != "unhealthy" {
		t.Errorf("expected timed-out probe unhealthy, got %v", body.Components["database"])
	}
	// The handler must answer around the probe deadline, not the probe's delay.
	if elapsed > healthCheckTimeout+time.Second {
		t.Errorf("health check took too long: %v", elapsed)
	}
}
