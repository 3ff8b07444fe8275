package upstream

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/digestgate/digestgate/internal/config"
)

type recordingReporter struct {
	mu     sync.Mutex
	states map[string]bool
}

func newRecordingReporter() *recordingReporter {
	return &recordingReporter{states: make(map[string]bool)}
}

func (r *recordingReporter) SetUpstreamHealth(upstream string, healthy bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[upstream] = healthy
}

func (r *recordingReporter) get(upstream string) (bool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.states[upstream]
	return v, ok
}

func monitorFor(t *testing.T, cfgs []config.UpstreamConfig, reporter HealthReporter) (*Registry, *Monitor) {
	t.Helper()
	reg := NewRegistry(cfgs)
	mon := NewMonitor(reg, reporter, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return reg, mon
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestMonitorMarksHealthyUpstream(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/healthz" {
			t.Errorf("probe path = %q", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	reporter := newRecordingReporter()
	reg, mon := monitorFor(t, []config.UpstreamConfig{{
		Name:   "api",
		URL:    backend.URL,
		Prefix: "/",
		HealthCheck: config.HealthCheckConfig{
			Enabled:  true,
			Path:     "/healthz",
			Interval: config.Duration{Duration: time.Hour},
		},
	}}, reporter)

	mon.Start(context.Background())
	defer mon.Stop()

	waitFor(t, time.Second, func() bool {
		u, _ := reg.Get("api")
		return u.Healthy()
	})
	if healthy, ok := reporter.get("api"); !ok || !healthy {
		t.Errorf("reporter state = %v, %v", healthy, ok)
	}
}

func TestMonitorMarksFailingUpstream(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer backend.Close()

	reporter := newRecordingReporter()
	reg, mon := monitorFor(t, []config.UpstreamConfig{{
		Name:   "api",
		URL:    backend.URL,
		Prefix: "/",
		HealthCheck: config.HealthCheckConfig{
			Enabled:  true,
			Path:     "/healthz",
			Interval: config.Duration{Duration: time.Hour},
		},
	}}, reporter)

	mon.Start(context.Background())
	defer mon.Stop()

	waitFor(t, time.Second, func() bool {
		_, ok := reporter.get("api")
		return ok
	})

	u, _ := reg.Get("api")
	if u.Healthy() {
		t.Error("failing upstream reported healthy")
	}
	if u.LastError() == nil {
		t.Error("no probe error recorded")
	}
}

func TestMonitorSkipsUncheckedUpstreams(t *testing.T) {
	reporter := newRecordingReporter()
	_, mon := monitorFor(t, []config.UpstreamConfig{{
		Name:   "static",
		URL:    "http://unreachable.internal",
		Prefix: "/",
	}}, reporter)

	mon.Start(context.Background())
	defer mon.Stop()

	// Unchecked upstreams are reported healthy without probing.
	if healthy, ok := reporter.get("static"); !ok || !healthy {
		t.Errorf("unchecked upstream state = %v, %v", healthy, ok)
	}
}
