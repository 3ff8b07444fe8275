package upstream

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// HealthReporter receives upstream health transitions for metrics.
type HealthReporter interface {
	SetUpstreamHealth(upstream string, healthy bool)
}

type nopReporter struct{}

func (nopReporter) SetUpstreamHealth(string, bool) {}

// Monitor probes health-checked upstreams at their configured intervals
// and keeps the registry's health state current.
type Monitor struct {
	registry *Registry
	client   *http.Client
	reporter HealthReporter
	logger   *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMonitor creates a health monitor over the given registry.
func NewMonitor(registry *Registry, reporter HealthReporter, logger *slog.Logger) *Monitor {
	if reporter == nil {
		reporter = nopReporter{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		registry: registry,
		client:   &http.Client{Timeout: 10 * time.Second},
		reporter: reporter,
		logger:   logger,
	}
}

// Start launches one probe loop per health-checked upstream. Upstreams
// without health checking are reported healthy once and left alone.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)

	for _, u := range m.registry.All() {
		if !u.HealthCheck.Enabled {
			m.reporter.SetUpstreamHealth(u.Name, true)
			continue
		}
		m.wg.Add(1)
		go func(u *Upstream) {
			defer m.wg.Done()
			m.pollUpstream(ctx, u)
		}(u)
	}
}

// Stop cancels all probe loops and waits for them to exit.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// pollUpstream probes one upstream at its configured interval until the
// context is canceled. The first probe runs immediately.
func (m *Monitor) pollUpstream(ctx context.Context, u *Upstream) {
	m.probe(ctx, u)

	ticker := time.NewTicker(u.HealthCheck.Interval.Duration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probe(ctx, u)
		}
	}
}

// probe issues one health check request and records the outcome.
func (m *Monitor) probe(ctx context.Context, u *Upstream) {
	wasHealthy := u.Healthy()

	err := m.check(ctx, u)
	healthy := err == nil
	u.SetHealth(healthy, err)
	m.reporter.SetUpstreamHealth(u.Name, healthy)

	if healthy != wasHealthy {
		if healthy {
			m.logger.Info("upstream became healthy", "upstream", u.Name)
		} else {
			m.logger.Warn("upstream became unhealthy", "upstream", u.Name, "error", err)
		}
	}
}

// check performs the HTTP probe. Any 2xx response counts as healthy.
func (m *Monitor) check(ctx context.Context, u *Upstream) error {
	probeURL := buildProbeURL(u.URL, u.HealthCheck.Path)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probeURL, nil)
	if err != nil {
		return fmt.Errorf("creating probe request for %q: %w", u.Name, err)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("probing %q: %w", u.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("upstream %q health check returned HTTP %d", u.Name, resp.StatusCode)
	}
	return nil
}

// buildProbeURL joins the upstream base URL and health check path.
func buildProbeURL(baseURL, path string) string {
	base := strings.TrimRight(baseURL, "/")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}
