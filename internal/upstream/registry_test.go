package upstream

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/digestgate/digestgate/internal/config"
	gwerrors "github.com/digestgate/digestgate/internal/errors"
)

func testRegistry() *Registry {
	return NewRegistry([]config.UpstreamConfig{
		{Name: "api", URL: "http://api.internal:9000", Prefix: "/api"},
		{Name: "apiv2", URL: "http://apiv2.internal:9000", Prefix: "/api/v2"},
		{Name: "web", URL: "http://web.internal:9000", Prefix: "/", Default: true},
	})
}

func routeReq(path string) *http.Request {
	return httptest.NewRequest(http.MethodGet, path, nil)
}

func TestRouteLongestPrefixWins(t *testing.T) {
	r := testRegistry()

	tests := map[string]string{
		"/api/orders":     "api",
		"/api/v2/orders":  "apiv2",
		"/api":            "api",
		"/api/v2":         "apiv2",
		"/somewhere/else": "web",
		"/":               "web",
	}
	for path, want := range tests {
		u, err := r.Route(routeReq(path))
		if err != nil {
			t.Errorf("Route(%q): %v", path, err)
			continue
		}
		if u.Name != want {
			t.Errorf("Route(%q) = %q, want %q", path, u.Name, want)
		}
	}
}

func TestRouteSegmentBoundary(t *testing.T) {
	r := NewRegistry([]config.UpstreamConfig{
		{Name: "api", URL: "http://api.internal", Prefix: "/api"},
	})

	// /apiary must not match the /api prefix.
	if _, err := r.Route(routeReq("/apiary/bees")); !errors.Is(err, gwerrors.ErrNoUpstream) {
		t.Errorf("Route(/apiary/bees) error = %v, want ErrNoUpstream", err)
	}
}

func TestRouteNoMatchNoDefault(t *testing.T) {
	r := NewRegistry([]config.UpstreamConfig{
		{Name: "api", URL: "http://api.internal", Prefix: "/api"},
	})

	if _, err := r.Route(routeReq("/other")); !errors.Is(err, gwerrors.ErrNoUpstream) {
		t.Errorf("error = %v, want ErrNoUpstream", err)
	}
}

func TestRouteUnhealthyUpstream(t *testing.T) {
	r := NewRegistry([]config.UpstreamConfig{
		{
			Name:        "api",
			URL:         "http://api.internal",
			Prefix:      "/api",
			HealthCheck: config.HealthCheckConfig{Enabled: true},
		},
	})

	// Health-checked upstreams start unhealthy until first probe.
	if _, err := r.Route(routeReq("/api/orders")); !errors.Is(err, gwerrors.ErrUpstreamUnavailable) {
		t.Errorf("error = %v, want ErrUpstreamUnavailable", err)
	}

	u, _ := r.Get("api")
	u.SetHealth(true, nil)
	if _, err := r.Route(routeReq("/api/orders")); err != nil {
		t.Errorf("healthy upstream not routable: %v", err)
	}
}

func TestRegistryReloadReplacesUpstreams(t *testing.T) {
	r := testRegistry()

	cfg := &config.Config{
		Upstreams: []config.UpstreamConfig{
			{Name: "orders", URL: "http://orders.internal", Prefix: "/orders", Default: true},
		},
	}
	if err := r.OnConfigReload(cfg); err != nil {
		t.Fatal(err)
	}

	u, err := r.Route(routeReq("/orders/1"))
	if err != nil || u.Name != "orders" {
		t.Errorf("after reload: %v, %v", u, err)
	}
	if _, ok := r.Get("api"); ok {
		t.Error("old upstream survived reload")
	}
}

func TestRegistryTrimsTrailingSlashFromURL(t *testing.T) {
	r := NewRegistry([]config.UpstreamConfig{
		{Name: "api", URL: "http://api.internal:9000/", Prefix: "/"},
	})
	u, _ := r.Get("api")
	if u.URL != "http://api.internal:9000" {
		t.Errorf("URL = %q", u.URL)
	}
}
