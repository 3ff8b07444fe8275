// Package upstream manages the set of backend services requests are
// forwarded to: prefix-based routing, health state, and periodic probing.
package upstream

import (
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/digestgate/digestgate/internal/config"
	gwerrors "github.com/digestgate/digestgate/internal/errors"
)

// Upstream is one configured backend with its live health state.
type Upstream struct {
	Name    string
	URL     string
	Prefix  string
	Default bool
	Timeout time.Duration

	HealthCheck config.HealthCheckConfig

	mu         sync.RWMutex
	healthy    bool
	lastProbed time.Time
	lastError  error
}

// Healthy reports the upstream's current health. Upstreams without health
// checking are always considered healthy.
func (u *Upstream) Healthy() bool {
	if !u.HealthCheck.Enabled {
		return true
	}
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.healthy
}

// SetHealth updates health state from a probe result.
func (u *Upstream) SetHealth(healthy bool, err error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.healthy = healthy
	u.lastProbed = time.Now()
	u.lastError = err
}

// LastError returns the most recent probe error, or nil.
func (u *Upstream) LastError() error {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.lastError
}

// Registry holds the configured upstreams sorted for longest-prefix routing.
type Registry struct {
	mu        sync.RWMutex
	upstreams []*Upstream // sorted by prefix length, longest first
	byName    map[string]*Upstream
	def       *Upstream
}

// NewRegistry builds a registry from configuration.
func NewRegistry(cfgs []config.UpstreamConfig) *Registry {
	r := &Registry{}
	r.replace(cfgs)
	return r
}

// replace swaps in a new upstream set, preserving nothing from the old one.
func (r *Registry) replace(cfgs []config.UpstreamConfig) {
	ups := make([]*Upstream, 0, len(cfgs))
	byName := make(map[string]*Upstream, len(cfgs))
	var def *Upstream

	for _, c := range cfgs {
		u := &Upstream{
			Name:        c.Name,
			URL:         strings.TrimRight(c.URL, "/"),
			Prefix:      c.Prefix,
			Default:     c.Default,
			Timeout:     c.Timeout.Duration,
			HealthCheck: c.HealthCheck,
			// Health-checked upstreams start unhealthy until first probe.
			healthy: false,
		}
		ups = append(ups, u)
		byName[u.Name] = u
		if u.Default {
			def = u
		}
	}

	sort.SliceStable(ups, func(i, j int) bool {
		return len(ups[i].Prefix) > len(ups[j].Prefix)
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	r.upstreams = ups
	r.byName = byName
	r.def = def
}

// OnConfigReload rebuilds the registry from the new configuration.
// Health state resets; the monitor re-probes on its next tick.
func (r *Registry) OnConfigReload(cfg *config.Config) error {
	r.replace(cfg.Upstreams)
	return nil
}

// Route selects the upstream for a request path: the longest matching
// prefix wins, with the default upstream as fallback. Returns ErrNoUpstream
// if nothing matches, ErrUpstreamUnavailable if the match is unhealthy.
func (r *Registry) Route(req *http.Request) (*Upstream, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	path := req.URL.Path
	for _, u := range r.upstreams {
		if prefixMatches(path, u.Prefix) {
			if !u.Healthy() {
				return nil, gwerrors.ErrUpstreamUnavailable
			}
			return u, nil
		}
	}

	if r.def != nil {
		if !r.def.Healthy() {
			return nil, gwerrors.ErrUpstreamUnavailable
		}
		return r.def, nil
	}
	return nil, gwerrors.ErrNoUpstream
}

// prefixMatches reports whether path falls under prefix on path-segment
// boundaries: /api matches /api and /api/v1 but not /apiary.
func prefixMatches(path, prefix string) bool {
	if prefix == "/" {
		return true
	}
	prefix = strings.TrimRight(prefix, "/")
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '/'
}

// Get returns the named upstream.
func (r *Registry) Get(name string) (*Upstream, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byName[name]
	return u, ok
}

// All returns the current upstream list.
func (r *Registry) All() []*Upstream {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Upstream, len(r.upstreams))
	copy(out, r.upstreams)
	return out
}

// Default returns the default upstream, if one is configured.
func (r *Registry) Default() (*Upstream, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.def, r.def != nil
}
