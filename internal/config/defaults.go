package config

import "time"

// ApplyDefaults fills zero-valued fields with their defaults.
// It is called after YAML parsing and before validation.
func ApplyDefaults(cfg *Config) {
	// ── Listen ──
	if cfg.Listen.Host == "" {
		cfg.Listen.Host = "0.0.0.0"
	}
	if cfg.Listen.Port == 0 {
		cfg.Listen.Port = 8080
	}
	if cfg.Listen.MaxConnections == 0 {
		cfg.Listen.MaxConnections = 1000
	}
	if cfg.Listen.TrustedProxies == nil {
		cfg.Listen.TrustedProxies = []string{}
	}

	// ── Body ──
	if cfg.Body.MaxSize == 0 {
		cfg.Body.MaxSize = 2 * 1024 * 1024 // 2MB
	}

	// ── Health ──
	if cfg.Health.LivenessPath == "" {
		cfg.Health.LivenessPath = "/healthz"
	}
	if cfg.Health.ReadinessPath == "" {
		cfg.Health.ReadinessPath = "/readyz"
	}
	if cfg.Health.ReadinessMode == "" {
		cfg.Health.ReadinessMode = "any_healthy"
	}

	// ── Security: Checksum ──
	if cfg.Security.Checksum.Mode == "" {
		cfg.Security.Checksum.Mode = "verify"
	}

	// ── Security: Signature ──
	if cfg.Security.Signature.Header == "" {
		cfg.Security.Signature.Header = "X-Content-Signature"
	}

	// ── Security: Replay ──
	applyReplayDefaults(&cfg.Security.Replay)

	// ── Security: Rate Limit ──
	applyRateLimitDefaults(&cfg.Security.RateLimit)

	// ── Logging ──
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
	applyAuditDefaults(&cfg.Logging.Audit)

	// ── Shutdown ──
	if cfg.Shutdown.Timeout.Duration == 0 {
		cfg.Shutdown.Timeout.Duration = 30 * time.Second
	}

	// ── Reload ──
	if cfg.Reload.Debounce.Duration == 0 {
		cfg.Reload.Debounce.Duration = 2 * time.Second
	}

	// ── Per-upstream defaults ──
	for i := range cfg.Upstreams {
		applyUpstreamDefaults(&cfg.Upstreams[i])
	}
}

func applyReplayDefaults(r *ReplayConfig) {
	if r.Window.Duration == 0 {
		r.Window.Duration = 300 * time.Second
	}
	if r.Policy == "" {
		r.Policy = "warn"
	}
	if r.NonceSource == "" {
		r.NonceSource = "auto"
	}
	if r.CleanupInterval.Duration == 0 {
		r.CleanupInterval.Duration = 60 * time.Second
	}
}

func applyRateLimitDefaults(rl *RateLimitConfig) {
	if rl.PerIP == 0 {
		rl.PerIP = 200
	}
	if rl.Burst == 0 {
		rl.Burst = 50
	}
	if rl.CleanupInterval.Duration == 0 {
		rl.CleanupInterval.Duration = 5 * time.Minute
	}
}

func applyAuditDefaults(a *AuditConfig) {
	if a.SamplingRate == 0 {
		a.SamplingRate = 1.0
	}
	if a.ErrorSamplingRate == 0 {
		a.ErrorSamplingRate = 1.0
	}
	if a.MaxBodyLogSize == 0 {
		a.MaxBodyLogSize = 1024
	}
}

func applyUpstreamDefaults(u *UpstreamConfig) {
	if u.Prefix == "" {
		u.Prefix = "/"
	}
	if u.Timeout.Duration == 0 {
		u.Timeout.Duration = 30 * time.Second
	}
	if u.HealthCheck.Path == "" {
		u.HealthCheck.Path = "/healthz"
	}
	if u.HealthCheck.Interval.Duration == 0 {
		u.HealthCheck.Interval.Duration = 30 * time.Second
	}
}

// DevProfile returns a starter configuration for local development.
func DevProfile() string {
	return `listen:
  host: 127.0.0.1
  port: 8080

upstreams:
  - name: local
    url: "{UPSTREAM_URL:http://127.0.0.1:9000}"
    prefix: /
    default: true
    health_check:
      enabled: false

body:
  max_size: 2097152 # 2MB

security:
  checksum:
    mode: verify
  signature:
    enabled: false
  replay:
    enabled: false
  rate_limit:
    enabled: false

logging:
  level: debug
  format: text
`
}

// ProdProfile returns a hardened starter configuration.
func ProdProfile() string {
	return `listen:
  host: 0.0.0.0
  port: 8080
  grpc_port: 8081
  max_connections: 1000
  trusted_proxies: []

upstreams:
  - name: api
    url: "{UPSTREAM_URL:http://api.internal:9000}"
    prefix: /
    default: true
    timeout: 30s
    health_check:
      enabled: true
      path: /healthz
      interval: 30s

body:
  max_size: 2097152 # 2MB

security:
  checksum:
    mode: require
  signature:
    enabled: true
    require: true
    jwks_file: /etc/digestgate/jwks.json
  replay:
    enabled: true
    window: 300s
    policy: require
  rate_limit:
    enabled: true
    per_ip: 200
    burst: 50

logging:
  level: info
  format: json
  audit:
    sampling_rate: 0.1
    error_sampling_rate: 1.0

reload:
  enabled: true
  watch_file: true
  debounce: 2s
`
}
