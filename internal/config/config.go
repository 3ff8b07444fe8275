// Package config handles YAML configuration parsing, defaults, validation,
// and hot reload for the digestgate content verification gateway.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/digestgate/digestgate/internal/strutil"
)

// Config is the root configuration for digestgate.
type Config struct {
	Listen    ListenConfig     `yaml:"listen"`
	Upstreams []UpstreamConfig `yaml:"upstreams"`
	Body      BodyConfig       `yaml:"body"`
	Health    HealthConfig     `yaml:"health"`
	Security  SecurityConfig   `yaml:"security"`
	Logging   LoggingConfig    `yaml:"logging"`
	Shutdown  ShutdownConfig   `yaml:"shutdown"`
	Reload    ReloadConfig     `yaml:"reload"`
}

// ListenConfig defines the listener address and connection limits.
type ListenConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	GRPCPort       int      `yaml:"grpc_port"` // 0 disables the gRPC health listener
	MaxConnections int      `yaml:"max_connections"`
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// UpstreamConfig describes a backend service requests are forwarded to.
type UpstreamConfig struct {
	Name        string            `yaml:"name"`
	URL         string            `yaml:"url"` // supports {ENV_VAR:default} templates
	Prefix      string            `yaml:"prefix"`
	Default     bool              `yaml:"default"`
	Timeout     Duration          `yaml:"timeout"`
	HealthCheck HealthCheckConfig `yaml:"health_check"`
}

// HealthCheckConfig controls per-upstream health probing.
type HealthCheckConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Path     string   `yaml:"path"`
	Interval Duration `yaml:"interval"`
}

// BodyConfig controls how request bodies are buffered.
type BodyConfig struct {
	// MaxSize is the maximum request body size, in bytes, that will be
	// buffered for digest computation. Larger bodies are rejected with 413.
	MaxSize int64 `yaml:"max_size"`
}

// HealthConfig defines health check endpoint paths and readiness behavior.
type HealthConfig struct {
	LivenessPath  string `yaml:"liveness_path"`
	ReadinessPath string `yaml:"readiness_path"`
	ReadinessMode string `yaml:"readiness_mode"` // "any_healthy", "default_healthy", "all_healthy"
}

// SecurityConfig is the top-level security configuration.
type SecurityConfig struct {
	Checksum  ChecksumConfig  `yaml:"checksum"`
	Signature SignatureConfig `yaml:"signature"`
	Replay    ReplayConfig    `yaml:"replay"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// ChecksumConfig controls verification of Content-MD5 / Digest headers.
type ChecksumConfig struct {
	// Mode is "off" (never check), "verify" (check when a header is
	// present), or "require" (reject requests without a checksum header).
	Mode string `yaml:"mode"`
}

// SignatureConfig controls detached JWS content-signature verification.
type SignatureConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Header   string `yaml:"header"`
	Require  bool   `yaml:"require"`
	JWKSFile string `yaml:"jwks_file"`
	JWKSURL  string `yaml:"jwks_url"`
}

// ReplayConfig controls content replay detection.
type ReplayConfig struct {
	Enabled         bool     `yaml:"enabled"`
	Window          Duration `yaml:"window"`
	Policy          string   `yaml:"policy"`       // "warn" or "require"
	NonceSource     string   `yaml:"nonce_source"` // "auto", "header", "body-id", "body-digest"
	ClockSkew       Duration `yaml:"clock_skew"`
	CleanupInterval Duration `yaml:"cleanup_interval"`
}

// RateLimitConfig defines per-IP rate limiting.
type RateLimitConfig struct {
	Enabled         bool     `yaml:"enabled"`
	PerIP           int      `yaml:"per_ip"` // requests per minute
	Burst           int      `yaml:"burst"`
	CleanupInterval Duration `yaml:"cleanup_interval"`
}

// LoggingConfig defines log output format and audit sampling.
type LoggingConfig struct {
	Level  string      `yaml:"level"`
	Format string      `yaml:"format"`
	Output string      `yaml:"output"`
	Audit  AuditConfig `yaml:"audit"`
}

// AuditConfig controls audit log sampling rates.
type AuditConfig struct {
	SamplingRate      float64 `yaml:"sampling_rate"`
	ErrorSamplingRate float64 `yaml:"error_sampling_rate"`
	MaxBodyLogSize    int     `yaml:"max_body_log_size"`
}

// ShutdownConfig defines the graceful shutdown timeout.
type ShutdownConfig struct {
	Timeout Duration `yaml:"timeout"`
}

// ReloadConfig controls config hot-reload behavior (SIGHUP and file watching).
type ReloadConfig struct {
	Enabled   bool     `yaml:"enabled"`
	WatchFile bool     `yaml:"watch_file"`
	Debounce  Duration `yaml:"debounce"`
}

// Duration is a time.Duration that supports YAML string parsing (e.g., "60s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements yaml.Unmarshaler for Duration, parsing strings like "60s" or "5m".
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = dur
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Load reads, parses, expands, applies defaults to, and validates a
// configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	expandTemplates(&cfg)
	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// expandTemplates resolves {NAME:default} variables in upstream URLs from
// the process environment, so one config file can serve several deployments.
func expandTemplates(cfg *Config) {
	env := environMap()
	for i := range cfg.Upstreams {
		cfg.Upstreams[i].URL = strutil.ExpandTemplate(cfg.Upstreams[i].URL, env)
	}
}

// environMap returns the process environment as a map.
func environMap() map[string]string {
	environ := os.Environ()
	m := make(map[string]string, len(environ))
	for _, kv := range environ {
		if idx := strings.IndexByte(kv, '='); idx > 0 {
			m[kv[:idx]] = kv[idx+1:]
		}
	}
	return m
}
