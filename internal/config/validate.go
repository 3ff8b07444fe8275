package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
)

// Validate checks the configuration for errors. It collects ALL errors
// rather than stopping at the first one, returning them as a joined message.
func Validate(cfg *Config) error {
	var errs []string

	// ── Upstreams ──
	if len(cfg.Upstreams) == 0 {
		errs = append(errs, "upstreams list must not be empty")
	}

	defaultCount := 0
	for i, u := range cfg.Upstreams {
		if u.Name == "" {
			errs = append(errs, fmt.Sprintf("upstreams[%d]: name is required", i))
		}
		if u.URL == "" {
			errs = append(errs, fmt.Sprintf("upstreams[%d]: url is required", i))
		} else if parsed, err := url.Parse(u.URL); err != nil || parsed.Host == "" || parsed.Scheme == "" {
			errs = append(errs, fmt.Sprintf("upstreams[%d]: url must be a valid URL (got %q)", i, u.URL))
		}
		if !strings.HasPrefix(u.Prefix, "/") {
			errs = append(errs, fmt.Sprintf("upstreams[%d]: prefix must start with / (got %q)", i, u.Prefix))
		}
		if u.Default {
			defaultCount++
		}
		if u.Timeout.Duration < 0 {
			errs = append(errs, fmt.Sprintf("upstreams[%d]: timeout must be positive", i))
		}
	}
	if defaultCount > 1 {
		errs = append(errs, fmt.Sprintf("at most one upstream can be default (found %d)", defaultCount))
	}

	// ── Ports ──
	if cfg.Listen.Port < 1 || cfg.Listen.Port > 65535 {
		errs = append(errs, fmt.Sprintf("listen.port must be 1-65535 (got %d)", cfg.Listen.Port))
	}
	if cfg.Listen.GRPCPort != 0 && (cfg.Listen.GRPCPort < 1 || cfg.Listen.GRPCPort > 65535) {
		errs = append(errs, fmt.Sprintf("listen.grpc_port must be 0 (disabled) or 1-65535 (got %d)", cfg.Listen.GRPCPort))
	}
	if cfg.Listen.GRPCPort != 0 && cfg.Listen.GRPCPort == cfg.Listen.Port {
		errs = append(errs, fmt.Sprintf("listen.grpc_port must differ from listen.port (both %d)", cfg.Listen.GRPCPort))
	}

	// ── Connection limits ──
	if cfg.Listen.MaxConnections < 1 {
		errs = append(errs, fmt.Sprintf("listen.max_connections must be positive (got %d)", cfg.Listen.MaxConnections))
	}

	// ── Body limit ──
	if cfg.Body.MaxSize < 1 {
		errs = append(errs, fmt.Sprintf("body.max_size must be positive (got %d)", cfg.Body.MaxSize))
	}

	// ── Checksum mode ──
	if !isValidChecksumMode(cfg.Security.Checksum.Mode) {
		errs = append(errs, fmt.Sprintf("security.checksum.mode must be one of: off, verify, require (got %q)", cfg.Security.Checksum.Mode))
	}

	// ── Signature key source ──
	if cfg.Security.Signature.Enabled {
		if cfg.Security.Signature.JWKSFile == "" && cfg.Security.Signature.JWKSURL == "" {
			errs = append(errs, "security.signature: one of jwks_file or jwks_url is required when enabled")
		}
		if cfg.Security.Signature.JWKSFile != "" {
			if _, err := os.Stat(cfg.Security.Signature.JWKSFile); err != nil {
				errs = append(errs, fmt.Sprintf("security.signature.jwks_file: %v", err))
			}
		}
	}

	// ── Replay policy ──
	if !isValidReplayPolicy(cfg.Security.Replay.Policy) {
		errs = append(errs, fmt.Sprintf("security.replay.policy must be one of: warn, require (got %q)", cfg.Security.Replay.Policy))
	}
	if !isValidNonceSource(cfg.Security.Replay.NonceSource) {
		errs = append(errs, fmt.Sprintf("security.replay.nonce_source must be one of: auto, header, body-id, body-digest (got %q)", cfg.Security.Replay.NonceSource))
	}

	// ── Readiness mode ──
	if !isValidReadinessMode(cfg.Health.ReadinessMode) {
		errs = append(errs, fmt.Sprintf("health.readiness_mode must be one of: any_healthy, default_healthy, all_healthy (got %q)", cfg.Health.ReadinessMode))
	}

	// ── Sampling rates ──
	if cfg.Logging.Audit.SamplingRate < 0 || cfg.Logging.Audit.SamplingRate > 1.0 {
		errs = append(errs, fmt.Sprintf("logging.audit.sampling_rate must be between 0.0 and 1.0 (got %f)", cfg.Logging.Audit.SamplingRate))
	}
	if cfg.Logging.Audit.ErrorSamplingRate < 0 || cfg.Logging.Audit.ErrorSamplingRate > 1.0 {
		errs = append(errs, fmt.Sprintf("logging.audit.error_sampling_rate must be between 0.0 and 1.0 (got %f)", cfg.Logging.Audit.ErrorSamplingRate))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func isValidChecksumMode(m string) bool {
	switch m {
	case "off", "verify", "require":
		return true
	}
	return false
}

func isValidReplayPolicy(p string) bool {
	switch p {
	case "warn", "require":
		return true
	}
	return false
}

func isValidNonceSource(s string) bool {
	switch s {
	case "auto", "header", "body-id", "body-digest":
		return true
	}
	return false
}

func isValidReadinessMode(m string) bool {
	switch m {
	case "any_healthy", "default_healthy", "all_healthy":
		return true
	}
	return false
}
