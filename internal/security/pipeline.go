// Package security implements the request verification middleware pipeline.
//
// Pipeline order: RequestID, IPRateLimiter, BodyWrapper, ChecksumVerifier,
// ContentSignatureVerifier, ReplayDetector. Each step is an independent
// Middleware so the pipeline can be assembled from configuration.
package security

import (
	"log/slog"
	"net/http"

	"github.com/digestgate/digestgate/internal/config"
)

// Middleware is a verification step in the pipeline.
type Middleware interface {
	Process(next http.Handler) http.Handler
	Name() string
}

// MetricsRecorder receives verification outcomes for metrics collection.
// The audit package provides the Prometheus-backed implementation.
type MetricsRecorder interface {
	BodyRejection(reason string)
	ChecksumVerification(result string)
	SignatureVerification(result string)
	ReplayBlock()
	RateLimitHit()
	DigestComputed(algorithm string)
}

// nopRecorder discards all observations.
type nopRecorder struct{}

func (nopRecorder) BodyRejection(string)         {}
func (nopRecorder) ChecksumVerification(string)  {}
func (nopRecorder) SignatureVerification(string) {}
func (nopRecorder) ReplayBlock()                 {}
func (nopRecorder) RateLimitHit()                {}
func (nopRecorder) DigestComputed(string)        {}

// NopRecorder returns a MetricsRecorder that discards everything.
func NopRecorder() MetricsRecorder { return nopRecorder{} }

// BuildPipeline constructs the ordered middleware chain from config.
// Identification and rate limiting run first, then the body is wrapped
// for buffering, then the content verifiers that depend on digests.
func BuildPipeline(cfg *config.Config, logger *slog.Logger, metrics MetricsRecorder) ([]Middleware, error) {
	if metrics == nil {
		metrics = NopRecorder()
	}

	mws := []Middleware{NewRequestID()}

	if cfg.Security.RateLimit.Enabled && cfg.Security.RateLimit.PerIP > 0 {
		mws = append(mws, NewIPRateLimiter(
			cfg.Security.RateLimit.PerIP,
			cfg.Security.RateLimit.Burst,
			cfg.Security.RateLimit.CleanupInterval.Duration,
			cfg.Listen.TrustedProxies,
			metrics,
		))
	}

	mws = append(mws, NewBodyWrapper(cfg.Body.MaxSize, metrics, logger))

	if cfg.Security.Checksum.Mode != "off" {
		mws = append(mws, NewChecksumVerifier(cfg.Security.Checksum.Mode, metrics, logger))
	}

	if cfg.Security.Signature.Enabled {
		sv, err := NewContentSignatureVerifier(ContentSignatureConfig{
			Header:   cfg.Security.Signature.Header,
			Require:  cfg.Security.Signature.Require,
			JWKSFile: cfg.Security.Signature.JWKSFile,
			JWKSURL:  cfg.Security.Signature.JWKSURL,
		}, metrics, logger)
		if err != nil {
			return nil, err
		}
		mws = append(mws, sv)
	}

	if cfg.Security.Replay.Enabled {
		mws = append(mws, NewReplayDetector(ReplayDetectorConfig{
			Window:          cfg.Security.Replay.Window.Duration,
			Policy:          cfg.Security.Replay.Policy,
			NonceSource:     cfg.Security.Replay.NonceSource,
			ClockSkew:       cfg.Security.Replay.ClockSkew.Duration,
			CleanupInterval: cfg.Security.Replay.CleanupInterval.Duration,
		}, metrics, logger))
	}

	return mws, nil
}

// ApplyPipeline wraps a handler with all middleware in order.
// Apply in reverse order so the first middleware executes first.
func ApplyPipeline(handler http.Handler, middlewares []Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i].Process(handler)
	}
	return handler
}

// StopAll stops any middleware with background goroutines.
func StopAll(middlewares []Middleware) {
	for _, mw := range middlewares {
		if s, ok := mw.(interface{ Stop() }); ok {
			s.Stop()
		}
	}
}
