package security

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/digestgate/digestgate/internal/bodydigest"
	"github.com/digestgate/digestgate/internal/ctxkeys"
	gwerrors "github.com/digestgate/digestgate/internal/errors"
	"github.com/digestgate/digestgate/internal/jsonattr"
)

// Replay headers. The nonce header carries a caller-chosen unique value;
// the timestamp header is RFC3339 or a 10-digit Unix epoch.
const (
	nonceHeader     = "X-Digestgate-Nonce"
	timestampHeader = "X-Digestgate-Timestamp"
)

// NonceStore tracks request nonces for replay detection.
type NonceStore interface {
	// CheckAndStore returns true if the nonce is new (not seen before).
	// Returns false if it is a replay within the window.
	CheckAndStore(nonce string, timestamp time.Time) (isNew bool, err error)
}

// MemoryNonceStore is an in-memory NonceStore using sync.Map.
// It periodically evicts expired entries via a background goroutine.
type MemoryNonceStore struct {
	entries sync.Map // nonce string → time.Time (expiry)
	window  time.Duration
	done    chan struct{}
}

// NewMemoryNonceStore creates an in-memory nonce store with the given replay
// window. Cleanup starts immediately; call Stop to terminate it.
func NewMemoryNonceStore(window, cleanupInterval time.Duration) *MemoryNonceStore {
	s := &MemoryNonceStore{
		window: window,
		done:   make(chan struct{}),
	}
	go s.startCleanup(cleanupInterval)
	return s
}

// CheckAndStore checks whether the nonce has been seen within the replay
// window. Returns true if the nonce is new, false if it is a replay.
func (s *MemoryNonceStore) CheckAndStore(nonce string, timestamp time.Time) (bool, error) {
	expiry := timestamp.Add(s.window)

	if v, ok := s.entries.Load(nonce); ok {
		existingExpiry := v.(time.Time)
		if time.Now().Before(existingExpiry) {
			return false, nil
		}
		// Expired entry: treat as new, refresh expiry below.
	}

	s.entries.Store(nonce, expiry)
	return true, nil
}

func (s *MemoryNonceStore) startCleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			now := time.Now()
			s.entries.Range(func(key, value interface{}) bool {
				if now.After(value.(time.Time)) {
					s.entries.Delete(key)
				}
				return true
			})
		}
	}
}

// Stop stops the cleanup goroutine.
func (s *MemoryNonceStore) Stop() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

// ReplayDetectorConfig holds configuration for the ReplayDetector middleware.
type ReplayDetectorConfig struct {
	Window          time.Duration
	Policy          string // "warn" or "require"
	NonceSource     string // "auto", "header", "body-id", "body-digest"
	ClockSkew       time.Duration
	CleanupInterval time.Duration
}

// ReplayDetector detects replayed requests by tracking a per-request nonce
// within a configurable time window. The nonce can come from a header, the
// body's "id" attribute, or the body's SHA-256 digest (in which case any
// repeated content within the window counts as a replay).
type ReplayDetector struct {
	store       NonceStore
	policy      string
	nonceSource string
	window      time.Duration
	clockSkew   time.Duration
	metrics     MetricsRecorder
	logger      *slog.Logger
}

// NewReplayDetector creates a ReplayDetector with a MemoryNonceStore.
func NewReplayDetector(cfg ReplayDetectorConfig, metrics MetricsRecorder, logger *slog.Logger) *ReplayDetector {
	if logger == nil {
		logger = slog.Default()
	}
	nonceSource := cfg.NonceSource
	if nonceSource == "" {
		nonceSource = "auto"
	}
	return &ReplayDetector{
		store:       NewMemoryNonceStore(cfg.Window, cfg.CleanupInterval),
		policy:      cfg.Policy,
		nonceSource: nonceSource,
		window:      cfg.Window,
		clockSkew:   cfg.ClockSkew,
		metrics:     metrics,
		logger:      logger,
	}
}

// Process checks each mutating request for a replayed nonce. Behavior on
// replay depends on the policy: "warn" logs and passes through, "require"
// rejects with 409.
func (d *ReplayDetector) Process(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Idempotent methods are not replay candidates.
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}

		nonce, err := d.extractNonce(r)
		if err != nil {
			d.metrics.BodyRejection("buffering")
			WriteBufferError(w, err)
			return
		}
		if nonce == "" {
			// Nothing to key the replay check on.
			next.ServeHTTP(w, r)
			return
		}

		reqID, _ := ctxkeys.RequestIDFrom(r.Context())
		now := time.Now()
		ts := now
		if tsHeader := r.Header.Get(timestampHeader); tsHeader != "" {
			parsed, ok := parseTimestamp(tsHeader)
			if !ok {
				if d.reject(w) {
					return
				}
				next.ServeHTTP(w, r)
				return
			}
			diff := now.Sub(parsed)
			if diff < 0 {
				diff = -diff
			}
			if diff > d.window+d.clockSkew {
				d.logger.Warn("request timestamp outside allowed window",
					"timestamp", parsed,
					"diff", diff,
					"window", d.window,
					"clock_skew", d.clockSkew,
					"request_id", reqID,
				)
				if d.reject(w) {
					return
				}
				next.ServeHTTP(w, r)
				return
			}
			ts = parsed
		}

		isNew, err := d.store.CheckAndStore(nonce, ts)
		if err != nil {
			d.logger.Error("nonce store error", "error", err)
			next.ServeHTTP(w, r)
			return
		}
		if !isNew {
			d.logger.Warn("duplicate request nonce detected",
				"nonce", nonce,
				"policy", d.policy,
				"request_id", reqID,
			)
			if d.reject(w) {
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

// reject writes the replay error when the policy requires it. Returns true
// if the request was rejected.
func (d *ReplayDetector) reject(w http.ResponseWriter) bool {
	if d.policy != "require" {
		return false
	}
	d.metrics.ReplayBlock()
	gwerrors.WriteHTTPError(w, gwerrors.ErrReplayDetected)
	return true
}

// extractNonce resolves the nonce per the configured source. Body-derived
// sources buffer the body through the shared wrapper; buffering failures
// are returned to the caller for standard rejection handling.
func (d *ReplayDetector) extractNonce(r *http.Request) (string, error) {
	switch d.nonceSource {
	case "header":
		return r.Header.Get(nonceHeader), nil
	case "body-id":
		return d.bodyIDNonce(r)
	case "body-digest":
		return d.bodyDigestNonce(r)
	default: // "auto": header, then body id, then content digest
		if nonce := r.Header.Get(nonceHeader); nonce != "" {
			return nonce, nil
		}
		if nonce, err := d.bodyIDNonce(r); err != nil || nonce != "" {
			return nonce, err
		}
		return d.bodyDigestNonce(r)
	}
}

// bodyIDNonce extracts the body's "id" attribute as a typed nonce. String
// and numeric ids are namespaced so "42" and 42 do not collide.
func (d *ReplayDetector) bodyIDNonce(r *http.Request) (string, error) {
	wrapper, ok := ctxkeys.BodyWrapperFrom(r.Context())
	if !ok {
		return "", nil
	}
	if err := wrapper.Buffer(); err != nil {
		return "", err
	}
	rc, err := wrapper.Body()
	if err != nil {
		return "", err
	}
	body, err := io.ReadAll(rc)
	if err != nil {
		return "", err
	}
	if len(body) == 0 {
		return "", nil
	}

	if s, ok := jsonattr.StringAttr(body, "id"); ok {
		return "s:" + s, nil
	}
	if n, ok := jsonattr.Int64Attr(body, "id"); ok {
		return fmt.Sprintf("n:%d", n), nil
	}
	return "", nil
}

// bodyDigestNonce uses the body's SHA-256 digest as the nonce, so repeated
// identical content within the window is flagged.
func (d *ReplayDetector) bodyDigestNonce(r *http.Request) (string, error) {
	wrapper, ok := ctxkeys.BodyWrapperFrom(r.Context())
	if !ok {
		return "", nil
	}
	hexDigest, err := wrapper.HexDigest(bodydigest.SHA256)
	if err != nil {
		return "", err
	}
	if hexDigest == "" {
		return "", nil
	}
	return "d:" + hexDigest, nil
}

// parseTimestamp parses the timestamp header as RFC3339 or a 10-digit Unix epoch.
func parseTimestamp(s string) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	if len(s) == 10 {
		var epoch int64
		for _, c := range s {
			if c < '0' || c > '9' {
				return time.Time{}, false
			}
			epoch = epoch*10 + int64(c-'0')
		}
		return time.Unix(epoch, 0), true
	}
	return time.Time{}, false
}

// Name returns the middleware name.
func (d *ReplayDetector) Name() string {
	return "replay_detector"
}

// Stop cleans up the nonce store's background goroutine.
func (d *ReplayDetector) Stop() {
	if ms, ok := d.store.(*MemoryNonceStore); ok {
		ms.Stop()
	}
}
