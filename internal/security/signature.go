package security

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"

	"github.com/digestgate/digestgate/internal/bodydigest"
	"github.com/digestgate/digestgate/internal/ctxkeys"
	gwerrors "github.com/digestgate/digestgate/internal/errors"
)

// ContentSignatureConfig holds detached content-signature settings.
type ContentSignatureConfig struct {
	// Header names the request header carrying the detached JWS.
	Header string
	// Require rejects requests with a body but no signature header.
	Require bool
	// JWKSFile is a path to a local JWKS document with trusted keys.
	JWKSFile string
	// JWKSURL is a remote JWKS endpoint, refreshed via the jwk cache.
	JWKSURL string
}

// ContentSignatureVerifier verifies a detached JWS over the request content.
//
// The signature header carries a compact JWS with an empty payload section
// (header..signature). The detached payload is the lowercase hex SHA-256
// digest of the request body, binding the signature to the exact bytes the
// gateway buffered.
type ContentSignatureVerifier struct {
	cfg     ContentSignatureConfig
	fileSet jwk.Set
	cache   *jwk.Cache
	metrics MetricsRecorder
	logger  *slog.Logger
}

// NewContentSignatureVerifier creates the signature verification middleware,
// loading the JWKS file eagerly so a bad key file fails at startup.
func NewContentSignatureVerifier(cfg ContentSignatureConfig, metrics MetricsRecorder, logger *slog.Logger) (*ContentSignatureVerifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	v := &ContentSignatureVerifier{cfg: cfg, metrics: metrics, logger: logger}

	if cfg.JWKSFile != "" {
		set, err := jwk.ReadFile(cfg.JWKSFile)
		if err != nil {
			return nil, fmt.Errorf("loading JWKS file %q: %w", cfg.JWKSFile, err)
		}
		v.fileSet = set
	}
	return v, nil
}

// StartCache initializes the remote JWKS auto-refresh cache, if a URL is
// configured. Safe to skip when only a key file is used.
func (v *ContentSignatureVerifier) StartCache(ctx context.Context) error {
	if v.cfg.JWKSURL == "" {
		return nil
	}
	c := jwk.NewCache(ctx)
	if err := c.Register(v.cfg.JWKSURL); err != nil {
		return fmt.Errorf("registering JWKS URL %s: %w", v.cfg.JWKSURL, err)
	}
	v.cache = c
	return nil
}

// Process verifies the detached content signature when present.
func (m *ContentSignatureVerifier) Process(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wrapper, ok := ctxkeys.BodyWrapperFrom(r.Context())
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		sig := strings.TrimSpace(r.Header.Get(m.cfg.Header))
		if sig == "" {
			if m.cfg.Require && requestHasBody(r) {
				m.metrics.SignatureVerification("missing")
				gwerrors.WriteHTTPError(w, gwerrors.ErrSignatureRequired)
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		hexDigest, err := wrapper.HexDigest(bodydigest.SHA256)
		if err != nil {
			m.metrics.BodyRejection("buffering")
			WriteBufferError(w, err)
			return
		}
		// A signature over no content is meaningless; reject rather than
		// verify against an empty payload.
		if hexDigest == "" {
			m.metrics.SignatureVerification("invalid")
			gwerrors.WriteHTTPError(w, gwerrors.ErrSignatureInvalid)
			return
		}
		m.metrics.DigestComputed(string(bodydigest.SHA256))

		if err := m.verify(r.Context(), []byte(sig), []byte(hexDigest)); err != nil {
			m.metrics.SignatureVerification("invalid")
			reqID, _ := ctxkeys.RequestIDFrom(r.Context())
			m.logger.Warn("content signature verification failed",
				"error", err,
				"request_id", reqID,
			)
			gwerrors.WriteHTTPError(w, gwerrors.ErrSignatureInvalid)
			return
		}

		m.metrics.SignatureVerification("ok")
		next.ServeHTTP(w, r)
	})
}

// verify checks the detached JWS against every configured key source.
func (m *ContentSignatureVerifier) verify(ctx context.Context, signature, payload []byte) error {
	if m.fileSet != nil {
		_, err := jws.Verify(signature,
			jws.WithKeySet(m.fileSet, jws.WithInferAlgorithmFromKey(true)),
			jws.WithDetachedPayload(payload),
		)
		if err == nil {
			return nil
		}
		if m.cache == nil {
			return err
		}
	}

	if m.cache != nil {
		set, err := m.cache.Get(ctx, m.cfg.JWKSURL)
		if err != nil {
			return fmt.Errorf("fetching JWKS: %w", err)
		}
		_, err = jws.Verify(signature,
			jws.WithKeySet(set, jws.WithInferAlgorithmFromKey(true)),
			jws.WithDetachedPayload(payload),
		)
		return err
	}

	return fmt.Errorf("no trusted keys configured")
}

// Name returns the middleware name.
func (m *ContentSignatureVerifier) Name() string {
	return "content_signature_verifier"
}
