package security

import (
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/digestgate/digestgate/internal/bodydigest"
	"github.com/digestgate/digestgate/internal/ctxkeys"
	gwerrors "github.com/digestgate/digestgate/internal/errors"
	"github.com/digestgate/digestgate/internal/strutil"
)

// Checksum headers recognized by the verifier. Content-MD5 (RFC 1864)
// carries a single base64 MD5 value; Digest (RFC 3230) carries
// comma-delimited algorithm=base64 pairs.
const (
	contentMD5Header = "Content-Md5"
	digestHeader     = "Digest"
)

// digestTokens maps RFC 3230 algorithm tokens (lowercased) to digest
// algorithms. "sha" is the RFC 3230 token for SHA-1.
var digestTokens = map[string]bodydigest.Algorithm{
	"md5":     bodydigest.MD5,
	"sha":     bodydigest.SHA1,
	"sha-1":   bodydigest.SHA1,
	"sha-256": bodydigest.SHA256,
}

// ChecksumVerifier validates client-declared content checksums against
// digests of the buffered body.
//
// Modes: "verify" checks checksums only when a header is present;
// "require" additionally rejects requests that carry a body but no
// checksum header.
type ChecksumVerifier struct {
	mode    string
	metrics MetricsRecorder
	logger  *slog.Logger
}

// NewChecksumVerifier creates the checksum verification middleware.
func NewChecksumVerifier(mode string, metrics MetricsRecorder, logger *slog.Logger) *ChecksumVerifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChecksumVerifier{mode: mode, metrics: metrics, logger: logger}
}

// Process verifies Content-MD5 and Digest headers against the body.
func (m *ChecksumVerifier) Process(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wrapper, ok := ctxkeys.BodyWrapperFrom(r.Context())
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		reqID, _ := ctxkeys.RequestIDFrom(r.Context())

		claims, parseErr := parseChecksumClaims(r.Header)
		if parseErr != nil {
			m.metrics.ChecksumVerification("malformed")
			m.logger.Warn("malformed checksum header",
				"error", parseErr,
				"request_id", reqID,
			)
			gwerrors.WriteHTTPError(w, gwerrors.ErrChecksumMismatch)
			return
		}

		if len(claims) == 0 {
			if m.mode == "require" && requestHasBody(r) {
				m.metrics.ChecksumVerification("missing")
				gwerrors.WriteHTTPError(w, gwerrors.ErrChecksumRequired)
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		for alg, expected := range claims {
			actual, err := wrapper.Digest(alg)
			if err != nil {
				m.metrics.BodyRejection("buffering")
				WriteBufferError(w, err)
				return
			}
			if actual != nil {
				m.metrics.DigestComputed(string(alg))
			}
			// A body-less request can never satisfy a checksum claim:
			// there is no digest of nothing.
			if actual == nil || subtle.ConstantTimeCompare(actual, expected) != 1 {
				m.metrics.ChecksumVerification("mismatch")
				m.logger.Warn("content checksum mismatch",
					"algorithm", string(alg),
					"request_id", reqID,
				)
				gwerrors.WriteHTTPError(w, gwerrors.ErrChecksumMismatch)
				return
			}
		}

		m.metrics.ChecksumVerification("ok")
		next.ServeHTTP(w, r)
	})
}

// Name returns the middleware name.
func (m *ChecksumVerifier) Name() string {
	return "checksum_verifier"
}

// parseChecksumClaims collects checksum claims from the Content-MD5 and
// Digest headers. Unknown Digest tokens are ignored per RFC 3230; a value
// that is not valid base64 is an error.
func parseChecksumClaims(h http.Header) (map[bodydigest.Algorithm][]byte, error) {
	claims := make(map[bodydigest.Algorithm][]byte)

	if v := h.Get(contentMD5Header); v != "" {
		raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("Content-MD5: %w", err)
		}
		claims[bodydigest.MD5] = raw
	}

	if v := h.Get(digestHeader); v != "" {
		for token, encoded := range strutil.CommaDelimitedStringToMap(v) {
			alg, ok := digestTokens[strings.ToLower(token)]
			if !ok {
				continue
			}
			raw, err := base64.StdEncoding.DecodeString(encoded)
			if err != nil {
				return nil, fmt.Errorf("Digest %s: %w", token, err)
			}
			claims[alg] = raw
		}
	}

	if len(claims) == 0 {
		return nil, nil
	}
	return claims, nil
}

// requestHasBody reports whether the request plausibly carries a body.
// Content-Length -1 (chunked) counts as having one.
func requestHasBody(r *http.Request) bool {
	return r.ContentLength != 0
}
