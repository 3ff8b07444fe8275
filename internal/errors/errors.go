// Package errors defines the gateway's typed error values. Every error
// carries a Hint for operator guidance and a DocsURL for reference.
package errors

import "fmt"

// GatewayError is the base error type for all digestgate errors.
type GatewayError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
	DocsURL string `json:"docs_url,omitempty"`
}

// Error implements the error interface.
func (e *GatewayError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("[%d] %s (hint: %s)", e.Code, e.Message, e.Hint)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// Predefined errors.
var (
	ErrPayloadTooLarge     = &GatewayError{Code: 413, Message: "Request body too large", Hint: "Reduce the request payload or raise body.max_size in digestgate.yaml", DocsURL: "https://digestgate.dev/docs/body-limit"}
	ErrBodyRead            = &GatewayError{Code: 400, Message: "Failed to read request body", Hint: "The connection was interrupted while the body was being received", DocsURL: "https://digestgate.dev/docs/body-limit"}
	ErrChecksumMismatch    = &GatewayError{Code: 400, Message: "Content checksum mismatch", Hint: "The Content-MD5 or Digest header does not match the received body", DocsURL: "https://digestgate.dev/docs/checksums"}
	ErrChecksumRequired    = &GatewayError{Code: 400, Message: "Content checksum required", Hint: "Send a Content-MD5 or Digest header with the request", DocsURL: "https://digestgate.dev/docs/checksums"}
	ErrSignatureInvalid    = &GatewayError{Code: 401, Message: "Invalid content signature", Hint: "The X-Content-Signature JWS did not verify against the body digest", DocsURL: "https://digestgate.dev/docs/signatures"}
	ErrSignatureRequired   = &GatewayError{Code: 401, Message: "Content signature required", Hint: "Send a detached JWS over the body SHA-256 in X-Content-Signature", DocsURL: "https://digestgate.dev/docs/signatures"}
	ErrReplayDetected      = &GatewayError{Code: 409, Message: "Replay detected", Hint: "Request content was already seen within the replay window; use a unique request id", DocsURL: "https://digestgate.dev/docs/replay"}
	ErrRateLimited         = &GatewayError{Code: 429, Message: "Rate limit exceeded", Hint: "Wait before retrying. Configure security.rate_limit in digestgate.yaml", DocsURL: "https://digestgate.dev/docs/rate-limit"}
	ErrInvalidRequest      = &GatewayError{Code: 400, Message: "Invalid request", Hint: "Check the request format against the upstream API documentation", DocsURL: "https://digestgate.dev/docs/requests"}
	ErrNoUpstream          = &GatewayError{Code: 404, Message: "No matching upstream", Hint: "Check the request path against upstreams[].prefix or set a default upstream", DocsURL: "https://digestgate.dev/docs/upstreams"}
	ErrUpstreamUnavailable = &GatewayError{Code: 502, Message: "Upstream unavailable", Hint: "Check upstream health with GET /readyz", DocsURL: "https://digestgate.dev/docs/upstreams"}
)
