package security

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/digestgate/digestgate/internal/ctxkeys"
)

// requestIDHeader carries the caller-supplied request ID, when present.
const requestIDHeader = "X-Request-Id"

// RequestID assigns each request a unique ID, honoring a caller-supplied
// X-Request-Id when present. The ID is stored in the request context and
// echoed on the response so clients can correlate audit entries.
type RequestID struct{}

// NewRequestID creates the request ID middleware.
func NewRequestID() *RequestID {
	return &RequestID{}
}

// Process installs the request ID into the context and response headers.
func (m *RequestID) Process(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		ctx := ctxkeys.WithRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Name returns the middleware name.
func (m *RequestID) Name() string {
	return "request_id"
}
