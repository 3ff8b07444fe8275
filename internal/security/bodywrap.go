package security

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/dustin/go-humanize"

	"github.com/digestgate/digestgate/internal/bodydigest"
	"github.com/digestgate/digestgate/internal/ctxkeys"
	gwerrors "github.com/digestgate/digestgate/internal/errors"
)

// BodyWrapper installs a bodydigest.Wrapper around each request body so
// downstream verifiers and the proxy share one buffered copy. Buffering is
// lazy: the body is only materialized when a verifier asks for a digest or
// the proxy asks for a replayable reader.
type BodyWrapper struct {
	maxSize int64
	metrics MetricsRecorder
	logger  *slog.Logger
}

// NewBodyWrapper creates the body wrapping middleware. maxSize is the
// largest body, in bytes, that will be buffered; larger bodies are
// rejected with 413 when buffering is attempted.
func NewBodyWrapper(maxSize int64, metrics MetricsRecorder, logger *slog.Logger) *BodyWrapper {
	if logger == nil {
		logger = slog.Default()
	}
	return &BodyWrapper{maxSize: maxSize, metrics: metrics, logger: logger}
}

// Process wraps the request body and rejects requests whose declared
// Content-Length already exceeds the limit, without reading anything.
func (m *BodyWrapper) Process(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > m.maxSize {
			m.metrics.BodyRejection("content_length")
			reqID, _ := ctxkeys.RequestIDFrom(r.Context())
			m.logger.Warn("request body rejected by declared length",
				"content_length", r.ContentLength,
				"limit", m.maxSize,
				"request_id", reqID,
			)
			WriteBufferError(w, &bodydigest.SizeError{Limit: m.maxSize})
			return
		}

		wrapper := bodydigest.Wrap(r.Body, m.maxSize)
		ctx := ctxkeys.WithBodyWrapper(r.Context(), wrapper)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Name returns the middleware name.
func (m *BodyWrapper) Name() string {
	return "body_wrapper"
}

// WriteBufferError maps a body buffering failure to the right HTTP error:
// size violations become 413 with a limit hint, anything else becomes 400.
func WriteBufferError(w http.ResponseWriter, err error) {
	var sizeErr *bodydigest.SizeError
	if errors.As(err, &sizeErr) {
		e := *gwerrors.ErrPayloadTooLarge
		e.Hint = fmt.Sprintf("Request body exceeds the %s limit. Reduce the payload size.", humanize.IBytes(uint64(sizeErr.Limit)))
		gwerrors.WriteHTTPError(w, &e)
		return
	}
	gwerrors.WriteHTTPError(w, gwerrors.ErrBodyRead)
}
