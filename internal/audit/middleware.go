package audit

import (
	"net/http"
	"time"

	"github.com/digestgate/digestgate/internal/ctxkeys"
	"github.com/digestgate/digestgate/internal/security"
)

// Auditor is the outermost middleware: it seeds an AuditEntry into the
// request context, lets the pipeline and proxy fill it in, then records
// metrics and writes the audit log line once the response is complete.
type Auditor struct {
	logger  *Logger
	metrics *Metrics
	proxies []string
}

// NewAuditor creates the audit middleware. trustedProxies is used for
// client IP extraction, matching the rate limiter's view of the client.
func NewAuditor(logger *Logger, metrics *Metrics, trustedProxies []string) *Auditor {
	return &Auditor{logger: logger, metrics: metrics, proxies: trustedProxies}
}

// statusRecorder captures the response status code.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// Middleware wraps a handler with audit logging and request metrics.
func (a *Auditor) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		entry := &ctxkeys.AuditEntry{
			Method:    r.Method,
			Path:      r.URL.Path,
			ClientIP:  security.TrustedClientIP(r.RemoteAddr, r.Header.Get("X-Forwarded-For"), a.proxies),
			StartTime: time.Now(),
		}
		ctx := ctxkeys.WithAuditEntry(r.Context(), entry)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r.WithContext(ctx))

		// The request ID middleware runs inside this one; pick the ID up
		// from the response header it sets.
		entry.RequestID = rec.Header().Get("X-Request-Id")
		entry.Status = statusClass(rec.status)
		// BodyBytes is filled by the proxy, which holds the body wrapper.
		if entry.BodyBytes > 0 {
			a.metrics.RecordBodySize(entry.BodyBytes)
		}

		a.metrics.RecordRequest(entry.Upstream, entry.Method, rec.status)
		a.metrics.RecordDuration(entry.Upstream, entry.Method, time.Since(entry.StartTime))
		a.logger.LogRequest(ctx)
	})
}

// statusClass maps an HTTP status to the audit status taxonomy.
func statusClass(code int) string {
	switch {
	case code >= 500:
		return "error"
	case code >= 400:
		return "blocked"
	default:
		return "ok"
	}
}
