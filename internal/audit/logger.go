// Package audit provides structured audit logging and Prometheus metrics
// for the request verification pipeline.
package audit

import (
	"context"
	"log/slog"

	"github.com/digestgate/digestgate/internal/ctxkeys"
)

// Logger writes one structured audit record per request.
type Logger struct {
	slogger  *slog.Logger
	sampling SamplingConfig
}

// NewLogger creates an audit logger with the given sampling configuration.
func NewLogger(slogger *slog.Logger, sampling SamplingConfig) *Logger {
	return &Logger{slogger: slogger, sampling: sampling}
}

// LogRequest logs the audit entry accumulated in the request context.
func (l *Logger) LogRequest(ctx context.Context) {
	entry, ok := ctxkeys.AuditEntryFrom(ctx)
	if !ok {
		return
	}

	if !l.sampling.ShouldLog(entry.Status) {
		return
	}

	attrs := []slog.Attr{
		slog.String("request_id", entry.RequestID),
		slog.Group("http",
			slog.String("method", entry.Method),
			slog.String("path", entry.Path),
			slog.String("client_ip", entry.ClientIP),
		),
		slog.Group("gateway",
			slog.String("upstream", entry.Upstream),
			slog.String("status", entry.Status),
			slog.String("block_reason", entry.BlockReason),
			slog.Int64("body_bytes", entry.BodyBytes),
			slog.Time("start_time", entry.StartTime),
		),
	}

	l.slogger.LogAttrs(ctx, slog.LevelInfo, "audit", attrs...)
}

// TruncateBody truncates body content for logging if it exceeds maxSize.
func TruncateBody(body []byte, maxSize int) string {
	if len(body) <= maxSize {
		return string(body)
	}
	return string(body[:maxSize]) + "...(truncated)"
}
