// Package proxy forwards verified requests to their routed upstream.
// It uses http.Client directly instead of httputil.ReverseProxy to keep
// full control over header management and body replay.
package proxy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/digestgate/digestgate/internal/ctxkeys"
	gwerrors "github.com/digestgate/digestgate/internal/errors"
	"github.com/digestgate/digestgate/internal/security"
	"github.com/digestgate/digestgate/internal/upstream"
)

// LatencyRecorder receives upstream response times for metrics.
type LatencyRecorder interface {
	RecordUpstreamLatency(upstream string, seconds float64)
}

type nopLatency struct{}

func (nopLatency) RecordUpstreamLatency(string, float64) {}

// Forwarder is the terminal handler of the pipeline: it routes the request
// to an upstream and forwards it with the verified body.
type Forwarder struct {
	registry *upstream.Registry
	client   *http.Client
	metrics  LatencyRecorder
	logger   *slog.Logger
}

// NewForwarder creates a Forwarder over the given registry and transport.
func NewForwarder(registry *upstream.Registry, transport http.RoundTripper, metrics LatencyRecorder, logger *slog.Logger) *Forwarder {
	if transport == nil {
		transport = NewHTTPTransport()
	}
	if metrics == nil {
		metrics = nopLatency{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Forwarder{
		registry: registry,
		client:   &http.Client{Transport: transport},
		metrics:  metrics,
		logger:   logger,
	}
}

// ServeHTTP routes and forwards one request.
func (f *Forwarder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	entry, _ := ctxkeys.AuditEntryFrom(r.Context())

	target, err := f.registry.Route(r)
	if err != nil {
		var gwErr *gwerrors.GatewayError
		if !errors.As(err, &gwErr) {
			gwErr = gwerrors.ErrNoUpstream
		}
		if entry != nil {
			entry.BlockReason = "no_route"
		}
		gwerrors.WriteHTTPError(w, gwErr)
		return
	}
	if entry != nil {
		entry.Upstream = target.Name
	}

	body, contentLength, err := f.requestBody(r)
	if err != nil {
		if entry != nil {
			entry.BlockReason = "body_buffering"
		}
		security.WriteBufferError(w, err)
		return
	}
	if entry != nil && contentLength >= 0 {
		entry.BodyBytes = contentLength
	}

	ctx := r.Context()
	if target.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, target.Timeout)
		defer cancel()
	}

	backendReq, err := f.buildBackendRequest(ctx, r, target, body, contentLength)
	if err != nil {
		gwerrors.WriteHTTPError(w, gwerrors.ErrUpstreamUnavailable)
		f.logger.Error("building backend request", "error", err, "upstream", target.Name)
		return
	}

	start := time.Now()
	resp, err := f.client.Do(backendReq)
	f.metrics.RecordUpstreamLatency(target.Name, time.Since(start).Seconds())
	if err != nil {
		if entry != nil {
			entry.BlockReason = "upstream_error"
		}
		gwerrors.WriteHTTPError(w, gwerrors.ErrUpstreamUnavailable)
		f.logger.Warn("backend request failed", "error", err, "upstream", target.Name)
		return
	}
	defer resp.Body.Close()

	CopyHeadersFiltered(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		f.logger.Warn("copying backend response", "error", err, "upstream", target.Name)
	}
}

// requestBody returns the body to forward. When the body was buffered for
// verification, a fresh replay reader is used so the upstream receives the
// exact verified bytes; otherwise the original stream passes through.
// contentLength is -1 when unknown.
func (f *Forwarder) requestBody(r *http.Request) (io.ReadCloser, int64, error) {
	wrapper, ok := ctxkeys.BodyWrapperFrom(r.Context())
	if !ok {
		return r.Body, r.ContentLength, nil
	}
	body, err := wrapper.Body()
	if err != nil {
		return nil, -1, err
	}
	if n, buffered := wrapper.Len(); buffered {
		return body, n, nil
	}
	return body, r.ContentLength, nil
}

// buildBackendRequest assembles the outbound request: path and query
// preserved, hop-by-hop and gateway-internal headers stripped, forwarding
// headers set.
func (f *Forwarder) buildBackendRequest(ctx context.Context, r *http.Request, target *upstream.Upstream, body io.ReadCloser, contentLength int64) (*http.Request, error) {
	backendURL := target.URL + r.URL.Path
	if r.URL.RawQuery != "" {
		backendURL += "?" + r.URL.RawQuery
	}

	backendReq, err := http.NewRequestWithContext(ctx, r.Method, backendURL, body)
	if err != nil {
		return nil, err
	}
	if contentLength >= 0 {
		backendReq.ContentLength = contentLength
	}

	CopyHeadersFiltered(backendReq.Header, r.Header)

	// Gateway-internal headers never reach the upstream.
	for key := range backendReq.Header {
		if strings.HasPrefix(strings.ToLower(key), "x-digestgate-") {
			backendReq.Header.Del(key)
		}
	}

	clientIP := remoteIP(r)
	if prior := r.Header.Get("X-Forwarded-For"); prior != "" {
		backendReq.Header.Set("X-Forwarded-For", prior+", "+clientIP)
	} else {
		backendReq.Header.Set("X-Forwarded-For", clientIP)
	}

	proto := "http"
	if r.TLS != nil {
		proto = "https"
	}
	backendReq.Header.Set("X-Forwarded-Proto", proto)

	return backendReq, nil
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
