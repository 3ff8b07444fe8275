package audit

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics tracks gateway metrics and serves them in Prometheus text format.
// It uses a custom prometheus.Registry for isolation and testability,
// with proper histograms, HELP/TYPE annotations, and standard exposition format.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestBodySize prometheus.Histogram

	bodyRejections     *prometheus.CounterVec
	checksumResults    *prometheus.CounterVec
	signatureResults   *prometheus.CounterVec
	replayBlocks       prometheus.Counter
	rateLimitHits      prometheus.Counter
	digestComputations *prometheus.CounterVec

	upstreamHealth  *prometheus.GaugeVec
	upstreamLatency *prometheus.HistogramVec

	configReloads    *prometheus.CounterVec
	configReloadTime prometheus.Gauge
	buildInfo        *prometheus.GaugeVec
}

// NewMetrics creates a new Metrics collector with a custom Prometheus registry.
// All metric families are pre-registered with HELP and TYPE metadata.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,

		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "digestgate_requests_total",
			Help: "Total number of requests processed by the gateway.",
		}, []string{"upstream", "method", "status"}),

		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "digestgate_request_duration_seconds",
			Help:    "Request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"upstream", "method"}),

		requestBodySize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "digestgate_request_body_bytes",
			Help:    "Size of buffered request bodies in bytes.",
			Buckets: prometheus.ExponentialBuckets(256, 4, 10),
		}),

		bodyRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "digestgate_body_rejections_total",
			Help: "Total number of request bodies rejected before forwarding.",
		}, []string{"reason"}),

		checksumResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "digestgate_checksum_verifications_total",
			Help: "Total number of content checksum verifications by result.",
		}, []string{"result"}),

		signatureResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "digestgate_signature_verifications_total",
			Help: "Total number of content signature verifications by result.",
		}, []string{"result"}),

		replayBlocks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "digestgate_replay_blocks_total",
			Help: "Total number of requests blocked as replays.",
		}),

		rateLimitHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "digestgate_rate_limit_hits_total",
			Help: "Total number of requests rejected by the per-IP rate limiter.",
		}),

		digestComputations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "digestgate_digest_computations_total",
			Help: "Total number of body digest computations by algorithm.",
		}, []string{"algorithm"}),

		upstreamHealth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "digestgate_upstream_health",
			Help: "Health status of upstream backends (1=healthy, 0=unhealthy).",
		}, []string{"upstream"}),

		upstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "digestgate_upstream_latency_seconds",
			Help:    "Upstream response time in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"upstream"}),

		configReloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "digestgate_config_reloads_total",
			Help: "Total number of configuration reload attempts.",
		}, []string{"result"}),

		configReloadTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "digestgate_config_reload_timestamp_seconds",
			Help: "Unix timestamp of the last successful configuration reload.",
		}),

		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "digestgate_build_info",
			Help: "Build information about the digestgate binary. Value is always 1.",
		}, []string{"version", "go_version"}),
	}

	reg.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.requestBodySize,
		m.bodyRejections,
		m.checksumResults,
		m.signatureResults,
		m.replayBlocks,
		m.rateLimitHits,
		m.digestComputations,
		m.upstreamHealth,
		m.upstreamLatency,
		m.configReloads,
		m.configReloadTime,
		m.buildInfo,
	)

	return m
}

// RecordRequest increments the request counter for the given upstream, method, and status code.
func (m *Metrics) RecordRequest(upstream, method string, status int) {
	m.requestsTotal.WithLabelValues(upstream, method, statusString(status)).Inc()
}

// RecordDuration records request duration for the given upstream and method.
func (m *Metrics) RecordDuration(upstream, method string, d time.Duration) {
	m.requestDuration.WithLabelValues(upstream, method).Observe(d.Seconds())
}

// RecordBodySize records the size of a successfully buffered request body.
func (m *Metrics) RecordBodySize(n int64) {
	m.requestBodySize.Observe(float64(n))
}

// BodyRejection records a body rejected before forwarding.
// Reason is one of: "content_length", "buffering".
func (m *Metrics) BodyRejection(reason string) {
	m.bodyRejections.WithLabelValues(reason).Inc()
}

// ChecksumVerification records a checksum verification outcome.
// Result is one of: "ok", "mismatch", "missing", "malformed".
func (m *Metrics) ChecksumVerification(result string) {
	m.checksumResults.WithLabelValues(result).Inc()
}

// SignatureVerification records a content signature verification outcome.
// Result is one of: "ok", "invalid", "missing".
func (m *Metrics) SignatureVerification(result string) {
	m.signatureResults.WithLabelValues(result).Inc()
}

// ReplayBlock records a request blocked as a replay.
func (m *Metrics) ReplayBlock() {
	m.replayBlocks.Inc()
}

// RateLimitHit records a request rejected by the rate limiter.
func (m *Metrics) RateLimitHit() {
	m.rateLimitHits.Inc()
}

// DigestComputed records one body digest computation for the given algorithm.
func (m *Metrics) DigestComputed(algorithm string) {
	m.digestComputations.WithLabelValues(algorithm).Inc()
}

// SetUpstreamHealth sets upstream health. Pass true for healthy, false for unhealthy.
func (m *Metrics) SetUpstreamHealth(upstream string, healthy bool) {
	var val float64
	if healthy {
		val = 1
	}
	m.upstreamHealth.WithLabelValues(upstream).Set(val)
}

// RecordUpstreamLatency records upstream response time in seconds.
func (m *Metrics) RecordUpstreamLatency(upstream string, seconds float64) {
	m.upstreamLatency.WithLabelValues(upstream).Observe(seconds)
}

// RecordConfigReload records a configuration reload attempt.
// Pass true for a successful reload, false for a failure.
func (m *Metrics) RecordConfigReload(success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	m.configReloads.WithLabelValues(result).Inc()
}

// SetConfigReloadTime records the timestamp of the last configuration reload.
func (m *Metrics) SetConfigReloadTime(t time.Time) {
	m.configReloadTime.Set(float64(t.Unix()))
}

// SetBuildInfo sets the build information gauge. The gauge value is always 1;
// version and Go version are exposed as labels.
func (m *Metrics) SetBuildInfo(version, goVersion string) {
	m.buildInfo.WithLabelValues(version, goVersion).Set(1)
}

// Handler returns an HTTP handler that serves /metrics in Prometheus text format.
// The output includes proper HELP and TYPE annotations per the Prometheus exposition format.
func (m *Metrics) Handler() http.HandlerFunc {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return func(w http.ResponseWriter, r *http.Request) {
		h.ServeHTTP(w, r)
	}
}

// statusString converts an integer status code to its string representation.
func statusString(code int) string {
	// Avoid fmt.Sprintf for hot path performance
	switch code {
	case 200:
		return "200"
	case 400:
		return "400"
	case 401:
		return "401"
	case 404:
		return "404"
	case 409:
		return "409"
	case 413:
		return "413"
	case 429:
		return "429"
	case 500:
		return "500"
	case 502:
		return "502"
	case 503:
		return "503"
	default:
		return intToString(code)
	}
}

// intToString converts an integer to a string without fmt.Sprintf.
func intToString(n int) string {
	if n == 0 {
		return "0"
	}
	negative := n < 0
	if negative {
		n = -n
	}
	buf := make([]byte, 0, 5)
	for n > 0 {
		buf = append(buf, byte('0'+n%10))
		n /= 10
	}
	if negative {
		buf = append(buf, '-')
	}
	for i, j := 0, len(buf)-1; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}
	return string(buf)
}
