package audit

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler()(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics endpoint: status %d", rec.Code)
	}
	return rec.Body.String()
}

func TestMetricsExposition(t *testing.T) {
	m := NewMetrics()

	m.RecordRequest("api", "POST", 200)
	m.RecordDuration("api", "POST", 42*time.Millisecond)
	m.RecordBodySize(512)
	m.BodyRejection("content_length")
	m.ChecksumVerification("ok")
	m.ChecksumVerification("mismatch")
	m.SignatureVerification("invalid")
	m.ReplayBlock()
	m.RateLimitHit()
	m.DigestComputed("sha256")
	m.SetUpstreamHealth("api", true)
	m.RecordConfigReload(true)
	m.SetConfigReloadTime(time.Now())
	m.SetBuildInfo("1.0.0", "go1.26")

	body := scrape(t, m)

	for _, want := range []string{
		`digestgate_requests_total{method="POST",status="200",upstream="api"} 1`,
		`digestgate_body_rejections_total{reason="content_length"} 1`,
		`digestgate_checksum_verifications_total{result="ok"} 1`,
		`digestgate_checksum_verifications_total{result="mismatch"} 1`,
		`digestgate_signature_verifications_total{result="invalid"} 1`,
		`digestgate_replay_blocks_total 1`,
		`digestgate_rate_limit_hits_total 1`,
		`digestgate_digest_computations_total{algorithm="sha256"} 1`,
		`digestgate_upstream_health{upstream="api"} 1`,
		`digestgate_config_reloads_total{result="success"} 1`,
		`digestgate_build_info{go_version="go1.26",version="1.0.0"} 1`,
		"# HELP digestgate_requests_total",
		"# TYPE digestgate_request_duration_seconds histogram",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}

func TestMetricsUnhealthyUpstreamIsZero(t *testing.T) {
	m := NewMetrics()
	m.SetUpstreamHealth("api", false)

	if !strings.Contains(scrape(t, m), `digestgate_upstream_health{upstream="api"} 0`) {
		t.Error("unhealthy upstream not exposed as 0")
	}
}

func TestStatusString(t *testing.T) {
	tests := map[int]string{
		200: "200",
		413: "413",
		409: "409",
		418: "418",
		0:   "0",
	}
	for code, want := range tests {
		if got := statusString(code); got != want {
			t.Errorf("statusString(%d) = %q, want %q", code, got, want)
		}
	}
}
