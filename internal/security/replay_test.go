package security

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func replayChain(cfg ReplayDetectorConfig, metrics MetricsRecorder) (http.Handler, *ReplayDetector, *okHandler) {
	final := &okHandler{}
	bw := NewBodyWrapper(1024, metrics, testLogger())
	rd := NewReplayDetector(cfg, metrics, testLogger())
	return ApplyPipeline(final, []Middleware{bw, rd}), rd, final
}

func defaultReplayConfig() ReplayDetectorConfig {
	return ReplayDetectorConfig{
		Window:          5 * time.Minute,
		Policy:          "require",
		NonceSource:     "auto",
		ClockSkew:       30 * time.Second,
		CleanupInterval: time.Minute,
	}
}

func TestReplayHeaderNonceDuplicateRejected(t *testing.T) {
	metrics := newCountingRecorder()
	h, rd, _ := replayChain(defaultReplayConfig(), metrics)
	defer rd.Stop()

	mkReq := func() *http.Request {
		req := postWithBody("payload")
		req.Header.Set("X-Digestgate-Nonce", "nonce-1")
		return req
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, mkReq())
	if rec.Code != http.StatusOK {
		t.Fatalf("first request: status %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, mkReq())
	if rec.Code != http.StatusConflict {
		t.Fatalf("replayed request: status %d, want 409", rec.Code)
	}
	if metrics.replays != 1 {
		t.Errorf("replay blocks = %d", metrics.replays)
	}
}

func TestReplayWarnPolicyPassesDuplicates(t *testing.T) {
	cfg := defaultReplayConfig()
	cfg.Policy = "warn"
	h, rd, final := replayChain(cfg, newCountingRecorder())
	defer rd.Stop()

	for i := 0; i < 2; i++ {
		req := postWithBody("payload")
		req.Header.Set("X-Digestgate-Nonce", "nonce-1")
		rec := httptest.NewRecorder()
		final.called = false
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK || !final.called {
			t.Fatalf("request %d: status %d, called %v", i, rec.Code, final.called)
		}
	}
}

func TestReplayBodyIDNonce(t *testing.T) {
	cfg := defaultReplayConfig()
	cfg.NonceSource = "body-id"
	h, rd, _ := replayChain(cfg, newCountingRecorder())
	defer rd.Stop()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, postWithBody(`{"id":"req-7","data":"a"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("first request: status %d", rec.Code)
	}

	// Same id, different payload: still a replay.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, postWithBody(`{"id":"req-7","data":"b"}`))
	if rec.Code != http.StatusConflict {
		t.Fatalf("same-id request: status %d, want 409", rec.Code)
	}

	// Fresh id passes.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, postWithBody(`{"id":"req-8","data":"a"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("fresh-id request: status %d", rec.Code)
	}
}

func TestReplayStringAndNumericIDsDoNotCollide(t *testing.T) {
	cfg := defaultReplayConfig()
	cfg.NonceSource = "body-id"
	h, rd, _ := replayChain(cfg, newCountingRecorder())
	defer rd.Stop()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, postWithBody(`{"id":"42"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("string id: status %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, postWithBody(`{"id":42}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("numeric id: status %d", rec.Code)
	}
}

func TestReplayAutoFallsBackToContentDigest(t *testing.T) {
	h, rd, _ := replayChain(defaultReplayConfig(), newCountingRecorder())
	defer rd.Stop()

	// No nonce header, no JSON id: identical content within the window
	// counts as a replay.
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, postWithBody("opaque payload"))
	if rec.Code != http.StatusOK {
		t.Fatalf("first request: status %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, postWithBody("opaque payload"))
	if rec.Code != http.StatusConflict {
		t.Fatalf("identical content: status %d, want 409", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, postWithBody("different payload"))
	if rec.Code != http.StatusOK {
		t.Fatalf("different content: status %d", rec.Code)
	}
}

func TestReplayIgnoresIdempotentMethods(t *testing.T) {
	h, rd, final := replayChain(defaultReplayConfig(), newCountingRecorder())
	defer rd.Stop()

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Digestgate-Nonce", "nonce-1")
		rec := httptest.NewRecorder()
		final.called = false
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK || !final.called {
			t.Fatalf("GET %d: status %d", i, rec.Code)
		}
	}
}

func TestReplayStaleTimestampRejected(t *testing.T) {
	h, rd, _ := replayChain(defaultReplayConfig(), newCountingRecorder())
	defer rd.Stop()

	req := postWithBody("payload")
	req.Header.Set("X-Digestgate-Nonce", "nonce-1")
	req.Header.Set("X-Digestgate-Timestamp", time.Now().Add(-time.Hour).Format(time.RFC3339))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("stale timestamp: status %d, want 409", rec.Code)
	}
}

func TestReplayInvalidTimestampRejectedWhenRequired(t *testing.T) {
	h, rd, _ := replayChain(defaultReplayConfig(), newCountingRecorder())
	defer rd.Stop()

	req := postWithBody("payload")
	req.Header.Set("X-Digestgate-Nonce", "nonce-1")
	req.Header.Set("X-Digestgate-Timestamp", "not a time")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("invalid timestamp: status %d, want 409", rec.Code)
	}
}

func TestReplayUnixEpochTimestampAccepted(t *testing.T) {
	h, rd, _ := replayChain(defaultReplayConfig(), newCountingRecorder())
	defer rd.Stop()

	req := postWithBody("payload")
	req.Header.Set("X-Digestgate-Nonce", "nonce-1")
	req.Header.Set("X-Digestgate-Timestamp", strconv.FormatInt(time.Now().Unix(), 10))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("epoch timestamp: status %d", rec.Code)
	}
}

func TestMemoryNonceStoreExpiry(t *testing.T) {
	store := NewMemoryNonceStore(10*time.Millisecond, time.Hour)
	defer store.Stop()

	isNew, err := store.CheckAndStore("n1", time.Now())
	if err != nil || !isNew {
		t.Fatalf("first store: %v, %v", isNew, err)
	}

	isNew, _ = store.CheckAndStore("n1", time.Now())
	if isNew {
		t.Fatal("immediate duplicate not detected")
	}

	time.Sleep(20 * time.Millisecond)
	isNew, _ = store.CheckAndStore("n1", time.Now())
	if !isNew {
		t.Fatal("expired nonce still treated as replay")
	}
}
