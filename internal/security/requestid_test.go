package security

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/digestgate/digestgate/internal/ctxkeys"
)

func TestRequestIDGeneratesWhenAbsent(t *testing.T) {
	mw := NewRequestID()

	var ctxID string
	h := mw.Process(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxID, _ = ctxkeys.RequestIDFrom(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if ctxID == "" {
		t.Fatal("no request ID in context")
	}
	if echoed := rec.Header().Get("X-Request-Id"); echoed != ctxID {
		t.Errorf("response header %q != context ID %q", echoed, ctxID)
	}
}

func TestRequestIDHonorsCallerSupplied(t *testing.T) {
	mw := NewRequestID()

	var ctxID string
	h := mw.Process(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxID, _ = ctxkeys.RequestIDFrom(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-Id", "client-chosen-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if ctxID != "client-chosen-42" {
		t.Errorf("context ID = %q", ctxID)
	}
}

func TestRequestIDReplacesOversizedHeader(t *testing.T) {
	mw := NewRequestID()

	var ctxID string
	h := mw.Process(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxID, _ = ctxkeys.RequestIDFrom(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-Id", strings.Repeat("x", 200))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if len(ctxID) > 128 {
		t.Errorf("oversized caller ID kept: %d bytes", len(ctxID))
	}
	if ctxID == "" {
		t.Error("no replacement ID generated")
	}
}
