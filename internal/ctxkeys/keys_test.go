package ctxkeys

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/digestgate/digestgate/internal/bodydigest"
)

func TestBodyWrapperRoundTrip(t *testing.T) {
	ctx := context.Background()

	if _, ok := BodyWrapperFrom(ctx); ok {
		t.Error("empty context returned a wrapper")
	}

	w := bodydigest.Wrap(io.NopCloser(strings.NewReader("x")), 10)
	ctx = WithBodyWrapper(ctx, w)

	got, ok := BodyWrapperFrom(ctx)
	if !ok || got != w {
		t.Error("wrapper did not round-trip through the context")
	}
}

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-1")
	id, ok := RequestIDFrom(ctx)
	if !ok || id != "req-1" {
		t.Errorf("got %q, %v", id, ok)
	}
}

func TestAuditEntryPointerShared(t *testing.T) {
	entry := &AuditEntry{Status: "ok"}
	ctx := WithAuditEntry(context.Background(), entry)

	got, ok := AuditEntryFrom(ctx)
	if !ok {
		t.Fatal("audit entry missing")
	}
	got.Status = "blocked"
	if entry.Status != "blocked" {
		t.Error("audit entry not shared by pointer")
	}
}
