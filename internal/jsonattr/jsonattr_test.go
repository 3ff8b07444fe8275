package jsonattr

import (
	"testing"
	"time"
)

var doc = []byte(`{
	"id": "req-42",
	"count": 7,
	"big": 9007199254740993,
	"countStr": " 12 ",
	"frac": 1.5,
	"rate": 5,
	"rateStr": "3.25",
	"when": "2026-01-02 noon",
	"late": "2026-01-03 MIDNIGHT",
	"nothing": null
}`)

func TestStringAttr(t *testing.T) {
	if s, ok := StringAttr(doc, "id"); !ok || s != "req-42" {
		t.Errorf("got %q, %v", s, ok)
	}
	if _, ok := StringAttr(doc, "missing"); ok {
		t.Error("missing attribute reported present")
	}
	if _, ok := StringAttr(doc, "nothing"); ok {
		t.Error("null attribute reported present")
	}
	if _, ok := StringAttr([]byte("not json"), "id"); ok {
		t.Error("malformed document reported present")
	}
}

func TestIntAttrs(t *testing.T) {
	if n, ok := IntAttr(doc, "count"); !ok || n != 7 {
		t.Errorf("count = %d, %v", n, ok)
	}
	if n, ok := Int64Attr(doc, "big"); !ok || n != 9007199254740993 {
		t.Errorf("big = %d, %v", n, ok)
	}
	if n, ok := IntAttr(doc, "countStr"); !ok || n != 12 {
		t.Errorf("countStr = %d, %v", n, ok)
	}
	if _, ok := IntAttr(doc, "frac"); ok {
		t.Error("fractional number coerced to int")
	}
	if _, ok := IntAttr(doc, "id"); ok {
		t.Error("non-numeric string coerced to int")
	}
}

func TestDecimalAttr(t *testing.T) {
	// Integral values are forced to decimal notation so the round trip
	// never degrades to an integer.
	if s, ok := DecimalAttr(doc, "rate"); !ok || s != "5.0" {
		t.Errorf("rate = %q, %v", s, ok)
	}
	if s, ok := DecimalAttr(doc, "frac"); !ok || s != "1.5" {
		t.Errorf("frac = %q, %v", s, ok)
	}
	if s, ok := DecimalAttr(doc, "rateStr"); !ok || s != "3.25" {
		t.Errorf("rateStr = %q, %v", s, ok)
	}
	if _, ok := DecimalAttr(doc, "id"); ok {
		t.Error("non-numeric string coerced to decimal")
	}
}

func TestTimeAttr(t *testing.T) {
	const layout = "2006-01-02 3:04pm"

	got, ok := TimeAttr(doc, "when", layout)
	if !ok {
		t.Fatal("when did not parse")
	}
	want := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("when = %v, want %v", got, want)
	}

	got, ok = TimeAttr(doc, "late", layout)
	if !ok {
		t.Fatal("late did not parse")
	}
	want = time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("late = %v, want %v", got, want)
	}

	if _, ok := TimeAttr(doc, "id", layout); ok {
		t.Error("unparseable value reported as time")
	}
}
