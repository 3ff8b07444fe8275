// Package jsonattr extracts and coerces attribute values from raw JSON
// documents. Parsing is lenient: a missing, null, or malformed attribute
// yields the zero value and ok=false rather than an error, so callers can
// inspect untrusted request bodies without failure handling at every site.
package jsonattr

import (
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// StringAttr returns the attribute at path as a string.
func StringAttr(body []byte, path string) (string, bool) {
	v := gjson.GetBytes(body, path)
	if !v.Exists() || v.Type == gjson.Null {
		return "", false
	}
	return v.String(), true
}

// IntAttr returns the attribute at path as an int. String values are
// trimmed and parsed; fractional numbers do not coerce.
func IntAttr(body []byte, path string) (int, bool) {
	n, ok := Int64Attr(body, path)
	return int(n), ok
}

// Int64Attr returns the attribute at path as an int64.
func Int64Attr(body []byte, path string) (int64, bool) {
	v := gjson.GetBytes(body, path)
	if !v.Exists() || v.Type == gjson.Null {
		return 0, false
	}
	switch v.Type {
	case gjson.Number:
		f := v.Float()
		n := v.Int()
		if float64(n) != f {
			return 0, false
		}
		return n, true
	case gjson.String:
		n, err := strconv.ParseInt(strings.TrimSpace(v.String()), 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// DecimalAttr returns the attribute at path as a decimal-notation string
// suitable for exact round-tripping. Integral values are forced to decimal
// notation ("5" becomes "5.0") so a round trip never degrades the value to
// an integer.
func DecimalAttr(body []byte, path string) (string, bool) {
	v := gjson.GetBytes(body, path)
	if !v.Exists() || v.Type == gjson.Null {
		return "", false
	}
	var txt string
	switch v.Type {
	case gjson.Number:
		txt = v.Raw
	case gjson.String:
		txt = strings.TrimSpace(v.String())
	default:
		return "", false
	}
	if _, err := strconv.ParseFloat(txt, 64); err != nil {
		return "", false
	}
	if !strings.ContainsAny(txt, ".eE") {
		txt += ".0"
	}
	return txt, true
}

// TimeAttr returns the attribute at path parsed as a time with the given
// layout. The informal tokens "midnight" and "noon" are normalized to
// clock times before parsing.
func TimeAttr(body []byte, path, layout string) (time.Time, bool) {
	s, ok := StringAttr(body, path)
	if !ok {
		return time.Time{}, false
	}

	s = replaceFold(s, "midnight", "12:00am")
	s = replaceFold(s, "noon", "12:00pm")

	t, err := time.Parse(layout, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// replaceFold replaces every case-insensitive occurrence of old with new.
func replaceFold(s, old, new string) string {
	lower := strings.ToLower(s)
	oldLower := strings.ToLower(old)
	var sb strings.Builder
	for {
		idx := strings.Index(lower, oldLower)
		if idx < 0 {
			sb.WriteString(s)
			return sb.String()
		}
		sb.WriteString(s[:idx])
		sb.WriteString(new)
		s = s[idx+len(old):]
		lower = lower[idx+len(oldLower):]
	}
}
