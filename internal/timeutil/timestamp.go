// Package timeutil converts the heterogeneous timestamp shapes that come
// back from document stores into time.Time values without ever failing.
package timeutil

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// epochMillisCutoff separates second- from millisecond-resolution epochs.
// Anything above it is treated as milliseconds (year 5138 in seconds).
const epochMillisCutoff = 1e11

// Canonicalize converts a timestamp of unknown shape into a time.Time.
// The fallback chain is: time.Time / *time.Time, a wrapper object with
// seconds+nanos fields, a numeric epoch (seconds or milliseconds), then a
// string parse. It never returns an error: ok is false when the value is
// missing or unparsable, and callers treat that as maximally stale.
func Canonicalize(v any) (t time.Time, ok bool) {
	switch ts := v.(type) {
	case nil:
		return time.Time{}, false
	case time.Time:
		return ts, !ts.IsZero()
	case *time.Time:
		if ts == nil || ts.IsZero() {
			return time.Time{}, false
		}
		return *ts, true
	case map[string]any:
		return fromWrapper(ts)
	case json.Number:
		if n, err := ts.Int64(); err == nil {
			return fromEpoch(n), true
		}
		if f, err := ts.Float64(); err == nil {
			return fromEpoch(int64(f)), true
		}
		return time.Time{}, false
	case float64:
		return fromEpoch(int64(ts)), true
	case int64:
		return fromEpoch(ts), true
	case int:
		return fromEpoch(int64(ts)), true
	case string:
		return fromString(ts)
	default:
		return time.Time{}, false
	}
}

// fromWrapper handles store-native timestamp objects that survive a JSON
// round trip as {"seconds": ..., "nanoseconds": ...}.
func fromWrapper(m map[string]any) (time.Time, bool) {
	secs, ok := m["seconds"]
	if !ok {
		secs, ok = m["_seconds"]
	}
	if !ok {
		return time.Time{}, false
	}
	s, sok := Canonicalize(secs)
	if sok {
		// seconds field was itself an epoch
		return s, true
	}
	return time.Time{}, false
}

func fromEpoch(n int64) time.Time {
	if n > epochMillisCutoff {
		return time.UnixMilli(n)
	}
	return time.Unix(n, 0)
}

func fromString(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05.999999999 -0700 MST",
		"2006-01-02 15:04:05",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return fromEpoch(n), true
	}
	return time.Time{}, false
}

// Stamp renders a timestamp in the canonical wire form documents are
// written with. Canonicalize accepts it back on the first string layout.
func Stamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// FormatCountdown renders seconds as an MM:SS display value, floored at
// 00:00 for negative input.
func FormatCountdown(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

// FormatAgo renders how long ago t was relative to now, for log output.
func FormatAgo(now, t time.Time) string {
	if t.IsZero() {
		return "unknown time"
	}
	secs := int(now.Sub(t).Seconds())
	switch {
	case secs < 60:
		return fmt.Sprintf("%ds ago", secs)
	case secs < 3600:
		return fmt.Sprintf("%dm ago", secs/60)
	case secs < 86400:
		return fmt.Sprintf("%dh ago", secs/3600)
	default:
		return fmt.Sprintf("%dd ago", secs/86400)
	}
}
