package timeutil

import (
	"encoding/json"
	"testing"
	"time"
)

func TestCanonicalize(t *testing.T) {
	ref := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

	tests := []struct {
		name   string
		in     any
		want   time.Time
		wantOK bool
	}{
		{"nil", nil, time.Time{}, false},
		{"time.Time", ref, ref, true},
		{"zero time.Time", time.Time{}, time.Time{}, false},
		{"pointer", &ref, ref, true},
		{"nil pointer", (*time.Time)(nil), time.Time{}, false},
		{"epoch seconds", int64(ref.Unix()), ref, true},
		{"epoch seconds float", float64(ref.Unix()), ref, true},
		{"epoch millis", ref.UnixMilli(), ref, true},
		{"json.Number seconds", json.Number("1741944413"), time.Unix(1741944413, 0), true},
		{"rfc3339nano string", ref.Format(time.RFC3339Nano), ref, true},
		{"rfc3339 string", ref.Format(time.RFC3339), ref, true},
		{"numeric string", "1741944413", time.Unix(1741944413, 0), true},
		{"wrapper seconds", map[string]any{"seconds": float64(ref.Unix()), "nanoseconds": float64(0)}, ref, true},
		{"wrapper underscore seconds", map[string]any{"_seconds": float64(ref.Unix())}, ref, true},
		{"wrapper empty", map[string]any{}, time.Time{}, false},
		{"garbage string", "not a time", time.Time{}, false},
		{"empty string", "", time.Time{}, false},
		{"unsupported type", []string{"x"}, time.Time{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Canonicalize(tt.in)
			if ok != tt.wantOK {
				t.Fatalf("Canonicalize(%v) ok = %v, want %v", tt.in, ok, tt.wantOK)
			}
			if ok && !got.Equal(tt.want) {
				t.Fatalf("Canonicalize(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestStampRoundTrip(t *testing.T) {
	ref := time.Date(2025, 3, 14, 9, 26, 53, 123456789, time.UTC)
	got, ok := Canonicalize(Stamp(ref))
	if !ok {
		t.Fatal("Canonicalize rejected its own Stamp output")
	}
	if !got.Equal(ref) {
		t.Fatalf("round trip = %v, want %v", got, ref)
	}
}

func TestFormatCountdown(t *testing.T) {
	tests := []struct {
		seconds int
		want    string
	}{
		{1500, "25:00"},
		{299, "04:59"},
		{61, "01:01"},
		{0, "00:00"},
		{-5, "00:00"},
	}
	for _, tt := range tests {
		if got := FormatCountdown(tt.seconds); got != tt.want {
			t.Errorf("FormatCountdown(%d) = %q, want %q", tt.seconds, got, tt.want)
		}
	}
}

func TestFormatAgo(t *testing.T) {
	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		t    time.Time
		want string
	}{
		{now.Add(-10 * time.Second), "10s ago"},
		{now.Add(-5 * time.Minute), "5m ago"},
		{now.Add(-3 * time.Hour), "3h ago"},
		{now.Add(-48 * time.Hour), "2d ago"},
		{time.Time{}, "unknown time"},
	}
	for _, tt := range tests {
		if got := FormatAgo(now, tt.t); got != tt.want {
			t.Errorf("FormatAgo(now, %v) = %q, want %q", tt.t, got, tt.want)
		}
	}
}
