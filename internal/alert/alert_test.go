package alert

import (
	"testing"
	"time"
)

func TestParseAccidentType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want AccidentType
	}{
		{"collision", TypeCollision},
		{"COLLISION", TypeCollision},
		{"  Collision  ", TypeCollision},
		{"sudden_stop", TypeSuddenStop},
		{"rollover", TypeRollover},
		{"fall", TypeFall},
		{"unknown", TypeUnknown},
		{"earthquake", TypeUnknown},
		{"", TypeUnknown},
		{"collision extra", TypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			if got := ParseAccidentType(tt.in); got != tt.want {
				t.Errorf("ParseAccidentType(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestStatusTerminal(t *testing.T) {
	t.Parallel()

	terminal := []Status{StatusCompleted, StatusPendingReview, StatusFailed, StatusCancelled}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s.Terminal() = false, want true", s)
		}
	}

	nonTerminal := []Status{StatusReceived, StatusProcessing, StatusConfirmed, StatusPending, StatusInProgress}
	for _, s := range nonTerminal {
		if s.Terminal() {
			t.Errorf("%s.Terminal() = true, want false", s)
		}
	}
}

func TestParseEventTimestamp(t *testing.T) {
	t.Parallel()

	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := func() time.Time { return fixed }

	tests := []struct {
		name string
		in   string
		want time.Time
	}{
		{"rfc3339", "2026-02-26T14:23:00Z", time.Date(2026, 2, 26, 14, 23, 0, 0, time.UTC)},
		{"rfc3339 with offset", "2026-02-26T15:23:00+01:00", time.Date(2026, 2, 26, 15, 23, 0, 0, time.FixedZone("", 3600))},
		{"zoneless", "2026-02-26T14:23:00", time.Date(2026, 2, 26, 14, 23, 0, 0, time.UTC)},
		{"epoch millis", "1772115780000", time.UnixMilli(1772115780000).UTC()},
		{"fractional millis", "1772115780000.5", time.UnixMilli(1772115780000).UTC()},
		{"empty falls back", "", fixed},
		{"garbage falls back", "not-a-time", fixed},
		{"whitespace falls back", "   ", fixed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := ParseEventTimestamp(tt.in, now)
			if !got.Equal(tt.want) {
				t.Errorf("ParseEventTimestamp(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func FuzzParseEventTimestamp(f *testing.F) {
	f.Add("2026-02-26T14:23:00Z")
	f.Add("1772115780000")
	f.Add("")
	f.Add("not a time")
	f.Add("9999999999999999999999")
	f.Add("-1")
	f.Add("\x00\x01")

	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := func() time.Time { return fixed }

	f.Fuzz(func(t *testing.T, s string) {
		// Must not panic and must never return the zero time.
		got := ParseEventTimestamp(s, now)
		if got.IsZero() {
			t.Errorf("ParseEventTimestamp(%q) returned zero time", s)
		}
	})
}
