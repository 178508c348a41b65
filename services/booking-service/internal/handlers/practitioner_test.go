package handlers

import (
	"testing"
	"time"
)

func TestParseClockMinutes(t *testing.T) {
	cases := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"10:00", 600, false},
		{"00:00", 0, false},
		{"17:30", 1050, false},
		{" 09:15 ", 555, false},
		{"25:00", 0, true},
		{"10", 0, true},
		{"", 0, true},
	}
	for _, tc := range cases {
		got, err := parseClockMinutes(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("parseClockMinutes(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("parseClockMinutes(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("parseClockMinutes(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestFormatClockMinutesRoundTrip(t *testing.T) {
	for _, minutes := range []int{0, 600, 1020, 1439} {
		back, err := parseClockMinutes(formatClockMinutes(minutes))
		if err != nil {
			t.Fatalf("round trip %d: %v", minutes, err)
		}
		if back != minutes {
			t.Fatalf("round trip %d came back as %d", minutes, back)
		}
	}
}

func TestParseWeekday(t *testing.T) {
	wd, ok := parseWeekday(" Monday ")
	if !ok || wd != time.Monday {
		t.Fatalf("expected Monday, got %v (ok=%v)", wd, ok)
	}
	if _, ok := parseWeekday("someday"); ok {
		t.Fatal("expected unknown weekday to be rejected")
	}
}
