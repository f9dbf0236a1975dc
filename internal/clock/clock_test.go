package clock

import (
	"testing"
	"time"
)

func TestStartOfDayUsesLocation(t *testing.T) {
	jakarta, err := time.LoadLocation("Asia/Jakarta")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	// 2026-03-10 20:00 UTC is 2026-03-11 03:00 in Jakarta.
	now := time.Date(2026, 3, 10, 20, 0, 0, 0, time.UTC)

	got := StartOfDay(now, jakarta)
	want := time.Date(2026, 3, 10, 17, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("start of day = %s, want %s", got, want)
	}
}

func TestStartOfMonthUTC(t *testing.T) {
	now := time.Date(2026, 3, 31, 23, 59, 0, 0, time.UTC)
	got := StartOfMonth(now, nil)
	want := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("start of month = %s, want %s", got, want)
	}
}

func TestFakeClockAdvance(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewFakeClock(start)
	c.Advance(36 * time.Hour)
	if got := c.Now(); !got.Equal(start.Add(36 * time.Hour)) {
		t.Fatalf("now = %s", got)
	}
}
