package schedule

import (
	"testing"
	"time"
)

func monday(t *testing.T) time.Time {
	t.Helper()
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if day.Weekday() != time.Monday {
		t.Fatalf("2024-01-01 should be a Monday, got %s", day.Weekday())
	}
	return day
}

func at(day time.Time, hour, min int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), hour, min, 0, 0, day.Location())
}

func TestSlots_BackToBack(t *testing.T) {
	day := monday(t)
	week := WeeklyAvailability{
		time.Monday: {StartMinute: 10 * 60, EndMinute: 12 * 60, Available: true},
	}
	policy := SessionPolicy{SessionMinutes: 60, BreakMinutes: 0}

	slots := Slots(week, policy, day, nil)
	if len(slots) != 2 {
		t.Fatalf("expected 2 slots, got %d", len(slots))
	}
	if !slots[0].StartTime.Equal(at(day, 10, 0)) || !slots[0].EndTime.Equal(at(day, 11, 0)) {
		t.Fatalf("unexpected first slot: %v-%v", slots[0].StartTime, slots[0].EndTime)
	}
	if !slots[1].StartTime.Equal(at(day, 11, 0)) || !slots[1].EndTime.Equal(at(day, 12, 0)) {
		t.Fatalf("unexpected second slot: %v-%v", slots[1].StartTime, slots[1].EndTime)
	}
}

func TestSlots_BookedIntervalExcluded(t *testing.T) {
	day := monday(t)
	week := WeeklyAvailability{
		time.Monday: {StartMinute: 10 * 60, EndMinute: 12 * 60, Available: true},
	}
	policy := SessionPolicy{SessionMinutes: 60, BreakMinutes: 0}
	booked := []Interval{{Start: at(day, 10, 0), End: at(day, 11, 0)}}

	slots := Slots(week, policy, day, booked)
	if len(slots) != 1 {
		t.Fatalf("expected 1 slot, got %d", len(slots))
	}
	if !slots[0].StartTime.Equal(at(day, 11, 0)) {
		t.Fatalf("expected 11:00 slot, got %v", slots[0].StartTime)
	}
}

func TestSlots_ConflictDoesNotRepackGrid(t *testing.T) {
	day := monday(t)
	week := WeeklyAvailability{
		time.Monday: {StartMinute: 9 * 60, EndMinute: 12 * 60, Available: true},
	}
	policy := SessionPolicy{SessionMinutes: 60, BreakMinutes: 0}
	// Booking straddles the 09:00 and 10:00 grid cells. Both candidates are
	// dropped; the walk does not try 10:30 even though it would fit.
	booked := []Interval{{Start: at(day, 9, 30), End: at(day, 10, 30)}}

	slots := Slots(week, policy, day, booked)
	if len(slots) != 1 {
		t.Fatalf("expected 1 slot, got %d", len(slots))
	}
	if !slots[0].StartTime.Equal(at(day, 11, 0)) {
		t.Fatalf("expected 11:00 slot, got %v", slots[0].StartTime)
	}
}

func TestSlots_BreakTimeSpacing(t *testing.T) {
	day := monday(t)
	week := WeeklyAvailability{
		time.Monday: {StartMinute: 10 * 60, EndMinute: 14 * 60, Available: true},
	}
	policy := SessionPolicy{SessionMinutes: 90, BreakMinutes: 15}

	slots := Slots(week, policy, day, nil)
	if len(slots) != 2 {
		t.Fatalf("expected 2 slots, got %d", len(slots))
	}
	// 10:00-11:30, then break until 11:45, 11:45-13:15. Next candidate would
	// end 15:00, past close.
	if !slots[1].StartTime.Equal(at(day, 11, 45)) {
		t.Fatalf("expected second slot at 11:45, got %v", slots[1].StartTime)
	}
	gap := slots[1].StartTime.Sub(slots[0].EndTime)
	if gap != 15*time.Minute {
		t.Fatalf("expected 15m gap, got %s", gap)
	}
}

func TestSlots_UnavailableDay(t *testing.T) {
	day := monday(t)
	week := WeeklyAvailability{
		time.Monday: {StartMinute: 10 * 60, EndMinute: 17 * 60, Available: false},
	}
	policy := SessionPolicy{SessionMinutes: 60}

	booked := []Interval{{Start: at(day, 10, 0), End: at(day, 11, 0)}}
	if slots := Slots(week, policy, day, booked); len(slots) != 0 {
		t.Fatalf("expected no slots on an unavailable day, got %d", len(slots))
	}
}

func TestSlots_MissingWeekday(t *testing.T) {
	day := monday(t)
	week := WeeklyAvailability{
		time.Tuesday: {StartMinute: 10 * 60, EndMinute: 17 * 60, Available: true},
	}
	if slots := Slots(week, SessionPolicy{SessionMinutes: 60}, day, nil); len(slots) != 0 {
		t.Fatalf("expected no slots for a weekday absent from the template, got %d", len(slots))
	}
}

func TestSlots_DegenerateWindows(t *testing.T) {
	day := monday(t)

	zeroDay := WeeklyAvailability{
		time.Monday: {StartMinute: 10 * 60, EndMinute: 10 * 60, Available: true},
	}
	if slots := Slots(zeroDay, SessionPolicy{SessionMinutes: 30}, day, nil); len(slots) != 0 {
		t.Fatalf("expected no slots for a zero-length day, got %d", len(slots))
	}

	shortDay := WeeklyAvailability{
		time.Monday: {StartMinute: 10 * 60, EndMinute: 11 * 60, Available: true},
	}
	if slots := Slots(shortDay, SessionPolicy{SessionMinutes: 90}, day, nil); len(slots) != 0 {
		t.Fatalf("expected no slots when the session outlasts the day, got %d", len(slots))
	}

	if slots := Slots(shortDay, SessionPolicy{SessionMinutes: 0}, day, nil); len(slots) != 0 {
		t.Fatalf("expected no slots for a non-positive session duration, got %d", len(slots))
	}
}

func TestSlots_NoPartialTrailingSlot(t *testing.T) {
	day := monday(t)
	week := WeeklyAvailability{
		time.Monday: {StartMinute: 10 * 60, EndMinute: 12*60 + 30, Available: true},
	}
	policy := SessionPolicy{SessionMinutes: 60, BreakMinutes: 0}

	slots := Slots(week, policy, day, nil)
	if len(slots) != 2 {
		t.Fatalf("expected 2 slots, got %d", len(slots))
	}
	last := slots[len(slots)-1]
	if last.EndTime.After(at(day, 12, 30)) {
		t.Fatalf("slot runs past closing time: %v", last.EndTime)
	}
}

func TestSlots_OverlappingBookedEntriesHarmless(t *testing.T) {
	day := monday(t)
	week := WeeklyAvailability{
		time.Monday: {StartMinute: 10 * 60, EndMinute: 13 * 60, Available: true},
	}
	policy := SessionPolicy{SessionMinutes: 60, BreakMinutes: 0}
	booked := []Interval{
		{Start: at(day, 10, 0), End: at(day, 11, 0)},
		{Start: at(day, 10, 0), End: at(day, 11, 0)},
		{Start: at(day, 10, 30), End: at(day, 11, 0)},
	}

	slots := Slots(week, policy, day, booked)
	if len(slots) != 2 {
		t.Fatalf("expected 2 slots, got %d", len(slots))
	}
	if !slots[0].StartTime.Equal(at(day, 11, 0)) {
		t.Fatalf("expected first open slot at 11:00, got %v", slots[0].StartTime)
	}
}

func TestSlots_OrderedAndDisjoint(t *testing.T) {
	day := monday(t)
	week := WeeklyAvailability{
		time.Monday: {StartMinute: 9 * 60, EndMinute: 17 * 60, Available: true},
	}
	policy := SessionPolicy{SessionMinutes: 45, BreakMinutes: 10}
	booked := []Interval{
		{Start: at(day, 10, 0), End: at(day, 10, 45)},
		{Start: at(day, 14, 0), End: at(day, 15, 0)},
	}

	slots := Slots(week, policy, day, booked)
	if len(slots) == 0 {
		t.Fatal("expected slots")
	}
	for i, s := range slots {
		if s.Minutes != 45 || !s.Available {
			t.Fatalf("slot %d malformed: %+v", i, s)
		}
		if got := s.EndTime.Sub(s.StartTime); got != 45*time.Minute {
			t.Fatalf("slot %d has duration %s", i, got)
		}
		if i > 0 && !slots[i-1].EndTime.Before(s.StartTime) && !slots[i-1].EndTime.Equal(s.StartTime) {
			t.Fatalf("slots %d and %d overlap or are out of order", i-1, i)
		}
		if overlapsAny(s.StartTime, s.EndTime, booked) {
			t.Fatalf("slot %d overlaps a booked interval: %+v", i, s)
		}
	}
}
