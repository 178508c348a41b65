package schedule

import "time"

// DayWindow is one weekday entry of a practitioner's weekly availability
// template. Start and end are minutes from midnight in the clinic timezone.
type DayWindow struct {
	StartMinute int
	EndMinute   int
	Available   bool
}

// WeeklyAvailability maps each weekday to its window. A missing weekday is
// treated the same as an unavailable one.
type WeeklyAvailability map[time.Weekday]DayWindow

// SessionPolicy sizes the candidate windows the generator proposes.
type SessionPolicy struct {
	SessionMinutes int
	BreakMinutes   int
}

type Interval struct {
	Start time.Time
	End   time.Time
}

// TimeSlot is a bookable window produced fresh per query; it is never stored.
type TimeSlot struct {
	StartTime time.Time
	EndTime   time.Time
	Minutes   int
	Available bool
}

// Slots walks a practitioner's day on a fixed grid and returns the open
// session windows, ascending by start time.
//
// The cursor starts at the day's opening time and proposes a candidate of
// length SessionMinutes. A candidate that would run past the closing time ends
// the walk (no partial trailing slot). A candidate that overlaps any booked
// interval is dropped, but the cursor still advances to candidate end plus
// BreakMinutes. The grid is fixed by the walk; time skipped by a conflicting
// booking is not repacked into an earlier-fitting slot.
//
// day supplies the calendar date and timezone; its clock time is ignored.
// Booked intervals are taken as hard exclusions regardless of status; the
// caller filters to active appointments.
func Slots(week WeeklyAvailability, policy SessionPolicy, day time.Time, booked []Interval) []TimeSlot {
	if policy.SessionMinutes <= 0 {
		return nil
	}

	window, ok := week[day.Weekday()]
	if !ok || !window.Available || window.EndMinute <= window.StartMinute {
		return nil
	}

	midnight := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	open := midnight.Add(time.Duration(window.StartMinute) * time.Minute)
	close := midnight.Add(time.Duration(window.EndMinute) * time.Minute)

	session := time.Duration(policy.SessionMinutes) * time.Minute
	gap := time.Duration(policy.BreakMinutes) * time.Minute

	var slots []TimeSlot
	for cursor := open; ; cursor = cursor.Add(session + gap) {
		end := cursor.Add(session)
		if end.After(close) {
			break
		}
		if !overlapsAny(cursor, end, booked) {
			slots = append(slots, TimeSlot{
				StartTime: cursor,
				EndTime:   end,
				Minutes:   policy.SessionMinutes,
				Available: true,
			})
		}
	}
	return slots
}

func overlapsAny(start, end time.Time, booked []Interval) bool {
	for _, b := range booked {
		// Half-open intervals: [start,end) overlaps [b.Start,b.End) iff start < b.End && b.Start < end.
		if start.Before(b.End) && b.Start.Before(end) {
			return true
		}
	}
	return false
}
