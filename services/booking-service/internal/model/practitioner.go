package model

import (
	"time"

	"github.com/sattva-health/therapyflow/services/booking-service/internal/schedule"
)

// Practitioner defaults mirror the clinic's standard template: weekdays
// 10:00-17:00, 90 minute sessions with a 15 minute break.
const (
	DefaultSessionMinutes = 90
	DefaultBreakMinutes   = 15
	MinSessionPolicy      = 30

	DefaultDayStartMinute = 10 * 60
	DefaultDayEndMinute   = 17 * 60
)

type Practitioner struct {
	ID              string
	Name            string
	Email           string
	Specializations []string
	ConsultationFee float64
	SessionMinutes  int
	BreakMinutes    int
	Availability    schedule.WeeklyAvailability
	Active          bool
	CreatedAt       time.Time
}

// Policy returns the practitioner's session policy for the slot generator.
func (p Practitioner) Policy() schedule.SessionPolicy {
	return schedule.SessionPolicy{
		SessionMinutes: p.SessionMinutes,
		BreakMinutes:   p.BreakMinutes,
	}
}

// DefaultAvailability seeds a new practitioner's weekly template. Weekend
// rows are present but marked unavailable so practitioners can switch them on
// without recreating the entry.
func DefaultAvailability() schedule.WeeklyAvailability {
	week := make(schedule.WeeklyAvailability, 7)
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		week[wd] = schedule.DayWindow{
			StartMinute: DefaultDayStartMinute,
			EndMinute:   DefaultDayEndMinute,
			Available:   wd != time.Saturday && wd != time.Sunday,
		}
	}
	return week
}
