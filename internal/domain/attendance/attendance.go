// Package attendance holds the clock-in/clock-out state rules for one
// employee-day.
package attendance

import (
	"time"

	"github.com/okian/fieldguard/internal/domain/geo"
	"github.com/okian/fieldguard/internal/domain/model"
)

const dayLayout = "2006-01-02"

// Rules classifies attendance against office hours.
type Rules struct {
	OfficeStartHour int
	LateThreshold   time.Duration
	HalfDay         time.Duration
	Location        *time.Location
}

// DefaultRules is a 09:00 start, 15 minutes grace and a 4 hour half day in UTC.
func DefaultRules() Rules {
	return Rules{OfficeStartHour: 9, LateThreshold: 15 * time.Minute, HalfDay: 4 * time.Hour, Location: time.UTC}
}

func (r Rules) loc() *time.Location {
	if r.Location == nil {
		return time.UTC
	}
	return r.Location
}

// Day returns the office-local calendar day of t.
func (r Rules) Day(t time.Time) string {
	return t.In(r.loc()).Format(dayLayout)
}

// Action is a clock action as received by the server.
type Action struct {
	EmployeeID string
	Kind       model.ActionKind
	At         time.Time
	Point      geo.Point
	DeviceID   string
}

// ClockIn returns the record for the day after a TIME_IN. existing is the
// employee's record for that day, or nil.
func (r Rules) ClockIn(existing *model.Attendance, a Action) (model.Attendance, error) {
	if existing != nil && existing.TimeIn != nil {
		return model.Attendance{}, alreadyClockedIn()
	}

	rec := model.Attendance{EmployeeID: a.EmployeeID, Date: r.Day(a.At)}
	if existing != nil {
		rec = *existing
	}
	at := a.At.UTC()
	rec.TimeIn = &at
	rec.TimeInLat = model.Ptr(a.Point.Lat)
	rec.TimeInLon = model.Ptr(a.Point.Lon)
	if a.DeviceID != "" {
		rec.DeviceID = a.DeviceID
	}
	rec.Status = r.arrivalStatus(a.At)
	return rec, nil
}

// ClockOut returns the record for the day after a TIME_OUT.
func (r Rules) ClockOut(existing *model.Attendance, a Action) (model.Attendance, error) {
	switch {
	case existing == nil || existing.TimeIn == nil:
		return model.Attendance{}, noClockIn()
	case existing.TimeOut != nil:
		return model.Attendance{}, alreadyClockedOut()
	case a.At.Before(*existing.TimeIn):
		return model.Attendance{}, model.Invalid("timestamp", "time-out precedes time-in")
	}

	rec := *existing
	at := a.At.UTC()
	rec.TimeOut = &at
	rec.TimeOutLat = model.Ptr(a.Point.Lat)
	rec.TimeOutLon = model.Ptr(a.Point.Lon)
	if at.Sub(*existing.TimeIn) < r.HalfDay {
		rec.Status = model.StatusHalfDay
	}
	return rec, nil
}

// arrivalStatus is LATE strictly after start + threshold.
func (r Rules) arrivalStatus(t time.Time) model.AttendanceStatus {
	local := t.In(r.loc())
	start := time.Date(local.Year(), local.Month(), local.Day(), r.OfficeStartHour, 0, 0, 0, r.loc())
	if local.After(start.Add(r.LateThreshold)) {
		return model.StatusLate
	}
	return model.StatusPresent
}
