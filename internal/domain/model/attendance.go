package model

import (
	"strings"
	"time"
)

// ActionKind is a clock action.
type ActionKind string

const (
	ActionTimeIn  ActionKind = "TIME_IN"
	ActionTimeOut ActionKind = "TIME_OUT"
)

// ParseActionKind accepts TIME_IN or TIME_OUT in any case.
func ParseActionKind(s string) (ActionKind, bool) {
	switch k := ActionKind(strings.ToUpper(strings.TrimSpace(s))); k {
	case ActionTimeIn, ActionTimeOut:
		return k, true
	default:
		return "", false
	}
}

// AttendanceStatus classifies a working day.
type AttendanceStatus string

const (
	StatusPresent AttendanceStatus = "PRESENT"
	StatusLate    AttendanceStatus = "LATE"
	StatusHalfDay AttendanceStatus = "HALF_DAY"
	StatusAbsent  AttendanceStatus = "ABSENT"
)

// Attendance is one employee-day.
type Attendance struct {
	ID              string           `json:"id"`
	EmployeeID      string           `json:"employeeId"`
	Date            string           `json:"date"` // YYYY-MM-DD in the office timezone
	TimeIn          *time.Time       `json:"timeIn,omitempty"`
	TimeInLat       *float64         `json:"timeInLat,omitempty"`
	TimeInLon       *float64         `json:"timeInLon,omitempty"`
	TimeOut         *time.Time       `json:"timeOut,omitempty"`
	TimeOutLat      *float64         `json:"timeOutLat,omitempty"`
	TimeOutLon      *float64         `json:"timeOutLon,omitempty"`
	DeviceID        string           `json:"deviceId,omitempty"`
	Status          AttendanceStatus `json:"status"`
	GeofenceWarning bool             `json:"outsideGeofence"`
}

// PendingAttendanceAction is a clock action waiting on the device for the
// server to confirm it.
type PendingAttendanceAction struct {
	ID              uint64     `json:"id"`
	Kind            ActionKind `json:"actionType"`
	Latitude        float64    `json:"latitude"`
	Longitude       float64    `json:"longitude"`
	ActionTimestamp time.Time  `json:"actionTimestamp"`
	RetryCount      int        `json:"retryCount"`
	LastError       string     `json:"lastError,omitempty"`
	IdempotencyKey  string     `json:"idempotencyKey"`
	CreatedAt       time.Time  `json:"createdAt"`
}

// PendingLocationSample is a sample held on the device until uploaded.
type PendingLocationSample struct {
	ID uint64 `json:"id"`
	LocationSample
}
