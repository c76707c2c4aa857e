// Package repository persists samples, alerts, geofences and attendance for
// the fieldguard server.
package repository

import (
	"context"
	"time"

	"github.com/okian/fieldguard/internal/domain/model"
)

// AlertQuery filters RecentAlerts. Zero values mean "any".
type AlertQuery struct {
	EmployeeID  string
	MinSeverity model.Severity
	Limit       int
}

// SampleStore holds the per-employee sample timeline and its alert audit trail.
type SampleStore interface {
	// LatestSample returns the most recently persisted sample for the
	// employee, or nil if there is none.
	LatestSample(ctx context.Context, employeeID string) (*model.StoredSample, error)

	// SaveScored persists a sample and its alerts atomically. It returns
	// ErrDuplicate, and writes nothing, when a sample with the same identity
	// already exists.
	SaveScored(ctx context.Context, sample model.StoredSample, alerts []model.AlertRecord) error

	// SamplesBetween returns samples recorded in [from, to) ordered by time.
	SamplesBetween(ctx context.Context, employeeID string, from, to time.Time) ([]model.StoredSample, error)

	// RecentAlerts returns alerts newest first.
	RecentAlerts(ctx context.Context, q AlertQuery) ([]model.AlertRecord, error)
}

// GeofenceStore resolves zone assignments. Assignment management is an
// administrative concern; Put/Assign exist for seeding.
type GeofenceStore interface {
	AssignedGeofences(ctx context.Context, employeeID string) ([]model.Geofence, error)
	PutGeofence(ctx context.Context, g model.Geofence) error
	Assign(ctx context.Context, employeeID, geofenceID string) error
}

// AttendanceStore keeps one record per employee-day.
type AttendanceStore interface {
	// AttendanceOn returns the record for the day, or nil.
	AttendanceOn(ctx context.Context, employeeID, day string) (*model.Attendance, error)

	// SaveAttendance upserts by (employee, day) and returns the stored record.
	SaveAttendance(ctx context.Context, rec model.Attendance) (model.Attendance, error)
}

// Store is everything the server persists.
type Store interface {
	SampleStore
	GeofenceStore
	AttendanceStore
	Close() error
}

var severityRank = map[model.Severity]int{
	model.SeverityLow:      0,
	model.SeverityMedium:   1,
	model.SeverityHigh:     2,
	model.SeverityCritical: 3,
}

func atLeast(s, min model.Severity) bool {
	if min == "" {
		return true
	}
	return severityRank[s] >= severityRank[min]
}

const (
	defaultAlertLimit = 50
	maxAlertLimit     = 500
)

func alertLimit(n int) int {
	switch {
	case n <= 0:
		return defaultAlertLimit
	case n > maxAlertLimit:
		return maxAlertLimit
	default:
		return n
	}
}
