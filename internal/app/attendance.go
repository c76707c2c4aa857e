package service

import (
	"context"
	"errors"
	"time"

	"github.com/okian/fieldguard/internal/domain/attendance"
	"github.com/okian/fieldguard/internal/domain/geo"
	"github.com/okian/fieldguard/internal/domain/geofence"
	"github.com/okian/fieldguard/internal/domain/model"
	"github.com/okian/fieldguard/pkg/logger"
	"github.com/okian/fieldguard/pkg/metrics"
)

// ClockRequest is a time-in or time-out as submitted by a device. Timestamp
// is optional; a replayed action carries the time it actually happened.
type ClockRequest struct {
	Latitude  float64    `json:"latitude"`
	Longitude float64    `json:"longitude"`
	DeviceID  string     `json:"deviceId,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// ClockResult is the stored record plus the WARN-policy warning, if any.
type ClockResult struct {
	Attendance      model.Attendance  `json:"attendance"`
	GeofenceWarning *geofence.Warning `json:"geofenceWarning,omitempty"`
}

// ClockIn records a time-in for today.
func (s *Service) ClockIn(ctx context.Context, employeeID string, req ClockRequest) (ClockResult, error) {
	return s.clock(ctx, employeeID, model.ActionTimeIn, req)
}

// ClockOut records a time-out for today.
func (s *Service) ClockOut(ctx context.Context, employeeID string, req ClockRequest) (ClockResult, error) {
	return s.clock(ctx, employeeID, model.ActionTimeOut, req)
}

func (s *Service) clock(ctx context.Context, employeeID string, kind model.ActionKind, req ClockRequest) (res ClockResult, err error) {
	defer func() {
		metrics.RecordAttendanceAction(string(kind), outcomeLabel(err))
	}()

	action, err := s.actionFrom(employeeID, kind, req)
	if err != nil {
		return ClockResult{}, err
	}

	unlock := s.lockEmployee(employeeID)
	defer unlock()

	day := s.rules.Day(action.At)
	existing, err := s.store.AttendanceOn(ctx, employeeID, day)
	if err != nil {
		return ClockResult{}, err
	}

	// State rules first: a replay of an action that already took effect is
	// reconciled even if the device has since moved.
	var next model.Attendance
	if kind == model.ActionTimeIn {
		next, err = s.rules.ClockIn(existing, action)
	} else {
		next, err = s.rules.ClockOut(existing, action)
	}
	if err != nil {
		return ClockResult{}, err
	}

	decision, err := s.gate(ctx, employeeID, action.Point)
	if err != nil {
		return ClockResult{}, err
	}
	if !decision.Allowed() {
		s.logger.Warn(ctx, "attendance blocked outside geofence",
			logger.String("employeeId", employeeID),
			logger.String("action", string(kind)),
		)
		return ClockResult{}, &GeofenceDeniedError{Warning: decision.Warning}
	}
	if decision.Warning != nil {
		next.GeofenceWarning = true
	}

	saved, err := s.store.SaveAttendance(ctx, next)
	if err != nil {
		return ClockResult{}, err
	}
	s.logger.Info(ctx, "attendance recorded",
		logger.String("employeeId", employeeID),
		logger.String("action", string(kind)),
		logger.String("status", string(saved.Status)),
		logger.Bool("geofenceWarning", saved.GeofenceWarning),
	)
	return ClockResult{Attendance: saved, GeofenceWarning: decision.Warning}, nil
}

func (s *Service) actionFrom(employeeID string, kind model.ActionKind, req ClockRequest) (attendance.Action, error) {
	p := geo.Point{Lat: req.Latitude, Lon: req.Longitude}
	if !p.Valid() {
		return attendance.Action{}, model.Invalid("latitude/longitude", "out of range")
	}
	now := s.now()
	at := now
	if req.Timestamp != nil && !req.Timestamp.IsZero() {
		if req.Timestamp.After(now.Add(s.maxClockSkew)) {
			return attendance.Action{}, model.Invalid("timestamp", "is in the future")
		}
		at = *req.Timestamp
	}
	return attendance.Action{
		EmployeeID: employeeID,
		Kind:       kind,
		At:         at,
		Point:      p,
		DeviceID:   req.DeviceID,
	}, nil
}

// Today returns the employee's record for the current office day, or nil.
func (s *Service) Today(ctx context.Context, employeeID string) (*model.Attendance, error) {
	return s.store.AttendanceOn(ctx, employeeID, s.rules.Day(s.now()))
}

func outcomeLabel(err error) string {
	var conflict *attendance.ConflictError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &conflict):
		return "conflict"
	case errors.Is(err, ErrOutsideGeofence):
		return "blocked"
	case errors.Is(err, model.ErrValidation):
		return "invalid"
	default:
		return "error"
	}
}
