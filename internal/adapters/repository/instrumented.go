package repository

import (
	"context"
	"errors"
	"time"

	"github.com/okian/fieldguard/internal/domain/model"
	"github.com/okian/fieldguard/pkg/metrics"
)

// Instrument wraps s so every call is timed into the repository histogram.
func Instrument(s Store) Store {
	return &instrumented{next: s}
}

type instrumented struct {
	next Store
}

func observe(op string, start time.Time, err error) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrDuplicate):
		result = "duplicate"
	case errors.Is(err, ErrNotFound):
		result = "not_found"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		result = "canceled"
	default:
		result = "error"
		metrics.RecordErrorByComponent("repository", op)
	}
	metrics.RecordRepositoryOperation(op, result, float64(time.Since(start).Microseconds())/1000)
}

func (i *instrumented) LatestSample(ctx context.Context, employeeID string) (s *model.StoredSample, err error) {
	defer func(start time.Time) { observe("latest_sample", start, err) }(time.Now())
	return i.next.LatestSample(ctx, employeeID)
}

func (i *instrumented) SaveScored(ctx context.Context, sample model.StoredSample, alerts []model.AlertRecord) (err error) {
	defer func(start time.Time) { observe("save_scored", start, err) }(time.Now())
	return i.next.SaveScored(ctx, sample, alerts)
}

func (i *instrumented) SamplesBetween(ctx context.Context, employeeID string, from, to time.Time) (out []model.StoredSample, err error) {
	defer func(start time.Time) { observe("samples_between", start, err) }(time.Now())
	return i.next.SamplesBetween(ctx, employeeID, from, to)
}

func (i *instrumented) RecentAlerts(ctx context.Context, q AlertQuery) (out []model.AlertRecord, err error) {
	defer func(start time.Time) { observe("recent_alerts", start, err) }(time.Now())
	return i.next.RecentAlerts(ctx, q)
}

func (i *instrumented) AssignedGeofences(ctx context.Context, employeeID string) (out []model.Geofence, err error) {
	defer func(start time.Time) { observe("assigned_geofences", start, err) }(time.Now())
	return i.next.AssignedGeofences(ctx, employeeID)
}

func (i *instrumented) PutGeofence(ctx context.Context, g model.Geofence) (err error) {
	defer func(start time.Time) { observe("put_geofence", start, err) }(time.Now())
	return i.next.PutGeofence(ctx, g)
}

func (i *instrumented) Assign(ctx context.Context, employeeID, geofenceID string) (err error) {
	defer func(start time.Time) { observe("assign_geofence", start, err) }(time.Now())
	return i.next.Assign(ctx, employeeID, geofenceID)
}

func (i *instrumented) AttendanceOn(ctx context.Context, employeeID, day string) (rec *model.Attendance, err error) {
	defer func(start time.Time) { observe("attendance_on", start, err) }(time.Now())
	return i.next.AttendanceOn(ctx, employeeID, day)
}

func (i *instrumented) SaveAttendance(ctx context.Context, rec model.Attendance) (out model.Attendance, err error) {
	defer func(start time.Time) { observe("save_attendance", start, err) }(time.Now())
	return i.next.SaveAttendance(ctx, rec)
}

func (i *instrumented) Close() error { return i.next.Close() }
