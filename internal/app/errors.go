package service

import (
	"errors"

	"github.com/okian/fieldguard/internal/domain/geofence"
)

// Sentinel kinds for service errors.
var (
	ErrNotStarted      = errors.New("service not started")
	ErrIngestTimeout   = errors.New("ingest timed out")
	ErrOutsideGeofence = errors.New("outside assigned geofences")
	ErrForbidden       = errors.New("forbidden")
)

// GeofenceDeniedError is returned when BLOCK policy rejects an attendance
// action. It matches ErrOutsideGeofence.
type GeofenceDeniedError struct {
	Warning *geofence.Warning
}

func (e *GeofenceDeniedError) Error() string {
	if e.Warning == nil {
		return ErrOutsideGeofence.Error()
	}
	return e.Warning.Message
}

func (e *GeofenceDeniedError) Unwrap() error { return ErrOutsideGeofence }
