package service

import (
	"context"

	"github.com/okian/fieldguard/internal/domain/geo"
	"github.com/okian/fieldguard/internal/domain/geofence"
	"github.com/okian/fieldguard/internal/domain/model"
	"github.com/okian/fieldguard/pkg/metrics"
)

// CheckGeofence reports where p sits relative to the employee's zones.
func (s *Service) CheckGeofence(ctx context.Context, employeeID string, p geo.Point) (model.GeofenceCheckResult, error) {
	if !p.Valid() {
		return model.GeofenceCheckResult{}, model.Invalid("latitude/longitude", "out of range")
	}
	zones, err := s.store.AssignedGeofences(ctx, employeeID)
	if err != nil {
		return model.GeofenceCheckResult{}, err
	}
	return geofence.Evaluate(zones, p, s.policy), nil
}

func (s *Service) gate(ctx context.Context, employeeID string, p geo.Point) (geofence.Decision, error) {
	zones, err := s.store.AssignedGeofences(ctx, employeeID)
	if err != nil {
		return geofence.Decision{}, err
	}
	d := geofence.Gate(zones, p, s.policy)
	metrics.RecordGeofenceDecision(string(d.Outcome))
	return d, nil
}
