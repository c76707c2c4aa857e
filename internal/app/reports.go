package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	repository "github.com/okian/fieldguard/internal/adapters/repository"
	"github.com/okian/fieldguard/internal/domain/geo"
	"github.com/okian/fieldguard/internal/domain/model"
	"github.com/okian/fieldguard/internal/domain/route"
)

// MovementReport is one employee-day of movement.
type MovementReport struct {
	EmployeeID string `json:"employeeId"`
	Date       string `json:"date"`
	route.Summary
}

// Movement summarizes the employee's samples for day (YYYY-MM-DD, office
// timezone). An empty day is a report with zero counts.
func (s *Service) Movement(ctx context.Context, employeeID, day string) (MovementReport, error) {
	loc := s.rules.Location
	if loc == nil {
		loc = time.UTC
	}
	if day == "" {
		day = s.rules.Day(s.now())
	}
	from, err := time.ParseInLocation("2006-01-02", day, loc)
	if err != nil {
		return MovementReport{}, model.Invalid("date", "must be YYYY-MM-DD")
	}

	samples, err := s.store.SamplesBetween(ctx, employeeID, from, from.AddDate(0, 0, 1))
	if err != nil {
		return MovementReport{}, err
	}
	fixes := make([]geo.Fix, len(samples))
	for i := range samples {
		fixes[i] = samples[i].Fix()
	}
	return MovementReport{EmployeeID: employeeID, Date: day, Summary: route.Summarize(fixes)}, nil
}

// RecentAlerts returns the newest alerts first.
func (s *Service) RecentAlerts(ctx context.Context, q repository.AlertQuery) ([]model.AlertRecord, error) {
	return s.store.RecentAlerts(ctx, q)
}

// SeedGeofence stores a zone and assigns it to employees.
func (s *Service) SeedGeofence(ctx context.Context, g model.Geofence, employees ...string) error {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if err := s.store.PutGeofence(ctx, g); err != nil {
		return err
	}
	for _, e := range employees {
		if err := s.store.Assign(ctx, e, g.ID); err != nil {
			return err
		}
	}
	return nil
}
