package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/okian/fieldguard/internal/domain/model"
)

func sampleAt(employee string, lat, lon float64, at time.Time) model.StoredSample {
	return model.StoredSample{
		EmployeeID:     employee,
		LocationSample: model.LocationSample{Latitude: lat, Longitude: lon, RecordedAt: at},
	}
}

func TestMemoryStore_LatestIsInsertionOrder(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	if got, err := store.LatestSample(ctx, "e1"); err != nil || got != nil {
		t.Fatalf("expected no sample, got %v, %v", got, err)
	}

	// Later timestamp first, then an earlier one: the earlier one was
	// persisted last and is the comparison baseline.
	if err := store.SaveScored(ctx, sampleAt("e1", 1, 1, base.Add(time.Hour)), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.SaveScored(ctx, sampleAt("e1", 2, 2, base), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := store.LatestSample(ctx, "e1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || got.Latitude != 2 {
		t.Errorf("expected latitude 2, got %+v", got)
	}
	if got.ID == "" {
		t.Error("expected an assigned id")
	}
}

func TestMemoryStore_DuplicateWritesNothing(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	at := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	alert := model.AlertRecord{Type: model.AlertMockLocation, Severity: model.SeverityHigh}

	if err := store.SaveScored(ctx, sampleAt("e1", 1, 1, at), []model.AlertRecord{alert}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := store.SaveScored(ctx, sampleAt("e1", 1, 1, at), []model.AlertRecord{alert})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	alerts, _ := store.RecentAlerts(ctx, AlertQuery{})
	if len(alerts) != 1 {
		t.Errorf("expected 1 alert, got %d", len(alerts))
	}

	// Same instant and place for a different employee is not a duplicate.
	if err := store.SaveScored(ctx, sampleAt("e2", 1, 1, at), nil); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestMemoryStore_SamplesBetween(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for _, h := range []int{20, 9, 30, 12} {
		if err := store.SaveScored(ctx, sampleAt("e1", float64(h), 0, day.Add(time.Duration(h)*time.Hour)), nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	got, err := store.SamplesBetween(ctx, "e1", day, day.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(got))
	}
	for i, want := range []float64{9, 12, 20} {
		if got[i].Latitude != want {
			t.Errorf("sample %d: expected %v, got %v", i, want, got[i].Latitude)
		}
	}
}

func TestMemoryStore_RecentAlertsFilters(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	at := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	severities := []model.Severity{model.SeverityLow, model.SeverityCritical, model.SeverityMedium}
	for i, sev := range severities {
		rec := model.AlertRecord{EmployeeID: "e1", Type: model.AlertGNSSAnomaly, Severity: sev}
		if err := store.SaveScored(ctx, sampleAt("e1", float64(i), 0, at), []model.AlertRecord{rec}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	all, _ := store.RecentAlerts(ctx, AlertQuery{})
	if len(all) != 3 || all[0].Severity != model.SeverityMedium {
		t.Errorf("expected newest first, got %+v", all)
	}

	high, _ := store.RecentAlerts(ctx, AlertQuery{MinSeverity: model.SeverityHigh})
	if len(high) != 1 || high[0].Severity != model.SeverityCritical {
		t.Errorf("expected only the critical alert, got %+v", high)
	}

	limited, _ := store.RecentAlerts(ctx, AlertQuery{Limit: 2})
	if len(limited) != 2 {
		t.Errorf("expected 2 alerts, got %d", len(limited))
	}

	other, _ := store.RecentAlerts(ctx, AlertQuery{EmployeeID: "e9"})
	if len(other) != 0 {
		t.Errorf("expected no alerts for e9, got %d", len(other))
	}
}

func TestMemoryStore_Geofences(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	office := model.Geofence{ID: "hq", Name: "HQ", Latitude: 1, Longitude: 1, RadiusMeters: 200,
		Type: model.GeofenceOffice, Active: true}
	closed := model.Geofence{ID: "old", Name: "Old", Latitude: 2, Longitude: 2, RadiusMeters: 200,
		Type: model.GeofenceOffice}
	for _, g := range []model.Geofence{office, closed} {
		if err := store.PutGeofence(ctx, g); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if err := store.Assign(ctx, "e1", "hq"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.Assign(ctx, "e1", "hq"); err != nil {
		t.Fatalf("re-assign should be a no-op: %v", err)
	}
	if err := store.Assign(ctx, "e1", "old"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.Assign(ctx, "e1", "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	zones, err := store.AssignedGeofences(ctx, "e1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(zones) != 1 || zones[0].ID != "hq" {
		t.Errorf("expected only the active zone, got %+v", zones)
	}
}

func TestMemoryStore_AttendanceUpsert(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	in := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

	saved, err := store.SaveAttendance(ctx, model.Attendance{EmployeeID: "e1", Date: "2024-01-01",
		TimeIn: &in, Status: model.StatusPresent})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := in.Add(8 * time.Hour)
	again, err := store.SaveAttendance(ctx, model.Attendance{EmployeeID: "e1", Date: "2024-01-01",
		TimeIn: &in, TimeOut: &out, Status: model.StatusPresent})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if again.ID != saved.ID {
		t.Errorf("expected the same record id, got %s and %s", saved.ID, again.ID)
	}

	got, _ := store.AttendanceOn(ctx, "e1", "2024-01-01")
	if got == nil || got.TimeOut == nil {
		t.Errorf("expected time-out to be stored, got %+v", got)
	}
	if none, _ := store.AttendanceOn(ctx, "e1", "2024-01-02"); none != nil {
		t.Errorf("expected no record, got %+v", none)
	}
}

func TestMemoryStore_Closed(t *testing.T) {
	store := NewMemoryStore()
	_ = store.Close()
	if _, err := store.LatestSample(context.Background(), "e1"); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestInstrument_PassesThrough(t *testing.T) {
	ctx := context.Background()
	store := Instrument(NewMemoryStore())
	at := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	if err := store.SaveScored(ctx, sampleAt("e1", 1, 1, at), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.SaveScored(ctx, sampleAt("e1", 1, 1, at), nil); !errors.Is(err, ErrDuplicate) {
		t.Errorf("expected ErrDuplicate through the wrapper, got %v", err)
	}
}
