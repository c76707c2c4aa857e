package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/fieldguard/internal/domain/model"
)

// Runs only against a disposable database named by FIELDGUARD_TEST_DATABASE_URL.
func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("FIELDGUARD_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("FIELDGUARD_TEST_DATABASE_URL not set")
	}

	Convey("Given a migrated postgres store", t, func() {
		ctx := context.Background()
		store, err := OpenPostgres(ctx, dsn, WithMaxOpenConns(4))
		So(err, ShouldBeNil)
		Reset(func() { _ = store.Close() })

		employee := "pg-" + uuid.NewString()
		at := time.Now().UTC().Truncate(time.Millisecond)

		Convey("Migrations are idempotent", func() {
			So(Migrate(ctx, store.DB()), ShouldBeNil)
		})

		Convey("A scored sample round-trips with its alerts", func() {
			s := sampleAt(employee, 52.52, 13.405, at)
			s.Accuracy = model.Ptr(12.5)
			s.Accelerometer = &model.Accelerometer{X: 0.1, Y: 0.2, Z: 9.8}
			s.RiskScore = 40
			alert := model.AlertRecord{
				EmployeeID: employee, Type: model.AlertMockLocation, Severity: model.SeverityMedium,
				RiskScore: 40, Details: map[string]any{"provider": "gps"}, Latitude: 52.52, Longitude: 13.405,
			}
			So(store.SaveScored(ctx, s, []model.AlertRecord{alert}), ShouldBeNil)

			latest, err := store.LatestSample(ctx, employee)
			So(err, ShouldBeNil)
			So(latest, ShouldNotBeNil)
			So(*latest.Accuracy, ShouldEqual, 12.5)
			So(latest.Accelerometer.Z, ShouldEqual, 9.8)
			So(latest.RecordedAt.Equal(at), ShouldBeTrue)

			alerts, err := store.RecentAlerts(ctx, AlertQuery{EmployeeID: employee})
			So(err, ShouldBeNil)
			So(alerts, ShouldHaveLength, 1)
			So(alerts[0].Details["provider"], ShouldEqual, "gps")

			Convey("Re-delivery is reported as a duplicate", func() {
				So(store.SaveScored(ctx, s, nil), ShouldEqual, ErrDuplicate)
			})

			Convey("A copy differing below millisecond and 7-place precision is a duplicate", func() {
				near := s
				near.RecordedAt = at.Add(400 * time.Microsecond)
				near.Latitude += 1e-9
				So(store.SaveScored(ctx, near, nil), ShouldEqual, ErrDuplicate)
			})
		})

		Convey("Attendance upserts by employee and day", func() {
			in := at
			first, err := store.SaveAttendance(ctx, model.Attendance{
				EmployeeID: employee, Date: "2024-03-01", TimeIn: &in, Status: model.StatusLate,
			})
			So(err, ShouldBeNil)
			So(first.Date, ShouldEqual, "2024-03-01")

			out := in.Add(5 * time.Hour)
			second, err := store.SaveAttendance(ctx, model.Attendance{
				EmployeeID: employee, Date: "2024-03-01", TimeIn: &in, TimeOut: &out, Status: model.StatusLate,
			})
			So(err, ShouldBeNil)
			So(second.ID, ShouldEqual, first.ID)
			So(second.TimeOut, ShouldNotBeNil)
		})

		Convey("Only active assigned geofences are returned", func() {
			id := "zone-" + uuid.NewString()
			So(store.PutGeofence(ctx, model.Geofence{ID: id, Name: "Depot", Latitude: 1, Longitude: 1,
				RadiusMeters: 150, Type: model.GeofenceWarehouse, Active: true}), ShouldBeNil)
			So(store.Assign(ctx, employee, id), ShouldBeNil)
			So(store.Assign(ctx, employee, "zone-missing-"+uuid.NewString()), ShouldEqual, ErrNotFound)

			zones, err := store.AssignedGeofences(ctx, employee)
			So(err, ShouldBeNil)
			So(zones, ShouldHaveLength, 1)
			So(zones[0].Type, ShouldEqual, model.GeofenceWarehouse)
		})
	})
}

func TestSampleRowIdentityKey(t *testing.T) {
	Convey("Given two deliveries of one fix that differ below the dedupe precision", t, func() {
		at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
		a := sampleAt("emp-1", 40.12345671, -74.5, at.Add(100*time.Microsecond))
		b := sampleAt("emp-1", 40.12345674, -74.5, at.Add(900*time.Microsecond))

		Convey("Their rows carry the same identity key as the ingest dedupe", func() {
			ra, rb := toSampleRow(a), toSampleRow(b)
			So(ra.IdentityKey, ShouldEqual, rb.IdentityKey)
			So(ra.IdentityKey, ShouldEqual, model.IdentityKey("emp-1", &a.LocationSample))
			So(ra.RecordedAt.Equal(at), ShouldBeTrue)
		})

		Convey("A different instant gets a different key", func() {
			c := sampleAt("emp-1", 40.12345671, -74.5, at.Add(2*time.Millisecond))
			So(toSampleRow(c).IdentityKey, ShouldNotEqual, toSampleRow(a).IdentityKey)
		})
	})
}
