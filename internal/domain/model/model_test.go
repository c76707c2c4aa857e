package model_test

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/okian/fieldguard/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func TestLocationSampleValidate(t *testing.T) {
	Convey("Given a well-formed sample", t, func() {
		s := model.LocationSample{
			Latitude: 28.6, Longitude: 77.2,
			BatteryLevel: model.Ptr(80),
			RecordedAt:   time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
		}
		So(s.Validate(), ShouldBeNil)

		Convey("Out-of-range coordinates are validation errors", func() {
			s.Latitude = 91
			err := s.Validate()
			So(errors.Is(err, model.ErrValidation), ShouldBeTrue)
			So(err.Error(), ShouldContainSubstring, "latitude")

			s.Latitude, s.Longitude = 0, -181
			So(errors.Is(s.Validate(), model.ErrValidation), ShouldBeTrue)
		})

		Convey("Battery above 100 is rejected", func() {
			s.BatteryLevel = model.Ptr(101)
			So(s.Validate(), ShouldNotBeNil)
		})

		Convey("A missing timestamp is rejected", func() {
			s.RecordedAt = time.Time{}
			So(s.Validate(), ShouldNotBeNil)
		})
	})
}

func TestIdentityKey(t *testing.T) {
	Convey("Given two deliveries of the same fix", t, func() {
		at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
		a := model.LocationSample{Latitude: 28.6139, Longitude: 77.209, RecordedAt: at}
		b := a
		b.BatteryLevel = model.Ptr(10)

		Convey("The key ignores metadata but not identity", func() {
			So(model.IdentityKey("emp-1", &a), ShouldEqual, model.IdentityKey("emp-1", &b))
			So(model.IdentityKey("emp-2", &a), ShouldNotEqual, model.IdentityKey("emp-1", &a))
			b.RecordedAt = at.Add(time.Second)
			So(model.IdentityKey("emp-1", &b), ShouldNotEqual, model.IdentityKey("emp-1", &a))
		})
	})
}

func TestPolicyAndTypes(t *testing.T) {
	Convey("Enforcement policy parsing defaults to WARN", t, func() {
		So(model.ParsePolicy("BLOCK"), ShouldEqual, model.PolicyBlock)
		So(model.ParsePolicy(" block "), ShouldEqual, model.PolicyBlock)
		So(model.ParsePolicy("WARN"), ShouldEqual, model.PolicyWarn)
		So(model.ParsePolicy(""), ShouldEqual, model.PolicyWarn)
		So(model.ParsePolicy("DENY"), ShouldEqual, model.PolicyWarn)
	})

	Convey("Geofence validation enforces radius bounds", t, func() {
		g := model.Geofence{Name: "HQ", Latitude: 28.6, Longitude: 77.2, RadiusMeters: 100}
		So(g.Validate(), ShouldBeNil)
		g.RadiusMeters = 49
		So(g.Validate(), ShouldNotBeNil)
		g.RadiusMeters = 10_001
		So(g.Validate(), ShouldNotBeNil)
		So(model.ParseGeofenceType("warehouse"), ShouldEqual, model.GeofenceWarehouse)
		So(model.ParseGeofenceType("park"), ShouldEqual, model.GeofenceCustom)
	})

	Convey("Accelerometer magnitude", t, func() {
		So(model.Accelerometer{X: 3, Y: 4, Z: 0}.Magnitude(), ShouldEqual, 5)
		So(math.Abs(model.Accelerometer{Z: 9.81}.Magnitude()-9.81), ShouldBeLessThan, 1e-9)
	})

	Convey("Action kinds parse case-insensitively", t, func() {
		k, ok := model.ParseActionKind("time_in")
		So(ok, ShouldBeTrue)
		So(k, ShouldEqual, model.ActionTimeIn)
		_, ok = model.ParseActionKind("LUNCH")
		So(ok, ShouldBeFalse)
	})
}
