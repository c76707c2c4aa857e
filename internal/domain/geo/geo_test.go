package geo_test

import (
	"math"
	"testing"
	"time"

	"github.com/okian/fieldguard/internal/domain/geo"
	. "github.com/smartystreets/goconvey/convey"
)

func TestDistanceMeters(t *testing.T) {
	Convey("Given haversine distance", t, func() {
		mumbai := geo.Point{Lat: 19.076, Lon: 72.8777}
		delhi := geo.Point{Lat: 28.6139, Lon: 77.209}

		Convey("Identical points are zero apart", func() {
			for _, p := range []geo.Point{mumbai, delhi, {}, {Lat: -89.9, Lon: 179.9}} {
				So(geo.DistanceMeters(p, p), ShouldEqual, 0)
			}
		})

		Convey("Distance is symmetric", func() {
			So(geo.DistanceMeters(mumbai, delhi), ShouldAlmostEqual, geo.DistanceMeters(delhi, mumbai), 1e-6)
		})

		Convey("Mumbai to Delhi is between 1100 and 1200 km", func() {
			d := geo.DistanceMeters(mumbai, delhi)
			So(d, ShouldBeBetween, 1_100_000, 1_200_000)
		})
	})
}

func TestInside(t *testing.T) {
	Convey("Given a 500 m zone centred on Delhi", t, func() {
		center := geo.Point{Lat: 28.6139, Lon: 77.209}

		Convey("The centre itself is inside", func() {
			So(geo.Inside(center, center, 500), ShouldBeTrue)
		})

		Convey("A point about 1 km north is outside", func() {
			p := geo.Point{Lat: 28.6229, Lon: 77.209}
			So(geo.DistanceMeters(p, center), ShouldBeBetween, 950, 1050)
			So(geo.Inside(p, center, 500), ShouldBeFalse)
		})

		Convey("The boundary counts as inside", func() {
			p := geo.Point{Lat: 28.6179, Lon: 77.209}
			d := geo.DistanceMeters(p, center)
			So(geo.Inside(p, center, d), ShouldBeTrue)
		})
	})
}

func TestDetectTravel(t *testing.T) {
	Convey("Given fixes one degree of latitude apart", t, func() {
		t0 := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
		from := geo.Fix{Point: geo.Point{Lat: 0, Lon: 0}, At: t0}

		Convey("Ten degrees in one minute is impossible", func() {
			tr := geo.DetectTravel(from, geo.Fix{Point: geo.Point{Lat: 10, Lon: 10}, At: t0.Add(time.Minute)})
			So(tr.Impossible, ShouldBeTrue)
			So(tr.SpeedKmh, ShouldBeGreaterThan, 200)
		})

		Convey("One degree in one minute is impossible", func() {
			tr := geo.DetectTravel(from, geo.Fix{Point: geo.Point{Lat: 1, Lon: 0}, At: t0.Add(time.Minute)})
			So(tr.Impossible, ShouldBeTrue)
			So(tr.SpeedKmh, ShouldBeGreaterThan, 6000)
		})

		Convey("One degree in one hour is plausible", func() {
			tr := geo.DetectTravel(from, geo.Fix{Point: geo.Point{Lat: 1, Lon: 0}, At: t0.Add(time.Hour)})
			So(tr.Impossible, ShouldBeFalse)
			So(tr.SpeedKmh, ShouldBeBetween, 100, 120)
		})

		Convey("Order of the fixes does not change the speed", func() {
			to := geo.Fix{Point: geo.Point{Lat: 1, Lon: 0}, At: t0.Add(time.Hour)}
			So(geo.DetectTravel(to, from).SpeedKmh, ShouldAlmostEqual, geo.DetectTravel(from, to).SpeedKmh, 1e-9)
		})
	})

	Convey("Given two fixes at the same instant", t, func() {
		t0 := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
		a := geo.Fix{Point: geo.Point{Lat: 28.6139, Lon: 77.209}, At: t0}

		Convey("Within ten metres they are a duplicate, not a jump", func() {
			tr := geo.DetectTravel(a, geo.Fix{Point: geo.Point{Lat: 28.61392, Lon: 77.209}, At: t0})
			So(math.IsInf(tr.SpeedKmh, 1), ShouldBeTrue)
			So(tr.Impossible, ShouldBeFalse)
		})

		Convey("Farther apart they are impossible", func() {
			tr := geo.DetectTravel(a, geo.Fix{Point: geo.Point{Lat: 28.7, Lon: 77.209}, At: t0})
			So(math.IsInf(tr.SpeedKmh, 1), ShouldBeTrue)
			So(tr.Impossible, ShouldBeTrue)
		})
	})
}

func TestPointValid(t *testing.T) {
	Convey("Given coordinate bounds", t, func() {
		So(geo.Point{Lat: 90, Lon: 180}.Valid(), ShouldBeTrue)
		So(geo.Point{Lat: -90, Lon: -180}.Valid(), ShouldBeTrue)
		So(geo.Point{Lat: 90.0001, Lon: 0}.Valid(), ShouldBeFalse)
		So(geo.Point{Lat: 0, Lon: -180.5}.Valid(), ShouldBeFalse)
		So(geo.Point{Lat: math.NaN(), Lon: 0}.Valid(), ShouldBeFalse)
	})
}
