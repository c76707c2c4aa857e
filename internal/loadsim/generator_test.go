package loadsim

import (
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/fieldguard/internal/domain/geo"
)

func TestGenerateRoutes(t *testing.T) {
	Convey("Given a small simulation config", t, func() {
		cfg := &Config{
			Employees: 3, Samples: 25, BatchSize: 10, JumpEvery: 10,
			Interval: 30 * time.Second, Seed: 7,
			CenterLat: 40, CenterLon: -74, SpreadMeter: 1000,
		}
		now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
		stats := &Stats{}
		routes := generateRoutes(cfg, now, stats)

		Convey("Every employee gets an ordered timeline ending before now", func() {
			So(routes, ShouldHaveLength, 3)
			So(stats.SamplesGenerated, ShouldEqual, 75)
			for _, r := range routes {
				So(r.Samples, ShouldHaveLength, 25)
				for i := 1; i < len(r.Samples); i++ {
					So(r.Samples[i].RecordedAt.After(r.Samples[i-1].RecordedAt), ShouldBeTrue)
				}
				So(r.Samples[24].RecordedAt.Before(now), ShouldBeTrue)
			}
		})

		Convey("Employee ids are unique", func() {
			So(routes[0].EmployeeID, ShouldNotEqual, routes[1].EmployeeID)
			So(routes[1].EmployeeID, ShouldNotEqual, routes[2].EmployeeID)
		})

		Convey("Jumps land where they were counted and walking steps stay plausible", func() {
			So(stats.JumpsInjected, ShouldEqual, 6)
			r := routes[0]
			So(r.Jumps, ShouldEqual, 2)
			for i := 1; i < len(r.Samples); i++ {
				a, b := r.Samples[i-1].Point(), r.Samples[i].Point()
				d := geo.DistanceMeters(a, b)
				if i%10 == 0 {
					So(d, ShouldBeGreaterThan, 100_000)
				} else {
					So(d, ShouldBeLessThan, 60)
				}
			}
		})

		Convey("Batches keep order and respect the size", func() {
			batches := routes[0].Batches(10)
			So(batches, ShouldHaveLength, 3)
			So(batches[0], ShouldHaveLength, 10)
			So(batches[2], ShouldHaveLength, 5)
			So(batches[1][0].RecordedAt.Equal(routes[0].Samples[10].RecordedAt), ShouldBeTrue)
		})
	})
}
