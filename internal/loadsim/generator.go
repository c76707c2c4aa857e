package loadsim

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/okian/fieldguard/internal/domain/model"
)

// Route is one simulated employee's timeline.
type Route struct {
	EmployeeID string
	Samples    []model.LocationSample
	Jumps      int
}

// Batches splits the route into upload requests, in order.
func (r Route) Batches(size int) [][]model.LocationSample {
	var out [][]model.LocationSample
	for start := 0; start < len(r.Samples); start += size {
		end := min(start+size, len(r.Samples))
		out = append(out, r.Samples[start:end])
	}
	return out
}

// generateRoutes builds a walking route per employee. Every JumpEvery-th
// fix teleports the employee a degree north, which the server must flag as
// impossible travel. Timelines end at now so nothing is in the future.
func generateRoutes(config *Config, now time.Time, stats *Stats) []Route {
	seed := uint64(config.Seed)
	if seed == 0 {
		seed = uint64(now.UnixNano())
	}
	rng := rand.New(rand.NewPCG(seed, seed>>1|1))

	// Unique per run, so earlier runs never provide a previous fix.
	run := uuid.NewString()[:8]
	start := now.Add(-time.Duration(config.Samples) * config.Interval)
	step := walkSpeedMps * config.Interval.Seconds()

	routes := make([]Route, config.Employees)
	for e := range routes {
		r := Route{EmployeeID: fmt.Sprintf("sim-%s-%03d", run, e)}
		lat, lon := offset(config.CenterLat, config.CenterLon,
			rng.Float64()*config.SpreadMeter, rng.Float64()*2*math.Pi)
		bearing := rng.Float64() * 2 * math.Pi

		for i := 0; i < config.Samples; i++ {
			if i > 0 {
				if config.JumpEvery > 0 && i%config.JumpEvery == 0 {
					lat = jump(lat)
					r.Jumps++
				} else {
					bearing += (rng.Float64() - 0.5) * math.Pi / 4
					lat, lon = offset(lat, lon, step, bearing)
				}
			}
			accuracy := 4 + rng.Float64()*16
			r.Samples = append(r.Samples, model.LocationSample{
				Latitude:   lat,
				Longitude:  lon,
				Accuracy:   &accuracy,
				Provider:   "gps",
				RecordedAt: start.Add(time.Duration(i) * config.Interval).UTC().Truncate(time.Millisecond),
			})
		}
		stats.SamplesGenerated += len(r.Samples)
		stats.JumpsInjected += r.Jumps
		routes[e] = r
	}
	return routes
}

// offset moves meters along bearing (radians from north) on a local
// flat-earth approximation, good enough for walking steps.
func offset(lat, lon, meters, bearing float64) (float64, float64) {
	dLat := meters * math.Cos(bearing) / metersPerDegree
	dLon := meters * math.Sin(bearing) / (metersPerDegree * math.Cos(lat*math.Pi/180))
	return clampLat(lat + dLat), wrapLon(lon + dLon)
}

func jump(lat float64) float64 {
	if lat+jumpDegrees > 89 {
		return lat - jumpDegrees
	}
	return lat + jumpDegrees
}

func clampLat(lat float64) float64 {
	return math.Max(-89.9, math.Min(89.9, lat))
}

func wrapLon(lon float64) float64 {
	for lon > 180 {
		lon -= 360
	}
	for lon < -180 {
		lon += 360
	}
	return lon
}
