// Package route summarizes an employee-day of samples into distance, active
// time and dwell stops.
package route

import (
	"math"
	"sort"
	"time"

	"github.com/okian/fieldguard/internal/domain/geo"
)

const (
	// StopRadiusMeters is how far a sample may drift from the anchor and
	// still belong to the same stop.
	StopRadiusMeters = 50.0

	// MinStopDuration is the shortest dwell reported as a stop.
	MinStopDuration = 5 * time.Minute
)

// Stop is a dwell at the anchor location.
type Stop struct {
	Location        geo.Point `json:"location"`
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	DurationMinutes int       `json:"durationMinutes"`
}

// Summary is the movement report for one employee-day.
type Summary struct {
	TotalDistanceMeters float64  `json:"totalDistanceMeters"`
	TotalDistanceKm     float64  `json:"totalDistanceKm"`
	ActiveMinutes       int      `json:"activeMinutes"`
	Stops               []Stop   `json:"stops"`
	LocationCount       int      `json:"locationCount"`
	First               *geo.Fix `json:"first,omitempty"`
	Last                *geo.Fix `json:"last,omitempty"`
}

// Summarize computes the summary. Fixes are ordered by time and exact
// duplicates (same instant and coordinate) are collapsed first, so a
// re-delivered sample never counts twice.
func Summarize(fixes []geo.Fix) Summary {
	fixes = normalize(fixes)
	s := Summary{Stops: []Stop{}, LocationCount: len(fixes)}
	if len(fixes) == 0 {
		return s
	}
	first, last := fixes[0], fixes[len(fixes)-1]
	s.First, s.Last = &first, &last
	if len(fixes) < 2 {
		return s
	}

	anchor, tail := 0, 0
	for i := 1; i < len(fixes); i++ {
		s.TotalDistanceMeters += geo.DistanceMeters(fixes[i-1].Point, fixes[i].Point)

		if geo.DistanceMeters(fixes[i].Point, fixes[anchor].Point) <= StopRadiusMeters {
			tail = i
			continue
		}
		if st, ok := stop(fixes[anchor], fixes[tail]); ok {
			s.Stops = append(s.Stops, st)
		}
		anchor, tail = i, i
	}
	if st, ok := stop(fixes[anchor], fixes[tail]); ok {
		s.Stops = append(s.Stops, st)
	}

	s.TotalDistanceKm = math.Round(s.TotalDistanceMeters/10) / 100
	s.ActiveMinutes = int(math.Round(last.At.Sub(first.At).Minutes()))
	return s
}

func stop(anchor, tail geo.Fix) (Stop, bool) {
	d := tail.At.Sub(anchor.At)
	if d < MinStopDuration {
		return Stop{}, false
	}
	return Stop{
		Location:        anchor.Point,
		Start:           anchor.At,
		End:             tail.At,
		DurationMinutes: int(math.Round(d.Minutes())),
	}, true
}

func normalize(fixes []geo.Fix) []geo.Fix {
	out := make([]geo.Fix, 0, len(fixes))
	seen := make(map[geo.Fix]struct{}, len(fixes))
	for _, f := range fixes {
		key := geo.Fix{Point: f.Point, At: f.At.UTC()}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, f)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out
}
