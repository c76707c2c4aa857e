// Package geo holds the great-circle math shared by scoring, geofencing and
// route summaries.
package geo

import (
	"math"
	"time"
)

const (
	// EarthRadiusKm is the mean Earth radius used by the haversine formula.
	EarthRadiusKm = 6371.0

	// MaxPlausibleSpeedKmh is the speed above which travel is impossible.
	MaxPlausibleSpeedKmh = 200.0

	// SameInstantToleranceMeters is how far two fixes with identical
	// timestamps may be apart before the jump counts as impossible.
	SameInstantToleranceMeters = 10.0
)

// Point is a WGS84 coordinate in degrees.
type Point struct {
	Lat float64 `json:"latitude"`
	Lon float64 `json:"longitude"`
}

// Valid reports whether the coordinate is within latitude/longitude bounds.
func (p Point) Valid() bool {
	return !math.IsNaN(p.Lat) && !math.IsNaN(p.Lon) &&
		p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}

// DistanceMeters returns the haversine distance between a and b.
func DistanceMeters(a, b Point) float64 {
	dLat := radians(b.Lat - a.Lat)
	dLon := radians(b.Lon - a.Lon)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(radians(a.Lat))*math.Cos(radians(b.Lat))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusKm * c * 1000
}

// Inside reports whether p lies within radiusMeters of center, boundary included.
func Inside(p, center Point, radiusMeters float64) bool {
	return DistanceMeters(p, center) <= radiusMeters
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

// Fix is a point observed at an instant.
type Fix struct {
	Point
	At time.Time `json:"recordedAt"`
}

// Travel describes the implied movement between two fixes.
type Travel struct {
	DistanceMeters float64
	SpeedKmh       float64
	Impossible     bool
}

// DetectTravel derives the implied speed between from and to. The order of
// the fixes does not matter; only the absolute time gap is used.
func DetectTravel(from, to Fix) Travel {
	d := DistanceMeters(from.Point, to.Point)
	seconds := math.Abs(to.At.Sub(from.At).Seconds())

	if seconds == 0 {
		return Travel{
			DistanceMeters: d,
			SpeedKmh:       math.Inf(1),
			Impossible:     d > SameInstantToleranceMeters,
		}
	}

	speed := (d / 1000) / (seconds / 3600)
	return Travel{
		DistanceMeters: d,
		SpeedKmh:       speed,
		Impossible:     speed > MaxPlausibleSpeedKmh,
	}
}
