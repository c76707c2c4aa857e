// Package model contains the data shapes shared by the server and the agent.
package model

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/okian/fieldguard/internal/domain/geo"
)

// Accelerometer is a raw 3-axis reading in m/s².
type Accelerometer struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Magnitude returns sqrt(x²+y²+z²).
func (a Accelerometer) Magnitude() float64 {
	return math.Sqrt(a.X*a.X + a.Y*a.Y + a.Z*a.Z)
}

// LocationSample is one device fix with optional sensor metadata.
type LocationSample struct {
	Latitude       float64        `json:"latitude"`
	Longitude      float64        `json:"longitude"`
	Accuracy       *float64       `json:"accuracy,omitempty"`
	Altitude       *float64       `json:"altitude,omitempty"`
	Speed          *float64       `json:"speed,omitempty"` // m/s
	Bearing        *float64       `json:"bearing,omitempty"`
	Provider       string         `json:"provider,omitempty"`
	IsMock         bool           `json:"isMock"`
	BatteryLevel   *int           `json:"batteryLevel,omitempty"`
	DeviceID       string         `json:"deviceId,omitempty"`
	SatelliteCount *int           `json:"satelliteCount,omitempty"`
	SNRAverage     *float64       `json:"snrAverage,omitempty"`
	Accelerometer  *Accelerometer `json:"accelerometer,omitempty"`
	RecordedAt     time.Time      `json:"recordedAt"`
}

// Point returns the sample coordinate.
func (s *LocationSample) Point() geo.Point {
	return geo.Point{Lat: s.Latitude, Lon: s.Longitude}
}

// Fix returns the sample as a timestamped point.
func (s *LocationSample) Fix() geo.Fix {
	return geo.Fix{Point: s.Point(), At: s.RecordedAt}
}

// Validate checks ranges. Optional fields are only checked when present.
func (s *LocationSample) Validate() error {
	switch {
	case math.IsNaN(s.Latitude) || s.Latitude < -90 || s.Latitude > 90:
		return Invalid("latitude", "must be between -90 and 90")
	case math.IsNaN(s.Longitude) || s.Longitude < -180 || s.Longitude > 180:
		return Invalid("longitude", "must be between -180 and 180")
	case s.RecordedAt.IsZero():
		return Invalid("recordedAt", "is required")
	case s.BatteryLevel != nil && (*s.BatteryLevel < 0 || *s.BatteryLevel > 100):
		return Invalid("batteryLevel", "must be between 0 and 100")
	case s.Accuracy != nil && *s.Accuracy < 0:
		return Invalid("accuracy", "must not be negative")
	case s.SatelliteCount != nil && *s.SatelliteCount < 0:
		return Invalid("satelliteCount", "must not be negative")
	}
	return nil
}

// IdentityKey identifies a sample for re-delivery detection: the same
// employee reporting the same coordinates at the same instant.
func IdentityKey(employeeID string, s *LocationSample) string {
	return fmt.Sprintf("%s|%d|%s|%s",
		employeeID,
		s.RecordedAt.UnixMilli(),
		strconv.FormatFloat(s.Latitude, 'f', 7, 64),
		strconv.FormatFloat(s.Longitude, 'f', 7, 64),
	)
}

// StoredSample is a sample after ingest: immutable from here on.
type StoredSample struct {
	LocationSample
	ID         string    `json:"id"`
	EmployeeID string    `json:"employeeId"`
	RiskScore  int       `json:"riskScore"`
	SyncedAt   time.Time `json:"syncedAt"`
}

// Ptr returns a pointer to v, for optional sample fields.
func Ptr[T any](v T) *T { return &v }
