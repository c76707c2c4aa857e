// Package scoring turns a location sample and its predecessor into a
// spoofing risk assessment.
package scoring

import (
	"math"

	"github.com/okian/fieldguard/internal/domain/geo"
	"github.com/okian/fieldguard/internal/domain/model"
)

// Signal weights. The total is capped at MaxScore.
const (
	WeightMockLocation     = 40
	WeightImpossibleTravel = 30
	WeightLowSatellites    = 15
	WeightUniformSNR       = 20
	WeightSensorMismatch   = 20

	MaxScore = 100
)

// Signal thresholds.
const (
	minGPSSatellites        = 4
	maxPlausibleSNR         = 45.0
	movingSpeedMps          = 5.0
	standardGravity         = 9.8
	stationaryAccelEpsilon  = 0.5
	thresholdCritical       = 70
	thresholdHigh           = 50
	thresholdMedium         = 30
	providerGPS             = "gps"
	reasonUniformSNR        = "abnormally_high_uniform_snr"
	reasonStationaryWhileGo = "gps_moving_but_accelerometer_stationary"
)

// Scorer computes a risk assessment for current given the employee's
// immediately preceding sample, which may be nil.
type Scorer interface {
	Score(current, previous *model.LocationSample) model.RiskAssessment
}

// Engine is the rule-based Scorer. It holds no state.
type Engine struct{}

// NewEngine returns the rule-based scorer.
func NewEngine() *Engine { return &Engine{} }

// Score evaluates every signal independently and sums the weights of those
// that fire. A missing optional field skips its signal.
func (e *Engine) Score(current, previous *model.LocationSample) model.RiskAssessment {
	alerts := make([]model.Alert, 0, 2)

	if current.IsMock {
		alerts = append(alerts, model.Alert{
			Type:    model.AlertMockLocation,
			Score:   WeightMockLocation,
			Details: map[string]any{"provider": current.Provider},
		})
	}

	if previous != nil {
		if tr := geo.DetectTravel(previous.Fix(), current.Fix()); tr.Impossible {
			alerts = append(alerts, model.Alert{
				Type:  model.AlertImpossibleTravel,
				Score: WeightImpossibleTravel,
				Details: map[string]any{
					"speedKmh": roundSpeed(tr.SpeedKmh),
					"fromLat":  previous.Latitude,
					"fromLon":  previous.Longitude,
				},
			})
		}
	}

	if current.Provider == providerGPS && current.SatelliteCount != nil && *current.SatelliteCount < minGPSSatellites {
		alerts = append(alerts, model.Alert{
			Type:  model.AlertGNSSAnomaly,
			Score: WeightLowSatellites,
			Details: map[string]any{
				"satelliteCount": *current.SatelliteCount,
				"expected":       ">=4",
			},
		})
	}

	if current.SNRAverage != nil && *current.SNRAverage > maxPlausibleSNR {
		alerts = append(alerts, model.Alert{
			Type:  model.AlertGNSSAnomaly,
			Score: WeightUniformSNR,
			Details: map[string]any{
				"snrAverage": *current.SNRAverage,
				"reason":     reasonUniformSNR,
			},
		})
	}

	if current.Speed != nil && *current.Speed > movingSpeedMps && current.Accelerometer != nil {
		mag := current.Accelerometer.Magnitude()
		if math.Abs(mag-standardGravity) < stationaryAccelEpsilon {
			alerts = append(alerts, model.Alert{
				Type:  model.AlertSensorMismatch,
				Score: WeightSensorMismatch,
				Details: map[string]any{
					"gpsSpeed":       *current.Speed,
					"accelMagnitude": mag,
					"reason":         reasonStationaryWhileGo,
				},
			})
		}
	}

	total := 0
	for _, a := range alerts {
		total += a.Score
	}
	score := clamp(total)

	return model.RiskAssessment{
		Score:    score,
		Severity: SeverityFor(score),
		Alerts:   alerts,
	}
}

// SeverityFor maps a score to the highest tier whose threshold it meets.
func SeverityFor(score int) model.Severity {
	switch {
	case score >= thresholdCritical:
		return model.SeverityCritical
	case score >= thresholdHigh:
		return model.SeverityHigh
	case score >= thresholdMedium:
		return model.SeverityMedium
	default:
		return model.SeverityLow
	}
}

// roundSpeed keeps +Inf (same-instant jumps) out of JSON payloads.
func roundSpeed(kmh float64) float64 {
	if math.IsInf(kmh, 0) || math.IsNaN(kmh) {
		return -1
	}
	return math.Round(kmh)
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > MaxScore {
		return MaxScore
	}
	return v
}
