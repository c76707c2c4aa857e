package model

import "time"

// Severity is the coarse bucket derived from a risk score.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// AlertType names the signal that fired.
type AlertType string

const (
	AlertMockLocation     AlertType = "MOCK_LOCATION"
	AlertImpossibleTravel AlertType = "IMPOSSIBLE_TRAVEL"
	AlertGNSSAnomaly      AlertType = "GNSS_ANOMALY"
	AlertSensorMismatch   AlertType = "SENSOR_MISMATCH"
)

// Alert is one triggered signal with its weight.
type Alert struct {
	Type    AlertType      `json:"type"`
	Details map[string]any `json:"details"`
	Score   int            `json:"score"`
}

// RiskAssessment is computed once per sample at ingest.
type RiskAssessment struct {
	Score    int      `json:"score"`
	Severity Severity `json:"severity"`
	Alerts   []Alert  `json:"alerts"`
}

// AlertRecord is the append-only audit entry persisted for an Alert.
type AlertRecord struct {
	ID         string         `json:"id"`
	EmployeeID string         `json:"employeeId"`
	SampleID   string         `json:"sampleId"`
	Type       AlertType      `json:"type"`
	Severity   Severity       `json:"severity"`
	RiskScore  int            `json:"riskScore"`
	Details    map[string]any `json:"details"`
	Latitude   float64        `json:"latitude"`
	Longitude  float64        `json:"longitude"`
	CreatedAt  time.Time      `json:"createdAt"`
}
