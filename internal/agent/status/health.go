package status

import "time"

// Accuracy buckets a fix's horizontal accuracy.
type Accuracy string

const (
	AccuracyUnknown   Accuracy = "UNKNOWN"
	AccuracyExcellent Accuracy = "EXCELLENT"
	AccuracyGood      Accuracy = "GOOD"
	AccuracyFair      Accuracy = "FAIR"
	AccuracyPoor      Accuracy = "POOR"
)

// AccuracyFor buckets meters: <=10 excellent, <=25 good, <=50 fair, else
// poor. Zero or negative means the device did not report one.
func AccuracyFor(meters float64) Accuracy {
	switch {
	case meters <= 0:
		return AccuracyUnknown
	case meters <= 10:
		return AccuracyExcellent
	case meters <= 25:
		return AccuracyGood
	case meters <= 50:
		return AccuracyFair
	default:
		return AccuracyPoor
	}
}

// Health is a tracking-health snapshot.
type Health struct {
	LastFixAt      time.Time `json:"lastFixAt,omitempty"`
	LastSyncAt     time.Time `json:"lastSyncAt,omitempty"`
	PendingActions int       `json:"pendingActions"`
	PendingSamples int       `json:"pendingSamples"`
	Accuracy       Accuracy  `json:"accuracy"`
	AccuracyMeters float64   `json:"accuracyMeters,omitempty"`
	MockDetected   bool      `json:"mockDetected"`
	LoggedIn       bool      `json:"loggedIn"`
	LastError      string    `json:"lastError,omitempty"`
	LastResult     string    `json:"lastResult,omitempty"`
	Version        uint64    `json:"version"`
}

// Warnings lists conditions worth showing to the user.
func (h Health) Warnings(now time.Time, staleAfter time.Duration) []string {
	var out []string
	if h.MockDetected {
		out = append(out, "mock location provider detected")
	}
	if !h.LoggedIn {
		out = append(out, "logged out: pending work will sync after login")
	}
	if h.LastFixAt.IsZero() || now.Sub(h.LastFixAt) > staleAfter {
		out = append(out, "no recent location fix")
	}
	if h.Accuracy == AccuracyPoor {
		out = append(out, "poor location accuracy")
	}
	return out
}
