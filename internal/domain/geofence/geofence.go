// Package geofence evaluates a point against an employee's assigned zones and
// turns the result into an allow, warn or deny decision.
package geofence

import (
	"fmt"
	"sort"
	"strings"

	"github.com/okian/fieldguard/internal/domain/geo"
	"github.com/okian/fieldguard/internal/domain/model"
)

// Outcome is the gate result for an attendance action.
type Outcome string

const (
	OutcomeAllow Outcome = "allow"
	OutcomeWarn  Outcome = "warn"
	OutcomeDeny  Outcome = "deny"
)

// Warning names the zones the point fell outside of, nearest first.
type Warning struct {
	Message   string                   `json:"message"`
	Policy    model.GeofencePolicy     `json:"policy"`
	Geofences []model.GeofenceDistance `json:"geofences"`
}

// Decision is what the caller enforces.
type Decision struct {
	Outcome Outcome
	Check   model.GeofenceCheckResult
	Warning *Warning
}

// Allowed reports whether the action may proceed.
func (d Decision) Allowed() bool { return d.Outcome != OutcomeDeny }

// Evaluate computes distance and membership for every active zone. Inactive
// zones are ignored as if unassigned.
func Evaluate(zones []model.Geofence, p geo.Point, policy model.GeofencePolicy) model.GeofenceCheckResult {
	res := model.GeofenceCheckResult{
		Geofences: make([]model.GeofenceDistance, 0, len(zones)),
		Policy:    policy,
	}
	for _, z := range zones {
		if !z.Active {
			continue
		}
		d := geo.DistanceMeters(p, z.Center())
		in := d <= z.RadiusMeters
		res.Geofences = append(res.Geofences, model.GeofenceDistance{
			Geofence:       z,
			DistanceMeters: d,
			Inside:         in,
		})
		res.InsideAnyGeofence = res.InsideAnyGeofence || in
	}
	res.HasAssignedGeofences = len(res.Geofences) > 0
	return res
}

// Decide applies the enforcement policy carried by the check.
func Decide(check model.GeofenceCheckResult) Decision {
	if !check.HasAssignedGeofences || check.InsideAnyGeofence {
		return Decision{Outcome: OutcomeAllow, Check: check}
	}

	nearest := append([]model.GeofenceDistance(nil), check.Geofences...)
	sort.SliceStable(nearest, func(i, j int) bool {
		return nearest[i].DistanceMeters < nearest[j].DistanceMeters
	})
	w := &Warning{
		Message:   outsideMessage(nearest),
		Policy:    check.Policy,
		Geofences: nearest,
	}

	if check.Policy == model.PolicyBlock {
		return Decision{Outcome: OutcomeDeny, Check: check, Warning: w}
	}
	return Decision{Outcome: OutcomeWarn, Check: check, Warning: w}
}

// Gate is Evaluate followed by Decide.
func Gate(zones []model.Geofence, p geo.Point, policy model.GeofencePolicy) Decision {
	return Decide(Evaluate(zones, p, policy))
}

func outsideMessage(zones []model.GeofenceDistance) string {
	parts := make([]string, 0, len(zones))
	for _, z := range zones {
		parts = append(parts, fmt.Sprintf("%s (%.0f m away)", z.Geofence.Name, z.DistanceMeters))
	}
	return "outside all assigned geofences: " + strings.Join(parts, ", ")
}
