package model

import (
	"strings"

	"github.com/okian/fieldguard/internal/domain/geo"
)

// Geofence radius bounds in meters.
const (
	MinGeofenceRadius     = 50.0
	MaxGeofenceRadius     = 10_000.0
	DefaultGeofenceRadius = 100.0
)

// GeofenceType tags what a zone represents.
type GeofenceType string

const (
	GeofenceOffice    GeofenceType = "OFFICE"
	GeofenceClient    GeofenceType = "CLIENT"
	GeofenceWarehouse GeofenceType = "WAREHOUSE"
	GeofenceCustom    GeofenceType = "CUSTOM"
)

// ParseGeofenceType maps unknown values to CUSTOM.
func ParseGeofenceType(s string) GeofenceType {
	switch t := GeofenceType(strings.ToUpper(strings.TrimSpace(s))); t {
	case GeofenceOffice, GeofenceClient, GeofenceWarehouse:
		return t
	default:
		return GeofenceCustom
	}
}

// Geofence is a named circular zone.
type Geofence struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Latitude     float64      `json:"latitude"`
	Longitude    float64      `json:"longitude"`
	RadiusMeters float64      `json:"radiusMeters"`
	Type         GeofenceType `json:"type"`
	Active       bool         `json:"isActive"`
	Address      string       `json:"address,omitempty"`
}

// Center returns the zone centre.
func (g *Geofence) Center() geo.Point {
	return geo.Point{Lat: g.Latitude, Lon: g.Longitude}
}

// Validate enforces name, centre and radius bounds.
func (g *Geofence) Validate() error {
	switch {
	case strings.TrimSpace(g.Name) == "":
		return Invalid("name", "is required")
	case !g.Center().Valid():
		return Invalid("center", "coordinates out of range")
	case g.RadiusMeters < MinGeofenceRadius || g.RadiusMeters > MaxGeofenceRadius:
		return Invalid("radiusMeters", "must be between 50 and 10000")
	}
	return nil
}

// GeofencePolicy decides what happens outside all assigned zones.
type GeofencePolicy string

const (
	PolicyWarn  GeofencePolicy = "WARN"
	PolicyBlock GeofencePolicy = "BLOCK"
)

// ParsePolicy returns BLOCK only for an explicit "BLOCK"; anything else is WARN.
func ParsePolicy(s string) GeofencePolicy {
	if strings.EqualFold(strings.TrimSpace(s), string(PolicyBlock)) {
		return PolicyBlock
	}
	return PolicyWarn
}

// GeofenceDistance is the per-zone part of a check.
type GeofenceDistance struct {
	Geofence       Geofence `json:"geofence"`
	DistanceMeters float64  `json:"distanceMeters"`
	Inside         bool     `json:"inside"`
}

// GeofenceCheckResult is computed on demand and never persisted.
type GeofenceCheckResult struct {
	Geofences            []GeofenceDistance `json:"geofences"`
	InsideAnyGeofence    bool               `json:"insideAnyGeofence"`
	HasAssignedGeofences bool               `json:"hasAssignedGeofences"`
	Policy               GeofencePolicy     `json:"policy"`
}
