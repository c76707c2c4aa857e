// Package config defines configuration for the fieldguard server and the
// field agent, and the koanf-based loaders that populate them.
package config

import (
	"context"
	"runtime"
	"time"
)

// Config contains server process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the slog handler: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// DatabaseURL is a PostgreSQL DSN. Empty selects the in-memory store.
	DatabaseURL string `koanf:"database_url"`

	// PartitionCount is the number of ingest partitions, one worker each.
	PartitionCount int `koanf:"partition_count"`

	// PartitionQueueSize bounds pending batches per partition.
	PartitionQueueSize int `koanf:"partition_queue_size"`

	// DedupeSize bounds the in-memory sample identity cache.
	DedupeSize int `koanf:"dedupe_size"`

	// MaxBatchSize caps samples per ingest request.
	MaxBatchSize int `koanf:"max_batch_size"`

	// IngestTimeout bounds how long a request waits for its batch.
	IngestTimeout time.Duration `koanf:"ingest_timeout"`

	// GeofencePolicy is WARN or BLOCK. Anything else reads as WARN.
	GeofencePolicy string `koanf:"geofence_policy"`

	// JWTSecret verifies HS256 bearer tokens issued by the auth service.
	JWTSecret string `koanf:"jwt_secret"`

	// JWTIssuer, when set, must match the iss claim.
	JWTIssuer string `koanf:"jwt_issuer"`

	// CORSOrigins lists allowed browser origins.
	CORSOrigins []string `koanf:"cors_origins"`

	// Attendance rules.
	OfficeStartHour      int    `koanf:"office_start_hour"`
	LateThresholdMinutes int    `koanf:"late_threshold_minutes"`
	HalfDayHours         int    `koanf:"half_day_hours"`
	Timezone             string `koanf:"timezone"`

	// SeedGeofences preloads zones into the in-memory store.
	SeedGeofences []SeedGeofence `koanf:"seed_geofences"`
}

// SeedGeofence describes a zone and the employees assigned to it.
type SeedGeofence struct {
	ID           string   `koanf:"id"`
	Name         string   `koanf:"name"`
	Latitude     float64  `koanf:"latitude"`
	Longitude    float64  `koanf:"longitude"`
	RadiusMeters float64  `koanf:"radius_meters"`
	Type         string   `koanf:"type"`
	Employees    []string `koanf:"employees"`
}

// New returns a Config populated with defaults.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:             "info",
		LogFormat:            "text",
		Addr:                 ":9080",
		PartitionCount:       runtime.NumCPU() * 2,
		PartitionQueueSize:   1024,
		DedupeSize:           500_000,
		MaxBatchSize:         500,
		IngestTimeout:        30 * time.Second,
		GeofencePolicy:       "WARN",
		CORSOrigins:          []string{"*"},
		OfficeStartHour:      9,
		LateThresholdMinutes: 15,
		HalfDayHours:         4,
		Timezone:             "UTC",
	}
}

// AgentConfig configures the field agent running on a device.
type AgentConfig struct {
	LogLevel  string `koanf:"log_level"`
	LogFormat string `koanf:"log_format"`

	// ServerURL is the fieldguard API base, e.g. https://fieldguard.example.com.
	ServerURL string `koanf:"server_url"`

	// StorePath is the bbolt file holding the offline queue.
	StorePath string `koanf:"store_path"`

	// Passphrase derives the at-rest encryption key for the store.
	Passphrase string `koanf:"passphrase"`

	// DeviceID tags uploads from this device.
	DeviceID string `koanf:"device_id"`

	// TokenFile is re-read for a fresh bearer token after a 401. Empty means
	// a rejected token logs the device out.
	TokenFile string `koanf:"token_file"`

	// ControlSocket is the unix socket a running agent accepts commands on.
	// Empty means the store path with a .sock suffix.
	ControlSocket string `koanf:"control_socket"`

	ReplayInterval       time.Duration `koanf:"replay_interval"`
	ReplayLimit          int           `koanf:"replay_limit"`
	LocationBatch        int           `koanf:"location_batch"`
	BackoffInitial       time.Duration `koanf:"backoff_initial"`
	BackoffMax           time.Duration `koanf:"backoff_max"`
	RequestTimeout       time.Duration `koanf:"request_timeout"`
	ConnectivityInterval time.Duration `koanf:"connectivity_interval"`
}

// SocketPath resolves the control socket location.
func (c *AgentConfig) SocketPath() string {
	if c.ControlSocket != "" {
		return c.ControlSocket
	}
	return c.StorePath + ".sock"
}

// NewAgent returns an AgentConfig populated with defaults.
func NewAgent(_ context.Context) *AgentConfig {
	return &AgentConfig{
		LogLevel:             "info",
		LogFormat:            "text",
		ServerURL:            "http://localhost:9080",
		StorePath:            "field-agent.db",
		ReplayInterval:       15 * time.Minute,
		ReplayLimit:          50,
		LocationBatch:        500,
		BackoffInitial:       30 * time.Second,
		BackoffMax:           30 * time.Minute,
		RequestTimeout:       20 * time.Second,
		ConnectivityInterval: 30 * time.Second,
	}
}
