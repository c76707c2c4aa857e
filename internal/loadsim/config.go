package loadsim

import "time"

// Config holds configuration for a load simulation run.
type Config struct {
	BaseURL     string        // Base URL of the service
	Employees   int           // Number of simulated employees
	Samples     int           // Samples per employee
	BatchSize   int           // Samples per upload request
	JumpEvery   int           // Inject a teleport every N samples (0 = never)
	Interval    time.Duration // Time between consecutive fixes
	Workers     int           // Employees uploading at once
	Timeout     time.Duration // HTTP request timeout
	JWTSecret   string        // Secret the server verifies tokens with
	JWTIssuer   string        // Issuer claim, empty to omit
	Seed        int64         // Random seed, 0 = time based
	Verbose     bool          // Log every batch
	CenterLat   float64       // Where the simulated routes start
	CenterLon   float64
	SpreadMeter float64 // Employees start within this distance of the center
}

// Stats holds run statistics.
type Stats struct {
	SamplesGenerated int
	JumpsInjected    int
	BatchesSent      int
	Synced           int
	Duplicates       int
	BatchesFailed    int
	AlertsObserved   int
	StartTime        time.Time
	EndTime          time.Time
	Duration         time.Duration
}
