package loadsim

import "time"

// Defaults used by the command line.
const (
	DefaultEmployees = 20
	DefaultSamples   = 240
	DefaultBatchSize = 100
	DefaultJumpEvery = 60
	DefaultInterval  = 30 * time.Second
	DefaultTimeout   = 30 * time.Second
)

const (
	walkSpeedMps      = 1.4
	jumpDegrees       = 1.0
	metersPerDegree   = 111_320.0
	tokenTTL          = time.Hour
	percentMultiplier = 100
)
