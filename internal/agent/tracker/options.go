package tracker

import (
	"time"

	"github.com/okian/fieldguard/pkg/logger"
)

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock sets the time source for action timestamps.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(t *Tracker) {
		t.logger = l
	}
}
