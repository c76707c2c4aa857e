package scheduler

import (
	"time"

	"github.com/okian/fieldguard/pkg/logger"
)

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithBackoff sets the first retry delay and the cap.
func WithBackoff(initial, max time.Duration) Option {
	return func(s *Scheduler) {
		if initial > 0 {
			s.initial = initial
		}
		if max >= s.initial {
			s.max = max
		}
	}
}

// WithMaxRetries bounds retries per run. Zero means only the first attempt.
func WithMaxRetries(n uint64) Option {
	return func(s *Scheduler) {
		s.maxRetries = n
	}
}

// WithConnectivityInterval sets how often the probe runs.
func WithConnectivityInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.probeEvery = d
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Scheduler) {
		s.logger = l
	}
}
