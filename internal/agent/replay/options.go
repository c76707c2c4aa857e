package replay

import "github.com/okian/fieldguard/pkg/logger"

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithActionLimit caps actions read per run.
func WithActionLimit(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.actionLimit = n
		}
	}
}

// WithSampleBatch sets samples per upload. The server accepts at most 500.
func WithSampleBatch(n int) Option {
	return func(c *Coordinator) {
		if n > 0 && n <= 500 {
			c.sampleBatch = n
		}
	}
}

// WithRefresher sets who is asked for a new token after a 401.
func WithRefresher(r Refresher) Option {
	return func(c *Coordinator) {
		c.refresher = r
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Coordinator) {
		c.logger = l
	}
}
