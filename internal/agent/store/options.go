package store

import "time"

// Option configures a Store.
type Option func(*options)

type options struct {
	openTimeout time.Duration
	kdf         kdfParams
	now         func() time.Time
}

// WithOpenTimeout bounds how long Open waits for the file lock held by
// another process.
func WithOpenTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.openTimeout = d
		}
	}
}

// WithKDFCost sets the argon2id memory (KiB) and iteration cost. The cost is
// fixed for the lifetime of a store file.
func WithKDFCost(memoryKiB, iterations uint32) Option {
	return func(o *options) {
		if memoryKiB > 0 {
			o.kdf.memory = memoryKiB
		}
		if iterations > 0 {
			o.kdf.iterations = iterations
		}
	}
}

// WithClock sets the time source used for CreatedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}
