package dedupe

// Option applies a configuration option to the deduper.
type Option func(*memoryDeduper)

// WithMaxSize sets the maximum number of keys kept in memory.
// maxSize <= 0 disables eviction.
func WithMaxSize(maxSize int) Option {
	return func(d *memoryDeduper) {
		d.maxSize = maxSize
	}
}
