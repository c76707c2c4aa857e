package repository

import "time"

// PostgresOption configures a PostgresStore.
type PostgresOption func(*postgresOptions)

type postgresOptions struct {
	maxOpenConns    int
	maxIdleConns    int
	connMaxLifetime time.Duration
	migrate         bool
}

func defaultPostgresOptions() postgresOptions {
	return postgresOptions{
		maxOpenConns:    20,
		maxIdleConns:    5,
		connMaxLifetime: 30 * time.Minute,
		migrate:         true,
	}
}

// WithMaxOpenConns caps the connection pool.
func WithMaxOpenConns(n int) PostgresOption {
	return func(o *postgresOptions) {
		if n > 0 {
			o.maxOpenConns = n
		}
	}
}

// WithMaxIdleConns sets how many idle connections are kept.
func WithMaxIdleConns(n int) PostgresOption {
	return func(o *postgresOptions) {
		if n >= 0 {
			o.maxIdleConns = n
		}
	}
}

// WithConnMaxLifetime recycles connections older than d.
func WithConnMaxLifetime(d time.Duration) PostgresOption {
	return func(o *postgresOptions) {
		if d > 0 {
			o.connMaxLifetime = d
		}
	}
}

// WithMigrations toggles schema migration on open. Enabled by default.
func WithMigrations(enabled bool) PostgresOption {
	return func(o *postgresOptions) {
		o.migrate = enabled
	}
}
