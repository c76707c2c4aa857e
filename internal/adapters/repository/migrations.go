package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

type migration struct {
	version string
	stmts   []string
}

// Ordered; never edit an applied entry, append a new one.
var migrations = []migration{
	{
		version: "0001_samples",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS location_samples (
  seq             BIGSERIAL PRIMARY KEY,
  id              UUID NOT NULL UNIQUE,
  employee_id     TEXT NOT NULL,
  latitude        DOUBLE PRECISION NOT NULL,
  longitude       DOUBLE PRECISION NOT NULL,
  accuracy        DOUBLE PRECISION NULL,
  altitude        DOUBLE PRECISION NULL,
  speed           DOUBLE PRECISION NULL,
  bearing         DOUBLE PRECISION NULL,
  provider        TEXT NOT NULL DEFAULT '',
  is_mock         BOOLEAN NOT NULL DEFAULT FALSE,
  battery_level   INTEGER NULL,
  device_id       TEXT NOT NULL DEFAULT '',
  satellite_count INTEGER NULL,
  snr_average     DOUBLE PRECISION NULL,
  accel_x         DOUBLE PRECISION NULL,
  accel_y         DOUBLE PRECISION NULL,
  accel_z         DOUBLE PRECISION NULL,
  risk_score      INTEGER NOT NULL,
  recorded_at     TIMESTAMPTZ NOT NULL,
  synced_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
  CONSTRAINT uq_location_samples_identity UNIQUE (employee_id, recorded_at, latitude, longitude)
)`,
			`CREATE INDEX IF NOT EXISTS ix_location_samples_employee_time ON location_samples(employee_id, recorded_at)`,
			`CREATE TABLE IF NOT EXISTS spoofing_alerts (
  id          UUID PRIMARY KEY,
  employee_id TEXT NOT NULL,
  sample_id   UUID NOT NULL REFERENCES location_samples(id),
  alert_type  TEXT NOT NULL,
  severity    TEXT NOT NULL,
  risk_score  INTEGER NOT NULL,
  details     JSONB NOT NULL DEFAULT '{}'::jsonb,
  latitude    DOUBLE PRECISION NOT NULL,
  longitude   DOUBLE PRECISION NOT NULL,
  created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
			`CREATE INDEX IF NOT EXISTS ix_spoofing_alerts_created ON spoofing_alerts(created_at DESC)`,
		},
	},
	{
		version: "0002_geofences",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS geofences (
  id            TEXT PRIMARY KEY,
  name          TEXT NOT NULL,
  latitude      DOUBLE PRECISION NOT NULL,
  longitude     DOUBLE PRECISION NOT NULL,
  radius_meters DOUBLE PRECISION NOT NULL,
  zone_type     TEXT NOT NULL,
  is_active     BOOLEAN NOT NULL DEFAULT TRUE,
  address       TEXT NOT NULL DEFAULT ''
)`,
			`CREATE TABLE IF NOT EXISTS geofence_assignments (
  employee_id TEXT NOT NULL,
  geofence_id TEXT NOT NULL REFERENCES geofences(id) ON DELETE CASCADE,
  PRIMARY KEY (employee_id, geofence_id)
)`,
		},
	},
	{
		version: "0003_attendance",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS attendance (
  id               UUID PRIMARY KEY,
  employee_id      TEXT NOT NULL,
  day              DATE NOT NULL,
  time_in          TIMESTAMPTZ NULL,
  time_in_lat      DOUBLE PRECISION NULL,
  time_in_lon      DOUBLE PRECISION NULL,
  time_out         TIMESTAMPTZ NULL,
  time_out_lat     DOUBLE PRECISION NULL,
  time_out_lon     DOUBLE PRECISION NULL,
  device_id        TEXT NOT NULL DEFAULT '',
  status           TEXT NOT NULL,
  geofence_warning BOOLEAN NOT NULL DEFAULT FALSE,
  CONSTRAINT uq_attendance_employee_day UNIQUE (employee_id, day)
)`,
		},
	},
	{
		// Re-delivery is judged on the same key the ingest dedupe uses:
		// millisecond time and coordinates rounded to 7 places. Only the
		// first row of any legacy collision gets the key.
		version: "0004_sample_identity_key",
		stmts: []string{
			`ALTER TABLE location_samples ADD COLUMN IF NOT EXISTS identity_key TEXT NULL`,
			`UPDATE location_samples s SET identity_key = k.key
FROM (
  SELECT DISTINCT ON (key) seq, key FROM (
    SELECT seq,
           employee_id || '|' ||
           floor(extract(epoch FROM recorded_at) * 1000)::bigint || '|' ||
           round(latitude::numeric, 7)::text || '|' ||
           round(longitude::numeric, 7)::text AS key
    FROM location_samples
  ) t
  ORDER BY key, seq
) k
WHERE s.seq = k.seq`,
			`ALTER TABLE location_samples DROP CONSTRAINT IF EXISTS uq_location_samples_identity`,
			`CREATE UNIQUE INDEX IF NOT EXISTS uq_location_samples_identity_key ON location_samples(identity_key)`,
		},
	},
}

// Migrate applies pending migrations in order, each in its own transaction.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
  version    TEXT PRIMARY KEY,
  applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var applied []string
	if err := db.SelectContext(ctx, &applied, `SELECT version FROM schema_migrations`); err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	done := make(map[string]bool, len(applied))
	for _, v := range applied {
		done[v] = true
	}

	for _, m := range migrations {
		if done[m.version] {
			continue
		}
		err := RunInTx(ctx, db, nil, func(ctx context.Context, tx DBTX) error {
			for _, stmt := range m.stmts {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return err
				}
			}
			_, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version) VALUES ($1)`, m.version)
			return err
		})
		if err != nil {
			return fmt.Errorf("apply migration %s: %w", m.version, err)
		}
	}
	return nil
}
