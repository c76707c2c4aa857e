package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver "pgx"
	"github.com/jmoiron/sqlx"

	"github.com/okian/fieldguard/internal/domain/model"
)

// PostgresStore is the production Store.
type PostgresStore struct {
	db *sqlx.DB
}

// OpenPostgres connects, pings and (unless disabled) migrates.
func OpenPostgres(ctx context.Context, dsn string, opts ...PostgresOption) (*PostgresStore, error) {
	o := defaultPostgresOptions()
	for _, opt := range opts {
		opt(&o)
	}

	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(o.maxOpenConns)
	db.SetMaxIdleConns(o.maxIdleConns)
	db.SetConnMaxLifetime(o.connMaxLifetime)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if o.migrate {
		if err := Migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return &PostgresStore{db: db}, nil
}

// DB exposes the pool for health probes.
func (p *PostgresStore) DB() *sqlx.DB { return p.db }

func (p *PostgresStore) Close() error { return p.db.Close() }

// Ping checks the database connection.
func (p *PostgresStore) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

type sampleRow struct {
	ID             string    `db:"id"`
	EmployeeID     string    `db:"employee_id"`
	Latitude       float64   `db:"latitude"`
	Longitude      float64   `db:"longitude"`
	Accuracy       *float64  `db:"accuracy"`
	Altitude       *float64  `db:"altitude"`
	Speed          *float64  `db:"speed"`
	Bearing        *float64  `db:"bearing"`
	Provider       string    `db:"provider"`
	IsMock         bool      `db:"is_mock"`
	BatteryLevel   *int      `db:"battery_level"`
	DeviceID       string    `db:"device_id"`
	SatelliteCount *int      `db:"satellite_count"`
	SNRAverage     *float64  `db:"snr_average"`
	AccelX         *float64  `db:"accel_x"`
	AccelY         *float64  `db:"accel_y"`
	AccelZ         *float64  `db:"accel_z"`
	RiskScore      int       `db:"risk_score"`
	RecordedAt     time.Time `db:"recorded_at"`
	SyncedAt       time.Time `db:"synced_at"`
	IdentityKey    string    `db:"identity_key"`
}

const sampleColumns = `id, employee_id, latitude, longitude, accuracy, altitude, speed, bearing,
provider, is_mock, battery_level, device_id, satellite_count, snr_average,
accel_x, accel_y, accel_z, risk_score, recorded_at, synced_at`

func toSampleRow(s model.StoredSample) sampleRow {
	r := sampleRow{
		ID:             s.ID,
		EmployeeID:     s.EmployeeID,
		Latitude:       s.Latitude,
		Longitude:      s.Longitude,
		Accuracy:       s.Accuracy,
		Altitude:       s.Altitude,
		Speed:          s.Speed,
		Bearing:        s.Bearing,
		Provider:       s.Provider,
		IsMock:         s.IsMock,
		BatteryLevel:   s.BatteryLevel,
		DeviceID:       s.DeviceID,
		SatelliteCount: s.SatelliteCount,
		SNRAverage:     s.SNRAverage,
		RiskScore:      s.RiskScore,
		RecordedAt:     s.RecordedAt.UTC().Truncate(time.Millisecond),
		SyncedAt:       s.SyncedAt.UTC(),
		IdentityKey:    model.IdentityKey(s.EmployeeID, &s.LocationSample),
	}
	if a := s.Accelerometer; a != nil {
		r.AccelX, r.AccelY, r.AccelZ = &a.X, &a.Y, &a.Z
	}
	return r
}

func (r sampleRow) model() model.StoredSample {
	s := model.StoredSample{
		ID:         r.ID,
		EmployeeID: r.EmployeeID,
		RiskScore:  r.RiskScore,
		SyncedAt:   r.SyncedAt,
		LocationSample: model.LocationSample{
			Latitude:       r.Latitude,
			Longitude:      r.Longitude,
			Accuracy:       r.Accuracy,
			Altitude:       r.Altitude,
			Speed:          r.Speed,
			Bearing:        r.Bearing,
			Provider:       r.Provider,
			IsMock:         r.IsMock,
			BatteryLevel:   r.BatteryLevel,
			DeviceID:       r.DeviceID,
			SatelliteCount: r.SatelliteCount,
			SNRAverage:     r.SNRAverage,
			RecordedAt:     r.RecordedAt,
		},
	}
	if r.AccelX != nil && r.AccelY != nil && r.AccelZ != nil {
		s.Accelerometer = &model.Accelerometer{X: *r.AccelX, Y: *r.AccelY, Z: *r.AccelZ}
	}
	return s
}

func (p *PostgresStore) LatestSample(ctx context.Context, employeeID string) (*model.StoredSample, error) {
	var row sampleRow
	err := p.db.GetContext(ctx, &row,
		`SELECT `+sampleColumns+` FROM location_samples WHERE employee_id = $1 ORDER BY seq DESC LIMIT 1`,
		employeeID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest sample: %w", err)
	}
	s := row.model()
	return &s, nil
}

func (p *PostgresStore) SaveScored(ctx context.Context, sample model.StoredSample, alerts []model.AlertRecord) error {
	if sample.ID == "" {
		sample.ID = uuid.NewString()
	}
	if sample.SyncedAt.IsZero() {
		sample.SyncedAt = time.Now()
	}
	row := toSampleRow(sample)

	return RunInTx(ctx, p.db, nil, func(ctx context.Context, tx DBTX) error {
		q, args, err := sqlx.Named(`
INSERT INTO location_samples (`+sampleColumns+`, identity_key)
VALUES (:id, :employee_id, :latitude, :longitude, :accuracy, :altitude, :speed, :bearing,
        :provider, :is_mock, :battery_level, :device_id, :satellite_count, :snr_average,
        :accel_x, :accel_y, :accel_z, :risk_score, :recorded_at, :synced_at, :identity_key)
ON CONFLICT (identity_key) DO NOTHING
RETURNING id`, row)
		if err != nil {
			return err
		}
		var id string
		err = tx.QueryRowxContext(ctx, tx.Rebind(q), args...).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrDuplicate
		}
		if err != nil {
			return fmt.Errorf("insert sample: %w", err)
		}

		for _, a := range alerts {
			if a.ID == "" {
				a.ID = uuid.NewString()
			}
			details, err := json.Marshal(a.Details)
			if err != nil {
				return fmt.Errorf("encode alert details: %w", err)
			}
			created := a.CreatedAt
			if created.IsZero() {
				created = sample.SyncedAt
			}
			if _, err := tx.ExecContext(ctx, `
INSERT INTO spoofing_alerts (id, employee_id, sample_id, alert_type, severity, risk_score, details, latitude, longitude, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
				a.ID, sample.EmployeeID, id, string(a.Type), string(a.Severity), a.RiskScore,
				details, a.Latitude, a.Longitude, created); err != nil {
				return fmt.Errorf("insert alert: %w", err)
			}
		}
		return nil
	})
}

func (p *PostgresStore) SamplesBetween(ctx context.Context, employeeID string, from, to time.Time) ([]model.StoredSample, error) {
	var rows []sampleRow
	err := p.db.SelectContext(ctx, &rows, `
SELECT `+sampleColumns+` FROM location_samples
WHERE employee_id = $1 AND recorded_at >= $2 AND recorded_at < $3
ORDER BY recorded_at, seq`, employeeID, from, to)
	if err != nil {
		return nil, fmt.Errorf("samples between: %w", err)
	}
	out := make([]model.StoredSample, len(rows))
	for i, r := range rows {
		out[i] = r.model()
	}
	return out, nil
}

type alertRow struct {
	ID         string    `db:"id"`
	EmployeeID string    `db:"employee_id"`
	SampleID   string    `db:"sample_id"`
	Type       string    `db:"alert_type"`
	Severity   string    `db:"severity"`
	RiskScore  int       `db:"risk_score"`
	Details    []byte    `db:"details"`
	Latitude   float64   `db:"latitude"`
	Longitude  float64   `db:"longitude"`
	CreatedAt  time.Time `db:"created_at"`
}

func (p *PostgresStore) RecentAlerts(ctx context.Context, q AlertQuery) ([]model.AlertRecord, error) {
	var rows []alertRow
	err := p.db.SelectContext(ctx, &rows, `
SELECT id, employee_id, sample_id, alert_type, severity, risk_score, details, latitude, longitude, created_at
FROM spoofing_alerts
WHERE ($1 = '' OR employee_id = $1)
ORDER BY created_at DESC
LIMIT $2`, q.EmployeeID, maxAlertLimit)
	if err != nil {
		return nil, fmt.Errorf("recent alerts: %w", err)
	}

	limit := alertLimit(q.Limit)
	out := make([]model.AlertRecord, 0, limit)
	for _, r := range rows {
		if len(out) == limit {
			break
		}
		sev := model.Severity(r.Severity)
		if !atLeast(sev, q.MinSeverity) {
			continue
		}
		rec := model.AlertRecord{
			ID:         r.ID,
			EmployeeID: r.EmployeeID,
			SampleID:   r.SampleID,
			Type:       model.AlertType(r.Type),
			Severity:   sev,
			RiskScore:  r.RiskScore,
			Latitude:   r.Latitude,
			Longitude:  r.Longitude,
			CreatedAt:  r.CreatedAt,
		}
		if len(r.Details) > 0 {
			if err := json.Unmarshal(r.Details, &rec.Details); err != nil {
				return nil, fmt.Errorf("decode alert %s details: %w", r.ID, err)
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

type geofenceRow struct {
	ID           string  `db:"id"`
	Name         string  `db:"name"`
	Latitude     float64 `db:"latitude"`
	Longitude    float64 `db:"longitude"`
	RadiusMeters float64 `db:"radius_meters"`
	Type         string  `db:"zone_type"`
	Active       bool    `db:"is_active"`
	Address      string  `db:"address"`
}

func (p *PostgresStore) AssignedGeofences(ctx context.Context, employeeID string) ([]model.Geofence, error) {
	var rows []geofenceRow
	err := p.db.SelectContext(ctx, &rows, `
SELECT g.id, g.name, g.latitude, g.longitude, g.radius_meters, g.zone_type, g.is_active, g.address
FROM geofences g
JOIN geofence_assignments a ON a.geofence_id = g.id
WHERE a.employee_id = $1 AND g.is_active
ORDER BY g.id`, employeeID)
	if err != nil {
		return nil, fmt.Errorf("assigned geofences: %w", err)
	}
	out := make([]model.Geofence, len(rows))
	for i, r := range rows {
		out[i] = model.Geofence{
			ID:           r.ID,
			Name:         r.Name,
			Latitude:     r.Latitude,
			Longitude:    r.Longitude,
			RadiusMeters: r.RadiusMeters,
			Type:         model.ParseGeofenceType(r.Type),
			Active:       r.Active,
			Address:      r.Address,
		}
	}
	return out, nil
}

func (p *PostgresStore) PutGeofence(ctx context.Context, g model.Geofence) error {
	if err := g.Validate(); err != nil {
		return err
	}
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	_, err := p.db.ExecContext(ctx, `
INSERT INTO geofences (id, name, latitude, longitude, radius_meters, zone_type, is_active, address)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO UPDATE SET
  name = EXCLUDED.name, latitude = EXCLUDED.latitude, longitude = EXCLUDED.longitude,
  radius_meters = EXCLUDED.radius_meters, zone_type = EXCLUDED.zone_type,
  is_active = EXCLUDED.is_active, address = EXCLUDED.address`,
		g.ID, g.Name, g.Latitude, g.Longitude, g.RadiusMeters, string(g.Type), g.Active, g.Address)
	if err != nil {
		return fmt.Errorf("put geofence: %w", err)
	}
	return nil
}

func (p *PostgresStore) Assign(ctx context.Context, employeeID, geofenceID string) error {
	var exists bool
	if err := p.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM geofences WHERE id = $1)`, geofenceID); err != nil {
		return fmt.Errorf("assign geofence: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	_, err := p.db.ExecContext(ctx, `
INSERT INTO geofence_assignments (employee_id, geofence_id) VALUES ($1, $2)
ON CONFLICT DO NOTHING`, employeeID, geofenceID)
	if err != nil {
		return fmt.Errorf("assign geofence: %w", err)
	}
	return nil
}

type attendanceRow struct {
	ID              string     `db:"id"`
	EmployeeID      string     `db:"employee_id"`
	Day             string     `db:"day"`
	TimeIn          *time.Time `db:"time_in"`
	TimeInLat       *float64   `db:"time_in_lat"`
	TimeInLon       *float64   `db:"time_in_lon"`
	TimeOut         *time.Time `db:"time_out"`
	TimeOutLat      *float64   `db:"time_out_lat"`
	TimeOutLon      *float64   `db:"time_out_lon"`
	DeviceID        string     `db:"device_id"`
	Status          string     `db:"status"`
	GeofenceWarning bool       `db:"geofence_warning"`
}

func (r attendanceRow) model() model.Attendance {
	return model.Attendance{
		ID:              r.ID,
		EmployeeID:      r.EmployeeID,
		Date:            r.Day,
		TimeIn:          r.TimeIn,
		TimeInLat:       r.TimeInLat,
		TimeInLon:       r.TimeInLon,
		TimeOut:         r.TimeOut,
		TimeOutLat:      r.TimeOutLat,
		TimeOutLon:      r.TimeOutLon,
		DeviceID:        r.DeviceID,
		Status:          model.AttendanceStatus(r.Status),
		GeofenceWarning: r.GeofenceWarning,
	}
}

const attendanceColumns = `id, employee_id, to_char(day, 'YYYY-MM-DD') AS day, time_in, time_in_lat, time_in_lon,
time_out, time_out_lat, time_out_lon, device_id, status, geofence_warning`

func (p *PostgresStore) AttendanceOn(ctx context.Context, employeeID, day string) (*model.Attendance, error) {
	var row attendanceRow
	err := p.db.GetContext(ctx, &row,
		`SELECT `+attendanceColumns+` FROM attendance WHERE employee_id = $1 AND day = $2::date`,
		employeeID, day)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("attendance on %s: %w", day, err)
	}
	rec := row.model()
	return &rec, nil
}

func (p *PostgresStore) SaveAttendance(ctx context.Context, rec model.Attendance) (model.Attendance, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	var row attendanceRow
	err := p.db.GetContext(ctx, &row, `
INSERT INTO attendance (id, employee_id, day, time_in, time_in_lat, time_in_lon,
                        time_out, time_out_lat, time_out_lon, device_id, status, geofence_warning)
VALUES ($1, $2, $3::date, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT ON CONSTRAINT uq_attendance_employee_day DO UPDATE SET
  time_in = EXCLUDED.time_in, time_in_lat = EXCLUDED.time_in_lat, time_in_lon = EXCLUDED.time_in_lon,
  time_out = EXCLUDED.time_out, time_out_lat = EXCLUDED.time_out_lat, time_out_lon = EXCLUDED.time_out_lon,
  device_id = EXCLUDED.device_id, status = EXCLUDED.status, geofence_warning = EXCLUDED.geofence_warning
RETURNING `+attendanceColumns,
		rec.ID, rec.EmployeeID, rec.Date, rec.TimeIn, rec.TimeInLat, rec.TimeInLon,
		rec.TimeOut, rec.TimeOutLat, rec.TimeOutLon, rec.DeviceID, string(rec.Status), rec.GeofenceWarning)
	if err != nil {
		return model.Attendance{}, fmt.Errorf("save attendance: %w", err)
	}
	return row.model(), nil
}
