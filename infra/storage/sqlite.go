// Package storage contains the durable adapters behind the
// core/storage.Gateway port: an embedded SQLite store, an optional
// InfluxDB measurement mirror and the factory that picks one from
// configuration.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/enermesh/telemetrix/core/model"
	"github.com/enermesh/telemetrix/core/storage"
)

// SQLiteGateway persists measurements and energy intervals to an
// embedded SQLite database.
type SQLiteGateway struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS measurements (
    id TEXT PRIMARY KEY,
    device_id TEXT NOT NULL,
    measurement_type TEXT NOT NULL,
    ts INTEGER NOT NULL,
    power_w REAL,
    voltage_v REAL,
    current_a REAL,
    energy_kwh REAL,
    power_factor REAL,
    frequency_hz REAL,
    quality TEXT,
    phases TEXT,
    extra TEXT
);
CREATE INDEX IF NOT EXISTS idx_measurements_device_ts
    ON measurements(device_id, ts DESC);

CREATE TABLE IF NOT EXISTS energy_intervals (
    device_id TEXT NOT NULL,
    interval_type TEXT NOT NULL,
    start_ts INTEGER NOT NULL,
    end_ts INTEGER NOT NULL,
    energy_kwh REAL NOT NULL,
    UNIQUE(device_id, interval_type, start_ts)
);

CREATE TABLE IF NOT EXISTS devices (
    device_id TEXT PRIMARY KEY,
    last_seen INTEGER
);`

// NewSQLiteGateway opens or creates the database at path and ensures
// the schema.
func NewSQLiteGateway(path string) (*SQLiteGateway, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, fmt.Errorf("close db: %v (schema err: %w)", cerr, err)
		}
		return nil, err
	}
	return &SQLiteGateway{db: db}, nil
}

func (g *SQLiteGateway) SaveMeasurement(ctx context.Context, m model.Measurement) error {
	phases, err := json.Marshal(m.Phases)
	if err != nil {
		return err
	}
	extra, err := json.Marshal(m.Extra)
	if err != nil {
		return err
	}
	// Redelivered messages reuse their deterministic id; the second
	// write replaces the row instead of inserting a duplicate.
	_, err = g.db.ExecContext(ctx,
		`INSERT INTO measurements
		 (id, device_id, measurement_type, ts, power_w, voltage_v, current_a,
		  energy_kwh, power_factor, frequency_hz, quality, phases, extra)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   power_w = excluded.power_w, voltage_v = excluded.voltage_v,
		   current_a = excluded.current_a, energy_kwh = excluded.energy_kwh,
		   power_factor = excluded.power_factor, frequency_hz = excluded.frequency_hz,
		   quality = excluded.quality, phases = excluded.phases, extra = excluded.extra`,
		m.ID, m.DeviceID, m.Type.String(), m.Timestamp.UnixNano(),
		m.PowerW, m.VoltageV, m.CurrentA, m.EnergyKWh, m.PowerFactor,
		m.FrequencyHz, m.Quality.String(), string(phases), string(extra))
	return err
}

func (g *SQLiteGateway) UpsertInterval(ctx context.Context, iv model.EnergyInterval) error {
	_, err := g.db.ExecContext(ctx,
		`INSERT INTO energy_intervals (device_id, interval_type, start_ts, end_ts, energy_kwh)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(device_id, interval_type, start_ts)
		 DO UPDATE SET end_ts = excluded.end_ts, energy_kwh = excluded.energy_kwh`,
		iv.DeviceID, iv.Type.String(), iv.Start.UnixNano(), iv.End.UnixNano(), iv.EnergyKWh)
	return err
}

func (g *SQLiteGateway) LatestInterval(ctx context.Context, deviceID string, typ model.IntervalType) (*model.EnergyInterval, error) {
	row := g.db.QueryRowContext(ctx,
		`SELECT start_ts, end_ts, energy_kwh FROM energy_intervals
		 WHERE device_id = ? AND interval_type = ?
		 ORDER BY start_ts DESC LIMIT 1`,
		deviceID, typ.String())
	var start, end int64
	iv := model.EnergyInterval{DeviceID: deviceID, Type: typ}
	if err := row.Scan(&start, &end, &iv.EnergyKWh); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	iv.Start = time.Unix(0, start)
	iv.End = time.Unix(0, end)
	return &iv, nil
}

func (g *SQLiteGateway) IntervalsInRange(ctx context.Context, deviceID string, typ model.IntervalType, start, end time.Time) ([]model.EnergyInterval, error) {
	rows, err := g.db.QueryContext(ctx,
		`SELECT start_ts, end_ts, energy_kwh FROM energy_intervals
		 WHERE device_id = ? AND interval_type = ? AND start_ts >= ? AND start_ts < ?
		 ORDER BY start_ts`,
		deviceID, typ.String(), start.UnixNano(), end.UnixNano())
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var res []model.EnergyInterval
	for rows.Next() {
		var s, e int64
		iv := model.EnergyInterval{DeviceID: deviceID, Type: typ}
		if err := rows.Scan(&s, &e, &iv.EnergyKWh); err != nil {
			return nil, err
		}
		iv.Start = time.Unix(0, s)
		iv.End = time.Unix(0, e)
		res = append(res, iv)
	}
	return res, rows.Err()
}

func (g *SQLiteGateway) LatestMeasurement(ctx context.Context, deviceID string) (*model.Measurement, error) {
	row := g.db.QueryRowContext(ctx,
		`SELECT id, measurement_type, ts, power_w, voltage_v, current_a,
		        energy_kwh, power_factor, frequency_hz, quality, phases, extra
		 FROM measurements WHERE device_id = ? ORDER BY ts DESC LIMIT 1`,
		deviceID)
	return scanMeasurement(row, deviceID)
}

func (g *SQLiteGateway) LatestMeasurementOfType(ctx context.Context, deviceID string, typ model.MeasurementType) (*model.Measurement, error) {
	row := g.db.QueryRowContext(ctx,
		`SELECT id, measurement_type, ts, power_w, voltage_v, current_a,
		        energy_kwh, power_factor, frequency_hz, quality, phases, extra
		 FROM measurements WHERE device_id = ? AND measurement_type = ?
		 ORDER BY ts DESC LIMIT 1`,
		deviceID, typ.String())
	return scanMeasurement(row, deviceID)
}

func scanMeasurement(row *sql.Row, deviceID string) (*model.Measurement, error) {
	var (
		typ, quality, phases, extra string
		ts                          int64
	)
	m := model.Measurement{DeviceID: deviceID}
	err := row.Scan(&m.ID, &typ, &ts, &m.PowerW, &m.VoltageV, &m.CurrentA,
		&m.EnergyKWh, &m.PowerFactor, &m.FrequencyHz, &quality, &phases, &extra)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	mt, err := model.ParseMeasurementType(typ)
	if err != nil {
		return nil, err
	}
	m.Type = mt
	m.Timestamp = time.Unix(0, ts)
	m.Quality = model.ParseQuality(quality)
	if phases != "" && phases != "null" {
		if err := json.Unmarshal([]byte(phases), &m.Phases); err != nil {
			return nil, fmt.Errorf("unmarshal phases: %w", err)
		}
	}
	if extra != "" && extra != "null" {
		if err := json.Unmarshal([]byte(extra), &m.Extra); err != nil {
			return nil, fmt.Errorf("unmarshal extra: %w", err)
		}
	}
	return &m, nil
}

func (g *SQLiteGateway) UpdateLastSeen(ctx context.Context, deviceID string, ts time.Time) error {
	_, err := g.db.ExecContext(ctx,
		`INSERT INTO devices (device_id, last_seen) VALUES (?, ?)
		 ON CONFLICT(device_id) DO UPDATE SET last_seen = excluded.last_seen`,
		deviceID, ts.UnixNano())
	return err
}

func (g *SQLiteGateway) Close() error { return g.db.Close() }
