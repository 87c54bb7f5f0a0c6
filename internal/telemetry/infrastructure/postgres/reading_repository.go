package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	telemetry "nexusgrid/internal/telemetry/domain"
)

const defaultReadingsTable = "telemetry_readings"

// ReadingRepository is a Postgres store for telemetry readings.
type ReadingRepository struct {
	db    *sql.DB
	table string
}

// Option configures the repository.
type Option func(*ReadingRepository)

// WithTable overrides the default table name.
func WithTable(table string) Option {
	return func(r *ReadingRepository) {
		if table != "" {
			r.table = table
		}
	}
}

// NewReadingRepository constructs a repository.
func NewReadingRepository(db *sql.DB, opts ...Option) *ReadingRepository {
	repo := &ReadingRepository{db: db, table: defaultReadingsTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// Append inserts one reading. The table carries a primary key on
// (device_id, ts); a conflicting insert is a duplicate and is dropped.
func (r *ReadingRepository) Append(ctx context.Context, reading telemetry.Reading) error {
	if r == nil || r.db == nil {
		return errors.New("reading repo: nil db")
	}
	if reading.DeviceID == "" {
		return errors.New("reading repo: empty device id")
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	device_id, ts,
	voltage_r, voltage_y, voltage_b,
	current_r, current_y, current_b, current_n,
	active_power, apparent_power, reactive_power, power_factor, frequency,
	energy_kwh, energy_kvah, energy_kvarh,
	meter_temperature,
	v_thd_r, v_thd_y, v_thd_b,
	i_thd_r, i_thd_y, i_thd_b
) VALUES (
	$1, $2,
	$3, $4, $5,
	$6, $7, $8, $9,
	$10, $11, $12, $13, $14,
	$15, $16, $17,
	$18,
	$19, $20, $21,
	$22, $23, $24
)
ON CONFLICT (device_id, ts) DO NOTHING`, r.table)

	_, err := r.db.ExecContext(
		ctx,
		query,
		reading.DeviceID,
		reading.Timestamp.UTC(),
		reading.VoltageR,
		reading.VoltageY,
		reading.VoltageB,
		reading.CurrentR,
		reading.CurrentY,
		reading.CurrentB,
		reading.CurrentN,
		reading.ActivePower,
		reading.ApparentPower,
		reading.ReactivePower,
		reading.PowerFactor,
		reading.Frequency,
		reading.EnergyKWh,
		reading.EnergyKVAh,
		reading.EnergyKVArh,
		reading.Temperature,
		reading.VTHDR,
		reading.VTHDY,
		reading.VTHDB,
		reading.ITHDR,
		reading.ITHDY,
		reading.ITHDB,
	)
	return err
}

// QueryRange loads readings for a device over [start, end) ordered by timestamp.
func (r *ReadingRepository) QueryRange(ctx context.Context, deviceID string, start, end time.Time) ([]telemetry.Reading, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("reading repo: nil db")
	}
	if deviceID == "" {
		return nil, errors.New("reading repo: empty device id")
	}

	query := fmt.Sprintf(`
SELECT
	device_id, ts,
	voltage_r, voltage_y, voltage_b,
	current_r, current_y, current_b, current_n,
	active_power, apparent_power, reactive_power, power_factor, frequency,
	energy_kwh, energy_kvah, energy_kvarh,
	meter_temperature,
	v_thd_r, v_thd_y, v_thd_b,
	i_thd_r, i_thd_y, i_thd_b
FROM %s
WHERE device_id = $1 AND ts >= $2 AND ts < $3
ORDER BY ts ASC`, r.table)

	rows, err := r.db.QueryContext(ctx, query, deviceID, start.UTC(), end.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReadings(rows)
}

// QueryRecent loads readings newer than now minus the window.
func (r *ReadingRepository) QueryRecent(ctx context.Context, deviceID string, window time.Duration) ([]telemetry.Reading, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("reading repo: nil db")
	}
	if deviceID == "" {
		return nil, errors.New("reading repo: empty device id")
	}
	if window <= 0 {
		return nil, errors.New("reading repo: non-positive window")
	}
	end := time.Now().UTC()
	return r.QueryRange(ctx, deviceID, end.Add(-window), end)
}

func scanReadings(rows *sql.Rows) ([]telemetry.Reading, error) {
	var result []telemetry.Reading
	for rows.Next() {
		var reading telemetry.Reading
		if err := rows.Scan(
			&reading.DeviceID,
			&reading.Timestamp,
			&reading.VoltageR,
			&reading.VoltageY,
			&reading.VoltageB,
			&reading.CurrentR,
			&reading.CurrentY,
			&reading.CurrentB,
			&reading.CurrentN,
			&reading.ActivePower,
			&reading.ApparentPower,
			&reading.ReactivePower,
			&reading.PowerFactor,
			&reading.Frequency,
			&reading.EnergyKWh,
			&reading.EnergyKVAh,
			&reading.EnergyKVArh,
			&reading.Temperature,
			&reading.VTHDR,
			&reading.VTHDY,
			&reading.VTHDB,
			&reading.ITHDR,
			&reading.ITHDY,
			&reading.ITHDB,
		); err != nil {
			return nil, err
		}
		reading.Timestamp = reading.Timestamp.UTC()
		result = append(result, reading)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
