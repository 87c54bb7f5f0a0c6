package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	devices "nexusgrid/internal/devices/domain"
)

const defaultDevicesTable = "devices"

// ConfigRepository loads device configuration from Postgres. One row per
// device carries identity, safety limits, the tariff document and the
// owner's contact preference.
type ConfigRepository struct {
	db    *sql.DB
	table string
}

// Option configures the repository.
type Option func(*ConfigRepository)

// WithTable overrides the default table name.
func WithTable(table string) Option {
	return func(r *ConfigRepository) {
		if table != "" {
			r.table = table
		}
	}
}

// NewConfigRepository constructs a repository.
func NewConfigRepository(db *sql.DB, opts ...Option) *ConfigRepository {
	repo := &ConfigRepository{db: db, table: defaultDevicesTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// GetConfig loads the full pipeline configuration for a device.
func (r *ConfigRepository) GetConfig(ctx context.Context, deviceID string) (*devices.Config, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("config repo: nil db")
	}
	if deviceID == "" {
		return nil, errors.New("config repo: empty device id")
	}

	query := fmt.Sprintf(`
SELECT
	id, name, tenant_id, created_at, updated_at,
	over_voltage, under_voltage, voltage_imbalance,
	over_current, current_imbalance, neutral_current,
	max_temperature, allotted_load_kva, min_pf_lagging, min_pf_leading,
	tariff,
	owner_email, alerts_enabled, plan
FROM %s
WHERE id = $1
LIMIT 1`, r.table)

	var (
		config    devices.Config
		limits    limitsRow
		tariffDoc []byte
		email     sql.NullString
		plan      sql.NullString
	)
	if err := r.db.QueryRowContext(ctx, query, deviceID).Scan(
		&config.Device.ID,
		&config.Device.Name,
		&config.Device.TenantID,
		&config.Device.CreatedAt,
		&config.Device.UpdatedAt,
		&limits.overVoltage,
		&limits.underVoltage,
		&limits.voltageImbalance,
		&limits.overCurrent,
		&limits.currentImbalance,
		&limits.neutralCurrent,
		&limits.maxTemperature,
		&limits.allottedLoadKVA,
		&limits.minPFLagging,
		&limits.minPFLeading,
		&tariffDoc,
		&email,
		&config.Contact.AlertsEnabled,
		&plan,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, devices.ErrNotFound
		}
		return nil, err
	}

	config.Device.CreatedAt = config.Device.CreatedAt.UTC()
	config.Device.UpdatedAt = config.Device.UpdatedAt.UTC()
	config.Limits = limits.toLimits().Normalize()
	config.Contact.Email = email.String
	config.Contact.Plan = plan.String

	if len(tariffDoc) > 0 {
		if err := json.Unmarshal(tariffDoc, &config.Tariff); err != nil {
			return nil, fmt.Errorf("config repo: tariff document: %w", err)
		}
	}
	config.Tariff = config.Tariff.Normalize()
	return &config, nil
}

// limitsRow holds nullable limit columns; NULL means "use the default".
type limitsRow struct {
	overVoltage      sql.NullFloat64
	underVoltage     sql.NullFloat64
	voltageImbalance sql.NullFloat64
	overCurrent      sql.NullFloat64
	currentImbalance sql.NullFloat64
	neutralCurrent   sql.NullFloat64
	maxTemperature   sql.NullFloat64
	allottedLoadKVA  sql.NullFloat64
	minPFLagging     sql.NullFloat64
	minPFLeading     sql.NullFloat64
}

func (r limitsRow) toLimits() devices.Limits {
	return devices.Limits{
		OverVoltage:      r.overVoltage.Float64,
		UnderVoltage:     r.underVoltage.Float64,
		VoltageImbalance: r.voltageImbalance.Float64,
		OverCurrent:      r.overCurrent.Float64,
		CurrentImbalance: r.currentImbalance.Float64,
		NeutralCurrent:   r.neutralCurrent.Float64,
		MaxTemperature:   r.maxTemperature.Float64,
		AllottedLoadKVA:  r.allottedLoadKVA.Float64,
		MinPFLagging:     r.minPFLagging.Float64,
		MinPFLeading:     r.minPFLeading.Float64,
	}
}
