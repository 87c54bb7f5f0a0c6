package devices

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates the device is not provisioned.
var ErrNotFound = errors.New("devices: not found")

// Device carries identity and ownership for a metering device.
type Device struct {
	ID        string
	Name      string
	TenantID  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Limits is the per-device safety configuration evaluated against every reading.
// Zero values are replaced by defaults via Normalize.
type Limits struct {
	OverVoltage      float64 // volts
	UnderVoltage     float64 // volts
	VoltageImbalance float64 // percent
	OverCurrent      float64 // amps
	CurrentImbalance float64 // percent
	NeutralCurrent   float64 // amps
	MaxTemperature   float64 // degrees C
	AllottedLoadKVA  float64 // apparent-power capacity
	MinPFLagging     float64
	MinPFLeading     float64
}

// Default safety thresholds applied when a device row leaves a column unset.
const (
	DefaultOverVoltage      = 456
	DefaultUnderVoltage     = 373
	DefaultVoltageImbalance = 20
	DefaultOverCurrent      = 110
	DefaultCurrentImbalance = 20
	DefaultNeutralCurrent   = 30
	DefaultMaxTemperature   = 75
	DefaultAllottedLoadKVA  = 500
	DefaultMinPFLagging     = 0.90
	DefaultMinPFLeading     = 0.95
)

// Normalize fills unset (non-positive) limits with defaults.
func (l Limits) Normalize() Limits {
	if l.OverVoltage <= 0 {
		l.OverVoltage = DefaultOverVoltage
	}
	if l.UnderVoltage <= 0 {
		l.UnderVoltage = DefaultUnderVoltage
	}
	if l.VoltageImbalance <= 0 {
		l.VoltageImbalance = DefaultVoltageImbalance
	}
	if l.OverCurrent <= 0 {
		l.OverCurrent = DefaultOverCurrent
	}
	if l.CurrentImbalance <= 0 {
		l.CurrentImbalance = DefaultCurrentImbalance
	}
	if l.NeutralCurrent <= 0 {
		l.NeutralCurrent = DefaultNeutralCurrent
	}
	if l.MaxTemperature <= 0 {
		l.MaxTemperature = DefaultMaxTemperature
	}
	if l.AllottedLoadKVA <= 0 {
		l.AllottedLoadKVA = DefaultAllottedLoadKVA
	}
	if l.MinPFLagging <= 0 {
		l.MinPFLagging = DefaultMinPFLagging
	}
	if l.MinPFLeading <= 0 {
		l.MinPFLeading = DefaultMinPFLeading
	}
	return l
}

// Shift is one time-of-use tariff window. End may wrap past midnight
// (for example 22 to 6) on shifts that allow it.
type Shift struct {
	StartHour int     `json:"start"`
	EndHour   int     `json:"end"`
	Rate      float64 `json:"rate"`
}

// TariffSchedule is the per-device time-of-use pricing plus fixed-charge parameters.
// Shift pointers are nil when the shift is unconfigured.
type TariffSchedule struct {
	ShiftA *Shift `json:"A,omitempty"`
	ShiftB *Shift `json:"B,omitempty"`
	ShiftC *Shift `json:"C,omitempty"`

	ContractDemandKVA float64 `json:"contract_demand_kva"`
	DemandRate        float64 `json:"demand_rate"`
	TaxPercent        float64 `json:"tax_percent"`
}

// Fixed-charge defaults for devices without explicit tariff configuration.
const (
	DefaultShiftARate        = 7.5
	DefaultShiftBRate        = 9.5
	DefaultShiftCRate        = 5.5
	DefaultContractDemandKVA = 500
	DefaultDemandRate        = 280
	DefaultTaxPercent        = 18
)

// Normalize fills unset fixed-charge parameters with defaults. Shift
// configuration is left as-is: a nil shift means the rate lookup falls
// through to shift A or the caller default.
func (t TariffSchedule) Normalize() TariffSchedule {
	if t.ContractDemandKVA <= 0 {
		t.ContractDemandKVA = DefaultContractDemandKVA
	}
	if t.DemandRate <= 0 {
		t.DemandRate = DefaultDemandRate
	}
	if t.TaxPercent <= 0 {
		t.TaxPercent = DefaultTaxPercent
	}
	return t
}

// OwnerContact is the alert-delivery preference of the tenant owning a device.
type OwnerContact struct {
	Email         string
	AlertsEnabled bool
	Plan          string
}

// Plans that do not receive notifications. Fault logging is unaffected.
const (
	PlanFree      = "free"
	PlanEssential = "essential"
)

// AlertsAllowed reports whether the owner's plan tier receives notifications.
func (c OwnerContact) AlertsAllowed() bool {
	if !c.AlertsEnabled || c.Email == "" {
		return false
	}
	switch c.Plan {
	case PlanFree, PlanEssential:
		return false
	}
	return true
}

// Config bundles everything the pipeline needs to know about a device.
// Treated as immutable per fetch: updates take effect on the next lookup.
type Config struct {
	Device  Device
	Limits  Limits
	Tariff  TariffSchedule
	Contact OwnerContact
}

// ConfigProvider loads device configuration. Implementations hit a durable
// store and may fail; callers treat failure as a lookup error for that
// reading, never as fatal.
type ConfigProvider interface {
	GetConfig(ctx context.Context, deviceID string) (*Config, error)
}
