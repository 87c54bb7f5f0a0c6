package telemetry

import (
	"context"
	"fmt"
	"time"
)

// Reading is one validated telemetry sample. Immutable once constructed;
// owned by the pipeline invocation that decoded it from the wire payload.
type Reading struct {
	DeviceID  string
	Timestamp time.Time

	VoltageR float64
	VoltageY float64
	VoltageB float64

	CurrentR float64
	CurrentY float64
	CurrentB float64
	CurrentN float64

	ActivePower   float64
	ApparentPower float64
	ReactivePower float64
	PowerFactor   float64
	Frequency     float64

	EnergyKWh   float64
	EnergyKVAh  float64
	EnergyKVArh float64

	Temperature float64

	VTHDR float64
	VTHDY float64
	VTHDB float64
	ITHDR float64
	ITHDY float64
	ITHDB float64
}

// MaxVoltage returns the highest phase voltage.
func (r Reading) MaxVoltage() float64 { return max3(r.VoltageR, r.VoltageY, r.VoltageB) }

// MinVoltage returns the lowest phase voltage.
func (r Reading) MinVoltage() float64 { return min3(r.VoltageR, r.VoltageY, r.VoltageB) }

// MaxCurrent returns the highest phase current.
func (r Reading) MaxCurrent() float64 { return max3(r.CurrentR, r.CurrentY, r.CurrentB) }

func max3(a, b, c float64) float64 {
	m := a
	if b > m {
		m = b
	}
	if c > m {
		m = c
	}
	return m
}

func min3(a, b, c float64) float64 {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}

// ValidationError rejects a malformed wire payload before any side effect.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("telemetry: invalid reading: %s: %s", e.Field, e.Reason)
}

// WirePayload is the flat ingest record. Missing numeric fields default to
// zero; a missing device id or apparent power is a hard validation error.
// Apparent power is a pointer so an absent field is distinguishable from a
// genuine zero-load sample: the accrual and capacity checks both price kVA,
// and a silent zero would under-bill. Field names are stable across ingest
// transports.
type WirePayload struct {
	DeviceID  string `json:"device_id"`
	Timestamp int64  `json:"ts,omitempty"` // unix seconds or milliseconds; zero means "now"

	VoltageR float64 `json:"voltage_r"`
	VoltageY float64 `json:"voltage_y"`
	VoltageB float64 `json:"voltage_b"`

	CurrentR float64 `json:"current_r"`
	CurrentY float64 `json:"current_y"`
	CurrentB float64 `json:"current_b"`
	CurrentN float64 `json:"current_n"`

	ActivePower   float64  `json:"active_power"`
	ApparentPower *float64 `json:"apparent_power"`
	ReactivePower float64 `json:"reactive_power"`
	PowerFactor   float64 `json:"power_factor"`
	Frequency     float64 `json:"frequency"`

	EnergyKWh   float64 `json:"energy_kwh"`
	EnergyKVAh  float64 `json:"energy_kvah"`
	EnergyKVArh float64 `json:"energy_kvarh"`

	Temperature float64 `json:"meter_temperature"`

	VTHDR float64 `json:"v_thd_r"`
	VTHDY float64 `json:"v_thd_y"`
	VTHDB float64 `json:"v_thd_b"`
	ITHDR float64 `json:"i_thd_r"`
	ITHDY float64 `json:"i_thd_y"`
	ITHDB float64 `json:"i_thd_b"`
}

// Clock provides time for payloads without a timestamp.
type Clock interface {
	Now() time.Time
}

// NewReading validates and normalizes a wire payload into a Reading.
// All defaulting of absent numeric fields happens here, never downstream.
func NewReading(payload WirePayload, clock Clock) (Reading, error) {
	if payload.DeviceID == "" {
		return Reading{}, &ValidationError{Field: "device_id", Reason: "required"}
	}
	if payload.ApparentPower == nil {
		return Reading{}, &ValidationError{Field: "apparent_power", Reason: "required"}
	}
	if *payload.ApparentPower < 0 {
		return Reading{}, &ValidationError{Field: "apparent_power", Reason: "must be non-negative"}
	}
	if payload.ActivePower < 0 {
		return Reading{}, &ValidationError{Field: "active_power", Reason: "must be non-negative"}
	}
	if payload.PowerFactor < 0 || payload.PowerFactor > 1 {
		return Reading{}, &ValidationError{Field: "power_factor", Reason: "must be between 0 and 1"}
	}

	ts := parseTimestamp(payload.Timestamp)
	if ts.IsZero() {
		ts = clock.Now().UTC()
	}

	frequency := payload.Frequency
	if frequency == 0 {
		frequency = 50.0
	}

	return Reading{
		DeviceID:      payload.DeviceID,
		Timestamp:     ts,
		VoltageR:      payload.VoltageR,
		VoltageY:      payload.VoltageY,
		VoltageB:      payload.VoltageB,
		CurrentR:      payload.CurrentR,
		CurrentY:      payload.CurrentY,
		CurrentB:      payload.CurrentB,
		CurrentN:      payload.CurrentN,
		ActivePower:   payload.ActivePower,
		ApparentPower: *payload.ApparentPower,
		ReactivePower: payload.ReactivePower,
		PowerFactor:   payload.PowerFactor,
		Frequency:     frequency,
		EnergyKWh:     payload.EnergyKWh,
		EnergyKVAh:    payload.EnergyKVAh,
		EnergyKVArh:   payload.EnergyKVArh,
		Temperature:   payload.Temperature,
		VTHDR:         payload.VTHDR,
		VTHDY:         payload.VTHDY,
		VTHDB:         payload.VTHDB,
		ITHDR:         payload.ITHDR,
		ITHDY:         payload.ITHDY,
		ITHDB:         payload.ITHDB,
	}, nil
}

func parseTimestamp(value int64) time.Time {
	if value <= 0 {
		return time.Time{}
	}
	// Accept milliseconds or seconds.
	if value > 1_000_000_000_000 {
		return time.UnixMilli(value).UTC()
	}
	return time.Unix(value, 0).UTC()
}

// Repository persists readings durably. Append deduplicates on
// (device id, timestamp) so re-ingesting a persisted reading is a no-op.
type Repository interface {
	Append(ctx context.Context, reading Reading) error
}

// Query loads historical readings for billing recompute and analytics replay.
type Query interface {
	QueryRange(ctx context.Context, deviceID string, start, end time.Time) ([]Reading, error)
	QueryRecent(ctx context.Context, deviceID string, window time.Duration) ([]Reading, error)
}
