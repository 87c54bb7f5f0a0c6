package faults

import (
	"context"
	"time"
)

// Severity orders fault levels for notification priority.
type Severity string

const (
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
	SeverityDanger   Severity = "DANGER"
)

// Notifiable reports whether the severity preempts warnings when picking
// the priority fault for a dispatch call.
func (s Severity) Notifiable() bool {
	return s == SeverityCritical || s == SeverityDanger
}

// Fault type tags. Stable codes, persisted in the fault log and used as
// cooldown keys.
const (
	TypeOverVoltage      = "OV"
	TypeUnderVoltage     = "UV"
	TypeOverCurrent      = "OC"
	TypeCapacityExceeded = "MD_EXCEEDED"
	TypePFLagPoor        = "PF_LAG"
	TypePFLeadUnstable   = "PF_LEAD"
	TypePhaseImbalance   = "IMB"
	TypeNeutralOver      = "NEU"
	TypeOverTemperature  = "TEMP"
)

// Event is one detected threshold violation. Created fresh per evaluation,
// never mutated.
type Event struct {
	Type      string
	Severity  Severity
	Message   string
	Value     float64
	Threshold float64
	DeviceID  string
	At        time.Time
}

// LogSink appends fault events to a durable log. Logging is independent of
// notification and always happens.
type LogSink interface {
	Append(ctx context.Context, event Event) error
}
