package billing

import (
	"sort"
	"time"

	devices "nexusgrid/internal/devices/domain"
	telemetry "nexusgrid/internal/telemetry/domain"
)

// IntegrationCapHours bounds the duration attributed to a single reading.
// Gaps between samples beyond the cap (device offline, out-of-order jumps)
// integrate as one nominal sample interval instead of the whole gap.
const IntegrationCapHours = 1.0 / 60

const dayKeyLayout = "2006-01-02"

// PenaltyMultiplier doubles the demand rate for excess peak demand.
const PenaltyMultiplier = 2

// Params are the billing inputs fixed for a period: tariff schedule plus
// fixed-charge parameters. Built from device configuration per invocation.
type Params struct {
	Schedule          devices.TariffSchedule
	ContractDemandKVA float64
	DemandRate        float64
	TaxPercent        float64
	DefaultRate       float64
}

// NewParams derives billing parameters from a device tariff schedule,
// applying defaults for unset fixed charges.
func NewParams(schedule devices.TariffSchedule) Params {
	schedule = schedule.Normalize()
	return Params{
		Schedule:          schedule,
		ContractDemandKVA: schedule.ContractDemandKVA,
		DemandRate:        schedule.DemandRate,
		TaxPercent:        schedule.TaxPercent,
		DefaultRate:       devices.DefaultShiftARate,
	}
}

// ShiftTotals attribute energy and cost to one time-of-use bucket.
type ShiftTotals struct {
	UnitsKVAh float64
	Cost      float64
}

// State is the running financial accrual for one device and period.
// Mutated additively by Tick; replaced wholesale on range recompute.
type State struct {
	DeviceID string

	EnergyCost    float64
	UnitsKVAh     float64
	PeakDemandKVA float64
	Penalty       float64
	FixedCost     float64
	PreTaxTotal   float64
	FinalPayable  float64

	Shifts    map[ShiftKey]ShiftTotals
	DailyCost map[string]float64

	LastApplied time.Time
	Samples     int
}

// NewState opens an empty billing state for a device.
func NewState(deviceID string) *State {
	return &State{
		DeviceID:  deviceID,
		Shifts:    map[ShiftKey]ShiftTotals{ShiftA: {}, ShiftB: {}, ShiftC: {}},
		DailyCost: make(map[string]float64),
	}
}

// Clone returns a deep copy safe to hand to readers while ticks continue.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Shifts = make(map[ShiftKey]ShiftTotals, len(s.Shifts))
	for key, totals := range s.Shifts {
		clone.Shifts[key] = totals
	}
	clone.DailyCost = make(map[string]float64, len(s.DailyCost))
	for key, cost := range s.DailyCost {
		clone.DailyCost[key] = cost
	}
	return &clone
}

// TickResult reports how a reading was applied to the accrual.
type TickResult struct {
	Applied       bool
	Duplicate     bool
	OutOfOrder    bool
	DurationHours float64
	Cost          float64
}

// Tick integrates one reading into the running accrual. This is the single
// shared formula for both live accrual and batch recompute: duration since
// the last applied reading capped at IntegrationCapHours (the cap itself for
// the first reading), energy priced by the shift rate at the reading's
// timestamp, penalty and final payable recomputed from the running totals
// rather than incrementally drifted.
//
// A timestamp equal to the last applied one is a duplicate and is skipped.
// An earlier timestamp integrates with zero duration, never a negative one,
// and still contributes to peak demand.
func (s *State) Tick(reading telemetry.Reading, params Params) TickResult {
	result := TickResult{}

	if !s.LastApplied.IsZero() {
		switch {
		case reading.Timestamp.Equal(s.LastApplied):
			result.Duplicate = true
			return result
		case reading.Timestamp.Before(s.LastApplied):
			result.OutOfOrder = true
			result.DurationHours = 0
		default:
			elapsed := reading.Timestamp.Sub(s.LastApplied).Hours()
			result.DurationHours = minFloat(elapsed, IntegrationCapHours)
		}
	} else {
		// No predecessor: integrate one nominal interval.
		result.DurationHours = IntegrationCapHours
	}

	kva := reading.ApparentPower
	unitKVAh := kva * result.DurationHours
	rate, shift := RateAt(params.Schedule, reading.Timestamp, params.DefaultRate)
	cost := unitKVAh * rate

	s.UnitsKVAh += unitKVAh
	s.EnergyCost += cost
	totals := s.Shifts[shift]
	totals.UnitsKVAh += unitKVAh
	totals.Cost += cost
	s.Shifts[shift] = totals

	dayKey := reading.Timestamp.UTC().Format(dayKeyLayout)
	s.DailyCost[dayKey] += cost

	if kva > s.PeakDemandKVA {
		s.PeakDemandKVA = kva
	}
	if !reading.Timestamp.Before(s.LastApplied) {
		s.LastApplied = reading.Timestamp
	}
	s.Samples++

	s.finalize(params)
	result.Applied = true
	result.Cost = cost
	return result
}

// finalize recomputes penalty, prorated fixed cost and the payable amount
// from scratch out of the running totals. Cheap, and avoids compounding
// rounding error across ticks.
func (s *State) finalize(params Params) {
	s.Penalty = 0
	if s.PeakDemandKVA > params.ContractDemandKVA {
		s.Penalty = (s.PeakDemandKVA - params.ContractDemandKVA) * params.DemandRate * PenaltyMultiplier
	}

	billableDemand := params.ContractDemandKVA
	if s.PeakDemandKVA > billableDemand {
		billableDemand = s.PeakDemandKVA
	}
	monthlyFixed := billableDemand * params.DemandRate
	days := len(s.DailyCost)
	if days < 1 {
		days = 1
	}
	s.FixedCost = monthlyFixed / 30 * float64(days)

	s.PreTaxTotal = s.EnergyCost + s.Penalty + s.FixedCost
	s.FinalPayable = s.PreTaxTotal * (1 + params.TaxPercent/100)
}

// Analyze recomputes a billing state from a full range of readings. Input
// order is not guaranteed: readings are sorted by timestamp and folded
// through the same Tick formula the live path uses, so both construction
// paths converge to the same amounts.
func Analyze(deviceID string, readings []telemetry.Reading, params Params) *State {
	sorted := make([]telemetry.Reading, len(readings))
	copy(sorted, readings)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	state := NewState(deviceID)
	for _, reading := range sorted {
		state.Tick(reading, params)
	}
	return state
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
