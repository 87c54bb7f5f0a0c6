package faults

import (
	"fmt"
	"math"

	devices "nexusgrid/internal/devices/domain"
	telemetry "nexusgrid/internal/telemetry/domain"
)

// Activity guards: imbalance and power-factor checks are suppressed on idle
// circuits to avoid noise, and under-voltage below this floor is treated as
// a meter offline rather than a sag.
const (
	pfCheckMinCurrent        = 5.0  // amps
	imbalanceCheckMinCurrent = 10.0 // amps
	offlineVoltageFloor      = 50.0 // volts
)

// Evaluate checks one reading against device limits and returns every
// violated threshold as an independent fault event, in fixed check order.
// No faults returns an empty slice. Pure: no I/O, no clock.
func Evaluate(reading telemetry.Reading, limits devices.Limits) []Event {
	var events []Event
	add := func(faultType string, severity Severity, value, threshold float64, msg string) {
		events = append(events, Event{
			Type:      faultType,
			Severity:  severity,
			Message:   msg,
			Value:     value,
			Threshold: threshold,
			DeviceID:  reading.DeviceID,
			At:        reading.Timestamp,
		})
	}

	// 1. Voltage: surge preempts sag on the same reading.
	maxV := reading.MaxVoltage()
	minV := reading.MinVoltage()
	if maxV > limits.OverVoltage {
		add(TypeOverVoltage, SeverityCritical, maxV, limits.OverVoltage,
			fmt.Sprintf("Surge: %.1fV > %gV", maxV, limits.OverVoltage))
	} else if minV < limits.UnderVoltage && minV > offlineVoltageFloor {
		add(TypeUnderVoltage, SeverityWarning, minV, limits.UnderVoltage,
			fmt.Sprintf("Sag: %.1fV < %gV", minV, limits.UnderVoltage))
	}

	// 2. Current overload.
	maxI := reading.MaxCurrent()
	if maxI > limits.OverCurrent {
		add(TypeOverCurrent, SeverityCritical, maxI, limits.OverCurrent,
			fmt.Sprintf("Over Current: %.1fA > %gA", maxI, limits.OverCurrent))
	}

	// 3. Capacity: total demand against the allotted transformer/contract rating.
	if reading.ApparentPower > limits.AllottedLoadKVA {
		overshoot := (reading.ApparentPower - limits.AllottedLoadKVA) / limits.AllottedLoadKVA * 100
		add(TypeCapacityExceeded, SeverityCritical, reading.ApparentPower, limits.AllottedLoadKVA,
			fmt.Sprintf("Capacity Overload: %.1f kVA > %g kVA (+%.1f%%)",
				reading.ApparentPower, limits.AllottedLoadKVA, overshoot))
	}

	// 4. Power factor, only under load. The reactive-power sign distinguishes
	// lagging (inductive) from leading (capacitive); meter vendors are not
	// guaranteed consistent on this convention.
	if maxI > pfCheckMinCurrent {
		pf := reading.PowerFactor
		if reading.ReactivePower >= 0 {
			if pf < limits.MinPFLagging && pf > 0 {
				add(TypePFLagPoor, SeverityWarning, pf, limits.MinPFLagging,
					fmt.Sprintf("Poor Efficiency (Lag): %.2f", pf))
			}
		} else if pf < limits.MinPFLeading && pf > 0 {
			add(TypePFLeadUnstable, SeverityWarning, pf, limits.MinPFLeading,
				fmt.Sprintf("Unstable Leading PF: %.2f", pf))
		}
	}

	// 5. Phase imbalance, only under load.
	if maxI > imbalanceCheckMinCurrent {
		avgI := (reading.CurrentR + reading.CurrentY + reading.CurrentB) / 3
		if avgI > 0 {
			maxDev := max3(
				math.Abs(reading.CurrentR-avgI),
				math.Abs(reading.CurrentY-avgI),
				math.Abs(reading.CurrentB-avgI),
			)
			imbalance := maxDev / avgI * 100
			if imbalance > limits.CurrentImbalance {
				add(TypePhaseImbalance, SeverityWarning, imbalance, limits.CurrentImbalance,
					fmt.Sprintf("Phase Imbalance: %.1f%%", imbalance))
			}
		}
	}

	// 6. Neutral current.
	if reading.CurrentN > limits.NeutralCurrent {
		add(TypeNeutralOver, SeverityWarning, reading.CurrentN, limits.NeutralCurrent,
			fmt.Sprintf("High Neutral Current: %.1fA > %gA", reading.CurrentN, limits.NeutralCurrent))
	}

	// 7. Internal temperature.
	if reading.Temperature > limits.MaxTemperature {
		add(TypeOverTemperature, SeverityDanger, reading.Temperature, limits.MaxTemperature,
			fmt.Sprintf("Overheating: %.1f°C > %g°C", reading.Temperature, limits.MaxTemperature))
	}

	return events
}

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
