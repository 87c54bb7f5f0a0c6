package faults

import (
	"strings"
	"testing"
	"time"

	devices "nexusgrid/internal/devices/domain"
	telemetry "nexusgrid/internal/telemetry/domain"
)

func testLimits() devices.Limits {
	return devices.Limits{}.Normalize()
}

func baseReading() telemetry.Reading {
	return telemetry.Reading{
		DeviceID:  "m-1",
		Timestamp: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
		VoltageR:  415, VoltageY: 414, VoltageB: 416,
		CurrentR: 40, CurrentY: 41, CurrentB: 39,
		ApparentPower: 120,
		PowerFactor:   0.97,
		Temperature:   45,
	}
}

func findEvent(events []Event, faultType string) *Event {
	for i := range events {
		if events[i].Type == faultType {
			return &events[i]
		}
	}
	return nil
}

func TestEvaluate_CleanReadingNoFaults(t *testing.T) {
	events := Evaluate(baseReading(), testLimits())
	if len(events) != 0 {
		t.Fatalf("expected no faults, got %d: %+v", len(events), events)
	}
}

func TestEvaluate_IndependentChecks(t *testing.T) {
	reading := baseReading()
	reading.VoltageR = 460
	reading.Temperature = 80

	events := Evaluate(reading, testLimits())
	if len(events) != 2 {
		t.Fatalf("expected 2 independent faults, got %d", len(events))
	}
	ov := findEvent(events, TypeOverVoltage)
	if ov == nil || ov.Severity != SeverityCritical {
		t.Fatalf("missing critical over-voltage event: %+v", events)
	}
	temp := findEvent(events, TypeOverTemperature)
	if temp == nil || temp.Severity != SeverityDanger {
		t.Fatalf("missing danger over-temperature event: %+v", events)
	}
}

func TestEvaluate_SurgePreemptsSag(t *testing.T) {
	reading := baseReading()
	reading.VoltageR = 460
	reading.VoltageB = 360

	events := Evaluate(reading, testLimits())
	if findEvent(events, TypeOverVoltage) == nil {
		t.Fatalf("expected surge event")
	}
	if findEvent(events, TypeUnderVoltage) != nil {
		t.Fatalf("sag must be suppressed when surge fires")
	}
}

func TestEvaluate_SagIgnoresOfflineMeter(t *testing.T) {
	reading := baseReading()
	reading.VoltageR, reading.VoltageY, reading.VoltageB = 0, 0, 0

	events := Evaluate(reading, testLimits())
	if findEvent(events, TypeUnderVoltage) != nil {
		t.Fatalf("near-zero voltage is offline, not a sag")
	}
}

func TestEvaluate_CapacityOvershootPercent(t *testing.T) {
	reading := baseReading()
	reading.ApparentPower = 550

	events := Evaluate(reading, testLimits())
	event := findEvent(events, TypeCapacityExceeded)
	if event == nil {
		t.Fatalf("expected capacity event")
	}
	if !strings.Contains(event.Message, "+10.0%") {
		t.Fatalf("overshoot percent missing: %q", event.Message)
	}
}

func TestEvaluate_PFGuardedByLoad(t *testing.T) {
	reading := baseReading()
	reading.PowerFactor = 0.5
	reading.CurrentR, reading.CurrentY, reading.CurrentB = 2, 2, 2

	events := Evaluate(reading, testLimits())
	if findEvent(events, TypePFLagPoor) != nil {
		t.Fatalf("pf check must be suppressed on idle circuit")
	}

	reading.CurrentR = 20
	events = Evaluate(reading, testLimits())
	if findEvent(events, TypePFLagPoor) == nil {
		t.Fatalf("expected lagging pf fault under load")
	}
}

func TestEvaluate_ReactiveSignSelectsLeadCheck(t *testing.T) {
	reading := baseReading()
	reading.PowerFactor = 0.92
	reading.ReactivePower = -30

	events := Evaluate(reading, testLimits())
	if findEvent(events, TypePFLeadUnstable) == nil {
		t.Fatalf("expected leading pf fault with negative reactive power")
	}
	if findEvent(events, TypePFLagPoor) != nil {
		t.Fatalf("lag check must not fire on leading pf")
	}
}

func TestEvaluate_ImbalanceGuardedByLoad(t *testing.T) {
	limits := testLimits()

	reading := baseReading()
	reading.CurrentR, reading.CurrentY, reading.CurrentB = 9, 1, 1
	if findEvent(Evaluate(reading, limits), TypePhaseImbalance) != nil {
		t.Fatalf("imbalance must be suppressed below the load guard")
	}

	reading.CurrentR = 60
	reading.CurrentY, reading.CurrentB = 20, 20
	event := findEvent(Evaluate(reading, limits), TypePhaseImbalance)
	if event == nil {
		t.Fatalf("expected imbalance fault under load")
	}
	if event.Severity != SeverityWarning {
		t.Fatalf("imbalance severity: got %s", event.Severity)
	}
}

func TestEvaluate_NeutralAndTemperature(t *testing.T) {
	reading := baseReading()
	reading.CurrentN = 35

	events := Evaluate(reading, testLimits())
	event := findEvent(events, TypeNeutralOver)
	if event == nil || event.Severity != SeverityWarning {
		t.Fatalf("expected neutral warning: %+v", events)
	}
}
