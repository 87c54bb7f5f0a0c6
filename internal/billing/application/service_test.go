package application

import (
	"context"
	"log"
	"math"
	"os"
	"testing"
	"time"

	billing "nexusgrid/internal/billing/domain"
	devices "nexusgrid/internal/devices/domain"
	telemetry "nexusgrid/internal/telemetry/domain"
	"nexusgrid/internal/telemetry/infrastructure/memory"
)

type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time { return c.now }

func testParams() billing.Params {
	return billing.NewParams(devices.TariffSchedule{
		ShiftA: &devices.Shift{StartHour: 6, EndHour: 18, Rate: 7.5},
	})
}

func reading(deviceID string, ts time.Time, kva float64) telemetry.Reading {
	return telemetry.Reading{DeviceID: deviceID, Timestamp: ts, ApparentPower: kva}
}

func newTestService(t *testing.T, query telemetry.Query, clock Clock) *Service {
	t.Helper()
	logger := log.New(os.Stdout, "", 0)
	service, err := NewService(query, logger, WithClock(clock))
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	return service
}

func TestTick_AccruesPerDevice(t *testing.T) {
	now := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	clock := &fixedClock{now: now}
	service := newTestService(t, nil, clock)
	params := testParams()

	service.Tick(reading("m-1", now, 100), params)
	service.Tick(reading("m-2", now, 200), params)

	one := service.Snapshot("m-1")
	two := service.Snapshot("m-2")
	if one == nil || two == nil {
		t.Fatalf("expected snapshots for both devices")
	}
	if one.PeakDemandKVA != 100 || two.PeakDemandKVA != 200 {
		t.Fatalf("device accruals mixed: %v %v", one.PeakDemandKVA, two.PeakDemandKVA)
	}
}

func TestTick_IgnoresReadingOutsideToday(t *testing.T) {
	now := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	clock := &fixedClock{now: now}
	service := newTestService(t, nil, clock)

	result := service.Tick(reading("m-1", now.AddDate(0, 0, -1), 100), testParams())
	if result.Applied {
		t.Fatalf("yesterday's reading must not accrue into today")
	}
}

func TestTick_DayRolloverResetsState(t *testing.T) {
	now := time.Date(2026, 8, 30, 23, 59, 0, 0, time.UTC)
	clock := &fixedClock{now: now}
	service := newTestService(t, nil, clock)
	params := testParams()

	service.Tick(reading("m-1", now, 300), params)

	clock.now = now.Add(2 * time.Minute) // crosses midnight
	service.Tick(reading("m-1", clock.now, 100), params)

	state := service.Snapshot("m-1")
	if state.PeakDemandKVA != 100 {
		t.Fatalf("rollover must reset peak, got %v", state.PeakDemandKVA)
	}
	if state.Samples != 1 {
		t.Fatalf("rollover must reset samples, got %d", state.Samples)
	}
}

func TestSnapshot_IsACopy(t *testing.T) {
	now := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	clock := &fixedClock{now: now}
	service := newTestService(t, nil, clock)
	params := testParams()

	service.Tick(reading("m-1", now, 100), params)
	snapshot := service.Snapshot("m-1")
	service.Tick(reading("m-1", now.Add(time.Minute), 100), params)

	if snapshot.Samples != 1 {
		t.Fatalf("snapshot mutated by later tick")
	}
}

func TestSnapshot_UnknownDevice(t *testing.T) {
	service := newTestService(t, nil, &fixedClock{now: time.Now().UTC()})
	if service.Snapshot("nope") != nil {
		t.Fatalf("expected nil snapshot for unknown device")
	}
}

func TestRecomputeRange_MatchesLiveAccrual(t *testing.T) {
	day := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	clock := &fixedClock{now: day.Add(10 * time.Hour)}
	store := memory.NewReadingStore()
	service := newTestService(t, store, clock)
	params := testParams()

	ctx := context.Background()
	for i := 0; i < 30; i++ {
		r := reading("m-1", day.Add(9*time.Hour+time.Duration(i)*time.Minute), 100+float64(i))
		if err := store.Append(ctx, r); err != nil {
			t.Fatalf("append: %v", err)
		}
		service.Tick(r, params)
	}

	state, err := service.RecomputeRange(ctx, "m-1", day, day.AddDate(0, 0, 1), params)
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	live := service.Snapshot("m-1")
	if math.Abs(state.FinalPayable-live.FinalPayable) > 1e-6 {
		t.Fatalf("recompute diverged from live: %v vs %v", state.FinalPayable, live.FinalPayable)
	}
}

func TestRecomputeRange_ReplacesLiveStateForToday(t *testing.T) {
	day := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	clock := &fixedClock{now: day.Add(10 * time.Hour)}
	store := memory.NewReadingStore()
	service := newTestService(t, store, clock)
	params := testParams()

	ctx := context.Background()
	persisted := reading("m-1", day.Add(9*time.Hour), 250)
	if err := store.Append(ctx, persisted); err != nil {
		t.Fatalf("append: %v", err)
	}
	// Live state has drifted: it never saw the persisted reading.
	service.Tick(reading("m-1", day.Add(8*time.Hour), 50), params)

	if _, err := service.RecomputeRange(ctx, "m-1", day, day.AddDate(0, 0, 1), params); err != nil {
		t.Fatalf("recompute: %v", err)
	}

	state := service.Snapshot("m-1")
	if state.PeakDemandKVA != 250 {
		t.Fatalf("today's recompute must replace live state, peak=%v", state.PeakDemandKVA)
	}
}

func TestRecomputeRange_PastRangeLeavesLiveState(t *testing.T) {
	day := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	clock := &fixedClock{now: day.Add(10 * time.Hour)}
	store := memory.NewReadingStore()
	service := newTestService(t, store, clock)
	params := testParams()

	ctx := context.Background()
	yesterday := day.AddDate(0, 0, -1)
	if err := store.Append(ctx, reading("m-1", yesterday.Add(12*time.Hour), 400)); err != nil {
		t.Fatalf("append: %v", err)
	}
	service.Tick(reading("m-1", day.Add(9*time.Hour), 50), params)

	if _, err := service.RecomputeRange(ctx, "m-1", yesterday, day, params); err != nil {
		t.Fatalf("recompute: %v", err)
	}

	state := service.Snapshot("m-1")
	if state.PeakDemandKVA != 50 {
		t.Fatalf("past recompute must not touch live state, peak=%v", state.PeakDemandKVA)
	}
}

func TestRecomputeRange_InvalidArguments(t *testing.T) {
	service := newTestService(t, memory.NewReadingStore(), &fixedClock{now: time.Now().UTC()})
	now := time.Now().UTC()

	if _, err := service.RecomputeRange(context.Background(), "", now.Add(-time.Hour), now, testParams()); err == nil {
		t.Fatalf("empty device id must fail")
	}
	if _, err := service.RecomputeRange(context.Background(), "m-1", now, now, testParams()); err == nil {
		t.Fatalf("empty range must fail")
	}
}
