package ingestion

import (
	"context"
	"errors"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	billing "nexusgrid/internal/billing/domain"
	devices "nexusgrid/internal/devices/domain"
	devicememory "nexusgrid/internal/devices/infrastructure/memory"
	faults "nexusgrid/internal/faults/domain"
	telemetry "nexusgrid/internal/telemetry/domain"
	"nexusgrid/internal/telemetry/infrastructure/memory"
)

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

type stubAccrual struct {
	mu    sync.Mutex
	ticks []telemetry.Reading
}

func (a *stubAccrual) Tick(reading telemetry.Reading, _ billing.Params) billing.TickResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ticks = append(a.ticks, reading)
	return billing.TickResult{Applied: true}
}

func (a *stubAccrual) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.ticks)
}

type stubDispatcher struct {
	mu    sync.Mutex
	calls [][]faults.Event
}

func (d *stubDispatcher) Dispatch(_ context.Context, events []faults.Event, _ devices.Device, _ devices.OwnerContact) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, events)
}

func (d *stubDispatcher) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

type stubBroadcaster struct {
	mu       sync.Mutex
	readings []telemetry.Reading
	faults   int
}

func (b *stubBroadcaster) PublishReading(reading telemetry.Reading) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.readings = append(b.readings, reading)
}

func (b *stubBroadcaster) PublishFault(string, time.Time, any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.faults++
}

func (b *stubBroadcaster) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.readings)
}

func (b *stubBroadcaster) FaultCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.faults
}

type failingRepo struct{}

func (failingRepo) Append(context.Context, telemetry.Reading) error {
	return errors.New("disk full")
}

type failingConfigs struct{}

func (failingConfigs) GetConfig(context.Context, string) (*devices.Config, error) {
	return nil, errors.New("db down")
}

func testConfigStore() *devicememory.ConfigStore {
	store := devicememory.NewConfigStore()
	store.Put(devices.Config{
		Device:  devices.Device{ID: "m-1", Name: "Main Incomer"},
		Limits:  devices.Limits{}.Normalize(),
		Tariff:  devices.TariffSchedule{}.Normalize(),
		Contact: devices.OwnerContact{Email: "ops@example.com", AlertsEnabled: true, Plan: "pro"},
	})
	return store
}

func kva(v float64) *float64 { return &v }

func cleanPayload() telemetry.WirePayload {
	return telemetry.WirePayload{
		DeviceID:  "m-1",
		Timestamp: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC).Unix(),
		VoltageR:  415, VoltageY: 414, VoltageB: 416,
		CurrentR: 40, CurrentY: 41, CurrentB: 39,
		ApparentPower: kva(120),
		PowerFactor:   0.97,
	}
}

func newTestCoordinator(t *testing.T, repo telemetry.Repository, configs devices.ConfigProvider, accrual Accrual, dispatcher Dispatcher, opts ...Option) *Coordinator {
	t.Helper()
	logger := log.New(os.Stdout, "", 0)
	opts = append(opts, WithClock(fixedClock{now: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)}))
	coordinator, err := NewCoordinator(repo, configs, accrual, dispatcher, logger, opts...)
	if err != nil {
		t.Fatalf("coordinator: %v", err)
	}
	return coordinator
}

func TestIngest_CleanReadingAccepted(t *testing.T) {
	store := memory.NewReadingStore()
	accrual := &stubAccrual{}
	dispatcher := &stubDispatcher{}
	broadcaster := &stubBroadcaster{}
	coordinator := newTestCoordinator(t, store, testConfigStore(), accrual, dispatcher, WithBroadcaster(broadcaster))

	result := coordinator.Ingest(context.Background(), cleanPayload())
	coordinator.Drain()

	if result.Status != StatusAccepted {
		t.Fatalf("status: got %s", result.Status)
	}
	if result.FaultCount != 0 {
		t.Fatalf("clean reading must not fault, got %d", result.FaultCount)
	}
	if store.Count("m-1") != 1 {
		t.Fatalf("reading must be persisted")
	}
	if broadcaster.Count() != 1 {
		t.Fatalf("reading must be broadcast")
	}
	if accrual.Count() != 1 {
		t.Fatalf("billing must tick")
	}
	if dispatcher.Calls() != 0 {
		t.Fatalf("no dispatch without faults")
	}
}

func TestIngest_ValidationRejectsBeforeSideEffects(t *testing.T) {
	store := memory.NewReadingStore()
	accrual := &stubAccrual{}
	dispatcher := &stubDispatcher{}
	broadcaster := &stubBroadcaster{}
	coordinator := newTestCoordinator(t, store, testConfigStore(), accrual, dispatcher, WithBroadcaster(broadcaster))

	payload := cleanPayload()
	payload.DeviceID = ""
	result := coordinator.Ingest(context.Background(), payload)
	coordinator.Drain()

	if result.Status != StatusRejected {
		t.Fatalf("status: got %s", result.Status)
	}
	var vErr *telemetry.ValidationError
	if !errors.As(result.Err, &vErr) {
		t.Fatalf("expected validation error, got %v", result.Err)
	}
	if store.Count("m-1") != 0 || broadcaster.Count() != 0 || accrual.Count() != 0 {
		t.Fatalf("rejection must produce no side effects")
	}
}

func TestIngest_PersistFailureStopsPipeline(t *testing.T) {
	accrual := &stubAccrual{}
	dispatcher := &stubDispatcher{}
	broadcaster := &stubBroadcaster{}
	coordinator := newTestCoordinator(t, failingRepo{}, testConfigStore(), accrual, dispatcher, WithBroadcaster(broadcaster))

	result := coordinator.Ingest(context.Background(), cleanPayload())
	coordinator.Drain()

	if result.Status != StatusPersistFailed {
		t.Fatalf("status: got %s", result.Status)
	}
	if broadcaster.Count() != 0 || accrual.Count() != 0 || dispatcher.Calls() != 0 {
		t.Fatalf("persist failure must gate all downstream stages")
	}
}

func TestIngest_FaultsDispatchedAsync(t *testing.T) {
	store := memory.NewReadingStore()
	accrual := &stubAccrual{}
	dispatcher := &stubDispatcher{}
	broadcaster := &stubBroadcaster{}
	coordinator := newTestCoordinator(t, store, testConfigStore(), accrual, dispatcher, WithBroadcaster(broadcaster))

	payload := cleanPayload()
	payload.VoltageR = 460
	payload.Temperature = 80
	result := coordinator.Ingest(context.Background(), payload)
	coordinator.Drain()

	if result.FaultCount != 2 {
		t.Fatalf("expected 2 faults, got %d", result.FaultCount)
	}
	if dispatcher.Calls() != 1 {
		t.Fatalf("expected 1 dispatch call, got %d", dispatcher.Calls())
	}
	if len(dispatcher.calls[0]) != 2 {
		t.Fatalf("dispatch must carry every fault, got %d", len(dispatcher.calls[0]))
	}
	if broadcaster.FaultCount() != 2 {
		t.Fatalf("faults must be broadcast, got %d", broadcaster.FaultCount())
	}
}

func TestIngest_ConfigLookupFailureStillPersistsAndBroadcasts(t *testing.T) {
	store := memory.NewReadingStore()
	accrual := &stubAccrual{}
	dispatcher := &stubDispatcher{}
	broadcaster := &stubBroadcaster{}
	coordinator := newTestCoordinator(t, store, failingConfigs{}, accrual, dispatcher, WithBroadcaster(broadcaster))

	result := coordinator.Ingest(context.Background(), cleanPayload())
	coordinator.Drain()

	if result.Status != StatusAccepted {
		t.Fatalf("config failure must not reject the reading, got %s", result.Status)
	}
	if store.Count("m-1") != 1 || broadcaster.Count() != 1 {
		t.Fatalf("persist and broadcast must survive a config failure")
	}
	if accrual.Count() != 0 || dispatcher.Calls() != 0 {
		t.Fatalf("evaluation and billing must be skipped without config")
	}
}

func TestIngest_DuplicateReadingIsIdempotentInStore(t *testing.T) {
	store := memory.NewReadingStore()
	coordinator := newTestCoordinator(t, store, testConfigStore(), &stubAccrual{}, &stubDispatcher{})

	payload := cleanPayload()
	coordinator.Ingest(context.Background(), payload)
	coordinator.Ingest(context.Background(), payload)
	coordinator.Drain()

	if store.Count("m-1") != 1 {
		t.Fatalf("duplicate timestamps must persist once, got %d", store.Count("m-1"))
	}
}
