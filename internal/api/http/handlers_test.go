package apihttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	billing "nexusgrid/internal/billing/domain"
	devices "nexusgrid/internal/devices/domain"
	devicememory "nexusgrid/internal/devices/infrastructure/memory"
	"nexusgrid/internal/faults/infrastructure/memory"

	faults "nexusgrid/internal/faults/domain"
	telemetry "nexusgrid/internal/telemetry/domain"
)

type stubBilling struct {
	snapshot  *billing.State
	recompute *billing.State
	err       error
}

func (s *stubBilling) Snapshot(string) *billing.State { return s.snapshot }

func (s *stubBilling) RecomputeRange(context.Context, string, time.Time, time.Time, billing.Params) (*billing.State, error) {
	return s.recompute, s.err
}

func sampleState() *billing.State {
	state := billing.NewState("m-1")
	state.Tick(telemetry.Reading{
		DeviceID:      "m-1",
		Timestamp:     time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC),
		ApparentPower: 120,
	}, billing.NewParams(devices.TariffSchedule{}))
	return state
}

func TestBillingSnapshotHandler_OK(t *testing.T) {
	handler := NewBillingSnapshotHandler(&stubBilling{snapshot: sampleState()})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/billing/snapshot?device_id=m-1", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("status: got %d", resp.Code)
	}
	var view billingView
	if err := json.Unmarshal(resp.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.DeviceID != "m-1" || view.Samples != 1 {
		t.Fatalf("unexpected view: %+v", view)
	}
	if len(view.Shifts) != 3 {
		t.Fatalf("expected 3 shift buckets, got %d", len(view.Shifts))
	}
}

func TestBillingSnapshotHandler_MissingDevice(t *testing.T) {
	handler := NewBillingSnapshotHandler(&stubBilling{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/billing/snapshot", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("missing device_id: got %d", resp.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/billing/snapshot?device_id=m-9", nil)
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("unknown device: got %d", resp.Code)
	}
}

func TestBillingRecomputeHandler_OK(t *testing.T) {
	configs := devicememory.NewConfigStore()
	configs.Put(devices.Config{Device: devices.Device{ID: "m-1"}})
	handler := NewBillingRecomputeHandler(&stubBilling{recompute: sampleState()}, configs, nil)

	url := "/api/v1/billing/recompute?device_id=m-1&from=2026-08-30T00:00:00Z&to=2026-08-31T00:00:00Z"
	req := httptest.NewRequest(http.MethodPost, url, nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("status: got %d body %s", resp.Code, resp.Body.String())
	}
}

func TestBillingRecomputeHandler_UnknownDevice(t *testing.T) {
	handler := NewBillingRecomputeHandler(&stubBilling{recompute: sampleState()}, devicememory.NewConfigStore(), nil)

	url := "/api/v1/billing/recompute?device_id=m-9&from=2026-08-30T00:00:00Z&to=2026-08-31T00:00:00Z"
	req := httptest.NewRequest(http.MethodPost, url, nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("status: got %d", resp.Code)
	}
}

func TestBillingRecomputeHandler_InvalidRange(t *testing.T) {
	configs := devicememory.NewConfigStore()
	configs.Put(devices.Config{Device: devices.Device{ID: "m-1"}})
	handler := NewBillingRecomputeHandler(&stubBilling{recompute: sampleState()}, configs, nil)

	url := "/api/v1/billing/recompute?device_id=m-1&from=2026-08-31T00:00:00Z&to=2026-08-30T00:00:00Z"
	req := httptest.NewRequest(http.MethodPost, url, nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d", resp.Code)
	}
}

func TestFaultsHandler_ListsNewestFirst(t *testing.T) {
	faultLog := memory.NewFaultLog()
	base := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		_ = faultLog.Append(context.Background(), faults.Event{
			Type:     faults.TypeOverVoltage,
			Severity: faults.SeverityCritical,
			DeviceID: "m-1",
			At:       base.Add(time.Duration(i) * time.Minute),
		})
	}
	handler := NewFaultsHandler(faultLog)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/faults?device_id=m-1&since=2026-08-30T00:00:00Z", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("status: got %d", resp.Code)
	}
	var views []faultView
	if err := json.Unmarshal(resp.Body.Bytes(), &views); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(views) != 3 {
		t.Fatalf("expected 3 faults, got %d", len(views))
	}
	if views[0].DetectedAt != base.Add(2*time.Minute).Format(timeLayout) {
		t.Fatalf("expected newest first, got %s", views[0].DetectedAt)
	}
}

func TestFaultsHandler_LimitApplied(t *testing.T) {
	faultLog := memory.NewFaultLog()
	base := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		_ = faultLog.Append(context.Background(), faults.Event{
			Type:     faults.TypeNeutralOver,
			DeviceID: "m-1",
			At:       base.Add(time.Duration(i) * time.Minute),
		})
	}
	handler := NewFaultsHandler(faultLog)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/faults?device_id=m-1&since=2026-08-30T00:00:00Z&limit=2", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	var views []faultView
	if err := json.Unmarshal(resp.Body.Bytes(), &views); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("limit ignored: got %d", len(views))
	}
}
