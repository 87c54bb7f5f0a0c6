package apihttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"nexusgrid/internal/audit"
	"nexusgrid/internal/auth"
	billing "nexusgrid/internal/billing/domain"
	devices "nexusgrid/internal/devices/domain"
	faults "nexusgrid/internal/faults/domain"
	redisstore "nexusgrid/internal/telemetry/infrastructure/redis"

	telemetry "nexusgrid/internal/telemetry/domain"
)

const timeLayout = time.RFC3339

// BillingService exposes the live accrual and range recompute operations.
type BillingService interface {
	Snapshot(deviceID string) *billing.State
	RecomputeRange(ctx context.Context, deviceID string, start, end time.Time, params billing.Params) (*billing.State, error)
}

// FaultQuery loads recent fault events.
type FaultQuery interface {
	ListRecent(ctx context.Context, deviceID string, since time.Time, limit int) ([]faults.Event, error)
}

// LatestSource returns a device's most recent reading.
type LatestSource interface {
	Get(ctx context.Context, deviceID string) (*telemetry.Reading, error)
}

type shiftTotalsView struct {
	UnitsKVAh float64 `json:"units_kvah"`
	Cost      float64 `json:"cost"`
}

type billingView struct {
	DeviceID      string                     `json:"device_id"`
	EnergyCost    float64                    `json:"energy_cost"`
	UnitsKVAh     float64                    `json:"units_kvah"`
	PeakDemandKVA float64                    `json:"peak_demand_kva"`
	Penalty       float64                    `json:"penalty"`
	FixedCost     float64                    `json:"fixed_cost"`
	PreTaxTotal   float64                    `json:"pre_tax_total"`
	FinalPayable  float64                    `json:"final_payable"`
	Shifts        map[string]shiftTotalsView `json:"shifts"`
	DailyCost     map[string]float64         `json:"daily_cost"`
	LastApplied   string                     `json:"last_applied,omitempty"`
	Samples       int                        `json:"samples"`
}

func toBillingView(state *billing.State) billingView {
	view := billingView{
		DeviceID:      state.DeviceID,
		EnergyCost:    state.EnergyCost,
		UnitsKVAh:     state.UnitsKVAh,
		PeakDemandKVA: state.PeakDemandKVA,
		Penalty:       state.Penalty,
		FixedCost:     state.FixedCost,
		PreTaxTotal:   state.PreTaxTotal,
		FinalPayable:  state.FinalPayable,
		Shifts:        make(map[string]shiftTotalsView, len(state.Shifts)),
		DailyCost:     state.DailyCost,
		Samples:       state.Samples,
	}
	for key, totals := range state.Shifts {
		view.Shifts[string(key)] = shiftTotalsView{UnitsKVAh: totals.UnitsKVAh, Cost: totals.Cost}
	}
	if !state.LastApplied.IsZero() {
		view.LastApplied = state.LastApplied.UTC().Format(timeLayout)
	}
	return view
}

// BillingSnapshotHandler serves the live accrual for a device.
type BillingSnapshotHandler struct {
	service BillingService
}

// NewBillingSnapshotHandler constructs a BillingSnapshotHandler.
func NewBillingSnapshotHandler(service BillingService) *BillingSnapshotHandler {
	return &BillingSnapshotHandler{service: service}
}

// ServeHTTP handles GET /api/v1/billing/snapshot.
func (h *BillingSnapshotHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.service == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}

	deviceID := r.URL.Query().Get("device_id")
	if deviceID == "" {
		http.Error(w, "device_id is required", http.StatusBadRequest)
		return
	}

	state := h.service.Snapshot(deviceID)
	if state == nil {
		http.Error(w, "no billing state for device", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(toBillingView(state))
}

// BillingRecomputeHandler rebuilds billing over a time range from persisted
// readings. Recomputes are operator actions and are audit-logged when an
// audit logger is wired.
type BillingRecomputeHandler struct {
	service BillingService
	configs devices.ConfigProvider
	auditor audit.Logger
}

// NewBillingRecomputeHandler constructs a BillingRecomputeHandler. The audit
// logger may be nil.
func NewBillingRecomputeHandler(service BillingService, configs devices.ConfigProvider, auditor audit.Logger) *BillingRecomputeHandler {
	return &BillingRecomputeHandler{service: service, configs: configs, auditor: auditor}
}

// ServeHTTP handles POST /api/v1/billing/recompute.
func (h *BillingRecomputeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.service == nil || h.configs == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}

	deviceID := r.URL.Query().Get("device_id")
	if deviceID == "" {
		http.Error(w, "device_id is required", http.StatusBadRequest)
		return
	}
	from, err := parseTimeQuery(r, "from")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	to, err := parseTimeQuery(r, "to")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !to.After(from) {
		http.Error(w, "to must be after from", http.StatusBadRequest)
		return
	}

	config, err := h.configs.GetConfig(r.Context(), deviceID)
	if err != nil {
		if errors.Is(err, devices.ErrNotFound) {
			http.Error(w, "unknown device", http.StatusNotFound)
			return
		}
		http.Error(w, "config lookup error", http.StatusInternalServerError)
		return
	}

	state, err := h.service.RecomputeRange(r.Context(), deviceID, from, to, billing.NewParams(config.Tariff))
	if err != nil {
		http.Error(w, "recompute error", http.StatusInternalServerError)
		return
	}

	if h.auditor != nil {
		metadata, _ := json.Marshal(map[string]string{
			"from": from.Format(timeLayout),
			"to":   to.Format(timeLayout),
		})
		entry := audit.Entry{
			TenantID:     auth.TenantIDFromContext(r.Context()),
			Actor:        auth.SubjectFromContext(r.Context()),
			Role:         string(auth.RoleFromContext(r.Context())),
			Action:       "billing.recompute",
			ResourceType: "billing",
			ResourceID:   deviceID,
			DeviceID:     deviceID,
			Metadata:     metadata,
			IP:           r.RemoteAddr,
			UserAgent:    r.UserAgent(),
		}
		// The recompute already happened; a lost audit row is not surfaced
		// to the client.
		_ = h.auditor.Log(r.Context(), entry)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(toBillingView(state))
}

type faultView struct {
	DeviceID   string  `json:"device_id"`
	Type       string  `json:"type"`
	Severity   string  `json:"severity"`
	Message    string  `json:"message"`
	Value      float64 `json:"value"`
	Threshold  float64 `json:"threshold"`
	DetectedAt string  `json:"detected_at"`
}

// FaultsHandler serves the recent fault log for a device.
type FaultsHandler struct {
	query FaultQuery
}

// NewFaultsHandler constructs a FaultsHandler.
func NewFaultsHandler(query FaultQuery) *FaultsHandler {
	return &FaultsHandler{query: query}
}

// ServeHTTP handles GET /api/v1/faults.
func (h *FaultsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.query == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}

	deviceID := r.URL.Query().Get("device_id")
	if deviceID == "" {
		http.Error(w, "device_id is required", http.StatusBadRequest)
		return
	}

	since := time.Now().UTC().Add(-24 * time.Hour)
	if value := r.URL.Query().Get("since"); value != "" {
		parsed, err := time.Parse(timeLayout, value)
		if err != nil {
			http.Error(w, "since must be RFC3339", http.StatusBadRequest)
			return
		}
		since = parsed.UTC()
	}

	limit := 100
	if value := r.URL.Query().Get("limit"); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil || parsed <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	events, err := h.query.ListRecent(r.Context(), deviceID, since, limit)
	if err != nil {
		http.Error(w, "query faults error", http.StatusInternalServerError)
		return
	}

	views := make([]faultView, 0, len(events))
	for _, event := range events {
		views = append(views, faultView{
			DeviceID:   event.DeviceID,
			Type:       event.Type,
			Severity:   string(event.Severity),
			Message:    event.Message,
			Value:      event.Value,
			Threshold:  event.Threshold,
			DetectedAt: event.At.UTC().Format(timeLayout),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(views)
}

// LatestTelemetryHandler serves a device's most recent reading.
type LatestTelemetryHandler struct {
	latest LatestSource
}

// NewLatestTelemetryHandler constructs a LatestTelemetryHandler.
func NewLatestTelemetryHandler(latest LatestSource) *LatestTelemetryHandler {
	return &LatestTelemetryHandler{latest: latest}
}

// ServeHTTP handles GET /api/v1/telemetry/latest.
func (h *LatestTelemetryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.latest == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}

	deviceID := r.URL.Query().Get("device_id")
	if deviceID == "" {
		http.Error(w, "device_id is required", http.StatusBadRequest)
		return
	}

	reading, err := h.latest.Get(r.Context(), deviceID)
	if err != nil {
		if errors.Is(err, redisstore.ErrNoReading) {
			http.Error(w, "no recent reading", http.StatusNotFound)
			return
		}
		http.Error(w, "latest reading error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(reading)
}

// ReadingsHandler serves persisted readings over a time range.
type ReadingsHandler struct {
	query telemetry.Query
}

// NewReadingsHandler constructs a ReadingsHandler.
func NewReadingsHandler(query telemetry.Query) *ReadingsHandler {
	return &ReadingsHandler{query: query}
}

// ServeHTTP handles GET /api/v1/telemetry/readings.
func (h *ReadingsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.query == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}

	deviceID := r.URL.Query().Get("device_id")
	if deviceID == "" {
		http.Error(w, "device_id is required", http.StatusBadRequest)
		return
	}
	from, err := parseTimeQuery(r, "from")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	to, err := parseTimeQuery(r, "to")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !to.After(from) {
		http.Error(w, "to must be after from", http.StatusBadRequest)
		return
	}

	readings, err := h.query.QueryRange(r.Context(), deviceID, from, to)
	if err != nil {
		http.Error(w, "query readings error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(readings)
}

func parseTimeQuery(r *http.Request, key string) (time.Time, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return time.Time{}, errors.New(key + " is required")
	}
	parsed, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, errors.New(key + " must be RFC3339")
	}
	return parsed.UTC(), nil
}
