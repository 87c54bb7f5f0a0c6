package application

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	billing "nexusgrid/internal/billing/domain"
	"nexusgrid/internal/observability/metrics"
	telemetry "nexusgrid/internal/telemetry/domain"
)

const dayLayout = "2006-01-02"

// Clock provides time for reporting-window decisions.
type Clock interface {
	Now() time.Time
}

// SystemClock uses time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// Service maintains one live accrual engine per device and recomputes
// historical ranges on demand. Engines are independent: each holds its own
// lock, so concurrent readings for different devices never contend.
type Service struct {
	mu      sync.RWMutex
	engines map[string]*deviceEngine

	query  telemetry.Query
	clock  Clock
	logger *log.Logger
}

type deviceEngine struct {
	mu    sync.Mutex
	day   string
	state *billing.State
}

// Option configures the service.
type Option func(*Service)

// WithClock overrides the default clock.
func WithClock(clock Clock) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewService constructs a billing service. The query is used for range
// recomputation and may be nil when only live accrual is needed.
func NewService(query telemetry.Query, logger *log.Logger, opts ...Option) (*Service, error) {
	if logger == nil {
		logger = log.Default()
	}
	service := &Service{
		engines: make(map[string]*deviceEngine),
		query:   query,
		clock:   SystemClock{},
		logger:  logger,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

func (s *Service) engine(deviceID string) *deviceEngine {
	s.mu.RLock()
	engine, ok := s.engines[deviceID]
	s.mu.RUnlock()
	if ok {
		return engine
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if engine, ok = s.engines[deviceID]; ok {
		return engine
	}
	engine = &deviceEngine{}
	s.engines[deviceID] = engine
	return engine
}

// Tick applies one live reading to the device's accrual for the current
// day. Readings outside the active day window are ignored. Per-device
// ordering is enforced by the engine lock; an out-of-order timestamp is
// recovered with zero duration and logged, never fatal.
func (s *Service) Tick(reading telemetry.Reading, params billing.Params) billing.TickResult {
	if s == nil {
		return billing.TickResult{}
	}
	engine := s.engine(reading.DeviceID)
	engine.mu.Lock()
	defer engine.mu.Unlock()

	today := s.clock.Now().UTC().Format(dayLayout)
	if engine.day != today {
		engine.day = today
		engine.state = billing.NewState(reading.DeviceID)
	}
	if reading.Timestamp.UTC().Format(dayLayout) != today {
		metrics.IncBillingTick("skipped_window")
		return billing.TickResult{}
	}

	result := engine.state.Tick(reading, params)
	switch {
	case result.Duplicate:
		metrics.IncBillingTick("duplicate")
	case result.OutOfOrder:
		metrics.IncBillingTick("out_of_order")
		s.logger.Printf("billing: out-of-order reading recovered with zero duration: device=%s ts=%s last=%s",
			reading.DeviceID, reading.Timestamp.Format(time.RFC3339), engine.state.LastApplied.Format(time.RFC3339))
	default:
		metrics.IncBillingTick(metrics.ResultSuccess)
	}
	return result
}

// Snapshot returns a copy of the device's current live accrual, or nil when
// no reading has been applied in the active window.
func (s *Service) Snapshot(deviceID string) *billing.State {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	engine, ok := s.engines[deviceID]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	engine.mu.Lock()
	defer engine.mu.Unlock()
	return engine.state.Clone()
}

// RecomputeRange rebuilds a billing state from persisted readings over
// [start, end). When the range is exactly the current day, the result also
// replaces the live engine's state wholesale so subsequent ticks accrue on
// the recomputed baseline.
func (s *Service) RecomputeRange(ctx context.Context, deviceID string, start, end time.Time, params billing.Params) (*billing.State, error) {
	if s == nil || s.query == nil {
		return nil, errors.New("billing: range query not configured")
	}
	if deviceID == "" {
		return nil, errors.New("billing: device id required")
	}
	if !end.After(start) {
		return nil, errors.New("billing: end must be after start")
	}

	readings, err := s.query.QueryRange(ctx, deviceID, start, end)
	if err != nil {
		metrics.IncBillingRecompute(metrics.ResultError)
		return nil, err
	}
	state := billing.Analyze(deviceID, readings, params)
	metrics.IncBillingRecompute(metrics.ResultSuccess)

	today := s.clock.Now().UTC().Format(dayLayout)
	if start.UTC().Format(dayLayout) == today && end.UTC().Add(-time.Nanosecond).Format(dayLayout) == today {
		engine := s.engine(deviceID)
		engine.mu.Lock()
		engine.day = today
		engine.state = state.Clone()
		engine.mu.Unlock()
	}
	return state, nil
}
