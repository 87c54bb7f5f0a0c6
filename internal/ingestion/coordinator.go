package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	billing "nexusgrid/internal/billing/domain"
	devices "nexusgrid/internal/devices/domain"
	faults "nexusgrid/internal/faults/domain"
	"nexusgrid/internal/observability/metrics"
	telemetry "nexusgrid/internal/telemetry/domain"
)

// Status is the terminal pipeline state of one ingest attempt.
type Status string

const (
	StatusAccepted      Status = "accepted"
	StatusRejected      Status = "rejected"
	StatusPersistFailed Status = "persist_failed"
)

// Result reports what happened to a single payload.
type Result struct {
	Status     Status
	DeviceID   string
	FaultCount int
	Billing    billing.TickResult
	Err        error
}

// Accrual applies a reading to the live billing state.
type Accrual interface {
	Tick(reading telemetry.Reading, params billing.Params) billing.TickResult
}

// Dispatcher handles detected faults: logging and notification.
type Dispatcher interface {
	Dispatch(ctx context.Context, events []faults.Event, device devices.Device, contact devices.OwnerContact)
}

// Broadcaster pushes accepted readings and detected faults to live
// subscribers. Must not block.
type Broadcaster interface {
	PublishReading(reading telemetry.Reading)
	PublishFault(deviceID string, at time.Time, data any)
}

// LatestCache keeps the most recent reading per device. Best-effort.
type LatestCache interface {
	Save(ctx context.Context, reading telemetry.Reading) error
}

// Clock provides time for payloads without a timestamp.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Coordinator drives a reading through the full pipeline: validate, persist,
// fan out to the live stream, evaluate thresholds, dispatch alerts and apply
// billing. Persistence gates everything downstream; a reading that cannot be
// stored triggers no side effects. Alert dispatch runs asynchronously so a
// slow notification gateway never delays the ingest response.
type Coordinator struct {
	repo       telemetry.Repository
	configs    devices.ConfigProvider
	accrual    Accrual
	dispatcher Dispatcher
	broadcast  Broadcaster
	latest     LatestCache

	clock  Clock
	logger *log.Logger

	dispatchTimeout time.Duration
	wg              sync.WaitGroup
}

// Option configures the coordinator.
type Option func(*Coordinator)

// WithClock overrides the default clock.
func WithClock(clock Clock) Option {
	return func(c *Coordinator) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithBroadcaster wires a live stream fanout.
func WithBroadcaster(broadcast Broadcaster) Option {
	return func(c *Coordinator) { c.broadcast = broadcast }
}

// WithLatestCache wires a latest-reading cache.
func WithLatestCache(latest LatestCache) Option {
	return func(c *Coordinator) { c.latest = latest }
}

// WithDispatchTimeout bounds the asynchronous fault dispatch.
func WithDispatchTimeout(timeout time.Duration) Option {
	return func(c *Coordinator) {
		if timeout > 0 {
			c.dispatchTimeout = timeout
		}
	}
}

// NewCoordinator constructs the ingestion pipeline.
func NewCoordinator(
	repo telemetry.Repository,
	configs devices.ConfigProvider,
	accrual Accrual,
	dispatcher Dispatcher,
	logger *log.Logger,
	opts ...Option,
) (*Coordinator, error) {
	if repo == nil {
		return nil, errors.New("ingestion: nil reading repository")
	}
	if configs == nil {
		return nil, errors.New("ingestion: nil config provider")
	}
	if logger == nil {
		logger = log.Default()
	}
	coordinator := &Coordinator{
		repo:            repo,
		configs:         configs,
		accrual:         accrual,
		dispatcher:      dispatcher,
		clock:           systemClock{},
		logger:          logger,
		dispatchTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(coordinator)
	}
	return coordinator, nil
}

// Ingest runs one payload through the pipeline. The returned error is
// non-nil only for rejections and persistence failures; downstream stage
// failures (config lookup, billing, notification) are logged and absorbed.
func (c *Coordinator) Ingest(ctx context.Context, payload telemetry.WirePayload) Result {
	started := c.clock.Now()

	reading, err := telemetry.NewReading(payload, c.clock)
	if err != nil {
		metrics.IncIngestError("validation")
		metrics.ObserveIngest("rejected", c.clock.Now().Sub(started))
		return Result{Status: StatusRejected, DeviceID: payload.DeviceID, Err: err}
	}

	if err := c.repo.Append(ctx, reading); err != nil {
		metrics.IncIngestError("persist")
		metrics.ObserveIngest("persist_failed", c.clock.Now().Sub(started))
		c.logger.Printf("ingestion: persist error: device=%s: %v", reading.DeviceID, err)
		return Result{
			Status:   StatusPersistFailed,
			DeviceID: reading.DeviceID,
			Err:      fmt.Errorf("ingestion: persist: %w", err),
		}
	}

	if c.latest != nil {
		if err := c.latest.Save(ctx, reading); err != nil {
			c.logger.Printf("ingestion: latest cache error: device=%s: %v", reading.DeviceID, err)
		}
	}
	if c.broadcast != nil {
		c.broadcast.PublishReading(reading)
	}

	result := Result{Status: StatusAccepted, DeviceID: reading.DeviceID}

	config, err := c.configs.GetConfig(ctx, reading.DeviceID)
	if err != nil {
		// The reading is already durable and streamed; without limits and
		// tariff there is nothing further to evaluate.
		metrics.IncConfigLookupError()
		c.logger.Printf("ingestion: config lookup error: device=%s: %v", reading.DeviceID, err)
		metrics.ObserveIngest(metrics.ResultSuccess, c.clock.Now().Sub(started))
		return result
	}

	events := faults.Evaluate(reading, config.Limits.Normalize())
	result.FaultCount = len(events)
	if c.broadcast != nil {
		for _, event := range events {
			c.broadcast.PublishFault(event.DeviceID, event.At, event)
		}
	}
	if len(events) > 0 && c.dispatcher != nil {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			dispatchCtx, cancel := context.WithTimeout(context.Background(), c.dispatchTimeout)
			defer cancel()
			c.dispatcher.Dispatch(dispatchCtx, events, config.Device, config.Contact)
		}()
	}

	if c.accrual != nil {
		result.Billing = c.accrual.Tick(reading, billing.NewParams(config.Tariff))
	}

	metrics.ObserveIngest(metrics.ResultSuccess, c.clock.Now().Sub(started))
	return result
}

// Drain blocks until in-flight fault dispatches finish. Called on shutdown.
func (c *Coordinator) Drain() {
	c.wg.Wait()
}
