package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	devices "nexusgrid/internal/devices/domain"
	faults "nexusgrid/internal/faults/domain"
	"nexusgrid/internal/faults/notify"
	"nexusgrid/internal/observability/metrics"
)

// DefaultCooldownWindow is the minimum interval between notifications for
// the same (device, fault type).
const DefaultCooldownWindow = 15 * time.Minute

// Notifier sends a notification to a contact. Used by the dispatcher only.
type Notifier interface {
	Send(ctx context.Context, recipient, subject, body string) error
}

// Clock provides time for cooldown decisions.
type Clock interface {
	Now() time.Time
}

// Dispatcher turns fault events into log records and cooldown-gated
// notifications. Logging always happens; notification is best-effort and
// never propagates failure to the ingestion caller.
type Dispatcher struct {
	sink        faults.LogSink
	notifier    Notifier
	template    *notify.Template
	cooldowns   *CooldownState
	window      time.Duration
	sendTimeout time.Duration
	clock       Clock
	logger      *log.Logger
}

// Option configures the dispatcher.
type Option func(*Dispatcher)

// WithClock overrides the default clock.
func WithClock(clock Clock) Option {
	return func(d *Dispatcher) {
		if clock != nil {
			d.clock = clock
		}
	}
}

// WithCooldownWindow overrides the notification cooldown interval.
func WithCooldownWindow(window time.Duration) Option {
	return func(d *Dispatcher) {
		if window > 0 {
			d.window = window
		}
	}
}

// WithSendTimeout bounds a single notifier call.
func WithSendTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.sendTimeout = timeout
		}
	}
}

// WithTemplate overrides the notification body template.
func WithTemplate(template *notify.Template) Option {
	return func(d *Dispatcher) {
		if template != nil {
			d.template = template
		}
	}
}

// NewDispatcher constructs a dispatcher. The notifier may be nil, in which
// case faults are logged but nothing is sent.
func NewDispatcher(sink faults.LogSink, notifier Notifier, logger *log.Logger, opts ...Option) (*Dispatcher, error) {
	if sink == nil {
		return nil, errors.New("dispatch: nil fault log sink")
	}
	if logger == nil {
		logger = log.Default()
	}
	template, err := notify.NewTemplate("")
	if err != nil {
		return nil, err
	}
	dispatcher := &Dispatcher{
		sink:        sink,
		notifier:    notifier,
		template:    template,
		cooldowns:   NewCooldownState(),
		window:      DefaultCooldownWindow,
		sendTimeout: 10 * time.Second,
		clock:       systemClock{},
		logger:      logger,
	}
	for _, opt := range opts {
		opt(dispatcher)
	}
	return dispatcher, nil
}

// Dispatch persists every fault and notifies the owner about the priority
// fault, subject to plan gating and the per-key cooldown. Returns nothing:
// the outcome is observable only through the sink and the notifier.
func (d *Dispatcher) Dispatch(ctx context.Context, events []faults.Event, device devices.Device, contact devices.OwnerContact) {
	if d == nil || len(events) == 0 {
		return
	}

	for _, event := range events {
		if err := d.sink.Append(ctx, event); err != nil {
			d.logger.Printf("dispatch: fault log append error: device=%s type=%s: %v", device.ID, event.Type, err)
		}
		metrics.IncFaultEvent(event.Type, string(event.Severity))
	}

	priority := priorityFault(events)

	if !contact.AlertsAllowed() {
		metrics.IncNotification(metrics.NotificationSkippedPlan)
		return
	}
	if d.notifier == nil {
		return
	}

	key := device.ID + ":" + priority.Type
	now := d.clock.Now().UTC()
	if !d.cooldowns.Allow(key, now, d.window) {
		metrics.IncNotification(metrics.NotificationSuppressed)
		return
	}

	name := device.Name
	if name == "" {
		name = device.ID
	}
	subject := fmt.Sprintf("[%s] %s Alert: %s", priority.Severity, priority.Type, name)
	body, err := d.template.Render(notify.TemplateData{
		DeviceID:   device.ID,
		DeviceName: name,
		FaultType:  priority.Type,
		Severity:   string(priority.Severity),
		Message:    priority.Message,
		Value:      fmt.Sprintf("%.2f", priority.Value),
		Threshold:  fmt.Sprintf("%.2f", priority.Threshold),
		DetectedAt: priority.At.UTC().Format(time.RFC3339),
		Advice:     adviceFor(priority.Severity),
	})
	if err != nil {
		d.logger.Printf("dispatch: template render error: %v", err)
		d.cooldowns.Release(key, now)
		return
	}

	sendCtx := ctx
	if d.sendTimeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, d.sendTimeout)
		defer cancel()
	}
	if err := d.notifier.Send(sendCtx, contact.Email, subject, body); err != nil {
		metrics.IncNotification(metrics.NotificationError)
		d.logger.Printf("dispatch: notify error: device=%s type=%s: %v", device.ID, priority.Type, err)
		// A failed send does not consume the window; the next fault on
		// this key retries immediately.
		d.cooldowns.Release(key, now)
		return
	}
	metrics.IncNotification(metrics.NotificationSent)
}

// priorityFault picks the first CRITICAL or DANGER fault, falling back to
// the first warning. Evaluation order is stable, so this is deterministic.
func priorityFault(events []faults.Event) faults.Event {
	for _, event := range events {
		if event.Severity.Notifiable() {
			return event
		}
	}
	return events[0]
}

func adviceFor(severity faults.Severity) string {
	switch severity {
	case faults.SeverityDanger, faults.SeverityCritical:
		return "Investigate immediately and mitigate risk."
	default:
		return "Verify the condition and take action if needed."
	}
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
