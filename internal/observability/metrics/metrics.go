package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "nexusgrid_"

	resultSuccess = "success"
	resultError   = "error"
)

// Notification outcome labels.
const (
	NotificationSent        = "sent"
	NotificationSuppressed  = "suppressed_cooldown"
	NotificationSkippedPlan = "skipped_plan"
	NotificationError       = "error"
)

var (
	registerOnce sync.Once

	ingestRequests *prometheus.CounterVec
	ingestErrors   *prometheus.CounterVec
	ingestLatency  *prometheus.HistogramVec

	faultEventsTotal   *prometheus.CounterVec
	notificationsTotal *prometheus.CounterVec

	billingTicksTotal     *prometheus.CounterVec
	billingRecomputeTotal *prometheus.CounterVec

	broadcastsTotal *prometheus.CounterVec

	configLookupErrors prometheus.Counter
)

// Init registers pipeline metrics. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		ingestRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_requests_total",
				Help: "Total ingested readings by result",
			},
			[]string{"result"},
		)
		ingestErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_errors_total",
				Help: "Total ingest errors by reason",
			},
			[]string{"reason"},
		)
		ingestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "ingest_latency_seconds",
				Help:    "End-to-end ingest latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		faultEventsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "fault_events_total",
				Help: "Total detected fault events by type and severity",
			},
			[]string{"type", "severity"},
		)
		notificationsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "notifications_total",
				Help: "Total notification decisions by outcome",
			},
			[]string{"outcome"},
		)

		billingTicksTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "billing_ticks_total",
				Help: "Total live billing ticks by result",
			},
			[]string{"result"},
		)
		billingRecomputeTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "billing_recompute_total",
				Help: "Total range recomputations by result",
			},
			[]string{"result"},
		)

		broadcastsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "broadcasts_total",
				Help: "Total real-time broadcast deliveries by outcome",
			},
			[]string{"outcome"},
		)

		configLookupErrors = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "config_lookup_errors_total",
				Help: "Total device configuration lookup failures",
			},
		)

		prometheus.MustRegister(
			ingestRequests,
			ingestErrors,
			ingestLatency,
			faultEventsTotal,
			notificationsTotal,
			billingTicksTotal,
			billingRecomputeTotal,
			broadcastsTotal,
			configLookupErrors,
		)
	})
}

// ObserveIngest records one ingest attempt.
func ObserveIngest(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if ingestRequests != nil {
		ingestRequests.WithLabelValues(result).Inc()
	}
	if ingestLatency != nil {
		ingestLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncIngestError counts a rejection or persistence failure by reason.
func IncIngestError(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if ingestErrors != nil {
		ingestErrors.WithLabelValues(reason).Inc()
	}
}

// IncFaultEvent counts a detected fault.
func IncFaultEvent(faultType, severity string) {
	if faultEventsTotal != nil {
		faultEventsTotal.WithLabelValues(faultType, severity).Inc()
	}
}

// IncNotification counts a notification decision outcome.
func IncNotification(outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	if notificationsTotal != nil {
		notificationsTotal.WithLabelValues(outcome).Inc()
	}
}

// IncBillingTick counts a live accrual tick.
func IncBillingTick(result string) {
	if result == "" {
		result = resultSuccess
	}
	if billingTicksTotal != nil {
		billingTicksTotal.WithLabelValues(result).Inc()
	}
}

// IncBillingRecompute counts a batch recomputation.
func IncBillingRecompute(result string) {
	if result == "" {
		result = resultSuccess
	}
	if billingRecomputeTotal != nil {
		billingRecomputeTotal.WithLabelValues(result).Inc()
	}
}

// IncBroadcast counts a real-time publish outcome.
func IncBroadcast(outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	if broadcastsTotal != nil {
		broadcastsTotal.WithLabelValues(outcome).Inc()
	}
}

// IncConfigLookupError counts a failed device configuration fetch.
func IncConfigLookupError() {
	if configLookupErrors != nil {
		configLookupErrors.Inc()
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
)
