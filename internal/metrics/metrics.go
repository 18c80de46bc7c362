// Package metrics exposes Prometheus instrumentation for the detection
// pipeline. Collectors are registered on the default registry at init.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Stream
	EventsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tripwire_events_processed_total",
			Help: "Login events pulled from the stream, by reported status",
		},
		[]string{"status"},
	)

	EventsInvalid = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tripwire_events_invalid_total",
			Help: "Stream messages that could not be decoded",
		},
	)

	EventDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tripwire_event_duration_seconds",
			Help:    "Time from receipt to ack of one event, enforcement included",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"detector"},
	)

	// Detection
	DetectorErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tripwire_detector_errors_total",
			Help: "Events the detector failed to analyze, panics included",
		},
		[]string{"detector"},
	)

	Decisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tripwire_block_decisions_total",
			Help: "Block decisions emitted, by reason",
		},
		[]string{"detector", "reason"},
	)

	TrackedKeys = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tripwire_detector_tracked_keys",
			Help: "Keys held in detector state",
		},
		[]string{"state"},
	)

	// Enforcement
	EnforcementFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tripwire_enforcement_failures_total",
			Help: "Failed enforcement steps",
		},
		[]string{"step"},
	)

	SessionsRevoked = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tripwire_sessions_revoked_total",
			Help: "Web sessions deleted because their IP was blocked",
		},
	)

	ActiveBlocks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tripwire_active_blocks",
			Help: "Rows in blocked_ips still in force at the last sweep",
		},
	)

	BlocksSwept = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tripwire_blocks_swept_total",
			Help: "Expired block records deleted by the cleanup sweep",
		},
	)
)

// Enforcement step labels
const (
	StepUpsert  = "upsert"
	StepRevoke  = "revoke"
	StepMirror  = "mirror"
	StepBreaker = "breaker_open"
)

// RecordEvent counts one event and its processing time.
func RecordEvent(detector, status string, duration time.Duration) {
	EventsProcessed.WithLabelValues(status).Inc()
	EventDuration.WithLabelValues(detector).Observe(duration.Seconds())
}

// RecordDecision counts one block decision.
func RecordDecision(detector, reason string) {
	Decisions.WithLabelValues(detector, reason).Inc()
}

// RecordDetectorError counts one failed analysis.
func RecordDetectorError(detector string) {
	DetectorErrors.WithLabelValues(detector).Inc()
}

// RecordEnforcementFailure counts one failed enforcement step.
func RecordEnforcementFailure(step string) {
	EnforcementFailures.WithLabelValues(step).Inc()
}

// UpdateTrackedKeys publishes the detector's state sizes.
func UpdateTrackedKeys(keys map[string]int) {
	for state, n := range keys {
		TrackedKeys.WithLabelValues(state).Set(float64(n))
	}
}
