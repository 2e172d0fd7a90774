// Package metrics exposes Prometheus instrumentation for the dialer.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the dialer's own registry; nothing is registered on the global default.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

// =============================================================================
// Calls
// =============================================================================

var CallsPlaced = factory.NewCounter(prometheus.CounterOpts{
	Namespace: "dialer",
	Name:      "calls_placed_total",
	Help:      "Outbound calls handed to the session provider",
})

var PlacementErrors = factory.NewCounter(prometheus.CounterOpts{
	Namespace: "dialer",
	Name:      "placement_errors_total",
	Help:      "Calls the session provider refused to place",
})

var CallDispositions = factory.NewCounterVec(prometheus.CounterOpts{
	Namespace: "dialer",
	Name:      "call_dispositions_total",
	Help:      "Finalized call attempts by disposition",
}, []string{"disposition"})

var CallFailures = factory.NewCounterVec(prometheus.CounterOpts{
	Namespace: "dialer",
	Name:      "call_failures_total",
	Help:      "Failed call attempts by classified failure code",
}, []string{"code"})

var CallDurationSeconds = factory.NewHistogram(prometheus.HistogramOpts{
	Namespace: "dialer",
	Name:      "call_duration_seconds",
	Help:      "Talk time of answered calls",
	Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200},
})

// =============================================================================
// Buffer
// =============================================================================

var ActiveQueueSize = factory.NewGauge(prometheus.GaugeOpts{
	Namespace: "dialer",
	Name:      "active_queue_size",
	Help:      "Contacts committed to dial order and not yet dialed",
})

var MemoryBufferSize = factory.NewGauge(prometheus.GaugeOpts{
	Namespace: "dialer",
	Name:      "memory_buffer_size",
	Help:      "Contacts held in reserve",
})

var ContactsMovedUp = factory.NewCounter(prometheus.CounterOpts{
	Namespace: "dialer",
	Name:      "contacts_moved_up_total",
	Help:      "Contacts moved from the memory buffer into dial order",
})

var ContactsFetched = factory.NewCounterVec(prometheus.CounterOpts{
	Namespace: "dialer",
	Name:      "contacts_fetched_total",
	Help:      "Unique contacts admitted into the buffer by fetch method",
}, []string{"method"})

var ReplenishDurationSeconds = factory.NewHistogram(prometheus.HistogramOpts{
	Namespace: "dialer",
	Name:      "refill_duration_seconds",
	Help:      "Time spent fetching contacts to refill the memory buffer",
	Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
})

// =============================================================================
// Collaborators
// =============================================================================

var SourceErrors = factory.NewCounterVec(prometheus.CounterOpts{
	Namespace: "dialer",
	Name:      "source_errors_total",
	Help:      "Contact source requests that degraded to an empty result",
}, []string{"operation"})

var PersistenceErrors = factory.NewCounterVec(prometheus.CounterOpts{
	Namespace: "dialer",
	Name:      "persistence_errors_total",
	Help:      "Failed best-effort writes by sink",
}, []string{"sink"})

// =============================================================================
// Classification gate
// =============================================================================

var AwaitingClassification = factory.NewGauge(prometheus.GaugeOpts{
	Namespace: "dialer",
	Name:      "awaiting_classification",
	Help:      "1 while the engine is paused waiting for the agent to rate the last call",
})

var Classifications = factory.NewCounterVec(prometheus.CounterOpts{
	Namespace: "dialer",
	Name:      "classifications_total",
	Help:      "Submitted call ratings by value",
}, []string{"rating"})

// =============================================================================
// Control socket
// =============================================================================

var ControlCommands = factory.NewCounterVec(prometheus.CounterOpts{
	Namespace: "dialer",
	Name:      "control_commands_total",
	Help:      "Control socket commands by command and result code",
}, []string{"command", "code"})

var ControlCommandSeconds = factory.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "dialer",
	Name:      "control_command_seconds",
	Help:      "Time spent serving a control socket command",
	Buckets:   []float64{0.001, 0.005, 0.025, 0.1, 0.5, 2, 10},
}, []string{"command"})

// Handler serves the dialer registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}

// SetBufferSizes publishes the current tier sizes.
func SetBufferSizes(active, memory int) {
	ActiveQueueSize.Set(float64(active))
	MemoryBufferSize.Set(float64(memory))
}

// ResetRunGauges zeroes the per-run gauges when the engine stops.
func ResetRunGauges() {
	ActiveQueueSize.Set(0)
	MemoryBufferSize.Set(0)
	AwaitingClassification.Set(0)
}
