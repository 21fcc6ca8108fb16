package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// Reminder scheduler metrics
	TicksTotal        *prometheus.CounterVec
	TickDuration      prometheus.Histogram
	OccurrencesDue    prometheus.Counter
	DoseLogsCreated   prometheus.Counter
	OccurrenceSkipped *prometheus.CounterVec
	DosesMissed       prometheus.Counter

	// Notifier metrics
	EffectsDispatched *prometheus.CounterVec

	// Dose confirmation metrics
	DosesLogged *prometheus.CounterVec

	// Outbox related metrics
	OutboxEventsProcessed   prometheus.Counter
	OutboxEventsFailed      prometheus.Counter
	OutboxProcessingLatency prometheus.Histogram
	OutboxRetries           *prometheus.CounterVec

	// Database metrics
	DatabaseOperations *prometheus.CounterVec

	// HTTP metrics
	RequestDuration *prometheus.HistogramVec
	RequestTotal    *prometheus.CounterVec
}

// NewMetrics creates all application metrics and registers them with reg.
// Tests pass a fresh prometheus.NewRegistry() so instances never collide.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		TicksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "ticks_total",
			Help:      "Total number of reminder ticks by result",
		}, []string{"result"}),
		TickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "tick_duration_seconds",
			Help:      "Time spent running one reminder tick",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		OccurrencesDue: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "occurrences_due_total",
			Help:      "Dose occurrences found inside the lookahead window",
		}),
		DoseLogsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "dose_logs_created_total",
			Help:      "Pending dose log entries created by the scheduler",
		}),
		OccurrenceSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "occurrences_skipped_total",
			Help:      "Due occurrences not acted on, by reason",
		}, []string{"reason"}),
		DosesMissed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "doses_missed_total",
			Help:      "Pending dose log entries transitioned to missed",
		}),
		EffectsDispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifier",
			Name:      "effects_dispatched_total",
			Help:      "Reminder, alert and event deliveries by kind and status",
		}, []string{"kind", "status"}),
		DosesLogged: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "doses",
			Name:      "logged_total",
			Help:      "Dose confirmations by confirmation method and outcome",
		}, []string{"method", "outcome"}),
		OutboxEventsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "events_processed_total",
			Help:      "Total number of successfully processed outbox events",
		}),
		OutboxEventsFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "events_failed_total",
			Help:      "Total number of failed outbox events",
		}),
		OutboxProcessingLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "processing_duration_seconds",
			Help:      "Time spent processing outbox events",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		OutboxRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "retry_attempts_total",
			Help:      "Total number of retry attempts for outbox events",
		}, []string{"event_type"}),
		DatabaseOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "database_operations_total",
			Help:      "Total number of database operations",
		}, []string{"operation", "status"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		RequestTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, path and status",
		}, []string{"method", "path", "status"}),
	}
}

// New builds metrics on a private registry, for tests and one-shot commands.
func New(namespace string) *Metrics {
	return NewMetrics(prometheus.NewRegistry(), namespace)
}
