package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Event log metrics
	EventsAppended = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_events_appended_total",
			Help: "Total number of events appended to the log",
		},
	)

	EventLogSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_event_log_size",
			Help: "Current number of events held in the log",
		},
	)

	PersistenceErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_persistence_errors_total",
			Help: "Total number of event persistence failures",
		},
	)

	// Dispatcher metrics
	DispatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "burrow_dispatch_duration_seconds",
			Help:    "Time taken to dispatch an event to all matching handlers",
			Buckets: prometheus.DefBuckets,
		},
	)

	HandlerFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_handler_failures_total",
			Help: "Total number of handler errors and panics absorbed during dispatch",
		},
	)

	// Completion registry metrics
	JobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_jobs_total",
			Help: "Total number of completion jobs by terminal status",
		},
		[]string{"status"},
	)

	JobsOutstanding = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_jobs_outstanding",
			Help: "Number of completion jobs currently queued or in progress",
		},
	)

	JobsRejected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_jobs_rejected_total",
			Help: "Total number of submissions rejected because the registry was saturated",
		},
	)

	// Broker metrics
	SubscribersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_subscribers_total",
			Help: "Current number of active subscribers",
		},
	)

	PushFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_push_failures_total",
			Help: "Total number of failed event pushes (triggering auto-unsubscribe)",
		},
	)

	// Observation metrics
	ReplaysTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_replays_total",
			Help: "Total number of replay sessions by outcome",
		},
		[]string{"outcome"},
	)

	// Server metrics
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_requests_total",
			Help: "Total number of client requests by event and status",
		},
		[]string{"event", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "burrow_request_duration_seconds",
			Help:    "Client request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"event"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(EventsAppended)
	prometheus.MustRegister(EventLogSize)
	prometheus.MustRegister(PersistenceErrors)
	prometheus.MustRegister(DispatchDuration)
	prometheus.MustRegister(HandlerFailures)
	prometheus.MustRegister(JobsTotal)
	prometheus.MustRegister(JobsOutstanding)
	prometheus.MustRegister(JobsRejected)
	prometheus.MustRegister(SubscribersTotal)
	prometheus.MustRegister(PushFailures)
	prometheus.MustRegister(ReplaysTotal)
	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(RequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
