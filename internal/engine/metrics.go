package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics — собственные метрики телеметрического контура (RED + saturation).
type Metrics struct {
	// Collector: прием и запись событий
	EventsEnqueued prometheus.Counter
	EventsDropped  *prometheus.CounterVec // reason: queue_full, closed
	EventsWritten  prometheus.Counter
	BatchFailures  *prometheus.CounterVec // reason: store, breaker_open
	BatchDuration  prometheus.Histogram
	QueueDepth     prometheus.Gauge

	// Saturation: состояние Circuit Breaker (0 - ок, 1 - half-open, 2 - выбило)
	CircuitBreakerState *prometheus.GaugeVec

	// Bus: live fan-out
	BusPublished   prometheus.Counter
	BusDropped     prometheus.Counter
	BusSubscribers prometheus.Gauge

	// Фоновые задачи
	RollupRuns     *prometheus.CounterVec // window, status
	RollupDuration prometheus.Histogram
	ConsentExpired prometheus.Counter
	JobSkipped     *prometheus.CounterVec // job — проход отдан другому инстансу

	// Audit
	AuditAppends prometheus.Counter
	AuditErrors  prometheus.Counter

	// HTTP
	RequestDuration *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		EventsEnqueued: f.NewCounter(prometheus.CounterOpts{
			Name: "aurora_events_enqueued_total",
			Help: "Events accepted into the collector queue.",
		}),
		EventsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "aurora_events_dropped_total",
			Help: "Events dropped before reaching storage.",
		}, []string{"reason"}),
		EventsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "aurora_events_written_total",
			Help: "Events durably written to events_raw.",
		}),
		BatchFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "aurora_batch_failures_total",
			Help: "Discarded batches by failure reason.",
		}, []string{"reason"}),
		BatchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "aurora_batch_write_duration_seconds",
			Help:    "Latency of a single batch write.",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "aurora_collector_queue_depth",
			Help: "Current number of events waiting in the collector queue.",
		}),
		CircuitBreakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "aurora_circuit_breaker_state",
			Help: "Current state of the circuit breaker (0=closed, 1=half-open, 2=open).",
		}, []string{"name"}),
		BusPublished: f.NewCounter(prometheus.CounterOpts{
			Name: "aurora_bus_published_total",
			Help: "Summaries published to the live bus.",
		}),
		BusDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "aurora_bus_dropped_total",
			Help: "Summaries dropped for slow subscribers.",
		}),
		BusSubscribers: f.NewGauge(prometheus.GaugeOpts{
			Name: "aurora_bus_subscribers",
			Help: "Active live-stream subscribers on this instance.",
		}),
		RollupRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "aurora_rollup_runs_total",
			Help: "Rollup recomputations by window and status.",
		}, []string{"window", "status"}),
		RollupDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "aurora_rollup_duration_seconds",
			Help:    "Duration of a full rollup pass.",
			Buckets: prometheus.DefBuckets,
		}),
		ConsentExpired: f.NewCounter(prometheus.CounterOpts{
			Name: "aurora_consent_expired_total",
			Help: "Approvals transitioned to expired by the sweeper.",
		}),
		JobSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "aurora_job_skipped_total",
			Help: "Periodic passes skipped because another instance holds the lease.",
		}, []string{"job"}),
		AuditAppends: f.NewCounter(prometheus.CounterOpts{
			Name: "aurora_audit_appends_total",
			Help: "Records appended to the audit hash chain.",
		}),
		AuditErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "aurora_audit_errors_total",
			Help: "Audit append failures (request was still served).",
		}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aurora_http_request_duration_seconds",
			Help:    "Histogram of API request latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"method", "status"}),
	}
}
