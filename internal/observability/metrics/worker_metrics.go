package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	FailureReasonDeadlineExceeded     = "deadline_exceeded"
	FailureReasonCanceled             = "canceled"
	FailureReasonDBLockTimeout        = "db_lock_timeout"
	FailureReasonSerializationFailure = "serialization_failure"
	FailureReasonUniqueViolation      = "unique_violation"
	FailureReasonUnknown              = "unknown"
)

// WorkerMetrics captures orchestrator and queue consumer health signals.
type WorkerMetrics struct {
	jobs            *prometheus.CounterVec
	jobDuration     prometheus.Histogram
	stepResults     *prometheus.CounterVec
	callbackFailure prometheus.Counter
	deliveries      *prometheus.CounterVec
	pollErrors      *prometheus.CounterVec
}

var (
	workerMetricsOnce sync.Once
	workerMetrics     *WorkerMetrics
)

// Worker returns the singleton worker metrics registry.
func Worker() *WorkerMetrics {
	return WorkerWithConfig(Config{})
}

// WorkerWithConfig returns the singleton worker metrics registry using config labels.
func WorkerWithConfig(cfg Config) *WorkerMetrics {
	workerMetricsOnce.Do(func() {
		workerMetrics = NewWorkerMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return workerMetrics
}

// ResetWorkerMetricsForTest resets the worker metrics singleton for tests.
func ResetWorkerMetricsForTest() {
	workerMetricsOnce = sync.Once{}
	workerMetrics = nil
}

// NewWorkerMetrics registers a fresh set of worker collectors on registerer.
func NewWorkerMetrics(registerer prometheus.Registerer, cfg Config) *WorkerMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "provisioning"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	m := &WorkerMetrics{
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "provisioning_jobs_total",
			Help:        "Provisioning jobs by final status.",
			ConstLabels: constLabels,
		}, []string{"status"}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "provisioning_job_duration_seconds",
			Help:        "End-to-end provisioning job latency including the team settle delay.",
			Buckets:     []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 7.5, 10, 15, 30, 60, 120, 300},
			ConstLabels: constLabels,
		}),
		stepResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "provisioning_step_results_total",
			Help:        "Provisioning step outcomes by step.",
			ConstLabels: constLabels,
		}, []string{"step", "outcome"}),
		callbackFailure: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "provisioning_callback_failures_total",
			Help:        "Callback deliveries that failed and were swallowed.",
			ConstLabels: constLabels,
		}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "provisioning_queue_deliveries_total",
			Help:        "Queue deliveries by disposition.",
			ConstLabels: constLabels,
		}, []string{"disposition"}),
		pollErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "provisioning_queue_poll_errors_total",
			Help:        "Queue receive errors by low-cardinality reason.",
			ConstLabels: constLabels,
		}, []string{"reason"}),
	}

	registerer.MustRegister(
		m.jobs,
		m.jobDuration,
		m.stepResults,
		m.callbackFailure,
		m.deliveries,
		m.pollErrors,
	)
	return m
}

// ObserveJob records the final status and latency of a provisioning job.
func (m *WorkerMetrics) ObserveJob(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(normalizeLabel(status)).Inc()
	m.jobDuration.Observe(duration.Seconds())
}

// IncStepResult records one step outcome ("success", "failure", "skipped", "error").
func (m *WorkerMetrics) IncStepResult(step, outcome string) {
	if m == nil {
		return
	}
	m.stepResults.WithLabelValues(normalizeLabel(step), normalizeLabel(outcome)).Inc()
}

// IncCallbackFailure records a swallowed callback failure.
func (m *WorkerMetrics) IncCallbackFailure() {
	if m == nil {
		return
	}
	m.callbackFailure.Inc()
}

// IncDelivery records how a delivered message was settled ("ack", "nack", "dead_letter").
func (m *WorkerMetrics) IncDelivery(disposition string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(normalizeLabel(disposition)).Inc()
}

// IncPollError records a queue receive failure classified by ClassifyFailureReason.
func (m *WorkerMetrics) IncPollError(err error) {
	if m == nil || err == nil {
		return
	}
	m.pollErrors.WithLabelValues(ClassifyFailureReason(err)).Inc()
}

// ClassifyFailureReason maps storage and context errors to a bounded label set.
func ClassifyFailureReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return FailureReasonDeadlineExceeded
	case errors.Is(err, context.Canceled):
		return FailureReasonCanceled
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return FailureReasonUniqueViolation
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "55P03":
			return FailureReasonDBLockTimeout
		case "40001", "40P01":
			return FailureReasonSerializationFailure
		case "23505":
			return FailureReasonUniqueViolation
		}
	}
	return FailureReasonUnknown
}

func normalizeLabel(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return "unknown"
	}
	return value
}
