package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	// Queue metrics
	QueueDepth    prometheus.Gauge
	QueueEnqueued prometheus.Counter
	QueueDequeued prometheus.Counter
	QueueDropped  prometheus.Counter

	// Check metrics
	ChecksTotal     *prometheus.CounterVec // labels: check_type, result
	CheckErrors     *prometheus.CounterVec // labels: check_type
	CheckDuration   prometheus.Histogram
	ComplianceScore prometheus.Histogram

	// Policy gate metrics
	PolicyPassed prometheus.Counter
	PolicyFailed prometheus.Counter

	// Alert metrics
	AlertsCreated  *prometheus.CounterVec // labels: alert_type
	AlertsResolved prometheus.Counter

	// Worker metrics
	WorkerTasksProcessed prometheus.Counter
	WorkerErrors         prometheus.Counter
	WorkerRetries        prometheus.Counter

	// Scheduler metrics
	SchedulerRuns           prometheus.Counter
	DocumentStatusRefreshes prometheus.Counter
	ScheduledChecksEnqueued prometheus.Counter

	// API metrics
	APIRequests *prometheus.CounterVec // labels: route, code
}

var (
	metricsInstance *Metrics
	metricsOnce     sync.Once
)

// GetMetrics returns the singleton metrics instance
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = &Metrics{
			QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "vendorcomply_queue_depth",
				Help: "Current number of checks waiting in the queue",
			}),
			QueueEnqueued: promauto.NewCounter(prometheus.CounterOpts{
				Name: "vendorcomply_queue_enqueued_total",
				Help: "Total number of checks enqueued",
			}),
			QueueDequeued: promauto.NewCounter(prometheus.CounterOpts{
				Name: "vendorcomply_queue_dequeued_total",
				Help: "Total number of checks dequeued",
			}),
			QueueDropped: promauto.NewCounter(prometheus.CounterOpts{
				Name: "vendorcomply_queue_dropped_total",
				Help: "Total number of checks dropped because one was already pending for the vendor",
			}),

			ChecksTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "vendorcomply_checks_total",
					Help: "Total number of compliance checks by trigger and result",
				},
				[]string{"check_type", "result"},
			),
			CheckErrors: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "vendorcomply_check_errors_total",
					Help: "Total number of compliance checks that failed to complete",
				},
				[]string{"check_type"},
			),
			CheckDuration: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "vendorcomply_check_duration_seconds",
				Help:    "Duration of compliance checks including persistence",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
			}),
			ComplianceScore: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "vendorcomply_compliance_score",
				Help:    "Distribution of computed vendor compliance scores",
				Buckets: prometheus.LinearBuckets(0, 10, 11),
			}),

			PolicyPassed: promauto.NewCounter(prometheus.CounterOpts{
				Name: "vendorcomply_policy_passed_total",
				Help: "Total number of evaluations that passed the approval gate",
			}),
			PolicyFailed: promauto.NewCounter(prometheus.CounterOpts{
				Name: "vendorcomply_policy_failed_total",
				Help: "Total number of evaluations that failed the approval gate",
			}),

			AlertsCreated: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "vendorcomply_alerts_created_total",
					Help: "Total number of alerts raised by type",
				},
				[]string{"alert_type"},
			),
			AlertsResolved: promauto.NewCounter(prometheus.CounterOpts{
				Name: "vendorcomply_alerts_resolved_total",
				Help: "Total number of alerts resolved",
			}),

			WorkerTasksProcessed: promauto.NewCounter(prometheus.CounterOpts{
				Name: "vendorcomply_worker_tasks_processed_total",
				Help: "Total number of checks processed by workers",
			}),
			WorkerErrors: promauto.NewCounter(prometheus.CounterOpts{
				Name: "vendorcomply_worker_errors_total",
				Help: "Total number of checks that failed after all retries",
			}),
			WorkerRetries: promauto.NewCounter(prometheus.CounterOpts{
				Name: "vendorcomply_worker_retries_total",
				Help: "Total number of check retries after transient errors",
			}),

			SchedulerRuns: promauto.NewCounter(prometheus.CounterOpts{
				Name: "vendorcomply_scheduler_runs_total",
				Help: "Total number of scheduler passes",
			}),
			DocumentStatusRefreshes: promauto.NewCounter(prometheus.CounterOpts{
				Name: "vendorcomply_document_status_refreshes_total",
				Help: "Total number of cached document statuses rewritten by the scheduler",
			}),
			ScheduledChecksEnqueued: promauto.NewCounter(prometheus.CounterOpts{
				Name: "vendorcomply_scheduled_checks_enqueued_total",
				Help: "Total number of scheduled checks enqueued",
			}),

			APIRequests: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "vendorcomply_api_requests_total",
					Help: "Total number of API requests by route pattern and status code",
				},
				[]string{"route", "code"},
			),
		}
	})
	return metricsInstance
}
