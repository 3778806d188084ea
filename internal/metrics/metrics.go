// Package metrics exposes Prometheus metrics for the task lifecycle and the
// HTTP surface.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TasksCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "learnscaffold_tasks_created_total",
		Help: "Total number of tasks created at intake",
	})
	TasksStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "learnscaffold_tasks_started_total",
		Help: "Total number of tasks claimed for generation",
	})
	TasksCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "learnscaffold_tasks_completed_total",
		Help: "Total number of tasks that completed successfully",
	})
	TasksFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "learnscaffold_tasks_failed_total",
		Help: "Total number of tasks that failed during execution",
	})
	NotificationsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "learnscaffold_notifications_sent_total",
		Help: "Total number of completion notifications delivered",
	})
	TaskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "learnscaffold_task_duration_seconds",
		Help:    "Background execution duration in seconds",
		Buckets: []float64{.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
	}, []string{"status"})
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "learnscaffold_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)

func RecordTaskCompleted(duration time.Duration) {
	TasksCompleted.Inc()
	TaskDuration.WithLabelValues("completed").Observe(duration.Seconds())
}

func RecordTaskFailed(duration time.Duration) {
	TasksFailed.Inc()
	TaskDuration.WithLabelValues("failed").Observe(duration.Seconds())
}

func RecordHTTPRequest(method, path string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}
