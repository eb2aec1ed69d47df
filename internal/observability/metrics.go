package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	checkpointOpDuration *prometheus.HistogramVec
	checkpointErrors     *prometheus.CounterVec
	checkpointsWritten   prometheus.Counter

	workspaceWriteDuration prometheus.Histogram
	workspaceSyncWarnings  *prometheus.CounterVec
	workspaceConflicts     *prometheus.CounterVec
	workspaceFiles         *prometheus.GaugeVec
	reconcileDuration      prometheus.Histogram

	activeRuntimes prometheus.Gauge
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			checkpointOpDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "checkpoint_operation_duration_seconds",
					Help:    "Checkpoint store operation duration in seconds by operation.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"op"},
			),
			checkpointErrors: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "checkpoint_errors_total",
					Help: "Total checkpoint store errors by operation.",
				},
				[]string{"op"},
			),
			checkpointsWritten: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "checkpoints_written_total",
					Help: "Total checkpoints durably written.",
				},
			),
			workspaceWriteDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "workspace_write_through_duration_seconds",
					Help:    "Workspace write-through duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			workspaceSyncWarnings: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "workspace_sync_warnings_total",
					Help: "Total non-fatal workspace sync failures by operation.",
				},
				[]string{"op"},
			),
			workspaceConflicts: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "workspace_conflicts_total",
					Help: "Total memory/disk conflicts resolved during reconcile by winning side.",
				},
				[]string{"winner"},
			),
			workspaceFiles: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "workspace_memory_files",
					Help: "Files currently held in the virtual namespace by backend mode.",
				},
				[]string{"mode"},
			),
			reconcileDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "workspace_reconcile_duration_seconds",
					Help:    "Workspace reconcile duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			activeRuntimes: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "active_runtimes",
					Help: "Current number of open agent runtimes.",
				},
			),
		}

		prometheus.MustRegister(
			m.checkpointOpDuration,
			m.checkpointErrors,
			m.checkpointsWritten,
			m.workspaceWriteDuration,
			m.workspaceSyncWarnings,
			m.workspaceConflicts,
			m.workspaceFiles,
			m.reconcileDuration,
			m.activeRuntimes,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordCheckpointOp(op string, duration time.Duration, success bool) {
	m := getMetrics()
	m.checkpointOpDuration.WithLabelValues(op).Observe(duration.Seconds())
	if !success {
		m.checkpointErrors.WithLabelValues(op).Inc()
	}
}

func RecordCheckpointWritten() {
	getMetrics().checkpointsWritten.Inc()
}

func RecordWriteThrough(duration time.Duration) {
	getMetrics().workspaceWriteDuration.Observe(duration.Seconds())
}

func RecordSyncWarning(op string) {
	getMetrics().workspaceSyncWarnings.WithLabelValues(op).Inc()
}

func RecordConflict(winner string) {
	getMetrics().workspaceConflicts.WithLabelValues(winner).Inc()
}

func SetWorkspaceFiles(mode string, count int) {
	getMetrics().workspaceFiles.WithLabelValues(mode).Set(float64(count))
}

func RecordReconcile(duration time.Duration) {
	getMetrics().reconcileDuration.Observe(duration.Seconds())
}

func IncActiveRuntimes() {
	getMetrics().activeRuntimes.Inc()
}

func DecActiveRuntimes() {
	getMetrics().activeRuntimes.Dec()
}
