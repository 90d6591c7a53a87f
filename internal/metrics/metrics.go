// Package metrics provides Prometheus metrics for the lfs filesystem.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Namespace operation metrics
	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lfs_operations_total",
			Help: "Total namespace operations by result",
		},
		[]string{"op", "result"},
	)

	operationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lfs_operation_duration_seconds",
			Help:    "Namespace operation duration in seconds, lock wait included",
			Buckets: []float64{.00001, .0001, .001, .01, .1, 1},
		},
		[]string{"op"},
	)

	bytesWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lfs_bytes_written_total",
			Help: "Total bytes accepted by write",
		},
	)

	bytesRead = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lfs_bytes_read_total",
			Help: "Total bytes returned by read",
		},
	)

	// Namespace size
	directories = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lfs_directories",
			Help: "Number of directories in the namespace, root included",
		},
	)

	files = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lfs_files",
			Help: "Number of regular files in the namespace",
		},
	)

	contentBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lfs_content_bytes",
			Help: "Logical bytes stored across all files",
		},
	)

	openHandles = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lfs_open_handles",
			Help: "Number of open file handles",
		},
	)

	// Events
	eventSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lfs_event_subscribers",
			Help: "Number of change event subscribers",
		},
	)

	eventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lfs_events_dropped_total",
			Help: "Change events dropped for slow subscribers",
		},
	)

	// Mirror
	mirrorRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lfs_mirror_runs_total",
			Help: "Mirror runs by result",
		},
		[]string{"result"},
	)

	mirrorDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lfs_mirror_duration_seconds",
			Help:    "Duration of mirror runs in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	mirrorObjectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lfs_mirror_objects_total",
			Help: "Objects handled by store mirroring",
		},
		[]string{"action"},
	)

	// Mirror storage backends
	storageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lfs_storage_operations_total",
			Help: "Mirror storage backend operations",
		},
		[]string{"backend", "operation", "status"},
	)

	storageOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lfs_storage_operation_duration_seconds",
			Help:    "Mirror storage backend operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordOperation records one namespace operation.
func RecordOperation(op, result string, duration time.Duration) {
	operationsTotal.WithLabelValues(op, result).Inc()
	operationDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordBytesWritten adds to the written byte counter.
func RecordBytesWritten(n int) {
	bytesWritten.Add(float64(n))
}

// RecordBytesRead adds to the read byte counter.
func RecordBytesRead(n int) {
	bytesRead.Add(float64(n))
}

// SetNamespaceSize publishes the current namespace totals.
func SetNamespaceSize(dirs, fileCount int, bytes int64, handles int) {
	directories.Set(float64(dirs))
	files.Set(float64(fileCount))
	contentBytes.Set(float64(bytes))
	openHandles.Set(float64(handles))
}

// SetEventSubscribers sets the number of event subscribers.
func SetEventSubscribers(count int) {
	eventSubscribers.Set(float64(count))
}

// RecordEventDropped counts an event not delivered to a subscriber.
func RecordEventDropped() {
	eventsDropped.Inc()
}

// RecordMirrorRun records a mirror run. result is "success", "error" or
// "skipped".
func RecordMirrorRun(result string, duration time.Duration) {
	mirrorRunsTotal.WithLabelValues(result).Inc()
	if result != "skipped" {
		mirrorDuration.Observe(duration.Seconds())
	}
}

// RecordMirrorObject counts an object uploaded, deleted or left unchanged.
func RecordMirrorObject(action string) {
	mirrorObjectsTotal.WithLabelValues(action).Inc()
}

// RecordStorageOperation records one mirror storage backend call.
func RecordStorageOperation(backend, operation string, duration time.Duration, success bool) {
	storageOperationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
	status := "success"
	if !success {
		status = "error"
	}
	storageOperationsTotal.WithLabelValues(backend, operation, status).Inc()
}
