// Package metrics exposes Prometheus instrumentation for the transcoding
// server: transfer activity, task outcomes, disk budget, and cleanup work.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every collector the server registers.
type Metrics struct {
	registry *prometheus.Registry

	ActiveUploadSessions prometheus.Gauge
	ActiveConversions    prometheus.Gauge

	ChunksReceivedTotal prometheus.Counter
	UploadBytesTotal    prometheus.Counter
	DedupHitsTotal      prometheus.Counter

	TasksFinishedTotal *prometheus.CounterVec
	TaskDuration       prometheus.Histogram

	DiskUsedBytes    prometheus.Gauge
	DiskUsagePercent prometheus.Gauge

	CleanupBytesFreedTotal *prometheus.CounterVec

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates a registry with all server collectors plus the standard Go
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Metrics{
		registry: reg,

		ActiveUploadSessions: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "clipforge_active_upload_sessions",
			Help: "Number of live chunked upload sessions",
		}),
		ActiveConversions: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "clipforge_active_conversions",
			Help: "Number of encodes currently running",
		}),

		ChunksReceivedTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "clipforge_chunks_received_total",
			Help: "Total chunks accepted across all upload sessions",
		}),
		UploadBytesTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "clipforge_upload_bytes_total",
			Help: "Total payload bytes accepted across all upload sessions",
		}),
		DedupHitsTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "clipforge_dedup_hits_total",
			Help: "Uploads short-circuited by fingerprint deduplication",
		}),

		TasksFinishedTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "clipforge_tasks_finished_total",
				Help: "Tasks reaching a terminal state, by outcome",
			},
			[]string{"status"},
		),
		TaskDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name: "clipforge_task_duration_seconds",
			Help: "Wall-clock encode duration for completed tasks",
			Buckets: []float64{
				1,    // trivial clips
				10,   // short clips
				60,   // 1m
				300,  // 5m
				900,  // 15m
				3600, // 1h - long features
				7200, // 2h
			},
		}),

		DiskUsedBytes: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "clipforge_disk_used_bytes",
			Help: "Bytes of managed storage currently in use",
		}),
		DiskUsagePercent: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "clipforge_disk_usage_percent",
			Help: "Managed storage use as a percent of the configured budget",
		}),

		CleanupBytesFreedTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "clipforge_cleanup_bytes_freed_total",
				Help: "Bytes reclaimed by the cleanup engine, by category",
			},
			[]string{"category"},
		),

		HTTPRequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "clipforge_http_requests_total",
				Help: "HTTP requests by method, route, and status code",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "clipforge_http_request_duration_seconds",
				Help:    "HTTP request latency by route",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
	}
}

// Registry exposes the underlying registry for additional collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveTaskFinished records a terminal task outcome.
func (m *Metrics) ObserveTaskFinished(status string, duration time.Duration) {
	m.TasksFinishedTotal.WithLabelValues(status).Inc()
	if duration > 0 {
		m.TaskDuration.Observe(duration.Seconds())
	}
}
