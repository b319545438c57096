// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sitepipe_build_info",
			Help: "Build information of sitepipe",
		},
		[]string{"version", "commit", "date"},
	)

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sitepipe_stage_duration_seconds",
		Help:    "Duration of a transform stage run",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms .. ~10s
	}, []string{"variant", "category"})

	StageRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sitepipe_stage_runs_total",
		Help: "Total number of transform stage runs",
	}, []string{"variant", "category", "trigger"})

	FilesWrittenTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sitepipe_files_written_total",
		Help: "Total number of destination files written",
	}, []string{"variant", "category"})

	TransformErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sitepipe_transform_errors_total",
		Help: "Total number of source files skipped because a transform rejected them",
	}, []string{"variant", "category", "step"})

	ImageCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sitepipe_image_cache_total",
		Help: "Image optimization memo lookups",
	}, []string{"result"})

	WatchEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sitepipe_watch_events_total",
		Help: "Filesystem events seen by the watcher",
	}, []string{"category", "outcome"})

	LiveReloadClients = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sitepipe_livereload_clients",
		Help: "Number of connected live-reload clients",
	}, []string{"variant"})

	LiveReloadBroadcastsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sitepipe_livereload_broadcasts_total",
		Help: "Total number of live-reload notifications sent",
	}, []string{"variant", "kind"})

	PipelineRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sitepipe_pipeline_runs_total",
		Help: "Total number of pipeline runs",
	}, []string{"variant", "result"})
)
