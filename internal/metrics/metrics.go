// Package metrics instruments a sync run with Prometheus counters. Each
// Recorder owns its registry so runs and tests never share state.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder collects sync metrics
type Recorder struct {
	registry *prometheus.Registry

	filesTotal        *prometheus.CounterVec
	bytesDownloaded   prometheus.Counter
	downloadAttempts  *prometheus.CounterVec
	pageRequests      *prometheus.CounterVec
	rateLimits        *prometheus.CounterVec
	enumerationErrors *prometheus.CounterVec
	prunedDirectories prometheus.Counter
	runDuration       prometheus.Gauge
	lastRunTimestamp  prometheus.Gauge
}

// NewRecorder creates a Recorder with a fresh registry
func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Recorder{
		registry: registry,

		filesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zoom_mirror_files_total",
				Help: "Recording files processed, by terminal status",
			},
			[]string{"status"}, // "archived", "downloaded", "error"
		),

		bytesDownloaded: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "zoom_mirror_bytes_downloaded_total",
				Help: "Bytes written to completed downloads",
			},
		),

		downloadAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zoom_mirror_download_attempts_total",
				Help: "Download attempts, by outcome",
			},
			[]string{"outcome"}, // "success", "failure"
		),

		pageRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zoom_mirror_page_requests_total",
				Help: "Listing pages fetched, by endpoint",
			},
			[]string{"endpoint"},
		),

		rateLimits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zoom_mirror_rate_limit_cooldowns_total",
				Help: "Cooldowns taken after a 429 response, by endpoint",
			},
			[]string{"endpoint"},
		),

		enumerationErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zoom_mirror_enumeration_errors_total",
				Help: "Listing failures, by scope",
			},
			[]string{"scope"}, // "members", "recordings"
		),

		prunedDirectories: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "zoom_mirror_pruned_directories_total",
				Help: "Empty day and month folders removed",
			},
		),

		runDuration: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "zoom_mirror_last_run_duration_seconds",
				Help: "Duration of the most recent sync run",
			},
		),

		lastRunTimestamp: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "zoom_mirror_last_run_timestamp_seconds",
				Help: "Unix time the most recent sync run finished",
			},
		),
	}
}

// Registry exposes the underlying registry
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveFile counts a file reaching a terminal status
func (r *Recorder) ObserveFile(status string) {
	r.filesTotal.WithLabelValues(status).Inc()
}

// ObserveBytes adds n to the downloaded byte count
func (r *Recorder) ObserveBytes(n int64) {
	if n > 0 {
		r.bytesDownloaded.Add(float64(n))
	}
}

// ObserveDownloadAttempt counts one download attempt
func (r *Recorder) ObserveDownloadAttempt(success bool) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	r.downloadAttempts.WithLabelValues(outcome).Inc()
}

// ObservePage counts one fetched listing page
func (r *Recorder) ObservePage(endpoint string) {
	r.pageRequests.WithLabelValues(endpoint).Inc()
}

// ObserveRateLimit counts one rate-limit cooldown
func (r *Recorder) ObserveRateLimit(endpoint string) {
	r.rateLimits.WithLabelValues(endpoint).Inc()
}

// ObserveEnumerationError counts one failed listing
func (r *Recorder) ObserveEnumerationError(scope string) {
	r.enumerationErrors.WithLabelValues(scope).Inc()
}

// ObservePruned counts removed directories
func (r *Recorder) ObservePruned(n int) {
	if n > 0 {
		r.prunedDirectories.Add(float64(n))
	}
}

// ObserveRun records the duration and completion time of a run
func (r *Recorder) ObserveRun(duration time.Duration, finished time.Time) {
	r.runDuration.Set(duration.Seconds())
	r.lastRunTimestamp.Set(float64(finished.Unix()))
}

// WriteTextfile writes all metrics in the node_exporter textfile format
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile %s: %w", path, err)
	}
	return nil
}
