// Package telemetry records pipeline metrics and traces.
package telemetry

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder collects per-model pipeline metrics on its own registry so batch
// runs can export them to a textfile.
type Recorder struct {
	registry      *prometheus.Registry
	runsTotal     *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	score         *prometheus.GaugeVec
	lastRun       prometheus.Gauge
}

// NewRecorder creates a recorder with a fresh registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Recorder{
		registry: reg,
		runsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pmoforecast_model_runs_total",
				Help: "Total number of model runs by outcome",
			},
			[]string{"model", "status"},
		),
		stageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pmoforecast_stage_duration_seconds",
				Help:    "Duration of pipeline stages in seconds",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
			},
			[]string{"model", "stage"},
		),
		score: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pmoforecast_model_score",
				Help: "Latest evaluation metric value per model",
			},
			[]string{"model", "metric"},
		),
		lastRun: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "pmoforecast_last_run_timestamp_seconds",
				Help: "Unix time of the last completed pipeline run",
			},
		),
	}
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// RecordRun counts one model run with status "ok", "failed" or "skipped".
func (r *Recorder) RecordRun(model, status string) {
	r.runsTotal.WithLabelValues(model, status).Inc()
}

// RecordStage observes the duration of one stage.
func (r *Recorder) RecordStage(model, stage string, seconds float64) {
	r.stageDuration.WithLabelValues(model, stage).Observe(seconds)
}

// RecordScores sets the metric gauges for a model.
func (r *Recorder) RecordScores(model string, scores map[string]float64) {
	for name, v := range scores {
		r.score.WithLabelValues(model, name).Set(v)
	}
}

// MarkRunComplete stamps the last-run gauge with unix seconds.
func (r *Recorder) MarkRunComplete(unixSeconds float64) {
	r.lastRun.Set(unixSeconds)
}

// WriteTextfile writes every metric in the text exposition format, for the
// node exporter textfile collector.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
