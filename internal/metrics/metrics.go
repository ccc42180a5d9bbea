// Package metrics exposes prometheus collectors for import batches, records and
// quality flags. A nil *Recorder is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Record outcomes.
const (
	OutcomeSuccessful = "successful"
	OutcomeFailed     = "failed"
	OutcomeSkipped    = "skipped"
)

type Recorder struct {
	registry        *prometheus.Registry
	batchesOpened   *prometheus.CounterVec
	batchesFinished *prometheus.CounterVec
	records         *prometheus.CounterVec
	flagsRaised     *prometheus.CounterVec
	batchDuration   prometheus.Histogram
}

// NewRecorder registers the collectors on a fresh registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Recorder{
		registry: reg,
		batchesOpened: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "shopwindow_batches_opened_total",
			Help: "Import batches opened, by import type.",
		}, []string{"import_type"}),
		batchesFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "shopwindow_batches_finished_total",
			Help: "Import batches that reached a terminal status, by status.",
		}, []string{"status"}),
		records: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "shopwindow_records_total",
			Help: "Source records processed, by outcome.",
		}, []string{"outcome"}),
		flagsRaised: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "shopwindow_flags_raised_total",
			Help: "Data quality flags raised, by flag type.",
		}, []string{"flag_type"}),
		batchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "shopwindow_batch_duration_seconds",
			Help:    "Time from batch start to completion.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
	}
}

func (r *Recorder) BatchOpened(importType string) {
	if r == nil {
		return
	}
	r.batchesOpened.WithLabelValues(importType).Inc()
}

// BatchFinished counts a terminal transition; duration is observed when known.
func (r *Recorder) BatchFinished(status string, duration *time.Duration) {
	if r == nil {
		return
	}
	r.batchesFinished.WithLabelValues(status).Inc()
	if duration != nil {
		r.batchDuration.Observe(duration.Seconds())
	}
}

func (r *Recorder) RecordsProcessed(successful, failed, skipped int) {
	if r == nil {
		return
	}
	r.records.WithLabelValues(OutcomeSuccessful).Add(float64(successful))
	r.records.WithLabelValues(OutcomeFailed).Add(float64(failed))
	r.records.WithLabelValues(OutcomeSkipped).Add(float64(skipped))
}

func (r *Recorder) FlagRaised(flagType string) {
	if r == nil {
		return
	}
	r.flagsRaised.WithLabelValues(flagType).Inc()
}

// Registry exposes the underlying registry, mostly for tests.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
