// Copyright (C) 2025 PulmoLabs (engineering@pulmolabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the predictor.
//
// # Description
//
// Two kinds of instrumentation are exposed on /metrics:
//
//   - Event metrics (counters, histograms) recorded by handlers as
//     requests flow through.
//   - A pool collector that snapshots replica pool state (size,
//     available, in-use, cumulative predictions) at scrape time, so the
//     gauges can never drift from the pool's own bookkeeping.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/pulmolabs/pulmoserve/pkg/inference"
)

// =============================================================================
// Metric Definitions
// =============================================================================

const (
	metricsNamespace   = "pulmoserve"
	predictorSubsystem = "predictor"
)

// Metrics holds the event metrics for prediction serving.
//
// # Fields
//
//   - RequestsTotal: requests by endpoint and status class
//   - RequestDurationSeconds: end-to-end handler latency by endpoint
//   - PredictionsTotal: completed predictions by family and label
//   - ErrorsTotal: failures by endpoint and error code
//   - DegradedMode: 1 while any pool runs the singleton fallback
type Metrics struct {
	RequestsTotal          *prometheus.CounterVec
	RequestDurationSeconds *prometheus.HistogramVec
	PredictionsTotal       *prometheus.CounterVec
	ErrorsTotal            *prometheus.CounterVec
	DegradedMode           prometheus.Gauge
}

// NewMetrics creates and registers the event metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: predictorSubsystem,
				Name:      "requests_total",
				Help:      "Total API requests by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),

		RequestDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: predictorSubsystem,
				Name:      "request_duration_seconds",
				Help:      "End-to-end request latency in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"endpoint"},
		),

		PredictionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: predictorSubsystem,
				Name:      "predictions_total",
				Help:      "Completed predictions by model family and predicted label",
			},
			[]string{"family", "label"},
		),

		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: predictorSubsystem,
				Name:      "errors_total",
				Help:      "Request failures by endpoint and error code",
			},
			[]string{"endpoint", "error_code"},
		),

		DegradedMode: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: predictorSubsystem,
				Name:      "degraded_mode",
				Help:      "1 while any model pool serves from the singleton fallback",
			},
		),
	}
}

// =============================================================================
// Error Codes
// =============================================================================

// ErrorCode categorizes request failures for the errors_total metric.
type ErrorCode string

const (
	// ErrorCodeValidation indicates a rejected patient record.
	ErrorCodeValidation ErrorCode = "validation"

	// ErrorCodeUnknownFamily indicates a routing request for an
	// unregistered model family.
	ErrorCodeUnknownFamily ErrorCode = "unknown_family"

	// ErrorCodePoolExhausted indicates no replica became available
	// within the acquire timeout.
	ErrorCodePoolExhausted ErrorCode = "pool_exhausted"

	// ErrorCodePrediction indicates a model failure during inference.
	ErrorCodePrediction ErrorCode = "prediction"

	// ErrorCodeInternal indicates any other server-side failure.
	ErrorCodeInternal ErrorCode = "internal"
)

// =============================================================================
// Helper Methods
// =============================================================================

// RecordRequest records a completed request with its HTTP status.
func (m *Metrics) RecordRequest(endpoint, status string, seconds float64) {
	m.RequestsTotal.WithLabelValues(endpoint, status).Inc()
	m.RequestDurationSeconds.WithLabelValues(endpoint).Observe(seconds)
}

// RecordPrediction records one completed prediction.
func (m *Metrics) RecordPrediction(family string, label int) {
	name := "negative"
	if label == 1 {
		name = "positive"
	}
	m.PredictionsTotal.WithLabelValues(family, name).Inc()
}

// RecordError records a request failure.
func (m *Metrics) RecordError(endpoint string, code ErrorCode) {
	m.ErrorsTotal.WithLabelValues(endpoint, string(code)).Inc()
}

// SetDegraded flips the degraded-mode gauge.
func (m *Metrics) SetDegraded(degraded bool) {
	if degraded {
		m.DegradedMode.Set(1)
	} else {
		m.DegradedMode.Set(0)
	}
}

// =============================================================================
// Pool Collector
// =============================================================================

// PoolCollector exposes replica pool state as gauges, reading a fresh
// snapshot from the inference service at scrape time.
type PoolCollector struct {
	stats func() inference.Stats

	sizeDesc        *prometheus.Desc
	availableDesc   *prometheus.Desc
	inUseDesc       *prometheus.Desc
	predictionsDesc *prometheus.Desc
}

// NewPoolCollector builds a collector over the given stats source and
// registers it on reg.
func NewPoolCollector(reg prometheus.Registerer, stats func() inference.Stats) *PoolCollector {
	c := &PoolCollector{
		stats: stats,
		sizeDesc: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "pool", "size"),
			"Configured replica count per model family",
			[]string{"family"}, nil,
		),
		availableDesc: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "pool", "available"),
			"Idle replicas per model family",
			[]string{"family"}, nil,
		),
		inUseDesc: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "pool", "in_use"),
			"Borrowed replicas per model family",
			[]string{"family"}, nil,
		),
		predictionsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "pool", "predictions_total"),
			"Cumulative successful predictions per model family",
			[]string{"family"}, nil,
		),
	}
	reg.MustRegister(c)
	return c
}

// Describe implements prometheus.Collector.
func (c *PoolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.sizeDesc
	ch <- c.availableDesc
	ch <- c.inUseDesc
	ch <- c.predictionsDesc
}

// Collect implements prometheus.Collector.
func (c *PoolCollector) Collect(ch chan<- prometheus.Metric) {
	snapshot := c.stats()
	for family, st := range snapshot.Pools {
		fam := string(family)
		ch <- prometheus.MustNewConstMetric(c.sizeDesc, prometheus.GaugeValue, float64(st.Size), fam)
		ch <- prometheus.MustNewConstMetric(c.availableDesc, prometheus.GaugeValue, float64(st.Available), fam)
		ch <- prometheus.MustNewConstMetric(c.inUseDesc, prometheus.GaugeValue, float64(st.InUse), fam)
		ch <- prometheus.MustNewConstMetric(c.predictionsDesc, prometheus.CounterValue, float64(st.TotalPredictions), fam)
	}
}
