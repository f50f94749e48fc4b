// Copyright (C) 2025 PulmoLabs (engineering@pulmolabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package telemetry aggregates per-request inference timings.
//
// # Description
//
// Recorder implements the inference service's Observer hook. Every
// successful prediction contributes its expansion time, queue wait, and
// inference time to a per-family aggregate, readable as a Snapshot at
// any time. When an InfluxDB sink is attached, each measurement is also
// exported as a point through a buffered channel; the observe path never
// blocks on the database, and points are dropped when the buffer is full.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/pulmolabs/pulmoserve/pkg/inference"
)

const (
	measurementName = "inference_perf"
	exportBuffer    = 1024
	writeTimeout    = 2 * time.Second
)

// FamilyStats is the aggregated view of one model family's timings.
type FamilyStats struct {
	Count          uint64  `json:"count"`
	AvgExpansionMS float64 `json:"avg_expansion_ms"`
	AvgQueueWaitMS float64 `json:"avg_queue_wait_ms"`
	AvgInferenceMS float64 `json:"avg_inference_ms"`
	MaxQueueWaitMS float64 `json:"max_queue_wait_ms"`
}

type familyAgg struct {
	count        uint64
	expansionSum time.Duration
	queueSum     time.Duration
	inferenceSum time.Duration
	maxQueueWait time.Duration
}

// Recorder aggregates inference measurements and optionally exports them
// to InfluxDB. The zero value is not usable; call NewRecorder.
type Recorder struct {
	mu        sync.Mutex
	perFamily map[string]*familyAgg

	log *slog.Logger

	sink   api.WriteAPIBlocking
	points chan *point
	done   chan struct{}
}

type point struct {
	family    string
	replicaID int
	expansion time.Duration
	queueWait time.Duration
	inference time.Duration
	at        time.Time
}

// NewRecorder builds a Recorder with no export sink.
func NewRecorder(logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		perFamily: make(map[string]*familyAgg),
		log:       logger,
	}
}

// AttachInflux starts asynchronous export of measurements to the given
// write API. Call at most once, before serving traffic.
func (r *Recorder) AttachInflux(sink api.WriteAPIBlocking) {
	r.sink = sink
	r.points = make(chan *point, exportBuffer)
	r.done = make(chan struct{})
	go r.exportLoop()
}

// ObserveInference implements inference.Observer.
func (r *Recorder) ObserveInference(m inference.Measurement) {
	fam := string(m.Family)

	r.mu.Lock()
	agg, ok := r.perFamily[fam]
	if !ok {
		agg = &familyAgg{}
		r.perFamily[fam] = agg
	}
	agg.count++
	agg.expansionSum += m.ExpansionTime
	agg.queueSum += m.QueueWait
	agg.inferenceSum += m.InferenceTime
	if m.QueueWait > agg.maxQueueWait {
		agg.maxQueueWait = m.QueueWait
	}
	r.mu.Unlock()

	if r.points == nil {
		return
	}
	select {
	case r.points <- &point{
		family:    fam,
		replicaID: m.ReplicaID,
		expansion: m.ExpansionTime,
		queueWait: m.QueueWait,
		inference: m.InferenceTime,
		at:        time.Now(),
	}:
	default:
		// Export buffer full; aggregation above already has the sample.
	}
}

// Snapshot returns the per-family aggregates computed so far.
func (r *Recorder) Snapshot() map[string]FamilyStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]FamilyStats, len(r.perFamily))
	for fam, agg := range r.perFamily {
		n := float64(agg.count)
		out[fam] = FamilyStats{
			Count:          agg.count,
			AvgExpansionMS: durationMS(agg.expansionSum) / n,
			AvgQueueWaitMS: durationMS(agg.queueSum) / n,
			AvgInferenceMS: durationMS(agg.inferenceSum) / n,
			MaxQueueWaitMS: durationMS(agg.maxQueueWait),
		}
	}
	return out
}

// Close stops the export loop, flushing queued points first. Safe to
// call when no sink was attached.
func (r *Recorder) Close() {
	if r.points == nil {
		return
	}
	close(r.points)
	<-r.done
}

func (r *Recorder) exportLoop() {
	defer close(r.done)
	for p := range r.points {
		pt := influxdb2.NewPoint(
			measurementName,
			map[string]string{
				"family": p.family,
			},
			map[string]interface{}{
				"replica_id":   p.replicaID,
				"expansion_us": p.expansion.Microseconds(),
				"queue_us":     p.queueWait.Microseconds(),
				"inference_us": p.inference.Microseconds(),
			},
			p.at,
		)

		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := r.sink.WritePoint(ctx, pt); err != nil {
			r.log.Warn("telemetry export failed", "error", err)
		}
		cancel()
	}
}

func durationMS(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000.0
}
