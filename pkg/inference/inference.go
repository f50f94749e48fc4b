// Copyright (C) 2025 PulmoLabs (engineering@pulmolabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package inference is the use-case layer the transport calls into. It
// orchestrates feature expansion, replica acquisition, prediction, and
// release, and propagates the typed errors of the layers below unchanged
// so callers can tell retryable conditions (pool exhaustion) from
// permanent ones (invalid record, unknown family). It never retries.
package inference

import (
	"context"
	"log/slog"
	"time"

	"github.com/pulmolabs/pulmoserve/pkg/features"
	"github.com/pulmolabs/pulmoserve/pkg/mlmodel"
	"github.com/pulmolabs/pulmoserve/pkg/pool"
	"github.com/pulmolabs/pulmoserve/pkg/router"
)

// Result is a label prediction with the positive-class probability from
// the same replica under the same borrow.
type Result struct {
	Label       int
	Probability float64
	Family      router.Family
	Version     string
	ReplicaID   int
}

// ProbaResult carries the full class distribution.
type ProbaResult struct {
	Label         int
	Probabilities []float64
	Family        router.Family
	Version       string
	ReplicaID     int
}

// Stats aggregates per-family pool stats for the stats endpoint.
type Stats struct {
	DefaultFamily router.Family                `json:"default_family"`
	Pools         map[router.Family]pool.Stats `json:"pools"`
	Degraded      bool                         `json:"degraded"`
}

// Measurement is the per-request timing breakdown handed to an Observer.
// QueueWait covers the time spent acquiring a replica, InferenceTime the
// time holding it.
type Measurement struct {
	Family        router.Family
	ReplicaID     int
	ExpansionTime time.Duration
	QueueWait     time.Duration
	InferenceTime time.Duration
}

// Observer receives one Measurement per successful prediction. It must
// not block; slow sinks buffer internally.
type Observer interface {
	ObserveInference(Measurement)
}

// Service couples the router to the feature expander. A nil observer
// disables timing capture.
type Service struct {
	router *router.Router
	obs    Observer
	log    *slog.Logger
}

// New builds a Service. logger and obs may be nil.
func New(r *router.Router, obs Observer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{router: r, obs: obs, log: logger}
}

// Predict expands the record, borrows a replica of the requested family,
// and returns the label with the positive-class probability. The replica
// is released on every path through a deferred handle release.
func (s *Service) Predict(ctx context.Context, rec features.RawRecord, family router.Family) (Result, error) {
	vec, h, m, err := s.prepare(ctx, rec, family)
	if err != nil {
		return Result{}, err
	}
	defer h.Release()

	inferStart := time.Now()
	label, err := h.Predict(vec)
	if err != nil {
		return Result{}, err
	}
	probs, err := h.PredictProba(vec)
	if err != nil {
		return Result{}, err
	}
	m.InferenceTime = time.Since(inferStart)
	s.observe(h, m)

	positive := 0.0
	if len(probs) > mlmodel.LabelPositive {
		positive = probs[mlmodel.LabelPositive]
	}

	info := h.Replica().Info()
	return Result{
		Label:       label,
		Probability: positive,
		Family:      router.Family(info.Family),
		Version:     info.Version,
		ReplicaID:   h.Replica().ID(),
	}, nil
}

// PredictProba is Predict's distribution-returning variant.
func (s *Service) PredictProba(ctx context.Context, rec features.RawRecord, family router.Family) (ProbaResult, error) {
	vec, h, m, err := s.prepare(ctx, rec, family)
	if err != nil {
		return ProbaResult{}, err
	}
	defer h.Release()

	inferStart := time.Now()
	label, err := h.Predict(vec)
	if err != nil {
		return ProbaResult{}, err
	}
	probs, err := h.PredictProba(vec)
	if err != nil {
		return ProbaResult{}, err
	}
	m.InferenceTime = time.Since(inferStart)
	s.observe(h, m)

	info := h.Replica().Info()
	return ProbaResult{
		Label:         label,
		Probabilities: probs,
		Family:        router.Family(info.Family),
		Version:       info.Version,
		ReplicaID:     h.Replica().ID(),
	}, nil
}

// Stats snapshots every pool behind the router.
func (s *Service) Stats() Stats {
	pools := s.router.Stats()
	degraded := false
	for _, st := range pools {
		if st.Degraded {
			degraded = true
		}
	}
	return Stats{
		DefaultFamily: s.router.DefaultFamily(),
		Pools:         pools,
		Degraded:      degraded,
	}
}

// Degraded reports whether any pool is running in singleton fallback mode.
func (s *Service) Degraded() bool { return s.Stats().Degraded }

// Families lists the routable model families.
func (s *Service) Families() []router.Family { return s.router.Families() }

// prepare runs expansion and acquisition, returning a live handle the
// caller must release. Errors pass through untouched so the transport's
// errors.As mapping keeps working.
func (s *Service) prepare(ctx context.Context, rec features.RawRecord, family router.Family) (features.FeatureVector, *pool.Handle, Measurement, error) {
	expandStart := time.Now()
	vec, err := features.Expand(rec)
	if err != nil {
		return features.FeatureVector{}, nil, Measurement{}, err
	}
	expansion := time.Since(expandStart)

	acquireStart := time.Now()
	h, err := s.router.Acquire(ctx, family)
	if err != nil {
		s.log.WarnContext(ctx, "replica acquisition failed",
			slog.String("family", string(family)),
			slog.String("error", err.Error()))
		return features.FeatureVector{}, nil, Measurement{}, err
	}

	m := Measurement{
		Family:        family,
		ReplicaID:     h.Replica().ID(),
		ExpansionTime: expansion,
		QueueWait:     time.Since(acquireStart),
	}
	return vec, h, m, nil
}

func (s *Service) observe(h *pool.Handle, m Measurement) {
	if s.obs == nil {
		return
	}
	if m.Family == "" {
		m.Family = s.router.DefaultFamily()
	}
	s.obs.ObserveInference(m)
}
