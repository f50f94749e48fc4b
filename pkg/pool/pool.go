// Copyright (C) 2025 PulmoLabs (engineering@pulmolabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package pool implements the fixed-size replica pool that bounds
// parallelism over non-thread-safe model copies.
//
// # Description
//
// A Pool owns N fully independent deep copies of one loaded base model.
// Availability is tracked by a buffered channel holding the idle replicas:
// acquisition is a channel receive (with timeout and context cancellation),
// release is a channel send. Because every replica lives either in the
// channel or with exactly one borrower, available + in_use == N holds
// structurally; there is no count to corrupt.
//
// # Fairness
//
// No ordering is guaranteed across blocked acquirers. The Go runtime wakes
// an arbitrary waiting receiver when a replica is released, so under
// sustained saturation individual callers may observe uneven wait times.
// This is a documented trade: the channel keeps the bookkeeping
// race-free without a lock around an explicit wait queue.
//
// # Degraded mode
//
// When the base model cannot be cloned, NewSingleton builds a pool of size
// one around the shared base instance. The same acquire/release contract
// applies, all callers serialize on the single replica, and Stats reports
// Degraded=true so operators can see the reduced throughput.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pulmolabs/pulmoserve/pkg/features"
	"github.com/pulmolabs/pulmoserve/pkg/mlmodel"
)

// =============================================================================
// Errors
// =============================================================================

// ErrExhausted is returned by Acquire when no replica became available
// within the timeout. The condition is transient; callers may retry with
// backoff.
var ErrExhausted = errors.New("model pool exhausted")

// InitError reports a failure while building the pool. No partially
// initialized pool is ever returned alongside it.
type InitError struct {
	// Replica is the index whose clone failed.
	Replica int

	// Cause is the underlying clone failure. mlmodel.ErrCloneUnsupported
	// is reachable through errors.Is and signals that the fallback
	// singleton mode is the only option for this model.
	Cause error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("pool init: cloning replica %d: %v", e.Replica, e.Cause)
}

func (e *InitError) Unwrap() error { return e.Cause }

// =============================================================================
// Replica
// =============================================================================

// Replica state values. Transitions are Available -> InUse on acquire and
// InUse -> Available on release; a replica is never in both sets.
const (
	stateAvailable int32 = iota
	stateInUse
)

// Replica is one isolated copy of the model. Its mutex serializes use of
// that copy, protecting model internals that are not safe for concurrent
// calls. The mutex is private to the replica; replicas never share guards.
type Replica struct {
	id    int
	model mlmodel.Model
	owner *Pool

	mu    sync.Mutex
	state atomic.Int32
	uses  atomic.Uint64
}

// ID returns the replica's index within its pool.
func (r *Replica) ID() int { return r.id }

// Uses returns how many successful predictions this replica has served.
func (r *Replica) Uses() uint64 { return r.uses.Load() }

// Info reports the wrapped model's metadata.
func (r *Replica) Info() mlmodel.Info { return r.model.Info() }

// Predict runs the model under the replica guard. The guard is released
// on every path; a model failure is wrapped in *mlmodel.PredictionError
// and the usage counter is not advanced.
func (r *Replica) Predict(v features.FeatureVector) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	label, err := r.model.Predict(v)
	if err != nil {
		return 0, &mlmodel.PredictionError{Family: r.model.Info().Family, Cause: err}
	}
	r.uses.Add(1)
	return label, nil
}

// PredictProba runs the probability variant under the replica guard, with
// the same error and counter semantics as Predict.
func (r *Replica) PredictProba(v features.FeatureVector) ([]float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	probs, err := r.model.PredictProba(v)
	if err != nil {
		return nil, &mlmodel.PredictionError{Family: r.model.Info().Family, Cause: err}
	}
	r.uses.Add(1)
	return probs, nil
}

// =============================================================================
// Pool
// =============================================================================

// Stats is a point-in-time snapshot of pool usage. Available and InUse
// always sum to Size.
type Stats struct {
	Size             int     `json:"pool_size"`
	Available        int     `json:"available"`
	InUse            int     `json:"in_use"`
	TotalPredictions uint64  `json:"total_predictions"`
	AvgUsePerReplica float64 `json:"avg_use_per_replica"`
	Degraded         bool    `json:"degraded"`
}

// Pool owns a fixed set of replicas. The size is set at construction and
// never changes; replicas live until process shutdown.
type Pool struct {
	replicas []*Replica
	avail    chan *Replica
	degraded bool
}

// New builds a pool of size independent deep copies of base. The base
// model itself is not placed in the pool and must not be called once the
// replicas exist. Any clone failure aborts construction with *InitError.
func New(base mlmodel.Model, size int) (*Pool, error) {
	if size <= 0 {
		return nil, &InitError{Replica: 0, Cause: fmt.Errorf("pool size must be positive, got %d", size)}
	}

	p := &Pool{
		replicas: make([]*Replica, 0, size),
		avail:    make(chan *Replica, size),
	}
	for i := 0; i < size; i++ {
		clone, err := base.Clone()
		if err != nil {
			return nil, &InitError{Replica: i, Cause: err}
		}
		r := &Replica{id: i, model: clone, owner: p}
		p.replicas = append(p.replicas, r)
		p.avail <- r
	}
	return p, nil
}

// NewSingleton builds the degraded fallback: a size-1 pool that serves the
// base model directly with no cloning. All callers serialize on the one
// replica guard.
func NewSingleton(base mlmodel.Model) *Pool {
	p := &Pool{
		avail:    make(chan *Replica, 1),
		degraded: true,
	}
	r := &Replica{id: 0, model: base, owner: p}
	p.replicas = []*Replica{r}
	p.avail <- r
	return p
}

// Size returns the fixed number of replicas.
func (p *Pool) Size() int { return len(p.replicas) }

// Degraded reports whether this pool is the fallback singleton.
func (p *Pool) Degraded() bool { return p.degraded }

// Acquire blocks until a replica is available, the timeout elapses, or ctx
// is cancelled. On timeout the error matches ErrExhausted and the pool's
// bookkeeping is untouched. Every successful Acquire must be paired with
// exactly one Release; prefer AcquireHandle unless the borrow outlives a
// single scope.
func (p *Pool) Acquire(ctx context.Context, timeout time.Duration) (*Replica, error) {
	// Fast path: a replica is idle right now.
	select {
	case r := <-p.avail:
		p.checkOut(r)
		return r, nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-p.avail:
		p.checkOut(r)
		return r, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w: no replica available within %s (size %d)", ErrExhausted, timeout, len(p.replicas))
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire cancelled: %w", ctx.Err())
	}
}

// AcquireHandle acquires a replica wrapped in a scoped Handle whose
// release runs at most once. This is the acquisition form the service
// layer uses.
func (p *Pool) AcquireHandle(ctx context.Context, timeout time.Duration) (*Handle, error) {
	r, err := p.Acquire(ctx, timeout)
	if err != nil {
		return nil, err
	}
	return &Handle{pool: p, replica: r}, nil
}

// Release returns a replica to the available set. It must be called
// exactly once per successful Acquire. Releasing a replica twice, or one
// belonging to another pool, is a programming error and panics rather
// than silently corrupting the available count.
func (p *Pool) Release(r *Replica) {
	if r == nil || r.owner != p {
		panic("pool: released replica not owned by this pool")
	}
	if !r.state.CompareAndSwap(stateInUse, stateAvailable) {
		panic(fmt.Sprintf("pool: replica %d released twice", r.id))
	}
	p.avail <- r
}

// Stats returns a snapshot of the pool counters. The available count is
// read from the channel length; in-use is derived from it, so the
// available + in_use == size invariant holds by construction.
func (p *Pool) Stats() Stats {
	available := len(p.avail)
	var total uint64
	for _, r := range p.replicas {
		total += r.Uses()
	}
	size := len(p.replicas)
	return Stats{
		Size:             size,
		Available:        available,
		InUse:            size - available,
		TotalPredictions: total,
		AvgUsePerReplica: float64(total) / float64(size),
		Degraded:         p.degraded,
	}
}

// checkOut flips a freshly received replica to in-use. The CAS cannot fail
// for a replica that just came out of the channel; if it does, bookkeeping
// was corrupted by an out-of-band Release and stopping is safer than
// serving.
func (p *Pool) checkOut(r *Replica) {
	if !r.state.CompareAndSwap(stateAvailable, stateInUse) {
		panic(fmt.Sprintf("pool: replica %d acquired while already in use", r.id))
	}
}
