// Copyright (C) 2025 PulmoLabs (engineering@pulmolabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pool

import (
	"sync"

	"github.com/pulmolabs/pulmoserve/pkg/features"
)

// Handle is a scoped borrow of one replica. Release is idempotent: the
// first call returns the replica to the pool, later calls are no-ops, so
// a deferred Release stays correct even when the borrower also releases
// explicitly or unwinds through a panic.
//
// A Handle must not be shared across goroutines. Using a Handle after
// Release panics through the underlying pool bookkeeping.
type Handle struct {
	pool    *Pool
	replica *Replica
	once    sync.Once
}

// Replica exposes the borrowed replica, for callers that need its ID or
// usage counter while the borrow is live.
func (h *Handle) Replica() *Replica { return h.replica }

// Predict proxies to the borrowed replica.
func (h *Handle) Predict(v features.FeatureVector) (int, error) {
	return h.replica.Predict(v)
}

// PredictProba proxies to the borrowed replica.
func (h *Handle) PredictProba(v features.FeatureVector) ([]float64, error) {
	return h.replica.PredictProba(v)
}

// Release returns the replica to the pool. Safe to call any number of
// times; only the first has effect.
func (h *Handle) Release() {
	h.once.Do(func() {
		h.pool.Release(h.replica)
	})
}

// Close releases the handle and always returns nil. It exists so a Handle
// satisfies io.Closer for defer-based cleanup.
func (h *Handle) Close() error {
	h.Release()
	return nil
}
