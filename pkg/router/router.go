// Copyright (C) 2025 PulmoLabs (engineering@pulmolabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package router maps model family names to their replica pools.
//
// The routing table is built once at startup and is immutable afterwards,
// so lookups need no synchronization. Requests naming an unregistered
// family are rejected with *UnknownFamilyError; there is no silent
// fallback to the default model, because serving a prediction from a
// different family than the caller asked for is worse than failing.
package router

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pulmolabs/pulmoserve/pkg/pool"
)

// Family identifies a model family in routing requests. The zero value
// selects the router's default family.
type Family string

// Registered model families.
const (
	FamilyForest Family = "forest"
	FamilyLinear Family = "linear"
)

// UnknownFamilyError reports a routing request for a family that was
// never registered. Known lists the registered families for diagnostics.
type UnknownFamilyError struct {
	Family Family
	Known  []Family
}

func (e *UnknownFamilyError) Error() string {
	known := make([]string, len(e.Known))
	for i, f := range e.Known {
		known[i] = string(f)
	}
	return fmt.Sprintf("unknown model family %q (registered: %s)", e.Family, strings.Join(known, ", "))
}

// Router holds the family -> pool table and the default family used when
// a request leaves the family blank.
type Router struct {
	pools       map[Family]*pool.Pool
	defaultFam  Family
	acquireWait time.Duration
}

// New builds a router over the given pools. The default family must be
// one of the registered keys. acquireWait bounds how long Acquire waits
// for a free replica before reporting exhaustion.
func New(pools map[Family]*pool.Pool, defaultFam Family, acquireWait time.Duration) (*Router, error) {
	if len(pools) == 0 {
		return nil, fmt.Errorf("router: no pools registered")
	}
	if _, ok := pools[defaultFam]; !ok {
		return nil, fmt.Errorf("router: default family %q has no registered pool", defaultFam)
	}

	table := make(map[Family]*pool.Pool, len(pools))
	for fam, p := range pools {
		table[fam] = p
	}
	return &Router{pools: table, defaultFam: defaultFam, acquireWait: acquireWait}, nil
}

// DefaultFamily returns the family served when a request does not name one.
func (r *Router) DefaultFamily() Family { return r.defaultFam }

// Families lists the registered families in sorted order.
func (r *Router) Families() []Family {
	out := make([]Family, 0, len(r.pools))
	for fam := range r.pools {
		out = append(out, fam)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Resolve returns the pool for a family, applying the default for the
// empty family. Family matching is exact and case-sensitive.
func (r *Router) Resolve(family Family) (*pool.Pool, error) {
	if family == "" {
		family = r.defaultFam
	}
	p, ok := r.pools[family]
	if !ok {
		return nil, &UnknownFamilyError{Family: family, Known: r.Families()}
	}
	return p, nil
}

// Acquire resolves the family and borrows a replica from its pool. The
// returned handle must be released by the caller; errors pass through
// from resolution (*UnknownFamilyError) or acquisition (pool.ErrExhausted,
// context errors) unchanged.
func (r *Router) Acquire(ctx context.Context, family Family) (*pool.Handle, error) {
	p, err := r.Resolve(family)
	if err != nil {
		return nil, err
	}
	return p.AcquireHandle(ctx, r.acquireWait)
}

// Stats snapshots every registered pool, keyed by family name.
func (r *Router) Stats() map[Family]pool.Stats {
	out := make(map[Family]pool.Stats, len(r.pools))
	for fam, p := range r.pools {
		out[fam] = p.Stats()
	}
	return out
}
