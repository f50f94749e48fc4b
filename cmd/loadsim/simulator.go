// Copyright (C) 2025 PulmoLabs (engineering@pulmolabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// SimConfig controls one simulation run.
type SimConfig struct {
	APIURL      string
	Endpoint    string
	Requests    int
	Concurrency int
	// Rate caps outgoing requests per second. Zero means unlimited.
	Rate    float64
	Timeout time.Duration
	// Family is sent as the ?family= query parameter when non-empty.
	Family  string
	Seed    int64
	Verbose bool

	// Age drift settings. When enabled, generated patient ages shift
	// from uniform 20..90 toward a Gaussian around DriftTargetMean as
	// the run progresses between DriftStartPct and DriftEndPct.
	DriftEnabled    bool
	DriftTargetMean float64
	DriftStartPct   float64
	DriftEndPct     float64
}

const (
	minAge = 20
	maxAge = 90
	// driftStdDev is the spread of the drifted age distribution.
	driftStdDev = 10.0
)

// PatientGenerator produces random prediction payloads, optionally with
// a progressive age drift. Safe for concurrent use.
type PatientGenerator struct {
	cfg SimConfig

	mu  sync.Mutex
	rng *rand.Rand
}

func NewPatientGenerator(cfg SimConfig) *PatientGenerator {
	return &PatientGenerator{
		cfg: cfg,
		rng: rand.New(rand.NewSource(cfg.Seed)),
	}
}

// ageFor returns the patient age for the n-th request (0-based). Before
// DriftStartPct of the run, ages are uniform in [20, 90]. After
// DriftEndPct every age comes from the drifted Gaussian. In between,
// the chance of drawing from the drifted distribution rises linearly.
func (g *PatientGenerator) ageFor(n int) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.cfg.DriftEnabled {
		return g.uniformAge()
	}

	progress := 0.0
	if g.cfg.Requests > 0 {
		progress = float64(n) / float64(g.cfg.Requests) * 100
	}

	if progress < g.cfg.DriftStartPct {
		return g.uniformAge()
	}
	if progress >= g.cfg.DriftEndPct {
		return g.driftedAge()
	}

	driftProgress := (progress - g.cfg.DriftStartPct) /
		(g.cfg.DriftEndPct - g.cfg.DriftStartPct)
	if g.rng.Float64() < driftProgress {
		return g.driftedAge()
	}
	return g.uniformAge()
}

func (g *PatientGenerator) uniformAge() int {
	return minAge + g.rng.Intn(maxAge-minAge+1)
}

func (g *PatientGenerator) driftedAge() int {
	age := int(g.rng.NormFloat64()*driftStdDev + g.cfg.DriftTargetMean)
	if age < minAge {
		return minAge
	}
	if age > maxAge {
		return maxAge
	}
	return age
}

// Payload builds the JSON body for the n-th request.
func (g *PatientGenerator) Payload(n int) map[string]int {
	age := g.ageFor(n)

	g.mu.Lock()
	defer g.mu.Unlock()
	flag := func() int { return g.rng.Intn(2) }
	return map[string]int{
		"AGE":                   age,
		"GENDER":                flag(),
		"SMOKING":               flag(),
		"ALCOHOL_CONSUMING":     flag(),
		"PEER_PRESSURE":         flag(),
		"YELLOW_FINGERS":        flag(),
		"ANXIETY":               flag(),
		"FATIGUE":               flag(),
		"ALLERGY":               flag(),
		"WHEEZING":              flag(),
		"COUGHING":              flag(),
		"SHORTNESS_OF_BREATH":   flag(),
		"SWALLOWING_DIFFICULTY": flag(),
		"CHEST_PAIN":            flag(),
	}
}

// SimResult aggregates the outcome of a run.
type SimResult struct {
	TotalRequests      int
	SuccessfulRequests int
	FailedRequests     int
	TotalDuration      time.Duration
	AvgResponseMS      float64
	MinResponseMS      float64
	MaxResponseMS      float64
	RequestsPerSecond  float64
	StatusCodes        map[int]int
	Errors             []string
}

// maxReportedErrors bounds how many errors the summary prints.
const maxReportedErrors = 5

func (r SimResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Simulation results\n")
	fmt.Fprintf(&b, "  total requests      : %d\n", r.TotalRequests)
	fmt.Fprintf(&b, "  successful          : %d\n", r.SuccessfulRequests)
	fmt.Fprintf(&b, "  failed              : %d\n", r.FailedRequests)
	fmt.Fprintf(&b, "  total duration      : %.2fs\n", r.TotalDuration.Seconds())
	fmt.Fprintf(&b, "  avg response time   : %.2fms\n", r.AvgResponseMS)
	fmt.Fprintf(&b, "  min response time   : %.2fms\n", r.MinResponseMS)
	fmt.Fprintf(&b, "  max response time   : %.2fms\n", r.MaxResponseMS)
	fmt.Fprintf(&b, "  requests per second : %.2f\n", r.RequestsPerSecond)

	b.WriteString("  status codes:\n")
	if len(r.StatusCodes) == 0 {
		b.WriteString("    none\n")
	} else {
		codes := make([]int, 0, len(r.StatusCodes))
		for code := range r.StatusCodes {
			codes = append(codes, code)
		}
		sort.Ints(codes)
		for _, code := range codes {
			fmt.Fprintf(&b, "    %d: %d\n", code, r.StatusCodes[code])
		}
	}

	if len(r.Errors) > 0 {
		fmt.Fprintf(&b, "  errors (%d):\n", len(r.Errors))
		for i, e := range r.Errors {
			if i == maxReportedErrors {
				fmt.Fprintf(&b, "    ... and %d more\n", len(r.Errors)-maxReportedErrors)
				break
			}
			fmt.Fprintf(&b, "    - %s\n", e)
		}
	}
	return b.String()
}

// Simulator replays randomized prediction traffic against a running
// predictor service.
type Simulator struct {
	cfg    SimConfig
	gen    *PatientGenerator
	client *http.Client

	mu            sync.Mutex
	responseTimes []float64
	statusCodes   map[int]int
	errs          []string
	successful    int
	failed        int
}

func NewSimulator(cfg SimConfig) *Simulator {
	return &Simulator{
		cfg:         cfg,
		gen:         NewPatientGenerator(cfg),
		client:      &http.Client{Timeout: cfg.Timeout},
		statusCodes: make(map[int]int),
	}
}

// Run fires cfg.Requests requests from cfg.Concurrency workers and
// returns the aggregate result. A cancelled context stops the run early;
// already-collected samples still appear in the result.
func (s *Simulator) Run(ctx context.Context) (SimResult, error) {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if s.cfg.Rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.cfg.Rate), 1)
	}

	var next atomic.Int64
	start := time.Now()

	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < s.cfg.Concurrency; w++ {
		g.Go(func() error {
			for {
				n := int(next.Add(1)) - 1
				if n >= s.cfg.Requests {
					return nil
				}
				if err := limiter.Wait(ctx); err != nil {
					return err
				}
				s.fire(ctx, n)
			}
		})
	}

	err := g.Wait()
	return s.result(time.Since(start)), err
}

func (s *Simulator) fire(ctx context.Context, n int) {
	body, _ := json.Marshal(s.gen.Payload(n))

	target := strings.TrimRight(s.cfg.APIURL, "/") + s.cfg.Endpoint
	if s.cfg.Family != "" {
		target += "?family=" + s.cfg.Family
	}

	started := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		s.record(0, 0, err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	elapsed := float64(time.Since(started).Microseconds()) / 1000.0
	if err != nil {
		s.record(0, elapsed, err)
		return
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	s.record(resp.StatusCode, elapsed, nil)
	if s.cfg.Verbose {
		fmt.Printf("request %d: %d in %.1fms\n", n, resp.StatusCode, elapsed)
	}
}

func (s *Simulator) record(status int, elapsedMS float64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		s.failed++
		s.errs = append(s.errs, err.Error())
		return
	}

	s.statusCodes[status]++
	s.responseTimes = append(s.responseTimes, elapsedMS)
	if status == http.StatusOK {
		s.successful++
	} else {
		s.failed++
	}
}

func (s *Simulator) result(total time.Duration) SimResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := SimResult{
		TotalRequests:      s.successful + s.failed,
		SuccessfulRequests: s.successful,
		FailedRequests:     s.failed,
		TotalDuration:      total,
		StatusCodes:        s.statusCodes,
		Errors:             s.errs,
	}
	if total > 0 {
		res.RequestsPerSecond = float64(res.TotalRequests) / total.Seconds()
	}
	if len(s.responseTimes) == 0 {
		return res
	}

	sum := 0.0
	res.MinResponseMS = s.responseTimes[0]
	res.MaxResponseMS = s.responseTimes[0]
	for _, t := range s.responseTimes {
		sum += t
		if t < res.MinResponseMS {
			res.MinResponseMS = t
		}
		if t > res.MaxResponseMS {
			res.MaxResponseMS = t
		}
	}
	res.AvgResponseMS = sum / float64(len(s.responseTimes))
	return res
}
