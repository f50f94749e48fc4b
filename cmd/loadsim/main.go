// Copyright (C) 2025 PulmoLabs (engineering@pulmolabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command loadsim replays randomized prediction traffic against a
// running predictor service, optionally shifting the generated patient
// ages mid-run to exercise drift detection downstream.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var simCfg = SimConfig{}

var rootCmd = &cobra.Command{
	Use:   "loadsim",
	Short: "Load simulator for the PulmoServe prediction API",
	Long: `loadsim sends concurrent randomized patient records to a running
predictor service and reports latency and status-code statistics.
Age drift mode gradually shifts the generated patient population
toward an older mean, which is useful for testing drift monitors.`,
	RunE: runSimulation,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&simCfg.APIURL, "url", "http://localhost:8000", "base URL of the predictor service")
	flags.StringVar(&simCfg.Endpoint, "endpoint", "/v1/predict", "prediction endpoint to hit")
	flags.IntVarP(&simCfg.Requests, "requests", "n", 100, "total number of requests to send")
	flags.IntVarP(&simCfg.Concurrency, "concurrency", "c", 10, "number of concurrent workers")
	flags.Float64Var(&simCfg.Rate, "rate", 0, "maximum requests per second (0 = unlimited)")
	flags.DurationVar(&simCfg.Timeout, "timeout", 30*time.Second, "per-request timeout")
	flags.StringVar(&simCfg.Family, "family", "", "model family to request (empty = server default)")
	flags.Int64Var(&simCfg.Seed, "seed", time.Now().UnixNano(), "random seed for reproducible runs")
	flags.BoolVarP(&simCfg.Verbose, "verbose", "v", false, "print every request outcome")

	flags.BoolVar(&simCfg.DriftEnabled, "drift", false, "enable progressive age drift")
	flags.Float64Var(&simCfg.DriftTargetMean, "drift-mean", 70, "target mean age after the drift completes")
	flags.Float64Var(&simCfg.DriftStartPct, "drift-start", 0, "percent of the run at which drift begins")
	flags.Float64Var(&simCfg.DriftEndPct, "drift-end", 100, "percent of the run at which drift completes")
}

func runSimulation(cmd *cobra.Command, args []string) error {
	if simCfg.Requests <= 0 {
		return fmt.Errorf("--requests must be positive, got %d", simCfg.Requests)
	}
	if simCfg.Concurrency <= 0 {
		return fmt.Errorf("--concurrency must be positive, got %d", simCfg.Concurrency)
	}
	if simCfg.DriftEnabled && simCfg.DriftEndPct <= simCfg.DriftStartPct {
		return fmt.Errorf("--drift-end (%.0f) must be greater than --drift-start (%.0f)",
			simCfg.DriftEndPct, simCfg.DriftStartPct)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("sending %d requests to %s%s with %d workers",
		simCfg.Requests, simCfg.APIURL, simCfg.Endpoint, simCfg.Concurrency)

	sim := NewSimulator(simCfg)
	result, err := sim.Run(ctx)
	fmt.Println(result)
	if err != nil {
		return fmt.Errorf("simulation stopped early: %w", err)
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}
