// Copyright (C) 2025 PulmoLabs (engineering@pulmolabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pulmolabs/pulmoserve/pkg/inference"
	"github.com/pulmolabs/pulmoserve/services/predictor/datatypes"
	"github.com/pulmolabs/pulmoserve/services/predictor/telemetry"
)

// Pinger is the log store health probe.
type Pinger interface {
	Ping() bool
}

// Root handles GET /, returning the service banner and endpoint map.
func Root() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"service": "pulmoserve",
			"version": ServiceVersion,
			"endpoints": gin.H{
				"predict":       "POST /v1/predict",
				"predict_proba": "POST /v1/predict_proba",
				"stats":         "GET /v1/stats",
				"logs":          "GET /v1/logs, DELETE /v1/logs",
				"health":        "GET /health",
				"metrics":       "GET /metrics",
			},
		})
	}
}

// Health handles GET /health. Degraded serving is still "ok": the
// service answers predictions, just with reduced parallelism.
func Health(svc *inference.Service, store Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats := svc.Stats()

		loaded := make(map[string]bool, len(stats.Pools))
		for fam, st := range stats.Pools {
			loaded[string(fam)] = st.Size > 0
		}

		c.JSON(http.StatusOK, datatypes.HealthResponse{
			Status:        "ok",
			Version:       ServiceVersion,
			ModelsLoaded:  loaded,
			Degraded:      stats.Degraded,
			LogStoreReady: store.Ping(),
		})
	}
}

// Stats handles GET /v1/stats.
func Stats(svc *inference.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats := svc.Stats()
		c.JSON(http.StatusOK, datatypes.StatsResponse{
			DefaultFamily: string(stats.DefaultFamily),
			Pools:         stats.Pools,
			Degraded:      stats.Degraded,
		})
	}
}

// Telemetry handles GET /v1/telemetry, exposing the per-family timing
// aggregates. Registered only when telemetry is enabled.
func Telemetry(rec *telemetry.Recorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"families": rec.Snapshot()})
	}
}
