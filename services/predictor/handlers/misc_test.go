// Copyright (C) 2025 PulmoLabs (engineering@pulmolabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulmolabs/pulmoserve/pkg/inference"
	"github.com/pulmolabs/pulmoserve/pkg/pool"
	"github.com/pulmolabs/pulmoserve/pkg/router"
	"github.com/pulmolabs/pulmoserve/services/predictor/datatypes"
	"github.com/pulmolabs/pulmoserve/services/predictor/observability"
	"github.com/pulmolabs/pulmoserve/services/predictor/telemetry"
)

type stubPinger struct{ up bool }

func (p stubPinger) Ping() bool { return p.up }

func TestRoot(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.GET("/", Root())

	w := performJSON(engine, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "pulmoserve", body["service"])
	assert.Equal(t, ServiceVersion, body["version"])
}

func TestHealth(t *testing.T) {
	svc, _, _ := defaultEnv(t)

	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.GET("/health", Health(svc, stubPinger{up: true}))

	w := performJSON(engine, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp datatypes.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.ModelsLoaded["forest"])
	assert.True(t, resp.ModelsLoaded["linear"])
	assert.False(t, resp.Degraded)
	assert.True(t, resp.LogStoreReady)
}

func TestHealth_DegradedStillOK(t *testing.T) {
	base := &stubModel{family: "forest", probs: []float64{0.2, 0.8}}
	p := pool.NewSingleton(base)
	r, err := router.New(map[router.Family]*pool.Pool{router.FamilyForest: p}, router.FamilyForest, 0)
	require.NoError(t, err)
	svc := inference.New(r, nil, nil)

	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.GET("/health", Health(svc, stubPinger{up: false}))

	w := performJSON(engine, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp datatypes.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Degraded)
	assert.False(t, resp.LogStoreReady)
}

func TestStats(t *testing.T) {
	svc, _, _ := defaultEnv(t)

	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.GET("/v1/stats", Stats(svc))

	// One successful prediction so the counters move.
	predict := predictEngine(svc, observability.NewMetrics(prometheus.NewRegistry()))
	w := performJSON(predict, http.MethodPost, "/v1/predict", validPayload)
	require.Equal(t, http.StatusOK, w.Code)

	w = performJSON(engine, http.MethodGet, "/v1/stats", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp datatypes.StatsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "forest", resp.DefaultFamily)
	assert.False(t, resp.Degraded)

	forest := resp.Pools[router.FamilyForest]
	assert.Equal(t, 1, forest.Size)
	assert.Equal(t, uint64(1), forest.TotalPredictions)
	assert.Equal(t, 0, forest.InUse)
}

func TestTelemetryEndpoint(t *testing.T) {
	rec := telemetry.NewRecorder(slog.Default())
	t.Cleanup(func() { rec.Close() })

	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.GET("/v1/telemetry", Telemetry(rec))

	w := performJSON(engine, http.MethodGet, "/v1/telemetry", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "families")
}
