// Copyright (C) 2025 PulmoLabs (engineering@pulmolabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pulmolabs/pulmoserve/pkg/inference"
	"github.com/pulmolabs/pulmoserve/services/predictor/handlers"
	"github.com/pulmolabs/pulmoserve/services/predictor/logstore"
	"github.com/pulmolabs/pulmoserve/services/predictor/observability"
	"github.com/pulmolabs/pulmoserve/services/predictor/telemetry"
)

// SetupRoutes registers every predictor endpoint on the engine.
// metricsHandler serves the Prometheus exposition; recorder may be nil
// when telemetry is disabled, which leaves /v1/telemetry unregistered.
func SetupRoutes(engine *gin.Engine, svc *inference.Service, store *logstore.Store,
	metrics *observability.Metrics, metricsHandler http.Handler, recorder *telemetry.Recorder) {

	engine.GET("/", handlers.Root())
	engine.GET("/health", handlers.Health(svc, store))
	engine.GET("/metrics", gin.WrapH(metricsHandler))

	// API version 1 group
	v1 := engine.Group("/v1")
	{
		v1.POST("/predict", handlers.Predict(svc, metrics))
		v1.POST("/predict_proba", handlers.PredictProba(svc, metrics))
		v1.GET("/stats", handlers.Stats(svc))

		logs := v1.Group("/logs")
		{
			logs.GET("", handlers.GetLogs(store))
			logs.DELETE("", handlers.ClearLogs(store))
		}

		if recorder != nil {
			v1.GET("/telemetry", handlers.Telemetry(recorder))
		}
	}
}
