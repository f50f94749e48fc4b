// Copyright (C) 2025 PulmoLabs (engineering@pulmolabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/pulmolabs/pulmoserve/pkg/inference"
	"github.com/pulmolabs/pulmoserve/pkg/logging"
	"github.com/pulmolabs/pulmoserve/pkg/mlmodel"
	"github.com/pulmolabs/pulmoserve/pkg/pool"
	"github.com/pulmolabs/pulmoserve/pkg/router"
	"github.com/pulmolabs/pulmoserve/services/predictor/config"
	"github.com/pulmolabs/pulmoserve/services/predictor/logstore"
	"github.com/pulmolabs/pulmoserve/services/predictor/middleware"
	"github.com/pulmolabs/pulmoserve/services/predictor/observability"
	"github.com/pulmolabs/pulmoserve/services/predictor/routes"
	"github.com/pulmolabs/pulmoserve/services/predictor/telemetry"

	// --- OpenTelemetry imports ---
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

const serviceName = "predictor-service"

// initTracer wires the OTLP trace pipeline. Tracing is optional: when
// OTEL_EXPORTER_OTLP_ENDPOINT is unset the service runs without a
// tracer and the returned cleanup is a no-op.
func initTracer() (func(context.Context), error) {
	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		return func(context.Context) {}, nil
	}

	ctx := context.Background()
	conn, err := grpc.NewClient(otelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

// buildPools loads every artifact named in the manifest and clones it
// into a replica pool. When a pool cannot be built and the manifest
// permits it, the family is served degraded from the base model alone.
func buildPools(m config.Manifest, logger *slog.Logger) (map[router.Family]*pool.Pool, error) {
	pools := make(map[router.Family]*pool.Pool, len(m.Models))
	for _, spec := range m.Models {
		base, err := mlmodel.Load(spec.Artifact)
		if err != nil {
			return nil, fmt.Errorf("load %q from %s: %w", spec.Family, spec.Artifact, err)
		}

		p, err := pool.New(base, spec.PoolSize)
		if err != nil {
			if !m.FallbackSingleton {
				return nil, fmt.Errorf("pool for %q: %w", spec.Family, err)
			}
			logger.Warn("pool construction failed, serving degraded singleton",
				"family", spec.Family,
				"pool_size", spec.PoolSize,
				"error", err)
			p = pool.NewSingleton(base)
		}

		pools[router.Family(spec.Family)] = p
		logger.Info("model family loaded",
			"family", spec.Family,
			"version", base.Info().Version,
			"pool_size", p.Size(),
			"degraded", p.Degraded())
	}
	return pools, nil
}

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("FATAL: invalid configuration: %v", err)
	}

	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.LogLevel),
		LogDir:  cfg.LogDir,
		Service: "predictor",
		JSON:    true,
	})
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	// --- Init the tracer ---
	cleanup, err := initTracer()
	if err != nil {
		log.Fatalf("FATAL: failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	// --- Models, pools, router ---
	pools, err := buildPools(cfg.Manifest, logger.Slog())
	if err != nil {
		log.Fatalf("FATAL: could not build model pools: %v", err)
	}
	modelRouter, err := router.New(pools,
		router.Family(cfg.Manifest.DefaultFamily), cfg.Manifest.AcquireTimeout)
	if err != nil {
		log.Fatalf("FATAL: could not build model router: %v", err)
	}

	// --- Telemetry recorder (optional) ---
	var recorder *telemetry.Recorder
	var observer inference.Observer
	if cfg.TelemetryEnabled {
		recorder = telemetry.NewRecorder(logger.Slog())
		if cfg.InfluxConfigured() {
			influxClient := influxdb2.NewClient(cfg.InfluxURL, cfg.InfluxToken)
			defer influxClient.Close()
			recorder.AttachInflux(influxClient.WriteAPIBlocking(cfg.InfluxOrg, cfg.InfluxBucket))
			logger.Info("influx telemetry export enabled",
				"url", cfg.InfluxURL, "bucket", cfg.InfluxBucket)
		}
		defer recorder.Close()
		observer = recorder
	}

	svc := inference.New(modelRouter, observer, logger.Slog())

	// --- Metrics ---
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	observability.NewPoolCollector(registry, svc.Stats)
	metrics.SetDegraded(svc.Degraded())
	metricsHandler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	// --- Request-log store ---
	storeCfg := logstore.InMemoryConfig()
	if cfg.LogStorePath != "" {
		storeCfg = logstore.DefaultConfig(cfg.LogStorePath)
	}
	storeCfg.Logger = logger.Slog()
	store, err := logstore.Open(storeCfg)
	if err != nil {
		log.Fatalf("FATAL: could not open the request-log store: %v", err)
	}
	defer store.Close()

	// --- HTTP engine ---
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(otelgin.Middleware(serviceName))
	engine.Use(middleware.RequestLogger(store, logger.Slog()))

	routes.SetupRoutes(engine, svc, store, metrics, metricsHandler, recorder)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting the predictor server",
			"port", cfg.Port,
			"default_family", modelRouter.DefaultFamily(),
			"families", modelRouter.Families(),
			"degraded", svc.Degraded())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("FATAL: server failed: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info("shutdown signal received, draining connections")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}

	for family, stats := range svc.Stats().Pools {
		logger.Info("final pool stats",
			"family", family,
			"total_predictions", stats.TotalPredictions,
			"avg_use_per_replica", stats.AvgUsePerReplica)
	}
}
