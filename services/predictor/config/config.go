// Copyright (C) 2025 PulmoLabs (engineering@pulmolabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads predictor service configuration.
//
// # Description
//
// Two sources feed the runtime configuration:
//
//   - Environment variables for deployment concerns (port, log level,
//     store paths, telemetry credentials).
//   - A YAML model manifest describing which model families to serve,
//     their artifact paths and pool sizes, the default family, the
//     acquire timeout, and whether singleton fallback is permitted.
//
// The manifest is read once at startup; there is no hot reload.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ModelSpec describes one model family entry in the manifest.
type ModelSpec struct {
	// Family is the routing name ("forest", "linear").
	Family string `yaml:"family"`

	// Artifact is the path to the versioned JSON model artifact.
	Artifact string `yaml:"artifact"`

	// PoolSize is the number of replicas to clone. Must be positive.
	PoolSize int `yaml:"pool_size"`
}

// Manifest is the YAML model manifest.
type Manifest struct {
	// DefaultFamily is served when a request names no family.
	DefaultFamily string `yaml:"default_family"`

	// AcquireTimeout bounds how long a request waits for a free replica
	// before the pool reports exhaustion. Default: 2s.
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`

	// FallbackSingleton permits degraded single-replica serving when a
	// base model cannot be cloned. Default: false (startup fails hard).
	FallbackSingleton bool `yaml:"fallback_singleton"`

	// Models lists the families to load and serve.
	Models []ModelSpec `yaml:"models"`
}

// Config is the full runtime configuration of the predictor service.
type Config struct {
	// Port is the HTTP listen port. Env: PULMOSERVE_PORT. Default: 8000.
	Port int

	// LogLevel is the minimum log level name. Env: PULMOSERVE_LOG_LEVEL.
	LogLevel string

	// LogDir enables file logging when set. Env: PULMOSERVE_LOG_DIR.
	LogDir string

	// ManifestPath locates the model manifest.
	// Env: PULMOSERVE_MANIFEST. Default: "configs/models.yaml".
	ManifestPath string

	// LogStorePath is the badger directory for the request-log store.
	// Empty selects in-memory mode. Env: PULMOSERVE_LOGSTORE_PATH.
	LogStorePath string

	// TelemetryEnabled turns on per-request timing capture.
	// Env: PULMOSERVE_TELEMETRY ("1"/"true").
	TelemetryEnabled bool

	// InfluxURL, InfluxToken, InfluxOrg, InfluxBucket configure the
	// optional InfluxDB measurement sink. All four must be set for the
	// sink to activate. Env: INFLUXDB_URL / INFLUXDB_TOKEN /
	// INFLUXDB_ORG / INFLUXDB_BUCKET.
	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string

	// Manifest is the parsed model manifest.
	Manifest Manifest
}

// FromEnv builds a Config from the process environment and loads the
// manifest it points at.
func FromEnv() (Config, error) {
	cfg := Config{
		Port:         8000,
		LogLevel:     os.Getenv("PULMOSERVE_LOG_LEVEL"),
		LogDir:       os.Getenv("PULMOSERVE_LOG_DIR"),
		ManifestPath: "configs/models.yaml",
		LogStorePath: os.Getenv("PULMOSERVE_LOGSTORE_PATH"),
		InfluxURL:    os.Getenv("INFLUXDB_URL"),
		InfluxToken:  os.Getenv("INFLUXDB_TOKEN"),
		InfluxOrg:    os.Getenv("INFLUXDB_ORG"),
		InfluxBucket: os.Getenv("INFLUXDB_BUCKET"),
	}

	if v := os.Getenv("PULMOSERVE_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return Config{}, fmt.Errorf("config: invalid PULMOSERVE_PORT %q", v)
		}
		cfg.Port = port
	}
	if v := os.Getenv("PULMOSERVE_MANIFEST"); v != "" {
		cfg.ManifestPath = v
	}
	switch os.Getenv("PULMOSERVE_TELEMETRY") {
	case "1", "true", "TRUE", "True":
		cfg.TelemetryEnabled = true
	}

	manifest, err := LoadManifest(cfg.ManifestPath)
	if err != nil {
		return Config{}, err
	}
	cfg.Manifest = manifest
	return cfg, nil
}

// InfluxConfigured reports whether all InfluxDB settings are present.
func (c Config) InfluxConfigured() bool {
	return c.InfluxURL != "" && c.InfluxToken != "" && c.InfluxOrg != "" && c.InfluxBucket != ""
}

// LoadManifest reads and validates the YAML model manifest.
func LoadManifest(path string) (Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("config: read manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return Manifest{}, fmt.Errorf("config: parse manifest %s: %w", path, err)
	}
	if err := m.Validate(); err != nil {
		return Manifest{}, fmt.Errorf("config: manifest %s: %w", path, err)
	}
	return m, nil
}

// Validate checks manifest structural integrity and applies defaults.
func (m *Manifest) Validate() error {
	if len(m.Models) == 0 {
		return fmt.Errorf("no models declared")
	}
	if m.AcquireTimeout <= 0 {
		m.AcquireTimeout = 2 * time.Second
	}

	seen := make(map[string]bool, len(m.Models))
	for i, spec := range m.Models {
		if spec.Family == "" {
			return fmt.Errorf("model %d: family is required", i)
		}
		if seen[spec.Family] {
			return fmt.Errorf("model %d: duplicate family %q", i, spec.Family)
		}
		seen[spec.Family] = true
		if spec.Artifact == "" {
			return fmt.Errorf("model %q: artifact path is required", spec.Family)
		}
		if spec.PoolSize <= 0 {
			return fmt.Errorf("model %q: pool_size must be positive, got %d", spec.Family, spec.PoolSize)
		}
	}

	if m.DefaultFamily == "" {
		m.DefaultFamily = m.Models[0].Family
	}
	if !seen[m.DefaultFamily] {
		return fmt.Errorf("default family %q is not among the declared models", m.DefaultFamily)
	}
	return nil
}
