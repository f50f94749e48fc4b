// Copyright (C) 2025 PulmoLabs (engineering@pulmolabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validManifest = `
default_family: forest
acquire_timeout: 3s
fallback_singleton: true
models:
  - family: forest
    artifact: models/forest_v1.json
    pool_size: 4
  - family: linear
    artifact: models/linear_v1.json
    pool_size: 2
`

func writeManifest(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "models.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadManifest(t *testing.T) {
	t.Run("valid manifest", func(t *testing.T) {
		m, err := LoadManifest(writeManifest(t, validManifest))
		require.NoError(t, err)

		assert.Equal(t, "forest", m.DefaultFamily)
		assert.Equal(t, 3*time.Second, m.AcquireTimeout)
		assert.True(t, m.FallbackSingleton)
		require.Len(t, m.Models, 2)
		assert.Equal(t, 4, m.Models[0].PoolSize)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadManifest(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		_, err := LoadManifest(writeManifest(t, "models: [unclosed"))
		assert.Error(t, err)
	})
}

func TestManifest_Validate(t *testing.T) {
	base := func() Manifest {
		return Manifest{
			DefaultFamily: "forest",
			Models: []ModelSpec{
				{Family: "forest", Artifact: "f.json", PoolSize: 2},
			},
		}
	}

	t.Run("applies defaults", func(t *testing.T) {
		m := base()
		m.DefaultFamily = ""
		require.NoError(t, m.Validate())
		assert.Equal(t, "forest", m.DefaultFamily, "first model becomes the default")
		assert.Equal(t, 2*time.Second, m.AcquireTimeout)
	})

	t.Run("rejects empty model list", func(t *testing.T) {
		m := Manifest{}
		assert.Error(t, m.Validate())
	})

	t.Run("rejects duplicate family", func(t *testing.T) {
		m := base()
		m.Models = append(m.Models, ModelSpec{Family: "forest", Artifact: "g.json", PoolSize: 1})
		assert.Error(t, m.Validate())
	})

	t.Run("rejects missing artifact", func(t *testing.T) {
		m := base()
		m.Models[0].Artifact = ""
		assert.Error(t, m.Validate())
	})

	t.Run("rejects non-positive pool size", func(t *testing.T) {
		m := base()
		m.Models[0].PoolSize = 0
		assert.Error(t, m.Validate())
	})

	t.Run("rejects unknown default family", func(t *testing.T) {
		m := base()
		m.DefaultFamily = "linear"
		assert.Error(t, m.Validate())
	})
}

func TestFromEnv(t *testing.T) {
	path := writeManifest(t, validManifest)
	t.Setenv("PULMOSERVE_MANIFEST", path)
	t.Setenv("PULMOSERVE_PORT", "9100")
	t.Setenv("PULMOSERVE_LOG_LEVEL", "debug")
	t.Setenv("PULMOSERVE_TELEMETRY", "1")
	t.Setenv("INFLUXDB_URL", "")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.TelemetryEnabled)
	assert.False(t, cfg.InfluxConfigured())
	assert.Equal(t, "forest", cfg.Manifest.DefaultFamily)
}

func TestFromEnv_InvalidPort(t *testing.T) {
	t.Setenv("PULMOSERVE_MANIFEST", writeManifest(t, validManifest))
	t.Setenv("PULMOSERVE_PORT", "not-a-port")

	_, err := FromEnv()
	assert.Error(t, err)
}

func TestConfig_InfluxConfigured(t *testing.T) {
	cfg := Config{InfluxURL: "http://influx:8086", InfluxToken: "tok", InfluxOrg: "pulmolabs", InfluxBucket: "perf"}
	assert.True(t, cfg.InfluxConfigured())

	cfg.InfluxBucket = ""
	assert.False(t, cfg.InfluxConfigured())
}
