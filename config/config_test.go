// SpacePanda - privacy-first peer-to-peer encrypted group messaging
// Copyright (C) 2025 spacepanda-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test-config.yaml")

	configContent := `environment: "test"
data_dir: "/var/lib/spacepanda"
logging_level: "debug"
metrics_enabled: true
dht_bucket_size: 16
max_connections: 128
shutdown_timeout: "15s"

keystore:
  directory: "/var/lib/spacepanda/keys"

logging:
  level: "debug"
  format: "json"
  output: "stdout"

store:
  backend: "flatfile"
  enable_wal: true
`

	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0o644))

	cfg, err := LoadFromFile(configPath)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "/var/lib/spacepanda", cfg.DataDir)
	assert.Equal(t, "debug", cfg.LoggingLevel)
	assert.True(t, cfg.MetricsEnabled)
	assert.Equal(t, 16, cfg.DHTBucketSize)
	assert.Equal(t, 128, cfg.MaxConnections)
	assert.Equal(t, 15*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, "/var/lib/spacepanda/keys", cfg.KeyStore.Directory)
	assert.True(t, cfg.Store.EnableWAL)
}

func TestLoadFromFileAppliesDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "minimal.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(`data_dir: "/tmp/spacepanda"`), 0o644))

	cfg, err := LoadFromFile(configPath)
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "info", cfg.LoggingLevel)
	assert.Equal(t, 20, cfg.DHTBucketSize)
	assert.Equal(t, 256, cfg.MaxConnections)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, "flatfile", cfg.Store.Backend)
	assert.NotNil(t, cfg.RPC)
	assert.Equal(t, 30*time.Second, cfg.RPC.RequestTimeout)
}

func TestSubstituteEnvVarsInConfig(t *testing.T) {
	os.Setenv("SPACEPANDA_TEST_DIR", "/data/from-env")
	defer os.Unsetenv("SPACEPANDA_TEST_DIR")

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "env.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(`data_dir: "${SPACEPANDA_TEST_DIR}"
logging_level: "${SPACEPANDA_TEST_LOG_LEVEL:warn}"
`), 0o644))

	cfg, err := LoadFromFile(configPath)
	require.NoError(t, err)
	SubstituteEnvVarsInConfig(cfg)

	assert.Equal(t, "/data/from-env", cfg.DataDir)
	assert.Equal(t, "warn", cfg.LoggingLevel)
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "roundtrip.yaml")

	cfg := &Config{}
	setDefaults(cfg)
	cfg.DataDir = "/srv/spacepanda"

	require.NoError(t, SaveToFile(cfg, path))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/spacepanda", loaded.DataDir)
	assert.Equal(t, cfg.MaxConnections, loaded.MaxConnections)
}

func TestValidateConfiguration(t *testing.T) {
	cfg := &Config{}
	setDefaults(cfg)
	assert.Empty(t, ValidateConfiguration(cfg))

	bad := &Config{DataDir: "", MaxConnections: -1, DHTBucketSize: 0, ShutdownTimeout: 0}
	issues := ValidateConfiguration(bad)
	assert.NotEmpty(t, issues)

	var fields []string
	for _, i := range issues {
		fields = append(fields, i.Field)
	}
	assert.Contains(t, fields, "data_dir")
	assert.Contains(t, fields, "max_connections")
}

func TestValidateConfigurationPgstoreRequiresDSN(t *testing.T) {
	cfg := &Config{}
	setDefaults(cfg)
	cfg.Store.Backend = "pgstore"
	cfg.Store.PostgresDSN = ""

	issues := ValidateConfiguration(cfg)
	require.NotEmpty(t, issues)
	found := false
	for _, i := range issues {
		if i.Field == "store.postgres_dsn" {
			found = true
		}
	}
	assert.True(t, found)
}
