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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(LoaderOptions{
		ConfigDir:   t.TempDir(),
		Environment: "development",
	})
	require.NoError(t, err)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "flatfile", cfg.Store.Backend)
}

func TestLoadForEnvironmentVariants(t *testing.T) {
	for _, env := range []string{"development", "staging", "production", "local"} {
		env := env
		t.Run(env, func(t *testing.T) {
			cfg, err := Load(LoaderOptions{ConfigDir: t.TempDir(), Environment: env})
			require.NoError(t, err)
			assert.Equal(t, env, cfg.Environment)
		})
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	os.Setenv("SPACEPANDA_DATA_DIR", "/override/data")
	os.Setenv("SPACEPANDA_LOG_LEVEL", "debug")
	defer os.Unsetenv("SPACEPANDA_DATA_DIR")
	defer os.Unsetenv("SPACEPANDA_LOG_LEVEL")

	cfg, err := Load(LoaderOptions{ConfigDir: t.TempDir(), Environment: "development"})
	require.NoError(t, err)

	assert.Equal(t, "/override/data", cfg.DataDir)
	assert.Equal(t, "debug", cfg.LoggingLevel)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadWithCustomConfigDir(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test.yaml")

	require.NoError(t, os.WriteFile(configPath, []byte(`environment: test
logging:
  level: info
  format: json
`), 0o644))

	cfg, err := Load(LoaderOptions{ConfigDir: tmpDir, Environment: "test"})
	require.NoError(t, err)
	require.NotNil(t, cfg)
}

func TestDefaultLoaderOptions(t *testing.T) {
	opts := DefaultLoaderOptions()

	assert.Equal(t, "config", opts.ConfigDir)
	assert.False(t, opts.SkipEnvSubstitution)
	assert.False(t, opts.SkipValidation)
}

func TestConfigDefaults(t *testing.T) {
	cfg := &Config{}
	setDefaults(cfg)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 20, cfg.DHTBucketSize)
	assert.Equal(t, 256, cfg.MaxConnections)
}

func TestPostgresBackendOverrideFromEnv(t *testing.T) {
	os.Setenv("SPACEPANDA_STORE_POSTGRES_DSN", "postgres://localhost/spacepanda")
	defer os.Unsetenv("SPACEPANDA_STORE_POSTGRES_DSN")

	cfg, err := Load(LoaderOptions{ConfigDir: t.TempDir(), Environment: "development"})
	require.NoError(t, err)

	assert.Equal(t, "pgstore", cfg.Store.Backend)
	assert.Equal(t, "postgres://localhost/spacepanda", cfg.Store.PostgresDSN)
}

func TestMustLoadPanicsOnValidationFailure(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "development.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(`max_connections: -1`), 0o644))

	assert.Panics(t, func() {
		MustLoad(LoaderOptions{ConfigDir: tmpDir, Environment: "development"})
	})
}
