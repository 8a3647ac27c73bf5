// SpacePanda - privacy-first peer-to-peer encrypted group messaging
// Copyright (C) 2025 spacepanda-project
//
// This file is part of SpacePanda.
//
// SpacePanda is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SpacePanda is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SpacePanda. If not, see <https://www.gnu.org/licenses/>.

package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// LoaderOptions configures the configuration loader.
type LoaderOptions struct {
	// ConfigDir is the directory containing config files (default: ./config).
	ConfigDir string
	// Environment overrides automatic environment detection.
	Environment string
	// DotEnvPath, if set, is loaded into the process environment before
	// substitution (local development convenience).
	DotEnvPath string
	// SkipEnvSubstitution disables environment variable substitution.
	SkipEnvSubstitution bool
	// SkipValidation disables configuration validation.
	SkipValidation bool
}

// DefaultLoaderOptions returns default loader options.
func DefaultLoaderOptions() LoaderOptions {
	return LoaderOptions{
		ConfigDir: "config",
	}
}

// Load loads configuration with automatic environment detection: it
// tries config/<env>.yaml, then config/default.yaml, then config.yaml,
// falling back to built-in defaults if none exist.
func Load(opts ...LoaderOptions) (*Config, error) {
	options := DefaultLoaderOptions()
	if len(opts) > 0 {
		options = opts[0]
	}

	if options.DotEnvPath != "" {
		LoadDotEnv(options.DotEnvPath)
	}

	env := options.Environment
	if env == "" {
		env = GetEnvironment()
	}

	cfg, err := loadConfigFile(filepath.Join(options.ConfigDir, fmt.Sprintf("%s.yaml", env)))
	if err != nil {
		cfg, err = loadConfigFile(filepath.Join(options.ConfigDir, "default.yaml"))
		if err != nil {
			cfg, err = loadConfigFile(filepath.Join(options.ConfigDir, "config.yaml"))
			if err != nil {
				cfg = &Config{}
				setDefaults(cfg)
			}
		}
	}

	if cfg.Environment == "" {
		cfg.Environment = env
	}

	if !options.SkipEnvSubstitution {
		SubstituteEnvVarsInConfig(cfg)
	}

	applyEnvironmentOverrides(cfg)

	if !options.SkipValidation {
		if errs := ValidateConfiguration(cfg); len(errs) > 0 {
			for _, e := range errs {
				if e.Level == "error" {
					return nil, fmt.Errorf("configuration validation failed: %s - %s", e.Field, e.Message)
				}
			}
		}
	}

	return cfg, nil
}

func loadConfigFile(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}
	return LoadFromFile(path)
}

// applyEnvironmentOverrides applies the highest-priority environment
// variable overrides, after YAML ${VAR} substitution has already run.
func applyEnvironmentOverrides(cfg *Config) {
	if dir := os.Getenv("SPACEPANDA_DATA_DIR"); dir != "" {
		cfg.DataDir = dir
	}
	if level := os.Getenv("SPACEPANDA_LOG_LEVEL"); level != "" {
		cfg.LoggingLevel = level
		if cfg.Logging != nil {
			cfg.Logging.Level = level
		}
	}
	if ksDir := os.Getenv("SPACEPANDA_KEYSTORE_DIR"); ksDir != "" && cfg.KeyStore != nil {
		cfg.KeyStore.Directory = ksDir
	}
	if os.Getenv("SPACEPANDA_METRICS_ENABLED") == "true" {
		cfg.MetricsEnabled = true
		if cfg.Metrics != nil {
			cfg.Metrics.Enabled = true
		}
	}
	if os.Getenv("SPACEPANDA_METRICS_ENABLED") == "false" {
		cfg.MetricsEnabled = false
		if cfg.Metrics != nil {
			cfg.Metrics.Enabled = false
		}
	}
	if dsn := os.Getenv("SPACEPANDA_STORE_POSTGRES_DSN"); dsn != "" && cfg.Store != nil {
		cfg.Store.PostgresDSN = dsn
		cfg.Store.Backend = "pgstore"
	}
}

// LoadForEnvironment loads configuration for a specific environment.
func LoadForEnvironment(environment string) (*Config, error) {
	return Load(LoaderOptions{
		ConfigDir:   "config",
		Environment: environment,
	})
}

// MustLoad loads configuration or panics on error.
func MustLoad(opts ...LoaderOptions) *Config {
	cfg, err := Load(opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// ValidationIssue describes a single configuration problem.
type ValidationIssue struct {
	Field   string
	Message string
	Level   string // "error" or "warning"
}

// ValidateConfiguration checks structural invariants the core depends
// on (non-empty data directory, positive connection limits, a store
// backend it recognizes). Warnings are returned but don't block Load.
func ValidateConfiguration(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue

	if cfg.DataDir == "" {
		issues = append(issues, ValidationIssue{Field: "data_dir", Message: "must not be empty", Level: "error"})
	}
	if cfg.MaxConnections <= 0 {
		issues = append(issues, ValidationIssue{Field: "max_connections", Message: "must be positive", Level: "error"})
	}
	if cfg.DHTBucketSize <= 0 {
		issues = append(issues, ValidationIssue{Field: "dht_bucket_size", Message: "must be positive", Level: "error"})
	}
	if cfg.ShutdownTimeout <= 0 {
		issues = append(issues, ValidationIssue{Field: "shutdown_timeout", Message: "must be positive", Level: "error"})
	}

	if cfg.Store != nil {
		switch cfg.Store.Backend {
		case "memory", "flatfile", "pgstore":
		default:
			issues = append(issues, ValidationIssue{Field: "store.backend", Message: fmt.Sprintf("unrecognized backend %q", cfg.Store.Backend), Level: "error"})
		}
		if cfg.Store.Backend == "pgstore" && cfg.Store.PostgresDSN == "" {
			issues = append(issues, ValidationIssue{Field: "store.postgres_dsn", Message: "required when backend is pgstore", Level: "error"})
		}
	}

	if cfg.KeyStore != nil && cfg.KeyStore.Directory == "" {
		issues = append(issues, ValidationIssue{Field: "keystore.directory", Message: "empty keystore directory, using default", Level: "warning"})
	}

	return issues
}
