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

// Package config loads the typed configuration the surrounding runtime
// hands the core: data directory, logging level, metrics toggle, DHT
// bucket size, store WAL toggle, connection limits and shutdown timeout
// (spec.md #6), plus the nested settings each subsystem needs to act on
// them.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the typed configuration structure the core receives. Field
// names match spec.md #6 exactly for the top-level settings; everything
// else is the nested, subsystem-specific detail those settings expand
// into.
type Config struct {
	Environment string `yaml:"environment" json:"environment"`

	DataDir         string        `yaml:"data_dir" json:"data_dir"`
	LoggingLevel    string        `yaml:"logging_level" json:"logging_level"`
	MetricsEnabled  bool          `yaml:"metrics_enabled" json:"metrics_enabled"`
	DHTBucketSize   int           `yaml:"dht_bucket_size" json:"dht_bucket_size"`
	StoreEnableWAL  bool          `yaml:"store_enable_wal" json:"store_enable_wal"`
	MaxConnections  int           `yaml:"max_connections" json:"max_connections"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`

	KeyStore *KeyStoreConfig `yaml:"keystore" json:"keystore"`
	Logging  *LoggingConfig  `yaml:"logging" json:"logging"`
	Metrics  *MetricsConfig  `yaml:"metrics" json:"metrics"`
	Health   *HealthConfig   `yaml:"health" json:"health"`
	Store    *StoreConfig    `yaml:"store" json:"store"`
	RPC      *RPCConfig      `yaml:"rpc" json:"rpc"`
	Channel  *ChannelConfig  `yaml:"channel" json:"channel"`
}

// KeyStoreConfig controls where and how the device's keystore file
// (crypto/keystore) is located and unlocked.
type KeyStoreConfig struct {
	Directory     string `yaml:"directory" json:"directory"`
	PassphraseEnv string `yaml:"passphrase_env" json:"passphrase_env"`
}

// LoggingConfig controls internal/logger output.
type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	Format   string `yaml:"format" json:"format"` // json, pretty
	Output   string `yaml:"output" json:"output"` // stdout, stderr, file path
	FilePath string `yaml:"file_path" json:"file_path"`
}

// MetricsConfig controls whether internal/metrics counters are
// registered and where a host process should expect to mount the
// exporter (the core itself never listens on Port/Path).
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Port    int    `yaml:"port" json:"port"`
	Path    string `yaml:"path" json:"path"`
}

// HealthConfig controls the liveness/readiness surface the runtime polls.
type HealthConfig struct {
	Enabled bool     `yaml:"enabled" json:"enabled"`
	Port    int      `yaml:"port" json:"port"`
	Path    string   `yaml:"path" json:"path"`
	Checks  []string `yaml:"checks" json:"checks"`
}

// StoreConfig controls the CRDT store (C9) backend selection and
// durability knobs.
type StoreConfig struct {
	Backend     string        `yaml:"backend" json:"backend"` // memory, flatfile, pgstore
	EnableWAL   bool          `yaml:"enable_wal" json:"enable_wal"`
	SnapshotEvery int         `yaml:"snapshot_every" json:"snapshot_every"`
	PostgresDSN string        `yaml:"postgres_dsn" json:"postgres_dsn"`
	SyncTimeout time.Duration `yaml:"sync_timeout" json:"sync_timeout"`
}

// RPCConfig controls the RPC protocol layer (C7) timeouts and bounds,
// plus the per-peer rate limiter and circuit breaker (C5) RPC
// handlers are required to consult before dispatching.
type RPCConfig struct {
	RequestTimeout    time.Duration `yaml:"request_timeout" json:"request_timeout"`
	MaxFrameBytes     int           `yaml:"max_frame_bytes" json:"max_frame_bytes"`
	SeenRequestsCap   int           `yaml:"seen_requests_cap" json:"seen_requests_cap"`
	RateLimitPerPeer  float64       `yaml:"rate_limit_per_peer" json:"rate_limit_per_peer"`
	RateLimitBurst    int           `yaml:"rate_limit_burst" json:"rate_limit_burst"`
	BreakerFailureThreshold int           `yaml:"breaker_failure_threshold" json:"breaker_failure_threshold"`
	BreakerRecoveryTimeout  time.Duration `yaml:"breaker_recovery_timeout" json:"breaker_recovery_timeout"`
}

// ChannelConfig controls the Channel Manager's (C11) sealed-sender
// padding and delivery-jitter knobs.
type ChannelConfig struct {
	PaddingBuckets   []int         `yaml:"padding_buckets" json:"padding_buckets"`
	JitterWindow     time.Duration `yaml:"jitter_window" json:"jitter_window"`
	SnapshotInterval int           `yaml:"snapshot_interval" json:"snapshot_interval"`
}

// Default returns an all-defaults Config, for callers with no config
// file to load (e.g. a first-run binary with no -config flag given).
func Default() *Config {
	cfg := &Config{}
	setDefaults(cfg)
	return cfg
}

// LoadFromFile loads configuration from a YAML (or JSON) file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}

	if strings.HasSuffix(path, ".json") {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file as JSON: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file as YAML: %w", err)
	}

	setDefaults(cfg)

	return cfg, nil
}

// SaveToFile saves configuration to a file, choosing the format by
// extension.
func SaveToFile(cfg *Config, path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".json") {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setDefaults fills in zero-valued fields with the core's defaults.
func setDefaults(cfg *Config) {
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = ".spacepanda/data"
	}
	if cfg.LoggingLevel == "" {
		cfg.LoggingLevel = "info"
	}
	if cfg.DHTBucketSize == 0 {
		cfg.DHTBucketSize = 20
	}
	if cfg.MaxConnections == 0 {
		cfg.MaxConnections = 256
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	if cfg.KeyStore == nil {
		cfg.KeyStore = &KeyStoreConfig{}
	}
	if cfg.KeyStore.Directory == "" {
		cfg.KeyStore.Directory = ".spacepanda/keys"
	}
	if cfg.KeyStore.PassphraseEnv == "" {
		cfg.KeyStore.PassphraseEnv = "SPACEPANDA_KEYSTORE_PASSPHRASE"
	}

	if cfg.Logging == nil {
		cfg.Logging = &LoggingConfig{}
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = cfg.LoggingLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	if cfg.Metrics == nil {
		cfg.Metrics = &MetricsConfig{}
	}
	cfg.Metrics.Enabled = cfg.Metrics.Enabled || cfg.MetricsEnabled
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	if cfg.Health == nil {
		cfg.Health = &HealthConfig{Enabled: true, Path: "/healthz"}
	}

	if cfg.Store == nil {
		cfg.Store = &StoreConfig{}
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "flatfile"
	}
	cfg.Store.EnableWAL = cfg.Store.EnableWAL || cfg.StoreEnableWAL
	if cfg.Store.SnapshotEvery == 0 {
		cfg.Store.SnapshotEvery = 500
	}
	if cfg.Store.SyncTimeout == 0 {
		cfg.Store.SyncTimeout = 5 * time.Second
	}

	if cfg.RPC == nil {
		cfg.RPC = &RPCConfig{}
	}
	if cfg.RPC.RequestTimeout == 0 {
		cfg.RPC.RequestTimeout = 30 * time.Second
	}
	if cfg.RPC.MaxFrameBytes == 0 {
		cfg.RPC.MaxFrameBytes = 1 << 20 // 1 MiB
	}
	if cfg.RPC.SeenRequestsCap == 0 {
		cfg.RPC.SeenRequestsCap = 4096
	}
	if cfg.RPC.RateLimitPerPeer == 0 {
		cfg.RPC.RateLimitPerPeer = 50
	}
	if cfg.RPC.BreakerFailureThreshold == 0 {
		cfg.RPC.BreakerFailureThreshold = 5
	}
	if cfg.RPC.BreakerRecoveryTimeout == 0 {
		cfg.RPC.BreakerRecoveryTimeout = 30 * time.Second
	}
	if cfg.RPC.RateLimitBurst == 0 {
		cfg.RPC.RateLimitBurst = 100
	}

	if cfg.Channel == nil {
		cfg.Channel = &ChannelConfig{}
	}
	if len(cfg.Channel.PaddingBuckets) == 0 {
		cfg.Channel.PaddingBuckets = []int{256, 512, 1024, 2048, 4096, 8192, 16384, 32768, 65536}
	}
	if cfg.Channel.JitterWindow == 0 {
		cfg.Channel.JitterWindow = 30 * time.Second
	}
	if cfg.Channel.SnapshotInterval == 0 {
		cfg.Channel.SnapshotInterval = 500
	}
}
