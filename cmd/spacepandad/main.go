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

// spacepandad is the minimal process entrypoint around package app: it
// loads config, wires logging/metrics/health, and activates one
// identity. It builds no subcommand tree (cobra is a dropped teacher
// dependency here) and dials no socket itself — peer connection
// dial/listen is delegated to the session layer's caller, which this
// binary does not implement; RegisterPeer/HandleInboundFrame are ready
// for a concrete transport to drive once one exists.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/spacepanda/core/app"
	"github.com/spacepanda/core/config"
	"github.com/spacepanda/core/health"
	"github.com/spacepanda/core/internal/logger"
	"github.com/spacepanda/core/internal/metrics"
)

func main() {
	configPath := flag.String("config", "", "path to YAML or JSON config file (defaults applied if empty)")
	identityName := flag.String("identity", "", "identity name to create if the keystore has none yet")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "spacepandad: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewDefaultLogger()
	log.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	log.SetPrettyPrint(cfg.Logging.Format == "pretty")
	logger.SetDefaultLogger(log)

	passphrase := []byte(os.Getenv(cfg.KeyStore.PassphraseEnv))
	if len(passphrase) == 0 {
		log.Fatal("keystore passphrase not set",
			logger.String("env_var", cfg.KeyStore.PassphraseEnv))
	}

	core, err := app.New(cfg, log, noTransportSender(log))
	if err != nil {
		log.Fatal("failed to construct app", logger.Error(err))
	}

	if err := activateIdentity(core, *identityName, passphrase); err != nil {
		log.Fatal("failed to activate identity", logger.Error(err))
	}
	log.Info("identity active", logger.String("identity", core.IdentityName()))

	checker := buildHealthChecker(cfg, core)
	servers := startServers(cfg, log, checker)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	log.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("server shutdown error", logger.Error(err))
		}
	}
	log.Info("spacepandad stopped")
}

// loadConfig loads .env (if present, for local development), then the
// config file at path, falling back to all-defaults when path is empty.
func loadConfig(path string) (*config.Config, error) {
	_ = godotenv.Load()

	if path == "" {
		return config.Default(), nil
	}
	return config.LoadFromFile(path)
}

// activateIdentity unlocks the identity the keystore directory already
// holds, or creates identityName if none exists yet. A real deployment
// picks exactly one of the two paths per keystore directory.
func activateIdentity(core *app.App, identityName string, passphrase []byte) error {
	if identityName == "" {
		return fmt.Errorf("no -identity given and no existing identity to unlock: spacepandad cannot guess which keystore entry to open")
	}
	if err := core.Unlock(identityName, passphrase); err == nil {
		return nil
	}
	return core.CreateIdentity(identityName, passphrase)
}

// noTransportSender logs every outbound frame instead of sending it.
// cmd/spacepandad wires no socket of its own (see package doc); a real
// deployment replaces this with a concrete network.Sender.
func noTransportSender(log *logger.StructuredLogger) func(peer string, ciphertext []byte) error {
	return func(peer string, ciphertext []byte) error {
		log.Warn("dropping outbound frame: no transport wired",
			logger.String("peer", peer), logger.Int("bytes", len(ciphertext)))
		return nil
	}
}

func buildHealthChecker(cfg *config.Config, core *app.App) *health.HealthChecker {
	checker := health.NewHealthChecker(5 * time.Second)
	checker.RegisterCheck("keystore", health.KeyStoreHealthCheck(func() error {
		if core.IdentityName() == "" {
			return fmt.Errorf("no identity unlocked")
		}
		return nil
	}))
	checker.RegisterCheck("network", health.NetworkHealthCheck(func(ctx context.Context) error {
		if _, err := core.ActivePeers(); err != nil {
			return err
		}
		return nil
	}))
	return checker
}

// startServers mounts the Prometheus exporter and health endpoints, each
// only when cfg enables it; the core itself never listens for peer
// traffic (see package doc).
func startServers(cfg *config.Config, log *logger.StructuredLogger, checker *health.HealthChecker) []*http.Server {
	var servers []*http.Server

	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, metrics.Handler())
		srv := newServer(fmt.Sprintf(":%d", cfg.Metrics.Port), mux)
		servers = append(servers, srv)
		go serve(srv, "metrics", log)
	}

	if cfg.Health.Enabled {
		mux := http.NewServeMux()
		mux.HandleFunc(cfg.Health.Path, func(w http.ResponseWriter, r *http.Request) {
			status := checker.GetOverallStatus(r.Context())
			w.Header().Set("Content-Type", "application/json")
			if status != health.StatusHealthy {
				w.WriteHeader(http.StatusServiceUnavailable)
			}
			_ = json.NewEncoder(w).Encode(checker.GetSystemHealth(r.Context()))
		})
		srv := newServer(fmt.Sprintf(":%d", cfg.Health.Port), mux)
		servers = append(servers, srv)
		go serve(srv, "health", log)
	}

	return servers
}

func newServer(addr string, mux *http.ServeMux) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func serve(srv *http.Server, name string, log *logger.StructuredLogger) {
	log.Info("server listening", logger.String("server", name), logger.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server stopped unexpectedly", logger.String("server", name), logger.Error(err))
	}
}
