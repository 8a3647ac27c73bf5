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

// Package app is the facade spec.md #6's external interface is defined
// against: one identity's keystore, Channel Manager, and Network Layer,
// wired together around a single unlocked master identity. It owns no
// socket and no CLI flag parsing — cmd/spacepandad drives an App over
// the methods this package and its sibling files (identity.go,
// channel.go, transport.go, state.go) expose.
package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/spacepanda/core/channel"
	pandacrypto "github.com/spacepanda/core/crypto"
	"github.com/spacepanda/core/crypto/keystore"
	"github.com/spacepanda/core/config"
	"github.com/spacepanda/core/identity"
	"github.com/spacepanda/core/internal/logger"
	"github.com/spacepanda/core/network"
	"github.com/spacepanda/core/store"
	"github.com/spacepanda/core/store/pgstore"
	"github.com/spacepanda/core/transport/session"
)

// Errors returned by App operations outside the identity-protocol
// specific ones identity.go declares.
var (
	ErrAlreadyUnlocked = errors.New("app: identity already unlocked")
	ErrLocked          = errors.New("app: no identity unlocked")
)

const masterSeedSize = 32

// App is the per-process facade: it owns one identity's keystore
// container, and once that identity is unlocked, the Channel Manager
// and Network Layer built around it.
type App struct {
	cfg    *config.Config
	log    *logger.StructuredLogger
	ks     *keystore.FileStore
	sender network.Sender

	mu           sync.Mutex
	identityName string
	masterSeed   []byte
	signingKey   pandacrypto.KeyPair
	master       *identity.MasterKey
	authority    *identity.Authority
	devices      map[string]identity.BindingCertificate

	sessions *session.Registry
	members  *network.MemberRegistry
	netLayer *network.Layer
	manager  *channel.Manager
}

// New creates an App around cfg. sender delivers outbound network
// frames to a peer; the caller supplies the concrete transport, since
// neither App nor network.Layer ever dials or listens itself (spec.md
// #4.12 delegates the socket to the session layer's caller).
func New(cfg *config.Config, log *logger.StructuredLogger, sender network.Sender) (*App, error) {
	dir := ".spacepanda/keys"
	if cfg != nil && cfg.KeyStore != nil && cfg.KeyStore.Directory != "" {
		dir = cfg.KeyStore.Directory
	}
	ks, err := keystore.NewFileStore(dir)
	if err != nil {
		return nil, fmt.Errorf("app: open keystore: %w", err)
	}
	return &App{cfg: cfg, log: log, ks: ks, sender: sender}, nil
}

// IdentityName returns the currently unlocked identity's name, or ""
// if none is unlocked.
func (a *App) IdentityName() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.identityName
}

// channelRouter forwards Network Layer inbound frames to the Manager
// built once the identity unlocks. It exists only to break the
// construction cycle: network.New needs a ChannelRouter before the
// Manager it will route to has been created.
type channelRouter struct {
	mu      sync.Mutex
	manager *channel.Manager
}

func (r *channelRouter) setManager(m *channel.Manager) {
	r.mu.Lock()
	r.manager = m
	r.mu.Unlock()
}

func (r *channelRouter) ReceiveEnvelope(channelID channel.ChannelID, envelope []byte) ([]byte, error) {
	r.mu.Lock()
	m := r.manager
	r.mu.Unlock()
	if m == nil {
		return nil, ErrLocked
	}
	return m.ReceiveEnvelope(channelID, envelope)
}

func (r *channelRouter) ProcessCommit(channelID channel.ChannelID, commit []byte) error {
	r.mu.Lock()
	m := r.manager
	r.mu.Unlock()
	if m == nil {
		return ErrLocked
	}
	return m.ProcessCommit(channelID, commit)
}

// newChannelManager constructs the channel.Manager for identityName,
// using its own name as the node id the Manager's CRDT operations
// attribute to this replica.
func newChannelManager(identityName string, signingKey pandacrypto.KeyPair, passphrase []byte, newBackend func(channel.ChannelID) (store.Backend, error), transport channel.Transport, cfg *config.Config) *channel.Manager {
	var channelCfg *config.ChannelConfig
	if cfg != nil {
		channelCfg = cfg.Channel
	}
	return channel.NewManager(identityName, signingKey, identityName, passphrase, newBackend, transport, channelCfg)
}

// newBackend selects a store.Backend for channelID according to
// cfg.Store.Backend, matching the three backends this tree implements:
// in-memory (tests and ephemeral nodes), flat-file (the default,
// one directory per channel under DataDir), or store/pgstore for
// deployments wanting the commit log durable off-host.
func (a *App) newBackend(channelID channel.ChannelID) (store.Backend, error) {
	backend := "flatfile"
	if a.cfg != nil && a.cfg.Store != nil && a.cfg.Store.Backend != "" {
		backend = a.cfg.Store.Backend
	}

	switch backend {
	case "memory":
		return store.NewMemoryBackend(), nil
	case "flatfile":
		dataDir := ".spacepanda/data"
		if a.cfg != nil && a.cfg.DataDir != "" {
			dataDir = a.cfg.DataDir
		}
		dir := filepath.Join(dataDir, "channels", channelID.String())
		return store.NewFlatFileBackend(dir)
	case "pgstore":
		dsn := ""
		if a.cfg != nil && a.cfg.Store != nil {
			dsn = a.cfg.Store.PostgresDSN
		}
		return pgstore.New(context.Background(), pgstore.Config{DSN: dsn}, channelID.String())
	default:
		return nil, fmt.Errorf("app: unknown store backend %q", backend)
	}
}
