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

package app

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spacepanda/core/crypto/keys"
	"github.com/spacepanda/core/crypto/keystore"
	"github.com/spacepanda/core/identity"
	"github.com/spacepanda/core/network"
	"github.com/spacepanda/core/transport/session"
)

// identityState is what gets sealed behind a keystore container: the
// master seed both the device-binding Authority and the Channel
// Manager's signing key derive from, plus every device this identity
// has bound so far.
type identityState struct {
	IdentityName string                                  `json:"identity_name"`
	MasterSeed   []byte                                  `json:"master_seed"`
	Devices      map[string]identity.BindingCertificate `json:"devices"`
}

// CreateIdentity generates a brand-new master identity named
// identityName, persists it to the local keystore sealed under
// passphrase, and unlocks it in this App. It refuses to overwrite an
// existing container of the same name.
func (a *App) CreateIdentity(identityName string, passphrase []byte) error {
	a.mu.Lock()
	unlocked := a.identityName != ""
	a.mu.Unlock()
	if unlocked {
		return ErrAlreadyUnlocked
	}
	if a.ks.Exists(identityName) {
		return fmt.Errorf("app: identity %q already exists", identityName)
	}

	seed := make([]byte, masterSeedSize)
	if _, err := io.ReadFull(rand.Reader, seed); err != nil {
		return fmt.Errorf("app: generate master seed: %w", err)
	}

	state := identityState{
		IdentityName: identityName,
		MasterSeed:   seed,
		Devices:      make(map[string]identity.BindingCertificate),
	}
	if err := a.persist(identityName, passphrase, state); err != nil {
		return err
	}
	return a.activate(identityName, state)
}

// Unlock decrypts identityName's container from the local keystore
// with passphrase and activates it in this App.
func (a *App) Unlock(identityName string, passphrase []byte) error {
	a.mu.Lock()
	unlocked := a.identityName != ""
	a.mu.Unlock()
	if unlocked {
		return ErrAlreadyUnlocked
	}

	raw, err := a.ks.Load(identityName, passphrase)
	if err != nil {
		return fmt.Errorf("app: unlock identity: %w", err)
	}
	var state identityState
	if err := json.Unmarshal(raw, &state); err != nil {
		return fmt.Errorf("app: decode identity record: %w", err)
	}
	return a.activate(identityName, state)
}

// Export produces a portable, passphrase-sealed snapshot of the
// currently unlocked identity — its master seed and bound devices —
// suitable for Import on another device. It does not touch the local
// keystore file.
func (a *App) Export(exportPassphrase []byte) ([]byte, error) {
	a.mu.Lock()
	if a.identityName == "" {
		a.mu.Unlock()
		return nil, ErrLocked
	}
	state := identityState{
		IdentityName: a.identityName,
		MasterSeed:   append([]byte{}, a.masterSeed...),
		Devices:      copyDevices(a.devices),
	}
	a.mu.Unlock()

	raw, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("app: encode identity record: %w", err)
	}
	return keystore.Export(raw, exportPassphrase)
}

// Import decrypts a container produced by Export under passphrase,
// persists it under identityName in this node's own keystore, and
// unlocks it in this App.
func (a *App) Import(identityName string, data, passphrase []byte) error {
	a.mu.Lock()
	unlocked := a.identityName != ""
	a.mu.Unlock()
	if unlocked {
		return ErrAlreadyUnlocked
	}

	raw, err := keystore.Import(data, passphrase)
	if err != nil {
		return fmt.Errorf("app: import identity: %w", err)
	}
	var state identityState
	if err := json.Unmarshal(raw, &state); err != nil {
		return fmt.Errorf("app: decode identity record: %w", err)
	}
	state.IdentityName = identityName

	if err := a.persist(identityName, passphrase, state); err != nil {
		return err
	}
	return a.activate(identityName, state)
}

// RegisterDeviceWithProof runs the full device-binding protocol for a
// brand-new device key generated on this call: issues a challenge,
// proves possession with it, validates the proof, and persists the
// resulting binding certificate. passphrase must match the identity's
// own keystore passphrase, since registering a device rewrites the
// persisted container. The caller is responsible for delivering the
// returned DeviceKey's private material to the device it names —
// this App does not retain it once the call returns.
func (a *App) RegisterDeviceWithProof(passphrase []byte) (*identity.DeviceKey, *identity.BindingCertificate, error) {
	a.mu.Lock()
	if a.identityName == "" {
		a.mu.Unlock()
		return nil, nil, ErrLocked
	}
	authority := a.authority
	a.mu.Unlock()

	device, err := identity.NewDeviceKey()
	if err != nil {
		return nil, nil, fmt.Errorf("app: generate device key: %w", err)
	}
	challenge, err := authority.IssueChallenge(device.PublicKey())
	if err != nil {
		return nil, nil, fmt.Errorf("app: issue device challenge: %w", err)
	}
	pop, err := device.Prove(challenge)
	if err != nil {
		return nil, nil, fmt.Errorf("app: prove device possession: %w", err)
	}
	cert, err := authority.ValidateProofOfPossession(pop)
	if err != nil {
		return nil, nil, fmt.Errorf("app: validate proof of possession: %w", err)
	}

	a.mu.Lock()
	a.devices[cert.DeviceID] = *cert
	persistErr := a.persistLocked(passphrase)
	a.mu.Unlock()
	if persistErr != nil {
		return nil, nil, persistErr
	}
	return device, cert, nil
}

// ListDevices returns every device bound to the currently unlocked
// identity, keyed by device id.
func (a *App) ListDevices() (map[string]identity.BindingCertificate, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.identityName == "" {
		return nil, ErrLocked
	}
	return copyDevices(a.devices), nil
}

func copyDevices(devices map[string]identity.BindingCertificate) map[string]identity.BindingCertificate {
	out := make(map[string]identity.BindingCertificate, len(devices))
	for k, v := range devices {
		out[k] = v
	}
	return out
}

func (a *App) persist(identityName string, passphrase []byte, state identityState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("app: encode identity record: %w", err)
	}
	if err := a.ks.Save(identityName, raw, passphrase); err != nil {
		return fmt.Errorf("app: save identity record: %w", err)
	}
	return nil
}

// persistLocked re-saves the currently unlocked identity's state.
// Callers must hold a.mu.
func (a *App) persistLocked(passphrase []byte) error {
	state := identityState{
		IdentityName: a.identityName,
		MasterSeed:   a.masterSeed,
		Devices:      a.devices,
	}
	return a.persist(a.identityName, passphrase, state)
}

// activate derives the signing material from state and wires the
// Network Layer and Channel Manager around it. The Channel Manager's
// signing key is derived from the same master seed the device-binding
// Authority signs with: one identity key serves both channel
// membership and device binding.
func (a *App) activate(identityName string, state identityState) error {
	master, err := identity.MasterKeyFromSeed(state.MasterSeed)
	if err != nil {
		return fmt.Errorf("app: derive master key: %w", err)
	}
	signingKey, err := keys.Ed25519KeyPairFromSeed(state.MasterSeed)
	if err != nil {
		return fmt.Errorf("app: derive signing key: %w", err)
	}

	devices := state.Devices
	if devices == nil {
		devices = make(map[string]identity.BindingCertificate)
	}

	sessions := session.NewRegistry(identityName)
	members := network.NewMemberRegistry()
	router := &channelRouter{}
	layer := network.New(sessions, a.sender, members, router)

	a.mu.Lock()
	defer a.mu.Unlock()

	a.identityName = identityName
	a.masterSeed = append([]byte{}, state.MasterSeed...)
	a.master = master
	a.authority = identity.NewAuthority(master)
	a.devices = devices
	a.signingKey = signingKey
	a.sessions = sessions
	a.members = members
	a.netLayer = layer

	manager := newChannelManager(identityName, signingKey, a.masterSeed, a.newBackend, layer, a.cfg)
	router.setManager(manager)
	a.manager = manager
	return nil
}
