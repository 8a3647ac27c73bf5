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

package mls

import (
	"encoding/hex"
	"sync"
)

// Provider supplies symmetric storage for key package bundles and
// group state. A single provider instance must be shared across every
// operation touching one user's groups: two distinct instances cannot
// see each other's stored bundles, so generate_key_package on one and
// join_from_welcome on another fail with ErrNoMatchingKeyPackage even for
// the same identity, by design — this is spec.md #4.10's provider
// sharing constraint, enforced structurally by storage isolation
// rather than by a runtime check.
type Provider interface {
	StoreKeyPackageBundle(ref KeyPackageRef, bundle KeyPackageBundle) error
	KeyPackageBundle(ref KeyPackageRef) (KeyPackageBundle, error)

	StoreGroupState(groupID []byte, state groupState) error
	GroupState(groupID []byte) (groupState, bool, error)
}

// KeyPackageRef is the lookup key a provider indexes bundles under:
// the hex encoding of the key package's init public key bytes.
type KeyPackageRef string

func newKeyPackageRef(initPub []byte) KeyPackageRef {
	return KeyPackageRef(hex.EncodeToString(initPub))
}

// InMemoryProvider is the default Provider: process-local, mutex-guarded
// maps. Production deployments can swap in a Provider backed by the
// CRDT store or another durable keystore without this package changing.
type InMemoryProvider struct {
	mu      sync.Mutex
	bundles map[KeyPackageRef]KeyPackageBundle
	groups  map[string]groupState
}

// NewInMemoryProvider creates an empty Provider.
func NewInMemoryProvider() *InMemoryProvider {
	return &InMemoryProvider{
		bundles: make(map[KeyPackageRef]KeyPackageBundle),
		groups:  make(map[string]groupState),
	}
}

func (p *InMemoryProvider) StoreKeyPackageBundle(ref KeyPackageRef, bundle KeyPackageBundle) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bundles[ref] = bundle
	return nil
}

func (p *InMemoryProvider) KeyPackageBundle(ref KeyPackageRef) (KeyPackageBundle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	bundle, ok := p.bundles[ref]
	if !ok {
		return KeyPackageBundle{}, ErrNoMatchingKeyPackage
	}
	return bundle, nil
}

func (p *InMemoryProvider) StoreGroupState(groupID []byte, state groupState) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.groups[string(groupID)] = state
	return nil
}

func (p *InMemoryProvider) GroupState(groupID []byte) (groupState, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	state, ok := p.groups[string(groupID)]
	return state, ok, nil
}
