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

package keys

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	pandacrypto "github.com/spacepanda/core/crypto"
)

// ed25519KeyPair implements the KeyPair interface for Ed25519 keys.
// Secret material is zeroed when Destroy is called; callers that hold
// a keypair past its useful lifetime must call Destroy explicitly since
// Go has no destructors.
type ed25519KeyPair struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	id         string
}

// GenerateEd25519KeyPair generates a new Ed25519 key pair from the OS RNG.
func GenerateEd25519KeyPair() (pandacrypto.KeyPair, error) {
	publicKey, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return newEd25519KeyPair(publicKey, privateKey), nil
}

// Ed25519KeyPairFromSeed deterministically derives a key pair from a
// 32-byte seed, per spec.md #4.1 `from_seed(32B) → Keypair`.
func Ed25519KeyPairFromSeed(seed []byte) (pandacrypto.KeyPair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("ed25519: seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	privateKey := ed25519.NewKeyFromSeed(seed)
	publicKey := privateKey.Public().(ed25519.PublicKey)
	return newEd25519KeyPair(publicKey, privateKey), nil
}

func newEd25519KeyPair(publicKey ed25519.PublicKey, privateKey ed25519.PrivateKey) *ed25519KeyPair {
	hash := sha256.Sum256(publicKey)
	return &ed25519KeyPair{
		privateKey: privateKey,
		publicKey:  publicKey,
		id:         hex.EncodeToString(hash[:8]),
	}
}

// PublicKey returns the public key.
func (kp *ed25519KeyPair) PublicKey() crypto.PublicKey {
	return kp.publicKey
}

// PrivateKey returns the private key.
func (kp *ed25519KeyPair) PrivateKey() crypto.PrivateKey {
	return kp.privateKey
}

// Type returns the key type.
func (kp *ed25519KeyPair) Type() pandacrypto.KeyType {
	return pandacrypto.KeyTypeEd25519
}

// Sign signs the given message, returning a 64-byte signature.
func (kp *ed25519KeyPair) Sign(message []byte) ([]byte, error) {
	return ed25519.Sign(kp.privateKey, message), nil
}

// Verify verifies the signature.
func (kp *ed25519KeyPair) Verify(message, signature []byte) error {
	if !ed25519.Verify(kp.publicKey, message, signature) {
		return pandacrypto.ErrInvalidSignature
	}
	return nil
}

// ID returns a unique identifier for this key pair.
func (kp *ed25519KeyPair) ID() string {
	return kp.id
}

// Destroy overwrites the private key bytes with zeros. The key pair
// must not be used after this call.
func (kp *ed25519KeyPair) Destroy() {
	pandacrypto.ZeroBytes(kp.privateKey)
}

// String implements fmt.Stringer, redacting secret material.
func (kp *ed25519KeyPair) String() string {
	return fmt.Sprintf("Ed25519KeyPair{id: %s, public: %x, private: <redacted>}", kp.id, kp.publicKey)
}

// GoString implements fmt.GoStringer so %#v also redacts.
func (kp *ed25519KeyPair) GoString() string {
	return kp.String()
}
