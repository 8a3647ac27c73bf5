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

// Package identity implements master/device key management and the
// device-binding proof-of-possession protocol: a device proves it
// holds the private half of a candidate keypair before the master
// identity vouches for it with a binding certificate.
package identity

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	pandacrypto "github.com/spacepanda/core/crypto"
	"github.com/spacepanda/core/crypto/keys"
)

// Errors returned by ValidateProofOfPossession. Each names a distinct
// rejection reason; callers MUST NOT merge these the way keystore.Import
// merges its failure modes — PoP rejections are caller-actionable.
var (
	ErrChallengeExpired  = errors.New("identity: challenge expired")
	ErrInvalidSignature  = errors.New("identity: invalid proof-of-possession signature")
	ErrDeviceIDMismatch  = errors.New("identity: device_pub does not hash to device_id")
	ErrChallengeReplayed = errors.New("identity: challenge already accepted")
)

const challengeLabel = "SpacePanda-DevicePoP-v1"

// DeviceID derives the canonical device identifier from a device's
// candidate Ed25519 public key: the hex-encoded SHA-256 digest.
func DeviceID(devicePub ed25519.PublicKey) string {
	sum := sha256.Sum256(devicePub)
	return hex.EncodeToString(sum[:])
}

// MasterKey wraps the Ed25519 keypair that vouches for devices.
type MasterKey struct {
	kp pandacrypto.KeyPair
}

// NewMasterKey generates a fresh master identity.
func NewMasterKey() (*MasterKey, error) {
	kp, err := keys.GenerateEd25519KeyPair()
	if err != nil {
		return nil, fmt.Errorf("identity: generate master key: %w", err)
	}
	return &MasterKey{kp: kp}, nil
}

// MasterKeyFromSeed deterministically derives a master identity from a
// 32-byte seed.
func MasterKeyFromSeed(seed []byte) (*MasterKey, error) {
	kp, err := keys.Ed25519KeyPairFromSeed(seed)
	if err != nil {
		return nil, fmt.Errorf("identity: master key from seed: %w", err)
	}
	return &MasterKey{kp: kp}, nil
}

// PublicKey returns the master's Ed25519 public key.
func (m *MasterKey) PublicKey() ed25519.PublicKey {
	return m.kp.PublicKey().(ed25519.PublicKey)
}

// Destroy zeroes the master's private key material.
func (m *MasterKey) Destroy() {
	if d, ok := m.kp.(pandacrypto.Destroyer); ok {
		d.Destroy()
	}
}

// DeviceKey wraps the Ed25519 keypair a device generates as its
// candidate identity, before it is bound to a master.
type DeviceKey struct {
	kp pandacrypto.KeyPair
}

// NewDeviceKey generates a fresh candidate device keypair.
func NewDeviceKey() (*DeviceKey, error) {
	kp, err := keys.GenerateEd25519KeyPair()
	if err != nil {
		return nil, fmt.Errorf("identity: generate device key: %w", err)
	}
	return &DeviceKey{kp: kp}, nil
}

// PublicKey returns the device's candidate Ed25519 public key.
func (d *DeviceKey) PublicKey() ed25519.PublicKey {
	return d.kp.PublicKey().(ed25519.PublicKey)
}

// ID returns the canonical device_id for this device's public key.
func (d *DeviceKey) ID() string {
	return DeviceID(d.PublicKey())
}

// Destroy zeroes the device's private key material.
func (d *DeviceKey) Destroy() {
	if de, ok := d.kp.(pandacrypto.Destroyer); ok {
		de.Destroy()
	}
}

// DeviceChallenge is step 2 of the binding protocol: the master's
// response to a device's candidate public key submission.
type DeviceChallenge struct {
	Nonce    [16]byte
	IssuedAt int64 // unix seconds
	DeviceID string
}

// canonical returns the deterministic byte encoding signed by the
// device and re-derived by the master during validation:
// label || nonce || issued_at(be64) || device_id.
func (c DeviceChallenge) canonical() []byte {
	buf := make([]byte, 0, len(challengeLabel)+len(c.Nonce)+8+len(c.DeviceID))
	buf = append(buf, challengeLabel...)
	buf = append(buf, c.Nonce[:]...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(c.IssuedAt))
	buf = append(buf, c.DeviceID...)
	return buf
}

// nonceKey returns the string used to track replay of this challenge.
func (c DeviceChallenge) nonceKey() string {
	return hex.EncodeToString(c.Nonce[:]) + ":" + c.DeviceID
}

// ProofOfPossession is step 3 of the binding protocol: the device's
// signature over the challenge it was issued, returned alongside its
// public key so the master can verify without prior state.
type ProofOfPossession struct {
	Challenge DeviceChallenge
	Signature []byte
	DevicePub ed25519.PublicKey
}

// Prove signs the challenge with the device's private key, producing
// the ProofOfPossession the master will validate.
func (d *DeviceKey) Prove(challenge DeviceChallenge) (ProofOfPossession, error) {
	sig, err := d.kp.Sign(challenge.canonical())
	if err != nil {
		return ProofOfPossession{}, fmt.Errorf("identity: sign challenge: %w", err)
	}
	return ProofOfPossession{
		Challenge: challenge,
		Signature: sig,
		DevicePub: append(ed25519.PublicKey(nil), d.PublicKey()...),
	}, nil
}

// BindingCertificate is the master's attestation that DevicePub is a
// legitimate device of this identity, produced only after a
// successful proof-of-possession round-trip.
type BindingCertificate struct {
	DevicePub ed25519.PublicKey
	DeviceID  string
	IssuedAt  int64
	Signature []byte // Sign_master(device_pub || device_id || issued_at)
}

// signedBytes returns the bytes the master signs to produce the
// certificate, and that verifiers re-derive to check it.
func (c BindingCertificate) signedBytes() []byte {
	buf := make([]byte, 0, len(c.DevicePub)+len(c.DeviceID)+8)
	buf = append(buf, c.DevicePub...)
	buf = append(buf, c.DeviceID...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(c.IssuedAt))
	return buf
}

// Verify checks the certificate's signature against masterPub.
func (c BindingCertificate) Verify(masterPub ed25519.PublicKey) error {
	if !ed25519.Verify(masterPub, c.signedBytes(), c.Signature) {
		return ErrInvalidSignature
	}
	return nil
}
