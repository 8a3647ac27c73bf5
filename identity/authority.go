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

package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"sync"
	"time"
)

// ChallengeExpiry is the maximum age of a DeviceChallenge that the
// master will still accept a proof of possession for.
const ChallengeExpiry = 5 * time.Minute

// Authority is the master-side half of the device-binding protocol:
// it issues challenges and validates the proofs devices return,
// producing binding certificates for devices that pass.
type Authority struct {
	master *MasterKey
	replay *replayWindow
}

// NewAuthority creates an Authority vouching for devices on behalf of
// master.
func NewAuthority(master *MasterKey) *Authority {
	return &Authority{
		master: master,
		replay: newReplayWindow(ChallengeExpiry),
	}
}

// IssueChallenge is step 2 of the binding protocol: given a device's
// candidate public key (step 1), the master mints a fresh
// DeviceChallenge binding a random nonce to the device's id and the
// current time.
func (a *Authority) IssueChallenge(devicePub ed25519.PublicKey) (DeviceChallenge, error) {
	var nonce [16]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return DeviceChallenge{}, fmt.Errorf("identity: generate challenge nonce: %w", err)
	}
	return DeviceChallenge{
		Nonce:    nonce,
		IssuedAt: time.Now().Unix(),
		DeviceID: DeviceID(devicePub),
	}, nil
}

// ValidateProofOfPossession is step 3's counterpart: the master
// checks the returned proof against the challenge it issued and, on
// success, produces a binding certificate.
//
// Checks, in order: expiry, device_pub hashes to the challenge's
// device_id, signature verifies under device_pub, and the challenge
// has not already been accepted (replay). Order matters only for
// which error a caller observes first; all four are independently
// required.
func (a *Authority) ValidateProofOfPossession(pop ProofOfPossession) (*BindingCertificate, error) {
	challenge := pop.Challenge

	if time.Now().Unix()-challenge.IssuedAt > int64(ChallengeExpiry.Seconds()) {
		return nil, ErrChallengeExpired
	}
	if DeviceID(pop.DevicePub) != challenge.DeviceID {
		return nil, ErrDeviceIDMismatch
	}
	if !ed25519.Verify(pop.DevicePub, challenge.canonical(), pop.Signature) {
		return nil, ErrInvalidSignature
	}
	if a.replay.checkAndRecord(challenge.nonceKey()) {
		return nil, ErrChallengeReplayed
	}

	cert := BindingCertificate{
		DevicePub: append(ed25519.PublicKey(nil), pop.DevicePub...),
		DeviceID:  challenge.DeviceID,
		IssuedAt:  challenge.IssuedAt,
	}
	sig, err := a.master.kp.Sign(cert.signedBytes())
	if err != nil {
		return nil, fmt.Errorf("identity: sign binding certificate: %w", err)
	}
	cert.Signature = sig
	return &cert, nil
}

// replayWindow tracks accepted challenge nonces for ChallengeExpiry
// past their issuance, after which they age out — a challenge already
// past expiry can never be replayed again anyway.
type replayWindow struct {
	ttl  time.Duration
	mu   sync.Mutex
	seen map[string]int64 // key -> expiry unix
}

func newReplayWindow(ttl time.Duration) *replayWindow {
	return &replayWindow{ttl: ttl, seen: make(map[string]int64)}
}

// checkAndRecord reports whether key was already accepted within the
// window, recording it if not.
func (w *replayWindow) checkAndRecord(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now().Unix()
	w.gc(now)

	if exp, ok := w.seen[key]; ok && exp >= now {
		return true
	}
	w.seen[key] = now + int64(w.ttl.Seconds())
	return false
}

// gc drops expired entries. Called with mu held.
func (w *replayWindow) gc(now int64) {
	for k, exp := range w.seen {
		if exp < now {
			delete(w.seen, k)
		}
	}
}
