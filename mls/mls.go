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

// Package mls implements one MLS-style group per channel: a provider
// holds key package bundles and group state, and a GroupHandle exposes
// the operations a Channel Manager needs (add/remove members, seal and
// process application messages, export secrets) without the caller
// touching ratchet tree internals directly.
//
// This is not a full RFC 9420 TreeKEM implementation — there is no
// parent-node path encryption or tree-based key schedule — but it
// preserves the contract that matters to callers: every add or remove
// advances the epoch and rotates the application secret, so a removed
// member holds no key that decrypts anything sent after their removal.
package mls

import (
	"errors"
	"fmt"
)

// CipherSuite identifies the algorithm combination a group runs.
// Exactly one is implemented: X25519 HPKE KEM, HKDF-SHA256, and the
// ChaCha20-Poly1305 AEAD crypto/keys already wires up for HPKE.
type CipherSuite uint16

const (
	// SuiteX25519ChaCha20 is the only supported ciphersuite.
	SuiteX25519ChaCha20 CipherSuite = 1
)

// Errors returned by mls operations, matching spec.md #4.11's error
// surface for the channel manager layer that wraps this package.
var (
	ErrNoMatchingKeyPackage = errors.New("mls: no matching key package in provider storage")
	ErrMissingRatchetTree   = errors.New("mls: wire-format policy requires an explicit ratchet tree")
	ErrStaleEpoch           = errors.New("mls: commit targets a stale epoch")
	ErrBadSignature         = errors.New("mls: sender signature does not verify")
	ErrUnknownSender        = errors.New("mls: sender is not a current group member")
	ErrUnsupportedSuite     = errors.New("mls: unsupported ciphersuite")
	ErrNotAMember           = errors.New("mls: local leaf is not present in this group")
)

// MlsError wraps an underlying failure the way spec.md #4.11 names it:
// a single catch-all for anything this package fails at that isn't one
// of the more specific sentinels above.
type MlsError struct {
	Op  string
	Err error
}

func (e *MlsError) Error() string { return fmt.Sprintf("mls: %s: %v", e.Op, e.Err) }
func (e *MlsError) Unwrap() error { return e.Err }

func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &MlsError{Op: op, Err: err}
}
