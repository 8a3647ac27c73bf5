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

// Package crdt implements the conflict-free replicated data types a
// channel's state is built from: OR-Set, OR-Map, LWW-Register, and the
// vector clock that orders their operations. Every mutating operation
// carries an OperationMetadata envelope that, when the container
// enforces it, must authenticate before the operation is allowed to
// touch state.
package crdt

import (
	"crypto/ed25519"
	"encoding/binary"
	"errors"
)

// ErrInvalidSignature is returned by any apply/merge operation whose
// OperationMetadata fails authentication under an enforcing container.
var ErrInvalidSignature = errors.New("crdt: invalid operation signature")

// OperationMetadata accompanies every mutating call into a CRDT
// primitive: who authored it, what channel it belongs to, the vector
// clock position it was issued at, and the signature proving
// AuthorPub actually produced it.
type OperationMetadata struct {
	OpID      string
	ChannelID string
	AuthorPub ed25519.PublicKey
	Signature []byte
	Timestamp int64
	NodeID    string
	VC        VectorClock
}

// canonicalBytes builds the deterministic byte sequence the signature
// covers: channel id, the operation's own opaque payload, the node id
// and timestamp the op was issued at.
func (m OperationMetadata) canonicalBytes(op []byte) []byte {
	buf := make([]byte, 0, len(m.ChannelID)+len(op)+len(m.NodeID)+8)
	buf = append(buf, m.ChannelID...)
	buf = append(buf, op...)
	buf = append(buf, m.NodeID...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(m.Timestamp))
	return buf
}

// verifySignature checks m's signature over op against authorizedKeys.
// Every mutating method passes its container's enforceSignatures flag
// as required: when it is false the check is skipped and nil is
// returned; when it is true the author key must be authorized and the
// signature must verify.
func (m OperationMetadata) verifySignature(op []byte, authorizedKeys []ed25519.PublicKey, required bool) error {
	if !required {
		return nil
	}
	if len(m.AuthorPub) != ed25519.PublicKeySize || len(m.Signature) == 0 {
		return ErrInvalidSignature
	}
	authorized := false
	for _, k := range authorizedKeys {
		if len(k) == ed25519.PublicKeySize && string(k) == string(m.AuthorPub) {
			authorized = true
			break
		}
	}
	if !authorized {
		return ErrInvalidSignature
	}
	if !ed25519.Verify(m.AuthorPub, m.canonicalBytes(op), m.Signature) {
		return ErrInvalidSignature
	}
	return nil
}
