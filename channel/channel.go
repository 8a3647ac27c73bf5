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

// Package channel implements the Channel Manager: the layer that turns
// an mls.GroupHandle and a store.Store into the operations a user
// actually performs on a group — create it, invite to it, join it,
// send and receive messages on it, and manage membership roles —
// wrapping sealed-sender and padding around every message and a CRDT
// role register around every membership decision.
package channel

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Role is a member's permission level within one channel. Roles are
// per-channel: the same identity can be Admin in one channel and
// ReadOnly in another.
type Role int

const (
	// RoleReadOnly can receive messages but not send, remove, or
	// promote/demote.
	RoleReadOnly Role = iota
	// RoleMember can send messages.
	RoleMember
	// RoleAdmin can additionally add/remove members and promote/demote.
	RoleAdmin
)

func (r Role) String() string {
	switch r {
	case RoleAdmin:
		return "admin"
	case RoleMember:
		return "member"
	default:
		return "read_only"
	}
}

func roleFromString(s string) Role {
	switch s {
	case "admin":
		return RoleAdmin
	case "member":
		return RoleMember
	default:
		return RoleReadOnly
	}
}

// Visibility controls whether a channel is discoverable and joinable
// without an explicit invite (Public) or invite-only (Private).
type Visibility int

const (
	VisibilityPrivate Visibility = iota
	VisibilityPublic
)

func (v Visibility) String() string {
	if v == VisibilityPublic {
		return "public"
	}
	return "private"
}

// Errors returned by Channel Manager operations, matching spec.md
// #4.11's error surface. MlsError and the mls sentinels
// (ErrNoMatchingKeyPackage, ErrMissingRatchetTree, ErrStaleEpoch,
// ErrNotAMember) are reused directly from the mls package rather than
// re-declared here, since this layer never changes their meaning.
var (
	ErrPermissionDenied = errors.New("channel: actor lacks the role required for this operation")
	ErrUnknownChannel   = errors.New("channel: no such channel is tracked locally")
	ErrLastAdmin        = errors.New("channel: cannot demote the last remaining admin")
	ErrInvalidOperation = errors.New("channel: invalid operation")
)

// StoreError wraps a failure from the underlying store.Store or its
// backend, matching spec.md #4.11's StoreError catch-all.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("channel: %s: %v", e.Op, e.Err) }
func (e *StoreError) Unwrap() error { return e.Err }

// ChannelID is the 16-byte storage identifier for a channel, used by
// the CRDT store and persisted config. It is distinct from the MLS
// group id (32 bytes): GroupIDFor derives the latter deterministically
// from the former, so both the Channel Manager and the Network Layer
// (C12) agree on one group per channel without exchanging a second id.
type ChannelID [16]byte

// NewChannelID generates a fresh random channel id.
func NewChannelID() ChannelID {
	var out ChannelID
	copy(out[:], uuid.New()[:])
	return out
}

// String returns the canonical UUID-style representation of id.
func (id ChannelID) String() string {
	return uuid.UUID(id).String()
}

// GroupIDFor derives the 32-byte MLS group id for a channel. It is a
// pure function of the channel id, so every participant — and the
// Network Layer translating between wire and storage representations
// — derives the identical group id independently.
func GroupIDFor(id ChannelID) []byte {
	sum := sha256.Sum256(id[:])
	return sum[:]
}

// Envelope is the wire format send_message produces and
// receive_envelope consumes: MLS application ciphertext plus a sealed
// sender blob, both already epoch-bound.
type Envelope struct {
	Epoch        uint64
	SealedSender []byte
	Ciphertext   []byte
}

// InviteToken bundles what join_channel needs: the Welcome message and
// the ratchet tree export that must accompany it, since this package's
// wire-format policy never omits the tree (see mls.ErrMissingRatchetTree).
type InviteToken struct {
	ChannelID   ChannelID
	Welcome     []byte
	RatchetTree []byte
}
