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

// Package network implements the Network Layer: the boundary between
// the Channel Manager's sealed, already-MLS-processed wire material and
// the per-peer AEAD sessions transport/session establishes. It never
// sees plaintext. Outbound, it demultiplexes a channel broadcast to
// every peer currently registered as a member of that channel;
// inbound, it decrypts a peer's frame and routes the recovered
// (channel_id, payload) pair back to the Channel Manager.
package network

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spacepanda/core/channel"
	"github.com/spacepanda/core/internal/metrics"
	"github.com/spacepanda/core/transport/session"
)

// Errors returned by Layer operations.
var (
	ErrDecodeFrame  = errors.New("network: malformed wire frame")
	ErrUnknownFrame = errors.New("network: unrecognized frame kind")
)

// frameKind distinguishes an application envelope from an MLS commit
// on the wire, so on_inbound knows which Channel Manager operation to
// route a decoded frame to.
type frameKind string

const (
	frameEnvelope frameKind = "envelope"
	frameCommit   frameKind = "commit"
)

// wireFrame is what crosses a peer's AEAD session: channel demux
// information plus the already-sealed payload the Channel Manager
// produced. Encoded with encoding/json, the same wire-format choice
// every other protocol layer in this codebase makes.
type wireFrame struct {
	Kind      frameKind
	ChannelID channel.ChannelID
	Payload   []byte
}

// Sender delivers an outbound ciphertext frame to peer. Like
// transport/rpc.Sender, Layer does not own the socket: dial/listen and
// the actual wire write are the caller's concern (delegated to the
// session layer's connection handling per spec.md #4.12), so Sender is
// the one seam a concrete transport plugs into.
type Sender func(peer string, ciphertext []byte) error

// ChannelRouter is the subset of channel.Manager the Network Layer
// dispatches inbound frames to. A small interface rather than a direct
// *channel.Manager dependency, so a test can stub it without standing
// up real MLS groups.
type ChannelRouter interface {
	ReceiveEnvelope(channelID channel.ChannelID, envelope []byte) ([]byte, error)
	ProcessCommit(channelID channel.ChannelID, commit []byte) error
}

// Layer is the Network Layer for one local node. It implements
// channel.Transport, so a channel.Manager can be constructed directly
// against it.
type Layer struct {
	sessions *session.Registry
	sender   Sender
	members  *MemberRegistry
	router   ChannelRouter
}

var _ channel.Transport = (*Layer)(nil)

// New creates a Layer. sessions supplies the per-peer AEAD channel,
// sender performs the actual wire write, members resolves a channel to
// its current peers and a peer to its user identity, and router
// receives demultiplexed inbound frames.
func New(sessions *session.Registry, sender Sender, members *MemberRegistry, router ChannelRouter) *Layer {
	return &Layer{sessions: sessions, sender: sender, members: members, router: router}
}

func (l *Layer) broadcast(kind frameKind, channelID channel.ChannelID, payload []byte) error {
	frame := wireFrame{Kind: kind, ChannelID: channelID, Payload: payload}
	plaintext, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("network: encode wire frame: %w", err)
	}

	var firstErr error
	for _, peer := range l.members.PeersFor(channelID) {
		ciphertext, err := l.sessions.EncryptOutbound(peer, plaintext)
		if err != nil {
			metrics.NetworkBroadcasts.WithLabelValues(string(kind), "no_session").Inc()
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := l.sender(peer, ciphertext); err != nil {
			metrics.NetworkBroadcasts.WithLabelValues(string(kind), "transport_error").Inc()
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		metrics.NetworkBroadcasts.WithLabelValues(string(kind), "sent").Inc()
	}
	return firstErr
}

// Broadcast implements channel.Transport: it sends envelope to every
// peer currently registered as a member of channelID. Delivery is
// best-effort — a single peer's dead session or transport error does
// not prevent delivery to the others; the first error encountered, if
// any, is returned once every peer has been attempted.
func (l *Layer) Broadcast(channelID channel.ChannelID, envelope []byte) error {
	return l.broadcast(frameEnvelope, channelID, envelope)
}

// BroadcastCommit implements channel.Transport for MLS commits.
func (l *Layer) BroadcastCommit(channelID channel.ChannelID, commit []byte) error {
	return l.broadcast(frameCommit, channelID, commit)
}

// OnInbound decrypts a ciphertext frame received from peer's
// established session and routes the recovered payload to the
// Channel Manager. Per spec.md #4.12, delivery has no cross-peer
// ordering guarantee and loss recovery (gap-fill) is out of scope
// here: a frame that fails to decrypt or decode is dropped, not
// retried.
func (l *Layer) OnInbound(peer string, ciphertext []byte) error {
	plaintext, err := l.sessions.HandleData(peer, ciphertext)
	if err != nil {
		metrics.NetworkInbound.WithLabelValues("unknown", "decrypt_failed").Inc()
		return err
	}

	var frame wireFrame
	if err := json.Unmarshal(plaintext, &frame); err != nil {
		metrics.NetworkInbound.WithLabelValues("unknown", "decode_failed").Inc()
		return ErrDecodeFrame
	}

	switch frame.Kind {
	case frameEnvelope:
		if _, err := l.router.ReceiveEnvelope(frame.ChannelID, frame.Payload); err != nil {
			metrics.NetworkInbound.WithLabelValues(string(frame.Kind), "router_error").Inc()
			return err
		}
	case frameCommit:
		if err := l.router.ProcessCommit(frame.ChannelID, frame.Payload); err != nil {
			metrics.NetworkInbound.WithLabelValues(string(frame.Kind), "router_error").Inc()
			return err
		}
	default:
		metrics.NetworkInbound.WithLabelValues("unknown", "unknown_kind").Inc()
		return ErrUnknownFrame
	}

	metrics.NetworkInbound.WithLabelValues(string(frame.Kind), "routed").Inc()
	return nil
}
