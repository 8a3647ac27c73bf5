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

package session

import (
	"hash/fnv"
	"sync"
)

const defaultShardCount = 16

// Registry is the global, sharded per-peer session table. Sharding by
// peer id keeps the per-peer lock inside Session from ever needing to
// be acquired alongside a registry-wide lock: a shard's mutex only
// guards that shard's map entry, not the Session's own state.
type Registry struct {
	localPeerID string
	shards      []*shard
}

type shard struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates a Registry that identifies itself as
// localPeerID when resolving simultaneous-handshake glare.
func NewRegistry(localPeerID string) *Registry {
	shards := make([]*shard, defaultShardCount)
	for i := range shards {
		shards[i] = &shard{sessions: make(map[string]*Session)}
	}
	return &Registry{localPeerID: localPeerID, shards: shards}
}

func (r *Registry) shardFor(peer string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(peer))
	return r.shards[h.Sum32()%uint32(len(r.shards))]
}

// sessionFor returns the existing session for peer, or creates one.
func (r *Registry) sessionFor(peer string) *Session {
	sh := r.shardFor(peer)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	s, ok := sh.sessions[peer]
	if !ok {
		s = newSession(peer)
		sh.sessions[peer] = s
	}
	return s
}

func (r *Registry) removeIfClosed(peer string, s *Session) {
	if s.State() != StateClosed {
		return
	}
	sh := r.shardFor(peer)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if current, ok := sh.sessions[peer]; ok && current == s {
		delete(sh.sessions, peer)
	}
}

// InitiateHandshake starts a handshake with peer, returning the Frame
// to send.
func (r *Registry) InitiateHandshake(peer string) (Frame, error) {
	s := r.sessionFor(peer)
	frame, err := s.InitiateHandshake(func(gen uint64) {
		if s.expireIfCurrent(gen) {
			r.removeIfClosed(peer, s)
		}
	})
	return frame, err
}

// HandleHandshakeFrame feeds an inbound handshake frame from peer into
// its session, applying the glare tie-break in Session.
// HandleHandshakeFrame. A non-nil returned Frame must be sent back to
// peer.
func (r *Registry) HandleHandshakeFrame(peer string, frame Frame) (*Frame, error) {
	s := r.sessionFor(peer)
	reply, err := s.HandleHandshakeFrame(frame, r.localPeerID, func(gen uint64) {
		if s.expireIfCurrent(gen) {
			r.removeIfClosed(peer, s)
		}
	})
	if err != nil {
		r.removeIfClosed(peer, s)
		return nil, err
	}
	return reply, nil
}

// HandleData decrypts an inbound ciphertext from peer's established
// session.
func (r *Registry) HandleData(peer string, ciphertext []byte) ([]byte, error) {
	sh := r.shardFor(peer)
	sh.mu.Lock()
	s, ok := sh.sessions[peer]
	sh.mu.Unlock()
	if !ok {
		return nil, ErrNoSession
	}
	return s.HandleData(ciphertext)
}

// EncryptOutbound seals plaintext for peer's established session.
func (r *Registry) EncryptOutbound(peer string, plaintext []byte) ([]byte, error) {
	sh := r.shardFor(peer)
	sh.mu.Lock()
	s, ok := sh.sessions[peer]
	sh.mu.Unlock()
	if !ok {
		return nil, ErrNoSession
	}
	return s.EncryptOutbound(plaintext)
}

// Close tears down peer's session, zeroizing its keys, and removes it
// from the registry.
func (r *Registry) Close(peer string) {
	sh := r.shardFor(peer)
	sh.mu.Lock()
	s, ok := sh.sessions[peer]
	if ok {
		delete(sh.sessions, peer)
	}
	sh.mu.Unlock()

	if ok {
		s.Close()
	}
}

// ActivePeers reports how many peers currently have a session entry
// (any state, not just Established) — used to feed the active_peers
// gauge in spec.md #4.13.
func (r *Registry) ActivePeers() int {
	total := 0
	for _, sh := range r.shards {
		sh.mu.Lock()
		total += len(sh.sessions)
		sh.mu.Unlock()
	}
	return total
}
