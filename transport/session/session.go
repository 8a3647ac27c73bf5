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

// Package session runs the per-peer transport handshake and the
// directional AEAD channel it establishes. Each peer gets its own
// state machine (Idle -> Handshaking -> Established, Closing ->
// Closed); the Registry in registry.go owns the sharded map of these
// and the glare tie-break between two peers that both dial at once.
package session

import (
	"bytes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/spacepanda/core/crypto/keys"
	"github.com/spacepanda/core/internal/metrics"
)

// State is a peer session's position in its handshake/data lifecycle.
type State int

const (
	StateIdle State = iota
	StateHandshaking
	StateEstablished
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateHandshaking:
		return "handshaking"
	case StateEstablished:
		return "established"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Errors returned by handle_data and handle_handshake_frame, per
// spec.md #4.6's error surface.
var (
	ErrNoSession         = errors.New("session: no established session for peer")
	ErrReplayedHandshake = errors.New("session: handshake nonce already seen")
	ErrExpiredHandshake  = errors.New("session: handshake window closed")
	ErrAuthFailure       = errors.New("session: authentication failed")
)

const (
	handshakeTimeout = 30 * time.Second
	seenNoncesCap    = 100
	transcriptLabel  = "SpacePanda-Session-Transcript-v1"
)

// FrameKind distinguishes an initiate_handshake's frame from a
// responder's answer, so a side that is itself Handshaking can tell a
// genuine reply to its own frame apart from a peer that independently
// called initiate_handshake at the same time (glare).
type FrameKind int

const (
	FrameInitiate FrameKind = iota
	FrameReply
)

// Frame is the handshake message shape exchanged in both directions:
// each side's message carries its own fresh nonce and ephemeral public
// key, tagged with whether it opens or answers the exchange. A side
// completes the handshake the moment it has both its own and the
// peer's Frame.
type Frame struct {
	Kind         FrameKind
	Nonce        uint64
	Timestamp    int64
	EphemeralPub []byte
}

// Session is one peer's handshake and data-channel state. All methods
// are safe for concurrent use; a single mutex protects the whole
// per-peer state, matching the "per-peer lock" requirement in
// spec.md #4.6 (mutations never span a suspension point).
type Session struct {
	peer string

	mu         sync.Mutex
	state      State
	initiator  bool
	generation uint64

	localEph   *keys.X25519KeyPair
	localNonce uint64
	startedAt  time.Time

	seenNonces     *lru.Cache
	seenDataNonces *lru.Cache

	outKey  []byte
	inKey   []byte
	aeadIn  cipher.AEAD
	aeadOut cipher.AEAD

	timer *time.Timer
}

func newSession(peer string) *Session {
	cache, err := lru.New(seenNoncesCap)
	if err != nil {
		// Only returns an error for a non-positive size, which
		// seenNoncesCap never is.
		panic(fmt.Sprintf("session: new seen-nonce cache: %v", err))
	}
	dataCache, err := lru.New(seenNoncesCap)
	if err != nil {
		panic(fmt.Sprintf("session: new seen-data-nonce cache: %v", err))
	}
	return &Session{peer: peer, state: StateIdle, seenNonces: cache, seenDataNonces: dataCache}
}

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// InitiateHandshake starts a handshake as the initiator, returning the
// Frame to send to peer. It arms a 30s timeout that, on expiry,
// transitions the session to Closed via onTimeout if it is still
// Handshaking with the same generation (abandoned by the caller,
// answered by neither glare resolution nor a real reply).
func (s *Session) InitiateHandshake(onTimeout func(gen uint64)) (Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	frame, err := s.beginAttempt(true)
	if err != nil {
		return Frame{}, err
	}
	metrics.HandshakesInitiated.WithLabelValues("initiator").Inc()
	s.armTimeout(onTimeout)
	return frame, nil
}

// beginAttempt must be called with mu held. It generates a fresh
// ephemeral key pair and nonce, bumps the generation counter (so any
// in-flight timeout for a prior attempt is a no-op), and returns the
// Frame describing this attempt.
func (s *Session) beginAttempt(initiator bool) (Frame, error) {
	eph, err := keys.GenerateX25519KeyPair()
	if err != nil {
		return Frame{}, fmt.Errorf("session: generate ephemeral key: %w", err)
	}
	x25519Eph, ok := eph.(*keys.X25519KeyPair)
	if !ok {
		return Frame{}, fmt.Errorf("session: unexpected ephemeral key type %T", eph)
	}

	var nonceBuf [8]byte
	if _, err := rand.Read(nonceBuf[:]); err != nil {
		return Frame{}, fmt.Errorf("session: generate handshake nonce: %w", err)
	}

	if s.localEph != nil {
		s.localEph.Destroy()
	}
	s.localEph = x25519Eph
	s.localNonce = binary.BigEndian.Uint64(nonceBuf[:])
	s.startedAt = time.Now()
	s.state = StateHandshaking
	s.initiator = initiator
	s.generation++

	kind := FrameReply
	if initiator {
		kind = FrameInitiate
	}
	return Frame{
		Kind:         kind,
		Nonce:        s.localNonce,
		Timestamp:    s.startedAt.Unix(),
		EphemeralPub: x25519Eph.PublicBytesKey(),
	}, nil
}

// armTimeout must be called with mu held. It replaces any existing
// scoped timeout for this session with a fresh one bound to the
// current generation.
func (s *Session) armTimeout(onTimeout func(gen uint64)) {
	if s.timer != nil {
		s.timer.Stop()
	}
	gen := s.generation
	if onTimeout == nil {
		return
	}
	s.timer = time.AfterFunc(handshakeTimeout, func() { onTimeout(gen) })
}

// expireIfCurrent transitions the session to Closed if it is still
// Handshaking under generation gen, i.e. the scoped timeout fired
// before a terminating frame arrived. Returns whether it did so.
func (s *Session) expireIfCurrent(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateHandshaking || s.generation != gen {
		return false
	}
	s.teardownLocked()
	metrics.HandshakeTimeouts.Inc()
	return true
}

// localPeerIDLower reports whether localPeerID sorts before s.peer,
// the tie-break spec.md #4.6 uses to resolve two peers simultaneously
// calling initiate_handshake against each other: the side with the
// lexicographically lower local peer id aborts its own attempt and
// falls back to answering the other side's frame as a responder.
func localPeerIDLower(localPeerID, remotePeerID string) bool {
	return localPeerID < remotePeerID
}

// HandleHandshakeFrame processes an inbound handshake frame from peer.
// When non-nil, the returned Frame must be sent back to the peer to
// complete their side of the handshake.
func (s *Session) HandleHandshakeFrame(frame Frame, localPeerID string, onTimeout func(gen uint64)) (*Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateIdle, StateClosed, StateClosing:
		return s.respondToHandshakeLocked(frame, onTimeout)

	case StateHandshaking:
		if frame.Kind == FrameInitiate && s.initiator {
			// Glare: we also called initiate_handshake against
			// this peer and neither side has seen the other's
			// frame yet. The lower local peer id aborts its own
			// attempt and answers the peer's frame fresh; the
			// higher id drops the duplicate initiate and keeps
			// waiting for the real reply to the frame it sent.
			if localPeerIDLower(localPeerID, s.peer) {
				return s.respondToHandshakeLocked(frame, onTimeout)
			}
			return nil, nil
		}
		// frame.Kind == FrameReply: the peer answering our own
		// initiate (possibly after it lost a glare tie-break and
		// is now answering as a responder).
		if err := s.completeHandshakeLocked(frame); err != nil {
			return nil, err
		}
		return nil, nil

	default:
		return nil, ErrNoSession
	}
}

// respondToHandshakeLocked must be called with mu held. It answers an
// inbound initiate frame as a responder: generate our own ephemeral
// key and nonce, derive the directional keys immediately (we already
// have both halves of the transcript), and return our Frame for the
// caller to send back.
func (s *Session) respondToHandshakeLocked(frame Frame, onTimeout func(gen uint64)) (*Frame, error) {
	reply, err := s.beginAttempt(false)
	if err != nil {
		return nil, err
	}
	s.armTimeout(onTimeout)
	if err := s.completeHandshakeLocked(frame); err != nil {
		return nil, err
	}
	return &reply, nil
}

// completeHandshakeLocked must be called with mu held, after
// beginAttempt has populated s.localEph/s.localNonce/s.startedAt for
// this attempt. It validates the peer's frame, derives the directional
// AEAD keys from the combined transcript, and transitions to
// Established.
func (s *Session) completeHandshakeLocked(frame Frame) error {
	nonceKey := frame.Nonce
	if s.seenNonces.Contains(nonceKey) {
		metrics.HandshakeReplayDetected.Inc()
		return ErrReplayedHandshake
	}

	if time.Since(s.startedAt) > handshakeTimeout {
		metrics.ExpiredHandshakesRejected.Inc()
		s.teardownLocked()
		return ErrExpiredHandshake
	}

	s.seenNonces.Add(nonceKey, struct{}{})

	sharedSecret, err := s.localEph.DeriveSharedSecret(frame.EphemeralPub)
	if err != nil {
		metrics.HandshakesFailed.WithLabelValues("key_agreement").Inc()
		return ErrAuthFailure
	}
	defer zero(sharedSecret)

	localPub := s.localEph.PublicBytesKey()
	salt := transcriptSalt(localPub, frame.EphemeralPub, s.localNonce, frame.Nonce)

	keyMaterial := make([]byte, 64)
	reader := hkdf.New(sha256.New, sharedSecret, salt, []byte(transcriptLabel))
	if _, err := io.ReadFull(reader, keyMaterial); err != nil {
		return fmt.Errorf("session: derive directional keys: %w", err)
	}
	c2sEnc, s2cEnc := keyMaterial[:32], keyMaterial[32:]

	var outKey, inKey []byte
	if s.initiator {
		outKey, inKey = c2sEnc, s2cEnc
	} else {
		outKey, inKey = s2cEnc, c2sEnc
	}

	aeadOut, err := chacha20poly1305.New(outKey)
	if err != nil {
		return fmt.Errorf("session: create outbound aead: %w", err)
	}
	aeadIn, err := chacha20poly1305.New(inKey)
	if err != nil {
		return fmt.Errorf("session: create inbound aead: %w", err)
	}

	s.outKey, s.inKey = outKey, inKey
	s.aeadOut, s.aeadIn = aeadOut, aeadIn
	s.localEph.Destroy()
	s.localEph = nil
	s.state = StateEstablished

	metrics.SessionHandshakeDuration.Observe(time.Since(s.startedAt).Seconds())
	metrics.HandshakesCompleted.WithLabelValues("success").Inc()
	metrics.SessionsCreated.WithLabelValues("success").Inc()
	metrics.SessionsActive.Inc()
	return nil
}

// transcriptSalt binds the HKDF derivation to both sides' ephemeral
// public keys (in canonical, peer-order-independent order, following
// the same trick the teacher's handshake key derivation uses) and both
// handshake nonces, so the transcript is unique per attempt.
func transcriptSalt(selfPub, peerPub []byte, selfNonce, peerNonce uint64) []byte {
	loPub, hiPub := canonicalOrder(selfPub, peerPub)

	var selfNonceBytes, peerNonceBytes [8]byte
	binary.BigEndian.PutUint64(selfNonceBytes[:], selfNonce)
	binary.BigEndian.PutUint64(peerNonceBytes[:], peerNonce)
	loNonce, hiNonce := canonicalOrder(selfNonceBytes[:], peerNonceBytes[:])

	h := sha256.New()
	h.Write([]byte(transcriptLabel))
	h.Write(loPub)
	h.Write(hiPub)
	h.Write(loNonce)
	h.Write(hiNonce)
	return h.Sum(nil)
}

// canonicalOrder returns a, b in lexicographic order so both peers
// compute an identical salt regardless of which side is "self".
func canonicalOrder(a, b []byte) (lo, hi []byte) {
	if bytes.Compare(a, b) <= 0 {
		return a, b
	}
	return b, a
}

// EncryptOutbound seals plaintext for the peer. Output format is
// nonce || ciphertext, matching the teacher's directional-session AEAD
// framing.
func (s *Session) EncryptOutbound(plaintext []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateEstablished {
		return nil, ErrNoSession
	}

	nonce := make([]byte, s.aeadOut.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("session: generate nonce: %w", err)
	}
	ciphertext := s.aeadOut.Seal(nil, nonce, plaintext, nil)

	out := make([]byte, 0, len(nonce)+len(ciphertext))
	out = append(out, nonce...)
	out = append(out, ciphertext...)

	metrics.SessionMessageSize.WithLabelValues("outbound").Observe(float64(len(out)))
	return out, nil
}

// HandleData decrypts an inbound ciphertext produced by the peer's
// EncryptOutbound.
func (s *Session) HandleData(ciphertext []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateEstablished {
		return nil, ErrNoSession
	}

	nonceSize := s.aeadIn.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, ErrAuthFailure
	}
	nonce, body := ciphertext[:nonceSize], ciphertext[nonceSize:]

	nonceKey := string(nonce)
	if s.seenDataNonces.Contains(nonceKey) {
		metrics.ReplayAttacksDetected.Inc()
		return nil, ErrAuthFailure
	}
	s.seenDataNonces.Add(nonceKey, struct{}{})

	plaintext, err := s.aeadIn.Open(nil, nonce, body, nil)
	if err != nil {
		return nil, ErrAuthFailure
	}

	metrics.SessionMessageSize.WithLabelValues("inbound").Observe(float64(len(ciphertext)))
	return plaintext, nil
}

// Close transitions the session through Closing to Closed, zeroing all
// derived key material.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	wasEstablished := s.state == StateEstablished
	s.state = StateClosing
	s.teardownLocked()
	if wasEstablished {
		metrics.SessionsActive.Dec()
	}
	metrics.SessionsClosed.Inc()
}

// teardownLocked must be called with mu held. It zeroes key material
// and stops any pending timeout, leaving the session Closed.
func (s *Session) teardownLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.localEph != nil {
		s.localEph.Destroy()
		s.localEph = nil
	}
	zero(s.outKey)
	zero(s.inKey)
	s.outKey, s.inKey = nil, nil
	s.aeadOut, s.aeadIn = nil, nil
	s.state = StateClosed
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
