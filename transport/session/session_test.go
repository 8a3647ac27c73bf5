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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// peerFrame builds a standalone peer-side Frame for tests that drive
// Session directly without a second Registry.
func peerFrame(t *testing.T, initiator bool) Frame {
	t.Helper()
	peer := newSession("throwaway")
	frame, err := peer.beginAttempt(initiator)
	require.NoError(t, err)
	return frame
}

func TestSessionStartsIdle(t *testing.T) {
	s := newSession("bob-peer")
	assert.Equal(t, StateIdle, s.State())
}

func TestCompleteHandshakeRejectsExpiredAttempt(t *testing.T) {
	s := newSession("bob-peer")
	_, err := s.beginAttempt(true)
	require.NoError(t, err)

	s.mu.Lock()
	s.startedAt = time.Now().Add(-time.Minute)
	s.mu.Unlock()

	err = s.completeHandshakeLocked(peerFrame(t, false))
	assert.ErrorIs(t, err, ErrExpiredHandshake)
	assert.Equal(t, StateClosed, s.State())
}

func TestCompleteHandshakeRejectsReplayedNonce(t *testing.T) {
	s := newSession("bob-peer")
	_, err := s.beginAttempt(true)
	require.NoError(t, err)

	reply := peerFrame(t, false)
	require.NoError(t, s.completeHandshakeLocked(reply))

	// Re-arm a new attempt and replay the same reply frame's nonce.
	_, err = s.beginAttempt(true)
	require.NoError(t, err)
	err = s.completeHandshakeLocked(reply)
	assert.ErrorIs(t, err, ErrReplayedHandshake)
}

func TestEncryptOutboundRequiresEstablishedSession(t *testing.T) {
	s := newSession("bob-peer")
	_, err := s.EncryptOutbound([]byte("hi"))
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestHandleDataRequiresEstablishedSession(t *testing.T) {
	s := newSession("bob-peer")
	_, err := s.HandleData([]byte("hi"))
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestCloseZeroizesDirectionalKeys(t *testing.T) {
	s := newSession("bob-peer")
	_, err := s.beginAttempt(true)
	require.NoError(t, err)
	require.NoError(t, s.completeHandshakeLocked(peerFrame(t, false)))

	// Keep references to the backing arrays: Close zeroes them in
	// place before clearing the Session's own pointers to nil.
	outKey, inKey := s.outKey, s.inKey
	require.NotEmpty(t, outKey)
	require.NotEmpty(t, inKey)

	s.Close()

	assert.Equal(t, StateClosed, s.State())
	assert.Nil(t, s.outKey)
	assert.Nil(t, s.inKey)
	for _, b := range [][]byte{outKey, inKey} {
		for _, v := range b {
			assert.Zero(t, v)
		}
	}
}

func TestTimeoutClosesAbandonedHandshake(t *testing.T) {
	s := newSession("bob-peer")
	frame, err := s.InitiateHandshake(func(gen uint64) {
		s.expireIfCurrent(gen)
	})
	require.NoError(t, err)
	assert.NotZero(t, frame.EphemeralPub)

	s.mu.Lock()
	gen := s.generation
	s.mu.Unlock()

	assert.True(t, s.expireIfCurrent(gen))
	assert.Equal(t, StateClosed, s.State())
}

func TestTimeoutIsNoOpAfterHandshakeCompletes(t *testing.T) {
	s := newSession("bob-peer")
	_, err := s.InitiateHandshake(func(uint64) {})
	require.NoError(t, err)

	s.mu.Lock()
	gen := s.generation
	s.mu.Unlock()

	require.NoError(t, s.completeHandshakeLocked(peerFrame(t, false)))

	assert.False(t, s.expireIfCurrent(gen))
	assert.Equal(t, StateEstablished, s.State())
}
