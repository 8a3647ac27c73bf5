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

package rpc

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spacepanda/core/ratelimit"
)

const peerID = "bob-peer"

// loopback wires two Dispatchers' Sender functions to each other's
// HandleFrame, simulating an established transport channel without a
// real network.
func loopback(t *testing.T) (caller, callee *Dispatcher) {
	t.Helper()
	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerSec: 1000,
		BurstSize:         1000,
		FailureThreshold:  5,
		RecoveryTimeout:   time.Second,
	})

	var calleeRef *Dispatcher
	callerD, err := New(func(peer string, frame Frame) error {
		calleeRef.HandleFrame(context.Background(), peer, frame)
		return nil
	}, nil, 1<<20, 64)
	require.NoError(t, err)

	var callerRef *Dispatcher
	callerRef = callerD
	calleeD, err := New(func(peer string, frame Frame) error {
		callerRef.HandleFrame(context.Background(), peer, frame)
		return nil
	}, limiter, 1<<20, 64)
	require.NoError(t, err)
	calleeRef = calleeD

	return callerD, calleeD
}

func TestCallReturnsHandlerResult(t *testing.T) {
	caller, callee := loopback(t)
	callee.Handle("echo", func(_ context.Context, _ string, payload []byte) ([]byte, error) {
		return append([]byte("echo:"), payload...), nil
	})

	result, err := caller.Call(context.Background(), peerID, "echo", []byte("hi"), time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte("echo:hi"), result)
}

func TestCallReturnsErrNoHandlerForUnknownMethod(t *testing.T) {
	caller, _ := loopback(t)

	_, err := caller.Call(context.Background(), peerID, "missing", nil, time.Second)
	assert.ErrorIs(t, err, ErrNoHandler)
}

func TestCallTimesOutWhenNoResponseArrives(t *testing.T) {
	callerD, err := New(func(string, Frame) error { return nil }, nil, 1<<20, 64)
	require.NoError(t, err)

	_, err = callerD.Call(context.Background(), peerID, "anything", nil, 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestCallIsCancelledByContext(t *testing.T) {
	callerD, err := New(func(string, Frame) error { return nil }, nil, 1<<20, 64)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = callerD.Call(ctx, peerID, "anything", nil, time.Second)
	assert.ErrorIs(t, err, ErrCancelled)
}

func TestTimeoutIsNoOpAfterResponseWins(t *testing.T) {
	var calleeRef *Dispatcher
	callerD, err := New(func(peer string, frame Frame) error {
		calleeRef.HandleFrame(context.Background(), peer, frame)
		return nil
	}, nil, 1<<20, 64)
	require.NoError(t, err)

	calleeD, err := New(func(peer string, frame Frame) error {
		callerD.HandleFrame(context.Background(), peer, frame)
		return nil
	}, nil, 1<<20, 64)
	require.NoError(t, err)
	calleeRef = calleeD
	calleeD.Handle("slow", func(_ context.Context, _ string, payload []byte) ([]byte, error) {
		return payload, nil
	})

	result, err := callerD.Call(context.Background(), peerID, "slow", []byte("ok"), 50*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), result)

	callerD.mu.Lock()
	pending := len(callerD.pending)
	callerD.mu.Unlock()
	assert.Equal(t, 0, pending, "the completed request must not linger in the pending map")

	time.Sleep(75 * time.Millisecond)
}

func TestDuplicateInboundRequestIsDroppedSilently(t *testing.T) {
	var seen int
	var mu sync.Mutex

	calleeD, err := New(func(string, Frame) error { return nil }, nil, 1<<20, 64)
	require.NoError(t, err)
	calleeD.Handle("count", func(_ context.Context, _ string, _ []byte) ([]byte, error) {
		mu.Lock()
		seen++
		mu.Unlock()
		return nil, nil
	})

	frame := Frame{Kind: FrameRequest, RequestID: "fixed-id", Method: "count"}
	calleeD.HandleFrame(context.Background(), peerID, frame)
	calleeD.HandleFrame(context.Background(), peerID, frame)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, seen, "a replayed request id must be dispatched at most once")
}

func TestOversizedInboundRequestIsRejected(t *testing.T) {
	calleeD, err := New(func(string, Frame) error { return nil }, nil, 8, 64)
	require.NoError(t, err)
	dispatched := false
	calleeD.Handle("big", func(_ context.Context, _ string, _ []byte) ([]byte, error) {
		dispatched = true
		return nil, nil
	})

	frame := Frame{Kind: FrameRequest, RequestID: "r1", Method: "big", Payload: make([]byte, 9)}
	calleeD.HandleFrame(context.Background(), peerID, frame)

	assert.False(t, dispatched, "an oversized frame must never reach the handler")
}

func TestRateLimitedPeerGetsErrRateLimited(t *testing.T) {
	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerSec: 0,
		BurstSize:         0,
		FailureThreshold:  5,
		RecoveryTimeout:   time.Second,
	})

	var calleeRef *Dispatcher
	callerD, err := New(func(peer string, frame Frame) error {
		calleeRef.HandleFrame(context.Background(), peer, frame)
		return nil
	}, nil, 1<<20, 64)
	require.NoError(t, err)

	calleeD, err := New(func(peer string, frame Frame) error {
		callerD.HandleFrame(context.Background(), peer, frame)
		return nil
	}, limiter, 1<<20, 64)
	require.NoError(t, err)
	calleeRef = calleeD
	calleeD.Handle("anything", func(_ context.Context, _ string, _ []byte) ([]byte, error) {
		return nil, nil
	})

	_, err = callerD.Call(context.Background(), peerID, "anything", nil, time.Second)
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestHandlerErrorIsReportedToCaller(t *testing.T) {
	caller, callee := loopback(t)
	callee.Handle("fail", func(_ context.Context, _ string, _ []byte) ([]byte, error) {
		return nil, assertErr
	})

	_, err := caller.Call(context.Background(), peerID, "fail", nil, time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), assertErr.Error())
}

var assertErr = errDeliberate{}

type errDeliberate struct{}

func (errDeliberate) Error() string { return "deliberate handler failure" }
