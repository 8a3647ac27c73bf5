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

// Package rpc implements the request/response correlation layer that
// runs on top of an established transport/session channel: Call sends
// a request and blocks for its matching response or a scoped timeout;
// Dispatcher.HandleFrame demultiplexes inbound frames, routing
// responses back to a waiting Call and inbound requests through the
// rate limiter, circuit breaker, and registered handler.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"

	"github.com/spacepanda/core/internal/metrics"
	"github.com/spacepanda/core/ratelimit"
)

// Errors returned by Call. A handler that fails on the remote side is
// reported as a separate "rpc: remote error" carrying its message.
// ErrFrameTooLarge is not returned by any Dispatcher method: an
// oversized inbound request is dropped without a response.
var (
	ErrTimeout       = errors.New("rpc: call timed out")
	ErrTransport     = errors.New("rpc: transport send failed")
	ErrRateLimited   = errors.New("rpc: peer rate limit exceeded")
	ErrCircuitOpen   = errors.New("rpc: peer circuit breaker open")
	ErrCancelled     = errors.New("rpc: call cancelled")
	ErrNoHandler     = errors.New("rpc: no handler registered for method")
	ErrFrameTooLarge = errors.New("rpc: frame exceeds max frame size")
)

// FrameKind distinguishes a request frame from its response.
type FrameKind int

const (
	FrameRequest FrameKind = iota
	FrameResponse
)

// Frame is the wire-level envelope exchanged once a session's data
// channel is established. Encoding onto the channel itself is the
// Network Layer's concern; Dispatcher only demultiplexes decoded
// Frames.
type Frame struct {
	Kind      FrameKind
	RequestID string
	Method    string
	Payload   []byte
	// ErrCode is set on a FrameResponse that failed on the responder's
	// side; empty means Payload is a successful result.
	ErrCode string
}

// Sender delivers an outbound Frame to peer over its established
// session. Dispatcher does not own transport; it is handed one.
type Sender func(peer string, frame Frame) error

// Handler processes an inbound request's payload and returns the
// response payload, or an error to report back to the caller.
type Handler func(ctx context.Context, peer string, payload []byte) ([]byte, error)

type pendingRequest struct {
	responseCh chan Frame
	timer      *time.Timer
}

// Dispatcher correlates outbound calls with their responses and
// demultiplexes inbound requests to registered handlers.
type Dispatcher struct {
	sender        Sender
	limiter       *ratelimit.Limiter
	maxFrameBytes int

	mu       sync.Mutex
	pending  map[string]*pendingRequest
	handlers map[string]Handler

	seenRequests *lru.Cache
}

// New creates a Dispatcher. sender delivers outbound frames; limiter
// enforces the per-peer rate limit and circuit breaker on inbound
// requests; maxFrameBytes rejects oversized inbound payloads before
// dispatch; seenRequestsCap bounds the inbound duplicate-request LRU.
func New(sender Sender, limiter *ratelimit.Limiter, maxFrameBytes, seenRequestsCap int) (*Dispatcher, error) {
	cache, err := lru.New(seenRequestsCap)
	if err != nil {
		return nil, fmt.Errorf("rpc: allocate seen-requests cache: %w", err)
	}
	return &Dispatcher{
		sender:        sender,
		limiter:       limiter,
		maxFrameBytes: maxFrameBytes,
		pending:       make(map[string]*pendingRequest),
		handlers:      make(map[string]Handler),
		seenRequests:  cache,
	}, nil
}

// Handle registers a handler for method. Not safe to call concurrently
// with HandleFrame dispatching that same method.
func (d *Dispatcher) Handle(method string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[method] = h
}

// Call sends method/payload to peer and blocks until a matching
// response arrives, the scoped timeout fires, or ctx is cancelled.
func (d *Dispatcher) Call(ctx context.Context, peer, method string, payload []byte, timeout time.Duration) ([]byte, error) {
	start := time.Now()
	requestID := uuid.NewString()
	respCh := make(chan Frame, 1)
	pr := &pendingRequest{responseCh: respCh}

	d.mu.Lock()
	d.pending[requestID] = pr
	metrics.PendingRPCRequests.Inc()
	d.mu.Unlock()

	pr.timer = time.AfterFunc(timeout, func() { d.fireTimeout(requestID) })

	result, err := d.awaitResponse(ctx, peer, method, payload, requestID, respCh)
	metrics.RPCCallDuration.Observe(time.Since(start).Seconds())
	return result, err
}

func (d *Dispatcher) awaitResponse(ctx context.Context, peer, method string, payload []byte, requestID string, respCh chan Frame) ([]byte, error) {
	frame := Frame{Kind: FrameRequest, RequestID: requestID, Method: method, Payload: payload}
	if err := d.sender(peer, frame); err != nil {
		d.cancelPending(requestID)
		metrics.RPCRequests.WithLabelValues("transport_error").Inc()
		return nil, ErrTransport
	}

	select {
	case resp := <-respCh:
		if resp.ErrCode != "" {
			return nil, responseError(resp.ErrCode)
		}
		metrics.RPCRequests.WithLabelValues("allowed").Inc()
		return resp.Payload, nil
	case <-ctx.Done():
		d.cancelPending(requestID)
		metrics.RPCRequests.WithLabelValues("cancelled").Inc()
		return nil, ErrCancelled
	}
}

// fireTimeout runs on the scoped timer. It atomically checks whether
// the pending entry still exists: a response that already won the
// race has removed it, making this a no-op.
func (d *Dispatcher) fireTimeout(requestID string) {
	d.mu.Lock()
	pr, ok := d.pending[requestID]
	if ok {
		delete(d.pending, requestID)
		metrics.PendingRPCRequests.Dec()
	}
	d.mu.Unlock()

	if !ok {
		return
	}
	metrics.RPCRequests.WithLabelValues("timeout").Inc()
	select {
	case pr.responseCh <- Frame{Kind: FrameResponse, ErrCode: "timeout"}:
	default:
	}
}

// cancelPending removes a pending entry and stops its timer, used
// when the send itself failed or the caller's context was cancelled
// before a response arrived.
func (d *Dispatcher) cancelPending(requestID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	pr, ok := d.pending[requestID]
	if !ok {
		return
	}
	delete(d.pending, requestID)
	metrics.PendingRPCRequests.Dec()
	pr.timer.Stop()
}

func responseError(code string) error {
	switch code {
	case "timeout":
		return ErrTimeout
	case "rate_limited":
		return ErrRateLimited
	case "circuit_open":
		return ErrCircuitOpen
	case "no_handler":
		return ErrNoHandler
	default:
		return fmt.Errorf("rpc: remote error: %s", code)
	}
}

// HandleFrame demultiplexes an inbound Frame from peer: a Response is
// routed to its waiting Call, a Request runs the seen-requests /
// rate-limit / circuit-breaker / dispatch pipeline and, if sender is
// non-nil, sends the resulting Frame back.
func (d *Dispatcher) HandleFrame(ctx context.Context, peer string, frame Frame) {
	switch frame.Kind {
	case FrameResponse:
		d.handleResponse(frame)
	case FrameRequest:
		d.handleRequest(ctx, peer, frame)
	}
}

func (d *Dispatcher) handleResponse(frame Frame) {
	d.mu.Lock()
	pr, ok := d.pending[frame.RequestID]
	if ok {
		delete(d.pending, frame.RequestID)
		metrics.PendingRPCRequests.Dec()
	}
	d.mu.Unlock()
	if !ok {
		// Response arrived after the timeout already fired and removed
		// the entry; nothing is waiting for it.
		return
	}
	pr.timer.Stop()
	select {
	case pr.responseCh <- frame:
	default:
	}
}

func (d *Dispatcher) handleRequest(ctx context.Context, peer string, frame Frame) {
	if len(frame.Payload) > d.maxFrameBytes {
		metrics.OversizedFramesRejected.Inc()
		return
	}

	dedupeKey := peer + ":" + frame.RequestID
	d.mu.Lock()
	_, duplicate := d.seenRequests.Get(dedupeKey)
	if !duplicate {
		d.seenRequests.Add(dedupeKey, struct{}{})
	}
	metrics.SeenRequestsCacheSize.Set(float64(d.seenRequests.Len()))
	d.mu.Unlock()
	if duplicate {
		return
	}

	if d.limiter != nil {
		switch d.limiter.Check(peer) {
		case ratelimit.RateLimitExceeded:
			metrics.RPCRequests.WithLabelValues("rate_limited").Inc()
			d.respond(peer, frame.RequestID, nil, "rate_limited")
			return
		case ratelimit.CircuitOpen:
			metrics.RPCRequests.WithLabelValues("circuit_breaker_open").Inc()
			d.respond(peer, frame.RequestID, nil, "circuit_open")
			return
		}
	}

	d.mu.Lock()
	handler, ok := d.handlers[frame.Method]
	d.mu.Unlock()
	if !ok {
		if d.limiter != nil {
			d.limiter.RecordFailure(peer)
		}
		d.respond(peer, frame.RequestID, nil, "no_handler")
		return
	}

	result, err := handler(ctx, peer, frame.Payload)
	if err != nil {
		if d.limiter != nil {
			d.limiter.RecordFailure(peer)
		}
		d.respond(peer, frame.RequestID, nil, err.Error())
		return
	}
	if d.limiter != nil {
		d.limiter.RecordSuccess(peer)
	}
	metrics.RPCRequests.WithLabelValues("allowed").Inc()
	d.respond(peer, frame.RequestID, result, "")
}

func (d *Dispatcher) respond(peer, requestID string, payload []byte, errCode string) {
	if d.sender == nil {
		return
	}
	_ = d.sender(peer, Frame{Kind: FrameResponse, RequestID: requestID, Payload: payload, ErrCode: errCode})
}
