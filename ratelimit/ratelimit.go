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

// Package ratelimit guards RPC handlers against abusive or failing
// peers with two independent mechanisms, checked together: a token
// bucket bounding request rate, and a circuit breaker tripped by
// consecutive failures.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Decision is the outcome of Check.
type Decision int

const (
	Allowed Decision = iota
	RateLimitExceeded
	CircuitOpen
)

func (d Decision) String() string {
	switch d {
	case Allowed:
		return "allowed"
	case RateLimitExceeded:
		return "rate_limit_exceeded"
	case CircuitOpen:
		return "circuit_open"
	default:
		return "unknown"
	}
}

// Config sets the limits applied to every peer.
type Config struct {
	// MaxRequestsPerSec is the token bucket's sustained refill rate.
	MaxRequestsPerSec float64
	// BurstSize is the token bucket's capacity.
	BurstSize int
	// FailureThreshold is the number of consecutive failures that
	// trips the breaker from Closed to Open.
	FailureThreshold int
	// RecoveryTimeout is how long the breaker stays Open before moving
	// to HalfOpen. While HalfOpen every request is allowed until the
	// next recorded success closes the breaker or failure re-opens it.
	RecoveryTimeout time.Duration
}

// Limiter tracks a token bucket and circuit breaker per peer.
type Limiter struct {
	cfg Config

	mu    sync.Mutex
	peers map[string]*peerState
}

type peerState struct {
	bucket  *rate.Limiter
	breaker *breaker
}

// New creates a Limiter applying cfg uniformly to every peer seen.
func New(cfg Config) *Limiter {
	return &Limiter{cfg: cfg, peers: make(map[string]*peerState)}
}

// Check must be called before dispatching a request from peer. It
// consults the circuit breaker first — an open breaker should not
// also burn a rate-limit token — then the token bucket.
func (l *Limiter) Check(peer string) Decision {
	st := l.stateFor(peer)

	if !st.breaker.allow() {
		return CircuitOpen
	}
	if !st.bucket.Allow() {
		return RateLimitExceeded
	}
	return Allowed
}

// RecordSuccess must be called by RPC handlers after a request from
// peer completes successfully.
func (l *Limiter) RecordSuccess(peer string) {
	l.stateFor(peer).breaker.recordSuccess()
}

// RecordFailure must be called by RPC handlers after a request from
// peer fails.
func (l *Limiter) RecordFailure(peer string) {
	l.stateFor(peer).breaker.recordFailure()
}

// RemovePeer deletes peer's token bucket and breaker state, e.g. when
// its session closes.
func (l *Limiter) RemovePeer(peer string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.peers, peer)
}

func (l *Limiter) stateFor(peer string) *peerState {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.peers[peer]
	if !ok {
		st = &peerState{
			bucket:  rate.NewLimiter(rate.Limit(l.cfg.MaxRequestsPerSec), l.cfg.BurstSize),
			breaker: newBreaker(l.cfg.FailureThreshold, l.cfg.RecoveryTimeout),
		}
		l.peers[peer] = st
	}
	return st
}
