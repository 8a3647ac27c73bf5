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

package ratelimit

import (
	"sync"
	"time"
)

// breakerState is the circuit breaker's own state, distinct from the
// Decision a Check call returns.
type breakerState int

const (
	closed breakerState = iota
	open
	halfOpen
)

// breaker is a per-peer circuit breaker: Closed -> Open on
// consecutive failures reaching threshold; Open -> HalfOpen once
// recoveryTimeout has elapsed; HalfOpen -> Closed on the next success
// or back to Open on the next failure.
type breaker struct {
	threshold       int
	recoveryTimeout time.Duration

	mu              sync.Mutex
	state           breakerState
	consecutiveFail int
	openedAt        time.Time
}

func newBreaker(threshold int, recoveryTimeout time.Duration) *breaker {
	return &breaker{threshold: threshold, recoveryTimeout: recoveryTimeout, state: closed}
}

// allow reports whether a request should proceed, transitioning Open
// to HalfOpen in place once the recovery timeout has passed.
func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case closed, halfOpen:
		return true
	case open:
		if time.Since(b.openedAt) >= b.recoveryTimeout {
			b.state = halfOpen
			return true
		}
		return false
	default:
		return true
	}
}

func (b *breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFail = 0
	b.state = closed
}

func (b *breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == halfOpen {
		b.trip()
		return
	}

	b.consecutiveFail++
	if b.consecutiveFail >= b.threshold {
		b.trip()
	}
}

// trip must be called with mu held.
func (b *breaker) trip() {
	b.state = open
	b.openedAt = time.Now()
	b.consecutiveFail = 0
}
