package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCheckAllowsWithinBurst(t *testing.T) {
	l := New(Config{MaxRequestsPerSec: 1, BurstSize: 3, FailureThreshold: 5, RecoveryTimeout: time.Second})

	for i := 0; i < 3; i++ {
		assert.Equal(t, Allowed, l.Check("peer-a"))
	}
	assert.Equal(t, RateLimitExceeded, l.Check("peer-a"))
}

func TestCheckTracksPeersIndependently(t *testing.T) {
	l := New(Config{MaxRequestsPerSec: 1, BurstSize: 1, FailureThreshold: 5, RecoveryTimeout: time.Second})

	assert.Equal(t, Allowed, l.Check("peer-a"))
	assert.Equal(t, RateLimitExceeded, l.Check("peer-a"))
	assert.Equal(t, Allowed, l.Check("peer-b"))
}

func TestCircuitOpensAfterConsecutiveFailures(t *testing.T) {
	l := New(Config{MaxRequestsPerSec: 1000, BurstSize: 1000, FailureThreshold: 3, RecoveryTimeout: time.Hour})

	for i := 0; i < 3; i++ {
		l.RecordFailure("peer-a")
	}
	assert.Equal(t, CircuitOpen, l.Check("peer-a"))
}

func TestCircuitHalfOpenAfterRecoveryThenCloses(t *testing.T) {
	l := New(Config{MaxRequestsPerSec: 1000, BurstSize: 1000, FailureThreshold: 1, RecoveryTimeout: 10 * time.Millisecond})

	l.RecordFailure("peer-a")
	assert.Equal(t, CircuitOpen, l.Check("peer-a"))

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, Allowed, l.Check("peer-a"), "half-open trial request allowed")

	l.RecordSuccess("peer-a")
	assert.Equal(t, Allowed, l.Check("peer-a"))
}

func TestCircuitHalfOpenReopensOnFailure(t *testing.T) {
	l := New(Config{MaxRequestsPerSec: 1000, BurstSize: 1000, FailureThreshold: 1, RecoveryTimeout: 10 * time.Millisecond})

	l.RecordFailure("peer-a")
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, Allowed, l.Check("peer-a"))

	l.RecordFailure("peer-a")
	assert.Equal(t, CircuitOpen, l.Check("peer-a"))
}

func TestRecordSuccessResetsFailureCount(t *testing.T) {
	l := New(Config{MaxRequestsPerSec: 1000, BurstSize: 1000, FailureThreshold: 3, RecoveryTimeout: time.Hour})

	l.RecordFailure("peer-a")
	l.RecordFailure("peer-a")
	l.RecordSuccess("peer-a")
	l.RecordFailure("peer-a")
	l.RecordFailure("peer-a")

	assert.Equal(t, Allowed, l.Check("peer-a"), "breaker should not have tripped after reset")
}

func TestRemovePeerDeletesState(t *testing.T) {
	l := New(Config{MaxRequestsPerSec: 1, BurstSize: 1, FailureThreshold: 1, RecoveryTimeout: time.Hour})

	l.Check("peer-a")
	l.RemovePeer("peer-a")

	// A fresh bucket after removal means the burst allowance is available again.
	assert.Equal(t, Allowed, l.Check("peer-a"))
}
