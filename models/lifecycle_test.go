package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitionTableAcceptsDocumentedPaths(t *testing.T) {
	cases := []struct{ from, to State }{
		{StateCreated, StateValidating},
		{StateValidating, StatePlatformRouting},
		{StatePlatformRouting, StateQueued},
		{StateQueued, StateDelivering},
		{StateDelivering, StateDelivered},
		{StateDelivered, StateCompleted},
		{StateFailed, StateDelivering},
	}
	for _, c := range cases {
		assert.True(t, CanTransition(c.from, c.to), "%s -> %s should be allowed", c.from, c.to)
	}
}

func TestTransitionTableRejectsUndocumentedPaths(t *testing.T) {
	cases := []struct{ from, to State }{
		{StateCreated, StateDelivered},
		{StateCancelled, StateValidating},
		{StateCompleted, StateFailed},
		{StateQueued, StateCompleted},
	}
	for _, c := range cases {
		assert.False(t, CanTransition(c.from, c.to), "%s -> %s should be rejected", c.from, c.to)
	}
}

func TestTerminalStates(t *testing.T) {
	assert.True(t, StateCancelled.IsTerminal())
	assert.True(t, StateExpired.IsTerminal())
	assert.True(t, StateCompleted.IsTerminal())
	assert.False(t, StateDelivering.IsTerminal())
}

func TestNewLifecycleFirstHistoryEntry(t *testing.T) {
	now := time.Now()
	l := NewLifecycle(now)
	require.Len(t, l.History, 1)
	assert.Equal(t, State(-1), l.History[0].From)
	assert.Equal(t, StateCreated, l.History[0].To)
}

func TestHistoryBounded(t *testing.T) {
	l := NewLifecycle(time.Now())
	for i := 0; i < MaxHistoryEntries+50; i++ {
		l.AppendHistory(Transition{From: StateDelivered, To: StateDelivered, Timestamp: time.Now()})
	}
	assert.Len(t, l.History, MaxHistoryEntries)
}

func TestIsExpiredByTTL(t *testing.T) {
	now := time.Now()
	l := NewLifecycle(now)
	l.Expiration.TTL = time.Hour
	assert.False(t, l.IsExpired(now.Add(30*time.Minute)))
	assert.True(t, l.IsExpired(now.Add(time.Hour+time.Second)))
}

func TestIsExpiredDuringDelivering(t *testing.T) {
	now := time.Now()
	l := NewLifecycle(now)
	l.State = StateDelivering
	deliveringAt := now
	l.Timing.DeliveringAt = &deliveringAt
	l.Expiration.DeliveryTimeout = 30 * time.Second
	assert.False(t, l.IsExpired(now.Add(10*time.Second)))
	assert.True(t, l.IsExpired(now.Add(31*time.Second)))
}

func TestShouldRetryRespectsAttemptsAndBreaker(t *testing.T) {
	now := time.Now()
	l := NewLifecycle(now)
	l.State = StateFailed
	l.RetryPolicy.CurrentAttempt = 1
	l.RetryPolicy.MaxAttempts = 3
	assert.True(t, l.ShouldRetry(now))

	l.RetryPolicy.CurrentAttempt = 3
	assert.False(t, l.ShouldRetry(now))

	l.RetryPolicy.CurrentAttempt = 1
	l.Breaker.State = BreakerOpen
	opened := now
	l.Breaker.OpenedAt = &opened
	l.Breaker.Timeout = time.Minute
	assert.False(t, l.ShouldRetry(now.Add(time.Second)))
	assert.True(t, l.ShouldRetry(now.Add(2*time.Minute)))
}

func TestPriorityBypassesDnD(t *testing.T) {
	assert.False(t, PriorityLow.BypassesDnD())
	assert.False(t, PriorityHigh.BypassesDnD())
	assert.True(t, PriorityCritical.BypassesDnD())
	assert.True(t, PriorityUrgent.BypassesDnD())
}

func TestPriorityDefaultTimeoutOrdering(t *testing.T) {
	low := *PriorityLow.DefaultTimeout()
	high := *PriorityHigh.DefaultTimeout()
	assert.Greater(t, high, low)
	assert.Nil(t, PriorityCritical.DefaultTimeout())
	assert.Nil(t, PriorityUrgent.DefaultTimeout())
}
