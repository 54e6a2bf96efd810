// Package lifecycle implements the 14-state transition table, retry
// policy, and per-notification circuit breaker for the notification
// record's lifecycle block. It operates purely on *models.Lifecycle
// values handed to it by store entries and holds no state of its
// own.
package lifecycle

import (
	"time"

	"notifyd/models"
)

// Apply attempts from->to, returning false without mutating l if the
// transition table rejects the pair (spec invariant: a transition is
// applied only if current->target is permitted).
func Apply(l *models.Lifecycle, to models.State, reason string, correlationID models.CorrelationID, now time.Time) bool {
	if !models.CanTransition(l.State, to) {
		return false
	}
	l.AppendHistory(models.Transition{From: l.State, To: to, Timestamp: now, Reason: reason, CorrelationID: correlationID})
	l.State = to
	stampTiming(l, to, now)
	return true
}

// stampTiming fills the Timing field matching this transition's
// target state.
func stampTiming(l *models.Lifecycle, to models.State, now time.Time) {
	switch to {
	case models.StateValidating:
		l.Timing.ValidatedAt = &now
	case models.StateQueued:
		l.Timing.QueuedAt = &now
	case models.StateDelivering:
		l.Timing.DeliveringAt = &now
	case models.StateDelivered:
		l.Timing.DeliveredAt = &now
	case models.StateInteractionPending:
		l.Timing.InteractionPendingAt = &now
	case models.StateCompleted:
		l.Timing.CompletedAt = &now
	}
}

// Fail transitions to Failed, stamping the aggregated error details and
// recording the breaker's consecutive-failure count. Returns false if
// Failed is not reachable from the current state.
func Fail(l *models.Lifecycle, details *models.ErrorDetails, reason string, correlationID models.CorrelationID, now time.Time) bool {
	if !Apply(l, models.StateFailed, reason, correlationID, now) {
		return false
	}
	l.FailureDetails = details
	RecordFailure(&l.Breaker, now)
	return true
}

// RecordSuccess resets the per-record breaker on a successful
// delivery; a success while half-open closes it and resets counters.
func RecordSuccess(b *models.CircuitBreaker, now time.Time) {
	b.ConsecutiveFailures = 0
	if b.State == models.BreakerHalfOpen {
		b.HalfOpenSuccesses++
		b.State = models.BreakerClosed
		b.ConsecutiveSuccesses = b.HalfOpenSuccesses
		b.HalfOpenSuccesses = 0
		b.OpenedAt = nil
	}
}

// RecordFailure bumps the consecutive-failure counter and opens the
// breaker once it reaches the threshold (default 5).
func RecordFailure(b *models.CircuitBreaker, now time.Time) {
	b.ConsecutiveFailures++
	b.ConsecutiveSuccesses = 0
	threshold := b.Threshold
	if threshold <= 0 {
		threshold = models.DefaultCircuitBreaker().Threshold
	}
	if b.State != models.BreakerOpen && b.ConsecutiveFailures >= threshold {
		b.State = models.BreakerOpen
		opened := now
		b.OpenedAt = &opened
	}
}

// RefreshBreaker auto-transitions Open -> HalfOpen once the timeout has
// elapsed (spec invariant: circuit_breaker_state == Open implies
// circuit_breaker_opened_at is set and it auto-transitions after
// circuit_breaker_timeout).
func RefreshBreaker(b *models.CircuitBreaker, now time.Time) {
	if b.State != models.BreakerOpen || b.OpenedAt == nil {
		return
	}
	timeout := b.Timeout
	if timeout <= 0 {
		timeout = models.DefaultCircuitBreaker().Timeout
	}
	if now.Sub(*b.OpenedAt) >= timeout {
		b.State = models.BreakerHalfOpen
		b.HalfOpenSuccesses = 0
	}
}
