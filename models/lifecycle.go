package models

import "time"

// State is one of the 14 lifecycle states a notification moves
// through.
type State int

const (
	StateCreated State = iota
	StateValidating
	StatePlatformRouting
	StateQueued
	StateDelivering
	StateDelivered
	StateInteractionPending
	StateInteractionReceived
	StateProcessingResponse
	StateUpdated
	StateCancelled
	StateExpired
	StateFailed
	StateCompleted
)

var stateNames = map[State]string{
	StateCreated:             "Created",
	StateValidating:          "Validating",
	StatePlatformRouting:     "PlatformRouting",
	StateQueued:              "Queued",
	StateDelivering:          "Delivering",
	StateDelivered:           "Delivered",
	StateInteractionPending:  "InteractionPending",
	StateInteractionReceived: "InteractionReceived",
	StateProcessingResponse:  "ProcessingResponse",
	StateUpdated:             "Updated",
	StateCancelled:           "Cancelled",
	StateExpired:             "Expired",
	StateFailed:              "Failed",
	StateCompleted:           "Completed",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "Unknown"
}

// IsTerminal reports whether no further transition is ever possible.
func (s State) IsTerminal() bool {
	return s == StateCancelled || s == StateExpired || s == StateCompleted
}

// TransitionTable is the exhaustive from->allowed-targets table. Any
// pair not listed here is rejected.
var TransitionTable = map[State]map[State]bool{
	StateCreated:             set(StateValidating, StateCancelled),
	StateValidating:          set(StatePlatformRouting, StateFailed, StateCancelled),
	StatePlatformRouting:     set(StateQueued, StateDelivering, StateFailed, StateCancelled),
	StateQueued:              set(StateDelivering, StateExpired, StateCancelled),
	StateDelivering:          set(StateDelivered, StateFailed, StateExpired, StateCancelled),
	StateDelivered:           set(StateInteractionPending, StateInteractionReceived, StateUpdated, StateExpired, StateCompleted),
	StateInteractionPending:  set(StateInteractionReceived, StateProcessingResponse, StateExpired),
	StateInteractionReceived: set(StateProcessingResponse, StateCompleted),
	StateProcessingResponse:  set(StateInteractionPending, StateCompleted, StateFailed),
	StateUpdated:             set(StateDelivering, StateInteractionPending, StateCompleted),
	StateFailed:              set(StateValidating, StatePlatformRouting, StateDelivering, StateCancelled),
	StateCancelled:           {},
	StateExpired:             {},
	StateCompleted:           {},
}

func set(states ...State) map[State]bool {
	m := make(map[State]bool, len(states))
	for _, s := range states {
		m[s] = true
	}
	return m
}

// CanTransition reports whether from->to is permitted by the table.
func CanTransition(from, to State) bool {
	allowed, ok := TransitionTable[from]
	if !ok {
		return false
	}
	return allowed[to]
}

// Transition is one recorded state change.
type Transition struct {
	From          State         `json:"from"`
	To            State         `json:"to"`
	Timestamp     time.Time     `json:"timestamp"`
	Reason        string        `json:"reason"`
	CorrelationID CorrelationID `json:"correlation_id,omitempty"`
}

// MaxHistoryEntries bounds the append-only transition history.
const MaxHistoryEntries = 100

// BackoffKind tags the RetryPolicy's backoff strategy union.
type BackoffKind int

const (
	BackoffFixed BackoffKind = iota
	BackoffLinear
	BackoffExponentialWithJitter
)

// RetryPolicy parameters for re-attempting failed deliveries.
type RetryPolicy struct {
	MaxAttempts    int           `json:"max_attempts"`
	CurrentAttempt int           `json:"current_attempt"`
	Backoff        BackoffKind   `json:"backoff_strategy"`
	Base           time.Duration `json:"base"`
	Increment      time.Duration `json:"increment"`
	Max            time.Duration `json:"max"`
	Multiplier     float64       `json:"multiplier"`
	Jitter         float64       `json:"jitter"`
}

// DefaultRetryPolicy: 3 attempts, exponential backoff with jitter,
// 100ms base, 30s cap.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Backoff:     BackoffExponentialWithJitter,
		Base:        100 * time.Millisecond,
		Max:         30 * time.Second,
		Multiplier:  2.0,
		Jitter:      0.1,
	}
}

// BreakerState is the circuit breaker's own state machine, independent
// of the 14-state lifecycle.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

// CircuitBreaker parameters and counters (per-record).
type CircuitBreaker struct {
	State               BreakerState `json:"state"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	ConsecutiveSuccesses int         `json:"consecutive_successes"`
	Threshold           int          `json:"threshold"`
	Timeout             time.Duration `json:"timeout"`
	OpenedAt            *time.Time   `json:"opened_at,omitempty"`
	HalfOpenSuccesses   int          `json:"half_open_successes"`
}

// DefaultCircuitBreaker: threshold 5, timeout 5 minutes.
func DefaultCircuitBreaker() CircuitBreaker {
	return CircuitBreaker{State: BreakerClosed, Threshold: 5, Timeout: 5 * time.Minute}
}

// ExpirationPolicy carries the thresholds is_expired() consults.
type ExpirationPolicy struct {
	ExpiresAt         *time.Time    `json:"expires_at,omitempty"`
	TTL               time.Duration `json:"ttl"`
	DeliveryTimeout   time.Duration `json:"delivery_timeout"`
	InteractionTimeout time.Duration `json:"interaction_timeout"`
}

func DefaultExpirationPolicy() ExpirationPolicy {
	return ExpirationPolicy{TTL: time.Hour, DeliveryTimeout: 30 * time.Second, InteractionTimeout: 10 * time.Minute}
}

// Timing records when each lifecycle milestone happened.
type Timing struct {
	CreatedAt            time.Time  `json:"created_at"`
	ValidatedAt          *time.Time `json:"validated_at,omitempty"`
	QueuedAt             *time.Time `json:"queued_at,omitempty"`
	DeliveringAt         *time.Time `json:"delivering_at,omitempty"`
	DeliveredAt          *time.Time `json:"delivered_at,omitempty"`
	InteractionPendingAt *time.Time `json:"interaction_pending_at,omitempty"`
	CompletedAt          *time.Time `json:"completed_at,omitempty"`
}

// PlatformDeliveryStatus is the per-platform outcome recorded by the
// delivery worker's commit phase.
type PlatformDeliveryStatus int

const (
	PlatformPending PlatformDeliveryStatus = iota
	PlatformDelivered
	PlatformFailed
)

// PlatformState is the per-platform entry in platform_states.
type PlatformState struct {
	Status  PlatformDeliveryStatus `json:"status"`
	Receipt *DeliveryReceipt       `json:"receipt,omitempty"`
	Error   string                 `json:"error,omitempty"`
	Attempt int                    `json:"attempt"`
}

// DeliveryReceipt records a successful native submission.
type DeliveryReceipt struct {
	Platform       Platform          `json:"platform"`
	NativeID       string            `json:"native_id"`
	DeliveredAt    time.Time         `json:"delivered_at"`
	DeliveryLatency time.Duration    `json:"delivery_latency"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Lifecycle is the full lifecycle block of a notification record.
type Lifecycle struct {
	State          State                      `json:"state"`
	FailureDetails *ErrorDetails              `json:"failure_details,omitempty"`
	History        []Transition               `json:"history"`
	PlatformStates map[Platform]PlatformState `json:"platform_states"`
	Receipt        *DeliveryReceipt           `json:"receipt,omitempty"`
	Timing         Timing                     `json:"timing"`
	RetryPolicy    RetryPolicy                `json:"retry_policy"`
	Expiration     ExpirationPolicy           `json:"expiration"`
	Breaker        CircuitBreaker             `json:"circuit_breaker"`
}

// NewLifecycle builds the initial lifecycle block, recording the
// `{from:None, to:Created}` first history entry.
func NewLifecycle(now time.Time) Lifecycle {
	return Lifecycle{
		State: StateCreated,
		History: []Transition{{
			From:      -1,
			To:        StateCreated,
			Timestamp: now,
			Reason:    "Created",
		}},
		PlatformStates: make(map[Platform]PlatformState),
		RetryPolicy:    DefaultRetryPolicy(),
		Expiration:     DefaultExpirationPolicy(),
		Breaker:        DefaultCircuitBreaker(),
		Timing:         Timing{CreatedAt: now},
	}
}

// AppendHistory appends a transition, keeping the history bounded to
// MaxHistoryEntries by dropping the oldest entry first.
func (l *Lifecycle) AppendHistory(t Transition) {
	l.History = append(l.History, t)
	if len(l.History) > MaxHistoryEntries {
		l.History = l.History[len(l.History)-MaxHistoryEntries:]
	}
}

// IsExpired reports whether any expiration condition holds: absolute
// expiry, TTL elapsed, delivery timeout, or interaction timeout.
func (l *Lifecycle) IsExpired(now time.Time) bool {
	if l.Expiration.ExpiresAt != nil && !now.Before(*l.Expiration.ExpiresAt) {
		return true
	}
	if now.Sub(l.Timing.CreatedAt) >= l.Expiration.TTL {
		return true
	}
	if l.State == StateDelivering && l.Timing.DeliveringAt != nil && now.Sub(*l.Timing.DeliveringAt) >= l.Expiration.DeliveryTimeout {
		return true
	}
	if l.State == StateInteractionPending && l.Timing.InteractionPendingAt != nil && now.Sub(*l.Timing.InteractionPendingAt) >= l.Expiration.InteractionTimeout {
		return true
	}
	return false
}

// ShouldRetry reports whether a failed record may be re-attempted:
// Failed, not permanent, attempts remain, and the breaker is not open
// (or its timeout has elapsed).
func (l *Lifecycle) ShouldRetry(now time.Time) bool {
	if l.State != StateFailed {
		return false
	}
	if l.FailureDetails != nil && l.FailureDetails.IsPermanent {
		return false
	}
	if l.RetryPolicy.CurrentAttempt >= l.RetryPolicy.MaxAttempts {
		return false
	}
	switch l.Breaker.State {
	case BreakerOpen:
		if l.Breaker.OpenedAt == nil || now.Sub(*l.Breaker.OpenedAt) < l.Breaker.Timeout {
			return false
		}
		return true
	default:
		return true
	}
}
