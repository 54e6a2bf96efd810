package models

import "time"

// PerformanceMetrics tracks timing counters updated by the analytics
// aggregator; never read by the delivery path.
type PerformanceMetrics struct {
	TransitionCount  int           `json:"transition_count"`
	TimeToDeliver    time.Duration `json:"time_to_deliver,omitempty"`
	TimeToInteract   time.Duration `json:"time_to_interact,omitempty"`
	RetryCount       int           `json:"retry_count"`
}

// UserBehavior tracks interaction-derived signals.
type UserBehavior struct {
	Opened      bool `json:"opened"`
	Dismissed   bool `json:"dismissed"`
	ActionsTaken int `json:"actions_taken"`
}

// PlatformAnalytics is the per-platform analytics breakdown:
// delivery latency histogram buckets and interaction counts.
type PlatformAnalytics struct {
	DeliveryLatencyBuckets map[string]int `json:"delivery_latency_buckets,omitempty"`
	InteractionCount       int            `json:"interaction_count"`
}

// ErrorAnalytics tracks failure counts by kind for this record.
type ErrorAnalytics struct {
	FailureCountByKind map[string]int `json:"failure_count_by_kind,omitempty"`
}

// Analytics bundles the record's own analytics block.
type Analytics struct {
	Performance         PerformanceMetrics           `json:"performance"`
	Behavior            UserBehavior                 `json:"behavior"`
	PerPlatform         map[Platform]PlatformAnalytics `json:"per_platform,omitempty"`
	Errors              ErrorAnalytics               `json:"errors"`
	EffectivenessScore  float64                      `json:"effectiveness_score"`
}

func NewAnalytics() Analytics {
	return Analytics{PerPlatform: make(map[Platform]PlatformAnalytics)}
}

// CalculateEffectivenessScore is a simple composite used by the
// analytics aggregator: opened notifications score higher, dismissed
// ones lower, weighted by actions taken.
func (a *Analytics) CalculateEffectivenessScore() float64 {
	score := 0.0
	if a.Behavior.Opened {
		score += 0.6
	}
	if a.Behavior.Dismissed {
		score -= 0.2
	}
	score += float64(a.Behavior.ActionsTaken) * 0.1
	if score < 0 {
		score = 0
	}
	a.EffectivenessScore = score
	return score
}

// UpdateMetrics recomputes derived fields, including the per-platform
// breakdown from the delivery receipts. Called by the analytics
// aggregator once per second per record; every field is recomputed
// from scratch so repeated calls are idempotent.
func (a *Analytics) UpdateMetrics(l *Lifecycle) {
	a.Performance.TransitionCount = len(l.History)
	a.Performance.RetryCount = l.RetryPolicy.CurrentAttempt
	if l.Timing.DeliveredAt != nil {
		a.Performance.TimeToDeliver = l.Timing.DeliveredAt.Sub(l.Timing.CreatedAt)
	}
	if a.PerPlatform == nil {
		a.PerPlatform = make(map[Platform]PlatformAnalytics)
	}
	for p, ps := range l.PlatformStates {
		pa := PlatformAnalytics{InteractionCount: a.Behavior.ActionsTaken}
		if ps.Receipt != nil {
			pa.DeliveryLatencyBuckets = map[string]int{
				latencyBucket(ps.Receipt.DeliveryLatency): 1,
			}
		}
		a.PerPlatform[p] = pa
	}
}

// latencyBucket coarsens a delivery latency into the histogram bucket
// labels the per-platform breakdown reports.
func latencyBucket(d time.Duration) string {
	switch {
	case d < 50*time.Millisecond:
		return "<50ms"
	case d < 250*time.Millisecond:
		return "50ms-250ms"
	case d < time.Second:
		return "250ms-1s"
	default:
		return ">=1s"
	}
}
