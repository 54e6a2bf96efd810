package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateMetricsPopulatesPerPlatform(t *testing.T) {
	now := time.Now()
	l := NewLifecycle(now)
	l.PlatformStates[PlatformLinux] = PlatformState{
		Status: PlatformDelivered,
		Receipt: &DeliveryReceipt{
			Platform:        PlatformLinux,
			NativeID:        "42",
			DeliveredAt:     now,
			DeliveryLatency: 120 * time.Millisecond,
		},
	}
	l.PlatformStates[PlatformWindows] = PlatformState{Status: PlatformFailed, Error: "boom"}

	a := NewAnalytics()
	a.Behavior.ActionsTaken = 2
	a.UpdateMetrics(&l)

	linux := a.PerPlatform[PlatformLinux]
	require.NotNil(t, linux.DeliveryLatencyBuckets)
	assert.Equal(t, 1, linux.DeliveryLatencyBuckets["50ms-250ms"])
	assert.Equal(t, 2, linux.InteractionCount)

	// A failed platform has no receipt and therefore no buckets.
	assert.Nil(t, a.PerPlatform[PlatformWindows].DeliveryLatencyBuckets)

	// Recomputation is idempotent: a second pass does not inflate counts.
	a.UpdateMetrics(&l)
	assert.Equal(t, 1, a.PerPlatform[PlatformLinux].DeliveryLatencyBuckets["50ms-250ms"])
}

func TestLatencyBucketBoundaries(t *testing.T) {
	assert.Equal(t, "<50ms", latencyBucket(10*time.Millisecond))
	assert.Equal(t, "50ms-250ms", latencyBucket(50*time.Millisecond))
	assert.Equal(t, "250ms-1s", latencyBucket(500*time.Millisecond))
	assert.Equal(t, ">=1s", latencyBucket(2*time.Second))
}

func TestEffectivenessScore(t *testing.T) {
	a := NewAnalytics()
	assert.Zero(t, a.CalculateEffectivenessScore())
	a.Behavior.Opened = true
	a.Behavior.ActionsTaken = 1
	assert.InDelta(t, 0.7, a.CalculateEffectivenessScore(), 0.001)
	a.Behavior.Dismissed = true
	assert.InDelta(t, 0.5, a.CalculateEffectivenessScore(), 0.001)
}
