package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notifyd/internal/auth"
	"notifyd/internal/backends"
	"notifyd/internal/imagecache"
	"notifyd/internal/lifecycle"
	"notifyd/internal/store"
	"notifyd/internal/telemetry/logging"
	"notifyd/internal/telemetry/metrics"
	"notifyd/internal/telemetry/tracing"
	"notifyd/models"
)

// fakeBackend is a scriptable platform adapter: it can succeed, fail,
// deny authorization, or block until cancelled to hold records in
// Delivering.
type fakeBackend struct {
	platform   models.Platform
	deliverErr error
	denyAuth   bool
	block      chan struct{} // non-nil: Deliver waits for close or ctx

	mu        sync.Mutex
	delivered []models.NotificationID
	requests  []models.NotificationRequest
	cancelled []models.NotificationID
}

func (f *fakeBackend) Platform() models.Platform { return f.platform }

func (f *fakeBackend) NegotiateCapabilities(ctx context.Context) (models.PlatformCapabilities, error) {
	return models.PlatformCapabilities{Platform: f.platform, CompatibilityLevel: models.CompatibilityFull}, nil
}

func (f *fakeBackend) Deliver(ctx context.Context, req models.NotificationRequest) (models.DeliveryReceipt, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return models.DeliveryReceipt{}, ctx.Err()
		}
	}
	if f.deliverErr != nil {
		return models.DeliveryReceipt{}, f.deliverErr
	}
	f.mu.Lock()
	f.delivered = append(f.delivered, req.NotificationID)
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return models.DeliveryReceipt{
		Platform:    f.platform,
		NativeID:    "42",
		DeliveredAt: time.Now(),
		Metadata:    map[string]string{"platform_api": "fake"},
	}, nil
}

func (f *fakeBackend) Update(ctx context.Context, id models.NotificationID, update models.NotificationUpdate) error {
	return nil
}

func (f *fakeBackend) Cancel(ctx context.Context, id models.NotificationID) error {
	f.mu.Lock()
	f.cancelled = append(f.cancelled, id)
	f.mu.Unlock()
	return nil
}

func (f *fakeBackend) RequestAuthorization(ctx context.Context) (models.AuthorizationState, error) {
	if f.denyAuth {
		now := time.Now()
		return models.AuthorizationState{Kind: models.AuthDenied, DeniedAt: &now, CanRetry: false}, nil
	}
	now := time.Now()
	return models.AuthorizationState{Kind: models.AuthAuthorized, GrantedAt: &now}, nil
}

func (f *fakeBackend) cancelCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cancelled)
}

func queuedRecord(platforms ...models.Platform) *models.Notification {
	now := time.Now()
	n := &models.Notification{
		Identity:            models.NewIdentity("session", "test", now),
		Content:             models.Content{Title: "Hello", Body: models.PlainText("World")},
		PlatformIntegration: models.PlatformIntegration{TargetPlatforms: platforms},
		Lifecycle:           models.NewLifecycle(now),
		Analytics:           models.NewAnalytics(),
	}
	lifecycle.Apply(&n.Lifecycle, models.StateValidating, "ValidationStarted", n.Identity.CorrelationID, now)
	lifecycle.Apply(&n.Lifecycle, models.StatePlatformRouting, "PlatformRoutingStarted", n.Identity.CorrelationID, now)
	lifecycle.Apply(&n.Lifecycle, models.StateQueued, "QueuedByAttentionManager", n.Identity.CorrelationID, now)
	return n
}

func fastConfig() Config {
	return Config{
		LifecycleTick: 5 * time.Millisecond,
		DeliveryTick:  5 * time.Millisecond,
		AnalyticsTick: 20 * time.Millisecond,
		CancelTimeout: 2 * time.Second,
	}
}

func newTestWorkers(t *testing.T, bk map[models.Platform]backends.Backend) (*Workers, *store.Store) {
	t.Helper()
	st := store.New(8)
	images, err := imagecache.New(t.TempDir())
	require.NoError(t, err)
	w := New(fastConfig(), st, bk, auth.New(), images,
		logging.New(slog.Default()), tracing.NewTracer(false), metrics.NewNoopProvider())
	return w, st
}

func stateOf(st *store.Store, id models.NotificationID) models.State {
	n := st.Get(id)
	if n == nil {
		return -1
	}
	var s models.State
	st.Mutate(id, func(rec *models.Notification) bool {
		s = rec.Lifecycle.State
		return true
	})
	return s
}

// Happy path, single platform: record reaches Delivered with a
// per-platform receipt.
func TestDeliverySinglePlatformHappyPath(t *testing.T) {
	linux := &fakeBackend{platform: models.PlatformLinux}
	w, st := newTestWorkers(t, map[models.Platform]backends.Backend{models.PlatformLinux: linux})
	n := queuedRecord(models.PlatformLinux)
	require.True(t, st.Insert(n))

	w.Start()
	defer w.Shutdown(5 * time.Second)

	require.Eventually(t, func() bool {
		return stateOf(st, n.Identity.ID) == models.StateDelivered
	}, 3*time.Second, 10*time.Millisecond)

	st.Mutate(n.Identity.ID, func(rec *models.Notification) bool {
		ps := rec.Lifecycle.PlatformStates[models.PlatformLinux]
		assert.Equal(t, models.PlatformDelivered, ps.Status)
		require.NotNil(t, ps.Receipt)
		assert.Equal(t, "42", ps.Receipt.NativeID)
		assert.NotNil(t, rec.Lifecycle.Timing.DeliveredAt)
		return true
	})
}

// The collect phase rewrites each per-platform request through the
// record's stored degradation strategy: over-limit actions are clamped
// and unsupported media dropped before the backend sees the request.
func TestDeliveryAppliesDegradationStrategy(t *testing.T) {
	win := &fakeBackend{platform: models.PlatformWindows}
	w, st := newTestWorkers(t, map[models.Platform]backends.Backend{models.PlatformWindows: win})

	n := queuedRecord(models.PlatformWindows)
	n.Content.Interactions.Actions = []models.NotificationAction{
		{ID: "a", Label: "A"}, {ID: "b", Label: "B"}, {ID: "c", Label: "C"},
	}
	n.Content.Media = []models.MediaAttachment{{Identifier: "hero", Image: models.ImageFromFile("/tmp/x.png")}}
	n.PlatformIntegration.Capabilities = map[models.Platform]models.PlatformCapabilities{
		models.PlatformWindows: {
			Platform:   models.PlatformWindows,
			Features:   map[models.Feature]bool{models.FeatureActions: true},
			MaxActions: 1,
		},
	}
	n.PlatformIntegration.Degradation = map[models.Platform]models.DegradationStrategy{
		models.PlatformWindows: {
			Platform:       models.PlatformWindows,
			ActionFallback: models.FallbackBatchIntoMenu,
			MediaFallback:  models.FallbackRemoveMedia,
			MarkupFallback: models.FallbackStripMarkup,
		},
	}
	require.True(t, st.Insert(n))

	w.Start()
	defer w.Shutdown(5 * time.Second)

	require.Eventually(t, func() bool {
		return stateOf(st, n.Identity.ID) == models.StateDelivered
	}, 3*time.Second, 10*time.Millisecond)

	win.mu.Lock()
	defer win.mu.Unlock()
	require.Len(t, win.requests, 1)
	assert.Len(t, win.requests[0].Content.Interactions.Actions, 1)
	assert.Empty(t, win.requests[0].Content.Media)
	// The stored record keeps the full content; only the frozen request
	// was rewritten.
	st.Mutate(n.Identity.ID, func(rec *models.Notification) bool {
		assert.Len(t, rec.Content.Interactions.Actions, 3)
		return true
	})
}

// Partial failure aggregates into Failed with one platform error while
// the successful platform keeps its Delivered state.
func TestDeliveryPartialFailureAggregatesFailed(t *testing.T) {
	mac := &fakeBackend{platform: models.PlatformMacOS}
	win := &fakeBackend{platform: models.PlatformWindows, deliverErr: errors.New("toast subsystem unavailable")}
	w, st := newTestWorkers(t, map[models.Platform]backends.Backend{
		models.PlatformMacOS:   mac,
		models.PlatformWindows: win,
	})
	n := queuedRecord(models.PlatformMacOS, models.PlatformWindows)
	n.Lifecycle.RetryPolicy.MaxAttempts = 0 // keep the record in Failed for inspection
	require.True(t, st.Insert(n))

	w.Start()
	defer w.Shutdown(5 * time.Second)

	require.Eventually(t, func() bool {
		return stateOf(st, n.Identity.ID) == models.StateFailed
	}, 3*time.Second, 10*time.Millisecond)

	st.Mutate(n.Identity.ID, func(rec *models.Notification) bool {
		assert.Equal(t, models.PlatformDelivered, rec.Lifecycle.PlatformStates[models.PlatformMacOS].Status)
		assert.Equal(t, models.PlatformFailed, rec.Lifecycle.PlatformStates[models.PlatformWindows].Status)
		require.NotNil(t, rec.Lifecycle.FailureDetails)
		assert.Len(t, rec.Lifecycle.FailureDetails.PlatformErrors, 1)
		return true
	})
}

// Shutdown cancels in-flight deliveries: one Cancel per notification
// per target platform, workers join cleanly, image cache cleared.
func TestShutdownCancelsInFlight(t *testing.T) {
	block := make(chan struct{})
	linux := &fakeBackend{platform: models.PlatformLinux, block: block}
	w, st := newTestWorkers(t, map[models.Platform]backends.Backend{models.PlatformLinux: linux})

	ids := make([]models.NotificationID, 0, 3)
	for i := 0; i < 3; i++ {
		n := queuedRecord(models.PlatformLinux)
		require.True(t, st.Insert(n))
		ids = append(ids, n.Identity.ID)
	}

	w.Start()
	require.Eventually(t, func() bool {
		for _, id := range ids {
			if stateOf(st, id) != models.StateDelivering {
				return false
			}
		}
		return true
	}, 3*time.Second, 10*time.Millisecond)

	result := w.Shutdown(10 * time.Second)
	assert.Equal(t, ShutdownClean, result.Kind)
	assert.Equal(t, 3, result.Metrics.Delivering)
	assert.Equal(t, 3, result.Metrics.Cancellations)
	assert.Zero(t, result.Metrics.CancelErrors)
	assert.Equal(t, 3, linux.cancelCount())
	assert.Zero(t, w.images.Len())
}

// Failed deliveries are retried with backoff until MaxAttempts, then
// stay Failed.
func TestRetryUntilMaxAttempts(t *testing.T) {
	linux := &fakeBackend{platform: models.PlatformLinux, deliverErr: errors.New("bus gone")}
	w, st := newTestWorkers(t, map[models.Platform]backends.Backend{models.PlatformLinux: linux})
	n := queuedRecord(models.PlatformLinux)
	n.Lifecycle.RetryPolicy = models.RetryPolicy{
		MaxAttempts: 2,
		Backoff:     models.BackoffFixed,
		Base:        time.Millisecond,
		Max:         5 * time.Millisecond,
	}
	require.True(t, st.Insert(n))

	w.Start()
	defer w.Shutdown(5 * time.Second)

	require.Eventually(t, func() bool {
		var attempts int
		var state models.State
		st.Mutate(n.Identity.ID, func(rec *models.Notification) bool {
			attempts = rec.Lifecycle.RetryPolicy.CurrentAttempt
			state = rec.Lifecycle.State
			return true
		})
		return attempts == 2 && state == models.StateFailed
	}, 3*time.Second, 10*time.Millisecond)

	// Give the workers a few more ticks: attempts must not exceed max.
	time.Sleep(100 * time.Millisecond)
	st.Mutate(n.Identity.ID, func(rec *models.Notification) bool {
		assert.LessOrEqual(t, rec.Lifecycle.RetryPolicy.CurrentAttempt, rec.Lifecycle.RetryPolicy.MaxAttempts)
		assert.Equal(t, models.StateFailed, rec.Lifecycle.State)
		return true
	})
}

// Authorization denial is a permanent per-platform failure and is not
// retried.
func TestAuthorizationDenialIsPermanent(t *testing.T) {
	mac := &fakeBackend{platform: models.PlatformMacOS, denyAuth: true}
	w, st := newTestWorkers(t, map[models.Platform]backends.Backend{models.PlatformMacOS: mac})
	n := queuedRecord(models.PlatformMacOS)
	require.True(t, st.Insert(n))

	w.Start()
	defer w.Shutdown(5 * time.Second)

	require.Eventually(t, func() bool {
		return stateOf(st, n.Identity.ID) == models.StateFailed
	}, 3*time.Second, 10*time.Millisecond)

	st.Mutate(n.Identity.ID, func(rec *models.Notification) bool {
		require.NotNil(t, rec.Lifecycle.FailureDetails)
		assert.True(t, rec.Lifecycle.FailureDetails.IsPermanent)
		assert.Equal(t, "Authorization required", rec.Lifecycle.FailureDetails.PlatformErrors[string(models.PlatformMacOS)])
		assert.False(t, rec.Lifecycle.ShouldRetry(time.Now()))
		return true
	})
}

// Queued records past their TTL are expired by the lifecycle monitor.
func TestLifecycleMonitorExpiresStaleRecords(t *testing.T) {
	// No backend for the platform: the record would fail delivery, but
	// TTL expiry should win first since the TTL is already elapsed.
	w, st := newTestWorkers(t, map[models.Platform]backends.Backend{})
	n := queuedRecord(models.PlatformLinux)
	n.Lifecycle.Timing.CreatedAt = time.Now().Add(-2 * time.Hour)
	require.True(t, st.Insert(n))

	w.Start()
	defer w.Shutdown(5 * time.Second)

	require.Eventually(t, func() bool {
		s := stateOf(st, n.Identity.ID)
		return s == models.StateExpired || s == models.StateFailed
	}, 3*time.Second, 10*time.Millisecond)
}

// The analytics aggregator recomputes derived metrics without
// disturbing delivery state.
func TestAnalyticsAggregatorUpdatesMetrics(t *testing.T) {
	linux := &fakeBackend{platform: models.PlatformLinux}
	w, st := newTestWorkers(t, map[models.Platform]backends.Backend{models.PlatformLinux: linux})
	n := queuedRecord(models.PlatformLinux)
	require.True(t, st.Insert(n))

	w.Start()
	defer w.Shutdown(5 * time.Second)

	require.Eventually(t, func() bool {
		var count int
		st.Mutate(n.Identity.ID, func(rec *models.Notification) bool {
			count = rec.Analytics.Performance.TransitionCount
			return true
		})
		return count >= 4 // Created + the three submission/delivery transitions
	}, 3*time.Second, 10*time.Millisecond)

	// Once delivered, the per-platform breakdown carries the receipt's
	// latency bucket.
	require.Eventually(t, func() bool {
		var buckets map[string]int
		st.Mutate(n.Identity.ID, func(rec *models.Notification) bool {
			buckets = rec.Analytics.PerPlatform[models.PlatformLinux].DeliveryLatencyBuckets
			return true
		})
		return len(buckets) == 1
	}, 3*time.Second, 10*time.Millisecond)
}
