// Package orchestrator runs the Notification Manager's three
// background workers — lifecycle monitor, delivery worker, analytics
// aggregator — over the shared store, plus the coordinated shutdown
// protocol. Each worker is a ticker-driven goroutine selecting on
// ctx.Done and joined through a WaitGroup; the delivery tick runs
// collect/transition/deliver/commit so no store lock is ever held
// across a backend call.
package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

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

// Config tunes worker cadence and shutdown timing.
type Config struct {
	LifecycleTick time.Duration // default 100ms
	DeliveryTick  time.Duration // default 50ms
	AnalyticsTick time.Duration // default 1s
	CancelTimeout time.Duration // per-backend cancel call during shutdown, default 2s
}

// Defaults returns the standard worker cadence.
func Defaults() Config {
	return Config{
		LifecycleTick: 100 * time.Millisecond,
		DeliveryTick:  50 * time.Millisecond,
		AnalyticsTick: time.Second,
		CancelTimeout: 2 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := Defaults()
	if c.LifecycleTick <= 0 {
		c.LifecycleTick = d.LifecycleTick
	}
	if c.DeliveryTick <= 0 {
		c.DeliveryTick = d.DeliveryTick
	}
	if c.AnalyticsTick <= 0 {
		c.AnalyticsTick = d.AnalyticsTick
	}
	if c.CancelTimeout <= 0 {
		c.CancelTimeout = d.CancelTimeout
	}
	return c
}

// Workers owns the three background goroutines. Records never hold a
// reference back to Workers; the Manager joins Workers inside Shutdown
// before dropping its store reference.
type Workers struct {
	cfg      Config
	store    *store.Store
	backends map[models.Platform]backends.Backend
	auth     *auth.Cache
	images   *imagecache.Cache
	log      logging.Logger
	tracer   *tracing.Tracer
	now      func() time.Time

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	retryWG  sync.WaitGroup
	panicked atomic.Int64

	retryMu      sync.Mutex
	retryPending map[models.NotificationID]bool

	deliveries      metrics.Counter
	deliveryLatency metrics.Histogram
	transitions     metrics.Counter
	effectiveness   metrics.Histogram
	storedGauge     metrics.Gauge
}

// New wires a Workers set; Start must be called to spawn the
// goroutines.
func New(cfg Config, st *store.Store, bk map[models.Platform]backends.Backend, authCache *auth.Cache, images *imagecache.Cache, log logging.Logger, tracer *tracing.Tracer, provider metrics.Provider) *Workers {
	if provider == nil {
		provider = metrics.NewNoopProvider()
	}
	if tracer == nil {
		tracer = tracing.NewTracer(false)
	}
	w := &Workers{
		cfg:          cfg.withDefaults(),
		store:        st,
		backends:     bk,
		auth:         authCache,
		images:       images,
		log:          log,
		tracer:       tracer,
		now:          time.Now,
		retryPending: make(map[models.NotificationID]bool),
	}
	w.deliveries = provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{
		Namespace: metrics.Namespace, Subsystem: "delivery", Name: "attempts_total",
		Help: "delivery attempts by platform and outcome", Labels: []string{"platform", "outcome"},
	}})
	w.deliveryLatency = provider.NewHistogram(metrics.HistogramOpts{CommonOpts: metrics.CommonOpts{
		Namespace: metrics.Namespace, Subsystem: "delivery", Name: "latency_seconds",
		Help: "native delivery latency", Labels: []string{"platform"},
	}})
	w.transitions = provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{
		Namespace: metrics.Namespace, Subsystem: "lifecycle", Name: "transitions_total",
		Help: "accepted lifecycle transitions", Labels: []string{"to"},
	}})
	w.effectiveness = provider.NewHistogram(metrics.HistogramOpts{CommonOpts: metrics.CommonOpts{
		Namespace: metrics.Namespace, Subsystem: "analytics", Name: "effectiveness_score",
		Help: "per-record effectiveness scores observed by the aggregator",
	}, Buckets: []float64{0.1, 0.25, 0.5, 0.75, 1.0, 1.5}})
	w.storedGauge = provider.NewGauge(metrics.GaugeOpts{CommonOpts: metrics.CommonOpts{
		Namespace: metrics.Namespace, Subsystem: "store", Name: "records",
		Help: "records currently held by the store",
	}})
	return w
}

// Start spawns the three workers.
func (w *Workers) Start() {
	w.ctx, w.cancel = context.WithCancel(context.Background())
	w.wg.Add(3)
	go w.run("lifecycle-monitor", w.cfg.LifecycleTick, w.lifecycleTick)
	go w.run("delivery-worker", w.cfg.DeliveryTick, w.deliveryTick)
	go w.run("analytics-aggregator", w.cfg.AnalyticsTick, w.analyticsTick)
}

func (w *Workers) run(name string, interval time.Duration, tick func(ctx context.Context)) {
	defer w.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			w.panicked.Add(1)
			w.log.ErrorCtx(context.Background(), "worker panicked", "worker", name, "panic", r)
		}
	}()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			tick(w.ctx)
		}
	}
}

// applyTransition runs a table-checked transition under the entry lock
// and bumps the transition counter on acceptance.
func (w *Workers) applyTransition(n *models.Notification, to models.State, reason string, now time.Time) bool {
	if !lifecycle.Apply(&n.Lifecycle, to, reason, n.Identity.CorrelationID, now) {
		return false
	}
	w.transitions.Inc(1, to.String())
	return true
}

// lifecycleTick is the 100ms pass: refresh breakers, expire, and
// schedule retries.
func (w *Workers) lifecycleTick(ctx context.Context) {
	now := w.now()
	ids := w.collectIDs()
	for _, id := range ids {
		var retryPolicy models.RetryPolicy
		var attempt int
		schedule := false
		w.store.Mutate(id, func(n *models.Notification) bool {
			lifecycle.RefreshBreaker(&n.Lifecycle.Breaker, now)
			if n.Lifecycle.IsExpired(now) && models.CanTransition(n.Lifecycle.State, models.StateExpired) {
				w.applyTransition(n, models.StateExpired, "Expiration", now)
				return true
			}
			if n.Lifecycle.ShouldRetry(now) && !w.retryScheduled(id) {
				n.Lifecycle.RetryPolicy.CurrentAttempt++
				retryPolicy = n.Lifecycle.RetryPolicy
				attempt = n.Lifecycle.RetryPolicy.CurrentAttempt
				schedule = true
			}
			return true
		})
		if schedule {
			delay := lifecycle.NextDelay(retryPolicy, attempt)
			w.scheduleRetry(id, delay)
		}
	}
}

func (w *Workers) retryScheduled(id models.NotificationID) bool {
	w.retryMu.Lock()
	defer w.retryMu.Unlock()
	return w.retryPending[id]
}

// scheduleRetry requeues a Failed record after delay from its own
// timer goroutine.
func (w *Workers) scheduleRetry(id models.NotificationID, delay time.Duration) {
	w.retryMu.Lock()
	if w.retryPending[id] {
		w.retryMu.Unlock()
		return
	}
	w.retryPending[id] = true
	w.retryMu.Unlock()

	w.retryWG.Add(1)
	go func() {
		defer w.retryWG.Done()
		defer func() {
			w.retryMu.Lock()
			delete(w.retryPending, id)
			w.retryMu.Unlock()
		}()
		if delay > 0 {
			timer := time.NewTimer(delay)
			defer timer.Stop()
			select {
			case <-w.ctx.Done():
				return
			case <-timer.C:
			}
		}
		now := w.now()
		w.store.Mutate(id, func(n *models.Notification) bool {
			if n.Lifecycle.State != models.StateFailed {
				return false
			}
			if !w.applyTransition(n, models.StatePlatformRouting, "RetryScheduled", now) {
				return false
			}
			return w.applyTransition(n, models.StateQueued, "RetryRequeued", now)
		})
	}()
}

// analyticsTick is the 1s pass: recompute derived metrics and record
// non-zero effectiveness scores.
func (w *Workers) analyticsTick(ctx context.Context) {
	ids := w.collectIDs()
	for _, id := range ids {
		w.store.Mutate(id, func(n *models.Notification) bool {
			n.Analytics.UpdateMetrics(&n.Lifecycle)
			if score := n.Analytics.CalculateEffectivenessScore(); score > 0 {
				w.effectiveness.Observe(score)
			}
			return true
		})
	}
	w.storedGauge.Set(float64(w.store.Len()))
}

func (w *Workers) collectIDs() []models.NotificationID {
	ids := make([]models.NotificationID, 0, w.store.Len())
	w.store.Range(func(n *models.Notification) bool {
		ids = append(ids, n.Identity.ID)
		return true
	})
	return ids
}
