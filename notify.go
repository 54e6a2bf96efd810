// Package notifyd is a cross-platform desktop notification dispatcher:
// applications submit structured notification requests, the Manager
// validates them, negotiates platform capabilities, routes delivery to
// the native backends present on the host (macOS UserNotifications,
// Windows toasts, Linux D-Bus org.freedesktop.Notifications), tracks
// per-notification lifecycle state, and reports receipts, errors, and
// analytics.
package notifyd

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"notifyd/internal/auth"
	"notifyd/internal/backends"
	"notifyd/internal/capability"
	"notifyd/internal/imagecache"
	"notifyd/internal/lifecycle"
	"notifyd/internal/orchestrator"
	"notifyd/internal/sanitize"
	"notifyd/internal/store"
	"notifyd/internal/telemetry/logging"
	"notifyd/internal/telemetry/metrics"
	"notifyd/internal/telemetry/tracing"
	"notifyd/models"
)

// ShutdownResult re-exports the orchestrator's shutdown outcome for
// embedders that never import internal packages.
type ShutdownResult = orchestrator.ShutdownResult

// Manager composes the store, the platform backends, the image cache,
// and the three background workers behind a single facade.
type Manager struct {
	cfg       Config
	store     *store.Store
	images    *imagecache.Cache
	sanitizer sanitize.Sanitizer
	backends  map[models.Platform]backends.Backend
	auth      *auth.Cache
	workers   *orchestrator.Workers
	log       logging.Logger
	tracer    *tracing.Tracer
	metrics   metrics.Provider

	capsMu sync.Mutex
	caps   map[models.Platform]models.PlatformCapabilities

	metricsSrv   *http.Server
	shutdownOnce sync.Once
	shutdownRes  ShutdownResult
	startedAt    time.Time
}

// Option customizes Manager construction.
type Option func(*Manager)

// WithBackends replaces the OS-detected backend set; tests and hosts
// with custom delivery paths use this.
func WithBackends(b map[models.Platform]backends.Backend) Option {
	return func(m *Manager) { m.backends = b }
}

// WithSanitizer substitutes the HTML projection collaborator.
func WithSanitizer(s sanitize.Sanitizer) Option {
	return func(m *Manager) { m.sanitizer = s }
}

// WithLogger substitutes the structured logger.
func WithLogger(l logging.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// New builds a Manager and spawns its three workers.
func New(cfg Config, opts ...Option) (*Manager, error) {
	m := &Manager{
		cfg:       cfg,
		store:     store.New(cfg.StoreShards),
		sanitizer: sanitize.NewDefault(),
		auth:      auth.New(),
		caps:      make(map[models.Platform]models.PlatformCapabilities),
		startedAt: time.Now(),
	}
	m.log = logging.New(slog.Default())
	m.tracer = tracing.NewTracer(cfg.TracingEnabled)
	if cfg.MetricsEnabled {
		m.metrics = metrics.NewProvider(cfg.MetricsBackend)
	} else {
		m.metrics = metrics.NewNoopProvider()
	}

	images, err := imagecache.New(cfg.CacheDir)
	if err != nil {
		return nil, err
	}
	m.images = images

	for _, opt := range opts {
		opt(m)
	}
	if m.backends == nil {
		m.backends = backends.ForCurrentOS(backends.FactoryConfig{
			AppName:  cfg.AppName,
			AppID:    cfg.AppID,
			BundleID: cfg.BundleID,
		}, m.images, m.sanitizer)
	}

	m.workers = orchestrator.New(orchestrator.Config{
		LifecycleTick: cfg.LifecycleTick,
		DeliveryTick:  cfg.DeliveryTick,
		AnalyticsTick: cfg.AnalyticsTick,
		CancelTimeout: cfg.CancelTimeout,
	}, m.store, m.backends, m.auth, m.images, m.log, m.tracer, m.metrics)
	m.workers.Start()

	if cfg.MetricsEnabled && cfg.PrometheusListenAddr != "" {
		if prom, ok := m.metrics.(*metrics.PrometheusProvider); ok {
			mux := http.NewServeMux()
			mux.Handle("/metrics", prom.MetricsHandler())
			m.metricsSrv = &http.Server{Addr: cfg.PrometheusListenAddr, Handler: mux}
			go func() { _ = m.metricsSrv.ListenAndServe() }()
		}
	}
	return m, nil
}

// Send validates, capability-checks, and enqueues a built notification,
// returning a Handle for status queries. Builder errors never reach
// here; Send's own failures (duplicate id, critical capability gap)
// leave the store consistent.
func (m *Manager) Send(ctx context.Context, n *models.Notification) (*Handle, error) {
	if n == nil {
		return nil, models.ErrMissingContent
	}
	if len(n.PlatformIntegration.TargetPlatforms) == 0 {
		return nil, models.ErrNoTargetPlatform
	}
	if !m.store.Insert(n) {
		return nil, models.NewValidationError("duplicate notification id: "+n.Identity.ID.String(), nil)
	}

	ctx, span := m.tracer.StartSpan(ctx, "send", n.Identity.CorrelationID)
	defer span.End()

	id := n.Identity.ID
	now := time.Now()
	m.store.Mutate(id, func(rec *models.Notification) bool {
		return lifecycle.Apply(&rec.Lifecycle, models.StateValidating, "ValidationStarted", rec.Identity.CorrelationID, now)
	})

	caps := m.negotiatedCapabilities(ctx, n.PlatformIntegration.TargetPlatforms)
	matrix := capability.BuildMatrix(caps)

	degradation := make(map[models.Platform]models.DegradationStrategy, len(caps))
	var criticalErr error
	for p, c := range caps {
		strategy, err := capability.Decide(p, c, matrix, m.cfg.CriticalFeatures, m.cfg.FailOnCriticalUnsupported)
		degradation[p] = strategy
		if err != nil && criticalErr == nil {
			criticalErr = err
		}
	}

	m.store.Mutate(id, func(rec *models.Notification) bool {
		rec.PlatformIntegration.Capabilities = caps
		rec.PlatformIntegration.Degradation = degradation
		return true
	})

	if criticalErr != nil {
		m.store.Mutate(id, func(rec *models.Notification) bool {
			details := models.NewErrorDetails("CriticalUnsupported")
			details.IsPermanent = true
			return lifecycle.Fail(&rec.Lifecycle, details, "CriticalUnsupported", rec.Identity.CorrelationID, time.Now())
		})
		return nil, models.NewValidationError("critical features unsupported", criticalErr)
	}

	now = time.Now()
	m.store.Mutate(id, func(rec *models.Notification) bool {
		if !lifecycle.Apply(&rec.Lifecycle, models.StatePlatformRouting, "PlatformRoutingStarted", rec.Identity.CorrelationID, now) {
			return false
		}
		return lifecycle.Apply(&rec.Lifecycle, models.StateQueued, "QueuedByAttentionManager", rec.Identity.CorrelationID, now)
	})

	m.log.InfoCtx(ctx, "notification queued",
		"notification_id", id.String(),
		"correlation_id", string(n.Identity.CorrelationID),
		"platforms", len(n.PlatformIntegration.TargetPlatforms))
	return &Handle{id: id, store: m.store}, nil
}

// negotiatedCapabilities memoizes one NegotiateCapabilities call per
// backend for the Manager's lifetime; platforms without a backend get
// a compatibility_level=None entry.
func (m *Manager) negotiatedCapabilities(ctx context.Context, platforms []models.Platform) map[models.Platform]models.PlatformCapabilities {
	out := make(map[models.Platform]models.PlatformCapabilities, len(platforms))
	for _, p := range platforms {
		m.capsMu.Lock()
		cached, ok := m.caps[p]
		m.capsMu.Unlock()
		if ok {
			out[p] = cached
			continue
		}
		backend, present := m.backends[p]
		if !present {
			out[p] = models.PlatformCapabilities{Platform: p, CompatibilityLevel: models.CompatibilityNone}
			continue
		}
		negCtx, span := m.tracer.StartSpan(ctx, "negotiate_capabilities", "")
		caps, err := backend.NegotiateCapabilities(negCtx)
		span.End()
		if err != nil {
			caps = models.PlatformCapabilities{Platform: p, CompatibilityLevel: models.CompatibilityNone}
		}
		m.capsMu.Lock()
		m.caps[p] = caps
		m.capsMu.Unlock()
		out[p] = caps
	}
	return out
}

// Track returns the current Status snapshot for id, or nil if the
// record is not stored.
func (m *Manager) Track(id models.NotificationID) *models.Status {
	h := Handle{id: id, store: m.store}
	return h.Status()
}

// HandleFor returns a fresh Handle for an already-submitted id.
func (m *Manager) HandleFor(id models.NotificationID) *Handle {
	return &Handle{id: id, store: m.store}
}

// Update pushes content changes to every platform the notification was
// delivered on and transitions Delivered -> Updated.
func (m *Manager) Update(ctx context.Context, id models.NotificationID, update models.NotificationUpdate) error {
	var platforms []models.Platform
	found := m.store.Mutate(id, func(rec *models.Notification) bool {
		for p, ps := range rec.Lifecycle.PlatformStates {
			if ps.Status == models.PlatformDelivered {
				platforms = append(platforms, p)
			}
		}
		return true
	})
	if !found {
		return models.NewValidationError("unknown notification id: "+id.String(), nil)
	}
	var firstErr error
	for _, p := range platforms {
		backend, ok := m.backends[p]
		if !ok {
			continue
		}
		if err := backend.Update(ctx, id, update); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	now := time.Now()
	m.store.Mutate(id, func(rec *models.Notification) bool {
		return lifecycle.Apply(&rec.Lifecycle, models.StateUpdated, "ContentUpdated", rec.Identity.CorrelationID, now)
	})
	return firstErr
}

// Cancel cancels the notification on every backend holding it and
// transitions the record to Cancelled where the table allows.
func (m *Manager) Cancel(ctx context.Context, id models.NotificationID) error {
	var platforms []models.Platform
	found := m.store.Mutate(id, func(rec *models.Notification) bool {
		platforms = append(platforms, rec.PlatformIntegration.TargetPlatforms...)
		return true
	})
	if !found {
		return models.NewValidationError("unknown notification id: "+id.String(), nil)
	}
	var firstErr error
	for _, p := range platforms {
		backend, ok := m.backends[p]
		if !ok {
			continue
		}
		if err := backend.Cancel(ctx, id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	now := time.Now()
	m.store.Mutate(id, func(rec *models.Notification) bool {
		return lifecycle.Apply(&rec.Lifecycle, models.StateCancelled, "CancelledByCaller", rec.Identity.CorrelationID, now)
	})
	return firstErr
}

// Snapshot is a unified view of manager state for diagnostics.
type Snapshot struct {
	StartedAt time.Time      `json:"started_at"`
	Uptime    time.Duration  `json:"uptime"`
	Stored    int            `json:"stored"`
	ByState   map[string]int `json:"by_state"`
}

// SnapshotState tallies the store by lifecycle state.
func (m *Manager) SnapshotState() Snapshot {
	byState := make(map[string]int)
	m.store.Range(func(n *models.Notification) bool {
		byState[n.Lifecycle.State.String()]++
		return true
	})
	return Snapshot{
		StartedAt: m.startedAt,
		Uptime:    time.Since(m.startedAt),
		Stored:    m.store.Len(),
		ByState:   byState,
	}
}

// Shutdown runs the shutdown protocol with the configured default
// timeout.
func (m *Manager) Shutdown() ShutdownResult {
	return m.ShutdownWithTimeout(m.cfg.ShutdownTimeout)
}

// ShutdownWithTimeout runs the five-step shutdown protocol; safe to
// call more than once (subsequent calls return the first result).
func (m *Manager) ShutdownWithTimeout(d time.Duration) ShutdownResult {
	m.shutdownOnce.Do(func() {
		m.shutdownRes = m.workers.Shutdown(d)
		if m.metricsSrv != nil {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			_ = m.metricsSrv.Shutdown(ctx)
			cancel()
		}
	})
	return m.shutdownRes
}
