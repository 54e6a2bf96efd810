package orchestrator

import (
	"context"
	"time"

	"notifyd/models"
)

// DefaultShutdownTimeout bounds the whole shutdown protocol unless the
// caller picks another deadline.
const DefaultShutdownTimeout = 30 * time.Second

// ShutdownKind classifies how the worker join ended.
type ShutdownKind int

const (
	ShutdownClean ShutdownKind = iota
	ShutdownWorkersPanicked
	ShutdownTimedOut
)

func (k ShutdownKind) String() string {
	switch k {
	case ShutdownClean:
		return "Clean"
	case ShutdownWorkersPanicked:
		return "WorkersPanicked"
	case ShutdownTimedOut:
		return "TimedOut"
	default:
		return "Unknown"
	}
}

// ShutdownMetrics is the state tally taken at step 1 of the protocol,
// plus the in-flight cancellation counts from step 2.
type ShutdownMetrics struct {
	Queued         int `json:"queued"`
	Delivering     int `json:"delivering"`
	Delivered      int `json:"delivered"`
	Failed         int `json:"failed"`
	Other          int `json:"other"`
	Cancellations  int `json:"cancellations"`
	CancelErrors   int `json:"cancel_errors"`
	WorkersPanicked int `json:"workers_panicked,omitempty"`
}

// ShutdownResult reports the outcome of the five-step protocol.
type ShutdownResult struct {
	Kind    ShutdownKind    `json:"kind"`
	Metrics ShutdownMetrics `json:"metrics"`
}

// Shutdown runs the five-step protocol: tally, cancel
// in-flight deliveries (2s per call, failures tallied but never
// aborting), broadcast the stop signal, join workers within what
// remains of the deadline, and clean the image cache.
func (w *Workers) Shutdown(timeout time.Duration) ShutdownResult {
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}
	started := w.now()
	deadline := started.Add(timeout)

	var m ShutdownMetrics
	type inflight struct {
		id        models.NotificationID
		platforms []models.Platform
	}
	var delivering []inflight
	w.store.Range(func(n *models.Notification) bool {
		switch n.Lifecycle.State {
		case models.StateQueued:
			m.Queued++
		case models.StateDelivering:
			m.Delivering++
			platforms := append([]models.Platform(nil), n.PlatformIntegration.TargetPlatforms...)
			delivering = append(delivering, inflight{id: n.Identity.ID, platforms: platforms})
		case models.StateDelivered:
			m.Delivered++
		case models.StateFailed:
			m.Failed++
		default:
			m.Other++
		}
		return true
	})

	for _, f := range delivering {
		for _, p := range f.platforms {
			backend, ok := w.backends[p]
			if !ok {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), w.cfg.CancelTimeout)
			if err := backend.Cancel(ctx, f.id); err != nil {
				m.CancelErrors++
				w.log.WarnCtx(ctx, "shutdown cancel failed",
					"notification_id", f.id.String(), "platform", string(p), "error", err.Error())
			} else {
				m.Cancellations++
			}
			cancel()
		}
	}

	if w.cancel != nil {
		w.cancel()
	}

	kind := ShutdownClean
	joined := make(chan struct{})
	go func() {
		w.retryWG.Wait()
		w.wg.Wait()
		close(joined)
	}()
	remaining := deadline.Sub(w.now())
	if remaining < 0 {
		remaining = 0
	}
	select {
	case <-joined:
		if n := w.panicked.Load(); n > 0 {
			kind = ShutdownWorkersPanicked
			m.WorkersPanicked = int(n)
		}
	case <-time.After(remaining):
		kind = ShutdownTimedOut
	}

	if w.images != nil {
		w.images.CleanupAll()
	}
	_ = w.tracer.Shutdown(context.Background())

	return ShutdownResult{Kind: kind, Metrics: m}
}
