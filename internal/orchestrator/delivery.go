package orchestrator

import (
	"context"

	"notifyd/internal/capability"
	"notifyd/internal/lifecycle"
	"notifyd/models"
)

// deliveryJob is one (id, platform) pair frozen during the collect
// phase. The request copy is taken under the entry lock and never
// touched again by anything holding a lock.
type deliveryJob struct {
	id         models.NotificationID
	platform   models.Platform
	req        models.NotificationRequest
	authorized bool
}

// deliveryOutcome is what the deliver phase buffers for the commit
// phase.
type deliveryOutcome struct {
	job     deliveryJob
	receipt models.DeliveryReceipt
	err     error
}

// deliveryTick runs four phases: collect (lock-free
// iterate), transition (per-entry), deliver (no locks held), commit
// (per-entry).
func (w *Workers) deliveryTick(ctx context.Context) {
	jobs := w.collectPhase()
	if len(jobs) == 0 {
		return
	}
	jobs = w.transitionPhase(jobs)
	outcomes := w.deliverPhase(ctx, jobs)
	w.commitPhase(outcomes)
}

// collectPhase snapshots every (id, platform) pair whose entry is
// Queued and whose platform state is absent or not yet Delivered,
// freezing a per-platform NotificationRequest copy — rewritten through
// the record's degradation strategy so over-limit actions, markup, and
// media are clamped to what the platform negotiated — plus the cached
// authorization status for each.
func (w *Workers) collectPhase() []deliveryJob {
	var jobs []deliveryJob
	w.store.Range(func(n *models.Notification) bool {
		if n.Lifecycle.State != models.StateQueued {
			return true
		}
		options := models.DeliveryOptions{
			DeliveryTimeoutMillis: n.Lifecycle.Expiration.DeliveryTimeout.Milliseconds(),
		}
		for _, p := range n.PlatformIntegration.TargetPlatforms {
			if ps, ok := n.Lifecycle.PlatformStates[p]; ok && ps.Status == models.PlatformDelivered {
				continue
			}
			content := n.Content
			if caps, ok := n.PlatformIntegration.Capabilities[p]; ok {
				if strategy, ok := n.PlatformIntegration.Degradation[p]; ok {
					content = capability.Apply(content, caps, strategy)
				}
			}
			jobs = append(jobs, deliveryJob{
				id:       n.Identity.ID,
				platform: p,
				req: models.NotificationRequest{
					NotificationID: n.Identity.ID,
					Content:        content,
					Options:        options,
					CorrelationID:  n.Identity.CorrelationID,
				},
				authorized: w.auth.IsAuthorized(p),
			})
		}
		return true
	})
	return jobs
}

// transitionPhase moves each collected entry to Delivering. Jobs whose
// entry refused the transition (raced into another state since
// collect) are dropped.
func (w *Workers) transitionPhase(jobs []deliveryJob) []deliveryJob {
	now := w.now()
	moved := make(map[models.NotificationID]bool)
	kept := jobs[:0]
	for _, j := range jobs {
		ok, seen := moved[j.id]
		if !seen {
			ok = w.store.Mutate(j.id, func(n *models.Notification) bool {
				if n.Lifecycle.State == models.StateDelivering {
					return true
				}
				return w.applyTransition(n, models.StateDelivering, "DeliveryStarted", now)
			})
			moved[j.id] = ok
		}
		if ok {
			kept = append(kept, j)
		}
	}
	return kept
}

// deliverPhase performs all backend I/O with no store locks held.
// Unauthorized pairs get one authorization attempt through the cache;
// a denial becomes a permanent per-platform failure.
func (w *Workers) deliverPhase(ctx context.Context, jobs []deliveryJob) []deliveryOutcome {
	outcomes := make([]deliveryOutcome, 0, len(jobs))
	for _, j := range jobs {
		backend, ok := w.backends[j.platform]
		if !ok {
			outcomes = append(outcomes, deliveryOutcome{job: j, err: models.NewPlatformError(string(j.platform), "no backend available on this host", 0)})
			continue
		}
		if !j.authorized {
			state, err := w.auth.RequestAuthorization(ctx, j.platform, backend)
			if err != nil || !state.IsAuthorized(w.now()) {
				outcomes = append(outcomes, deliveryOutcome{job: j, err: models.NewAuthorizationError(string(j.platform), "Authorization required")})
				continue
			}
		}
		spanCtx, span := w.tracer.StartSpan(ctx, "deliver", j.req.CorrelationID)
		start := w.now()
		receipt, err := backend.Deliver(spanCtx, j.req)
		span.End()
		if err != nil {
			w.deliveries.Inc(1, string(j.platform), "failure")
			w.log.WarnCtx(ctx, "delivery failed",
				"notification_id", j.id.String(), "platform", string(j.platform), "error", err.Error())
			outcomes = append(outcomes, deliveryOutcome{job: j, err: err})
			continue
		}
		if receipt.DeliveryLatency == 0 {
			receipt.DeliveryLatency = w.now().Sub(start)
		}
		w.deliveries.Inc(1, string(j.platform), "success")
		w.deliveryLatency.Observe(receipt.DeliveryLatency.Seconds(), string(j.platform))
		outcomes = append(outcomes, deliveryOutcome{job: j, receipt: receipt})
	}
	return outcomes
}

// commitPhase writes per-platform outcomes back into each record and
// applies the aggregate transition: all platforms Delivered =>
// Delivered; any failure => Failed with aggregated platform_errors;
// otherwise leave Delivering for the next tick.
func (w *Workers) commitPhase(outcomes []deliveryOutcome) {
	now := w.now()
	byID := make(map[models.NotificationID][]deliveryOutcome)
	for _, o := range outcomes {
		byID[o.job.id] = append(byID[o.job.id], o)
	}
	for id, results := range byID {
		w.store.Mutate(id, func(n *models.Notification) bool {
			anyFailed := false
			permanent := false
			details := models.NewErrorDetails("DeliveryFailed")
			for _, o := range results {
				existing, ok := n.Lifecycle.PlatformStates[o.job.platform]
				if ok && existing.Status == models.PlatformDelivered {
					continue
				}
				attempt := existing.Attempt + 1
				if o.err != nil {
					anyFailed = true
					details.PlatformErrors[string(o.job.platform)] = o.err.Error()
					if _, isAuth := o.err.(*models.AuthorizationError); isAuth {
						permanent = true
						details.PlatformErrors[string(o.job.platform)] = "Authorization required"
					}
					n.Lifecycle.PlatformStates[o.job.platform] = models.PlatformState{
						Status: models.PlatformFailed, Error: o.err.Error(), Attempt: attempt,
					}
					continue
				}
				receipt := o.receipt
				n.Lifecycle.PlatformStates[o.job.platform] = models.PlatformState{
					Status: models.PlatformDelivered, Receipt: &receipt, Attempt: attempt,
				}
				n.Lifecycle.Receipt = &receipt
			}

			allDelivered := true
			for _, p := range n.PlatformIntegration.TargetPlatforms {
				if ps, ok := n.Lifecycle.PlatformStates[p]; !ok || ps.Status != models.PlatformDelivered {
					allDelivered = false
					break
				}
			}
			switch {
			case allDelivered:
				lifecycle.RecordSuccess(&n.Lifecycle.Breaker, now)
				w.applyTransition(n, models.StateDelivered, "DeliveryCompleted", now)
			case anyFailed:
				details.IsPermanent = permanent
				if lifecycle.Fail(&n.Lifecycle, details, "DeliveryFailed", n.Identity.CorrelationID, now) {
					w.transitions.Inc(1, models.StateFailed.String())
				}
			}
			return true
		})
	}
}
