package notifyd

import (
	"notifyd/internal/store"
	"notifyd/models"
)

// Handle is the caller's view onto one submitted notification: a key
// plus a store reference. It is safe to retain past Manager shutdown —
// reads simply return nil once the record is purged or the store is
// gone.
type Handle struct {
	id    models.NotificationID
	store *store.Store
}

// ID returns the notification's immutable identifier.
func (h *Handle) ID() models.NotificationID { return h.id }

// Status returns a point-in-time snapshot of the record's aggregate
// and per-platform state, or nil if the record is no longer stored.
func (h *Handle) Status() *models.Status {
	if h == nil || h.store == nil {
		return nil
	}
	var status *models.Status
	h.store.Mutate(h.id, func(n *models.Notification) bool {
		platformStates := make(map[models.Platform]models.PlatformState, len(n.Lifecycle.PlatformStates))
		for p, ps := range n.Lifecycle.PlatformStates {
			platformStates[p] = ps
		}
		status = &models.Status{ID: n.Identity.ID, State: n.Lifecycle.State, PlatformStates: platformStates}
		return true
	})
	return status
}

// Lifecycle returns a deep-enough copy of the lifecycle block (history
// and platform states cloned), or nil if purged.
func (h *Handle) Lifecycle() *models.Lifecycle {
	if h == nil || h.store == nil {
		return nil
	}
	var lc *models.Lifecycle
	h.store.Mutate(h.id, func(n *models.Notification) bool {
		cp := n.Lifecycle
		cp.History = append([]models.Transition(nil), n.Lifecycle.History...)
		cp.PlatformStates = make(map[models.Platform]models.PlatformState, len(n.Lifecycle.PlatformStates))
		for p, ps := range n.Lifecycle.PlatformStates {
			cp.PlatformStates[p] = ps
		}
		lc = &cp
		return true
	})
	return lc
}

// Analytics returns a snapshot of the analytics block, or nil if
// purged.
func (h *Handle) Analytics() *models.Analytics {
	if h == nil || h.store == nil {
		return nil
	}
	var a *models.Analytics
	h.store.Mutate(h.id, func(n *models.Notification) bool {
		cp := n.Analytics
		cp.PerPlatform = make(map[models.Platform]models.PlatformAnalytics, len(n.Analytics.PerPlatform))
		for p, pa := range n.Analytics.PerPlatform {
			cp.PerPlatform[p] = pa
		}
		a = &cp
		return true
	})
	return a
}
