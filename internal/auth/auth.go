// Package auth implements the per-platform authorization cache: one
// AuthorizationState per platform behind a single RWMutex, the key
// space being the handful of desktop platforms.
package auth

import (
	"context"
	"sync"
	"time"

	"notifyd/models"
)

// Backend is the subset of the platform adapter contract auth needs:
// a call that asks the native OS for permission.
type Backend interface {
	RequestAuthorization(ctx context.Context) (models.AuthorizationState, error)
}

// Cache holds one AuthorizationState per platform.
type Cache struct {
	mu     sync.RWMutex
	states map[models.Platform]models.AuthorizationState
	now    func() time.Time
}

// New creates an empty cache; every platform starts AuthNotRequested
// implicitly (absent entries resolve to the zero AuthorizationState).
func New() *Cache {
	return &Cache{states: make(map[models.Platform]models.AuthorizationState), now: time.Now}
}

// Get returns the cached state for platform, or the zero value
// (Kind AuthNotRequested) if never set.
func (c *Cache) Get(platform models.Platform) models.AuthorizationState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.states[platform]
}

// IsAuthorized reports whether platform currently holds a usable
// grant.
func (c *Cache) IsAuthorized(platform models.Platform) bool {
	return c.Get(platform).IsAuthorized(c.now())
}

// Set stores a new state, overwriting whatever was cached.
func (c *Cache) Set(platform models.Platform, state models.AuthorizationState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states[platform] = state
}

// RequestAuthorization orchestrates the request flow: if the
// cached state already disallows a fresh request (already authorized,
// already pending, or denied without can_retry) it returns the cached
// state without calling the backend. Otherwise it marks the platform
// AuthRequesting, calls the backend, and caches whatever it returns.
func (c *Cache) RequestAuthorization(ctx context.Context, platform models.Platform, backend Backend) (models.AuthorizationState, error) {
	current := c.Get(platform)
	if current.IsAuthorized(c.now()) {
		return current, nil
	}
	if !current.CanRequestAgain() {
		return current, models.NewAuthorizationError(string(platform), "authorization already resolved: "+current.Reason)
	}

	c.Set(platform, models.AuthorizationState{Kind: models.AuthRequesting})

	result, err := backend.RequestAuthorization(ctx)
	if err != nil {
		denied := models.AuthorizationState{
			Kind:     models.AuthDenied,
			DeniedAt: timePtr(c.now()),
			CanRetry: true,
			Reason:   err.Error(),
		}
		c.Set(platform, denied)
		return denied, err
	}
	c.Set(platform, result)
	return result, nil
}

func timePtr(t time.Time) *time.Time { return &t }
