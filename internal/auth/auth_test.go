package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notifyd/models"
)

type fakeBackend struct {
	state models.AuthorizationState
	err   error
}

func (f fakeBackend) RequestAuthorization(ctx context.Context) (models.AuthorizationState, error) {
	return f.state, f.err
}

func TestGetAbsentReturnsNotRequested(t *testing.T) {
	c := New()
	assert.Equal(t, models.AuthNotRequested, c.Get(models.PlatformMacOS).Kind)
	assert.False(t, c.IsAuthorized(models.PlatformMacOS))
}

func TestRequestAuthorizationGrantsAndCaches(t *testing.T) {
	c := New()
	backend := fakeBackend{state: models.AuthorizationState{Kind: models.AuthAuthorized}}
	state, err := c.RequestAuthorization(context.Background(), models.PlatformLinux, backend)
	require.NoError(t, err)
	assert.Equal(t, models.AuthAuthorized, state.Kind)
	assert.True(t, c.IsAuthorized(models.PlatformLinux))
}

func TestRequestAuthorizationShortCircuitsWhenAlreadyAuthorized(t *testing.T) {
	c := New()
	c.Set(models.PlatformWindows, models.AuthorizationState{Kind: models.AuthAuthorized})
	backend := fakeBackend{err: errors.New("should not be called")}
	state, err := c.RequestAuthorization(context.Background(), models.PlatformWindows, backend)
	require.NoError(t, err)
	assert.Equal(t, models.AuthAuthorized, state.Kind)
}

func TestRequestAuthorizationRespectsCanRetryFalse(t *testing.T) {
	c := New()
	c.Set(models.PlatformMacOS, models.AuthorizationState{Kind: models.AuthDenied, CanRetry: false, Reason: "user declined"})
	backend := fakeBackend{err: errors.New("should not be called")}
	_, err := c.RequestAuthorization(context.Background(), models.PlatformMacOS, backend)
	require.Error(t, err)
}

func TestRequestAuthorizationCachesDenialOnBackendError(t *testing.T) {
	c := New()
	backend := fakeBackend{err: errors.New("native denial")}
	state, err := c.RequestAuthorization(context.Background(), models.PlatformLinux, backend)
	require.Error(t, err)
	assert.Equal(t, models.AuthDenied, state.Kind)
	assert.True(t, state.CanRetry)
	cached := c.Get(models.PlatformLinux)
	assert.Equal(t, models.AuthDenied, cached.Kind)
}

func TestIsAuthorizedProvisionalExpiry(t *testing.T) {
	c := New()
	now := time.Now()
	c.now = func() time.Time { return now }
	expires := now.Add(time.Minute)
	c.Set(models.PlatformMacOS, models.AuthorizationState{Kind: models.AuthProvisional, ExpiresAt: &expires})
	assert.True(t, c.IsAuthorized(models.PlatformMacOS))
	c.now = func() time.Time { return now.Add(2 * time.Minute) }
	assert.False(t, c.IsAuthorized(models.PlatformMacOS))
}
