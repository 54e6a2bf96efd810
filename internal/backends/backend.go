// Package backends defines the uniform platform adapter contract and
// wraps each concrete adapter in its own circuit breaker: policy
// validation in the constructor, atomic stat counters, a narrow
// interface the rest of the system programs against.
package backends

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"

	"notifyd/models"
)

// Backend is the operation set the Manager programs against. Every
// method may suspend on native I/O and must respect ctx cancellation.
type Backend interface {
	Platform() models.Platform
	NegotiateCapabilities(ctx context.Context) (models.PlatformCapabilities, error)
	Deliver(ctx context.Context, req models.NotificationRequest) (models.DeliveryReceipt, error)
	Update(ctx context.Context, id models.NotificationID, update models.NotificationUpdate) error
	Cancel(ctx context.Context, id models.NotificationID) error
	RequestAuthorization(ctx context.Context) (models.AuthorizationState, error)
}

// Stats are the atomic counters every breaker-wrapped backend exposes,
// the same shape as crawler.FetcherStats.
type Stats struct {
	DeliversSucceeded int64
	DeliversFailed    int64
	BreakerRejections int64
}

// Breaker wraps a Backend with a per-backend-instance sony/gobreaker
// circuit breaker around Deliver, independent of and in addition to
// the per-notification breaker internal/lifecycle maintains: this one
// trips when the platform API itself is unhealthy for every
// notification, not just one.
type Breaker struct {
	inner   Backend
	cb      *gobreaker.CircuitBreaker
	succeed int64
	failed  int64
	reject  int64
}

// NewBreaker wraps backend with a circuit breaker that opens after 5
// consecutive Deliver failures and probes again after 30s, guarding
// against hammering a platform API that is down for everyone.
func NewBreaker(backend Backend) *Breaker {
	b := &Breaker{inner: backend}
	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        string(backend.Platform()) + "-deliver",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return b
}

func (b *Breaker) Platform() models.Platform { return b.inner.Platform() }

func (b *Breaker) NegotiateCapabilities(ctx context.Context) (models.PlatformCapabilities, error) {
	return b.inner.NegotiateCapabilities(ctx)
}

func (b *Breaker) Deliver(ctx context.Context, req models.NotificationRequest) (models.DeliveryReceipt, error) {
	result, err := b.cb.Execute(func() (interface{}, error) {
		return b.inner.Deliver(ctx, req)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			atomic.AddInt64(&b.reject, 1)
			return models.DeliveryReceipt{}, models.NewPlatformError(string(b.inner.Platform()), "circuit breaker open", 0)
		}
		atomic.AddInt64(&b.failed, 1)
		return models.DeliveryReceipt{}, err
	}
	atomic.AddInt64(&b.succeed, 1)
	return result.(models.DeliveryReceipt), nil
}

func (b *Breaker) Update(ctx context.Context, id models.NotificationID, update models.NotificationUpdate) error {
	return b.inner.Update(ctx, id, update)
}

func (b *Breaker) Cancel(ctx context.Context, id models.NotificationID) error {
	return b.inner.Cancel(ctx, id)
}

func (b *Breaker) RequestAuthorization(ctx context.Context) (models.AuthorizationState, error) {
	return b.inner.RequestAuthorization(ctx)
}

func (b *Breaker) Stats() Stats {
	return Stats{
		DeliversSucceeded: atomic.LoadInt64(&b.succeed),
		DeliversFailed:    atomic.LoadInt64(&b.failed),
		BreakerRejections: atomic.LoadInt64(&b.reject),
	}
}
