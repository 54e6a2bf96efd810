// Package macos implements the macOS notification backend: a thin Go
// adapter around UNUserNotificationCenter, reached
// through a NativeClient seam so the authorization completion-handler
// dance and delivery protocol are unit-testable without a live
// notification center. The production NativeClient shells out to
// osascript, the same zero-cgo technique the wider Go notification
// ecosystem uses for this platform.
package macos

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"notifyd/internal/imagecache"
	"notifyd/internal/sanitize"
	"notifyd/models"
)

const authWaitTimeout = 5 * time.Second

// NativeClient is the seam between this adapter and the actual OS
// notification center. Each method invokes its completion callback
// exactly once, on whatever goroutine the implementation chooses —
// mirroring UNUserNotificationCenter's "arbitrary platform thread"
// completion handler contract.
type NativeClient interface {
	RequestAuthorization(onComplete func(granted bool, err error))
	Show(title, subtitle, body string, soundName string, imagePath string, onComplete func(nativeID string, err error))
	Remove(nativeID string)
}

// Backend implements backends.Backend for macOS.
type Backend struct {
	client    NativeClient
	cache     *imagecache.Cache
	sanitizer sanitize.Sanitizer
	appID     string

	mu       sync.Mutex
	pending  map[string]string // notification id -> native id (before delivery completes)
	delivered map[string]string
}

func New(client NativeClient, cache *imagecache.Cache, sanitizer sanitize.Sanitizer, appID string) *Backend {
	return &Backend{
		client:    client,
		cache:     cache,
		sanitizer: sanitizer,
		appID:     appID,
		pending:   make(map[string]string),
		delivered: make(map[string]string),
	}
}

func (b *Backend) Platform() models.Platform { return models.PlatformMacOS }

func (b *Backend) NegotiateCapabilities(ctx context.Context) (models.PlatformCapabilities, error) {
	return models.PlatformCapabilities{
		Platform:           models.PlatformMacOS,
		CompatibilityLevel: models.CompatibilityFull,
		Features: map[models.Feature]bool{
			models.FeatureActions:              true,
			models.FeatureRichMedia:             true,
			models.FeatureSound:                 true,
			models.FeatureScheduling:            true,
			models.FeatureReplies:               true,
			models.FeatureCustomUI:              true,
			models.FeatureBackgroundActivation:  true,
			models.FeatureUpdateContent:         true,
			models.FeatureCategories:            true,
		},
		MaxTitleLength:               256,
		MaxBodyLength:                1024,
		MaxActions:                   4,
		MaxImageSizeBytes:            10 * 1024 * 1024,
		HasRateLimits:                false,
		SupportsBackgroundActivation: true,
		SupportsCustomUI:             true,
	}, nil
}

// authWaiter is the one-shot "cell/option pattern" completion channel:
// a struct embedding a mutex and a channel, guarded by sync.Once so
// the native completion handler's single invocation is the only thing
// that can ever send on it.
type authWaiter struct {
	mu   sync.Mutex
	once sync.Once
	ch   chan authResult
}

type authResult struct {
	granted bool
	err     error
}

func newAuthWaiter() *authWaiter { return &authWaiter{ch: make(chan authResult, 1)} }

func (w *authWaiter) complete(granted bool, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.once.Do(func() { w.ch <- authResult{granted: granted, err: err} })
}

func (b *Backend) RequestAuthorization(ctx context.Context) (models.AuthorizationState, error) {
	// UNUserNotificationCenter requires a valid bundle identifier to
	// register; outside an app bundle (CLI, tests) authorization can
	// never be granted, so fail with a descriptive error instead of
	// waiting out the native call.
	if b.appID == "" {
		return models.AuthorizationState{}, models.NewPlatformError("macOS",
			"bundle identifier is empty: notification authorization requires running inside an app bundle", 0)
	}
	waiter := newAuthWaiter()
	b.client.RequestAuthorization(func(granted bool, err error) { waiter.complete(granted, err) })

	select {
	case res := <-waiter.ch:
		if res.err != nil {
			return models.AuthorizationState{Kind: models.AuthDenied, CanRetry: true, Reason: res.err.Error()}, res.err
		}
		if res.granted {
			now := time.Now()
			return models.AuthorizationState{Kind: models.AuthAuthorized, GrantedAt: &now}, nil
		}
		now := time.Now()
		return models.AuthorizationState{Kind: models.AuthDenied, DeniedAt: &now, CanRetry: true}, nil
	case <-time.After(authWaitTimeout):
		return models.AuthorizationState{}, models.NewPlatformError("macOS", "authorization request timed out after 5s", 0)
	case <-ctx.Done():
		return models.AuthorizationState{}, ctx.Err()
	}
}

func (b *Backend) Deliver(ctx context.Context, req models.NotificationRequest) (models.DeliveryReceipt, error) {
	start := time.Now()

	body, err := b.plainBody(req.Content.Body)
	if err != nil {
		return models.DeliveryReceipt{}, err
	}
	subtitle := req.Content.Subtitle
	if subtitle == "" {
		subtitle = firstSentence(body, 100)
	}

	imagePath := ""
	if len(req.Content.Media) > 0 {
		if resolved, err := b.cache.Resolve(ctx, req.Content.Media[0].Image); err == nil && resolved != nil {
			imagePath = resolved.Path
		}
	}

	timeout := 30 * time.Second
	if req.Options.DeliveryTimeoutMillis > 0 {
		timeout = time.Duration(req.Options.DeliveryTimeoutMillis) * time.Millisecond
	}

	type showResult struct {
		nativeID string
		err      error
	}
	resultCh := make(chan showResult, 1)
	b.client.Show(req.Content.Title, subtitle, body, "default", imagePath, func(nativeID string, err error) {
		resultCh <- showResult{nativeID: nativeID, err: err}
	})

	select {
	case res := <-resultCh:
		if res.err != nil {
			b.cancelQueues(req.NotificationID.String())
			return models.DeliveryReceipt{}, models.NewPlatformError("macOS", res.err.Error(), 0)
		}
		b.mu.Lock()
		b.delivered[req.NotificationID.String()] = res.nativeID
		b.mu.Unlock()
		return models.DeliveryReceipt{
			Platform:        models.PlatformMacOS,
			NativeID:        res.nativeID,
			DeliveredAt:     time.Now(),
			DeliveryLatency: time.Since(start),
			Metadata: map[string]string{
				"platform_api":        "UserNotifications",
				"authorization_status": "granted",
				"delivery_method":      "osascript",
			},
		}, nil
	case <-time.After(timeout):
		b.cancelQueues(req.NotificationID.String())
		return models.DeliveryReceipt{}, models.NewTimeoutError("macOS deliver", timeout.String())
	case <-ctx.Done():
		b.cancelQueues(req.NotificationID.String())
		return models.DeliveryReceipt{}, ctx.Err()
	}
}

func (b *Backend) Update(ctx context.Context, id models.NotificationID, update models.NotificationUpdate) error {
	key := id.String()
	b.cancelQueues(key)
	if update.ContentChanges.NonEmpty() {
		title := ""
		if update.ContentChanges.Title != nil {
			title = *update.ContentChanges.Title
		}
		body := ""
		if update.ContentChanges.Body != nil {
			plain, err := b.plainBody(*update.ContentChanges.Body)
			if err != nil {
				return err
			}
			body = plain
		}
		resultCh := make(chan error, 1)
		b.client.Show(title, "", body, "default", "", func(_ string, err error) { resultCh <- err })
		select {
		case err := <-resultCh:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (b *Backend) Cancel(ctx context.Context, id models.NotificationID) error {
	b.cancelQueues(id.String())
	return nil
}

func (b *Backend) cancelQueues(key string) {
	b.mu.Lock()
	pendingID, hasPending := b.pending[key]
	deliveredID, hasDelivered := b.delivered[key]
	delete(b.pending, key)
	delete(b.delivered, key)
	b.mu.Unlock()
	if hasPending {
		b.client.Remove(pendingID)
	}
	if hasDelivered {
		b.client.Remove(deliveredID)
	}
}

func (b *Backend) plainBody(body models.RichText) (string, error) {
	switch body.Kind {
	case models.BodyHTML:
		return b.sanitizer.ToPlainText(body.HTML)
	case models.BodyMarkdown:
		return body.Markdown, nil
	case models.BodyPlatformSpecific:
		if v, ok := body.PlatformSpecific[string(models.PlatformMacOS)]; ok {
			return v, nil
		}
		return "", nil
	default:
		return body.Plain, nil
	}
}

// firstSentence returns the leading sentence of s truncated to max
// characters with an ellipsis, the default subtitle when none is
// supplied.
func firstSentence(s string, max int) string {
	end := strings.IndexAny(s, ".!?")
	if end >= 0 {
		s = s[:end+1]
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}

// DefaultClient shells out to osascript to display a notification; it
// does not implement a real completion-handler callback (osascript
// has none), so RequestAuthorization and Show report success or
// failure synchronously from the command's exit status, invoked from
// their own goroutine to preserve the "arbitrary thread" contract.
type DefaultClient struct{}

func (DefaultClient) RequestAuthorization(onComplete func(granted bool, err error)) {
	go func() {
		cmd := exec.Command("osascript", "-e", `display notification "" with title ""`)
		err := cmd.Run()
		onComplete(err == nil, err)
	}()
}

func (DefaultClient) Show(title, subtitle, body, soundName, imagePath string, onComplete func(nativeID string, err error)) {
	go func() {
		script := fmt.Sprintf(
			`display notification %s with title %s subtitle %s sound name %s`,
			quoteAppleScript(body), quoteAppleScript(title), quoteAppleScript(subtitle), quoteAppleScript(soundName),
		)
		cmd := exec.Command("osascript", "-e", script)
		err := cmd.Run()
		if err != nil {
			onComplete("", err)
			return
		}
		onComplete(title+"|"+subtitle, nil)
	}()
}

func (DefaultClient) Remove(nativeID string) {}

func quoteAppleScript(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}
