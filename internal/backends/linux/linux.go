// Package linux implements the Linux notification backend: a
// session-bus D-Bus proxy at org.freedesktop.Notifications, calling
// its Notify/GetCapabilities/GetServerInformation/CloseNotification
// interface methods directly via godbus/dbus/v5.
package linux

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	"notifyd/internal/imagecache"
	"notifyd/internal/sanitize"
	"notifyd/models"
)

const (
	busName      = "org.freedesktop.Notifications"
	objectPath   = dbus.ObjectPath("/org/freedesktop/Notifications")
	ifaceNotify  = busName + ".Notify"
	ifaceGetCaps = busName + ".GetCapabilities"
	ifaceGetInfo = busName + ".GetServerInformation"
	ifaceClose   = busName + ".CloseNotification"
)

// BusObject is the subset of dbus.BusObject this backend calls,
// narrowed to a seam so tests can substitute a fake bus without a
// live session daemon.
type BusObject interface {
	Call(method string, flags dbus.Flags, args ...interface{}) *dbus.Call
}

// Backend implements backends.Backend for Linux via direct D-Bus
// calls. The bus object is supplied by the caller; server capabilities
// are memoized behind a sync.Once guard.
type Backend struct {
	obj       BusObject
	cache     *imagecache.Cache
	sanitizer sanitize.Sanitizer
	appName   string

	capOnce sync.Once
	caps    []string
	capErr  error

	mu       sync.Mutex
	nativeID map[models.NotificationID]uint32
}

func New(obj BusObject, cache *imagecache.Cache, sanitizer sanitize.Sanitizer, appName string) *Backend {
	return &Backend{obj: obj, cache: cache, sanitizer: sanitizer, appName: appName, nativeID: make(map[models.NotificationID]uint32)}
}

func (b *Backend) Platform() models.Platform { return models.PlatformLinux }

func (b *Backend) serverCapabilities() ([]string, error) {
	b.capOnce.Do(func() {
		var caps []string
		call := b.obj.Call(ifaceGetCaps, 0)
		if call.Err != nil {
			b.capErr = call.Err
			return
		}
		if err := call.Store(&caps); err != nil {
			b.capErr = err
			return
		}
		b.caps = caps
	})
	return b.caps, b.capErr
}

func hasCapability(caps []string, name string) bool {
	for _, c := range caps {
		if c == name {
			return true
		}
	}
	return false
}

func (b *Backend) NegotiateCapabilities(ctx context.Context) (models.PlatformCapabilities, error) {
	caps, err := b.serverCapabilities()
	if err != nil {
		return models.PlatformCapabilities{Platform: models.PlatformLinux, CompatibilityLevel: models.CompatibilityNone}, nil
	}
	features := map[models.Feature]bool{
		models.FeatureActions:     hasCapability(caps, "actions"),
		models.FeatureMarkup:      hasCapability(caps, "body-markup") || hasCapability(caps, "markup"),
		models.FeatureSound:       hasCapability(caps, "sound"),
		models.FeatureReplies:     false,
		models.FeatureCategories:  true,
		models.FeatureRichMedia:   hasCapability(caps, "icon-static") || hasCapability(caps, "body-images"),
		models.FeaturePersistent:  hasCapability(caps, "persistence"),
		models.FeaturePriority:    true,
	}
	return models.PlatformCapabilities{
		Platform:           models.PlatformLinux,
		CompatibilityLevel: models.CompatibilityFull,
		Features:           features,
		MaxTitleLength:     512,
		MaxBodyLength:      4096,
		MaxActions:         8,
		MaxImageSizeBytes:  5 * 1024 * 1024,
		HasRateLimits:      false,
	}, nil
}

func (b *Backend) RequestAuthorization(ctx context.Context) (models.AuthorizationState, error) {
	// No permission prompt exists on the freedesktop notification spec;
	// availability of the session bus service is authorization enough.
	return models.AuthorizationState{Kind: models.AuthAuthorized}, nil
}

// urgencyFor maps priority to the urgency hint byte: Low -> 0,
// Normal -> 1, High/Critical/Urgent -> 2.
func urgencyFor(p models.Priority) byte {
	switch {
	case p <= models.PriorityLow:
		return 0
	case p == models.PriorityNormal:
		return 1
	default:
		return 2
	}
}

// expireTimeoutFor derives expire_timeout when options.ttl is
// absent: Critical/Urgent never
// expire (0), High=10000ms, Normal=5000ms, Low=3000ms.
func expireTimeoutFor(p models.Priority, ttlMillis int64) int32 {
	if ttlMillis > 0 {
		return int32(ttlMillis)
	}
	switch p {
	case models.PriorityCritical, models.PriorityUrgent:
		return 0
	case models.PriorityHigh:
		return 10000
	case models.PriorityLow:
		return 3000
	default:
		return 5000
	}
}

func (b *Backend) buildHints(content models.Content, appIconPath string) map[string]dbus.Variant {
	hints := map[string]dbus.Variant{
		"urgency": dbus.MakeVariant(urgencyFor(content.Priority)),
	}
	if content.Category != nil {
		hints["category"] = dbus.MakeVariant(*content.Category)
	}
	hints["desktop-entry"] = dbus.MakeVariant(b.appName)
	return hints
}

func (b *Backend) bodyFor(caps []string, content models.Content) (string, error) {
	markupSupported := hasCapability(caps, "body-markup") || hasCapability(caps, "markup")
	switch content.Body.Kind {
	case models.BodyHTML:
		if markupSupported {
			return b.sanitizer.ToPango(content.Body.HTML)
		}
		return b.sanitizer.ToPlainText(content.Body.HTML)
	case models.BodyMarkdown:
		return content.Body.Markdown, nil
	case models.BodyPlatformSpecific:
		if v, ok := content.Body.PlatformSpecific[string(models.PlatformLinux)]; ok {
			return v, nil
		}
		return "", nil
	default:
		return content.Body.Plain, nil
	}
}

func (b *Backend) actionsFor(content models.Content) []string {
	actions := make([]string, 0, len(content.Interactions.Actions)*2)
	for _, a := range content.Interactions.Actions {
		actions = append(actions, a.ID, a.Label)
	}
	return actions
}

func (b *Backend) Deliver(ctx context.Context, req models.NotificationRequest) (models.DeliveryReceipt, error) {
	caps, _ := b.serverCapabilities()

	body, err := b.bodyFor(caps, req.Content)
	if err != nil {
		return models.DeliveryReceipt{}, err
	}

	appIcon := ""
	if len(req.Content.Media) > 0 {
		if resolved, err := b.cache.Resolve(ctx, req.Content.Media[0].Image); err == nil && resolved != nil {
			appIcon = resolved.Path
		}
	}

	call := b.obj.Call(ifaceNotify, 0,
		b.appName,
		uint32(0),
		appIcon,
		req.Content.Title,
		body,
		b.actionsFor(req.Content),
		b.buildHints(req.Content, appIcon),
		expireTimeoutFor(req.Content.Priority, req.Options.TTLMillis),
	)
	if call.Err != nil {
		return models.DeliveryReceipt{}, models.NewPlatformError("Linux", call.Err.Error(), 0)
	}
	var id uint32
	if err := call.Store(&id); err != nil {
		return models.DeliveryReceipt{}, models.NewPlatformError("Linux", err.Error(), 0)
	}

	b.mu.Lock()
	b.nativeID[req.NotificationID] = id
	b.mu.Unlock()

	return models.DeliveryReceipt{
		Platform:    models.PlatformLinux,
		NativeID:    strconv.FormatUint(uint64(id), 10),
		DeliveredAt: time.Now(),
		Metadata:    map[string]string{"platform_api": "D-Bus"},
	}, nil
}

// Update re-sends via Notify with replaces_id set to the native D-Bus
// id previously returned for this record; an id this
// backend never delivered is a ValidationError.
func (b *Backend) Update(ctx context.Context, id models.NotificationID, update models.NotificationUpdate) error {
	replacesID, err := b.replacesIDFor(id)
	if err != nil {
		return err
	}
	content := models.Content{}
	if update.ContentChanges != nil {
		if update.ContentChanges.Title != nil {
			content.Title = *update.ContentChanges.Title
		}
		if update.ContentChanges.Body != nil {
			content.Body = *update.ContentChanges.Body
		}
	}
	caps, _ := b.serverCapabilities()
	body, err := b.bodyFor(caps, content)
	if err != nil {
		return err
	}
	call := b.obj.Call(ifaceNotify, 0,
		b.appName, replacesID, "", content.Title, body,
		[]string{}, b.buildHints(content, ""), int32(-1),
	)
	if call.Err != nil {
		return models.NewPlatformError("Linux", call.Err.Error(), 0)
	}
	return nil
}

func (b *Backend) Cancel(ctx context.Context, id models.NotificationID) error {
	replacesID, err := b.replacesIDFor(id)
	if err != nil {
		return err
	}
	call := b.obj.Call(ifaceClose, 0, replacesID)
	if call.Err != nil {
		return models.NewPlatformError("Linux", call.Err.Error(), 0)
	}
	b.mu.Lock()
	delete(b.nativeID, id)
	b.mu.Unlock()
	return nil
}

// replacesIDFor looks up the native D-Bus notification id Deliver
// recorded for id; a record never delivered on this backend is a
// ValidationError.
func (b *Backend) replacesIDFor(id models.NotificationID) (uint32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, ok := b.nativeID[id]
	if !ok {
		return 0, models.NewValidationError("no delivered linux notification for id: "+id.String(), nil)
	}
	return n, nil
}
