package models

// Notification is the full record stored under a NotificationID: the
// aggregate of identity, content, platform integration, lifecycle and
// analytics blocks.
type Notification struct {
	Identity            Identity             `json:"identity"`
	Content             Content              `json:"content"`
	PlatformIntegration PlatformIntegration  `json:"platform_integration"`
	Lifecycle           Lifecycle            `json:"lifecycle"`
	Analytics           Analytics            `json:"analytics"`
}

// Status is the read-only snapshot Handle.Status() hands back to
// callers.
type Status struct {
	ID             NotificationID             `json:"id"`
	State          State                      `json:"state"`
	PlatformStates map[Platform]PlatformState `json:"platform_states"`
}

// ResolvedImage is C1's resolve() result: a local path, whether it is
// a temp file owned by the cache, and the original source reference.
type ResolvedImage struct {
	Path        string `json:"path"`
	IsTemp      bool   `json:"is_temp"`
	OriginalURL string `json:"original_url"`
}

// NotificationRequest is the frozen, lock-free copy the delivery
// worker's collect phase hands to a backend's Deliver call.
type NotificationRequest struct {
	NotificationID NotificationID    `json:"notification_id"`
	Content        Content           `json:"content"`
	Options        DeliveryOptions   `json:"options"`
	CorrelationID  CorrelationID     `json:"correlation_id"`
}

// DeliveryOptions carries per-delivery knobs read by backends (TTL for
// expire_timeout/ExpirationTime, delivery timeout override).
type DeliveryOptions struct {
	TTLMillis       int64 `json:"ttl_millis,omitempty"`
	DeliveryTimeoutMillis int64 `json:"delivery_timeout_millis,omitempty"`
}

// ContentChanges, MediaChanges and ActionChanges describe an Update()
// call's delta against the currently-delivered content.
type ContentChanges struct {
	Title *string   `json:"title,omitempty"`
	Body  *RichText `json:"body,omitempty"`
}

type MediaChanges struct {
	Add    []MediaAttachment `json:"add,omitempty"`
	Remove []string          `json:"remove,omitempty"`
}

type ActionChanges struct {
	Add    []NotificationAction `json:"add,omitempty"`
	Remove []string             `json:"remove,omitempty"`
}

// NotificationUpdate bundles an Update() call's payload.
type NotificationUpdate struct {
	ContentChanges *ContentChanges `json:"content_changes,omitempty"`
	MediaChanges   *MediaChanges   `json:"media_changes,omitempty"`
	ActionChanges  *ActionChanges  `json:"action_changes,omitempty"`
	Options        *DeliveryOptions `json:"options,omitempty"`
}

func (c *ContentChanges) NonEmpty() bool {
	return c != nil && (c.Title != nil || c.Body != nil)
}
