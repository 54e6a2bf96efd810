package notifyd

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"notifyd/models"
)

// platformLimit is the static per-platform limit table the builder
// validates against before any backend negotiation happens; the values
// match what each adapter advertises in NegotiateCapabilities.
type platformLimit struct {
	MaxTitleLength    int
	MaxBodyLength     int
	MaxActions        int
	MaxImageSizeBytes int64
}

var platformLimits = map[models.Platform]platformLimit{
	models.PlatformMacOS:   {MaxTitleLength: 256, MaxBodyLength: 1024, MaxActions: 4, MaxImageSizeBytes: 10 * 1024 * 1024},
	models.PlatformWindows: {MaxTitleLength: 128, MaxBodyLength: 1024, MaxActions: 5, MaxImageSizeBytes: 200 * 1024},
	models.PlatformLinux:   {MaxTitleLength: 512, MaxBodyLength: 4096, MaxActions: 8, MaxImageSizeBytes: 5 * 1024 * 1024},
}

var contentValidator = validator.New()

// NotificationBuilder constructs a Notification fluently, validating
// against the union of target-platform limits at Build time. Errors
// are returned from Build, never mid-chain.
type NotificationBuilder struct {
	content    models.Content
	hasContent bool
	platforms  []models.Platform
	sessionID  string
	creator    string
	correlation models.CorrelationID
	ttl        time.Duration
	expiresAt  *time.Time
	now        func() time.Time
}

// NewNotification starts a builder with the default target platform
// set {macOS, Windows, Linux}.
func NewNotification() *NotificationBuilder {
	return &NotificationBuilder{
		platforms: []models.Platform{models.PlatformMacOS, models.PlatformWindows, models.PlatformLinux},
		now:       time.Now,
	}
}

func (b *NotificationBuilder) WithTitle(title string) *NotificationBuilder {
	b.content.Title = title
	b.hasContent = true
	return b
}

func (b *NotificationBuilder) WithSubtitle(subtitle string) *NotificationBuilder {
	b.content.Subtitle = subtitle
	b.hasContent = true
	return b
}

func (b *NotificationBuilder) WithBody(body models.RichText) *NotificationBuilder {
	b.content.Body = body
	b.hasContent = true
	return b
}

func (b *NotificationBuilder) WithPriority(p models.Priority) *NotificationBuilder {
	b.content.Priority = p
	return b
}

func (b *NotificationBuilder) WithMedia(m ...models.MediaAttachment) *NotificationBuilder {
	b.content.Media = append(b.content.Media, m...)
	b.hasContent = true
	return b
}

func (b *NotificationBuilder) WithAction(id, label string) *NotificationBuilder {
	b.content.Interactions.Actions = append(b.content.Interactions.Actions, models.NotificationAction{ID: id, Label: label})
	return b
}

func (b *NotificationBuilder) WithQuickReply(id, placeholder string) *NotificationBuilder {
	b.content.Interactions.QuickReplies = append(b.content.Interactions.QuickReplies, models.QuickReply{ID: id, Placeholder: placeholder})
	return b
}

func (b *NotificationBuilder) WithCategory(category string) *NotificationBuilder {
	b.content.Category = &category
	return b
}

func (b *NotificationBuilder) WithCustomData(key, value string) *NotificationBuilder {
	if b.content.CustomData == nil {
		b.content.CustomData = make(map[string]string)
	}
	b.content.CustomData[key] = value
	return b
}

// WithPlatforms replaces the target platform set (ordered, duplicates
// dropped).
func (b *NotificationBuilder) WithPlatforms(platforms ...models.Platform) *NotificationBuilder {
	seen := make(map[models.Platform]bool, len(platforms))
	b.platforms = b.platforms[:0]
	for _, p := range platforms {
		if !seen[p] {
			seen[p] = true
			b.platforms = append(b.platforms, p)
		}
	}
	return b
}

func (b *NotificationBuilder) WithSessionID(id string) *NotificationBuilder {
	b.sessionID = id
	return b
}

func (b *NotificationBuilder) WithCorrelationID(id models.CorrelationID) *NotificationBuilder {
	b.correlation = id
	return b
}

func (b *NotificationBuilder) WithCreatorContext(ctx string) *NotificationBuilder {
	b.creator = ctx
	return b
}

func (b *NotificationBuilder) WithTTL(ttl time.Duration) *NotificationBuilder {
	b.ttl = ttl
	return b
}

func (b *NotificationBuilder) WithExpiresAt(t time.Time) *NotificationBuilder {
	b.expiresAt = &t
	return b
}

// Build validates and assembles the Notification. Failure modes, in
// order: missing content, empty title, no target platforms, then
// per-platform limit breaches.
func (b *NotificationBuilder) Build() (*models.Notification, error) {
	if !b.hasContent {
		return nil, models.ErrMissingContent
	}
	if b.content.Title == "" {
		return nil, models.ErrMissingTitle
	}
	if len(b.platforms) == 0 {
		return nil, models.ErrNoTargetPlatform
	}
	if err := contentValidator.Struct(b.content); err != nil {
		return nil, &models.BuildError{Reason: "InvalidContent", Detail: err}
	}

	bodyLen := len(bodyText(b.content.Body))
	for _, p := range b.platforms {
		limits, ok := platformLimits[p]
		if !ok {
			return nil, &models.BuildError{Reason: "UnsupportedPlatform", Detail: models.NewValidationError("unknown platform: "+string(p), nil)}
		}
		if n := len(b.content.Title); n > limits.MaxTitleLength {
			return nil, &models.TitleTooLong{Platform: string(p), Length: n, Max: limits.MaxTitleLength}
		}
		if bodyLen > limits.MaxBodyLength {
			return nil, &models.BodyTooLong{Platform: string(p), Length: bodyLen, Max: limits.MaxBodyLength}
		}
		if n := len(b.content.Interactions.Actions); n > limits.MaxActions {
			return nil, models.NewValidationError(
				fmt.Sprintf("too many actions for %s: %d > %d", p, n, limits.MaxActions), nil)
		}
		for _, m := range b.content.Media {
			// Only embedded images have a knowable size at build time;
			// file and URL images are checked by the platform adapters.
			if m.Image.Kind == models.ImageEmbedded {
				if size := int64(len(m.Image.EmbeddedBytes)); size > limits.MaxImageSizeBytes {
					return nil, models.NewValidationError(
						fmt.Sprintf("embedded image %q too large for %s: %d > %d bytes", m.Identifier, p, size, limits.MaxImageSizeBytes), nil)
				}
			}
		}
	}

	now := b.now()
	sessionID := b.sessionID
	if sessionID == "" {
		sessionID = models.NewNotificationID().String()
	}
	identity := models.NewIdentity(sessionID, b.creator, now)
	if b.correlation != "" {
		identity.CorrelationID = b.correlation
	}

	lc := models.NewLifecycle(now)
	if b.ttl > 0 {
		lc.Expiration.TTL = b.ttl
	}
	lc.Expiration.ExpiresAt = b.expiresAt

	return &models.Notification{
		Identity: identity,
		Content:  b.content,
		PlatformIntegration: models.PlatformIntegration{
			TargetPlatforms: append([]models.Platform(nil), b.platforms...),
		},
		Lifecycle: lc,
		Analytics: models.NewAnalytics(),
	}, nil
}

// bodyText is the plain-text projection used for length validation.
func bodyText(rt models.RichText) string {
	switch rt.Kind {
	case models.BodyMarkdown:
		return rt.Markdown
	case models.BodyHTML:
		return rt.HTML
	case models.BodyPlatformSpecific:
		longest := ""
		for _, v := range rt.PlatformSpecific {
			if len(v) > len(longest) {
				longest = v
			}
		}
		return longest
	default:
		return rt.Plain
	}
}
