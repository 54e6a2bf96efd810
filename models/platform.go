package models

import "time"

// Platform names a target OS notification surface.
type Platform string

const (
	PlatformMacOS   Platform = "macOS"
	PlatformWindows Platform = "Windows"
	PlatformLinux   Platform = "Linux"
	PlatformWeb     Platform = "Web"
)

// Feature names the fixed set of capability flags the degradation
// engine reasons about.
type Feature string

const (
	FeatureActions              Feature = "actions"
	FeatureRichMedia             Feature = "rich_media"
	FeatureMarkup                Feature = "markup"
	FeatureSound                 Feature = "sound"
	FeatureScheduling            Feature = "scheduling"
	FeatureProgress              Feature = "progress"
	FeatureCategories            Feature = "categories"
	FeatureReplies               Feature = "replies"
	FeatureCustomUI              Feature = "custom_ui"
	FeatureBackgroundActivation  Feature = "background_activation"
	FeatureUpdateContent         Feature = "update_content"
	FeaturePersistent            Feature = "persistent"
	FeaturePriority              Feature = "priority"
	FeatureGrouping              Feature = "grouping"
	FeatureBadges                Feature = "badges"
	FeatureVibration             Feature = "vibration"
)

// AllFeatures is the fixed feature set the matrix is built over.
var AllFeatures = []Feature{
	FeatureActions, FeatureRichMedia, FeatureMarkup, FeatureSound,
	FeatureScheduling, FeatureProgress, FeatureCategories, FeatureReplies,
	FeatureCustomUI, FeatureBackgroundActivation, FeatureUpdateContent,
	FeaturePersistent, FeaturePriority, FeatureGrouping, FeatureBadges,
	FeatureVibration,
}

// CompatibilityLevel communicates how well a platform was detected.
type CompatibilityLevel int

const (
	CompatibilityNone CompatibilityLevel = iota
	CompatibilityPartial
	CompatibilityFull
)

// PlatformCapabilities is what negotiate_capabilities() returns for a
// single backend.
type PlatformCapabilities struct {
	Platform             Platform           `json:"platform"`
	CompatibilityLevel   CompatibilityLevel `json:"compatibility_level"`
	Features             map[Feature]bool   `json:"features"`
	MaxTitleLength        int               `json:"max_title_length"`
	MaxBodyLength          int              `json:"max_body_length"`
	MaxActions             int              `json:"max_actions"`
	MaxImageSizeBytes      int64            `json:"max_image_size_bytes"`
	HasRateLimits          bool             `json:"has_rate_limits"`
	SupportsBackgroundActivation bool       `json:"supports_background_activation"`
	SupportsCustomUI       bool             `json:"supports_custom_ui"`
}

func (c PlatformCapabilities) SupportsFeature(f Feature) bool { return c.Features[f] }

// FallbackKind enumerates the available degradation strategies.
type FallbackKind string

const (
	FallbackRemove          FallbackKind = "Remove"
	FallbackSimplify        FallbackKind = "Simplify"
	FallbackConvertToURLs   FallbackKind = "ConvertToUrls"
	FallbackBatchIntoMenu   FallbackKind = "BatchIntoMenu"
	FallbackRemoveMedia     FallbackKind = "RemoveMedia"
	FallbackSimplifyMedia   FallbackKind = "SimplifyMedia"
	FallbackTextDescription FallbackKind = "TextDescription"
	FallbackUsePlaceholder  FallbackKind = "UsePlaceholder"
	FallbackStripMarkup     FallbackKind = "StripMarkup"
	FallbackConvertMarkup   FallbackKind = "ConvertMarkup"
	FallbackFormattingHints FallbackKind = "FormattingHints"
)

// DegradationStrategy is derived per target platform from the feature
// matrix.
type DegradationStrategy struct {
	Platform        Platform                `json:"platform"`
	ActionFallback  FallbackKind            `json:"action_fallback"`
	MediaFallback   FallbackKind            `json:"media_fallback"`
	MarkupFallback  FallbackKind            `json:"markup_fallback"`
	Removed         []Feature               `json:"removed,omitempty"`
	Substituted     map[Feature]FallbackKind `json:"substituted,omitempty"`
	CriticalUnsupported []Feature           `json:"critical_unsupported,omitempty"`
}

// AuthStateKind tags the AuthorizationState union.
type AuthStateKind int

const (
	AuthNotRequested AuthStateKind = iota
	AuthRequesting
	AuthPending
	AuthAuthorized
	AuthDenied
	AuthRevoked
	AuthProvisional
)

// AuthorizationState is the per-platform permission cache entry.
type AuthorizationState struct {
	Kind        AuthStateKind  `json:"kind"`
	GrantedAt   *time.Time     `json:"granted_at,omitempty"`
	Permissions []string       `json:"permissions,omitempty"`
	DeniedAt    *time.Time     `json:"denied_at,omitempty"`
	CanRetry    bool           `json:"can_retry,omitempty"`
	Reason      string         `json:"reason,omitempty"`
	ExpiresAt   *time.Time     `json:"expires_at,omitempty"`
}

// IsAuthorized reports true for Authorized, and for unexpired
// Provisional grants.
func (s AuthorizationState) IsAuthorized(now time.Time) bool {
	switch s.Kind {
	case AuthAuthorized:
		return true
	case AuthProvisional:
		return s.ExpiresAt == nil || now.Before(*s.ExpiresAt)
	default:
		return false
	}
}

// CanRequestAgain reports whether request_authorization may be called
// again: NotRequested, Denied{can_retry}, or Revoked.
func (s AuthorizationState) CanRequestAgain() bool {
	switch s.Kind {
	case AuthNotRequested, AuthRevoked:
		return true
	case AuthDenied:
		return s.CanRetry
	default:
		return false
	}
}

// PlatformIntegration is the record's target-platform view.
type PlatformIntegration struct {
	TargetPlatforms []Platform                          `json:"target_platforms"`
	Capabilities    map[Platform]PlatformCapabilities    `json:"capabilities,omitempty"`
	Authorization   map[Platform]AuthorizationState      `json:"authorization,omitempty"`
	Degradation     map[Platform]DegradationStrategy     `json:"degradation,omitempty"`
	UserPreferences map[string]string                    `json:"user_preferences,omitempty"`
}
