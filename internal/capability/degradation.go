package capability

import (
	"notifyd/models"
)

// categoryFallback maps a feature to its fallback category
// (action/media/markup), when that feature belongs to one
// of those three named categories. Features outside these categories
// either substitute via featureSubstitutes or are removed.
var categoryFallback = map[models.Feature]string{
	models.FeatureActions: "action",
	models.FeatureReplies: "action",
	models.FeatureRichMedia: "media",
	models.FeatureMarkup:   "markup",
}

// featureSubstitutes gives a direct fallback kind for features with no
// natural category grouping, so Decide doesn't fall straight to Remove
// for every unnamed feature.
var featureSubstitutes = map[models.Feature]models.FallbackKind{
	models.FeatureSound:                models.FallbackSimplify,
	models.FeatureProgress:             models.FallbackTextDescription,
	models.FeatureCategories:           models.FallbackSimplify,
	models.FeatureCustomUI:             models.FallbackSimplify,
	models.FeatureBackgroundActivation: models.FallbackRemove,
	models.FeatureUpdateContent:        models.FallbackRemove,
	models.FeaturePersistent:           models.FallbackRemove,
	models.FeaturePriority:             models.FallbackSimplify,
	models.FeatureGrouping:             models.FallbackSimplify,
	models.FeatureBadges:               models.FallbackRemove,
	models.FeatureVibration:            models.FallbackRemove,
	models.FeatureScheduling:           models.FallbackRemove,
}

// ErrCriticalUnsupported is returned by Decide when a platform is
// missing a feature marked critical with fail_on_critical_unsupported,
// which the Manager's submission path treats as a validation
// failure.
type ErrCriticalUnsupported struct {
	Platform models.Platform
	Features []models.Feature
}

func (e *ErrCriticalUnsupported) Error() string {
	return "capability: critical features unsupported on " + string(e.Platform)
}

// Decide derives a DegradationStrategy for one platform from the
// matrix, optionally checking a set of critical features whose
// absence must fail validation rather than degrade silently.
func Decide(platform models.Platform, caps models.PlatformCapabilities, matrix FeatureMatrix, criticalFeatures []models.Feature, failOnCriticalUnsupported bool) (models.DegradationStrategy, error) {
	strategy := models.DegradationStrategy{
		Platform:       platform,
		ActionFallback: models.FallbackBatchIntoMenu,
		MediaFallback:  models.FallbackRemoveMedia,
		MarkupFallback: models.FallbackStripMarkup,
		Substituted:    make(map[models.Feature]models.FallbackKind),
	}

	var unsupportedCritical []models.Feature
	criticalSet := make(map[models.Feature]bool, len(criticalFeatures))
	for _, f := range criticalFeatures {
		criticalSet[f] = true
	}

	for _, feature := range models.AllFeatures {
		if caps.SupportsFeature(feature) {
			continue
		}
		if criticalSet[feature] {
			unsupportedCritical = append(unsupportedCritical, feature)
		}
		switch categoryFallback[feature] {
		case "action":
			// category-level fallback already set above; nothing per-feature to record.
		case "media":
		case "markup":
		default:
			if fb, ok := featureSubstitutes[feature]; ok {
				strategy.Substituted[feature] = fb
			} else {
				strategy.Removed = append(strategy.Removed, feature)
			}
		}
	}

	if failOnCriticalUnsupported && len(unsupportedCritical) > 0 {
		strategy.CriticalUnsupported = unsupportedCritical
		return strategy, &ErrCriticalUnsupported{Platform: platform, Features: unsupportedCritical}
	}
	return strategy, nil
}

// Apply rewrites a copy of content to fit the degradation strategy:
// when there are more actions than the platform's max_actions, the
// list is cut to max_actions (or emptied when ActionFallback is
// Remove); Markdown bodies are flattened to plain text when the
// platform lacks markup support; and media is removed when the
// platform lacks rich-media support and MediaFallback is RemoveMedia.
func Apply(content models.Content, caps models.PlatformCapabilities, strategy models.DegradationStrategy) models.Content {
	out := content
	if len(out.Interactions.Actions) > caps.MaxActions {
		switch strategy.ActionFallback {
		case models.FallbackRemove:
			out.Interactions.Actions = nil
		default:
			out.Interactions.Actions = out.Interactions.Actions[:caps.MaxActions]
		}
	}
	if out.Body.Kind == models.BodyMarkdown && !caps.SupportsFeature(models.FeatureMarkup) {
		switch strategy.MarkupFallback {
		case models.FallbackStripMarkup, models.FallbackConvertMarkup, models.FallbackFormattingHints:
			out.Body = models.RichText{Kind: models.BodyPlain, Plain: out.Body.Markdown}
		}
	}
	// HTML bodies keep their kind: the adapters project HTML to plain
	// text through the Sanitizer when the platform lacks markup support.
	if len(out.Media) > 0 && !caps.SupportsFeature(models.FeatureRichMedia) {
		switch strategy.MediaFallback {
		case models.FallbackRemoveMedia:
			out.Media = nil
		}
	}
	return out
}
