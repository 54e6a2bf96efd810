// Package capability implements the capability & degradation engine:
// it builds a FeatureMatrix across negotiated backend capabilities
// and derives a per-platform DegradationStrategy so a request can be
// rewritten to the least common denominator. Structured as a
// multi-phase policy pipeline: BuildMatrix, Decide, Apply.
package capability

import (
	"notifyd/models"
)

// FeatureMatrix is the derived structure mapping feature names to the
// set of platforms supporting them.
type FeatureMatrix struct {
	SupportingPlatforms map[models.Feature]map[models.Platform]bool
	UniversalFeatures   []models.Feature
	PartialSupport      []models.Feature
	BestPlatformPerFeature map[models.Feature]models.Platform
}

// IsSupported reports whether any platform in the matrix supports f.
func (m FeatureMatrix) IsSupported(f models.Feature) bool {
	for _, ok := range m.SupportingPlatforms[f] {
		if ok {
			return true
		}
	}
	return false
}

// BuildMatrix computes the FeatureMatrix from a platform capability
// set.
func BuildMatrix(caps map[models.Platform]models.PlatformCapabilities) FeatureMatrix {
	m := FeatureMatrix{
		SupportingPlatforms:    make(map[models.Feature]map[models.Platform]bool),
		BestPlatformPerFeature: make(map[models.Feature]models.Platform),
	}
	platformCount := len(caps)
	for _, feature := range models.AllFeatures {
		supporters := make(map[models.Platform]bool)
		for platform, c := range caps {
			if c.SupportsFeature(feature) {
				supporters[platform] = true
			}
		}
		m.SupportingPlatforms[feature] = supporters
		switch {
		case len(supporters) == platformCount && platformCount > 0:
			m.UniversalFeatures = append(m.UniversalFeatures, feature)
		case len(supporters) > 0:
			m.PartialSupport = append(m.PartialSupport, feature)
		}
		if best, ok := bestPlatform(feature, supporters, caps); ok {
			m.BestPlatformPerFeature[feature] = best
		}
	}
	return m
}

// bestPlatform implements the composite score: supports
// feature +10, supports background activation +5, supports custom UI
// +3, no rate limits +2.
func bestPlatform(feature models.Feature, supporters map[models.Platform]bool, caps map[models.Platform]models.PlatformCapabilities) (models.Platform, bool) {
	var best models.Platform
	bestScore := -1
	found := false
	for platform := range supporters {
		c := caps[platform]
		score := 10
		if c.SupportsBackgroundActivation {
			score += 5
		}
		if c.SupportsCustomUI {
			score += 3
		}
		if !c.HasRateLimits {
			score += 2
		}
		if score > bestScore {
			bestScore = score
			best = platform
			found = true
		}
	}
	return best, found
}
