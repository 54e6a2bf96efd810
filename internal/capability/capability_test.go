package capability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notifyd/models"
)

func capsWith(platform models.Platform, features ...models.Feature) models.PlatformCapabilities {
	m := make(map[models.Feature]bool, len(features))
	for _, f := range features {
		m[f] = true
	}
	return models.PlatformCapabilities{
		Platform:           platform,
		CompatibilityLevel: models.CompatibilityFull,
		Features:           m,
		MaxActions:         2,
	}
}

func TestBuildMatrixClassifiesSupport(t *testing.T) {
	caps := map[models.Platform]models.PlatformCapabilities{
		models.PlatformLinux:   capsWith(models.PlatformLinux, models.FeatureActions, models.FeatureMarkup),
		models.PlatformWindows: capsWith(models.PlatformWindows, models.FeatureActions),
	}
	m := BuildMatrix(caps)

	assert.Contains(t, m.UniversalFeatures, models.FeatureActions)
	assert.Contains(t, m.PartialSupport, models.FeatureMarkup)
	assert.NotContains(t, m.UniversalFeatures, models.FeatureMarkup)
	assert.Equal(t, models.PlatformLinux, m.BestPlatformPerFeature[models.FeatureMarkup])
}

// Round-trip law: IsSupported(f) iff some platform supports f.
func TestMatrixIsSupportedRoundTrip(t *testing.T) {
	caps := map[models.Platform]models.PlatformCapabilities{
		models.PlatformLinux:   capsWith(models.PlatformLinux, models.FeatureActions),
		models.PlatformWindows: capsWith(models.PlatformWindows, models.FeatureSound),
	}
	m := BuildMatrix(caps)
	for _, f := range models.AllFeatures {
		want := false
		for _, c := range caps {
			if c.SupportsFeature(f) {
				want = true
				break
			}
		}
		assert.Equal(t, want, m.IsSupported(f), string(f))
	}
}

func TestBestPlatformPrefersRicherHost(t *testing.T) {
	linux := capsWith(models.PlatformLinux, models.FeatureActions)
	mac := capsWith(models.PlatformMacOS, models.FeatureActions)
	mac.SupportsBackgroundActivation = true
	mac.SupportsCustomUI = true
	caps := map[models.Platform]models.PlatformCapabilities{
		models.PlatformLinux: linux,
		models.PlatformMacOS: mac,
	}
	m := BuildMatrix(caps)
	assert.Equal(t, models.PlatformMacOS, m.BestPlatformPerFeature[models.FeatureActions])
}

func TestDecideFailsOnCriticalUnsupported(t *testing.T) {
	caps := capsWith(models.PlatformWindows, models.FeatureActions)
	matrix := BuildMatrix(map[models.Platform]models.PlatformCapabilities{models.PlatformWindows: caps})

	strategy, err := Decide(models.PlatformWindows, caps, matrix,
		[]models.Feature{models.FeatureReplies}, true)
	require.Error(t, err)
	var critical *ErrCriticalUnsupported
	require.ErrorAs(t, err, &critical)
	assert.Equal(t, []models.Feature{models.FeatureReplies}, critical.Features)
	assert.Equal(t, []models.Feature{models.FeatureReplies}, strategy.CriticalUnsupported)
}

func TestDecideDegradesWhenNotCritical(t *testing.T) {
	caps := capsWith(models.PlatformWindows, models.FeatureActions)
	matrix := BuildMatrix(map[models.Platform]models.PlatformCapabilities{models.PlatformWindows: caps})

	strategy, err := Decide(models.PlatformWindows, caps, matrix, nil, false)
	require.NoError(t, err)
	assert.Equal(t, models.FallbackSimplify, strategy.Substituted[models.FeatureSound])
	assert.Empty(t, strategy.CriticalUnsupported)
}

func TestApplyTrimsActionsOverLimit(t *testing.T) {
	caps := capsWith(models.PlatformLinux, models.FeatureActions)
	content := models.Content{
		Title: "T",
		Body:  models.PlainText("b"),
		Interactions: models.Interactions{Actions: []models.NotificationAction{
			{ID: "a", Label: "A"}, {ID: "b", Label: "B"}, {ID: "c", Label: "C"},
		}},
	}
	strategy := models.DegradationStrategy{ActionFallback: models.FallbackBatchIntoMenu}
	out := Apply(content, caps, strategy)
	assert.Len(t, out.Interactions.Actions, 2)
	// input content untouched
	assert.Len(t, content.Interactions.Actions, 3)
}

func TestApplyDropsMediaWithoutRichMediaSupport(t *testing.T) {
	caps := capsWith(models.PlatformWindows)
	content := models.Content{
		Title: "T",
		Media: []models.MediaAttachment{{Identifier: "hero", Image: models.ImageFromFile("/tmp/x.png")}},
	}
	strategy := models.DegradationStrategy{MediaFallback: models.FallbackRemoveMedia}
	out := Apply(content, caps, strategy)
	assert.Empty(t, out.Media)
}
