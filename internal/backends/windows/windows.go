// Package windows implements the Windows toast notification backend.
// Rendering and delivery go through a Notifier seam so
// the XML construction and ExpirationTime math are unit-testable
// without a live Action Center; the production Notifier invokes
// PowerShell's WinRT toast APIs, the same zero-cgo technique the wider
// Go toast-notification ecosystem uses on this platform.
package windows

import (
	"context"
	"encoding/xml"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"notifyd/internal/sanitize"
	"notifyd/models"
)

// windowsEpoch is 1601-01-01T00:00:00Z, the origin of Windows FILETIME
// 100-ns ticks.
var windowsEpoch = time.Date(1601, 1, 1, 0, 0, 0, 0, time.UTC)

// ExpirationTicks converts a TTL into Windows 100-ns ticks since the
// epoch, the value ToastNotification.ExpirationTime expects. Kept as a
// pure function so the epoch-boundary cases are directly testable.
func ExpirationTicks(now time.Time, ttl time.Duration) int64 {
	expiry := now.Add(ttl)
	// time.Time.Sub saturates past ~292 years, so whole seconds and the
	// sub-second remainder are counted separately.
	secs := expiry.Unix() - windowsEpoch.Unix()
	return secs*10_000_000 + int64(expiry.Nanosecond())/100
}

// Notifier is the seam between this adapter and the real Action
// Center.
type Notifier interface {
	Show(appID string, toastXML string) (nativeID string, err error)
	RemoveFromHistory(appID, tag, group string)
}

// Backend implements backends.Backend for Windows.
type Backend struct {
	notifier  Notifier
	sanitizer sanitize.Sanitizer
	appID     string

	mu     sync.Mutex
	native map[string]string // notification id -> tag used for history removal
}

func New(notifier Notifier, sanitizer sanitize.Sanitizer, appID string) *Backend {
	return &Backend{notifier: notifier, sanitizer: sanitizer, appID: appID, native: make(map[string]string)}
}

func (b *Backend) Platform() models.Platform { return models.PlatformWindows }

func (b *Backend) NegotiateCapabilities(ctx context.Context) (models.PlatformCapabilities, error) {
	return models.PlatformCapabilities{
		Platform:           models.PlatformWindows,
		CompatibilityLevel: models.CompatibilityFull,
		Features: map[models.Feature]bool{
			models.FeatureActions:    true,
			models.FeatureRichMedia:  true,
			models.FeatureSound:      true,
			models.FeatureScheduling: true,
			models.FeatureCategories: true,
			models.FeatureUpdateContent: false,
		},
		MaxTitleLength:    128,
		MaxBodyLength:     1024,
		MaxActions:        5,
		MaxImageSizeBytes: 200 * 1024,
		HasRateLimits:     false,
	}, nil
}

func (b *Backend) RequestAuthorization(ctx context.Context) (models.AuthorizationState, error) {
	// Windows toast permission is implied by app registration; no
	// separate user prompt exists the way macOS/iOS require one.
	now := time.Now()
	return models.AuthorizationState{Kind: models.AuthAuthorized, GrantedAt: &now}, nil
}

// toastDocument is the XML shape a ToastGeneric template expects.
type toastDocument struct {
	XMLName xml.Name    `xml:"toast"`
	Visual  toastVisual `xml:"visual"`
	Audio   toastAudio  `xml:"audio"`
}

type toastVisual struct {
	Binding toastBinding `xml:"binding"`
}

type toastBinding struct {
	Template string      `xml:"template,attr"`
	Texts    []toastText `xml:"text"`
	Images   []toastImage `xml:"image,omitempty"`
}

type toastText struct {
	HintStyle string `xml:"hint-style,attr"`
	Value     string `xml:",chardata"`
}

type toastImage struct {
	Src       string `xml:"src,attr"`
	Placement string `xml:"placement,attr,omitempty"`
	HintCrop  string `xml:"hint-crop,attr,omitempty"`
}

type toastAudio struct {
	Src string `xml:"src,attr"`
}

func (b *Backend) renderXML(content models.Content, heroPath, logoPath string) (string, error) {
	body, err := b.plainBody(content.Body)
	if err != nil {
		return "", err
	}
	texts := []toastText{{HintStyle: "title", Value: content.Title}}
	if content.Subtitle != "" {
		texts = append(texts, toastText{HintStyle: "captionSubtle", Value: content.Subtitle})
	}
	texts = append(texts, toastText{HintStyle: "body", Value: body})

	var images []toastImage
	if heroPath != "" {
		images = append(images, toastImage{Src: heroPath, Placement: "hero"})
	}
	if logoPath != "" {
		images = append(images, toastImage{Src: logoPath, Placement: "appLogoOverride", HintCrop: "circle"})
	}

	doc := toastDocument{
		Visual: toastVisual{Binding: toastBinding{Template: "ToastGeneric", Texts: texts, Images: images}},
		Audio:  toastAudio{Src: "ms-winsoundevent:Notification.Default"},
	}
	out, err := xml.Marshal(doc)
	if err != nil {
		return "", models.NewPlatformError("Windows", "render toast xml: "+err.Error(), 0)
	}
	return xml.Header + string(out), nil
}

func (b *Backend) Deliver(ctx context.Context, req models.NotificationRequest) (models.DeliveryReceipt, error) {
	start := time.Now()

	heroPath, logoPath := "", ""
	for _, m := range req.Content.Media {
		if m.Identifier == "hero" {
			heroPath = m.Image.Path
		} else if m.Identifier == "appLogoOverride" {
			logoPath = m.Image.Path
		}
	}

	toastXML, err := b.renderXML(req.Content, heroPath, logoPath)
	if err != nil {
		return models.DeliveryReceipt{}, err
	}

	nativeID, err := b.notifier.Show(b.appID, toastXML)
	if err != nil {
		return models.DeliveryReceipt{}, models.NewPlatformError("Windows", err.Error(), 0)
	}

	b.mu.Lock()
	b.native[req.NotificationID.String()] = nativeID
	b.mu.Unlock()

	ttl := time.Hour
	if req.Options.TTLMillis > 0 {
		ttl = time.Duration(req.Options.TTLMillis) * time.Millisecond
	}
	expirationTicks := ExpirationTicks(start, ttl)

	return models.DeliveryReceipt{
		Platform:        models.PlatformWindows,
		NativeID:        nativeID,
		DeliveredAt:     time.Now(),
		DeliveryLatency: time.Since(start),
		Metadata: map[string]string{
			"platform_api":     "ToastNotificationManager",
			"expiration_ticks": fmt.Sprintf("%d", expirationTicks),
		},
	}, nil
}

// Update has no in-place API: it removes then redelivers minimal
// title/body content built from content_changes.
func (b *Backend) Update(ctx context.Context, id models.NotificationID, update models.NotificationUpdate) error {
	if err := b.Cancel(ctx, id); err != nil {
		return err
	}
	if !update.ContentChanges.NonEmpty() {
		return nil
	}
	content := models.Content{}
	if update.ContentChanges.Title != nil {
		content.Title = *update.ContentChanges.Title
	}
	if update.ContentChanges.Body != nil {
		content.Body = *update.ContentChanges.Body
	}
	toastXML, err := b.renderXML(content, "", "")
	if err != nil {
		return err
	}
	nativeID, err := b.notifier.Show(b.appID, toastXML)
	if err != nil {
		return models.NewPlatformError("Windows", err.Error(), 0)
	}
	b.mu.Lock()
	b.native[id.String()] = nativeID
	b.mu.Unlock()
	return nil
}

// Cancel removes the toast from Action Center history by (tag, group,
// app_id); there is no API to cancel a pending toast before it
// shows.
func (b *Backend) Cancel(ctx context.Context, id models.NotificationID) error {
	b.mu.Lock()
	tag, ok := b.native[id.String()]
	delete(b.native, id.String())
	b.mu.Unlock()
	if ok {
		b.notifier.RemoveFromHistory(b.appID, tag, "notifyd")
	}
	return nil
}

func (b *Backend) plainBody(body models.RichText) (string, error) {
	switch body.Kind {
	case models.BodyHTML:
		return b.sanitizer.ToPlainText(body.HTML)
	case models.BodyMarkdown:
		return body.Markdown, nil
	case models.BodyPlatformSpecific:
		if v, ok := body.PlatformSpecific[string(models.PlatformWindows)]; ok {
			return v, nil
		}
		return "", nil
	default:
		return body.Plain, nil
	}
}

// PowerShellNotifier is the production Notifier: it shells out to
// PowerShell's WinRT toast interop, scoped by a single app_id for
// the process lifetime.
type PowerShellNotifier struct{}

func (PowerShellNotifier) Show(appID, toastXML string) (string, error) {
	script := fmt.Sprintf(`
$xml = New-Object Windows.Data.Xml.Dom.XmlDocument
$xml.LoadXml(%s)
$toast = New-Object Windows.UI.Notifications.ToastNotification $xml
[Windows.UI.Notifications.ToastNotificationManager]::CreateToastNotifier(%s).Show($toast)
`, powershellQuote(toastXML), powershellQuote(appID))
	cmd := exec.Command("powershell", "-NoProfile", "-Command", script)
	if err := cmd.Run(); err != nil {
		return "", err
	}
	return appID + "-" + time.Now().Format("150405.000000"), nil
}

func (PowerShellNotifier) RemoveFromHistory(appID, tag, group string) {
	script := fmt.Sprintf(
		`[Windows.UI.Notifications.ToastNotificationManager]::History.Remove(%s, %s, %s)`,
		powershellQuote(tag), powershellQuote(group), powershellQuote(appID),
	)
	_ = exec.Command("powershell", "-NoProfile", "-Command", script).Run()
}

func powershellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
