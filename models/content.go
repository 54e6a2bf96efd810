package models

// Priority orders notifications; Critical and Urgent bypass Do Not
// Disturb. Order matters: comparisons use the underlying int.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
	PriorityUrgent
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "Low"
	case PriorityNormal:
		return "Normal"
	case PriorityHigh:
		return "High"
	case PriorityCritical:
		return "Critical"
	case PriorityUrgent:
		return "Urgent"
	default:
		return "Unknown"
	}
}

// BypassesDnD reports whether this priority bypasses Do Not Disturb:
// true only for Critical and Urgent.
func (p Priority) BypassesDnD() bool {
	return p == PriorityCritical || p == PriorityUrgent
}

// DefaultTimeout returns the platform-agnostic default expire timeout
// for this priority, or nil for Critical/Urgent (never auto-expire).
func (p Priority) DefaultTimeout() *int {
	if p == PriorityCritical || p == PriorityUrgent {
		return nil
	}
	ms := map[Priority]int{
		PriorityLow:    3000,
		PriorityNormal: 5000,
		PriorityHigh:   10000,
	}[p]
	return &ms
}

// BodyKind tags the union RichText represents.
type BodyKind int

const (
	BodyPlain BodyKind = iota
	BodyMarkdown
	BodyHTML
	BodyPlatformSpecific
)

// RichText is the tagged union for a notification body: Plain,
// Markdown, HTML, or a PlatformSpecific map keyed by platform name.
type RichText struct {
	Kind             BodyKind          `json:"kind"`
	Plain            string            `json:"plain,omitempty"`
	Markdown         string            `json:"markdown,omitempty"`
	HTML             string            `json:"html,omitempty"`
	PlatformSpecific map[string]string `json:"platform_specific,omitempty"`
}

func PlainText(s string) RichText   { return RichText{Kind: BodyPlain, Plain: s} }
func MarkdownText(s string) RichText { return RichText{Kind: BodyMarkdown, Markdown: s} }
func HTMLText(s string) RichText    { return RichText{Kind: BodyHTML, HTML: s} }

// ImageKind tags the ImageData union.
type ImageKind int

const (
	ImageFile ImageKind = iota
	ImageURL
	ImageEmbedded
	ImageSystemIcon
)

// ImageData is the tagged union of ways an image may be supplied.
type ImageData struct {
	Kind           ImageKind `json:"kind"`
	Path           string    `json:"path,omitempty"`
	URL            string    `json:"url,omitempty"`
	EmbeddedBytes  []byte    `json:"embedded_bytes,omitempty"`
	EmbeddedFormat string    `json:"embedded_format,omitempty"`
	SystemIconName string    `json:"system_icon_name,omitempty"`
}

func ImageFromFile(path string) ImageData { return ImageData{Kind: ImageFile, Path: path} }
func ImageFromURL(url string) ImageData   { return ImageData{Kind: ImageURL, URL: url} }
func ImageEmbeddedBytes(b []byte, format string) ImageData {
	return ImageData{Kind: ImageEmbedded, EmbeddedBytes: b, EmbeddedFormat: format}
}
func ImageFromSystemIcon(name string) ImageData {
	return ImageData{Kind: ImageSystemIcon, SystemIconName: name}
}

// MediaAttachment binds an ImageData to an identifier usable by
// platforms that require one (e.g. Apple attachment identifiers).
type MediaAttachment struct {
	Identifier string    `json:"identifier"`
	Image      ImageData `json:"image"`
}

// NotificationAction is a user-invocable action attached to a
// notification. The public field is Label, matching the D-Bus wire
// field name.
type NotificationAction struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// QuickReply is a text-input action (D-Bus servers without reply
// support simply never surface it; macOS/Windows can).
type QuickReply struct {
	ID          string `json:"id"`
	Placeholder string `json:"placeholder"`
}

// Interactions bundles the user-interactive surface of a notification.
type Interactions struct {
	Actions         []NotificationAction `json:"actions,omitempty"`
	QuickReplies    []QuickReply         `json:"quick_replies,omitempty"`
	ContextMenu     []NotificationAction `json:"context_menu,omitempty"`
}

// Content is the notification payload.
type Content struct {
	Title        string                 `json:"title" validate:"required"`
	Subtitle     string                 `json:"subtitle,omitempty"`
	Body         RichText               `json:"body"`
	Media        []MediaAttachment      `json:"media,omitempty"`
	Interactions Interactions           `json:"interactions"`
	Category     *string                `json:"category,omitempty"`
	Priority     Priority               `json:"priority"`
	CustomData   map[string]string      `json:"custom_data,omitempty"`
}
