// Package sanitize projects an HTML notification body down to the
// plain text and Pango markup that native platforms actually render:
// PuerkitoBio/goquery for DOM-level text extraction,
// JohannesKaufmann/html-to-markdown for a structure-preserving
// markdown projection.
package sanitize

import (
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/PuerkitoBio/goquery"

	"notifyd/models"
)

// Sanitizer turns HTML into a safe projection. Kept as an
// interface so backends depend on the contract, not on which markdown
// or DOM library implements it.
type Sanitizer interface {
	// ToPlainText strips all markup, returning flattened,
	// whitespace-collapsed text suitable for platforms with no markup
	// support at all (macOS/Windows plain body).
	ToPlainText(html string) (string, error)
	// ToPango converts HTML to Pango markup for the Linux backend's
	// markup path. Only bold (<b>) and italic (<i>) are emitted;
	// underline, links and images are not converted and their text
	// passes through escaped.
	ToPango(html string) (string, error)
}

// Default is the production Sanitizer.
type Default struct{}

func NewDefault() Default { return Default{} }

func (Default) ToPlainText(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", models.NewSanitizationError(err)
	}
	text := doc.Text()
	return collapseWhitespace(text), nil
}

// pangoAllowed lists the tags a libnotify server's Pango markup parser
// accepts. ToPango does not consult it: markdownToPango emits only <b>
// and <i> and escapes everything else.
var pangoAllowed = map[string]bool{
	"b": true, "i": true, "u": true, "a": true, "img": true,
}

func (d Default) ToPango(html string) (string, error) {
	md, err := htmltomarkdown.ConvertString(html)
	if err != nil {
		return "", models.NewSanitizationError(err)
	}
	return markdownToPango(md), nil
}

// markdownToPango rewrites the emphasis markers html-to-markdown emits
// into Pango tags: "**" toggles <b>, a single "*" or "_" toggles <i>.
// Links and any other markdown syntax or raw text pass through
// escaped, since Pango rejects unknown entities outright.
func markdownToPango(md string) string {
	var b strings.Builder
	open := map[string]bool{}
	runes := []rune(md)
	for i := 0; i < len(runes); i++ {
		switch {
		case matchAt(runes, i, "**"):
			toggleTag(&b, open, "b")
			i++
		case matchAt(runes, i, "*"), matchAt(runes, i, "_"):
			toggleTag(&b, open, "i")
		default:
			escapeRune(&b, runes[i])
		}
	}
	return b.String()
}

func matchAt(runes []rune, i int, s string) bool {
	if i+len(s) > len(runes) {
		return false
	}
	for j, r := range s {
		if runes[i+j] != r {
			return false
		}
	}
	return true
}

func toggleTag(b *strings.Builder, open map[string]bool, tag string) {
	if open[tag] {
		b.WriteString("</" + tag + ">")
		open[tag] = false
	} else {
		b.WriteString("<" + tag + ">")
		open[tag] = true
	}
}

func escapeRune(b *strings.Builder, r rune) {
	switch r {
	case '&':
		b.WriteString("&amp;")
	case '<':
		b.WriteString("&lt;")
	case '>':
		b.WriteString("&gt;")
	default:
		b.WriteRune(r)
	}
}

func collapseWhitespace(s string) string {
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}
