// ABOUTME: Markdown rendering for outbound Matrix messages
// ABOUTME: Produces the HTML formatted_body that accompanies the plain-text body

package matrix

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
	"maunium.net/go/mautrix/event"
)

var markdown = goldmark.New(
	goldmark.WithExtensions(extension.Strikethrough, extension.Linkify),
	goldmark.WithRendererOptions(html.WithHardWraps()),
)

// renderMarkdown converts text to Matrix HTML. A lone paragraph is unwrapped
// so short replies render inline.
func renderMarkdown(text string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(text), &buf); err != nil {
		return "", err
	}
	out := strings.TrimSpace(buf.String())
	if inner, ok := strings.CutPrefix(out, "<p>"); ok {
		if inner, ok = strings.CutSuffix(inner, "</p>"); ok && !strings.Contains(inner, "<p>") {
			out = inner
		}
	}
	return out, nil
}

// markdownContent builds a message event carrying both body forms. The HTML
// form is dropped when it adds nothing over the plain text.
func markdownContent(text string) (*event.MessageEventContent, error) {
	content := &event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    text,
	}
	formatted, err := renderMarkdown(text)
	if err != nil {
		return nil, err
	}
	if formatted != text {
		content.Format = event.FormatHTML
		content.FormattedBody = formatted
	}
	return content, nil
}
