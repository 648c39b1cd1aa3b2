package export

import (
	"bytes"
	"html/template"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var (
	markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))
	policy   = bluemonday.UGCPolicy()
)

// RenderDescription converts Markdown to HTML and strips anything the UGC
// policy does not allow.
func RenderDescription(source string) template.HTML {
	if strings.TrimSpace(source) == "" {
		return ""
	}
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(source), &buf); err != nil {
		return template.HTML(policy.Sanitize(template.HTMLEscapeString(source)))
	}
	return template.HTML(policy.SanitizeBytes(buf.Bytes()))
}

// RenderMarkdown writes the board as a Markdown document: one heading per
// list and one bullet per card.
func RenderMarkdown(board Board) []byte {
	var buf bytes.Buffer
	buf.WriteString("# " + board.Title + "\n\n")
	for _, list := range board.Lists {
		buf.WriteString("## " + list.Title + "\n\n")
		if len(list.Cards) == 0 {
			buf.WriteString("_No cards_\n\n")
			continue
		}
		for _, card := range list.Cards {
			buf.WriteString("- **" + card.Title + "**\n")
			for _, line := range strings.Split(strings.TrimSpace(card.Description), "\n") {
				if line == "" {
					continue
				}
				buf.WriteString("  " + line + "\n")
			}
		}
		buf.WriteString("\n")
	}
	return buf.Bytes()
}
