// Package markdown converts untrusted assistant text into safe HTML markup.
//
// Rendering is two passes: Parse lexes the source into typed blocks and
// inline spans, then RenderBlocks writes markup. All source text reaches the
// output through html.EscapeString, so the only live tags are the ones the
// renderer emits itself. Tables, nested lists and footnotes are not
// recognized and come out as paragraph text.
package markdown

import (
	"html"
	"strconv"
	"strings"
)

// Render parses src and returns its HTML. It is deterministic and meant for a
// single pass over raw text; feeding it its own output escapes the tags.
func Render(src string) string {
	var b strings.Builder
	RenderBlocks(&b, Parse(src))
	return b.String()
}

// RenderBlocks writes blocks to b, one block per line.
func RenderBlocks(b *strings.Builder, blocks []Block) {
	for i, blk := range blocks {
		if i > 0 {
			b.WriteByte('\n')
		}
		switch v := blk.(type) {
		case Heading:
			tag := "h" + strconv.Itoa(v.Level)
			b.WriteString("<" + tag + ">")
			writeInlines(b, v.Text)
			b.WriteString("</" + tag + ">")
		case Quote:
			b.WriteString("<blockquote><p>")
			writeInlines(b, v.Text)
			b.WriteString("</p></blockquote>")
		case List:
			tag := "ul"
			if v.Ordered {
				tag = "ol"
			}
			b.WriteString("<" + tag + ">")
			for _, item := range v.Items {
				b.WriteString("<li>")
				writeInlines(b, item)
				b.WriteString("</li>")
			}
			b.WriteString("</" + tag + ">")
		case CodeBlock:
			if v.Lang != "" {
				b.WriteString(`<pre><code class="language-`)
				b.WriteString(html.EscapeString(v.Lang))
				b.WriteString(`">`)
			} else {
				b.WriteString("<pre><code>")
			}
			b.WriteString(html.EscapeString(v.Code))
			b.WriteString("</code></pre>")
		case Paragraph:
			b.WriteString("<p>")
			for j, line := range v.Lines {
				if j > 0 {
					b.WriteString("<br>")
				}
				writeInlines(b, line)
			}
			b.WriteString("</p>")
		}
	}
}

func writeInlines(b *strings.Builder, spans []Inline) {
	for _, span := range spans {
		switch v := span.(type) {
		case Text:
			b.WriteString(html.EscapeString(string(v)))
		case Code:
			b.WriteString("<code>")
			b.WriteString(html.EscapeString(string(v)))
			b.WriteString("</code>")
		case Strong:
			b.WriteString("<strong>")
			writeInlines(b, v)
			b.WriteString("</strong>")
		case Emphasis:
			b.WriteString("<em>")
			writeInlines(b, v)
			b.WriteString("</em>")
		case Link:
			b.WriteString(`<a href="`)
			b.WriteString(html.EscapeString(v.Href))
			b.WriteString(`" target="_blank" rel="noopener noreferrer">`)
			writeInlines(b, v.Label)
			b.WriteString("</a>")
		}
	}
}

// EscapeText escapes plain text for display next to rendered markup.
func EscapeText(s string) string {
	return html.EscapeString(s)
}
