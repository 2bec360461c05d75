package markdown

import (
	"regexp"
	"strconv"
	"strings"
)

const (
	fence       = "```"
	tokenPrefix = "\x00CODEBLOCK"
	tokenSuffix = "\x00"
)

var (
	headingRe   = regexp.MustCompile(`^(#{1,6})\s+(.*)$`)
	quoteRe     = regexp.MustCompile(`^>\s?(.*)$`)
	orderedRe   = regexp.MustCompile(`^\d+\.\s+(.*)$`)
	unorderedRe = regexp.MustCompile(`^[-*+]\s+(.*)$`)
	tokenRe     = regexp.MustCompile(`^\x00CODEBLOCK(\d+)\x00$`)
	langRe      = regexp.MustCompile(`^[A-Za-z0-9_+-]+$`)
)

// Parse lexes src into a block sequence. Fenced code is pulled out before
// anything else so its content is never read as structure.
func Parse(src string) []Block {
	src = strings.ReplaceAll(src, "\r\n", "\n")
	// NUL is reserved for placeholder tokens.
	src = strings.ReplaceAll(src, "\x00", "\uFFFD")

	text, codes := extractFences(src)
	return lexBlocks(text, codes)
}

// extractFences replaces every terminated ``` fence with a placeholder token
// on a line of its own and returns the extracted blocks in source order.
func extractFences(src string) (string, []CodeBlock) {
	var (
		out   strings.Builder
		codes []CodeBlock
	)
	rest := src
	for {
		open := strings.Index(rest, fence)
		if open < 0 {
			break
		}
		closeAt := strings.Index(rest[open+len(fence):], fence)
		if closeAt < 0 {
			// Unterminated fences stay literal.
			break
		}
		body := rest[open+len(fence) : open+len(fence)+closeAt]

		out.WriteString(rest[:open])
		out.WriteString("\n\n")
		out.WriteString(tokenPrefix)
		out.WriteString(strconv.Itoa(len(codes)))
		out.WriteString(tokenSuffix)
		out.WriteString("\n\n")

		codes = append(codes, splitFenceBody(body))
		rest = rest[open+len(fence)+closeAt+len(fence):]
	}
	out.WriteString(rest)
	return out.String(), codes
}

func splitFenceBody(body string) CodeBlock {
	nl := strings.IndexByte(body, '\n')
	if nl < 0 {
		return CodeBlock{Code: body}
	}
	info := strings.TrimSpace(body[:nl])
	switch {
	case info == "":
		return CodeBlock{Code: trimTrailingNewline(body[nl+1:])}
	case langRe.MatchString(info):
		return CodeBlock{Lang: info, Code: trimTrailingNewline(body[nl+1:])}
	default:
		return CodeBlock{Code: trimTrailingNewline(body)}
	}
}

func trimTrailingNewline(s string) string {
	return strings.TrimSuffix(s, "\n")
}

func lexBlocks(text string, codes []CodeBlock) []Block {
	lines := strings.Split(text, "\n")
	var (
		blocks []Block
		para   [][]Inline
	)
	flush := func() {
		if len(para) > 0 {
			blocks = append(blocks, Paragraph{Lines: para})
			para = nil
		}
	}

	for i := 0; i < len(lines); i++ {
		line := lines[i]
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}

		if m := tokenRe.FindStringSubmatch(line); m != nil {
			flush()
			n, _ := strconv.Atoi(m[1])
			if n < len(codes) {
				blocks = append(blocks, codes[n])
			}
			continue
		}

		if m := headingRe.FindStringSubmatch(line); m != nil && strings.TrimSpace(m[2]) != "" {
			flush()
			blocks = append(blocks, Heading{
				Level: len(m[1]),
				Text:  parseInline(strings.TrimSpace(m[2])),
			})
			continue
		}

		if m := quoteRe.FindStringSubmatch(line); m != nil {
			flush()
			blocks = append(blocks, Quote{Text: parseInline(m[1])})
			continue
		}

		if orderedRe.MatchString(line) || unorderedRe.MatchString(line) {
			flush()
			re := unorderedRe
			ordered := orderedRe.MatchString(line)
			if ordered {
				re = orderedRe
			}
			var items [][]Inline
			for ; i < len(lines); i++ {
				m := re.FindStringSubmatch(lines[i])
				if m == nil {
					break
				}
				items = append(items, parseInline(strings.TrimSpace(m[1])))
			}
			i--
			blocks = append(blocks, List{Ordered: ordered, Items: items})
			continue
		}

		para = append(para, parseInline(strings.TrimSpace(line)))
	}
	flush()
	return blocks
}
