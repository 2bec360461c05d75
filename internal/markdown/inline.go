package markdown

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

func parseInline(s string) []Inline {
	return parseSpans(s, true)
}

// parseSpans scans left to right. At any position a double delimiter is tried
// as bold before a single one is tried as italic, so **a *b* c** nests the
// italic inside the bold instead of producing two italic spans.
func parseSpans(s string, allowLinks bool) []Inline {
	var (
		out []Inline
		buf strings.Builder
	)
	flush := func() {
		if buf.Len() > 0 {
			out = append(out, Text(buf.String()))
			buf.Reset()
		}
	}

	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == '`':
			if j := codeSpanEnd(s, i); j > 0 {
				flush()
				out = append(out, Code(s[i+1:j]))
				i = j + 1
				continue
			}
		case c == '*' && strings.HasPrefix(s[i:], "**"):
			if j := findStrongCloser(s, i+2); j >= 0 {
				flush()
				out = append(out, Strong(parseSpans(s[i+2:j], allowLinks)))
				i = j + 2
				continue
			}
			buf.WriteString("**")
			i += 2
			continue
		case c == '*' || c == '_':
			if j := findEmphasisCloser(s, i); j >= 0 {
				flush()
				out = append(out, Emphasis(parseSpans(s[i+1:j], allowLinks)))
				i = j + 1
				continue
			}
		case c == '[' && allowLinks:
			if link, n, ok := parseLink(s[i:]); ok {
				flush()
				out = append(out, link)
				i += n
				continue
			}
		}
		buf.WriteByte(c)
		i++
	}
	flush()
	return out
}

// codeSpanEnd returns the index of the backtick closing the span opened at i,
// or -1. Empty spans do not count.
func codeSpanEnd(s string, i int) int {
	j := strings.IndexByte(s[i+1:], '`')
	if j <= 0 {
		return -1
	}
	return i + 1 + j
}

func findStrongCloser(s string, from int) int {
	if from >= len(s) || isSpaceAt(s, from) {
		return -1
	}
	for k := from; k < len(s); k++ {
		if s[k] == '`' {
			if end := codeSpanEnd(s, k); end > 0 {
				k = end
				continue
			}
		}
		if strings.HasPrefix(s[k:], "**") && k > from && !isSpaceBefore(s, k) {
			return k
		}
	}
	return -1
}

func findEmphasisCloser(s string, i int) int {
	d := s[i]
	if i+1 >= len(s) || isSpaceAt(s, i+1) {
		return -1
	}
	if d == '_' && isWordBefore(s, i) {
		return -1
	}
	for k := i + 1; k < len(s); k++ {
		switch {
		case s[k] == '`':
			if end := codeSpanEnd(s, k); end > 0 {
				k = end
			}
			continue
		case d == '*' && strings.HasPrefix(s[k:], "**"):
			// Nested bold delimiters are not closers.
			k++
			continue
		case s[k] != d:
			continue
		}
		if k == i+1 || isSpaceBefore(s, k) {
			continue
		}
		if d == '_' && isWordAt(s, k+1) {
			continue
		}
		return k
	}
	return -1
}

// parseLink reads [label](url) at the start of s. Links whose scheme is not
// allowed are rejected and fall back to literal text.
func parseLink(s string) (Link, int, bool) {
	closeLabel := strings.IndexByte(s, ']')
	if closeLabel < 2 || closeLabel+1 >= len(s) || s[closeLabel+1] != '(' {
		return Link{}, 0, false
	}
	rest := s[closeLabel+2:]
	closeURL := strings.IndexByte(rest, ')')
	if closeURL < 1 {
		return Link{}, 0, false
	}
	href := rest[:closeURL]
	if strings.ContainsAny(href, " \t\n") || !SafeHref(href) {
		return Link{}, 0, false
	}
	label := s[1:closeLabel]
	if strings.ContainsRune(label, '[') {
		return Link{}, 0, false
	}
	return Link{Href: href, Label: parseSpans(label, false)}, closeLabel + 2 + closeURL + 1, true
}

// SafeHref reports whether href is relative or uses http, https or mailto.
func SafeHref(href string) bool {
	lower := strings.ToLower(href)
	i := strings.IndexAny(lower, ":/?#")
	if i < 0 || lower[i] != ':' {
		return true
	}
	switch lower[:i] {
	case "http", "https", "mailto":
		return true
	}
	return false
}

func isSpaceAt(s string, i int) bool {
	if i < 0 || i >= len(s) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(s[i:])
	return unicode.IsSpace(r)
}

func isSpaceBefore(s string, i int) bool {
	if i <= 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return unicode.IsSpace(r)
}

func isWordAt(s string, i int) bool {
	if i < 0 || i >= len(s) {
		return false
	}
	r, _ := utf8.DecodeRuneInString(s[i:])
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func isWordBefore(s string, i int) bool {
	if i <= 0 {
		return false
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
