// Package snippet highlights search terms in listing subjects and previews.
package snippet

import (
	"html"
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

type match struct {
	start, end int
}

// Terms splits a search query into NFC normalized, whitespace separated terms.
func Terms(q string) []string {
	return strings.Fields(norm.NFC.String(q))
}

// Highlight HTML-escapes text and wraps case-insensitive matches of terms in
// <mark> tags. Text without matches is returned escaped.
func Highlight(text string, terms []string) string {
	return build(text, findMatches(text, terms))
}

// HighlightMax is Highlight truncated to at most maxBytes of output.
// Truncation keeps UTF-8 rune boundaries, never splits a tag or an
// entity and appends "...".
func HighlightMax(text string, terms []string, maxBytes int) string {
	result := Highlight(text, terms)
	if len(result) <= maxBytes {
		return result
	}
	return truncate(result, maxBytes)
}

// findMatches returns merged, non-overlapping byte ranges of terms in text,
// sorted by position. Matching folds case rune by rune so offsets always
// refer to text itself.
func findMatches(text string, terms []string) []match {
	var matches []match
	for _, term := range terms {
		if term == "" {
			continue
		}
		for start := 0; start < len(text); {
			if end, ok := foldPrefix(text[start:], term); ok {
				matches = append(matches, match{start, start + end})
			}
			_, size := utf8.DecodeRuneInString(text[start:])
			start += size
		}
	}
	if len(matches) == 0 {
		return nil
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].start != matches[j].start {
			return matches[i].start < matches[j].start
		}
		return matches[i].end > matches[j].end
	})

	merged := []match{matches[0]}
	for _, m := range matches[1:] {
		last := &merged[len(merged)-1]
		if m.start <= last.end {
			if m.end > last.end {
				last.end = m.end
			}
		} else {
			merged = append(merged, m)
		}
	}
	return merged
}

// foldPrefix reports whether s starts with term under simple case folding,
// returning the byte length of the matched prefix of s.
func foldPrefix(s, term string) (int, bool) {
	i := 0
	for _, tr := range term {
		if i >= len(s) {
			return 0, false
		}
		sr, size := utf8.DecodeRuneInString(s[i:])
		if !strings.EqualFold(string(sr), string(tr)) {
			return 0, false
		}
		i += size
	}
	return i, true
}

func build(text string, matches []match) string {
	var b strings.Builder
	pos := 0
	for _, m := range matches {
		if pos < m.start {
			b.WriteString(html.EscapeString(text[pos:m.start]))
		}
		b.WriteString("<mark>")
		b.WriteString(html.EscapeString(text[m.start:m.end]))
		b.WriteString("</mark>")
		pos = m.end
	}
	if pos < len(text) {
		b.WriteString(html.EscapeString(text[pos:]))
	}
	return b.String()
}

func truncate(s string, maxBytes int) string {
	const ellipsis = "..."
	const closeMark = "</mark>"
	target := maxBytes - len(ellipsis) - len(closeMark)
	if target <= 0 {
		return ellipsis
	}

	n := 0
	for n < len(s) {
		_, size := utf8.DecodeRuneInString(s[n:])
		if n+size > target {
			break
		}
		n += size
	}
	truncated := s[:n]

	if open := strings.LastIndexByte(truncated, '<'); open > strings.LastIndexByte(truncated, '>') {
		truncated = truncated[:open]
	}
	if amp := strings.LastIndexByte(truncated, '&'); amp > strings.LastIndexByte(truncated, ';') {
		truncated = truncated[:amp]
	}
	if strings.Count(truncated, "<mark>") > strings.Count(truncated, "</mark>") {
		truncated += closeMark
	}
	return truncated + ellipsis
}
