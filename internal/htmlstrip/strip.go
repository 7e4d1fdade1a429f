// Package htmlstrip converts HTML message bodies to readable plain text.
package htmlstrip

import (
	"bytes"
	"io"
	"strings"

	"golang.org/x/net/html"
)

var skipElements = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"head":     true,
	"title":    true,
}

// paragraphElements are separated from their surroundings by a blank line.
var paragraphElements = map[string]bool{
	"p": true, "h1": true, "h2": true, "h3": true, "h4": true, "h5": true,
	"h6": true, "blockquote": true, "pre": true, "table": true, "ul": true,
	"ol": true, "hr": true,
}

// lineElements start on a new line.
var lineElements = map[string]bool{
	"div": true, "li": true, "tr": true, "section": true, "article": true,
	"header": true, "footer": true, "nav": true, "main": true, "aside": true,
	"figure": true, "figcaption": true, "details": true, "summary": true,
	"dt": true, "dd": true,
}

type separator int

const (
	sepNone separator = iota
	sepSpace
	sepLine
	sepParagraph
)

type reader struct {
	tokenizer *html.Tokenizer
	buf       bytes.Buffer
	done      bool
	skipDepth int
	preDepth  int
	pending   separator
	hasOutput bool

	href       string
	anchorText strings.Builder
}

// NewReader wraps an HTML io.Reader and returns a reader that emits plain text.
// Block structure is kept as line breaks, list items are prefixed with "- "
// and link targets follow the link text in angle brackets.
func NewReader(r io.Reader) io.Reader {
	return &reader{tokenizer: html.NewTokenizer(r)}
}

// String converts an HTML document to plain text.
func String(doc string) string {
	var b strings.Builder
	io.Copy(&b, NewReader(strings.NewReader(doc)))
	return b.String()
}

func (r *reader) Read(p []byte) (int, error) {
	for r.buf.Len() < len(p) && !r.done {
		r.next()
	}
	if r.buf.Len() == 0 && r.done {
		return 0, io.EOF
	}
	return r.buf.Read(p)
}

func (r *reader) next() {
	switch r.tokenizer.Next() {
	case html.ErrorToken:
		r.done = true

	case html.StartTagToken, html.SelfClosingTagToken:
		tn, hasAttr := r.tokenizer.TagName()
		r.start(string(tn), hasAttr)

	case html.EndTagToken:
		tn, _ := r.tokenizer.TagName()
		r.end(string(tn))

	case html.TextToken:
		if r.skipDepth > 0 {
			return
		}
		r.writeText(r.tokenizer.Text())
	}
}

func (r *reader) start(tag string, hasAttr bool) {
	if skipElements[tag] {
		r.skipDepth++
		return
	}

	switch {
	case paragraphElements[tag]:
		r.separate(sepParagraph)
	case lineElements[tag], tag == "br":
		r.separate(sepLine)
	}

	switch tag {
	case "pre":
		r.preDepth++
	case "li":
		r.emit([]byte("- "))
	case "img":
		if alt := r.attr(hasAttr, "alt"); alt != "" {
			r.writeText([]byte(alt))
		}
	case "a":
		r.href = r.attr(hasAttr, "href")
		r.anchorText.Reset()
	case "td", "th":
		r.separate(sepSpace)
	}
}

func (r *reader) end(tag string) {
	if skipElements[tag] {
		if r.skipDepth > 0 {
			r.skipDepth--
		}
		return
	}

	switch tag {
	case "pre":
		if r.preDepth > 0 {
			r.preDepth--
		}
	case "a":
		href := r.href
		r.href = ""
		if linkable(href) && strings.TrimSpace(r.anchorText.String()) != href {
			r.separate(sepSpace)
			r.emit([]byte("<" + href + ">"))
		}
	}

	switch {
	case paragraphElements[tag]:
		r.separate(sepParagraph)
	case lineElements[tag]:
		r.separate(sepLine)
	}
}

func (r *reader) attr(hasAttr bool, name string) string {
	for hasAttr {
		key, val, more := r.tokenizer.TagAttr()
		if string(key) == name {
			return string(val)
		}
		hasAttr = more
	}
	return ""
}

func linkable(href string) bool {
	return strings.HasPrefix(href, "http://") ||
		strings.HasPrefix(href, "https://") ||
		strings.HasPrefix(href, "mailto:")
}

// separate records that the next text must be preceded by at least s.
func (r *reader) separate(s separator) {
	if s > r.pending {
		r.pending = s
	}
}

// emit writes text after flushing any pending separator.
func (r *reader) emit(text []byte) {
	if len(text) == 0 {
		return
	}
	if r.hasOutput {
		switch r.pending {
		case sepSpace:
			r.buf.WriteByte(' ')
		case sepLine:
			r.buf.WriteByte('\n')
		case sepParagraph:
			r.buf.WriteString("\n\n")
		}
	}
	r.pending = sepNone
	r.hasOutput = true
	r.buf.Write(text)
	if r.href != "" {
		r.anchorText.Write(text)
	}
}

func (r *reader) writeText(text []byte) {
	if r.preDepth > 0 {
		r.emit(bytes.ReplaceAll(text, []byte("\r\n"), []byte("\n")))
		return
	}
	start := -1
	for i, b := range text {
		if isSpace(b) {
			if start >= 0 {
				r.emit(text[start:i])
				start = -1
			}
			r.separate(sepSpace)
		} else if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		r.emit(text[start:])
	}
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r' || b == '\f'
}
