// Package charset converts header and body text in legacy character sets to UTF-8.
package charset

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/transform"
)

// NewReader returns a reader that yields r converted from label to UTF-8.
// It has the signature of mime.WordDecoder.CharsetReader.
//
// UTF-8 input is validated and, when invalid, read as ISO-8859-1 instead.
// Unknown labels are an error so that the caller keeps the raw text.
func NewReader(label string, r io.Reader) (io.Reader, error) {
	label = strings.ToLower(strings.TrimSpace(label))

	switch label {
	case "", "us-ascii", "ascii", "utf-8", "utf8":
		return validUTF8(r)
	case "latin1", "latin-1":
		return transform.NewReader(r, charmap.ISO8859_1.NewDecoder()), nil
	}

	enc, err := lookup(label)
	if err != nil {
		return nil, err
	}
	if enc == nil {
		return validUTF8(r)
	}
	return transform.NewReader(r, enc.NewDecoder()), nil
}

// String converts s from label to UTF-8, returning s unchanged when the
// label is unknown or the conversion fails.
func String(label, s string) string {
	r, err := NewReader(label, strings.NewReader(s))
	if err != nil {
		return s
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return s
	}
	return string(out)
}

func lookup(label string) (encoding.Encoding, error) {
	enc, err := ianaindex.MIME.Encoding(label)
	if err != nil || enc == nil {
		if alt, altErr := ianaindex.IANA.Encoding(label); altErr == nil {
			return alt, nil
		}
	}
	if err != nil {
		return nil, fmt.Errorf("unknown charset %q: %w", label, err)
	}
	return enc, nil
}

func validUTF8(r io.Reader) (io.Reader, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if utf8.Valid(content) {
		return bytes.NewReader(content), nil
	}
	decoded, _, err := transform.Bytes(charmap.ISO8859_1.NewDecoder(), content)
	if err != nil {
		return bytes.NewReader(content), nil
	}
	return bytes.NewReader(decoded), nil
}
