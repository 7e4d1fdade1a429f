package headers

import (
	"mime"
	"net/mail"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/jarrod-lowe/jmap-service-webmail/internal/charset"
)

var (
	foldRe   = regexp.MustCompile(`\r?\n[ \t]`)
	spacesRe = regexp.MustCompile(`  +`)
	urlRe    = regexp.MustCompile(`<([^>]+)>`)
)

// ParseRaw returns the header value as-is, replacing invalid UTF-8 with U+FFFD.
func ParseRaw(value string) string {
	if utf8.ValidString(value) {
		return value
	}
	return strings.ToValidUTF8(value, "�")
}

// ParseText decodes RFC 2047 encoded words, unfolds whitespace, and normalizes to NFC.
// A value that fails to decode is kept in its raw encoded form.
func ParseText(value string) string {
	if value == "" {
		return ""
	}

	dec := &mime.WordDecoder{CharsetReader: charset.NewReader}
	decoded, err := dec.DecodeHeader(value)
	if err != nil {
		decoded = value
	}

	decoded = foldRe.ReplaceAllString(decoded, " ")
	decoded = strings.ReplaceAll(decoded, "\t", " ")
	decoded = spacesRe.ReplaceAllString(decoded, " ")
	decoded = strings.TrimSpace(decoded)

	return norm.NFC.String(ParseRaw(decoded))
}

// ParseAddresses parses an address list as found in SMTP envelope data
// (MAIL FROM, RCPT TO) or a List-Id header. It never fails: entries that are
// not valid RFC 5322 addresses are kept as bare addresses.
func ParseAddresses(value string) []Address {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}

	if addrs, err := mail.ParseAddressList(value); err == nil {
		result := make([]Address, len(addrs))
		for i, addr := range addrs {
			result[i] = Address{Name: ParseText(addr.Name), Address: addr.Address}
		}
		return result
	}

	var result []Address
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name := ""
		if i := strings.LastIndexByte(part, '<'); i >= 0 {
			name = strings.Trim(strings.TrimSpace(part[:i]), `"`)
			part = part[i+1:]
		}
		part = strings.TrimSpace(strings.TrimSuffix(part, ">"))
		result = append(result, Address{Name: ParseText(name), Address: part})
	}
	return result
}

// ParseMessageIds parses a message ID header into a list of message IDs.
// Angle brackets are stripped from each ID.
func ParseMessageIds(value string) []string {
	parts := strings.Fields(value)
	if len(parts) == 0 {
		return nil
	}

	result := make([]string, 0, len(parts))
	for _, part := range parts {
		id := strings.TrimPrefix(part, "<")
		id = strings.TrimSuffix(id, ">")
		if id != "" {
			result = append(result, id)
		}
	}
	return result
}

// ParseURLs parses an RFC 2369 URL header into a list of URLs.
// Angle brackets are stripped from each URL.
func ParseURLs(value string) []string {
	var result []string
	for _, match := range urlRe.FindAllStringSubmatch(value, -1) {
		result = append(result, strings.TrimSpace(match[1]))
	}
	return result
}
