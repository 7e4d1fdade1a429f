// Package email reads message records written by the mail store.
package email

import (
	"strings"
	"time"

	"github.com/jarrod-lowe/jmap-service-webmail/internal/headers"
	"golang.org/x/text/unicode/norm"
)

// Meta is the SMTP envelope recorded when the message was received.
type Meta struct {
	From       string    `json:"from,omitempty"`
	To         string    `json:"to,omitempty"`
	Origin     string    `json:"origin,omitempty"`
	OriginHost string    `json:"originhost,omitempty"`
	TransHost  string    `json:"transhost,omitempty"`
	TransType  string    `json:"transtype,omitempty"`
	Time       time.Time `json:"time"`
}

// ContentType is the parsed top level Content-Type header.
type ContentType struct {
	Value   string            `json:"value"`
	Type    string            `json:"type,omitempty"`
	Subtype string            `json:"subtype,omitempty"`
	Params  map[string]string `json:"params,omitempty"`
}

// HasParams reports whether the header carried any parameters.
func (c *ContentType) HasParams() bool {
	return c != nil && len(c.Params) > 0
}

// ParsedHeader is the subset of the message header kept in structured form.
// Address names may still contain encoded words.
type ParsedHeader struct {
	Subject         string            `json:"subject,omitempty"`
	From            []headers.Address `json:"from,omitempty"`
	Sender          []headers.Address `json:"sender,omitempty"`
	ReplyTo         []headers.Address `json:"reply-to,omitempty"`
	To              []headers.Address `json:"to,omitempty"`
	Cc              []headers.Address `json:"cc,omitempty"`
	Bcc             []headers.Address `json:"bcc,omitempty"`
	InReplyTo       string            `json:"in-reply-to,omitempty"`
	ListID          string            `json:"list-id,omitempty"`
	ListUnsubscribe string            `json:"list-unsubscribe,omitempty"`
	ContentType     *ContentType      `json:"content-type,omitempty"`
}

// Attachment describes one attachment of a message.
type Attachment struct {
	ID               string `json:"id"`
	Filename         string `json:"filename,omitempty"`
	ContentType      string `json:"contentType,omitempty"`
	Disposition      string `json:"disposition,omitempty"`
	TransferEncoding string `json:"transferEncoding,omitempty"`
	Related          bool   `json:"related,omitempty"`
	SizeKB           int64  `json:"sizeKb,omitempty"`
}

// Message is a stored message. Which fields are populated depends on the
// Fields set used to read it.
type Message struct {
	MailboxID      string
	UID            uint32
	MessageID      string
	UserID         string
	ThreadID       string
	Meta           Meta
	HeaderDate     time.Time
	Header         *ParsedHeader
	MsgID          string
	Expires        bool
	RetentionDate  time.Time
	Unseen         bool
	Undeleted      bool
	Flagged        bool
	Draft          bool
	Intro          string
	HasAttachments bool
	Outbound       []string
	Attachments    []Attachment
	AttachmentMap  map[string]string
	HTML           []string
	Text           string
	BlobID         string
	Size           int64
}

// AttachmentMeta is the stored metadata of an attachment blob.
type AttachmentMeta struct {
	AttachmentID     string
	ContentType      string
	TransferEncoding string
	BlobID           string
	Size             int64
}

// Fields selects the attributes read for a message.
type Fields int

const (
	// FieldsView reads everything the message page renders.
	FieldsView Fields = iota
	// FieldsSource reads what is needed to stream the raw message.
	FieldsSource
	// FieldsAttachment reads the attachment list and map.
	FieldsAttachment
	// FieldsListing reads what a listing row shows.
	FieldsListing
)

// Filter restricts a listing. The zero Filter matches the whole mailbox.
type Filter struct {
	Unseen  bool
	Subject string
}

// IsTrivial reports whether the filter matches every message in the mailbox.
func (f Filter) IsTrivial() bool {
	return !f.Unseen && strings.TrimSpace(f.Subject) == ""
}

// SubjectKey normalizes a subject for substring matching.
func SubjectKey(s string) string {
	return strings.ToLower(norm.NFC.String(strings.TrimSpace(s)))
}

// Query is one cursor-bounded read of a mailbox in uid order.
type Query struct {
	MinUID     uint32
	MaxUID     uint32
	Limit      int
	Descending bool
	Filter     Filter
}

// Page is the result of a Query. More reports whether further messages
// exist beyond the last returned one in query order.
type Page struct {
	Messages []*Message
	More     bool
}
