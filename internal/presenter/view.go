package presenter

import (
	"encoding/json"
	"html/template"
	"strings"
	"time"

	"github.com/jarrod-lowe/jmap-service-webmail/internal/email"
	"github.com/jarrod-lowe/jmap-service-webmail/internal/headers"
)

// Row is one labelled value of the header or envelope table. Exactly one
// of Text, HTML and Time is set.
type Row struct {
	Key  string
	Text string
	HTML template.HTML
	Time time.Time
}

// ListInfo describes the mailing list a message came through.
type ListInfo struct {
	ID          *headers.Address `json:"id,omitempty"`
	Unsubscribe []string         `json:"unsubscribe,omitempty"`
}

// AttachmentView is an attachment with its routable URL.
type AttachmentView struct {
	email.Attachment
	URL string `json:"url"`
}

// ContentTypeView is the top level content type shown to clients.
type ContentTypeView struct {
	Value  string            `json:"value"`
	Params map[string]string `json:"params,omitempty"`
}

// MessageView is the model of the message page.
type MessageView struct {
	ID          string              `json:"id"`
	MailboxID   string              `json:"mailbox"`
	UID         uint32              `json:"uid"`
	ThreadID    string              `json:"thread,omitempty"`
	Subject     string              `json:"subject"`
	From        []headers.Address   `json:"from,omitempty"`
	Sender      []headers.Address   `json:"sender,omitempty"`
	ReplyTo     []headers.Address   `json:"replyTo,omitempty"`
	To          []headers.Address   `json:"to,omitempty"`
	Cc          []headers.Address   `json:"cc,omitempty"`
	Bcc         []headers.Address   `json:"bcc,omitempty"`
	SMTPFrom    []headers.Address   `json:"smtpFrom,omitempty"`
	SMTPTo      []headers.Address   `json:"smtpTo,omitempty"`
	Meta        email.Meta          `json:"meta"`
	MessageID   string              `json:"messageId"`
	Date        time.Time           `json:"date"`
	InReplyTo   []string            `json:"inReplyTo,omitempty"`
	List        *ListInfo           `json:"list,omitempty"`
	Expires     *time.Time          `json:"expires,omitempty"`
	Seen        bool                `json:"seen"`
	Deleted     bool                `json:"deleted"`
	Flagged     bool                `json:"flagged"`
	Draft       bool                `json:"draft"`
	HTML        []string            `json:"html"`
	Text        string              `json:"text"`
	Attachments []AttachmentView    `json:"attachments"`
	Raw         string              `json:"raw"`
	ContentType *ContentTypeView    `json:"contentType,omitempty"`
	Encrypted   bool                `json:"encrypted,omitempty"`

	// Public marks a view reached through an opaque id.
	Public   bool   `json:"-"`
	URL      string `json:"-"`
	Source   string `json:"-"`
	Info     []Row  `json:"-"`
	Envelope []Row  `json:"-"`
}

// JSON returns the view as JSON that is safe to embed in a script element.
func (v *MessageView) JSON() (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(string(b), "/", `\u002f`), nil
}

// SourceView is the model of the source page.
type SourceView struct {
	ID      string
	URL     string
	Raw     string
	Subject string
	// Prefix is the retained start of the raw message.
	Prefix []byte
	// Dropped counts the bytes after Prefix that were not retained.
	Dropped int64
	// Size is the length of the whole raw message.
	Size int64
	// HTML is the escaped source, one span per line, ending with a
	// truncation marker when Dropped is non-zero.
	HTML template.HTML
}
