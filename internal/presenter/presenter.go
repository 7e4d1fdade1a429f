// Package presenter turns stored messages into the models of the message,
// source and attachment views.
package presenter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"

	"github.com/jarrod-lowe/jmap-service-libs/tracing"
	"github.com/jarrod-lowe/jmap-service-webmail/internal/email"
	"github.com/jarrod-lowe/jmap-service-webmail/internal/headers"
	"github.com/jarrod-lowe/jmap-service-webmail/internal/htmlstrip"
	"github.com/jarrod-lowe/jmap-service-webmail/internal/mailbox"
	"github.com/jarrod-lowe/jmap-service-webmail/internal/msgid"
	"github.com/jarrod-lowe/jmap-service-webmail/internal/spanattr"
	"golang.org/x/sync/errgroup"
)

// ErrForbidden is returned when a private request targets another user's mailbox.
var ErrForbidden = errors.New("this mailbox belongs to another user")

// attachmentRef matches the storage internal reference to an inline attachment.
var attachmentRef = regexp.MustCompile(`attachment:([a-f0-9]+)/(ATT\d+)`)

// MessageStore reads and updates stored messages.
type MessageStore interface {
	GetMessage(ctx context.Context, mailboxID string, uid uint32, fields email.Fields) (*email.Message, error)
	MarkSeen(ctx context.Context, mailboxID string, uid uint32) error
	GetAttachment(ctx context.Context, attachmentID string) (*email.AttachmentMeta, error)
}

// MailboxStore reads mailbox records.
type MailboxStore interface {
	GetMailbox(ctx context.Context, mailboxID string) (*mailbox.MailboxItem, error)
}

// BlobStreamer defines the interface for streaming blob content.
type BlobStreamer interface {
	Stream(ctx context.Context, userID, blobID string) (io.ReadCloser, error)
}

// Target identifies the message a request is for and how it was reached.
type Target struct {
	Ref msgid.Ref
	// PublicID is the opaque id of a public request.
	PublicID string
	// Owner is the session user of a private request. The mailbox must belong to it.
	Owner string
}

// Public reports whether the target was reached through an opaque id.
func (t Target) Public() bool {
	return t.Owner == ""
}

// URLs returns the URL scheme matching how the target was reached.
func (t Target) URLs() URLs {
	if t.Public() {
		return PublicURLs(t.PublicID)
	}
	return PrivateURLs(t.Ref.MailboxID, t.Ref.UID)
}

// PublicTarget decodes an opaque id into a Target. Undecodable ids return msgid.ErrInvalid.
func PublicTarget(codec *msgid.Codec, publicID string) (Target, error) {
	ref, err := codec.Decode(publicID)
	if err != nil {
		return Target{}, err
	}
	return Target{Ref: ref, PublicID: publicID}, nil
}

// PrivateTarget returns the Target of an authenticated request.
func PrivateTarget(owner, mailboxID string, uid uint32) Target {
	return Target{Ref: msgid.Ref{MailboxID: mailboxID, UID: uid}, Owner: owner}
}

// Presenter builds view models from the message store and blob service.
type Presenter struct {
	messages  MessageStore
	mailboxes MailboxStore
	blobs     BlobStreamer
	logger    *slog.Logger
}

// New creates a Presenter.
func New(messages MessageStore, mailboxes MailboxStore, blobs BlobStreamer, logger *slog.Logger) *Presenter {
	return &Presenter{
		messages:  messages,
		mailboxes: mailboxes,
		blobs:     blobs,
		logger:    logger,
	}
}

// load reads the target message. Private targets also read the mailbox, in
// parallel, and are refused when it belongs to someone else, whether or not
// the message exists.
func (p *Presenter) load(ctx context.Context, t Target, fields email.Fields) (*email.Message, error) {
	var msg *email.Message
	var box *mailbox.MailboxItem

	var g errgroup.Group
	g.Go(func() error {
		m, err := p.messages.GetMessage(ctx, t.Ref.MailboxID, t.Ref.UID, fields)
		msg = m
		return err
	})
	if !t.Public() {
		g.Go(func() error {
			b, err := p.mailboxes.GetMailbox(ctx, t.Ref.MailboxID)
			box = b
			return err
		})
	}
	err := g.Wait()

	if box != nil && box.UserID != t.Owner {
		return nil, ErrForbidden
	}
	if err != nil {
		switch {
		case errors.Is(err, email.ErrMessageNotFound), errors.Is(err, mailbox.ErrMailboxNotFound):
			return nil, email.ErrMessageNotFound
		default:
			return nil, err
		}
	}
	if t.Ref.MessageID != "" && msg.MessageID != t.Ref.MessageID {
		return nil, email.ErrMessageNotFound
	}
	return msg, nil
}

// Message builds the message page model. An unseen message is marked seen;
// a failed update leaves the view showing it as unseen.
func (p *Presenter) Message(ctx context.Context, t Target) (*MessageView, error) {
	ctx, span := tracing.Tracer("webmail-presenter").Start(ctx, "presenter.Message")
	defer span.End()
	span.SetAttributes(spanattr.MailboxID(t.Ref.MailboxID), spanattr.UID(t.Ref.UID))

	msg, err := p.load(ctx, t, email.FieldsView)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, wrapUpstream("read message", err)
	}

	view := buildView(msg, t.URLs())

	if msg.Unseen {
		if err := p.messages.MarkSeen(ctx, msg.MailboxID, msg.UID); err != nil {
			p.logger.WarnContext(ctx, "Failed to mark message as seen",
				slog.String("mailbox_id", msg.MailboxID),
				slog.Int("uid", int(msg.UID)),
				slog.String("error", err.Error()),
			)
		} else {
			view.Seen = true
		}
	}

	return view, nil
}

func buildView(msg *email.Message, urls URLs) *MessageView {
	h := msg.Header
	if h == nil {
		h = &email.ParsedHeader{}
	}

	view := &MessageView{
		ID:        msg.MessageID,
		MailboxID: msg.MailboxID,
		UID:       msg.UID,
		ThreadID:  msg.ThreadID,
		Subject:   headers.ParseText(h.Subject),
		From:      headers.DecodeAddresses(h.From),
		Sender:    headers.DecodeAddresses(h.Sender),
		ReplyTo:   headers.DecodeAddresses(h.ReplyTo),
		To:        headers.DecodeAddresses(h.To),
		Cc:        headers.DecodeAddresses(h.Cc),
		Bcc:       headers.DecodeAddresses(h.Bcc),
		SMTPFrom:  headers.ParseAddresses(msg.Meta.From),
		SMTPTo:    headers.ParseAddresses(msg.Meta.To),
		Meta:      msg.Meta,
		MessageID: msg.MsgID,
		Date:      msg.HeaderDate,
		InReplyTo: headers.ParseMessageIds(h.InReplyTo),
		Seen:      !msg.Unseen,
		Deleted:   !msg.Undeleted,
		Flagged:   msg.Flagged,
		Draft:     msg.Draft,
		Public:    urls.IsPublic(),
		URL:       urls.Message(),
		Source:    urls.Source(),
		Raw:       urls.Raw(),
	}

	if h.ListID != "" || h.ListUnsubscribe != "" {
		list := &ListInfo{Unsubscribe: headers.ParseURLs(h.ListUnsubscribe)}
		if ids := headers.ParseAddresses(h.ListID); len(ids) > 0 {
			list.ID = &ids[0]
		}
		view.List = list
	}

	if msg.Expires && !msg.RetentionDate.IsZero() {
		exp := msg.RetentionDate.UTC()
		view.Expires = &exp
	}

	if ct := h.ContentType; ct != nil {
		view.ContentType = &ContentTypeView{Value: ct.Value}
		if ct.HasParams() {
			view.ContentType.Params = ct.Params
		}
		view.Encrypted = ct.Subtype == "encrypted"
	}

	rewrite := func(s string) string {
		return attachmentRef.ReplaceAllStringFunc(s, func(ref string) string {
			return urls.Attachment(attachmentRef.FindStringSubmatch(ref)[2])
		})
	}

	view.HTML = make([]string, len(msg.HTML))
	for i, part := range msg.HTML {
		view.HTML[i] = rewrite(part)
	}

	text := msg.Text
	if text == "" && len(msg.HTML) > 0 {
		parts := make([]string, len(msg.HTML))
		for i, part := range msg.HTML {
			parts[i] = htmlstrip.String(part)
		}
		text = strings.Join(parts, "\n\n")
	}
	view.Text = rewrite(text)

	view.Attachments = make([]AttachmentView, len(msg.Attachments))
	for i, a := range msg.Attachments {
		view.Attachments[i] = AttachmentView{Attachment: a, URL: urls.Attachment(a.ID)}
	}

	view.Info, view.Envelope = buildRows(view)
	return view
}

func buildRows(v *MessageView) (info, envelope []Row) {
	if v.Subject != "" {
		info = append(info, Row{Key: "Subject", Text: v.Subject})
	}
	addressRow := func(rows []Row, key string, addrs []headers.Address) []Row {
		if len(addrs) == 0 {
			return rows
		}
		return append(rows, Row{Key: key, HTML: htmlOf(headers.AddressesHTML(addrs))})
	}
	info = addressRow(info, "From", v.From)
	info = addressRow(info, "From", v.Sender)
	info = addressRow(info, "Reply To", v.ReplyTo)
	info = addressRow(info, "To", v.To)
	info = addressRow(info, "Cc", v.Cc)
	info = addressRow(info, "Bcc", v.Bcc)
	info = append(info, Row{Key: "Time", Time: v.Date})
	info = append(info, Row{Key: "Message-ID", Text: v.MessageID})
	if len(v.InReplyTo) > 0 {
		info = append(info, Row{Key: "In-Reply-To", Text: "<" + strings.Join(v.InReplyTo, "> <") + ">"})
	}

	envelope = addressRow(envelope, "MAIL FROM", v.SMTPFrom)
	envelope = addressRow(envelope, "RCPT TO", v.SMTPTo)
	for _, r := range []struct{ key, value string }{
		{"Address", v.Meta.Origin},
		{"Greeting", v.Meta.TransHost},
		{"Hostname", v.Meta.OriginHost},
		{"Protocol", v.Meta.TransType},
	} {
		if r.value != "" {
			envelope = append(envelope, Row{Key: r.key, Text: r.value})
		}
	}
	envelope = append(envelope, Row{Key: "Time", Time: v.Meta.Time})
	return info, envelope
}

// wrapUpstream marks errors from the message store or blob service.
func wrapUpstream(what string, err error) error {
	switch {
	case errors.Is(err, email.ErrMessageNotFound),
		errors.Is(err, email.ErrAttachmentNotFound),
		errors.Is(err, ErrForbidden):
		return err
	}
	return fmt.Errorf("%s: %w", what, err)
}
