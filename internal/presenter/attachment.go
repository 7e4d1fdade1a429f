package presenter

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"mime/quotedprintable"

	"github.com/jarrod-lowe/jmap-service-libs/tracing"
	"github.com/jarrod-lowe/jmap-service-webmail/internal/blob"
	"github.com/jarrod-lowe/jmap-service-webmail/internal/email"
	"github.com/jarrod-lowe/jmap-service-webmail/internal/spanattr"
)

// DefaultContentType is sent for attachments stored without a content type.
const DefaultContentType = "application/octet-stream"

// AttachmentStream is a decoded attachment ready to be sent.
type AttachmentStream struct {
	ContentType string
	Filename    string
	Body        io.ReadCloser
}

type decodedBody struct {
	io.Reader
	io.Closer
}

func isBlobNotFound(err error) bool {
	return errors.Is(err, blob.ErrBlobNotFound)
}

// Decode wraps r so that it yields the decoded content of a body stored
// with the given transfer encoding. Unknown encodings pass through.
func Decode(r io.Reader, transferEncoding string) io.Reader {
	switch transferEncoding {
	case "base64":
		return base64.NewDecoder(base64.StdEncoding, r)
	case "quoted-printable":
		return quotedprintable.NewReader(r)
	}
	return r
}

// Attachment opens an attachment by its short id. Short ids missing from
// the message's attachment map return email.ErrAttachmentNotFound.
func (p *Presenter) Attachment(ctx context.Context, t Target, aid string) (*AttachmentStream, error) {
	ctx, span := tracing.Tracer("webmail-presenter").Start(ctx, "presenter.Attachment")
	defer span.End()
	span.SetAttributes(spanattr.MailboxID(t.Ref.MailboxID), spanattr.UID(t.Ref.UID), spanattr.AttachmentID(aid))

	stream, err := p.openAttachment(ctx, t, aid)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	return stream, nil
}

func (p *Presenter) openAttachment(ctx context.Context, t Target, aid string) (*AttachmentStream, error) {
	msg, err := p.load(ctx, t, email.FieldsAttachment)
	if err != nil {
		return nil, wrapUpstream("read message", err)
	}

	attachmentID := msg.AttachmentMap[aid]
	if attachmentID == "" {
		return nil, email.ErrAttachmentNotFound
	}

	meta, err := p.messages.GetAttachment(ctx, attachmentID)
	if err != nil {
		return nil, wrapUpstream("read attachment", err)
	}

	rc, err := p.blobs.Stream(ctx, msg.UserID, meta.BlobID)
	if err != nil {
		if isBlobNotFound(err) {
			return nil, email.ErrAttachmentNotFound
		}
		return nil, wrapUpstream("open attachment", err)
	}

	contentType := meta.ContentType
	if contentType == "" {
		contentType = DefaultContentType
	}

	var filename string
	for _, a := range msg.Attachments {
		if a.ID == aid {
			filename = a.Filename
			break
		}
	}

	return &AttachmentStream{
		ContentType: contentType,
		Filename:    filename,
		Body:        decodedBody{Reader: Decode(rc, meta.TransferEncoding), Closer: rc},
	}, nil
}
