package presenter

import (
	"context"
	"html"
	"html/template"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/jarrod-lowe/jmap-service-libs/tracing"
	"github.com/jarrod-lowe/jmap-service-webmail/internal/email"
	"github.com/jarrod-lowe/jmap-service-webmail/internal/headers"
	"github.com/jarrod-lowe/jmap-service-webmail/internal/limitbuf"
	"github.com/jarrod-lowe/jmap-service-webmail/internal/spanattr"
)

// SourceLimit is how much of a raw message the source page shows.
const SourceLimit = 728 * 1024

// htmlOf marks already escaped markup as safe for templates.
func htmlOf(s string) template.HTML {
	return template.HTML(s)
}

// TruncationMarker returns the line appended to a source cut short by dropped bytes.
func TruncationMarker(dropped int64) string {
	return "\n<+ " + humanize.IBytes(uint64(dropped)) + " ...>"
}

// SourceHTML escapes a raw message for display, one span per line.
func SourceHTML(src string) template.HTML {
	escaped := html.EscapeString(src)
	escaped = strings.ReplaceAll(escaped, "\r\n", "\n")
	return htmlOf("<span>" + strings.ReplaceAll(escaped, "\n", "</span>\n<span>") + "</span>")
}

// Source builds the source page model. The raw message is read up to
// SourceLimit bytes; the remainder is only counted.
func (p *Presenter) Source(ctx context.Context, t Target) (*SourceView, error) {
	ctx, span := tracing.Tracer("webmail-presenter").Start(ctx, "presenter.Source")
	defer span.End()
	span.SetAttributes(spanattr.MailboxID(t.Ref.MailboxID), spanattr.UID(t.Ref.UID))

	rc, msg, err := p.openRaw(ctx, t)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	defer rc.Close()

	buf := limitbuf.New(SourceLimit)
	if _, err := buf.ReadFrom(rc); err != nil {
		tracing.RecordError(span, err)
		return nil, wrapUpstream("read message source", err)
	}

	src := string(buf.Bytes())
	if buf.Truncated() {
		src += TruncationMarker(buf.Dropped())
	}

	var subject string
	if msg.Header != nil {
		subject = headers.ParseText(msg.Header.Subject)
	}

	urls := t.URLs()
	return &SourceView{
		ID:      msg.MessageID,
		URL:     urls.Message(),
		Raw:     urls.Raw(),
		Subject: subject,
		Prefix:  buf.Bytes(),
		Dropped: buf.Dropped(),
		Size:    buf.Total(),
		HTML:    SourceHTML(src),
	}, nil
}

// Raw opens the full raw message for download. The caller closes the stream.
func (p *Presenter) Raw(ctx context.Context, t Target) (io.ReadCloser, error) {
	ctx, span := tracing.Tracer("webmail-presenter").Start(ctx, "presenter.Raw")
	defer span.End()
	span.SetAttributes(spanattr.MailboxID(t.Ref.MailboxID), spanattr.UID(t.Ref.UID))

	rc, _, err := p.openRaw(ctx, t)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	return rc, nil
}

func (p *Presenter) openRaw(ctx context.Context, t Target) (io.ReadCloser, *email.Message, error) {
	msg, err := p.load(ctx, t, email.FieldsSource)
	if err != nil {
		return nil, nil, wrapUpstream("read message", err)
	}
	if msg.BlobID == "" {
		return nil, nil, email.ErrMessageNotFound
	}

	rc, err := p.blobs.Stream(ctx, msg.UserID, msg.BlobID)
	if err != nil {
		if isBlobNotFound(err) {
			return nil, nil, email.ErrMessageNotFound
		}
		return nil, nil, wrapUpstream("open message source", err)
	}
	return rc, msg, nil
}
