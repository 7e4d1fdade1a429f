// Package listing pages through a user's mailbox with opaque cursors.
package listing

import (
	"context"
	"html/template"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"github.com/jarrod-lowe/jmap-service-libs/tracing"
	"github.com/jarrod-lowe/jmap-service-webmail/internal/email"
	"github.com/jarrod-lowe/jmap-service-webmail/internal/headers"
	"github.com/jarrod-lowe/jmap-service-webmail/internal/mailbox"
	"github.com/jarrod-lowe/jmap-service-webmail/internal/msgid"
	"github.com/jarrod-lowe/jmap-service-webmail/internal/presenter"
	"github.com/jarrod-lowe/jmap-service-webmail/internal/snippet"
	"github.com/jarrod-lowe/jmap-service-webmail/internal/spanattr"
	"golang.org/x/sync/errgroup"
)

// BasePath is the path of the listing page.
const BasePath = "/messages"

// introMaxBytes bounds a highlighted intro, markup included.
const introMaxBytes = 255

// MailboxStore resolves a user's mailbox by role.
type MailboxStore interface {
	GetMailboxByRole(ctx context.Context, userID, role string) (*mailbox.MailboxItem, error)
}

// MessageStore is the cursor query primitive of the message store.
type MessageStore interface {
	QueryMessages(ctx context.Context, mailboxID string, q email.Query) (*email.Page, error)
	CountMessages(ctx context.Context, mailboxID string, maxUID uint32, filter email.Filter) (int, error)
}

// Row is one message of a listing page.
type Row struct {
	ID             string
	MailboxID      string
	UID            uint32
	URL            string
	PublicID       string
	PublicURL      string
	From           []headers.Address
	To             []headers.Address
	Subject        string
	SubjectHTML    template.HTML
	Date           time.Time
	Intro          string
	// IntroHTML is the intro with query terms marked, set only for filtered listings.
	IntroHTML      template.HTML
	HasAttachments bool
	Seen           bool
	Deleted        bool
	Flagged        bool
	Draft          bool
	Outbound       bool
}

// Page is one page of a listing.
type Page struct {
	Mailbox     *mailbox.MailboxItem
	Rows        []Row
	Total       int
	Page        int
	Limit       int
	Order       string
	Filter      email.Filter
	NextURL     string
	PreviousURL string
}

// Paginator produces listing pages.
type Paginator struct {
	mailboxes MailboxStore
	messages  MessageStore
	codec     *msgid.Codec
	logger    *slog.Logger
}

// New creates a Paginator. Rows carry public ids when codec is non-nil.
func New(mailboxes MailboxStore, messages MessageStore, codec *msgid.Codec, logger *slog.Logger) *Paginator {
	return &Paginator{
		mailboxes: mailboxes,
		messages:  messages,
		codec:     codec,
		logger:    logger,
	}
}

// List returns the page of the user's mailbox selected by p.
func (pg *Paginator) List(ctx context.Context, userID string, p Params) (*Page, error) {
	ctx, span := tracing.Tracer("webmail-listing").Start(ctx, "listing.List")
	defer span.End()
	span.SetAttributes(spanattr.UserID(userID))

	box, err := pg.mailboxes.GetMailboxByRole(ctx, userID, p.Role)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(spanattr.MailboxID(box.MailboxID))

	var maxUID uint32
	if box.UIDNext > 1 {
		maxUID = box.UIDNext - 1
	}

	q, backward := buildQuery(p, maxUID)

	var result *email.Page
	total := box.TotalEmails

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r, err := pg.messages.QueryMessages(gctx, box.MailboxID, q)
		result = r
		return err
	})
	if !p.Filter.IsTrivial() {
		g.Go(func() error {
			n, err := pg.messages.CountMessages(gctx, box.MailboxID, maxUID, p.Filter)
			total = n
			return err
		})
	}
	if err := g.Wait(); err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}

	msgs := result.Messages
	if backward {
		msgs = slices.Clone(msgs)
		slices.Reverse(msgs)
	}

	page := &Page{
		Mailbox: box,
		Total:   total,
		Limit:   p.Limit,
		Order:   p.Order,
		Filter:  p.Filter,
	}

	terms := snippet.Terms(p.Filter.Subject)
	page.Rows = make([]Row, len(msgs))
	for i, m := range msgs {
		page.Rows[i] = pg.row(ctx, m, terms)
	}

	hasNext, hasPrev := result.More, p.next != nil
	if backward {
		hasNext, hasPrev = true, result.More
	}

	page.Page = p.Page
	switch {
	case p.next != nil:
		page.Page = p.Page + 1
	case p.prev != nil:
		page.Page = max(p.Page-1, 1)
	}
	if !hasPrev || len(msgs) == 0 {
		page.Page = 1
	}

	if len(msgs) > 0 {
		if hasNext {
			page.NextURL = navURL(p, cursor{kind: cursorNext, uid: msgs[len(msgs)-1].UID}, page.Page)
		}
		if hasPrev {
			page.PreviousURL = navURL(p, cursor{kind: cursorPrev, uid: msgs[0].UID}, page.Page)
		}
	}

	return page, nil
}

// buildQuery maps the cursor of p to a uid range. Backward queries read
// away from the boundary in reverse order and must be reversed for display.
func buildQuery(p Params, maxUID uint32) (email.Query, bool) {
	desc := p.Order == OrderDesc
	q := email.Query{
		MinUID:     1,
		MaxUID:     maxUID,
		Limit:      p.Limit,
		Descending: desc,
		Filter:     p.Filter,
	}

	switch {
	case p.next != nil:
		if desc {
			q.MaxUID = below(p.next.uid, maxUID)
		} else {
			q.MinUID, q.MaxUID = above(p.next.uid, maxUID)
		}
		return q, false

	case p.prev != nil:
		q.Descending = !desc
		if desc {
			q.MinUID, q.MaxUID = above(p.prev.uid, maxUID)
		} else {
			q.MaxUID = below(p.prev.uid, maxUID)
		}
		return q, true
	}

	return q, false
}

// below returns the largest uid under uid, capped at maxUID.
func below(uid, maxUID uint32) uint32 {
	if uid == 0 {
		return 0
	}
	return min(uid-1, maxUID)
}

// above returns the uid range over uid, which is empty when uid is at or past maxUID.
func above(uid, maxUID uint32) (uint32, uint32) {
	if uid >= maxUID {
		return 1, 0
	}
	return uid + 1, maxUID
}

func navURL(p Params, c cursor, page int) string {
	v := p.values()
	if c.kind == cursorNext {
		v.Set("next", c.String())
	} else {
		v.Set("previous", c.String())
	}
	v.Set("page", strconv.Itoa(page))
	return BasePath + "?" + v.Encode()
}

func (pg *Paginator) row(ctx context.Context, m *email.Message, terms []string) Row {
	h := m.Header
	if h == nil {
		h = &email.ParsedHeader{}
	}

	from := headers.DecodeAddresses(h.From)
	if len(from) == 0 {
		from = headers.ParseAddresses(m.Meta.From)
	}
	to := headers.DecodeAddresses(h.To)
	if len(to) == 0 {
		to = headers.ParseAddresses(m.Meta.To)
	}
	subject := headers.ParseText(h.Subject)

	date := m.HeaderDate
	if date.IsZero() {
		date = m.Meta.Time
	}

	r := Row{
		ID:             m.MessageID,
		MailboxID:      m.MailboxID,
		UID:            m.UID,
		URL:            presenter.PrivateURLs(m.MailboxID, m.UID).Message(),
		From:           from,
		To:             to,
		Subject:        subject,
		SubjectHTML:    template.HTML(snippet.Highlight(subject, terms)),
		Date:           date,
		Intro:          m.Intro,
		HasAttachments: m.HasAttachments,
		Seen:           !m.Unseen,
		Deleted:        !m.Undeleted,
		Flagged:        m.Flagged,
		Draft:          m.Draft,
		Outbound:       len(m.Outbound) > 0,
	}
	if len(terms) > 0 && m.Intro != "" {
		r.IntroHTML = template.HTML(snippet.HighlightMax(m.Intro, terms, introMaxBytes))
	}

	if pg.codec != nil {
		id, err := pg.codec.Encode(msgid.Ref{MailboxID: m.MailboxID, MessageID: m.MessageID, UID: m.UID})
		if err != nil {
			pg.logger.DebugContext(ctx, "Message has no public id",
				slog.String("mailbox_id", m.MailboxID),
				slog.Int("uid", int(m.UID)),
				slog.String("error", err.Error()),
			)
		} else {
			r.PublicID = id
			r.PublicURL = presenter.PublicURLs(id).Message()
		}
	}

	return r
}
