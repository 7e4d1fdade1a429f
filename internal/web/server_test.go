package web

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jarrod-lowe/jmap-service-webmail/internal/account"
	"github.com/jarrod-lowe/jmap-service-webmail/internal/auth"
	"github.com/jarrod-lowe/jmap-service-webmail/internal/blob"
	"github.com/jarrod-lowe/jmap-service-webmail/internal/config"
	"github.com/jarrod-lowe/jmap-service-webmail/internal/email"
	"github.com/jarrod-lowe/jmap-service-webmail/internal/headers"
	"github.com/jarrod-lowe/jmap-service-webmail/internal/listing"
	"github.com/jarrod-lowe/jmap-service-webmail/internal/mailbox"
	"github.com/jarrod-lowe/jmap-service-webmail/internal/msgid"
	"github.com/jarrod-lowe/jmap-service-webmail/internal/presenter"
	"github.com/jarrod-lowe/jmap-service-webmail/internal/session"
	"github.com/jarrod-lowe/jmap-service-webmail/internal/stats"
)

const (
	testDomain       = "mail.example.com"
	testMailbox      = "5a1f0c2b3d4e5f6071829304"
	otherMailbox     = "6b2f0c2b3d4e5f6071829399"
	testMessage      = "5a1f0c2b3d4e5f60718293ff"
	testUserID       = "user-123"
	testUsername     = "alice"
	testPassword     = "correct horse"
	testCodecSecret  = "web-test-secret"
	testCookieSecret = "web-test-cookie-secret"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeMessages struct {
	mu          sync.Mutex
	messages    map[string]map[uint32]*email.Message
	attachments map[string]*email.AttachmentMeta
	getErr      error
	seen        []uint32
}

func (f *fakeMessages) add(m *email.Message) {
	if f.messages == nil {
		f.messages = map[string]map[uint32]*email.Message{}
	}
	if f.messages[m.MailboxID] == nil {
		f.messages[m.MailboxID] = map[uint32]*email.Message{}
	}
	f.messages[m.MailboxID][m.UID] = m
}

func (f *fakeMessages) GetMessage(ctx context.Context, mailboxID string, uid uint32, fields email.Fields) (*email.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	m, ok := f.messages[mailboxID][uid]
	if !ok {
		return nil, email.ErrMessageNotFound
	}
	cp := *m
	return &cp, nil
}

func (f *fakeMessages) MarkSeen(ctx context.Context, mailboxID string, uid uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, uid)
	return nil
}

func (f *fakeMessages) GetAttachment(ctx context.Context, attachmentID string) (*email.AttachmentMeta, error) {
	a, ok := f.attachments[attachmentID]
	if !ok {
		return nil, email.ErrAttachmentNotFound
	}
	return a, nil
}

func (f *fakeMessages) QueryMessages(ctx context.Context, mailboxID string, q email.Query) (*email.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var hits []*email.Message
	for _, m := range f.messages[mailboxID] {
		if m.UID >= q.MinUID && m.UID <= q.MaxUID && (!q.Filter.Unseen || m.Unseen) {
			hits = append(hits, m)
		}
	}
	slices.SortFunc(hits, func(a, b *email.Message) int {
		if q.Descending {
			return int(b.UID) - int(a.UID)
		}
		return int(a.UID) - int(b.UID)
	})
	page := &email.Page{}
	if len(hits) > q.Limit {
		hits, page.More = hits[:q.Limit], true
	}
	page.Messages = hits
	return page, nil
}

func (f *fakeMessages) CountMessages(ctx context.Context, mailboxID string, maxUID uint32, filter email.Filter) (int, error) {
	page, err := f.QueryMessages(ctx, mailboxID, email.Query{MinUID: 1, MaxUID: maxUID, Limit: 1 << 20, Filter: filter})
	if err != nil {
		return 0, err
	}
	return len(page.Messages), nil
}

type fakeMailboxes struct {
	boxes map[string]*mailbox.MailboxItem
}

func (f *fakeMailboxes) GetMailbox(ctx context.Context, mailboxID string) (*mailbox.MailboxItem, error) {
	b, ok := f.boxes[mailboxID]
	if !ok {
		return nil, mailbox.ErrMailboxNotFound
	}
	return b, nil
}

func (f *fakeMailboxes) GetMailboxByRole(ctx context.Context, userID, role string) (*mailbox.MailboxItem, error) {
	for _, b := range f.boxes {
		if b.UserID == userID && b.Role == role {
			return b, nil
		}
	}
	return nil, mailbox.ErrMailboxNotFound
}

type fakeBlobs struct {
	blobs   map[string]string
	readers map[string]io.Reader
}

func (f *fakeBlobs) Stream(ctx context.Context, userID, blobID string) (io.ReadCloser, error) {
	if r, ok := f.readers[blobID]; ok {
		return io.NopCloser(r), nil
	}
	b, ok := f.blobs[blobID]
	if !ok {
		return nil, blob.ErrBlobNotFound
	}
	return io.NopCloser(strings.NewReader(b)), nil
}

type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (s *memStore) Get(ctx context.Context, id string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.data[id]
	if !ok {
		return nil, session.ErrNotFound
	}
	return d, nil
}

func (s *memStore) Set(ctx context.Context, id string, data []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[id] = data
	return nil
}

func (s *memStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, id)
	return nil
}

type fakeCounter struct {
	mu     sync.Mutex
	values map[string]int64
	err    error
}

func (c *fakeCounter) Incr(ctx context.Context, name string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return 0, c.err
	}
	c.values[name]++
	return c.values[name], nil
}

func (c *fakeCounter) Get(ctx context.Context, name string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values[name], c.err
}

type fakeUsers struct {
	err error
}

func (f *fakeUsers) Authenticate(ctx context.Context, address, password, purpose string, meta account.AuthMeta) (*account.AuthData, error) {
	if f.err != nil {
		return nil, f.err
	}
	if address != testUsername+"@"+testDomain || password != testPassword || purpose != account.PurposeMaster {
		return nil, account.ErrAuthFailed
	}
	return &account.AuthData{UserID: testUserID, Username: testUsername, Scope: account.ScopeMaster}, nil
}

type fakeAccounts struct {
	created []account.NewUser
	taken   map[string]bool
	err     error
}

func (f *fakeAccounts) CreateUser(ctx context.Context, in account.NewUser) (*account.Profile, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.taken[in.Username] {
		return nil, account.ErrUserExists
	}
	f.created = append(f.created, in)
	return &account.Profile{
		UserID:   "new-user",
		Username: in.Username,
		Address:  in.Username + "@" + testDomain,
		Quota:    in.Quota,
	}, nil
}

type fakeEvents struct {
	accounts []string
	data     []map[string]any
	err      error
}

func (f *fakeEvents) PublishAccountCreated(ctx context.Context, accountID string, data map[string]any) error {
	f.accounts = append(f.accounts, accountID)
	f.data = append(f.data, data)
	return f.err
}

type testEnv struct {
	cfg      *config.Config
	codec    *msgid.Codec
	messages *fakeMessages
	blobs    *fakeBlobs
	counter  *fakeCounter
	accounts *fakeAccounts
	events   *fakeEvents
	users    *fakeUsers
	sessions *session.Manager
	server   *Server
	handler  http.Handler
}

func sampleMessage() *email.Message {
	return &email.Message{
		MailboxID: testMailbox,
		UID:       7,
		MessageID: testMessage,
		UserID:    testUserID,
		Meta: email.Meta{
			From: "bounce@example.net",
			To:   "alice@" + testDomain,
			Time: time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC),
		},
		Header: &email.ParsedHeader{
			Subject: "=?UTF-8?Q?Caf=C3=A9_news?=",
			From:    []headers.Address{{Name: "Bob", Address: "bob@example.net"}},
		},
		Unseen:    true,
		Undeleted: true,
		Attachments: []email.Attachment{
			{ID: "ATT00001", Filename: "logo.png", ContentType: "image/png"},
			{ID: "ATT00002", Filename: "notes.txt", ContentType: "text/plain"},
		},
		AttachmentMap: map[string]string{
			"ATT00001": "att-logo",
			"ATT00002": "att-notes",
		},
		HTML:   []string{`<p>Hello</p><img src="attachment:5a1f0c2b3d4e5f60718293ff/ATT00001">`},
		Text:   "Hello",
		BlobID: "blob-raw",
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	codec, err := msgid.New(testCodecSecret)
	if err != nil {
		t.Fatalf("msgid.New: %v", err)
	}

	cfg := &config.Config{
		Env:                config.EnvProduction,
		ServiceName:        "Test Mail",
		Domain:             testDomain,
		DefaultQuota:       config.DefaultQuota,
		PublicMessageLinks: true,
		IMAP:               config.Endpoint{Host: "imap." + testDomain, Port: 993},
		POP3:               config.Endpoint{Host: "pop3." + testDomain, Port: 995},
		SMTP:               config.Endpoint{Host: "smtp." + testDomain, Port: 587},
		MaxPostSize:        config.DefaultMaxPostSize,
	}

	msgs := &fakeMessages{attachments: map[string]*email.AttachmentMeta{
		"att-logo":  {AttachmentID: "att-logo", ContentType: "image/png", TransferEncoding: "base64", BlobID: "blob-logo"},
		"att-notes": {AttachmentID: "att-notes", TransferEncoding: "quoted-printable", BlobID: "blob-notes"},
	}}
	msgs.add(sampleMessage())
	other := sampleMessage()
	other.MailboxID = otherMailbox
	other.UserID = "user-999"
	msgs.add(other)

	boxes := &fakeMailboxes{boxes: map[string]*mailbox.MailboxItem{
		testMailbox:  {MailboxID: testMailbox, UserID: testUserID, Name: "INBOX", Role: mailbox.RoleInbox, UIDNext: 8, TotalEmails: 1},
		otherMailbox: {MailboxID: otherMailbox, UserID: "user-999", Name: "INBOX", Role: mailbox.RoleInbox, UIDNext: 8, TotalEmails: 1},
	}}
	blobs := &fakeBlobs{blobs: map[string]string{
		"blob-raw":   "Subject: Cafe news\r\n\r\nHello\r\n",
		"blob-logo":  "iVBORw0KGgo=",
		"blob-notes": "caf=C3=A9\r\n",
	}}

	store := &memStore{data: map[string][]byte{}}
	sessions := session.NewManager(store, testCookieSecret, time.Hour, false, discard)
	counter := &fakeCounter{values: map[string]int64{}}
	users := &fakeUsers{}
	accounts := &fakeAccounts{taken: map[string]bool{}}
	pub := &fakeEvents{}

	srv, err := New(cfg, Deps{
		Codec:     codec,
		Presenter: presenter.New(msgs, boxes, blobs, discard),
		Listing:   listing.New(boxes, msgs, codec, discard),
		Gate:      auth.NewGate(users, sessions, counter, testDomain, discard),
		Accounts:  accounts,
		Counter:   counter,
		Events:    pub,
		Logger:    discard,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	return &testEnv{
		cfg:      cfg,
		codec:    codec,
		messages: msgs,
		blobs:    blobs,
		counter:  counter,
		accounts: accounts,
		events:   pub,
		users:    users,
		sessions: sessions,
		server:   srv,
		handler:  srv.Handler(),
	}
}

// session logs the test user in directly and returns the session cookie.
func (e *testEnv) session(t *testing.T) *http.Cookie {
	t.Helper()
	rec := httptest.NewRecorder()
	err := e.sessions.Login(rec, httptest.NewRequest(http.MethodGet, "/", nil), &session.User{
		ID:       testUserID,
		Username: testUsername,
		Address:  testUsername + "@" + testDomain,
		Scope:    account.ScopeMaster,
	}, false)
	if err != nil {
		t.Fatalf("session Login: %v", err)
	}
	return findCookie(t, rec.Result().Cookies(), session.DefaultCookieName)
}

func (e *testEnv) publicID(t *testing.T, uid uint32) string {
	t.Helper()
	id, err := e.codec.Encode(msgid.Ref{MailboxID: testMailbox, MessageID: testMessage, UID: uid})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return id
}

func (e *testEnv) do(req *http.Request, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) get(path string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	return e.do(httptest.NewRequest(http.MethodGet, path, nil), cookies...)
}

func postForm(path string, form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func findCookie(t *testing.T, cookies []*http.Cookie, name string) *http.Cookie {
	t.Helper()
	for _, c := range cookies {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("no %s cookie in response", name)
	return nil
}

func TestServedByHeader(t *testing.T) {
	env := newTestEnv(t)
	rec := env.get("/")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if got := rec.Header().Get("X-Served-By"); got != env.server.hostname || got == "" {
		t.Errorf("X-Served-By = %q, want %q", got, env.server.hostname)
	}
}

func TestNotFound(t *testing.T) {
	env := newTestEnv(t)
	rec := env.get("/no/such/page")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	if !strings.Contains(rec.Body.String(), MsgNotFound) {
		t.Errorf("body does not contain %q", MsgNotFound)
	}
}

func TestHome_ShowsCreatedCount(t *testing.T) {
	env := newTestEnv(t)
	env.counter.values[stats.Create] = 1234

	body := env.get("/").Body.String()
	if !strings.Contains(body, "1,234 accounts created") {
		t.Errorf("home page does not show the created count")
	}
	if !strings.Contains(body, `action="/create"`) {
		t.Errorf("home page has no create form")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"invalid id", msgid.ErrInvalid, http.StatusNotFound, MsgMessageNotFound},
		{"missing message", email.ErrMessageNotFound, http.StatusNotFound, MsgMessageNotFound},
		{"missing attachment", email.ErrAttachmentNotFound, http.StatusNotFound, MsgAttachmentNotFound},
		{"missing mailbox", mailbox.ErrMailboxNotFound, http.StatusNotFound, MsgMailboxNotFound},
		{"forbidden", presenter.ErrForbidden, http.StatusForbidden, MsgForbidden},
		{"validation", fmt.Errorf("%w: limit out of range", listing.ErrValidation), http.StatusInternalServerError, "invalid listing parameters: limit out of range"},
		{"upstream", errors.New("dial tcp: refused"), http.StatusInternalServerError, MsgDatabase},
		{"explicit", &HTTPError{Status: http.StatusTeapot, Message: "short"}, http.StatusTeapot, "short"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			he := classify(tt.err)
			if he.Status != tt.status {
				t.Errorf("Status = %d, want %d", he.Status, tt.status)
			}
			if he.Message != tt.message {
				t.Errorf("Message = %q, want %q", he.Message, tt.message)
			}
		})
	}
}

func TestErrorDetail_OnlyInDevelopment(t *testing.T) {
	for _, env := range []string{config.EnvProduction, config.EnvDevelopment} {
		t.Run(env, func(t *testing.T) {
			e := newTestEnv(t)
			e.cfg.Env = env
			e.messages.getErr = errors.New("connection reset by peer")

			rec := e.get("/message/" + e.publicID(t, 7))
			if rec.Code != http.StatusInternalServerError {
				t.Fatalf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
			}
			body := rec.Body.String()
			if !strings.Contains(body, MsgDatabase) {
				t.Errorf("body does not contain %q", MsgDatabase)
			}
			shown := strings.Contains(body, "connection reset by peer")
			if shown != (env == config.EnvDevelopment) {
				t.Errorf("detail shown = %v in %s", shown, env)
			}
		})
	}
}

func TestJSONErrors(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/message/nope", nil)
	req.Header.Set("Accept", "application/json")
	rec := env.do(req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Errorf("Content-Type = %q, want JSON", ct)
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte(`"error":"This message does not exist"`)) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestClientIP(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:4321"
	req.Header.Set("X-Forwarded-For", "198.51.100.7, 10.0.0.1")

	if got := env.server.clientIP(req); got != "192.0.2.1" {
		t.Errorf("clientIP = %q, want remote address without a trusted proxy", got)
	}
	env.cfg.TrustProxy = true
	if got := env.server.clientIP(req); got != "198.51.100.7" {
		t.Errorf("clientIP = %q, want first forwarded address", got)
	}
}
