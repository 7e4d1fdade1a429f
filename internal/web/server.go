// Package web serves the webmail pages.
package web

import (
	"context"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/jarrod-lowe/jmap-service-webmail/internal/account"
	"github.com/jarrod-lowe/jmap-service-webmail/internal/auth"
	"github.com/jarrod-lowe/jmap-service-webmail/internal/config"
	"github.com/jarrod-lowe/jmap-service-webmail/internal/events"
	"github.com/jarrod-lowe/jmap-service-webmail/internal/listing"
	"github.com/jarrod-lowe/jmap-service-webmail/internal/msgid"
	"github.com/jarrod-lowe/jmap-service-webmail/internal/presenter"
	"github.com/jarrod-lowe/jmap-service-webmail/internal/session"
	"github.com/jarrod-lowe/jmap-service-webmail/internal/stats"
)

// Presenter builds message, source and attachment responses.
type Presenter interface {
	Message(ctx context.Context, t presenter.Target) (*presenter.MessageView, error)
	Source(ctx context.Context, t presenter.Target) (*presenter.SourceView, error)
	Raw(ctx context.Context, t presenter.Target) (io.ReadCloser, error)
	Attachment(ctx context.Context, t presenter.Target, aid string) (*presenter.AttachmentStream, error)
}

// Lister pages through a user's mailbox.
type Lister interface {
	List(ctx context.Context, userID string, p listing.Params) (*listing.Page, error)
}

// Gate authenticates logins and guards private routes.
type Gate interface {
	Login(w http.ResponseWriter, r *http.Request, creds auth.Credentials) (*session.User, error)
	Logout(w http.ResponseWriter, r *http.Request) *session.User
	CurrentUser(r *http.Request) *session.User
	RequireSession(next http.Handler) http.Handler
}

// Accounts provisions new accounts.
type Accounts interface {
	CreateUser(ctx context.Context, in account.NewUser) (*account.Profile, error)
}

// Deps are the collaborators of a Server.
type Deps struct {
	Codec     *msgid.Codec
	Presenter Presenter
	Listing   Lister
	Gate      Gate
	Accounts  Accounts
	Counter   stats.Counter
	Events    events.Publisher
	Logger    *slog.Logger
}

// Server routes requests to the page handlers.
type Server struct {
	cfg       *config.Config
	codec     *msgid.Codec
	presenter Presenter
	listing   Lister
	gate      Gate
	accounts  Accounts
	counter   stats.Counter
	events    events.Publisher
	logger    *slog.Logger
	templates map[string]*template.Template
	hostname  string

	newUsername func() (string, error)
	newPassword func() (string, error)
}

// New creates a Server. A nil Events publisher discards events.
func New(cfg *config.Config, deps Deps) (*Server, error) {
	templates, err := parseTemplates()
	if err != nil {
		return nil, err
	}

	pub := deps.Events
	if pub == nil {
		pub = events.Discard{}
	}

	return &Server{
		cfg:         cfg,
		codec:       deps.Codec,
		presenter:   deps.Presenter,
		listing:     deps.Listing,
		gate:        deps.Gate,
		accounts:    deps.Accounts,
		counter:     deps.Counter,
		events:      pub,
		logger:      deps.Logger,
		templates:   templates,
		hostname:    Hostname(),
		newUsername: account.GenerateUsername,
		newPassword: account.GeneratePassword,
	}, nil
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleHome)
	mux.HandleFunc("GET /login", s.handleLoginForm)
	mux.HandleFunc("POST /login", s.handleLogin)
	mux.HandleFunc("GET /logout", s.handleLogout)
	mux.HandleFunc("POST /create", s.handleCreate)

	mux.HandleFunc("GET /message/{id}", s.handleMessage(s.publicTarget))
	mux.HandleFunc("GET /message/{id}/source", s.handleSource(s.publicTarget))
	mux.HandleFunc("GET /message/{id}/message.eml", s.handleRaw(s.publicTarget))
	mux.HandleFunc("GET /attachment/{id}/{aid}", s.handleAttachment(s.publicTarget))

	mux.Handle("GET /messages", s.private(http.HandlerFunc(s.handleMessages)))
	mux.Handle("GET /messages/{mailbox}/{uid}", s.private(s.handleMessage(s.privateTarget)))
	mux.Handle("GET /messages/{mailbox}/{uid}/source", s.private(s.handleSource(s.privateTarget)))
	mux.Handle("GET /messages/{mailbox}/{uid}/message.eml", s.private(s.handleRaw(s.privateTarget)))
	mux.Handle("GET /messages/{mailbox}/{uid}/attachment/{aid}", s.private(s.handleAttachment(s.privateTarget)))

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		s.fail(w, r, &HTTPError{Status: http.StatusNotFound, Message: MsgNotFound})
	})

	return mux
}

// private requires a session and notes its user for the request log.
func (s *Server) private(next http.Handler) http.Handler {
	return s.gate.RequireSession(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if u := auth.UserFromContext(r.Context()); u != nil {
			noteUser(r, u.Username)
		}
		next.ServeHTTP(w, r)
	}))
}

type targetFunc func(r *http.Request) (presenter.Target, error)

func (s *Server) publicTarget(r *http.Request) (presenter.Target, error) {
	return presenter.PublicTarget(s.codec, r.PathValue("id"))
}

func (s *Server) privateTarget(r *http.Request) (presenter.Target, error) {
	user := auth.UserFromContext(r.Context())
	if user == nil {
		return presenter.Target{}, &HTTPError{Status: http.StatusForbidden, Message: MsgForbidden}
	}

	mailboxID := r.PathValue("mailbox")
	if !msgid.IsID(mailboxID) {
		return presenter.Target{}, &HTTPError{Status: http.StatusInternalServerError, Message: "Invalid mailbox identifier"}
	}
	uid, err := strconv.ParseUint(r.PathValue("uid"), 10, 32)
	if err != nil || uid == 0 {
		return presenter.Target{}, &HTTPError{Status: http.StatusInternalServerError, Message: "Invalid message uid"}
	}

	return presenter.PrivateTarget(user.ID, mailboxID, uint32(uid)), nil
}
