// Package auth authenticates logins, establishes sessions and gates private routes.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"

	"github.com/jarrod-lowe/jmap-service-webmail/internal/account"
	"github.com/jarrod-lowe/jmap-service-webmail/internal/session"
	"github.com/jarrod-lowe/jmap-service-webmail/internal/stats"
)

// MaxPasswordLength bounds the password accepted by Login.
const MaxPasswordLength = 256

// ErrAuthFailed is returned for invalid input and wrong credentials alike.
var ErrAuthFailed = errors.New("authentication failed")

// ErrUnavailable is returned when the user store could not be consulted.
var ErrUnavailable = errors.New("failed to authenticate user")

// Authenticator checks credentials against the user store.
type Authenticator interface {
	Authenticate(ctx context.Context, address, password, purpose string, meta account.AuthMeta) (*account.AuthData, error)
}

// Sessions issues and reads browser sessions.
type Sessions interface {
	User(r *http.Request) *session.User
	Login(w http.ResponseWriter, r *http.Request, user *session.User, remember bool) error
	Logout(w http.ResponseWriter, r *http.Request) error
}

// Credentials is a submitted login form.
type Credentials struct {
	Address  string
	Password string
	Remember bool
	IP       string
}

// Gate ties credential checks to sessions.
type Gate struct {
	users    Authenticator
	sessions Sessions
	counter  stats.Counter
	domain   string
	logger   *slog.Logger
}

// NewGate creates a Gate. Session addresses are username@domain.
func NewGate(users Authenticator, sessions Sessions, counter stats.Counter, domain string, logger *slog.Logger) *Gate {
	return &Gate{
		users:    users,
		sessions: sessions,
		counter:  counter,
		domain:   domain,
		logger:   logger,
	}
}

// Validate checks the shape of submitted credentials.
func Validate(address, password string) error {
	if password == "" || len(password) > MaxPasswordLength {
		return ErrAuthFailed
	}
	parsed, err := mail.ParseAddress(address)
	if err != nil || parsed.Name != "" || parsed.Address != address {
		return ErrAuthFailed
	}
	at := strings.LastIndexByte(address, '@')
	if at <= 0 || !strings.Contains(address[at+1:], ".") {
		return ErrAuthFailed
	}
	return nil
}

// Login authenticates creds and, on success, replaces the request's session
// with a new one holding the user. Every failure increments the failure counter.
func (g *Gate) Login(w http.ResponseWriter, r *http.Request, creds Credentials) (*session.User, error) {
	ctx := r.Context()

	user, err := g.authenticate(ctx, creds)
	if err == nil {
		err = g.sessions.Login(w, r, user, creds.Remember)
		if err != nil {
			g.logger.ErrorContext(ctx, "Failed to create session",
				slog.String("user_id", user.ID),
				slog.String("error", err.Error()),
			)
			err = ErrUnavailable
		}
	}
	if err != nil {
		g.incr(ctx, stats.AuthFail)
		return nil, err
	}

	g.incr(ctx, stats.AuthSuccess)
	g.logger.InfoContext(ctx, "User logged in",
		slog.String("user_id", user.ID),
		slog.String("ip", creds.IP),
		slog.Bool("remember", creds.Remember),
	)
	return user, nil
}

func (g *Gate) authenticate(ctx context.Context, creds Credentials) (*session.User, error) {
	if err := Validate(creds.Address, creds.Password); err != nil {
		return nil, err
	}

	data, err := g.users.Authenticate(ctx, creds.Address, creds.Password, account.PurposeMaster, account.AuthMeta{
		Protocol: "web",
		IP:       creds.IP,
	})
	if errors.Is(err, account.ErrAuthFailed) {
		g.logger.InfoContext(ctx, "Authentication failed",
			slog.String("address", creds.Address),
			slog.String("ip", creds.IP),
		)
		return nil, ErrAuthFailed
	}
	if err != nil {
		g.logger.ErrorContext(ctx, "AUTHFAIL",
			slog.String("address", creds.Address),
			slog.String("error", err.Error()),
		)
		return nil, ErrUnavailable
	}

	return &session.User{
		ID:       data.UserID,
		Username: data.Username,
		Address:  data.Username + "@" + g.domain,
		Scope:    data.Scope,
	}, nil
}

func (g *Gate) incr(ctx context.Context, name string) {
	if _, err := g.counter.Incr(ctx, name); err != nil {
		g.logger.WarnContext(ctx, "Failed to increment counter",
			slog.String("counter", name),
			slog.String("error", err.Error()),
		)
	}
}

// Logout destroys the request's session and returns the user it held, if any.
func (g *Gate) Logout(w http.ResponseWriter, r *http.Request) *session.User {
	user := g.sessions.User(r)
	if err := g.sessions.Logout(w, r); err != nil {
		g.logger.WarnContext(r.Context(), "Failed to destroy session",
			slog.String("error", err.Error()),
		)
	}
	return user
}

// CurrentUser returns the user of the request's session, or nil.
func (g *Gate) CurrentUser(r *http.Request) *session.User {
	return g.sessions.User(r)
}

// RequireSession lets requests with a session through, with the user on
// the context, and redirects everything else to the login page.
func (g *Gate) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := g.sessions.User(r)
		if user == nil {
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

type userKey struct{}

// WithUser returns a context carrying user.
func WithUser(ctx context.Context, user *session.User) context.Context {
	return context.WithValue(ctx, userKey{}, user)
}

// UserFromContext returns the user stored by RequireSession, or nil.
func UserFromContext(ctx context.Context) *session.User {
	u, _ := ctx.Value(userKey{}).(*session.User)
	return u
}
