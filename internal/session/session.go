// Package session keeps the authenticated user of a browser between requests.
//
// The browser holds a signed session id cookie; the user record lives in a
// server side Store keyed by that id.
package session

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RememberTTL is the lifetime of a session when the user asked to be remembered.
const RememberTTL = 30 * 24 * time.Hour

// DefaultCookieName is the name of the session id cookie.
const DefaultCookieName = "webmail.sid"

// ErrNotFound is returned by a Store for unknown or expired ids.
var ErrNotFound = errors.New("session not found")

// User is the authenticated user stored in a session.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Address  string `json:"address"`
	Scope    string `json:"scope"`
}

// EncodeUser serializes a user for storage.
func EncodeUser(u *User) ([]byte, error) {
	return json.Marshal(u)
}

// DecodeUser parses a stored user. Anything unparseable yields nil.
func DecodeUser(data []byte) *User {
	var u User
	if err := json.Unmarshal(data, &u); err != nil || u.ID == "" {
		return nil
	}
	return &u
}

// Store persists session data by id.
type Store interface {
	Get(ctx context.Context, id string) ([]byte, error)
	Set(ctx context.Context, id string, data []byte, ttl time.Duration) error
	Delete(ctx context.Context, id string) error
}

// Manager issues, reads and destroys sessions.
type Manager struct {
	store      Store
	secret     []byte
	ttl        time.Duration
	secure     bool
	cookieName string
	logger     *slog.Logger
	newID      func() string
}

// NewManager creates a Manager. ttl bounds the server side lifetime of a
// session that was not remembered; its cookie ends with the browser session.
func NewManager(store Store, secret string, ttl time.Duration, secure bool, logger *slog.Logger) *Manager {
	return &Manager{
		store:      store,
		secret:     []byte(secret),
		ttl:        ttl,
		secure:     secure,
		cookieName: DefaultCookieName,
		logger:     logger,
		newID:      uuid.NewString,
	}
}

func (m *Manager) sign(id string) string {
	mac := hmac.New(sha256.New, m.secret)
	mac.Write([]byte(id))
	return id + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func (m *Manager) unsign(value string) (string, bool) {
	i := strings.LastIndexByte(value, '.')
	if i <= 0 {
		return "", false
	}
	id := value[:i]
	if !hmac.Equal([]byte(m.sign(id)), []byte(value)) {
		return "", false
	}
	return id, true
}

func (m *Manager) sessionID(r *http.Request) (string, bool) {
	c, err := r.Cookie(m.cookieName)
	if err != nil {
		return "", false
	}
	return m.unsign(c.Value)
}

// User returns the user of the request's session, or nil when there is none.
func (m *Manager) User(r *http.Request) *User {
	id, ok := m.sessionID(r)
	if !ok {
		return nil
	}
	data, err := m.store.Get(r.Context(), id)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			m.logger.WarnContext(r.Context(), "Failed to load session",
				slog.String("error", err.Error()),
			)
		}
		return nil
	}
	return DecodeUser(data)
}

// Login starts a fresh session for user. Any existing session of the
// request is destroyed first so a session id is never reused across logins.
func (m *Manager) Login(w http.ResponseWriter, r *http.Request, user *User, remember bool) error {
	ctx := r.Context()
	if old, ok := m.sessionID(r); ok {
		if err := m.store.Delete(ctx, old); err != nil {
			m.logger.WarnContext(ctx, "Failed to delete previous session",
				slog.String("error", err.Error()),
			)
		}
	}

	data, err := EncodeUser(user)
	if err != nil {
		return err
	}

	ttl := m.ttl
	if remember {
		ttl = RememberTTL
	}

	id := m.newID()
	if err := m.store.Set(ctx, id, data, ttl); err != nil {
		return err
	}

	cookie := &http.Cookie{
		Name:     m.cookieName,
		Value:    m.sign(id),
		Path:     "/",
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	}
	if remember {
		cookie.MaxAge = int(RememberTTL / time.Second)
	}
	http.SetCookie(w, cookie)
	return nil
}

// Logout destroys the request's session and clears its cookie.
func (m *Manager) Logout(w http.ResponseWriter, r *http.Request) error {
	var err error
	if id, ok := m.sessionID(r); ok {
		err = m.store.Delete(r.Context(), id)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return err
}
