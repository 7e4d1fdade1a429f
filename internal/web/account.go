package web

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/jarrod-lowe/jmap-service-webmail/internal/account"
	"github.com/jarrod-lowe/jmap-service-webmail/internal/auth"
	"github.com/jarrod-lowe/jmap-service-webmail/internal/config"
	"github.com/jarrod-lowe/jmap-service-webmail/internal/stats"
)

// createAttempts bounds retries when a generated username is taken.
const createAttempts = 3

type homePage struct {
	Created int
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	created, err := s.counter.Get(r.Context(), stats.Create)
	if err != nil {
		s.logger.WarnContext(r.Context(), "Failed to read counter",
			slog.String("counter", stats.Create),
			slog.String("error", err.Error()),
		)
	}
	s.render(w, r, http.StatusOK, "home", homePage{Created: int(created)})
}

func (s *Server) handleLoginForm(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "login", nil)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.fail(w, r, &HTTPError{Status: http.StatusInternalServerError, Message: "Invalid form data", Err: err})
		return
	}
	if !checkCSRF(r) {
		s.fail(w, r, &HTTPError{Status: http.StatusForbidden, Message: MsgBadCSRF})
		return
	}

	user, err := s.gate.Login(w, r, auth.Credentials{
		Address:  strings.TrimSpace(r.PostFormValue("address")),
		Password: r.PostFormValue("password"),
		Remember: r.PostFormValue("remember") != "",
		IP:       s.clientIP(r),
	})
	if err != nil {
		msg := "Authentication failed"
		if errors.Is(err, auth.ErrUnavailable) {
			msg = "Failed to authenticate user"
		}
		s.addFlash(w, r, FlashDanger, msg)
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}

	noteUser(r, user.Username)
	s.addFlash(w, r, FlashSuccess, fmt.Sprintf("Logged in as %s", user.Address))
	http.Redirect(w, r, "/", http.StatusFound)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	user := s.gate.Logout(w, r)

	var flashes []Flash
	if user != nil {
		noteUser(r, user.Username)
		flashes = []Flash{{Kind: FlashInfo, Message: fmt.Sprintf("%s logged out", user.Address)}}
	}
	s.setFlashes(w, flashes)
	http.Redirect(w, r, "/", http.StatusFound)
}

// Endpoint is a client connection setting of a new account.
type Endpoint struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Security string `json:"security"`
}

func endpoint(e config.Endpoint) Endpoint {
	security := "STARTTLS"
	switch e.Port {
	case 465, 993, 995:
		security = "SSL/TLS"
	}
	return Endpoint{Host: e.Host, Port: e.Port, Security: security}
}

// CreatedAccount is the response to a successful account creation.
type CreatedAccount struct {
	Status string   `json:"status"`
	User   string   `json:"user"`
	Pass   string   `json:"pass"`
	SMTP   Endpoint `json:"smtp"`
	IMAP   Endpoint `json:"imap"`
	POP3   Endpoint `json:"pop3"`
	Web    string   `json:"web"`

	Quota int64  `json:"-"`
	CSV   string `json:"-"`
}

// SettingsCSV renders the connection settings of the account as CSV.
func (a *CreatedAccount) SettingsCSV() ([]byte, error) {
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	rows := [][]string{{"Service", "Host", "Port", "Security", "Username", "Password"}}
	for _, svc := range []struct {
		name string
		e    Endpoint
	}{{"IMAP", a.IMAP}, {"POP3", a.POP3}, {"SMTP", a.SMTP}} {
		rows = append(rows, []string{svc.name, svc.e.Host, strconv.Itoa(svc.e.Port), svc.e.Security, a.User, a.Pass})
	}
	if err := cw.WriteAll(rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	profile, password, err := s.createAccount(ctx)
	if err != nil {
		result := "error"
		if errors.Is(err, account.ErrUserExists) {
			result = "exists"
		}
		metricAccounts.WithLabelValues(result).Inc()
		s.fail(w, r, err)
		return
	}
	metricAccounts.WithLabelValues("ok").Inc()

	if _, err := s.counter.Incr(ctx, stats.Create); err != nil {
		s.logger.WarnContext(ctx, "Failed to increment counter",
			slog.String("counter", stats.Create),
			slog.String("error", err.Error()),
		)
	}

	if err := s.events.PublishAccountCreated(ctx, profile.UserID, map[string]any{
		"username": profile.Username,
		"address":  profile.Address,
		"quota":    profile.Quota,
	}); err != nil {
		s.logger.WarnContext(ctx, "Failed to publish account event",
			slog.String("user_id", profile.UserID),
			slog.String("error", err.Error()),
		)
	}

	scheme := "http"
	if s.secure(r) {
		scheme = "https"
	}
	created := &CreatedAccount{
		Status: "success",
		User:   profile.Address,
		Pass:   password,
		SMTP:   endpoint(s.cfg.SMTP),
		IMAP:   endpoint(s.cfg.IMAP),
		POP3:   endpoint(s.cfg.POP3),
		Web:    scheme + "://" + r.Host + "/",
		Quota:  profile.Quota,
	}
	settings, err := created.SettingsCSV()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	created.CSV = base64.StdEncoding.EncodeToString(settings)

	s.logger.InfoContext(ctx, "Account created",
		slog.String("user_id", profile.UserID),
		slog.String("address", profile.Address),
		slog.String("ip", s.clientIP(r)),
	)

	w.Header().Set("Cache-Control", "no-store")
	if wantsJSON(r) {
		s.writeJSON(w, http.StatusOK, created)
		return
	}
	s.render(w, r, http.StatusOK, "create", created)
}

// createAccount provisions an account with a random username and password,
// drawing a new username when the generated one is taken.
func (s *Server) createAccount(ctx context.Context) (*account.Profile, string, error) {
	password, err := s.newPassword()
	if err != nil {
		return nil, "", err
	}

	for attempt := 1; ; attempt++ {
		username, err := s.newUsername()
		if err != nil {
			return nil, "", err
		}
		profile, err := s.accounts.CreateUser(ctx, account.NewUser{
			Username: username,
			Password: password,
			Quota:    s.cfg.DefaultQuota,
		})
		if err == nil {
			return profile, password, nil
		}
		if !errors.Is(err, account.ErrUserExists) || attempt == createAttempts {
			return nil, "", err
		}
		s.logger.InfoContext(ctx, "Generated username taken, retrying",
			slog.String("username", username),
			slog.Int("attempt", attempt),
		)
	}
}
