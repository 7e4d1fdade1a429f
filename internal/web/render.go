package web

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jarrod-lowe/jmap-service-webmail/internal/auth"
	"github.com/jarrod-lowe/jmap-service-webmail/internal/headers"
	"github.com/jarrod-lowe/jmap-service-webmail/internal/session"
)

//go:embed templates/*.html
var templateFS embed.FS

var funcs = template.FuncMap{
	"plain": headers.Plain,
	"join": func(parts []string) string {
		return strings.Join(parts, "\n")
	},
	"ibytes": func(n int64) string {
		if n < 0 {
			n = 0
		}
		return humanize.IBytes(uint64(n))
	},
	"kb": func(n int64) string {
		return humanize.IBytes(uint64(max(n, 0)) * 1024)
	},
	"ago": func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return humanize.Time(t)
	},
	"datetime": func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.UTC().Format(time.RFC1123Z)
	},
	"isotime": func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.UTC().Format(time.RFC3339)
	},
	"comma": func(n int) string {
		return humanize.Comma(int64(n))
	},
}

// parseTemplates builds one template set per page, each combining the
// layout with the page's content block.
func parseTemplates() (map[string]*template.Template, error) {
	pages, err := fs.Glob(templateFS, "templates/*.html")
	if err != nil {
		return nil, err
	}

	out := make(map[string]*template.Template, len(pages))
	for _, p := range pages {
		name := strings.TrimSuffix(path.Base(p), ".html")
		if name == "layout" {
			continue
		}
		t, err := template.New(name).Funcs(funcs).ParseFS(templateFS, "templates/layout.html", p)
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}
		out[name] = t
	}
	return out, nil
}

// pageData is what every page receives. Data holds the page's own model.
type pageData struct {
	ServiceName   string
	ServiceDomain string
	User          *session.User
	Flashes       []Flash
	CSRF          string
	Active        string
	Data          any
}

// render executes the named page into a buffer and writes it with status.
func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, name string, data any) {
	t, ok := s.templates[name]
	if !ok {
		s.logger.ErrorContext(r.Context(), "Unknown template", slog.String("template", name))
		http.Error(w, MsgDatabase, http.StatusInternalServerError)
		return
	}

	user := auth.UserFromContext(r.Context())
	if user == nil {
		user = s.gate.CurrentUser(r)
	}

	pd := pageData{
		ServiceName:   s.cfg.ServiceName,
		ServiceDomain: s.cfg.Domain,
		User:          user,
		Flashes:       s.takeFlashes(w, r),
		CSRF:          s.csrfToken(w, r),
		Active:        name,
		Data:          data,
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", pd); err != nil {
		s.logger.ErrorContext(r.Context(), "Failed to render template",
			slog.String("template", name),
			slog.String("error", err.Error()),
		)
		http.Error(w, MsgDatabase, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		http.Error(w, MsgDatabase, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(b)
}

// wantsJSON reports whether the client asked for a JSON response.
func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json") ||
		strings.HasPrefix(r.Header.Get("Content-Type"), "application/json")
}
