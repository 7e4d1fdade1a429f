package web

import (
	"html/template"
	"io"
	"log/slog"
	"mime"
	"net/http"

	"github.com/jarrod-lowe/jmap-service-webmail/internal/presenter"
)

type messagePage struct {
	*presenter.MessageView
	Tab  string
	JSON template.JS
}

func (s *Server) handleMessage(target targetFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := target(r)
		if err != nil {
			s.fail(w, r, err)
			return
		}

		view, err := s.presenter.Message(r.Context(), t)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		js, err := view.JSON()
		if err != nil {
			s.fail(w, r, err)
			return
		}

		tab := "header"
		if r.URL.Query().Get("tab") == "envelope" {
			tab = "envelope"
		}

		w.Header().Set("Referrer-Policy", "no-referrer")
		s.render(w, r, http.StatusOK, "message", messagePage{
			MessageView: view,
			Tab:         tab,
			JSON:        template.JS(js),
		})
	}
}

func (s *Server) handleSource(target targetFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := target(r)
		if err != nil {
			s.fail(w, r, err)
			return
		}

		view, err := s.presenter.Source(r.Context(), t)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		s.render(w, r, http.StatusOK, "source", view)
	}
}

func (s *Server) handleRaw(target targetFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := target(r)
		if err != nil {
			s.fail(w, r, err)
			return
		}

		rc, err := s.presenter.Raw(r.Context(), t)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		defer rc.Close()

		w.Header().Set("Content-Type", "message/rfc822")
		s.stream(w, r, rc)
	}
}

func (s *Server) handleAttachment(target targetFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := target(r)
		if err != nil {
			s.fail(w, r, err)
			return
		}

		att, err := s.presenter.Attachment(r.Context(), t, r.PathValue("aid"))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		defer att.Body.Close()

		h := w.Header()
		h.Set("Content-Type", att.ContentType)
		if att.Filename != "" {
			if cd := mime.FormatMediaType("inline", map[string]string{"filename": att.Filename}); cd != "" {
				h.Set("Content-Disposition", cd)
			}
		}
		// Attachments are untrusted content served from our origin.
		h.Set("Content-Security-Policy", "sandbox; default-src 'none'; img-src data:; style-src 'unsafe-inline'")
		h.Set("X-Content-Type-Options", "nosniff")
		s.stream(w, r, att.Body)
	}
}

// stream copies body to the client. A failure before anything was sent
// gets an error page; a failure after that aborts the connection.
func (s *Server) stream(w http.ResponseWriter, r *http.Request, body io.Reader) {
	cw := &countingWriter{w: w}
	if _, err := io.Copy(cw, body); err != nil {
		if cw.n == 0 {
			w.Header().Del("Content-Disposition")
			w.Header().Del("Content-Security-Policy")
			s.fail(w, r, err)
			return
		}
		s.logger.ErrorContext(r.Context(), "Stream failed",
			slog.String("path", r.URL.Path),
			slog.Int64("bytes", cw.n),
			slog.String("error", err.Error()),
		)
		panic(http.ErrAbortHandler)
	}
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
