package web

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
)

const flashCookie = "webmail.flash"

// Flash kinds.
const (
	FlashSuccess = "success"
	FlashInfo    = "info"
	FlashDanger  = "danger"
)

// Flash is a one-shot notice shown on the next rendered page.
type Flash struct {
	Kind    string `json:"k"`
	Message string `json:"m"`
}

func readFlashes(r *http.Request) []Flash {
	c, err := r.Cookie(flashCookie)
	if err != nil {
		return nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(c.Value)
	if err != nil {
		return nil
	}
	var out []Flash
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

func (s *Server) setFlashes(w http.ResponseWriter, flashes []Flash) {
	c := &http.Cookie{
		Name:     flashCookie,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	}
	if len(flashes) == 0 {
		c.MaxAge = -1
	} else {
		raw, _ := json.Marshal(flashes)
		c.Value = base64.RawURLEncoding.EncodeToString(raw)
	}
	http.SetCookie(w, c)
}

// addFlash queues a notice after those already pending.
func (s *Server) addFlash(w http.ResponseWriter, r *http.Request, kind, message string) {
	s.setFlashes(w, append(readFlashes(r), Flash{Kind: kind, Message: message}))
}

// takeFlashes returns the pending notices and clears them.
func (s *Server) takeFlashes(w http.ResponseWriter, r *http.Request) []Flash {
	flashes := readFlashes(r)
	if len(flashes) > 0 {
		s.setFlashes(w, nil)
	}
	return flashes
}
