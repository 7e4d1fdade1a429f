package web

import (
	"net/http"

	"github.com/jarrod-lowe/jmap-service-webmail/internal/auth"
	"github.com/jarrod-lowe/jmap-service-webmail/internal/listing"
)

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	if user == nil {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}

	params, err := listing.ParseQuery(r.URL.Query())
	if err != nil {
		s.fail(w, r, err)
		return
	}

	page, err := s.listing.List(r.Context(), user.ID, params)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.render(w, r, http.StatusOK, "messages", page)
}
