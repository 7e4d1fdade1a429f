package web

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/jarrod-lowe/jmap-service-webmail/internal/account"
	"github.com/jarrod-lowe/jmap-service-webmail/internal/email"
	"github.com/jarrod-lowe/jmap-service-webmail/internal/listing"
	"github.com/jarrod-lowe/jmap-service-webmail/internal/mailbox"
	"github.com/jarrod-lowe/jmap-service-webmail/internal/msgid"
	"github.com/jarrod-lowe/jmap-service-webmail/internal/presenter"
)

// Messages shown on error pages.
const (
	MsgNotFound           = "Not Found"
	MsgMessageNotFound    = "This message does not exist"
	MsgAttachmentNotFound = "This attachment does not exist"
	MsgMailboxNotFound    = "This mailbox does not exist"
	MsgForbidden          = "You do not have access to this mailbox"
	MsgDatabase           = "Database error."
	MsgBadCSRF            = "Invalid form token, reload the page and try again"
)

// HTTPError is an error with the status and message to answer it with.
type HTTPError struct {
	Status  int
	Message string
	Err     error
}

func (e *HTTPError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *HTTPError) Unwrap() error { return e.Err }

// classify maps err to the response it deserves. Undecodable public ids
// read the same as missing messages.
func classify(err error) *HTTPError {
	var he *HTTPError
	if errors.As(err, &he) {
		return he
	}

	switch {
	case errors.Is(err, msgid.ErrInvalid), errors.Is(err, email.ErrMessageNotFound):
		return &HTTPError{Status: http.StatusNotFound, Message: MsgMessageNotFound, Err: err}
	case errors.Is(err, email.ErrAttachmentNotFound):
		return &HTTPError{Status: http.StatusNotFound, Message: MsgAttachmentNotFound, Err: err}
	case errors.Is(err, mailbox.ErrMailboxNotFound):
		return &HTTPError{Status: http.StatusNotFound, Message: MsgMailboxNotFound, Err: err}
	case errors.Is(err, presenter.ErrForbidden):
		return &HTTPError{Status: http.StatusForbidden, Message: MsgForbidden, Err: err}
	case errors.Is(err, listing.ErrValidation):
		return &HTTPError{Status: http.StatusInternalServerError, Message: err.Error(), Err: err}
	case errors.Is(err, account.ErrUserExists):
		return &HTTPError{Status: http.StatusInternalServerError, Message: "Failed to create account, try again", Err: err}
	}
	return &HTTPError{Status: http.StatusInternalServerError, Message: MsgDatabase, Err: err}
}

// fail answers the request with the error page for err. Detail is only
// shown in development mode.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	he := classify(err)

	attrs := []any{
		slog.Int("status", he.Status),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	}
	if he.Status >= http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "Request failed", attrs...)
	} else {
		s.logger.InfoContext(r.Context(), "Request rejected", attrs...)
	}

	data := errorPage{Status: he.Status, Message: he.Message}
	if s.cfg.Development() && he.Err != nil {
		data.Detail = he.Err.Error()
	}

	if wantsJSON(r) {
		s.writeJSON(w, he.Status, errorJSON{Status: "error", Error: data.Message, Detail: data.Detail})
		return
	}
	s.render(w, r, he.Status, "error", data)
}

type errorJSON struct {
	Status string `json:"status"`
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

type errorPage struct {
	Status  int
	Message string
	Detail  string
}
