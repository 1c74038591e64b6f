package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/csrf"
	"github.com/willemschots/notekeeper/internal/auth"
	"github.com/willemschots/notekeeper/internal/errorz"
)

type errorJSON struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

// statusErrors maps errors to their status codes, the first match wins.
var statusErrors = []struct {
	err    error
	status int
}{
	{auth.ErrInvalidCredentials, http.StatusUnauthorized},
	{errNotLoggedIn, http.StatusUnauthorized},
	{auth.ErrNotActivated, http.StatusForbidden},
	{errAlreadyLoggedIn, http.StatusForbidden},
	{auth.ErrInvalidToken, http.StatusNotFound},
	{auth.ErrUnknownEmail, http.StatusNotFound},
	{errorz.ErrNotFound, http.StatusNotFound},
	{auth.ErrDuplicateEmail, http.StatusConflict},
}

func (s *Server) handleError(w http.ResponseWriter, r *http.Request, err error) {
	var invalidInput errorz.InvalidInput
	if errors.As(err, &invalidInput) {
		s.writeErr(w, r, http.StatusBadRequest, invalidInputJSON(invalidInput))
		return
	}

	for _, se := range statusErrors {
		if errors.Is(err, se.err) {
			s.writeErr(w, r, se.status, errorJSON{Error: se.err.Error()})
			return
		}
	}

	s.deps.Logger.Error("internal server error", "method", r.Method, "path", r.URL.Path, "error", err)
	s.writeErr(w, r, http.StatusInternalServerError, errorJSON{Error: "internal server error"})
}

// csrfFailure is called by the CSRF middleware when a request fails validation.
func (s *Server) csrfFailure(w http.ResponseWriter, r *http.Request) {
	s.deps.Logger.Info("csrf validation failed", "method", r.Method, "path", r.URL.Path, "reason", csrf.FailureReason(r))
	s.writeErr(w, r, http.StatusForbidden, errorJSON{Error: "invalid csrf token"})
}

func (s *Server) writeErr(w http.ResponseWriter, r *http.Request, status int, body errorJSON) {
	err := writeJSON(w, status, body)
	if err != nil {
		s.deps.Logger.Error("failed to write error response", "path", r.URL.Path, "error", err)
	}
}

// invalidInputJSON reports keyed errors per field. Errors without a key
// are joined in the main message.
func invalidInputJSON(in errorz.InvalidInput) errorJSON {
	fields, other := in.Fields()

	out := errorJSON{
		Error:  "invalid input",
		Fields: fields,
	}

	for _, err := range other {
		out.Error += ": " + err.Error()
	}

	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}
