package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/willemschots/notekeeper/internal/web/sessions"
)

var (
	errNotLoggedIn     = errors.New("not logged in")
	errAlreadyLoggedIn = errors.New("already logged in")
)

// sessionMiddleware gets the session of the request and injects it in the context.
// An undecodable session cookie is replaced by a new session.
func (s *Server) sessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := s.deps.SessionStore.Get(r)
		if err != nil {
			if sess == nil {
				s.handleError(w, r, err)
				return
			}

			s.deps.Logger.Warn("discarding invalid session", "error", err)
		}

		ctx := ctxWithSession(r.Context(), sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// public registers a route that is accessible to everyone.
func (s *Server) public(route string, h http.Handler) {
	s.mux.Handle(route, h)
}

// publicOnly registers a route that is only accessible to clients that are not logged in.
func (s *Server) publicOnly(route string, h http.Handler) {
	s.mux.Handle(route, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := sessionFromCtx(r.Context())
		if err != nil {
			s.handleError(w, r, err)
			return
		}

		if _, ok := sess.AccountID(); ok {
			s.handleError(w, r, errAlreadyLoggedIn)
			return
		}

		h.ServeHTTP(w, r)
	}))
}

// loggedIn registers a route that is only accessible to logged in clients.
func (s *Server) loggedIn(route string, h http.Handler) {
	s.mux.Handle(route, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := sessionFromCtx(r.Context())
		if err != nil {
			s.handleError(w, r, err)
			return
		}

		if _, ok := sess.AccountID(); !ok {
			s.handleError(w, r, errNotLoggedIn)
			return
		}

		h.ServeHTTP(w, r)
	}))
}

type ctxKey string

const sessionCtxKey ctxKey = "_session"

func ctxWithSession(ctx context.Context, sess *sessions.Session) context.Context {
	return context.WithValue(ctx, sessionCtxKey, sess)
}

func sessionFromCtx(ctx context.Context) (*sessions.Session, error) {
	sess, ok := ctx.Value(sessionCtxKey).(*sessions.Session)
	if !ok {
		return nil, fmt.Errorf("could not get session from context")
	}

	return sess, nil
}
