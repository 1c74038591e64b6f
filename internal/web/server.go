package web

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/csrf"
	"github.com/gorilla/schema"
	"github.com/willemschots/notekeeper/internal"
	"github.com/willemschots/notekeeper/internal/auth"
	"github.com/willemschots/notekeeper/internal/email"
	"github.com/willemschots/notekeeper/internal/krypto"
	"github.com/willemschots/notekeeper/internal/web/sessions"
)

const (
	csrfTokenCookieName = "nk-csrf"
	// CSRFTokenHeader holds the CSRF token in responses,
	// unsafe requests need to echo it in the same header.
	CSRFTokenHeader = "X-CSRF-Token"
)

// ServerDeps are the dependencies for the server.
type ServerDeps struct {
	Logger       *slog.Logger
	AuthService  *auth.Service
	SessionStore *sessions.Store
}

// ServerConfig is the configuration for the server.
type ServerConfig struct {
	// BaseURL is the public URL of the server, used to build the
	// links that are sent by email.
	BaseURL      *url.URL
	CSRFKey      krypto.Key
	SecureCookie bool
}

type Server struct {
	deps    *ServerDeps
	mux     *http.ServeMux
	decoder *schema.Decoder
	handler http.Handler

	activationBaseURL string
	resetBaseURL      string
}

func NewServer(deps *ServerDeps, cfg ServerConfig) *Server {
	decoder := schema.NewDecoder()
	// the CSRF token may be submitted as a form field as well.
	decoder.IgnoreUnknownKeys(true)

	s := &Server{
		deps:              deps,
		mux:               http.NewServeMux(),
		decoder:           decoder,
		activationBaseURL: cfg.BaseURL.JoinPath("activate").String(),
		resetBaseURL:      cfg.BaseURL.JoinPath("reset-password").String(),
	}

	// Most endpoints below are created using the map functions.
	// These return handlers that map between HTTP requests, target functions and HTTP responses.
	// The request mapping and response writing is customizable.

	// Status endpoint, also used to obtain a CSRF token.
	s.public("GET /{$}", mapResponse(s, func(ctx context.Context) (statusJSON, error) {
		return statusJSON{Status: "ok", Version: internal.BuildInfo.Version()}, nil
	}))

	// Register account endpoint.
	{
		const route = "POST /register"

		type registerForm struct {
			Email    email.Address `schema:"email"`
			Password auth.Password `schema:"password"`
			Name     string        `schema:"name"`
		}

		h := mapRequest(s, func(ctx context.Context, f registerForm) error {
			reg := auth.Registration{
				Email:    f.Email,
				Password: f.Password,
				Name:     f.Name,
			}
			return s.deps.AuthService.RegisterUser(ctx, reg, s.activationBaseURL)
		})
		h.response(func(r result[registerForm, struct{}]) error {
			return writeJSON(r.w, http.StatusCreated, statusJSON{Status: "registered"})
		})

		s.publicOnly(route, h)
	}

	// Activate account endpoint.
	{
		const route = "GET /activate/{token}"
		h := mapRequest(s, deps.AuthService.ActivateAccount)
		h.request(tokenFromPath)

		s.publicOnly(route, h)
	}

	// Login endpoint.
	{
		const route = "POST /login"

		type loginForm struct {
			Email    email.Address `schema:"email"`
			Password auth.Password `schema:"password"`
		}

		h := mapBoth(s, func(ctx context.Context, f loginForm) (auth.Account, error) {
			return s.deps.AuthService.LoginUser(ctx, auth.Credentials{
				Email:    f.Email,
				Password: f.Password,
			})
		})
		h.response(func(r result[loginForm, auth.Account]) error {
			// If we get here, the account has been authenticated.

			// The CSRF token is cleared to protect against fixation attacks.
			// If an attacker somehow gains access to the CSRF token before the user logged in,
			// it will be worthless after the user logs in. A new token is issued on the next request.
			http.SetCookie(r.w, &http.Cookie{
				Name:   csrfTokenCookieName,
				Path:   "/",
				MaxAge: -1,
			})
			r.w.Header().Del(CSRFTokenHeader)

			r.sess.SetAccountID(r.out.ID)
			err := r.s.deps.SessionStore.Save(r.r, r.w, r.sess)
			if err != nil {
				return err
			}

			return writeJSON(r.w, http.StatusOK, newAccountJSON(r.out))
		})

		s.publicOnly(route, h)
	}

	// Logout endpoint.
	{
		const route = "POST /logout"
		h := mapRequest(s, func(ctx context.Context, _ struct{}) error {
			return nil
		})
		h.response(func(r result[struct{}, struct{}]) error {
			r.sess.DeleteAccountID()
			err := r.s.deps.SessionStore.Save(r.r, r.w, r.sess)
			if err != nil {
				return err
			}

			return writeJSON(r.w, http.StatusOK, statusJSON{Status: "logged out"})
		})

		s.loggedIn(route, h)
	}

	// Forgot password endpoint.
	{
		const route = "POST /forgot-password"

		type forgotForm struct {
			Email email.Address `schema:"email"`
		}

		h := mapRequest(s, func(ctx context.Context, f forgotForm) error {
			return s.deps.AuthService.ForgotPassword(ctx, f.Email, s.resetBaseURL)
		})

		s.publicOnly(route, h)
	}

	// Reset password endpoint.
	{
		const route = "POST /reset-password/{token}"
		h := mapRequest(s, deps.AuthService.ResetPassword)
		h.request(func(r *http.Request) (auth.PasswordReset, error) {
			type resetForm struct {
				Password auth.Password `schema:"password"`
			}

			token, err := tokenFromPath(r)
			if err != nil {
				return auth.PasswordReset{}, err
			}

			f, err := defaultRequest[resetForm](s, r)
			if err != nil {
				return auth.PasswordReset{}, err
			}

			return auth.PasswordReset{
				Token:    token,
				Password: f.Password,
			}, nil
		})

		s.publicOnly(route, h)
	}

	// Account endpoint.
	s.loggedIn("GET /account", mapResponse(s, func(ctx context.Context) (accountJSON, error) {
		sess, err := sessionFromCtx(ctx)
		if err != nil {
			return accountJSON{}, err
		}

		// loggedIn guarantees the ID is present.
		id, _ := sess.AccountID()

		acc, err := s.deps.AuthService.FindAccount(ctx, id)
		if err != nil {
			return accountJSON{}, err
		}

		return newAccountJSON(acc), nil
	}))

	// Wrap the mux with global middlewares.
	csrfMW := csrf.Protect(
		cfg.CSRFKey.SecretValue(),
		csrf.CookieName(csrfTokenCookieName),
		csrf.RequestHeader(CSRFTokenHeader),
		csrf.Path("/"),
		csrf.Secure(cfg.SecureCookie),
		csrf.ErrorHandler(http.HandlerFunc(s.csrfFailure)),
	)

	middlewares := []func(http.Handler) http.Handler{
		csrfMW,
		csrfHeader,
		s.sessionMiddleware,
	}
	s.handler = s.mux
	for i := len(middlewares) - 1; i >= 0; i-- {
		s.handler = middlewares[i](s.handler)
	}

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// csrfHeader exposes the CSRF token of the request in the response headers.
func csrfHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(CSRFTokenHeader, csrf.Token(r))
		next.ServeHTTP(w, r)
	})
}

func tokenFromPath(r *http.Request) (krypto.Token, error) {
	return krypto.ParseToken(r.PathValue("token"))
}

type statusJSON struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

type accountJSON struct {
	ID        int           `json:"id"`
	Email     email.Address `json:"email"`
	Name      string        `json:"name"`
	Status    auth.Status   `json:"status"`
	CreatedAt time.Time     `json:"createdAt"`
}

func newAccountJSON(a auth.Account) accountJSON {
	return accountJSON{
		ID:        a.ID,
		Email:     a.Email,
		Name:      a.Name,
		Status:    a.Status,
		CreatedAt: a.CreatedAt,
	}
}
