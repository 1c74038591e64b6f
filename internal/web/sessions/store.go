// Package sessions wraps gorilla/sessions with typed access to the values
// the web server keeps in a session.
package sessions

import (
	"net/http"

	"github.com/gorilla/sessions"
	"github.com/willemschots/notekeeper/internal/krypto"
)

const CookieName = "nk-session"

type Store struct {
	store sessions.Store
}

func NewStore(store sessions.Store) *Store {
	return &Store{store: store}
}

// NewCookieStore creates a Store that keeps sessions in authenticated and
// encrypted cookies. cookieKeys holds pairs of hash and block keys, the first
// pair is used to sign and encrypt, later pairs are only used to decode.
func NewCookieStore(cookieKeys []krypto.Key, secure bool) *Store {
	keyPairs := make([][]byte, 0, len(cookieKeys))
	for _, k := range cookieKeys {
		keyPairs = append(keyPairs, k.SecretValue())
	}

	cs := sessions.NewCookieStore(keyPairs...)
	cs.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   86400 * 7,
		Secure:   secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	return NewStore(cs)
}

// Get returns the session of the request. If the session cookie can't be
// decoded, a new session is returned together with the decoding error.
func (s *Store) Get(r *http.Request) (*Session, error) {
	base, err := s.store.Get(r, CookieName)
	if base == nil {
		return nil, err
	}

	return &Session{base: base}, err
}

// Save writes the session to the response.
func (s *Store) Save(r *http.Request, w http.ResponseWriter, sess *Session) error {
	return s.store.Save(r, w, sess.base)
}
