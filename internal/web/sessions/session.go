package sessions

import (
	"github.com/gorilla/sessions"
)

const accountIDKey = "accountID"

// Session is the session of a client. It tracks which account,
// if any, is logged in.
type Session struct {
	base *sessions.Session
}

// AccountID returns the ID of the logged in account.
func (s *Session) AccountID() (int, bool) {
	id, ok := s.base.Values[accountIDKey].(int)
	return id, ok
}

func (s *Session) SetAccountID(id int) {
	s.base.Values[accountIDKey] = id
}

func (s *Session) DeleteAccountID() {
	delete(s.base.Values, accountIDKey)
}
