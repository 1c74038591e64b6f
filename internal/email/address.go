package email

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
)

// maxAddressLen is the longest address that fits in an SMTP forward path.
const maxAddressLen = 254

// ErrInvalidEmail indicates an email address is not valid.
var ErrInvalidEmail = errors.New("invalid email address")

// Address is the email address of an account. Addresses are compared as
// parsed: surrounding whitespace is trimmed, case is kept.
type Address string

// ParseAddress accepts a bare address like "alice@example.com". Display
// names, comments and angle brackets are rejected. It only checks the
// shape of the address, not whether a mailbox exists.
func ParseAddress(raw string) (Address, error) {
	s := strings.TrimSpace(raw)

	if len(s) > maxAddressLen {
		return "", fmt.Errorf("%w: longer than %d bytes", ErrInvalidEmail, maxAddressLen)
	}

	parsed, err := mail.ParseAddress(s)
	if err != nil || parsed.Name != "" || parsed.Address != s {
		return "", ErrInvalidEmail
	}

	return Address(s), nil
}

// UnmarshalText parses text with ParseAddress. On failure a is left unchanged.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}

	*a = parsed
	return nil
}
