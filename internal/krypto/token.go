package krypto

import (
	"errors"
	"log/slog"

	"github.com/google/uuid"
)

const tokenStrLen = 36

var ErrInvalidToken = errors.New("invalid token")

// Token is a random token that is sent via email to prove control over
// an email address, for example in account activation or password reset links.
//
// The only time a token should be provided in plaintext is as part of
// the email to the user. Tokens are confidential and should never be
// exposed in logs or persisted in plaintext.
type Token uuid.UUID

// GenerateToken creates a new random (version 4) token.
func GenerateToken() (Token, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return Token{}, err
	}

	return Token(id), nil
}

// ParseToken parses a token from its canonical string form.
func ParseToken(raw string) (Token, error) {
	if len(raw) != tokenStrLen {
		return Token{}, ErrInvalidToken
	}

	id, err := uuid.Parse(raw)
	if err != nil {
		return Token{}, ErrInvalidToken
	}

	if id.Version() != 4 || id.Variant() != uuid.RFC4122 {
		return Token{}, ErrInvalidToken
	}

	return Token(id), nil
}

// TokenFromBytes recreates a token from its raw bytes, see Bytes.
func TokenFromBytes(b []byte) (Token, error) {
	id, err := uuid.FromBytes(b)
	if err != nil {
		return Token{}, ErrInvalidToken
	}

	if id.Version() != 4 || id.Variant() != uuid.RFC4122 {
		return Token{}, ErrInvalidToken
	}

	return Token(id), nil
}

// IsZero reports whether t is the zero token. The zero token is never valid.
func (t Token) IsZero() bool {
	return uuid.UUID(t) == uuid.Nil
}

// String returns the string representation of the token.
// Unlike a password this is allowed, the token needs to be
// embedded in email links.
func (t Token) String() string {
	return uuid.UUID(t).String()
}

// Bytes returns the raw bytes of the token.
func (t Token) Bytes() []byte {
	return t[:]
}

func (t *Token) UnmarshalText(text []byte) error {
	tok, err := ParseToken(string(text))
	if err != nil {
		return err
	}

	*t = tok
	return nil
}

// LogValue implements the slog.Valuer interface.
func (t Token) LogValue() slog.Value {
	return slog.StringValue(SecretMarker)
}
