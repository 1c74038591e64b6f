package krypto

import (
	"fmt"
	"log/slog"
)

// Secret holds a credential of a third party, like the API token of
// an email provider. It prints, marshals and logs as SecretMarker.
type Secret struct {
	value []byte
}

func NewSecret(raw string) Secret {
	return Secret{
		value: []byte(raw),
	}
}

// IsZero reports whether the secret is empty.
func (s Secret) IsZero() bool {
	return len(s.value) == 0
}

func (s Secret) Format(f fmt.State, verb rune) {
	f.Write([]byte(SecretMarker))
}

func (s Secret) MarshalText() ([]byte, error) {
	return []byte(SecretMarker), nil
}

// LogValue implements the slog.LogValuer interface.
func (s Secret) LogValue() slog.Value {
	return slog.StringValue(SecretMarker)
}

// SecretValue returns the raw secret, for the client that needs to send it.
func (s Secret) SecretValue() []byte {
	return s.value
}
