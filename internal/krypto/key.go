package krypto

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// SecretMarker replaces keys, secrets, tokens and passwords in any output.
// Finding it in logs is fine, finding the raw value is a leak.
const SecretMarker = "<!SECRET_REDACTED!>"

// keySize is the size of a key in bytes. AES-256, HMAC-SHA256 and the
// cookie keys all take 32 bytes.
const keySize = 32

var ErrInvalidKey = errors.New("invalid key")

// Key is a 32 byte key for encryption, blind indexes, cookies and CSRF tokens.
type Key struct {
	b []byte
}

// ParseKey parses a key from 64 hex characters.
func ParseKey(raw string) (Key, error) {
	if len(raw) != hex.EncodedLen(keySize) {
		return Key{}, fmt.Errorf("%w: want %d hex characters, got %d", ErrInvalidKey, hex.EncodedLen(keySize), len(raw))
	}

	b, err := hex.DecodeString(raw)
	if err != nil {
		return Key{}, fmt.Errorf("%w: not hex encoded", ErrInvalidKey)
	}

	return Key{b: b}, nil
}

// ParseKeys parses keys separated by commas, in order. Whitespace around
// a key is ignored.
func ParseKeys(raw string) ([]Key, error) {
	var keys []Key
	for i, part := range strings.Split(raw, ",") {
		k, err := ParseKey(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("key %d: %w", i, err)
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// IsZero reports whether k was never parsed.
func (k Key) IsZero() bool {
	return len(k.b) == 0
}

func (k Key) Format(f fmt.State, _ rune) {
	fmt.Fprint(f, SecretMarker)
}

func (k Key) MarshalText() ([]byte, error) {
	return []byte(SecretMarker), nil
}

func (k Key) LogValue() slog.Value {
	return slog.StringValue(SecretMarker)
}

// SecretValue returns the raw key, for libraries that need it.
func (k Key) SecretValue() []byte {
	return k.b
}

func genRandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	if err != nil {
		return nil, fmt.Errorf("failed to read random bytes: %w", err)
	}
	return b, nil
}
