package krypto

import (
	"crypto/subtle"
	"database/sql/driver"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Parameters used for new hashes. Existing hashes carry their own
// parameters, so these can be tuned without invalidating stored hashes.
const (
	argon2Variant     = "argon2id"
	argon2MemoryKiB   = 47104
	argon2Iterations  = 1
	argon2Parallelism = 1
	argon2SaltLen     = 16
	argon2KeyLen      = 32
)

// ErrInvalidInput indicates the input could not be hashed or parsed.
var ErrInvalidInput = errors.New("invalid input")

// Argon2Hash is an argon2id hash together with the parameters used to create it.
type Argon2Hash struct {
	Variant     string
	Version     int
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	Salt        []byte
	Hash        []byte
}

// HashArgon2 hashes the data with a random salt.
// Hashing the same data twice results in different hashes.
func HashArgon2(data []byte) (Argon2Hash, error) {
	salt, err := genRandomBytes(argon2SaltLen)
	if err != nil {
		return Argon2Hash{}, err
	}

	return hashWithSalt(data, salt)
}

// HashArgon2WithKey hashes the data using the key as salt. The result is
// deterministic for a given key, which makes it usable as a blind index.
func HashArgon2WithKey(data []byte, key Key) (Argon2Hash, error) {
	if key.IsZero() {
		return Argon2Hash{}, fmt.Errorf("%w: empty key", ErrInvalidInput)
	}

	return hashWithSalt(data, key.SecretValue())
}

func hashWithSalt(data, salt []byte) (Argon2Hash, error) {
	if len(data) == 0 {
		return Argon2Hash{}, fmt.Errorf("%w: no data to hash", ErrInvalidInput)
	}

	h := Argon2Hash{
		Variant:     argon2Variant,
		Version:     argon2.Version,
		MemoryKiB:   argon2MemoryKiB,
		Iterations:  argon2Iterations,
		Parallelism: argon2Parallelism,
		Salt:        salt,
	}

	h.Hash = argon2.IDKey(data, salt, h.Iterations, h.MemoryKiB, h.Parallelism, argon2KeyLen)

	return h, nil
}

// MatchBytes reports whether data hashes to h using the parameters and salt of h.
func (h Argon2Hash) MatchBytes(data []byte) bool {
	if h.Variant != argon2Variant || h.Version != argon2.Version || len(h.Hash) == 0 {
		return false
	}

	other := argon2.IDKey(data, h.Salt, h.Iterations, h.MemoryKiB, h.Parallelism, uint32(len(h.Hash)))

	return subtle.ConstantTimeCompare(h.Hash, other) == 1
}

// ParseArgon2Hash parses the PHC string format, for example:
// $argon2id$v=19$m=47104,t=1,p=1$<salt>$<hash>
func ParseArgon2Hash(s string) (Argon2Hash, error) {
	parts := strings.Split(s, "$")
	if len(parts) != 6 || parts[0] != "" {
		return Argon2Hash{}, fmt.Errorf("%w: expected 6 segments", ErrInvalidInput)
	}

	if parts[1] != argon2Variant {
		return Argon2Hash{}, fmt.Errorf("%w: unsupported variant %q", ErrInvalidInput, parts[1])
	}

	version, err := strconv.Atoi(strings.TrimPrefix(parts[2], "v="))
	if err != nil || !strings.HasPrefix(parts[2], "v=") {
		return Argon2Hash{}, fmt.Errorf("%w: invalid version segment", ErrInvalidInput)
	}

	if version != argon2.Version {
		return Argon2Hash{}, fmt.Errorf("%w: unsupported version %d", ErrInvalidInput, version)
	}

	params := strings.Split(parts[3], ",")
	if len(params) != 3 {
		return Argon2Hash{}, fmt.Errorf("%w: invalid parameter segment", ErrInvalidInput)
	}

	memory, err := parseParam(params[0], "m=", 32)
	if err != nil {
		return Argon2Hash{}, err
	}

	iterations, err := parseParam(params[1], "t=", 32)
	if err != nil {
		return Argon2Hash{}, err
	}

	parallelism, err := parseParam(params[2], "p=", 8)
	if err != nil {
		return Argon2Hash{}, err
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return Argon2Hash{}, fmt.Errorf("%w: invalid salt: %w", ErrInvalidInput, err)
	}

	hash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return Argon2Hash{}, fmt.Errorf("%w: invalid hash: %w", ErrInvalidInput, err)
	}

	return Argon2Hash{
		Variant:     parts[1],
		Version:     version,
		MemoryKiB:   uint32(memory),
		Iterations:  uint32(iterations),
		Parallelism: uint8(parallelism),
		Salt:        salt,
		Hash:        hash,
	}, nil
}

func parseParam(s, prefix string, bitSize int) (uint64, error) {
	if !strings.HasPrefix(s, prefix) {
		return 0, fmt.Errorf("%w: expected parameter %q", ErrInvalidInput, prefix)
	}

	v, err := strconv.ParseUint(strings.TrimPrefix(s, prefix), 10, bitSize)
	if err != nil {
		return 0, fmt.Errorf("%w: parameter %q: %w", ErrInvalidInput, prefix, err)
	}

	return v, nil
}

// String returns the hash in PHC string format.
func (h Argon2Hash) String() string {
	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		h.Variant, h.Version, h.MemoryKiB, h.Iterations, h.Parallelism,
		base64.RawStdEncoding.EncodeToString(h.Salt),
		base64.RawStdEncoding.EncodeToString(h.Hash),
	)
}

func (h Argon2Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Argon2Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseArgon2Hash(string(text))
	if err != nil {
		return err
	}

	*h = parsed
	return nil
}

// Scan implements the sql.Scanner interface.
func (h *Argon2Hash) Scan(src any) error {
	switch v := src.(type) {
	case string:
		return h.UnmarshalText([]byte(v))
	case []byte:
		return h.UnmarshalText(v)
	default:
		return fmt.Errorf("can not scan %T into argon2 hash", src)
	}
}

// Value implements the driver.Valuer interface.
func (h Argon2Hash) Value() (driver.Value, error) {
	return h.String(), nil
}
