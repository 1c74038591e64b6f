package krypto_test

import (
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/willemschots/notekeeper/internal/krypto"
)

func failTextToArgon2Hash() map[string]string {
	return map[string]string{
		"fail, wrong variant":           "$argon2i$v=19$m=47104,t=1,p=1$fYJT8cAysfuYCBjxTEmCkaCz0RfRtlLQOw2Fj8gM5Uw$DVpK1dNdPRmhL8oTSo+RlA",
		"fail, non-numeric version":     "$argon2id$v=abc$m=47104,t=1,p=1$fYJT8cAysfuYCBjxTEmCkaCz0RfRtlLQOw2Fj8gM5Uw$DVpK1dNdPRmhL8oTSo+RlA",
		"fail, non-matching version":    "$argon2id$v=18$m=47104,t=1,p=1$fYJT8cAysfuYCBjxTEmCkaCz0RfRtlLQOw2Fj8gM5Uw$DVpK1dNdPRmhL8oTSo+RlA",
		"fail, non-numeric memory":      "$argon2id$v=19$m=abc,t=1,p=1$fYJT8cAysfuYCBjxTEmCkaCz0RfRtlLQOw2Fj8gM5Uw$DVpK1dNdPRmhL8oTSo+RlA",
		"fail, non-numeric iterations":  "$argon2id$v=19$m=47104,t=abc,p=1$fYJT8cAysfuYCBjxTEmCkaCz0RfRtlLQOw2Fj8gM5Uw$DVpK1dNdPRmhL8oTSo+RlA",
		"fail, non-numeric parallelism": "$argon2id$v=19$m=47104,t=1,p=abc$fYJT8cAysfuYCBjxTEmCkaCz0RfRtlLQOw2Fj8gM5Uw$DVpK1dNdPRmhL8oTSo+RlA",
		"fail, non-base64 salt":         "$argon2id$v=19$m=47104,t=1,p=1$???????????????????????????????????????????$DVpK1dNdPRmhL8oTSo+RlA",
		"fail, non-base64 hash":         "$argon2id$v=19$m=47104,t=1,p=1$fYJT8cAysfuYCBjxTEmCkaCz0RfRtlLQOw2Fj8gM5Uw$??????????????????????",
	}
}

type argon2HashTest struct {
	raw     string
	hashStr string
	hash    krypto.Argon2Hash
}

func okTextToArgon2Hash() map[string]argon2HashTest {
	return map[string]argon2HashTest{
		"ascii": {
			raw:     "12345678",
			hashStr: "$argon2id$v=19$m=47104,t=1,p=1$vP9U4C5jsOzFQLj0gvUkYw$YLrSb2dGfcVohlm8syynqHs6/NHxXS9rt/t6TjL7pi0",
			hash: krypto.Argon2Hash{
				Variant:     "argon2id",
				Version:     19,
				MemoryKiB:   47104,
				Iterations:  1,
				Parallelism: 1,
				Salt: []byte{
					0xbc, 0xff, 0x54, 0xe0, 0x2e, 0x63, 0xb0, 0xec,
					0xc5, 0x40, 0xb8, 0xf4, 0x82, 0xf5, 0x24, 0x63,
				},
				Hash: []byte{
					0x60, 0xba, 0xd2, 0x6f, 0x67, 0x46, 0x7d, 0xc5,
					0x68, 0x86, 0x59, 0xbc, 0xb3, 0x2c, 0xa7, 0xa8,
					0x7b, 0x3a, 0xfc, 0xd1, 0xf1, 0x5d, 0x2f, 0x6b,
					0xb7, 0xfb, 0x7a, 0x4e, 0x32, 0xfb, 0xa6, 0x2d,
				},
			},
		},
	}
}

func Test_Argon2Hash_HashArgon2AndMatch(t *testing.T) {
	for name, tc := range okTextToArgon2Hash() {
		t.Run(name, func(t *testing.T) {
			// Rehash the raw value.
			got, err := krypto.HashArgon2([]byte(tc.raw))
			if err != nil {
				t.Fatalf("failed to hash argon2: %v", err)
			}

			// The new hash and the existing hash should not be equal because of the random salt.
			if reflect.DeepEqual(got, tc.hash) {
				t.Errorf("did not expect\n%#v\nto equal\n%#v\n", got, tc.hash)
			}

			// Additionally, the raw value should match the new hash.
			if !got.MatchBytes([]byte(tc.raw)) {
				t.Errorf("expected raw value to match hash, but it did not")
			}
		})
	}

	t.Run("ok, non-ascii", func(t *testing.T) {
		raw := []byte("wachtwoord-\u00e9\u00e8\u2603")
		got, err := krypto.HashArgon2(raw)
		if err != nil {
			t.Fatalf("failed to hash argon2: %v", err)
		}

		if !got.MatchBytes(raw) {
			t.Errorf("expected raw value to match hash, but it did not")
		}

		if got.MatchBytes([]byte("wachtwoord-")) {
			t.Errorf("expected prefix not to match hash, but it did")
		}
	})

	failTests := map[string][]byte{
		"fail, nil":   nil,
		"fail, empty": {},
	}

	for name, raw := range failTests {
		t.Run(name, func(t *testing.T) {
			_, err := krypto.HashArgon2(raw)
			if !errors.Is(err, krypto.ErrInvalidInput) {
				t.Fatalf("expected %v, but got %v (via errors.Is)", krypto.ErrInvalidInput, err)
			}
		})
	}
}

// argon2Decoders are all the ways a stored hash is read back.
var argon2Decoders = map[string]func(string) (krypto.Argon2Hash, error){
	"parse": krypto.ParseArgon2Hash,
	"unmarshal text": func(s string) (krypto.Argon2Hash, error) {
		var h krypto.Argon2Hash
		err := h.UnmarshalText([]byte(s))
		return h, err
	},
	"scan string": func(s string) (krypto.Argon2Hash, error) {
		var h krypto.Argon2Hash
		err := h.Scan(s)
		return h, err
	},
	"scan bytes": func(s string) (krypto.Argon2Hash, error) {
		var h krypto.Argon2Hash
		err := h.Scan([]byte(s))
		return h, err
	},
}

// argon2Encoders are all the ways a hash is written out.
var argon2Encoders = map[string]func(krypto.Argon2Hash) (string, error){
	"string": func(h krypto.Argon2Hash) (string, error) {
		return h.String(), nil
	},
	"marshal text": func(h krypto.Argon2Hash) (string, error) {
		b, err := h.MarshalText()
		return string(b), err
	},
	"value": func(h krypto.Argon2Hash) (string, error) {
		v, err := h.Value()
		if err != nil {
			return "", err
		}
		s, ok := v.(string)
		if !ok {
			return "", fmt.Errorf("value is %T, want string", v)
		}
		return s, nil
	},
}

func Test_Argon2Hash_Decode(t *testing.T) {
	for decName, decode := range argon2Decoders {
		for name, tc := range okTextToArgon2Hash() {
			t.Run(decName+", ok, "+name, func(t *testing.T) {
				got, err := decode(tc.hashStr)
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}

				if !reflect.DeepEqual(got, tc.hash) {
					t.Errorf("got\n%#v\nwant\n%#v", got, tc.hash)
				}

				if !got.MatchBytes([]byte(tc.raw)) {
					t.Errorf("expected raw value to match decoded hash")
				}

				if got.MatchBytes([]byte(tc.raw + "9")) {
					t.Errorf("expected other value not to match decoded hash")
				}
			})
		}

		for name, txt := range failTextToArgon2Hash() {
			t.Run(decName+", "+name, func(t *testing.T) {
				_, err := decode(txt)
				if !errors.Is(err, krypto.ErrInvalidInput) {
					t.Errorf("expected %v, got %v (via errors.Is)", krypto.ErrInvalidInput, err)
				}
			})
		}
	}

	t.Run("scan, fail, not text", func(t *testing.T) {
		var got krypto.Argon2Hash
		err := got.Scan(42)
		if err == nil {
			t.Fatalf("expected error, got <nil>")
		}
	})
}

func Test_Argon2Hash_Encode(t *testing.T) {
	for encName, encode := range argon2Encoders {
		for name, tc := range okTextToArgon2Hash() {
			t.Run(encName+", ok, "+name, func(t *testing.T) {
				got, err := encode(tc.hash)
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}

				if got != tc.hashStr {
					t.Errorf("got\n%s\nwant\n%s", got, tc.hashStr)
				}
			})
		}
	}
}

func Test_Argon2Hash_HashArgon2WithKey(t *testing.T) {
	key1 := must(krypto.ParseKey("2b671594b775f371eab4050b4d58326682df6b1a6cc2e886717b1a26b4d6c45d"))
	key2 := must(krypto.ParseKey("90303dfed7994260ea4817a5ca8a392915cd401115b2f97495dadfcbcd14adbf"))

	t.Run("ok, deterministic for the same key", func(t *testing.T) {
		h1 := must(krypto.HashArgon2WithKey([]byte("alice@example.com"), key1))
		h2 := must(krypto.HashArgon2WithKey([]byte("alice@example.com"), key1))

		if !reflect.DeepEqual(h1, h2) {
			t.Errorf("expected\n%#v\nto equal\n%#v\n", h1, h2)
		}

		if !h1.MatchBytes([]byte("alice@example.com")) {
			t.Errorf("expected raw value to match hash, but it did not")
		}
	})

	t.Run("ok, different for different keys", func(t *testing.T) {
		h1 := must(krypto.HashArgon2WithKey([]byte("alice@example.com"), key1))
		h2 := must(krypto.HashArgon2WithKey([]byte("alice@example.com"), key2))

		if reflect.DeepEqual(h1.Hash, h2.Hash) {
			t.Errorf("did not expect hashes to be equal")
		}
	})

	t.Run("ok, different for different data", func(t *testing.T) {
		h1 := must(krypto.HashArgon2WithKey([]byte("alice@example.com"), key1))
		h2 := must(krypto.HashArgon2WithKey([]byte("bob@example.com"), key1))

		if reflect.DeepEqual(h1.Hash, h2.Hash) {
			t.Errorf("did not expect hashes to be equal")
		}
	})

	t.Run("fail, empty data", func(t *testing.T) {
		_, err := krypto.HashArgon2WithKey(nil, key1)
		if !errors.Is(err, krypto.ErrInvalidInput) {
			t.Fatalf("expected %v, but got %v (via errors.Is)", krypto.ErrInvalidInput, err)
		}
	})

	t.Run("fail, zero key", func(t *testing.T) {
		_, err := krypto.HashArgon2WithKey([]byte("alice@example.com"), krypto.Key{})
		if !errors.Is(err, krypto.ErrInvalidInput) {
			t.Fatalf("expected %v, but got %v (via errors.Is)", krypto.ErrInvalidInput, err)
		}
	})
}
