package db

import (
	"errors"
	"strings"

	"github.com/willemschots/notekeeper/internal/krypto"
)

// Query helps build SQL queries using bind parameters.
// Use Unsafe to write static parts of a query and the Param methods to add bind parameters.
// The final query and parameters can be retrieved using the Get method.
//
// Sensitive values are never bound in plaintext: ParamEncrypted stores them encrypted,
// and ParamBlindIndex binds a keyed hash that allows equality lookups.
//
// The zero value is ready to use for queries without sensitive values.
type Query struct {
	Encryptor     *krypto.Encryptor
	BlindIndexKey krypto.Key
	b             strings.Builder
	params        []any
	err           error
}

// Unsafe writes a non-parameterized part of a query.
func (q *Query) Unsafe(s string) {
	q.b.WriteString(s)
}

// Param writes a parameterized part of a query.
func (q *Query) Param(v any) {
	q.b.WriteString("?")
	q.params = append(q.params, v)
}

// Params writes multiple parameterized parts of a query separated by commas.
func (q *Query) Params(v ...any) {
	for i, p := range v {
		if i > 0 {
			q.b.WriteString(", ")
		}
		q.Param(p)
	}
}

// ParamEncrypted writes a parameterized part of a query, the value is encrypted before binding.
// A nil value is bound as NULL.
func (q *Query) ParamEncrypted(d []byte) {
	if d == nil {
		q.Param(nil)
		return
	}

	if q.Encryptor == nil {
		q.err = errors.Join(q.err, errors.New("no encryptor set"))
		return
	}

	enc, err := q.Encryptor.Encrypt(d)
	if err != nil {
		q.err = errors.Join(q.err, err)
		return
	}

	q.Param(enc)
}

// ParamBlindIndex writes a parameterized part of a query that binds a blind index of the value.
// A nil value is bound as NULL.
// Important Note: The blind indexes need to be rebuilt if the key or argon2 parameters change.
func (q *Query) ParamBlindIndex(d []byte) {
	if d == nil {
		q.Param(nil)
		return
	}

	idx, err := BlindIndex(d, q.BlindIndexKey)
	if err != nil {
		q.err = errors.Join(q.err, err)
		return
	}

	q.Param(idx)
}

// ParamsBlindIndex writes blind indexes for multiple values separated by commas.
func (q *Query) ParamsBlindIndex(ds ...[]byte) {
	for i, d := range ds {
		if i > 0 {
			q.b.WriteString(", ")
		}
		q.ParamBlindIndex(d)
	}
}

// Get returns the constructed query and parameter values.
func (q *Query) Get() (string, []any, error) {
	return q.b.String(), q.params, q.err
}

// DecryptionTarget returns a value that can be used to scan encrypted columns.
func (q *Query) DecryptionTarget() *Decryptable {
	return &Decryptable{
		encryptor: q.Encryptor,
	}
}

// BlindIndex derives a deterministic blind index for d.
func BlindIndex(d []byte, key krypto.Key) (string, error) {
	hash, err := krypto.HashArgon2WithKey(d, key)
	if err != nil {
		return "", err
	}

	// the salt is the key, it must never be stored.
	hash.Salt = nil
	return hash.String(), nil
}

// Decryptable decrypts an encrypted column while scanning. A NULL column
// results in nil Data.
type Decryptable struct {
	encryptor *krypto.Encryptor
	Data      []byte
}

func (d *Decryptable) Scan(src any) error {
	if src == nil {
		d.Data = nil
		return nil
	}

	b, ok := src.([]byte)
	if !ok {
		return errors.New("invalid type")
	}

	if d.encryptor == nil {
		return errors.New("no encryptor set")
	}

	data, err := d.encryptor.Decrypt(b)
	if err != nil {
		return err
	}

	d.Data = data

	return nil
}
