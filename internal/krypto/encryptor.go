package krypto

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	// ErrUnknownKey indicates that the key used to encrypt the data is unknown.
	ErrUnknownKey = errors.New("unknown key")
	// ErrInvalidData indicates that the data is invalid.
	ErrInvalidData = errors.New("invalid data")
)

const indexBytes = 4

// Encryptor encrypts and decrypts data using AES-GCM. Account emails and
// pending tokens are stored encrypted with it.
//
// The encryptor uses an append only list of keys. The last key in the list
// is used for encryption, older keys are only used to decrypt data that was
// encrypted before a key rotation.
//
// Output is laid out as: key index (4 bytes, big endian) | nonce | ciphertext.
// The key index is used as additional data and is not considered secret.
type Encryptor struct {
	aeads []cipher.AEAD
}

// NewEncryptor creates a new encryptor with the provided keys.
func NewEncryptor(keys []Key) (*Encryptor, error) {
	if len(keys) == 0 {
		return nil, errors.New("at least one key is required")
	}

	aeads := make([]cipher.AEAD, 0, len(keys))
	for _, k := range keys {
		block, err := aes.NewCipher(k.SecretValue())
		if err != nil {
			return nil, err
		}

		gcm, err := cipher.NewGCM(block)
		if err != nil {
			return nil, err
		}

		aeads = append(aeads, gcm)
	}

	return &Encryptor{
		aeads: aeads,
	}, nil
}

// Encrypt encrypts the data using the latest available key.
func (e *Encryptor) Encrypt(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrInvalidData
	}

	index := len(e.aeads) - 1
	aead := e.aeads[index]

	nonce, err := genRandomBytes(aead.NonceSize())
	if err != nil {
		return nil, err
	}

	out := make([]byte, indexBytes, indexBytes+len(nonce)+len(data)+aead.Overhead())
	binary.BigEndian.PutUint32(out, uint32(index))

	sealed := aead.Seal(nil, nonce, data, out[:indexBytes])
	out = append(out, nonce...)
	return append(out, sealed...), nil
}

// Decrypt decrypts the message using the key identified by its index prefix.
func (e *Encryptor) Decrypt(message []byte) ([]byte, error) {
	if len(message) < indexBytes {
		return nil, ErrInvalidData
	}

	index := binary.BigEndian.Uint32(message[:indexBytes])
	if int(index) >= len(e.aeads) {
		return nil, ErrUnknownKey
	}

	aead := e.aeads[index]

	nonceEnd := indexBytes + aead.NonceSize()
	if len(message) <= nonceEnd {
		return nil, ErrInvalidData
	}

	data, err := aead.Open(nil, message[indexBytes:nonceEnd], message[nonceEnd:], message[:indexBytes])
	if err != nil {
		// wrong key at this index, or the message was tampered with.
		return nil, fmt.Errorf("%w: %w", ErrInvalidData, err)
	}

	return data, nil
}
