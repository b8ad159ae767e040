// Package engine holds helpers shared by coredb's concrete DataFile
// implementations (engine/bolt, engine/forest). It is not itself a
// DataFile implementation.
package engine

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"io"

	"github.com/coredb-io/coredb"
)

// ErrWrongKey is returned by Cipher.Open when the supplied key cannot
// decrypt the sealed data, i.e. the caller used the wrong rekey value.
var ErrWrongKey = errors.New("engine: wrong encryption key")

// Cipher seals and opens record bytes for a DataFile's current
// encryption algorithm and key. AES-256-GCM is implemented directly
// against the standard library (crypto/aes + crypto/cipher): AES-GCM is
// stdlib-native in Go, and no repository in the reference corpus imports
// an alternative AEAD package, so there is no ecosystem library this
// reaches for instead (see DESIGN.md).
type Cipher struct {
	aead cipher.AEAD // nil when algorithm is coredb.AlgorithmNone
}

// NewCipher builds a Cipher for the given algorithm and key. An
// AlgorithmNone Cipher is a pass-through.
func NewCipher(alg coredb.EncryptionAlgorithm, key [coredb.EncryptionKeySize]byte) (*Cipher, error) {
	if alg == coredb.AlgorithmNone {
		return &Cipher{}, nil
	}
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Cipher{aead: aead}, nil
}

// Enabled reports whether this Cipher actually encrypts (vs. pass-through).
func (c *Cipher) Enabled() bool {
	return c.aead != nil
}

// Seal encrypts plaintext, returning nonce||ciphertext. A nil Cipher (or
// one built with AlgorithmNone) returns plaintext unchanged.
func (c *Cipher) Seal(plaintext []byte) ([]byte, error) {
	if c == nil || c.aead == nil {
		return plaintext, nil
	}
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts data produced by Seal. A nil Cipher (or one built with
// AlgorithmNone) returns data unchanged.
func (c *Cipher) Open(data []byte) ([]byte, error) {
	if c == nil || c.aead == nil {
		return data, nil
	}
	n := c.aead.NonceSize()
	if len(data) < n {
		return nil, ErrWrongKey
	}
	plaintext, err := c.aead.Open(nil, data[:n], data[n:], nil)
	if err != nil {
		return nil, ErrWrongKey
	}
	return plaintext, nil
}
