// Package secrets provides authenticated encryption for credential and
// secret-valued strings. This is part of the Functional Core - no I/O beyond
// the system randomness source.
//
// Values are encrypted with AES-256-GCM under a key derived via PBKDF2 from
// an operator passphrase and salt. The stored form is three colon-joined hex
// segments: iv:authTag:ciphertext.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrMissingPassphrase is returned when the operator passphrase is empty.
	ErrMissingPassphrase = errors.New("secrets passphrase is required")

	// ErrMissingSalt is returned when the operator salt is empty.
	ErrMissingSalt = errors.New("secrets salt is required")

	// ErrIntegrity is returned when decryption fails: tampered ciphertext,
	// wrong key, or corrupted encoding. Never retried.
	ErrIntegrity = errors.New("ciphertext integrity check failed")
)

// =============================================================================
// Key Derivation
// =============================================================================

const (
	kdfIterations = 100_000
	keyLen        = 32
	tagLen        = 16
)

// deriveKey stretches the operator passphrase into an AES-256 key.
func deriveKey(passphrase, salt string) []byte {
	return pbkdf2.Key([]byte(passphrase), []byte(salt), kdfIterations, keyLen, sha256.New)
}

// =============================================================================
// Codec
// =============================================================================

// Codec encrypts and decrypts secret strings. The zero value is unusable; use
// NewCodec.
type Codec struct {
	key []byte
}

// NewCodec derives the encryption key from the operator-supplied passphrase
// and salt. Both are required; a missing value is a configuration error the
// caller should treat as fatal.
func NewCodec(passphrase, salt string) (*Codec, error) {
	if passphrase == "" {
		return nil, ErrMissingPassphrase
	}
	if salt == "" {
		return nil, ErrMissingSalt
	}
	return &Codec{key: deriveKey(passphrase, salt)}, nil
}

// Encrypt seals the plaintext with a fresh random nonce and returns the
// iv:authTag:ciphertext hex encoding.
func (c *Codec) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	// Seal appends the 16-byte tag to the ciphertext; split it back out for
	// the stored format.
	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)
	ct := sealed[:len(sealed)-tagLen]
	tag := sealed[len(sealed)-tagLen:]

	return strings.Join([]string{
		hex.EncodeToString(nonce),
		hex.EncodeToString(tag),
		hex.EncodeToString(ct),
	}, ":"), nil
}

// Decrypt opens an iv:authTag:ciphertext hex value. Any malformed encoding or
// authentication failure is reported as ErrIntegrity.
func (c *Codec) Decrypt(encoded string) (string, error) {
	parts := strings.Split(encoded, ":")
	if len(parts) != 3 {
		return "", ErrIntegrity
	}

	nonce, err := hex.DecodeString(parts[0])
	if err != nil {
		return "", ErrIntegrity
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil || len(tag) != tagLen {
		return "", ErrIntegrity
	}
	ct, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", ErrIntegrity
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	if len(nonce) != gcm.NonceSize() {
		return "", ErrIntegrity
	}

	plaintext, err := gcm.Open(nil, nonce, append(ct, tag...), nil)
	if err != nil {
		return "", ErrIntegrity
	}
	return string(plaintext), nil
}
