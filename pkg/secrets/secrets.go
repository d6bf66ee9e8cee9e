// Package secrets seals credential columns with AES-256-GCM.
//
// Sealed values look like "enc:v1:<base64(nonce|ciphertext)>". Values without
// that prefix are treated as plaintext so existing rows keep working until
// they are re-sealed.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const sealedPrefix = "enc:v1:"

// PurposeOAuth derives the key for users' posting credentials.
const PurposeOAuth = "x-oauth"

var ErrShortCiphertext = errors.New("secrets: ciphertext too short")

// Cipher seals and opens single values. Safe for concurrent use.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher derives a per-purpose AES-256 key from master with HKDF-SHA256.
func NewCipher(master []byte, purpose string) (*Cipher, error) {
	if len(master) == 0 {
		return nil, errors.New("secrets: master secret is empty")
	}
	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, master, []byte("draftdesk-credentials"), []byte(purpose))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("secrets: derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("secrets: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("secrets: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Seal encrypts value. The empty string stays empty so a blank credential
// still reads as missing.
func (c *Cipher) Seal(value string) (string, error) {
	if value == "" {
		return "", nil
	}
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("secrets: nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(value), nil)
	return sealedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal. Unsealed input is returned unchanged.
func (c *Cipher) Open(stored string) (string, error) {
	if !Sealed(stored) {
		return stored, nil
	}
	raw, err := base64.StdEncoding.DecodeString(stored[len(sealedPrefix):])
	if err != nil {
		return "", fmt.Errorf("secrets: decode: %w", err)
	}
	n := c.aead.NonceSize()
	if len(raw) < n {
		return "", ErrShortCiphertext
	}
	plain, err := c.aead.Open(nil, raw[:n], raw[n:], nil)
	if err != nil {
		return "", fmt.Errorf("secrets: open: %w", err)
	}
	return string(plain), nil
}

func Sealed(stored string) bool {
	return strings.HasPrefix(stored, sealedPrefix)
}
