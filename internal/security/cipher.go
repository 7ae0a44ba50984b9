package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
)

const (
	EncryptionKeySize = 32
	NonceSize         = 12
)

var (
	ErrInvalidEncryptionKey = errors.New("encryption key must be 64 hex characters")
	ErrMalformedCiphertext  = errors.New("malformed ciphertext or nonce")
	ErrDecryptFailed        = errors.New("ciphertext authentication failed")
)

// Cipher encrypts OAuth credentials at rest with AES-256-GCM. Ciphertext and
// nonce are hex encoded so both fit in text columns next to the session row.
type Cipher struct {
	aead cipher.AEAD
}

func ParseEncryptionKey(raw string) ([]byte, error) {
	if len(raw) != EncryptionKeySize*2 {
		return nil, ErrInvalidEncryptionKey
	}
	key, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEncryptionKey, err)
	}
	return key, nil
}

func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != EncryptionKeySize {
		return nil, ErrInvalidEncryptionKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create block cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt seals plaintext under a nonce drawn from crypto/rand on every call.
func (c *Cipher) Encrypt(plaintext string) (ciphertextHex, nonceHex string, err error) {
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", "", fmt.Errorf("read nonce: %w", err)
	}
	sealed := c.aead.Seal(nil, nonce, []byte(plaintext), nil)
	return hex.EncodeToString(sealed), hex.EncodeToString(nonce), nil
}

func (c *Cipher) Decrypt(ciphertextHex, nonceHex string) (string, error) {
	sealed, err := hex.DecodeString(ciphertextHex)
	if err != nil {
		return "", fmt.Errorf("%w: ciphertext: %v", ErrMalformedCiphertext, err)
	}
	nonce, err := hex.DecodeString(nonceHex)
	if err != nil {
		return "", fmt.Errorf("%w: nonce: %v", ErrMalformedCiphertext, err)
	}
	if len(nonce) != NonceSize {
		return "", fmt.Errorf("%w: nonce length %d", ErrMalformedCiphertext, len(nonce))
	}
	if len(sealed) < c.aead.Overhead() {
		return "", fmt.Errorf("%w: ciphertext too short", ErrMalformedCiphertext)
	}
	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrDecryptFailed
	}
	return string(plaintext), nil
}
