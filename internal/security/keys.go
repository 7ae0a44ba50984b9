package security

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// DeriveKey expands the master encryption key into an independent subkey so
// one configured secret can serve several purposes without key reuse.
func DeriveKey(master []byte, purpose string, size int) ([]byte, error) {
	if len(master) == 0 {
		return nil, ErrInvalidEncryptionKey
	}
	out := make([]byte, size)
	r := hkdf.New(sha256.New, master, nil, []byte("asklp:"+purpose))
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("derive %s key: %w", purpose, err)
	}
	return out, nil
}
