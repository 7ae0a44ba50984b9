package security

import (
	"bytes"
	"encoding/hex"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func testCipher(t *testing.T, fill byte) *Cipher {
	t.Helper()
	c, err := NewCipher(bytes.Repeat([]byte{fill}, EncryptionKeySize))
	require.NoError(t, err)
	return c
}

func TestCipherRoundTrip(t *testing.T) {
	c := testCipher(t, 0)
	for _, plaintext := range []string{"", "Hello, world!", "héllo wörld access-token", strings.Repeat("x", 4096)} {
		ct, nonce, err := c.Encrypt(plaintext)
		require.NoError(t, err)
		require.Len(t, nonce, NonceSize*2)

		got, err := c.Decrypt(ct, nonce)
		require.NoError(t, err)
		require.Equal(t, plaintext, got)
	}
}

func TestCipherNonceFreshness(t *testing.T) {
	c := testCipher(t, 7)
	ct1, n1, err := c.Encrypt("refresh-token")
	require.NoError(t, err)
	ct2, n2, err := c.Encrypt("refresh-token")
	require.NoError(t, err)

	require.NotEqual(t, n1, n2)
	require.NotEqual(t, ct1, ct2)
	require.NotContains(t, ct1, hex.EncodeToString([]byte("refresh-token")))
}

func TestCipherTamperAndWrongKeyFailAuthentication(t *testing.T) {
	c := testCipher(t, 1)
	ct, nonce, err := c.Encrypt("secret")
	require.NoError(t, err)

	raw, err := hex.DecodeString(ct)
	require.NoError(t, err)
	raw[0] ^= 0xff
	_, err = c.Decrypt(hex.EncodeToString(raw), nonce)
	require.ErrorIs(t, err, ErrDecryptFailed)

	_, err = testCipher(t, 2).Decrypt(ct, nonce)
	require.ErrorIs(t, err, ErrDecryptFailed)
}

func TestCipherMalformedInput(t *testing.T) {
	c := testCipher(t, 3)
	ct, nonce, err := c.Encrypt("secret")
	require.NoError(t, err)

	cases := []struct {
		name  string
		ct    string
		nonce string
	}{
		{name: "ciphertext not hex", ct: "zz" + ct, nonce: nonce},
		{name: "nonce not hex", ct: ct, nonce: "not-hex"},
		{name: "nonce wrong size", ct: ct, nonce: nonce[:8]},
		{name: "ciphertext too short", ct: "00", nonce: nonce},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := c.Decrypt(tc.ct, tc.nonce)
			require.ErrorIs(t, err, ErrMalformedCiphertext)
			require.False(t, errors.Is(err, ErrDecryptFailed))
		})
	}
}

func TestParseEncryptionKey(t *testing.T) {
	key, err := ParseEncryptionKey(strings.Repeat("ab", 32))
	require.NoError(t, err)
	require.Len(t, key, EncryptionKeySize)

	for _, raw := range []string{"", "ab", strings.Repeat("ab", 33), strings.Repeat("zz", 32)} {
		_, err := ParseEncryptionKey(raw)
		require.ErrorIs(t, err, ErrInvalidEncryptionKey, "input %q", raw)
	}

	_, err = NewCipher(make([]byte, 16))
	require.ErrorIs(t, err, ErrInvalidEncryptionKey)
}

func TestDeriveKeyIsPurposeBound(t *testing.T) {
	master := bytes.Repeat([]byte{9}, EncryptionKeySize)
	a, err := DeriveKey(master, "oauth-state", 32)
	require.NoError(t, err)
	b, err := DeriveKey(master, "other", 32)
	require.NoError(t, err)
	again, err := DeriveKey(master, "oauth-state", 32)
	require.NoError(t, err)

	require.NotEqual(t, a, b)
	require.Equal(t, a, again)
	require.NotEqual(t, master, a)
}

func FuzzCipherDecryptNeverPanics(f *testing.F) {
	f.Add("00", "000000000000000000000000")
	f.Add("zz", "")
	f.Add(strings.Repeat("ab", 40), strings.Repeat("cd", 12))

	c, err := NewCipher(bytes.Repeat([]byte{5}, EncryptionKeySize))
	if err != nil {
		f.Fatalf("new cipher: %v", err)
	}
	f.Fuzz(func(t *testing.T, ct, nonce string) {
		_, err := c.Decrypt(ct, nonce)
		if err == nil {
			return
		}
		if !errors.Is(err, ErrMalformedCiphertext) && !errors.Is(err, ErrDecryptFailed) {
			t.Fatalf("unexpected error class: %v", err)
		}
	})
}
