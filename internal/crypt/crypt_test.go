package crypt

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func mustKey(t *testing.T) []byte {
	t.Helper()
	key, err := NewKey()
	require.NoError(t, err)
	return key
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := mustKey(t)
	tests := [][]byte{
		[]byte(""),
		[]byte("a"),
		[]byte("exactly16bytes!!"),
		bytes.Repeat([]byte("x"), 1000),
	}

	for _, plaintext := range tests {
		ciphertext, err := Encrypt(plaintext, key)
		require.NoErrorf(t, err, "Encrypt(%q)", plaintext)
		got, err := Decrypt(ciphertext, key)
		require.NoError(t, err)
		require.Equal(t, plaintext, got)
	}
}

func TestEncryptDeterministic(t *testing.T) {
	key := mustKey(t)
	plaintext := []byte("the same cleartext every time")

	a, err := Encrypt(plaintext, key)
	require.NoError(t, err)
	b, err := Encrypt(plaintext, key)
	require.NoError(t, err)
	require.Equal(t, a, b, "fixed-IV encryption must be deterministic")
}

func TestDecryptRejectsBadLength(t *testing.T) {
	key := mustKey(t)
	_, err := Decrypt([]byte("not a multiple of 16"), key)
	require.Error(t, err)
}

func TestDecryptRejectsBadPadding(t *testing.T) {
	key := mustKey(t)
	ciphertext, err := Encrypt([]byte("hello world"), key)
	require.NoError(t, err)
	corrupt := append([]byte(nil), ciphertext...)
	corrupt[len(corrupt)-1] ^= 0xFF

	_, err = Decrypt(corrupt, key)
	require.Error(t, err)
}

func TestInvalidKeyLength(t *testing.T) {
	_, err := Encrypt([]byte("x"), []byte("too short"))
	require.Error(t, err)
}

func TestPrefixedRoundTrip(t *testing.T) {
	key := mustKey(t)
	payload := []byte("refs/heads/master")

	ciphertext, err := EncryptPrefixed(payload, key)
	require.NoError(t, err)
	got, err := DecryptPrefixed(ciphertext, key)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestPrefixedRejectsForeignKey(t *testing.T) {
	key := mustKey(t)
	other := mustKey(t)
	ciphertext, err := EncryptPrefixed([]byte("refs/heads/master"), key)
	require.NoError(t, err)
	_, err = DecryptPrefixed(ciphertext, other)
	require.Error(t, err)
}

func TestPrefixedRejectsEmptyPlaintext(t *testing.T) {
	key := mustKey(t)
	ciphertext, err := Encrypt([]byte{}, key)
	require.NoError(t, err)
	_, err = DecryptPrefixed(ciphertext, key)
	require.Error(t, err)
}
