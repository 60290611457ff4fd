// Package crypt implements the fixed-IV AES-256-CBC symmetric codec that
// underlies every encrypted byte in the mirror: wrapped objects, the
// refname codec, and the metadata blobs (spec §4.1).
package crypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"

	kerrors "github.com/git-incrypt/git-incrypt/internal/errors"
)

// KeySize is the total size of the key material: 32 bytes of AES-256 key
// followed by 16 bytes of fixed CBC IV (spec §3, "Key material").
const KeySize = 32 + 16

// blockSize is the AES block size and the PKCS#7 padding unit.
const blockSize = aes.BlockSize

// NewKey generates fresh, random key material: a random AES-256 key and a
// random, then-fixed, IV. The IV stays fixed for the repository's entire
// lifetime so identical cleartext always encrypts to identical ciphertext
// (spec I3, "Determinism"; spec §9, "Fixed IV").
func NewKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}

func splitKey(key []byte) (aesKey, iv []byte, err error) {
	if len(key) != KeySize {
		return nil, nil, kerrors.ErrInvalidKeyLength
	}
	return key[:32], key[32:48], nil
}

// pad appends PKCS#7 padding to make data a multiple of blockSize.
func pad(data []byte) []byte {
	padLen := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+padLen)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}
	return padded
}

// unpad strips and validates PKCS#7 padding.
func unpad(data []byte) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, kerrors.ErrCorruptCipher
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > blockSize || padLen > len(data) {
		return nil, kerrors.ErrCorruptCipher
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, kerrors.ErrCorruptCipher
		}
	}
	return data[:len(data)-padLen], nil
}

// Encrypt encrypts plaintext under key with AES-256-CBC and PKCS#7 padding
// using the key's fixed trailing IV.
func Encrypt(plaintext, key []byte) ([]byte, error) {
	aesKey, iv, err := splitKey(key)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return nil, err
	}

	padded := pad(plaintext)
	ciphertext := make([]byte, len(padded))
	mode := cipher.NewCBCEncrypter(block, iv)
	mode.CryptBlocks(ciphertext, padded)
	return ciphertext, nil
}

// Decrypt decrypts ciphertext produced by Encrypt. Returns ErrCorruptCipher
// on bad padding or input that is not a multiple of the block size.
func Decrypt(ciphertext, key []byte) ([]byte, error) {
	aesKey, iv, err := splitKey(key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) == 0 || len(ciphertext)%blockSize != 0 {
		return nil, kerrors.ErrCorruptCipher
	}
	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return nil, err
	}

	padded := make([]byte, len(ciphertext))
	mode := cipher.NewCBCDecrypter(block, iv)
	mode.CryptBlocks(padded, ciphertext)
	return unpad(padded)
}
