package crypt

import (
	"bytes"
	"crypto/sha1"

	kerrors "github.com/git-incrypt/git-incrypt/internal/errors"
)

// sha1Size is the length of the SHA-1 integrity prefix used throughout the
// wire format (refnames, template, default branch, map, wrapped objects).
const sha1Size = sha1.Size

// EncryptPrefixed encrypts sha1(payload) ‖ payload under key. This is the
// integrity-prefixed encoding spec §3/§4.1 uses everywhere: because there
// is no authentication tag, the embedded hash is what lets DecryptPrefixed
// reject corrupted or foreign ciphertext.
func EncryptPrefixed(payload, key []byte) ([]byte, error) {
	sum := sha1.Sum(payload)
	return Encrypt(append(sum[:], payload...), key)
}

// DecryptPrefixed decrypts ciphertext produced by EncryptPrefixed and
// verifies the embedded SHA-1 prefix, returning the original payload.
func DecryptPrefixed(ciphertext, key []byte) ([]byte, error) {
	plain, err := Decrypt(ciphertext, key)
	if err != nil {
		return nil, err
	}
	if len(plain) < sha1Size {
		return nil, kerrors.ErrCorruptCipher
	}
	prefix, payload := plain[:sha1Size], plain[sha1Size:]
	sum := sha1.Sum(payload)
	if !bytes.Equal(prefix, sum[:]) {
		return nil, kerrors.ErrCorruptCipher
	}
	return payload, nil
}
