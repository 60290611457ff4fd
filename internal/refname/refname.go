// Package refname implements the deterministic, filesystem-safe encoding
// of cleartext reference names into ciphertext ref tokens (spec §4.2).
package refname

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/git-incrypt/git-incrypt/internal/crypt"
	kerrors "github.com/git-incrypt/git-incrypt/internal/errors"
)

// altAlphabet is the standard base64 alphabet with '/' replaced by '#' so
// the encoded token is safe to use as a single git ref path component
// (spec §3: "base64(enc(...), alt=\"+#\")").
const altAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+#"

var altEncoding = base64.NewEncoding(altAlphabet).WithPadding(base64.NoPadding)

// Prefix is the ref namespace every encrypted reference token lives under.
const Prefix = "refs/heads/"

// splitSuffix splits name at its first '~' or '^', the revision-expression
// delimiters spec §4.2 says must be preserved verbatim.
func splitSuffix(name string) (base, suffix string) {
	idx := strings.IndexAny(name, "~^")
	if idx < 0 {
		return name, ""
	}
	return name[:idx], name[idx:]
}

// Encrypt encrypts a cleartext reference name into its ciphertext token,
// e.g. "refs/heads/master" -> "refs/heads/<token>", and
// "refs/heads/master~1" -> "refs/heads/<token>~1".
func Encrypt(name string, key []byte) (string, error) {
	base, suffix := splitSuffix(name)

	ciphertext, err := crypt.EncryptPrefixed([]byte(base), key)
	if err != nil {
		return "", fmt.Errorf("encrypting reference %q: %w", name, err)
	}

	return Prefix + altEncoding.EncodeToString(ciphertext) + suffix, nil
}

// Decrypt decrypts a ciphertext reference (the full ref path, or just its
// final component) back into the cleartext name it was encrypted from.
// Any failure — malformed base64, bad padding, or a SHA-1 prefix mismatch
// — returns ErrForeignReference: the caller must treat the reference as
// belonging to someone else and ignore it, never treat it as fatal.
func Decrypt(name string, key []byte) (string, error) {
	tail := name
	if idx := strings.LastIndexByte(name, '/'); idx >= 0 {
		tail = name[idx+1:]
	}

	encoded, suffix := splitSuffix(tail)

	ciphertext, err := altEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", kerrors.ErrForeignReference, err)
	}

	payload, err := crypt.DecryptPrefixed(ciphertext, key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", kerrors.ErrForeignReference, err)
	}

	return string(payload) + suffix, nil
}
