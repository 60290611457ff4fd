package refname

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/git-incrypt/git-incrypt/internal/crypt"
	kerrors "github.com/git-incrypt/git-incrypt/internal/errors"
)

func mustKey(t *testing.T) []byte {
	t.Helper()
	key, err := crypt.NewKey()
	require.NoError(t, err)
	return key
}

func TestRoundTrip(t *testing.T) {
	key := mustKey(t)
	names := []string{
		"refs/heads/master",
		"refs/heads/feature/widget",
		"refs/tags/v1.0.0",
		"refs/heads/master~1",
		"refs/heads/master^2",
		"refs/heads/日本語",
	}

	for _, name := range names {
		token, err := Encrypt(name, key)
		require.NoErrorf(t, err, "Encrypt(%q)", name)
		got, err := Decrypt(token, key)
		require.NoErrorf(t, err, "Decrypt(%q)", token)
		require.Equalf(t, name, got, "round trip mismatch for %q via %q", name, token)
	}
}

func TestEncryptDeterministic(t *testing.T) {
	key := mustKey(t)
	a, err := Encrypt("refs/heads/master", key)
	require.NoError(t, err)
	b, err := Encrypt("refs/heads/master", key)
	require.NoError(t, err)
	require.Equal(t, a, b, "Encrypt() must be deterministic")
}

func TestTokenHasNoSlash(t *testing.T) {
	key := mustKey(t)
	token, err := Encrypt("refs/heads/master", key)
	require.NoError(t, err)
	component := strings.TrimPrefix(token, Prefix)
	require.NotContains(t, component, "/")
}

func TestDecryptForeignTokenNotManaged(t *testing.T) {
	key := mustKey(t)
	other := mustKey(t)

	token, err := Encrypt("refs/heads/master", other)
	require.NoError(t, err)

	_, err = Decrypt(token, key)
	require.ErrorIs(t, err, kerrors.ErrForeignReference)
}

func TestDecryptGarbageNotManaged(t *testing.T) {
	key := mustKey(t)
	_, err := Decrypt("refs/heads/_", key)
	require.ErrorIs(t, err, kerrors.ErrForeignReference)
}

func TestDecryptAcceptsBareComponent(t *testing.T) {
	key := mustKey(t)
	token, err := Encrypt("refs/heads/master", key)
	require.NoError(t, err)
	component := strings.TrimPrefix(token, Prefix)

	got, err := Decrypt(component, key)
	require.NoError(t, err)
	require.Equal(t, "master", got)
}
