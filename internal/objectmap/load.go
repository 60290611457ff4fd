package objectmap

import (
	"fmt"

	"github.com/git-incrypt/git-incrypt/internal/crypt"
)

// Load decrypts a metadata record's map ciphertext and decodes it. It is
// the counterpart to (*Map).Encode plus crypt.EncryptPrefixed, which is
// how internal/metadata.Write persists the map blob.
func Load(ciphertext, key []byte) (*Map, error) {
	payload, err := crypt.DecryptPrefixed(ciphertext, key)
	if err != nil {
		return nil, fmt.Errorf("decrypting map: %w", err)
	}
	m, err := Decode(payload)
	if err != nil {
		return nil, fmt.Errorf("decoding map: %w", err)
	}
	return m, nil
}
