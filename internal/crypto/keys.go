package crypto

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Key purposes. Each purpose gets its own derived key so a token minted for
// one use never verifies for another.
const (
	PurposeSession    = "shortsai/session/v1"
	PurposeOAuthState = "shortsai/oauth-state/v1"
)

// DerivedKeySize is the length of keys returned by DeriveKey.
const DerivedKeySize = 32

// DeriveKey expands a master secret into a purpose-bound key using
// HKDF-SHA256.
func DeriveKey(master []byte, purpose string) ([]byte, error) {
	if len(master) == 0 {
		return nil, fmt.Errorf("master secret is empty")
	}
	key := make([]byte, DerivedKeySize)
	r := hkdf.New(sha256.New, master, nil, []byte(purpose))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("deriving %s key: %w", purpose, err)
	}
	return key, nil
}

// NewPurposeSigner derives one key per secret for the given purpose and
// returns a signer over them, keeping the secrets' order.
func NewPurposeSigner(purpose string, secrets ...[]byte) (*Signer, error) {
	keys := make([][]byte, 0, len(secrets))
	for _, secret := range secrets {
		key, err := DeriveKey(secret, purpose)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return NewSigner(keys...)
}
