package tokens

import (
	"errors"
	"fmt"

	"github.com/shortsai/backend/internal/crypto"
)

// Token verification failures. Callers match with errors.Is; the wrapped
// detail is for logs only.
var (
	ErrMalformed        = errors.New("malformed token")
	ErrInvalidSignature = errors.New("invalid token signature")
	ErrExpired          = errors.New("token expired")
	ErrFutureTimestamp  = errors.New("token issued in the future")
	ErrMissingFields    = errors.New("token missing required fields")
	ErrUnauthenticated  = errors.New("no credential presented")
	ErrStateReused      = errors.New("oauth state already used")
)

// verify runs the structural and signature checks shared by every codec.
func verify(signer *crypto.Signer, token string) ([]byte, error) {
	if _, _, err := crypto.SplitToken(token); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	payload, err := signer.Verify(token)
	if err != nil {
		if errors.Is(err, crypto.ErrMalformed) {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return payload, nil
}

// Prefix returns a short, log-safe prefix of a token for correlation.
func Prefix(token string) string {
	const n = 8
	if len(token) <= n {
		return token
	}
	return token[:n] + "..."
}
