package idp

import (
	"context"
	"errors"
)

var (
	// ErrInvalidCredential means the presented ID token was rejected.
	ErrInvalidCredential = errors.New("invalid credential")

	// ErrVerifierUnavailable means the token could not be checked at all,
	// for example because signing certificates could not be fetched.
	ErrVerifierUnavailable = errors.New("identity verifier unavailable")

	// ErrUserNotFound is returned by a Directory for unknown subjects.
	ErrUserNotFound = errors.New("user not found")
)

// Identity is what the identity provider knows about a user.
type Identity struct {
	SubjectID     string `json:"uid"`
	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"email_verified,omitempty"`
	Name          string `json:"name,omitempty"`
}

// TokenVerifier validates ID tokens minted by the identity provider.
type TokenVerifier interface {
	Verify(ctx context.Context, idToken string) (Identity, error)
}

// LookupResult is the outcome of a directory lookup. Confirmed is false when
// the provider could not vouch for the subject; Reason says why.
type LookupResult struct {
	Confirmed bool
	Identity  Identity
	Reason    error
}

// Directory looks up users by subject id.
type Directory interface {
	Lookup(ctx context.Context, subjectID string) LookupResult
}

// Unconfirmed builds a failed lookup result.
func Unconfirmed(reason error) LookupResult {
	return LookupResult{Reason: reason}
}
