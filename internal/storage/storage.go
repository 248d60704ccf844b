package storage

import (
	"context"
	"errors"
	"time"
)

// ErrDriveTokensNotFound is returned when a user has no Drive connection
var ErrDriveTokensNotFound = errors.New("drive tokens not found")

// ErrUserNotFound is returned when a user doesn't exist
var ErrUserNotFound = errors.New("user not found")

// ErrNonceReused is returned when an OAuth state nonce was already claimed
var ErrNonceReused = errors.New("nonce already used")

// UserInfo represents a user who has logged in at least once
type UserInfo struct {
	SubjectID string    `json:"uid"`
	Email     string    `json:"email,omitempty"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// DriveTokens is a user's Google Drive OAuth grant
type DriveTokens struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
	Scopes       []string  `json:"scopes,omitempty"`
	Email        string    `json:"email,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// DriveTokenStore persists Drive grants keyed by subject id.
type DriveTokenStore interface {
	GetDriveTokens(ctx context.Context, subjectID string) (*DriveTokens, error)
	SaveDriveTokens(ctx context.Context, subjectID string, tokens *DriveTokens) error
	DeleteDriveTokens(ctx context.Context, subjectID string) error
}

// UserStore tracks users that have created a session.
type UserStore interface {
	UpsertUser(ctx context.Context, subjectID, email string) error
	GetUser(ctx context.Context, subjectID string) (*UserInfo, error)
}

// NonceStore records OAuth state nonces so each state is accepted once.
type NonceStore interface {
	// ClaimNonce marks nonce as used until expiresAt. A second claim of the
	// same nonce fails with ErrNonceReused.
	ClaimNonce(ctx context.Context, nonce string, expiresAt time.Time) error

	// CleanupExpiredNonces removes nonces whose expiry has passed and
	// reports how many were removed.
	CleanupExpiredNonces(ctx context.Context) (int, error)
}

// Storage combines all storage capabilities needed by the backend
type Storage interface {
	DriveTokenStore
	UserStore
	NonceStore
	Close() error
}
