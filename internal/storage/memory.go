package storage

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/shortsai/backend/internal/log"
)

// Ensure MemoryStorage implements Storage
var _ Storage = (*MemoryStorage)(nil)

// MemoryStorage keeps everything in process memory. Data is lost on restart,
// so it is meant for development and tests.
type MemoryStorage struct {
	driveTokens      map[string]*DriveTokens
	driveTokensMutex sync.RWMutex
	users            map[string]*UserInfo
	usersMutex       sync.RWMutex
	nonces           map[string]time.Time
	noncesMutex      sync.Mutex
	now              func() time.Time
}

// MemoryOption configures a MemoryStorage
type MemoryOption func(*MemoryStorage)

// WithMemoryClock sets the time source used for timestamps and nonce expiry
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStorage) { s.now = now }
}

// NewMemoryStorage creates a new storage instance
func NewMemoryStorage(opts ...MemoryOption) *MemoryStorage {
	s := &MemoryStorage{
		driveTokens: make(map[string]*DriveTokens),
		users:       make(map[string]*UserInfo),
		nonces:      make(map[string]time.Time),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetDriveTokens returns a copy of the stored grant
func (s *MemoryStorage) GetDriveTokens(ctx context.Context, subjectID string) (*DriveTokens, error) {
	s.driveTokensMutex.RLock()
	defer s.driveTokensMutex.RUnlock()

	tokens, exists := s.driveTokens[subjectID]
	if !exists {
		return nil, ErrDriveTokensNotFound
	}
	out := *tokens
	out.Scopes = slices.Clone(tokens.Scopes)
	return &out, nil
}

// SaveDriveTokens stores or replaces a user's grant
func (s *MemoryStorage) SaveDriveTokens(ctx context.Context, subjectID string, tokens *DriveTokens) error {
	if tokens == nil {
		return fmt.Errorf("tokens cannot be nil")
	}
	if subjectID == "" {
		return fmt.Errorf("subject id is required")
	}

	stored := *tokens
	stored.Scopes = slices.Clone(tokens.Scopes)
	stored.UpdatedAt = s.now()

	s.driveTokensMutex.Lock()
	defer s.driveTokensMutex.Unlock()
	s.driveTokens[subjectID] = &stored
	return nil
}

// DeleteDriveTokens removes a user's grant. Deleting a missing grant is not an error.
func (s *MemoryStorage) DeleteDriveTokens(ctx context.Context, subjectID string) error {
	s.driveTokensMutex.Lock()
	defer s.driveTokensMutex.Unlock()

	delete(s.driveTokens, subjectID)
	return nil
}

// UpsertUser creates or updates a user's last seen time
func (s *MemoryStorage) UpsertUser(ctx context.Context, subjectID, email string) error {
	if subjectID == "" {
		return fmt.Errorf("subject id is required")
	}

	s.usersMutex.Lock()
	defer s.usersMutex.Unlock()

	now := s.now()
	if user, exists := s.users[subjectID]; exists {
		user.LastSeen = now
		if email != "" {
			user.Email = email
		}
		return nil
	}
	s.users[subjectID] = &UserInfo{
		SubjectID: subjectID,
		Email:     email,
		FirstSeen: now,
		LastSeen:  now,
	}
	return nil
}

// GetUser returns a copy of the stored user
func (s *MemoryStorage) GetUser(ctx context.Context, subjectID string) (*UserInfo, error) {
	s.usersMutex.RLock()
	defer s.usersMutex.RUnlock()

	user, exists := s.users[subjectID]
	if !exists {
		return nil, ErrUserNotFound
	}
	out := *user
	return &out, nil
}

// ClaimNonce records nonce until expiresAt
func (s *MemoryStorage) ClaimNonce(ctx context.Context, nonce string, expiresAt time.Time) error {
	if nonce == "" {
		return fmt.Errorf("nonce is required")
	}

	s.noncesMutex.Lock()
	defer s.noncesMutex.Unlock()

	if _, used := s.nonces[nonce]; used {
		return ErrNonceReused
	}
	s.nonces[nonce] = expiresAt
	return nil
}

// CleanupExpiredNonces drops nonces whose expiry has passed
func (s *MemoryStorage) CleanupExpiredNonces(ctx context.Context) (int, error) {
	s.noncesMutex.Lock()
	defer s.noncesMutex.Unlock()

	now := s.now()
	count := 0
	for nonce, expiresAt := range s.nonces {
		if !expiresAt.After(now) {
			delete(s.nonces, nonce)
			count++
		}
	}

	if count > 0 {
		log.LogDebugWithFields("storage", "Removed expired nonces", map[string]any{
			"count": count,
		})
	}
	return count, nil
}

// Close is a no-op for memory storage
func (s *MemoryStorage) Close() error {
	return nil
}
