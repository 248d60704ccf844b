package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/shortsai/backend/internal/crypto"
	"github.com/shortsai/backend/internal/log"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Default collection names
const (
	DefaultUsersCollection       = "users"
	DefaultDriveTokensCollection = "userOAuthTokens"
	DefaultNoncesCollection      = "oauthStateNonces"
)

// FirestoreStorage implements Storage on Google Cloud Firestore.
// Drive access and refresh tokens are encrypted before they are written.
type FirestoreStorage struct {
	client           *firestore.Client
	projectID        string
	encryptor        crypto.Encryptor
	usersCollection  string
	tokensCollection string
	noncesCollection string
	now              func() time.Time
}

// Ensure FirestoreStorage implements Storage interface
var _ Storage = (*FirestoreStorage)(nil)

// FirestoreConfig configures NewFirestoreStorage
type FirestoreConfig struct {
	ProjectID string
	Database  string
	// CollectionPrefix is prepended to every collection name, for example
	// "staging_" to share one database between environments.
	CollectionPrefix string
}

// UserDoc represents a user document in Firestore
type UserDoc struct {
	SubjectID string    `firestore:"uid"`
	Email     string    `firestore:"email,omitempty"`
	FirstSeen time.Time `firestore:"first_seen"`
	LastSeen  time.Time `firestore:"last_seen"`
}

// DriveTokensDoc represents a stored Drive grant; token fields are encrypted
type DriveTokensDoc struct {
	SubjectID    string    `firestore:"uid"`
	AccessToken  string    `firestore:"access_token"`
	RefreshToken string    `firestore:"refresh_token,omitempty"`
	TokenType    string    `firestore:"token_type,omitempty"`
	Expiry       time.Time `firestore:"expiry,omitempty"`
	Scopes       []string  `firestore:"scopes,omitempty"`
	Email        string    `firestore:"email,omitempty"`
	UpdatedAt    time.Time `firestore:"updated_at"`
}

// NonceDoc represents a claimed OAuth state nonce
type NonceDoc struct {
	ClaimedAt time.Time `firestore:"claimed_at"`
	ExpiresAt time.Time `firestore:"expires_at"`
}

// NewFirestoreStorage creates a new Firestore storage instance
func NewFirestoreStorage(ctx context.Context, cfg FirestoreConfig, encryptor crypto.Encryptor) (*FirestoreStorage, error) {
	if encryptor == nil {
		return nil, fmt.Errorf("encryptor is required")
	}
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("projectID is required")
	}

	var client *firestore.Client
	var err error

	if cfg.Database != "" && cfg.Database != firestore.DefaultDatabaseID {
		client, err = firestore.NewClientWithDatabase(ctx, cfg.ProjectID, cfg.Database)
	} else {
		client, err = firestore.NewClient(ctx, cfg.ProjectID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	log.LogInfoWithFields("firestore", "Connected to Firestore", map[string]any{
		"project":  cfg.ProjectID,
		"database": cfg.Database,
	})

	return &FirestoreStorage{
		client:           client,
		projectID:        cfg.ProjectID,
		encryptor:        encryptor,
		usersCollection:  cfg.CollectionPrefix + DefaultUsersCollection,
		tokensCollection: cfg.CollectionPrefix + DefaultDriveTokensCollection,
		noncesCollection: cfg.CollectionPrefix + DefaultNoncesCollection,
		now:              time.Now,
	}, nil
}

// Close closes the Firestore client
func (s *FirestoreStorage) Close() error {
	return s.client.Close()
}

// GetDriveTokens retrieves and decrypts a user's Drive grant
func (s *FirestoreStorage) GetDriveTokens(ctx context.Context, subjectID string) (*DriveTokens, error) {
	doc, err := s.client.Collection(s.tokensCollection).Doc(subjectID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrDriveTokensNotFound
		}
		return nil, fmt.Errorf("failed to get drive tokens from Firestore: %w", err)
	}

	var tokenDoc DriveTokensDoc
	if err := doc.DataTo(&tokenDoc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal drive tokens: %w", err)
	}
	return openDriveTokens(s.encryptor, &tokenDoc)
}

// SaveDriveTokens encrypts and stores a user's Drive grant
func (s *FirestoreStorage) SaveDriveTokens(ctx context.Context, subjectID string, tokens *DriveTokens) error {
	if tokens == nil {
		return fmt.Errorf("tokens cannot be nil")
	}
	if subjectID == "" {
		return fmt.Errorf("subject id is required")
	}

	tokenDoc, err := sealDriveTokens(s.encryptor, subjectID, tokens, s.now())
	if err != nil {
		return err
	}

	if _, err := s.client.Collection(s.tokensCollection).Doc(subjectID).Set(ctx, tokenDoc); err != nil {
		return fmt.Errorf("failed to store drive tokens in Firestore: %w", err)
	}
	return nil
}

// DeleteDriveTokens removes a user's Drive grant
func (s *FirestoreStorage) DeleteDriveTokens(ctx context.Context, subjectID string) error {
	_, err := s.client.Collection(s.tokensCollection).Doc(subjectID).Delete(ctx)
	if err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("failed to delete drive tokens from Firestore: %w", err)
	}
	return nil
}

// UpsertUser creates or updates a user's last seen time
func (s *FirestoreStorage) UpsertUser(ctx context.Context, subjectID, email string) error {
	if subjectID == "" {
		return fmt.Errorf("subject id is required")
	}

	now := s.now()
	ref := s.client.Collection(s.usersCollection).Doc(subjectID)

	// Try to update an existing user first
	updates := []firestore.Update{{Path: "last_seen", Value: now}}
	if email != "" {
		updates = append(updates, firestore.Update{Path: "email", Value: email})
	}
	_, err := ref.Update(ctx, updates)
	if err == nil {
		return nil
	}
	if status.Code(err) != codes.NotFound {
		return fmt.Errorf("failed to update user: %w", err)
	}

	// User doesn't exist, create new
	_, err = ref.Set(ctx, UserDoc{
		SubjectID: subjectID,
		Email:     email,
		FirstSeen: now,
		LastSeen:  now,
	})
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetUser returns a stored user
func (s *FirestoreStorage) GetUser(ctx context.Context, subjectID string) (*UserInfo, error) {
	doc, err := s.client.Collection(s.usersCollection).Doc(subjectID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user from Firestore: %w", err)
	}

	var userDoc UserDoc
	if err := doc.DataTo(&userDoc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal user: %w", err)
	}
	return &UserInfo{
		SubjectID: subjectID,
		Email:     userDoc.Email,
		FirstSeen: userDoc.FirstSeen,
		LastSeen:  userDoc.LastSeen,
	}, nil
}

// ClaimNonce creates the nonce document. Create fails with AlreadyExists
// when another request claimed it first.
func (s *FirestoreStorage) ClaimNonce(ctx context.Context, nonce string, expiresAt time.Time) error {
	if nonce == "" {
		return fmt.Errorf("nonce is required")
	}

	_, err := s.client.Collection(s.noncesCollection).Doc(nonce).Create(ctx, NonceDoc{
		ClaimedAt: s.now(),
		ExpiresAt: expiresAt,
	})
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return ErrNonceReused
		}
		return fmt.Errorf("failed to claim nonce: %w", err)
	}
	return nil
}

// CleanupExpiredNonces removes all expired nonce documents
func (s *FirestoreStorage) CleanupExpiredNonces(ctx context.Context) (int, error) {
	iter := s.client.Collection(s.noncesCollection).
		Where("expires_at", "<=", s.now()).
		Documents(ctx)
	defer iter.Stop()

	count := 0
	batch := s.client.Batch()
	batchSize := 0
	const maxBatchSize = 500 // Firestore batch write limit

	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return count, fmt.Errorf("failed to iterate expired nonces: %w", err)
		}

		batch.Delete(doc.Ref)
		batchSize++
		count++

		if batchSize >= maxBatchSize {
			if _, err := batch.Commit(ctx); err != nil {
				return count, fmt.Errorf("failed to commit batch: %w", err)
			}
			batch = s.client.Batch()
			batchSize = 0
		}
	}

	if batchSize > 0 {
		if _, err := batch.Commit(ctx); err != nil {
			return count, fmt.Errorf("failed to commit final batch: %w", err)
		}
	}

	return count, nil
}

func sealDriveTokens(enc crypto.Encryptor, subjectID string, tokens *DriveTokens, now time.Time) (*DriveTokensDoc, error) {
	access, err := enc.Encrypt(tokens.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt access token: %w", err)
	}

	doc := &DriveTokensDoc{
		SubjectID:   subjectID,
		AccessToken: access,
		TokenType:   tokens.TokenType,
		Expiry:      tokens.Expiry,
		Scopes:      tokens.Scopes,
		Email:       tokens.Email,
		UpdatedAt:   now,
	}

	if tokens.RefreshToken != "" {
		refresh, err := enc.Encrypt(tokens.RefreshToken)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt refresh token: %w", err)
		}
		doc.RefreshToken = refresh
	}
	return doc, nil
}

func openDriveTokens(enc crypto.Encryptor, doc *DriveTokensDoc) (*DriveTokens, error) {
	access, err := enc.Decrypt(doc.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt access token: %w", err)
	}

	tokens := &DriveTokens{
		AccessToken: access,
		TokenType:   doc.TokenType,
		Expiry:      doc.Expiry,
		Scopes:      doc.Scopes,
		Email:       doc.Email,
		UpdatedAt:   doc.UpdatedAt,
	}

	if doc.RefreshToken != "" {
		refresh, err := enc.Decrypt(doc.RefreshToken)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt refresh token: %w", err)
		}
		tokens.RefreshToken = refresh
	}
	return tokens, nil
}
