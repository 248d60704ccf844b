package driveauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shortsai/backend/internal/emailutil"
	"github.com/shortsai/backend/internal/log"
	"github.com/shortsai/backend/internal/storage"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

const (
	// DriveFileScope grants access to files the app created or opened
	DriveFileScope = "https://www.googleapis.com/auth/drive.file"
	// DriveScope grants full Drive access
	DriveScope = "https://www.googleapis.com/auth/drive"

	// DefaultRevokeURL is Google's token revocation endpoint
	DefaultRevokeURL = "https://oauth2.googleapis.com/revoke"
)

// DefaultScopes are requested when none are configured
var DefaultScopes = []string{DriveFileScope, DriveScope}

// ErrNotConfigured is returned when the Drive OAuth client id or secret is missing
var ErrNotConfigured = errors.New("google drive oauth is not configured")

// Config holds the Drive OAuth client settings
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
}

// Status describes a user's Drive connection
type Status struct {
	Connected bool   `json:"connected"`
	Email     string `json:"email,omitempty"`
}

// Client runs the Google Drive authorization code flow and keeps the
// resulting grants in a DriveTokenStore
type Client struct {
	oauth         oauth2.Config
	store         storage.DriveTokenStore
	httpClient    *http.Client
	driveEndpoint string
	revokeURL     string
	now           func() time.Time
}

// Option configures a Client
type Option func(*Client)

// WithEndpoint overrides Google's OAuth endpoints
func WithEndpoint(endpoint oauth2.Endpoint) Option {
	return func(c *Client) { c.oauth.Endpoint = endpoint }
}

// WithDriveEndpoint overrides the Drive API base path
func WithDriveEndpoint(endpoint string) Option {
	return func(c *Client) { c.driveEndpoint = endpoint }
}

// WithRevokeURL overrides the token revocation endpoint. Empty disables revocation.
func WithRevokeURL(u string) Option {
	return func(c *Client) { c.revokeURL = u }
}

// WithHTTPClient sets the client used for token, Drive and revoke requests
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithClock sets the time source
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// NewClient creates a Drive OAuth client
func NewClient(cfg Config, store storage.DriveTokenStore, opts ...Option) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, ErrNotConfigured
	}
	if cfg.RedirectURL == "" {
		return nil, fmt.Errorf("redirect url is required")
	}
	if store == nil {
		return nil, fmt.Errorf("token store is required")
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}

	c := &Client{
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint:     google.Endpoint,
		},
		store:      store,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		revokeURL:  DefaultRevokeURL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// RedirectURL returns the callback URL registered with Google
func (c *Client) RedirectURL() string {
	return c.oauth.RedirectURL
}

// AuthURL builds the consent URL. Offline access and a forced consent
// prompt make Google return a refresh token on every connection.
func (c *Client) AuthURL(state string) string {
	return c.oauth.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.ApprovalForce,
	)
}

// Connect exchanges an authorization code, reads the Drive account email and
// stores the grant for subjectID.
func (c *Client) Connect(ctx context.Context, subjectID, code string) (Status, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)

	token, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		log.LogErrorWithFields("driveauth", "Failed to exchange code for token", map[string]any{
			"user_id": subjectID,
			"error":   err.Error(),
		})
		return Status{}, fmt.Errorf("failed to exchange code: %w", err)
	}

	email, err := c.accountEmail(ctx, token)
	if err != nil {
		log.LogErrorWithFields("driveauth", "Failed to read Drive account", map[string]any{
			"user_id": subjectID,
			"error":   err.Error(),
		})
		return Status{}, fmt.Errorf("failed to read drive account: %w", err)
	}

	tokens := &storage.DriveTokens{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		Expiry:       token.Expiry,
		Scopes:       grantedScopes(token, c.oauth.Scopes),
		Email:        email,
		UpdatedAt:    c.now(),
	}

	if err := c.store.SaveDriveTokens(ctx, subjectID, tokens); err != nil {
		log.LogErrorWithFields("driveauth", "Failed to store Drive tokens", map[string]any{
			"user_id": subjectID,
			"error":   err.Error(),
		})
		return Status{}, fmt.Errorf("failed to store token: %w", err)
	}

	log.LogInfoWithFields("driveauth", "Drive connected", map[string]any{
		"user_id":           subjectID,
		"email":             emailutil.Mask(email),
		"has_refresh_token": token.RefreshToken != "",
	})

	return Status{Connected: true, Email: email}, nil
}

// Status reports whether subjectID has a stored Drive grant
func (c *Client) Status(ctx context.Context, subjectID string) (Status, error) {
	return StatusOf(ctx, c.store, subjectID)
}

// StatusOf reports the Drive connection state straight from a store, so the
// status endpoint keeps working when OAuth itself is not configured.
func StatusOf(ctx context.Context, store storage.DriveTokenStore, subjectID string) (Status, error) {
	tokens, err := store.GetDriveTokens(ctx, subjectID)
	if errors.Is(err, storage.ErrDriveTokensNotFound) {
		return Status{}, nil
	}
	if err != nil {
		return Status{}, fmt.Errorf("failed to load drive tokens: %w", err)
	}
	return Status{Connected: true, Email: tokens.Email}, nil
}

// Disconnect revokes the stored grant at Google, best effort, and deletes it
func (c *Client) Disconnect(ctx context.Context, subjectID string) error {
	tokens, err := c.store.GetDriveTokens(ctx, subjectID)
	if errors.Is(err, storage.ErrDriveTokensNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load drive tokens: %w", err)
	}

	if c.revokeURL != "" {
		revoke := tokens.RefreshToken
		if revoke == "" {
			revoke = tokens.AccessToken
		}
		if err := c.revoke(ctx, revoke); err != nil {
			log.LogWarnWithFields("driveauth", "Failed to revoke Drive token", map[string]any{
				"user_id": subjectID,
				"error":   err.Error(),
			})
		}
	}

	if err := c.store.DeleteDriveTokens(ctx, subjectID); err != nil {
		return fmt.Errorf("failed to delete drive tokens: %w", err)
	}

	log.LogInfoWithFields("driveauth", "Drive disconnected", map[string]any{
		"user_id": subjectID,
	})
	return nil
}

func (c *Client) accountEmail(ctx context.Context, token *oauth2.Token) (string, error) {
	opts := []option.ClientOption{option.WithHTTPClient(c.oauth.Client(ctx, token))}
	if c.driveEndpoint != "" {
		opts = append(opts, option.WithEndpoint(c.driveEndpoint))
	}

	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return "", fmt.Errorf("creating drive service: %w", err)
	}

	about, err := svc.About.Get().Fields("user").Context(ctx).Do()
	if err != nil {
		return "", err
	}
	if about.User == nil {
		return "", nil
	}
	return about.User.EmailAddress, nil
}

func (c *Client) revoke(ctx context.Context, token string) error {
	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.revokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// Google answers 400 for tokens that are already invalid
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusBadRequest {
		return fmt.Errorf("revoke returned %d", resp.StatusCode)
	}
	return nil
}

func grantedScopes(token *oauth2.Token, requested []string) []string {
	if s, ok := token.Extra("scope").(string); ok && s != "" {
		return strings.Fields(s)
	}
	return requested
}
