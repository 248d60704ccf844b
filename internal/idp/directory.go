package idp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2/google"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultIdentityToolkitEndpoint is the Identity Toolkit v1 API root.
	DefaultIdentityToolkitEndpoint = "https://identitytoolkit.googleapis.com/v1"

	// DefaultLookupTimeout bounds a single directory lookup.
	DefaultLookupTimeout = 2 * time.Second

	identityToolkitScope = "https://www.googleapis.com/auth/identitytoolkit"
	cloudPlatformScope   = "https://www.googleapis.com/auth/cloud-platform"
)

// IdentityToolkitDirectory looks up Firebase users through the Identity
// Toolkit accounts:lookup admin endpoint. Concurrent lookups for the same
// subject share one request.
type IdentityToolkitDirectory struct {
	projectID string
	endpoint  string
	apiKey    string
	client    *http.Client
	timeout   time.Duration
	group     singleflight.Group
}

// DirectoryOption configures an IdentityToolkitDirectory.
type DirectoryOption func(*IdentityToolkitDirectory)

// WithEndpoint overrides the Identity Toolkit API root.
func WithEndpoint(endpoint string) DirectoryOption {
	return func(d *IdentityToolkitDirectory) { d.endpoint = strings.TrimRight(endpoint, "/") }
}

// WithDirectoryHTTPClient sets an already authorised HTTP client, skipping
// application default credentials.
func WithDirectoryHTTPClient(client *http.Client) DirectoryOption {
	return func(d *IdentityToolkitDirectory) { d.client = client }
}

// WithLookupTimeout bounds each lookup. Zero keeps the default.
func WithLookupTimeout(timeout time.Duration) DirectoryOption {
	return func(d *IdentityToolkitDirectory) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithAPIKey attaches an API key for quota attribution.
func WithAPIKey(key string) DirectoryOption {
	return func(d *IdentityToolkitDirectory) { d.apiKey = key }
}

// NewIdentityToolkitDirectory creates a directory for projectID. Without an
// explicit HTTP client it authenticates with application default credentials.
func NewIdentityToolkitDirectory(ctx context.Context, projectID string, opts ...DirectoryOption) (*IdentityToolkitDirectory, error) {
	if projectID == "" {
		return nil, errors.New("firebase project id is required")
	}

	d := &IdentityToolkitDirectory{
		projectID: projectID,
		endpoint:  DefaultIdentityToolkitEndpoint,
		timeout:   DefaultLookupTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}

	if d.client == nil {
		client, err := google.DefaultClient(ctx, identityToolkitScope, cloudPlatformScope)
		if err != nil {
			return nil, fmt.Errorf("creating identity toolkit client: %w", err)
		}
		d.client = client
	}

	return d, nil
}

type lookupRequest struct {
	LocalID []string `json:"localId"`
}

type lookupResponse struct {
	Users []struct {
		LocalID       string `json:"localId"`
		Email         string `json:"email"`
		EmailVerified bool   `json:"emailVerified"`
		DisplayName   string `json:"displayName"`
		Disabled      bool   `json:"disabled"`
	} `json:"users"`
}

// Lookup fetches subjectID from the directory. It never returns an error:
// failures come back as an unconfirmed result carrying the reason.
func (d *IdentityToolkitDirectory) Lookup(ctx context.Context, subjectID string) LookupResult {
	if subjectID == "" {
		return Unconfirmed(ErrUserNotFound)
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	ch := d.group.DoChan(subjectID, func() (any, error) {
		// The shared call outlives any single caller's cancellation.
		callCtx, callCancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer callCancel()
		return d.lookup(callCtx, subjectID)
	})

	select {
	case <-ctx.Done():
		return Unconfirmed(fmt.Errorf("identity lookup: %w", ctx.Err()))
	case res := <-ch:
		if res.Err != nil {
			return Unconfirmed(res.Err)
		}
		return LookupResult{Confirmed: true, Identity: res.Val.(Identity)}
	}
}

func (d *IdentityToolkitDirectory) lookup(ctx context.Context, subjectID string) (Identity, error) {
	body, err := json.Marshal(lookupRequest{LocalID: []string{subjectID}})
	if err != nil {
		return Identity{}, fmt.Errorf("encoding lookup request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/projects/%s/accounts:lookup", d.endpoint, url.PathEscape(d.projectID))
	if d.apiKey != "" {
		endpoint += "?key=" + url.QueryEscape(d.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Identity{}, fmt.Errorf("building lookup request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return Identity{}, fmt.Errorf("identity lookup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Identity{}, fmt.Errorf("identity lookup returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Identity{}, fmt.Errorf("decoding lookup response: %w", err)
	}

	for _, u := range out.Users {
		if u.LocalID != subjectID {
			continue
		}
		if u.Disabled {
			return Identity{}, fmt.Errorf("%w: account disabled", ErrUserNotFound)
		}
		return Identity{
			SubjectID:     u.LocalID,
			Email:         u.Email,
			EmailVerified: u.EmailVerified,
			Name:          u.DisplayName,
		}, nil
	}
	return Identity{}, ErrUserNotFound
}
