package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSessionSecret = "session-secret-0123456789abcdef0123"
	testStateSecret   = "state-secret-0123456789abcdef012345"
	testEncryptionKey = "test-encryption-key-32-bytes-ok!"
)

func setTestEnv(t *testing.T) {
	t.Helper()
	t.Setenv("SESSION_SECRET", testSessionSecret)
	t.Setenv("OLD_SESSION_SECRET", "old-secret-0123456789abcdef012345")
	t.Setenv("OAUTH_STATE_SECRET", testStateSecret)
	t.Setenv("ENCRYPTION_KEY", testEncryptionKey)
	t.Setenv("GOOGLE_CLIENT_ID", "drive-client-id")
	t.Setenv("GOOGLE_CLIENT_SECRET", "drive-client-secret")
	t.Setenv("FIREBASE_API_KEY", "AIza-test")
}

const fullConfig = `{
  "version": "v1",
  "addr": ":9090",
  "frontendOrigin": "https://shortsai.ru/",
  "backendBaseURL": "https://api.shortsai.ru",
  "production": true,
  "allowedOrigins": ["https://www.shortsai.ru"],
  "session": {
    "cookieName": "sid",
    "secret": {"$env": "SESSION_SECRET"},
    "previousSecrets": [{"$env": "OLD_SESSION_SECRET"}]
  },
  "oauthState": {
    "secret": {"$env": "OAUTH_STATE_SECRET"},
    "replayProtection": false
  },
  "firebase": {
    "projectId": "shortsai-prod",
    "identityLookupTimeout": "1500ms",
    "apiKey": {"$env": "FIREBASE_API_KEY"}
  },
  "googleDrive": {
    "clientId": {"$env": "GOOGLE_CLIENT_ID"},
    "clientSecret": {"$env": "GOOGLE_CLIENT_SECRET"},
    "redirectPath": "/oauth/drive/callback",
    "scopes": ["https://www.googleapis.com/auth/drive.file"]
  },
  "storage": {
    "kind": "firestore",
    "gcpProject": "shortsai-prod",
    "database": "auth",
    "cleanupInterval": "5m"
  },
  "encryptionKey": {"$env": "ENCRYPTION_KEY"},
  "rateLimit": {"loginRequestsPerMinute": 30}
}`

const minimalConfig = `{
  "version": "v1",
  "frontendOrigin": "http://localhost:5173",
  "backendBaseURL": "http://localhost:8080",
  "production": false,
  "session": {"secret": {"$env": "SESSION_SECRET"}}
}`

func TestLoad_FullConfig(t *testing.T) {
	setTestEnv(t)

	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(fullConfig), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, "https://shortsai.ru", cfg.FrontendOrigin, "trailing slash trimmed")
	assert.True(t, cfg.Production)
	assert.Equal(t, "sid", cfg.Session.CookieName)
	assert.Equal(t, Secret(testSessionSecret), cfg.Session.Secret)
	assert.Len(t, cfg.Session.PreviousSecrets, 1)
	assert.Equal(t, Secret(testStateSecret), cfg.OAuthState.Secret)
	assert.False(t, cfg.OAuthState.ReplayProtection)
	assert.Equal(t, "shortsai-prod", cfg.Firebase.ProjectID)
	assert.Equal(t, 1500*time.Millisecond, cfg.Firebase.IdentityLookupTimeout)
	assert.Equal(t, Secret("AIza-test"), cfg.Firebase.APIKey)
	assert.True(t, cfg.GoogleDrive.Configured())
	assert.Equal(t, "/oauth/drive/callback", cfg.GoogleDrive.RedirectPath)
	assert.Equal(t, StorageFirestore, cfg.Storage.Kind)
	assert.Equal(t, "auth", cfg.Storage.Database)
	assert.Equal(t, 5*time.Minute, cfg.Storage.CleanupInterval)
	assert.Equal(t, Secret(testEncryptionKey), cfg.EncryptionKey)
	assert.Equal(t, 30, cfg.RateLimit.LoginRequestsPerMinute)
	assert.Equal(t, DefaultTrustedProxyHops, cfg.RateLimit.TrustedProxyHops, "absent field keeps its default")

	redirect, err := cfg.GoogleDrive.ResolveRedirectURL(cfg.BackendBaseURL)
	require.NoError(t, err)
	assert.Equal(t, "https://api.shortsai.ru/oauth/drive/callback", redirect)

	assert.Equal(t, []string{"https://shortsai.ru", "https://www.shortsai.ru"}, cfg.CORSOrigins())
	assert.Equal(t, [][]byte{[]byte(testStateSecret)}, cfg.StateSecrets())
	assert.Len(t, cfg.SessionSecrets(), 2)
}

func TestParse_Defaults(t *testing.T) {
	setTestEnv(t)

	cfg, err := Parse([]byte(minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, DefaultAddr, cfg.Addr)
	assert.Equal(t, DefaultCookieName, cfg.Session.CookieName)
	assert.True(t, cfg.OAuthState.ReplayProtection, "replay protection defaults on")
	assert.Empty(t, cfg.OAuthState.Secret)
	assert.Equal(t, DefaultIdentityLookupTimeout, cfg.Firebase.IdentityLookupTimeout)
	assert.Equal(t, DefaultRedirectPath, cfg.GoogleDrive.RedirectPath)
	assert.False(t, cfg.GoogleDrive.Configured())
	assert.Equal(t, StorageMemory, cfg.Storage.Kind)
	assert.Equal(t, DefaultCleanupInterval, cfg.Storage.CleanupInterval)
	assert.Equal(t, DefaultLoginRequestsPerMinute, cfg.RateLimit.LoginRequestsPerMinute)
	assert.Equal(t, DefaultTrustedProxyHops, cfg.RateLimit.TrustedProxyHops)

	redirect, err := cfg.GoogleDrive.ResolveRedirectURL(cfg.BackendBaseURL)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/api/integrations/google-drive/callback", redirect)

	assert.Equal(t, cfg.SessionSecrets(), cfg.StateSecrets(), "state falls back to the session ring")
	assert.Equal(t, []string{"http://localhost:5173", "http://localhost:3000"}, cfg.CORSOrigins(),
		"frontend origin is deduplicated against dev origins")
}

func TestParse_ProductionFollowsEnvironment(t *testing.T) {
	setTestEnv(t)
	t.Setenv("SHORTSAI_ENV", "production")

	data := `{
	  "version": "v1",
	  "frontendOrigin": "https://shortsai.ru",
	  "backendBaseURL": "https://api.shortsai.ru",
	  "session": {"secret": {"$env": "SESSION_SECRET"}}
	}`
	cfg, err := Parse([]byte(data))
	require.NoError(t, err)
	assert.True(t, cfg.Production)
	assert.Equal(t, []string{"https://shortsai.ru"}, cfg.CORSOrigins(), "no dev origins in production")
}

func TestParse_Errors(t *testing.T) {
	setTestEnv(t)
	t.Setenv("SHORT_SECRET", "too-short")
	t.Setenv("SHORT_KEY", "short-key")

	tests := []struct {
		name        string
		config      string
		expectError string
	}{
		{
			name:        "invalid json",
			config:      `{`,
			expectError: "parsing config JSON",
		},
		{
			name:        "missing version",
			config:      `{"frontendOrigin": "https://a.com"}`,
			expectError: "config version is required",
		},
		{
			name:        "unsupported version",
			config:      `{"version": "v0.0.1-DEV_EDITION"}`,
			expectError: "unsupported config version",
		},
		{
			name: "inline session secret",
			config: `{"version": "v1", "frontendOrigin": "https://a.com", "backendBaseURL": "https://b.com",
			  "session": {"secret": "plain-text-secret-plain-text-secret"}}`,
			expectError: "session.secret must use environment variable reference",
		},
		{
			name: "inline previous secret",
			config: `{"version": "v1", "frontendOrigin": "https://a.com", "backendBaseURL": "https://b.com",
			  "session": {"secret": {"$env": "SESSION_SECRET"}, "previousSecrets": ["plain"]}}`,
			expectError: "session.previousSecrets[0] must use environment variable reference",
		},
		{
			name: "unset env var",
			config: `{"version": "v1", "frontendOrigin": "https://a.com", "backendBaseURL": "https://b.com",
			  "session": {"secret": {"$env": "DOES_NOT_EXIST_ANYWHERE"}}}`,
			expectError: "environment variable DOES_NOT_EXIST_ANYWHERE not set",
		},
		{
			name: "short session secret",
			config: `{"version": "v1", "frontendOrigin": "https://a.com", "backendBaseURL": "https://b.com",
			  "session": {"secret": {"$env": "SHORT_SECRET"}}}`,
			expectError: "session.secret must be at least 32 characters",
		},
		{
			name: "short state secret",
			config: `{"version": "v1", "frontendOrigin": "https://a.com", "backendBaseURL": "https://b.com",
			  "session": {"secret": {"$env": "SESSION_SECRET"}}, "oauthState": {"secret": {"$env": "SHORT_SECRET"}}}`,
			expectError: "oauthState.secret must be at least 32 characters",
		},
		{
			name: "relative frontend origin",
			config: `{"version": "v1", "frontendOrigin": "shortsai.ru", "backendBaseURL": "https://b.com",
			  "session": {"secret": {"$env": "SESSION_SECRET"}}}`,
			expectError: "frontendOrigin",
		},
		{
			name: "missing backend base url",
			config: `{"version": "v1", "frontendOrigin": "https://a.com",
			  "session": {"secret": {"$env": "SESSION_SECRET"}}}`,
			expectError: "backendBaseURL: is required",
		},
		{
			name: "bad allowed origin",
			config: `{"version": "v1", "frontendOrigin": "https://a.com", "backendBaseURL": "https://b.com",
			  "allowedOrigins": ["ftp://files.a.com"], "session": {"secret": {"$env": "SESSION_SECRET"}}}`,
			expectError: "allowedOrigins[0]",
		},
		{
			name: "firestore without project",
			config: `{"version": "v1", "frontendOrigin": "https://a.com", "backendBaseURL": "https://b.com",
			  "session": {"secret": {"$env": "SESSION_SECRET"}}, "encryptionKey": {"$env": "ENCRYPTION_KEY"},
			  "storage": {"kind": "firestore"}}`,
			expectError: "storage.gcpProject is required",
		},
		{
			name: "firestore without encryption key",
			config: `{"version": "v1", "frontendOrigin": "https://a.com", "backendBaseURL": "https://b.com",
			  "session": {"secret": {"$env": "SESSION_SECRET"}}, "storage": {"kind": "firestore", "gcpProject": "p"}}`,
			expectError: "encryptionKey is required when using firestore storage",
		},
		{
			name: "wrong encryption key length",
			config: `{"version": "v1", "frontendOrigin": "https://a.com", "backendBaseURL": "https://b.com",
			  "session": {"secret": {"$env": "SESSION_SECRET"}}, "encryptionKey": {"$env": "SHORT_KEY"}}`,
			expectError: "encryptionKey must be exactly 32 characters",
		},
		{
			name: "unknown storage kind",
			config: `{"version": "v1", "frontendOrigin": "https://a.com", "backendBaseURL": "https://b.com",
			  "session": {"secret": {"$env": "SESSION_SECRET"}}, "storage": {"kind": "redis"}}`,
			expectError: "storage.kind must be 'memory' or 'firestore'",
		},
		{
			name: "bad duration",
			config: `{"version": "v1", "frontendOrigin": "https://a.com", "backendBaseURL": "https://b.com",
			  "session": {"secret": {"$env": "SESSION_SECRET"}}, "firebase": {"identityLookupTimeout": "soon"}}`,
			expectError: "parsing firebase.identityLookupTimeout",
		},
		{
			name: "half configured drive",
			config: `{"version": "v1", "frontendOrigin": "https://a.com", "backendBaseURL": "https://b.com",
			  "session": {"secret": {"$env": "SESSION_SECRET"}}, "googleDrive": {"clientId": "id"}}`,
			expectError: "clientId and clientSecret must be set together",
		},
		{
			name: "relative redirect path",
			config: `{"version": "v1", "frontendOrigin": "https://a.com", "backendBaseURL": "https://b.com",
			  "session": {"secret": {"$env": "SESSION_SECRET"}}, "googleDrive": {"redirectPath": "callback"}}`,
			expectError: "redirectPath must start with '/'",
		},
		{
			name: "negative rate limit",
			config: `{"version": "v1", "frontendOrigin": "https://a.com", "backendBaseURL": "https://b.com",
			  "session": {"secret": {"$env": "SESSION_SECRET"}}, "rateLimit": {"loginRequestsPerMinute": -1}}`,
			expectError: "loginRequestsPerMinute cannot be negative",
		},
		{
			name: "negative proxy hops",
			config: `{"version": "v1", "frontendOrigin": "https://a.com", "backendBaseURL": "https://b.com",
			  "session": {"secret": {"$env": "SESSION_SECRET"}}, "rateLimit": {"trustedProxyHops": -1}}`,
			expectError: "trustedProxyHops cannot be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.config))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.expectError)
		})
	}
}

func TestParseConfigValue(t *testing.T) {
	t.Setenv("QUOTED_VALUE", `"quoted"`)
	t.Setenv("PLAIN_VALUE", "plain")

	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{"plain string", `"hello"`, "hello", false},
		{"env reference", `{"$env": "PLAIN_VALUE"}`, "plain", false},
		{"env strips quotes", `{"$env": "QUOTED_VALUE"}`, "quoted", false},
		{"unset env", `{"$env": "NOT_SET_ANYWHERE"}`, "", true},
		{"unknown reference", `{"$file": "/etc/secret"}`, "", true},
		{"number", `42`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseConfigValue([]byte(tt.raw))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
