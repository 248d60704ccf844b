package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/shortsai/backend/internal/urlutil"
)

// Secret is a string type that redacts itself when printed
type Secret string

// String implements fmt.Stringer to redact the secret
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "***"
}

// MarshalJSON implements json.Marshaler to prevent secrets in JSON logs
func (s Secret) MarshalJSON() ([]byte, error) {
	if s == "" {
		return json.Marshal("")
	}
	return json.Marshal("***")
}

// StorageKind selects the persistence backend
type StorageKind string

const (
	StorageMemory    StorageKind = "memory"
	StorageFirestore StorageKind = "firestore"
)

// VersionPrefix is the config schema version this build understands
const VersionPrefix = "v1"

// Defaults
const (
	DefaultAddr                   = ":8080"
	DefaultCookieName             = "session"
	DefaultRedirectPath           = "/api/integrations/google-drive/callback"
	DefaultIdentityLookupTimeout  = 2 * time.Second
	DefaultCleanupInterval        = 10 * time.Minute
	DefaultLoginRequestsPerMinute = 10
	DefaultTrustedProxyHops       = 1
)

// DevOrigins are allowed for CORS outside production
var DevOrigins = []string{"http://localhost:5173", "http://localhost:3000"}

// SessionConfig configures the session cookie
type SessionConfig struct {
	CookieName string `json:"cookieName"`
	Secret     Secret `json:"secret"`
	// PreviousSecrets still verify cookies while a new secret rolls out
	PreviousSecrets []Secret `json:"previousSecrets,omitempty"`
}

// OAuthStateConfig configures the signed OAuth state parameter
type OAuthStateConfig struct {
	// Secret is optional; without it the state key is derived from the
	// session secret under a separate purpose label.
	Secret           Secret `json:"secret,omitempty"`
	ReplayProtection bool   `json:"replayProtection"`
}

// FirebaseConfig configures Firebase ID token verification and the
// identity cross-check performed by the session gate
type FirebaseConfig struct {
	ProjectID             string        `json:"projectId"`
	IdentityLookupTimeout time.Duration `json:"identityLookupTimeout"`
	APIKey                Secret        `json:"apiKey,omitempty"`
}

// GoogleDriveConfig configures the Drive OAuth client
type GoogleDriveConfig struct {
	ClientID     string   `json:"clientId"`
	ClientSecret Secret   `json:"clientSecret"`
	RedirectPath string   `json:"redirectPath"`
	RedirectURL  string   `json:"redirectURL,omitempty"`
	Scopes       []string `json:"scopes,omitempty"`
}

// Configured reports whether both client credentials are present
func (g GoogleDriveConfig) Configured() bool {
	return g.ClientID != "" && g.ClientSecret != ""
}

// ResolveRedirectURL returns the explicit redirect URL, or the redirect path
// joined onto the backend base URL
func (g GoogleDriveConfig) ResolveRedirectURL(backendBaseURL string) (string, error) {
	if g.RedirectURL != "" {
		return g.RedirectURL, nil
	}
	return urlutil.JoinPath(backendBaseURL, g.RedirectPath)
}

// StorageConfig selects and configures the storage backend
type StorageConfig struct {
	Kind             StorageKind   `json:"kind"`
	GCPProject       string        `json:"gcpProject,omitempty"`
	Database         string        `json:"database,omitempty"`
	CollectionPrefix string        `json:"collectionPrefix,omitempty"`
	CleanupInterval  time.Duration `json:"cleanupInterval"`
}

// RateLimitConfig configures per-IP rate limits. TrustedProxyHops is the
// number of proxies in front of the server that append to X-Forwarded-For;
// zero keys limits on the connection address alone.
type RateLimitConfig struct {
	LoginRequestsPerMinute int `json:"loginRequestsPerMinute"`
	TrustedProxyHops       int `json:"trustedProxyHops"`
}

// Config represents the config structure with resolved values
type Config struct {
	Version        string            `json:"version"`
	Addr           string            `json:"addr"`
	FrontendOrigin string            `json:"frontendOrigin"`
	BackendBaseURL string            `json:"backendBaseURL"`
	Production     bool              `json:"production"`
	AllowedOrigins []string          `json:"allowedOrigins,omitempty"`
	Session        SessionConfig     `json:"session"`
	OAuthState     OAuthStateConfig  `json:"oauthState"`
	Firebase       FirebaseConfig    `json:"firebase"`
	GoogleDrive    GoogleDriveConfig `json:"googleDrive"`
	Storage        StorageConfig     `json:"storage"`
	EncryptionKey  Secret            `json:"encryptionKey,omitempty"`
	RateLimit      RateLimitConfig   `json:"rateLimit"`
}

// CORSOrigins returns the normalised, de-duplicated CORS allow-list
func (c *Config) CORSOrigins() []string {
	candidates := append([]string{c.FrontendOrigin}, c.AllowedOrigins...)
	if !c.Production {
		candidates = append(candidates, DevOrigins...)
	}

	seen := make(map[string]bool, len(candidates))
	origins := make([]string, 0, len(candidates))
	for _, o := range candidates {
		o = urlutil.NormalizeOrigin(o)
		if o == "" || seen[o] {
			continue
		}
		seen[o] = true
		origins = append(origins, o)
	}
	return origins
}

// SessionSecrets returns the session key ring, newest first
func (c *Config) SessionSecrets() [][]byte {
	ring := [][]byte{[]byte(c.Session.Secret)}
	for _, s := range c.Session.PreviousSecrets {
		ring = append(ring, []byte(s))
	}
	return ring
}

// StateSecrets returns the OAuth state key ring. It falls back to the session
// ring; callers derive a purpose-specific key either way.
func (c *Config) StateSecrets() [][]byte {
	if c.OAuthState.Secret != "" {
		return [][]byte{[]byte(c.OAuthState.Secret)}
	}
	return c.SessionSecrets()
}

// ParseConfigValue parses a JSON value that is either a plain string or an
// {"$env": "NAME"} reference resolved immediately
func ParseConfigValue(raw json.RawMessage) (string, error) {
	// Try plain string first
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str, nil
	}

	var ref map[string]string
	if err := json.Unmarshal(raw, &ref); err != nil {
		return "", fmt.Errorf("config value must be string or reference object")
	}

	envVar, ok := ref["$env"]
	if !ok {
		return "", fmt.Errorf("unknown reference type in config value")
	}
	value := os.Getenv(envVar)
	if value == "" {
		return "", fmt.Errorf("environment variable %s not set", envVar)
	}
	// Strip surrounding quotes if present (only matching pairs)
	if len(value) >= 2 {
		if (value[0] == '"' && value[len(value)-1] == '"') ||
			(value[0] == '\'' && value[len(value)-1] == '\'') {
			value = value[1 : len(value)-1]
		}
	}
	return value, nil
}

// ParseConfigValueSlice parses a slice that may contain references
func ParseConfigValueSlice(raw []json.RawMessage) ([]string, error) {
	values := make([]string, len(raw))
	for i, item := range raw {
		v, err := ParseConfigValue(item)
		if err != nil {
			return nil, fmt.Errorf("parsing item %d: %w", i, err)
		}
		values[i] = v
	}
	return values, nil
}

func parseOptional(raw json.RawMessage, field string) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	v, err := ParseConfigValue(raw)
	if err != nil {
		return "", fmt.Errorf("parsing %s: %w", field, err)
	}
	return v, nil
}

func parseDuration(s, field string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", field, err)
	}
	return d, nil
}
