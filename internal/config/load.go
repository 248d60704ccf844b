package config

import (
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"

	"github.com/shortsai/backend/internal/log"
)

const (
	minSecretLength     = 32
	encryptionKeyLength = 32
)

// secretFields must be given as {"$env": ...} references, never inline
var secretFields = []string{
	"session.secret",
	"oauthState.secret",
	"firebase.apiKey",
	"googleDrive.clientSecret",
	"encryptionKey",
}

// Load loads and processes the config with immediate env var resolution
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse processes config JSON already in memory
func Parse(data []byte) (Config, error) {
	var rawConfig map[string]any
	if err := json.Unmarshal(data, &rawConfig); err != nil {
		return Config{}, fmt.Errorf("parsing config JSON: %w", err)
	}

	version, ok := rawConfig["version"].(string)
	if !ok {
		return Config{}, fmt.Errorf("config version is required")
	}
	if !strings.HasPrefix(version, VersionPrefix) {
		return Config{}, fmt.Errorf("unsupported config version: %s", version)
	}

	if err := validateRawConfig(rawConfig); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}

	// The custom UnmarshalJSON methods resolve env vars immediately
	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}

	if err := ValidateConfig(&config); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// validateRawConfig rejects secrets written inline before env resolution
func validateRawConfig(rawConfig map[string]any) error {
	for _, path := range secretFields {
		value, exists := lookupPath(rawConfig, path)
		if !exists {
			continue
		}
		if err := requireEnvRef(value, path); err != nil {
			return err
		}
	}

	if session, ok := rawConfig["session"].(map[string]any); ok {
		if prev, ok := session["previousSecrets"].([]any); ok {
			for i, v := range prev {
				if err := requireEnvRef(v, fmt.Sprintf("session.previousSecrets[%d]", i)); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func requireEnvRef(value any, path string) error {
	switch v := value.(type) {
	case string:
		return fmt.Errorf("%s must use environment variable reference for security", path)
	case map[string]any:
		if _, hasEnv := v["$env"]; !hasEnv {
			return fmt.Errorf("%s must use {\"$env\": \"VAR_NAME\"} format", path)
		}
	}
	return nil
}

func lookupPath(m map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var cur any = m
	for _, p := range parts {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// ValidateConfig validates the resolved configuration
func ValidateConfig(config *Config) error {
	if config.Addr == "" {
		return fmt.Errorf("addr is required")
	}
	if err := validateOrigin(config.FrontendOrigin); err != nil {
		return fmt.Errorf("frontendOrigin: %w", err)
	}
	if err := validateOrigin(config.BackendBaseURL); err != nil {
		return fmt.Errorf("backendBaseURL: %w", err)
	}
	for i, o := range config.AllowedOrigins {
		if err := validateOrigin(o); err != nil {
			return fmt.Errorf("allowedOrigins[%d]: %w", i, err)
		}
	}

	if len(config.Session.Secret) < minSecretLength {
		return fmt.Errorf("session.secret must be at least %d characters (got %d). Generate with: openssl rand -base64 32", minSecretLength, len(config.Session.Secret))
	}
	for i, s := range config.Session.PreviousSecrets {
		if len(s) < minSecretLength {
			return fmt.Errorf("session.previousSecrets[%d] must be at least %d characters (got %d)", i, minSecretLength, len(s))
		}
	}
	if config.OAuthState.Secret != "" && len(config.OAuthState.Secret) < minSecretLength {
		return fmt.Errorf("oauthState.secret must be at least %d characters (got %d)", minSecretLength, len(config.OAuthState.Secret))
	}

	if config.EncryptionKey != "" && len(config.EncryptionKey) != encryptionKeyLength {
		return fmt.Errorf("encryptionKey must be exactly %d characters (got %d). Generate with: openssl rand -base64 32 | head -c 32", encryptionKeyLength, len(config.EncryptionKey))
	}

	switch config.Storage.Kind {
	case StorageMemory:
		if config.Production {
			log.LogWarn("Memory storage in production: Drive connections and used nonces are lost on restart")
		}
	case StorageFirestore:
		if config.Storage.GCPProject == "" {
			return fmt.Errorf("storage.gcpProject is required when using firestore storage")
		}
		if config.EncryptionKey == "" {
			return fmt.Errorf("encryptionKey is required when using firestore storage")
		}
	default:
		return fmt.Errorf("storage.kind must be 'memory' or 'firestore', got '%s'", config.Storage.Kind)
	}
	if config.Storage.CleanupInterval < 0 {
		return fmt.Errorf("storage.cleanupInterval cannot be negative")
	}

	if config.Firebase.IdentityLookupTimeout < 0 {
		return fmt.Errorf("firebase.identityLookupTimeout cannot be negative")
	}
	if config.Firebase.ProjectID == "" {
		log.LogWarn("firebase.projectId is not set: login is unavailable until it is configured")
	}

	if err := validateGoogleDrive(config); err != nil {
		return fmt.Errorf("googleDrive: %w", err)
	}

	if config.RateLimit.LoginRequestsPerMinute < 0 {
		return fmt.Errorf("rateLimit.loginRequestsPerMinute cannot be negative")
	}
	if config.RateLimit.TrustedProxyHops < 0 {
		return fmt.Errorf("rateLimit.trustedProxyHops cannot be negative")
	}

	return nil
}

func validateGoogleDrive(config *Config) error {
	drive := config.GoogleDrive
	if (drive.ClientID == "") != (drive.ClientSecret == "") {
		return fmt.Errorf("clientId and clientSecret must be set together")
	}
	if !strings.HasPrefix(drive.RedirectPath, "/") {
		return fmt.Errorf("redirectPath must start with '/'")
	}
	if drive.RedirectURL != "" {
		if err := validateOrigin(drive.RedirectURL); err != nil {
			return fmt.Errorf("redirectURL: %w", err)
		}
	}
	if !drive.Configured() {
		log.LogWarn("Google Drive OAuth is not configured: connect requests will redirect with reason=oauth_config")
	}
	return nil
}

// validateOrigin checks that s is an absolute http(s) URL
func validateOrigin(s string) error {
	if s == "" {
		return fmt.Errorf("is required")
	}
	u, err := url.Parse(s)
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", s, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL %q must use http or https", s)
	}
	if u.Host == "" {
		return fmt.Errorf("URL %q has no host", s)
	}
	if host := u.Hostname(); u.Scheme == "http" && host != "localhost" && net.ParseIP(host) == nil {
		log.LogWarn("URL %s uses plain http", s)
	}
	return nil
}
