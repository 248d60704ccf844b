package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shortsai/backend/internal/envutil"
)

// UnmarshalJSON implements custom unmarshaling for Config. References are
// resolved immediately and defaults applied for absent fields.
func (c *Config) UnmarshalJSON(data []byte) error {
	type rawConfig struct {
		Version        string            `json:"version"`
		Addr           json.RawMessage   `json:"addr"`
		FrontendOrigin json.RawMessage   `json:"frontendOrigin"`
		BackendBaseURL json.RawMessage   `json:"backendBaseURL"`
		Production     *bool             `json:"production"`
		AllowedOrigins []json.RawMessage `json:"allowedOrigins"`
		Session        SessionConfig     `json:"session"`
		OAuthState     OAuthStateConfig  `json:"oauthState"`
		Firebase       FirebaseConfig    `json:"firebase"`
		GoogleDrive    GoogleDriveConfig `json:"googleDrive"`
		Storage        StorageConfig     `json:"storage"`
		EncryptionKey  json.RawMessage   `json:"encryptionKey"`
		RateLimit      *RateLimitConfig  `json:"rateLimit"`
	}

	// Sections missing from the file keep these defaults; present sections
	// apply their own in their UnmarshalJSON.
	raw := rawConfig{
		Session:     SessionConfig{CookieName: DefaultCookieName},
		OAuthState:  OAuthStateConfig{ReplayProtection: true},
		Firebase:    FirebaseConfig{IdentityLookupTimeout: DefaultIdentityLookupTimeout},
		GoogleDrive: GoogleDriveConfig{RedirectPath: DefaultRedirectPath},
		Storage:     StorageConfig{Kind: StorageMemory, CleanupInterval: DefaultCleanupInterval},
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	c.Version = raw.Version
	c.Session = raw.Session
	c.OAuthState = raw.OAuthState
	c.Firebase = raw.Firebase
	c.GoogleDrive = raw.GoogleDrive
	c.Storage = raw.Storage

	var err error
	if c.Addr, err = parseOptional(raw.Addr, "addr"); err != nil {
		return err
	}
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}

	frontend, err := parseOptional(raw.FrontendOrigin, "frontendOrigin")
	if err != nil {
		return err
	}
	c.FrontendOrigin = strings.TrimRight(strings.TrimSpace(frontend), "/")

	backend, err := parseOptional(raw.BackendBaseURL, "backendBaseURL")
	if err != nil {
		return err
	}
	c.BackendBaseURL = strings.TrimRight(strings.TrimSpace(backend), "/")

	// Without an explicit flag, production follows the process environment
	if raw.Production != nil {
		c.Production = *raw.Production
	} else {
		c.Production = envutil.IsProduction()
	}

	if len(raw.AllowedOrigins) > 0 {
		origins, err := ParseConfigValueSlice(raw.AllowedOrigins)
		if err != nil {
			return fmt.Errorf("parsing allowedOrigins: %w", err)
		}
		c.AllowedOrigins = origins
	}

	key, err := parseOptional(raw.EncryptionKey, "encryptionKey")
	if err != nil {
		return err
	}
	c.EncryptionKey = Secret(key)

	c.RateLimit = RateLimitConfig{
		LoginRequestsPerMinute: DefaultLoginRequestsPerMinute,
		TrustedProxyHops:       DefaultTrustedProxyHops,
	}
	if raw.RateLimit != nil {
		c.RateLimit = *raw.RateLimit
	}

	return nil
}

// UnmarshalJSON implements custom unmarshaling for SessionConfig
func (s *SessionConfig) UnmarshalJSON(data []byte) error {
	type rawSession struct {
		CookieName      string            `json:"cookieName"`
		Secret          json.RawMessage   `json:"secret"`
		PreviousSecrets []json.RawMessage `json:"previousSecrets"`
	}

	var raw rawSession
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	s.CookieName = raw.CookieName
	if s.CookieName == "" {
		s.CookieName = DefaultCookieName
	}

	secret, err := parseOptional(raw.Secret, "session.secret")
	if err != nil {
		return err
	}
	s.Secret = Secret(secret)

	if len(raw.PreviousSecrets) > 0 {
		values, err := ParseConfigValueSlice(raw.PreviousSecrets)
		if err != nil {
			return fmt.Errorf("parsing session.previousSecrets: %w", err)
		}
		s.PreviousSecrets = make([]Secret, len(values))
		for i, v := range values {
			s.PreviousSecrets[i] = Secret(v)
		}
	}
	return nil
}

// UnmarshalJSON implements custom unmarshaling for OAuthStateConfig
func (o *OAuthStateConfig) UnmarshalJSON(data []byte) error {
	type rawState struct {
		Secret           json.RawMessage `json:"secret"`
		ReplayProtection *bool           `json:"replayProtection"`
	}

	var raw rawState
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	secret, err := parseOptional(raw.Secret, "oauthState.secret")
	if err != nil {
		return err
	}
	o.Secret = Secret(secret)

	o.ReplayProtection = true
	if raw.ReplayProtection != nil {
		o.ReplayProtection = *raw.ReplayProtection
	}
	return nil
}

// UnmarshalJSON implements custom unmarshaling for RateLimitConfig
func (r *RateLimitConfig) UnmarshalJSON(data []byte) error {
	type rawRateLimit struct {
		LoginRequestsPerMinute *int `json:"loginRequestsPerMinute"`
		TrustedProxyHops       *int `json:"trustedProxyHops"`
	}

	var raw rawRateLimit
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	r.LoginRequestsPerMinute = DefaultLoginRequestsPerMinute
	if raw.LoginRequestsPerMinute != nil {
		r.LoginRequestsPerMinute = *raw.LoginRequestsPerMinute
	}
	r.TrustedProxyHops = DefaultTrustedProxyHops
	if raw.TrustedProxyHops != nil {
		r.TrustedProxyHops = *raw.TrustedProxyHops
	}
	return nil
}

// UnmarshalJSON implements custom unmarshaling for FirebaseConfig
func (f *FirebaseConfig) UnmarshalJSON(data []byte) error {
	type rawFirebase struct {
		ProjectID             json.RawMessage `json:"projectId"`
		IdentityLookupTimeout string          `json:"identityLookupTimeout"`
		APIKey                json.RawMessage `json:"apiKey"`
	}

	var raw rawFirebase
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var err error
	if f.ProjectID, err = parseOptional(raw.ProjectID, "firebase.projectId"); err != nil {
		return err
	}

	apiKey, err := parseOptional(raw.APIKey, "firebase.apiKey")
	if err != nil {
		return err
	}
	f.APIKey = Secret(apiKey)

	if f.IdentityLookupTimeout, err = parseDuration(raw.IdentityLookupTimeout, "firebase.identityLookupTimeout"); err != nil {
		return err
	}
	if f.IdentityLookupTimeout == 0 {
		f.IdentityLookupTimeout = DefaultIdentityLookupTimeout
	}
	return nil
}

// UnmarshalJSON implements custom unmarshaling for GoogleDriveConfig
func (g *GoogleDriveConfig) UnmarshalJSON(data []byte) error {
	type rawDrive struct {
		ClientID     json.RawMessage `json:"clientId"`
		ClientSecret json.RawMessage `json:"clientSecret"`
		RedirectPath string          `json:"redirectPath"`
		RedirectURL  json.RawMessage `json:"redirectURL"`
		Scopes       []string        `json:"scopes"`
	}

	var raw rawDrive
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var err error
	if g.ClientID, err = parseOptional(raw.ClientID, "googleDrive.clientId"); err != nil {
		return err
	}

	secret, err := parseOptional(raw.ClientSecret, "googleDrive.clientSecret")
	if err != nil {
		return err
	}
	g.ClientSecret = Secret(secret)

	if g.RedirectURL, err = parseOptional(raw.RedirectURL, "googleDrive.redirectURL"); err != nil {
		return err
	}

	g.RedirectPath = raw.RedirectPath
	if g.RedirectPath == "" {
		g.RedirectPath = DefaultRedirectPath
	}
	g.Scopes = raw.Scopes
	return nil
}

// UnmarshalJSON implements custom unmarshaling for StorageConfig
func (s *StorageConfig) UnmarshalJSON(data []byte) error {
	type rawStorage struct {
		Kind             StorageKind     `json:"kind"`
		GCPProject       json.RawMessage `json:"gcpProject"`
		Database         string          `json:"database"`
		CollectionPrefix string          `json:"collectionPrefix"`
		CleanupInterval  string          `json:"cleanupInterval"`
	}

	var raw rawStorage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	s.Kind = raw.Kind
	if s.Kind == "" {
		s.Kind = StorageMemory
	}
	s.Database = raw.Database
	s.CollectionPrefix = raw.CollectionPrefix

	var err error
	if s.GCPProject, err = parseOptional(raw.GCPProject, "storage.gcpProject"); err != nil {
		return err
	}

	if s.CleanupInterval, err = parseDuration(raw.CleanupInterval, "storage.cleanupInterval"); err != nil {
		return err
	}
	if s.CleanupInterval == 0 {
		s.CleanupInterval = DefaultCleanupInterval
	}
	return nil
}
