package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateFile(t *testing.T) {
	tests := []struct {
		name          string
		config        string
		wantErrPaths  []string
		wantWarnings  []string
		wantErrCount  int
		wantWarnCount int
	}{
		{
			name: "valid_memory_config",
			config: `{
				"version": "v1",
				"frontendOrigin": "http://localhost:5173",
				"backendBaseURL": "http://localhost:8080",
				"session": {"secret": {"$env": "SESSION_SECRET"}},
				"googleDrive": {
					"clientId": {"$env": "GOOGLE_CLIENT_ID"},
					"clientSecret": {"$env": "GOOGLE_CLIENT_SECRET"}
				}
			}`,
			wantErrCount:  0,
			wantWarnCount: 0,
		},
		{
			name: "valid_firestore_config",
			config: `{
				"version": "v1",
				"frontendOrigin": "https://shortsai.ru",
				"backendBaseURL": "https://api.shortsai.ru",
				"production": true,
				"session": {
					"secret": {"$env": "SESSION_SECRET"},
					"previousSecrets": [{"$env": "OLD_SESSION_SECRET"}]
				},
				"oauthState": {"secret": {"$env": "OAUTH_STATE_SECRET"}},
				"firebase": {"projectId": "shortsai", "identityLookupTimeout": "2s"},
				"googleDrive": {
					"clientId": {"$env": "GOOGLE_CLIENT_ID"},
					"clientSecret": {"$env": "GOOGLE_CLIENT_SECRET"},
					"redirectPath": "/api/integrations/google-drive/callback"
				},
				"storage": {"kind": "firestore", "gcpProject": "shortsai", "cleanupInterval": "10m"},
				"encryptionKey": {"$env": "ENCRYPTION_KEY"}
			}`,
			wantErrCount:  0,
			wantWarnCount: 0,
		},
		{
			name:          "missing_everything",
			config:        `{}`,
			wantErrPaths:  []string{"version", "frontendOrigin", "backendBaseURL", "session"},
			wantErrCount:  4,
			wantWarnCount: 1,
		},
		{
			name: "plain_text_secrets",
			config: `{
				"version": "v1",
				"frontendOrigin": "https://shortsai.ru",
				"backendBaseURL": "https://api.shortsai.ru",
				"session": {"secret": "hardcoded-session-secret-hardcoded!", "previousSecrets": ["old"]},
				"googleDrive": {"clientId": "id", "clientSecret": "GOCSPX-plain"},
				"encryptionKey": "hardcoded-key-hardcoded-key-1234"
			}`,
			wantErrPaths:  []string{"session.secret", "session.previousSecrets[0]", "googleDrive.clientSecret", "encryptionKey"},
			wantErrCount:  4,
			wantWarnCount: 0,
		},
		{
			name: "bash_style_secret",
			config: `{
				"version": "v1",
				"frontendOrigin": "https://shortsai.ru",
				"backendBaseURL": "https://api.shortsai.ru",
				"session": {"secret": "${SESSION_SECRET}"},
				"googleDrive": {}
			}`,
			wantErrPaths:  []string{"session.secret"},
			wantWarnings:  []string{"bash-style syntax '${SESSION_SECRET}'"},
			wantErrCount:  1,
			wantWarnCount: 1,
		},
		{
			name: "firestore_missing_fields",
			config: `{
				"version": "v1",
				"frontendOrigin": "https://shortsai.ru",
				"backendBaseURL": "https://api.shortsai.ru",
				"session": {"secret": {"$env": "SESSION_SECRET"}},
				"googleDrive": {},
				"storage": {"kind": "firestore"}
			}`,
			wantErrPaths:  []string{"storage.gcpProject", "encryptionKey"},
			wantErrCount:  2,
			wantWarnCount: 0,
		},
		{
			name: "unknown_storage_and_bad_durations",
			config: `{
				"version": "v1",
				"frontendOrigin": "https://shortsai.ru",
				"backendBaseURL": "https://api.shortsai.ru",
				"session": {"secret": {"$env": "SESSION_SECRET"}},
				"googleDrive": {},
				"firebase": {"identityLookupTimeout": "fast"},
				"storage": {"kind": "postgres", "cleanupInterval": 600}
			}`,
			wantErrPaths:  []string{"storage.kind", "firebase.identityLookupTimeout", "storage.cleanupInterval"},
			wantErrCount:  3,
			wantWarnCount: 0,
		},
		{
			name: "memory_in_production_and_slow_lookup",
			config: `{
				"version": "v1",
				"frontendOrigin": "https://shortsai.ru",
				"backendBaseURL": "https://api.shortsai.ru",
				"production": true,
				"session": {"secret": {"$env": "SESSION_SECRET"}},
				"googleDrive": {},
				"firebase": {"identityLookupTimeout": "30s"},
				"storage": {"kind": "memory"}
			}`,
			wantWarnings:  []string{"memory storage loses", "latency"},
			wantErrCount:  0,
			wantWarnCount: 2,
		},
		{
			name: "drive_half_configured",
			config: `{
				"version": "v1",
				"frontendOrigin": "https://shortsai.ru",
				"backendBaseURL": "https://api.shortsai.ru",
				"session": {"secret": {"$env": "SESSION_SECRET"}},
				"googleDrive": {"clientId": "id", "redirectPath": "callback", "scopes": []}
			}`,
			wantErrPaths:  []string{"googleDrive", "googleDrive.redirectPath", "googleDrive.scopes"},
			wantErrCount:  3,
			wantWarnCount: 0,
		},
		{
			name: "old_version",
			config: `{
				"version": "v0.0.1-DEV_EDITION",
				"frontendOrigin": "https://shortsai.ru",
				"backendBaseURL": "https://api.shortsai.ru",
				"session": {"secret": {"$env": "SESSION_SECRET"}},
				"googleDrive": {}
			}`,
			wantErrPaths:  []string{"version"},
			wantErrCount:  1,
			wantWarnCount: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			configPath := filepath.Join(tmpDir, "config.json")
			err := os.WriteFile(configPath, []byte(tt.config), 0644)
			require.NoError(t, err)

			result, err := ValidateFile(configPath)
			assert.NoError(t, err)
			assert.NotNil(t, result)

			assert.Equal(t, tt.wantErrCount, len(result.Errors),
				"expected %d errors but got %d: %v", tt.wantErrCount, len(result.Errors), result.Errors)
			assert.Equal(t, tt.wantWarnCount, len(result.Warnings),
				"expected %d warnings but got %d: %v", tt.wantWarnCount, len(result.Warnings), result.Warnings)

			for _, wantPath := range tt.wantErrPaths {
				found := false
				for _, e := range result.Errors {
					if e.Path == wantPath {
						found = true
						break
					}
				}
				assert.True(t, found, "expected error at '%s' not found in %v", wantPath, result.Errors)
			}

			for _, wantWarn := range tt.wantWarnings {
				found := false
				for _, w := range result.Warnings {
					if strings.Contains(w.Message, wantWarn) {
						found = true
						break
					}
				}
				assert.True(t, found, "expected warning '%s' not found in %v", wantWarn, result.Warnings)
			}

			assert.Equal(t, tt.wantErrCount == 0, result.IsValid())
		})
	}
}

func TestValidateFile_InvalidJSON(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(configPath, []byte(`{"version": `), 0644))

	result, err := ValidateFile(configPath)
	require.NoError(t, err)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0].Message, "invalid JSON")
}

func TestValidateFile_MissingFile(t *testing.T) {
	_, err := ValidateFile("/nonexistent/file.json")
	assert.Error(t, err)
}

func TestValidateFile_DoesNotEchoSecrets(t *testing.T) {
	result := ValidateBytes([]byte(`{
		"version": "v1",
		"frontendOrigin": "https://shortsai.ru",
		"backendBaseURL": "https://api.shortsai.ru",
		"session": {"secret": "hunter2-hunter2-hunter2-hunter2-hunter2"},
		"googleDrive": {}
	}`))

	require.False(t, result.IsValid())
	for _, e := range result.Errors {
		assert.NotContains(t, e.Message, "hunter2")
	}
}
