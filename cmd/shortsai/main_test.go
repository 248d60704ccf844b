package main

import (
	"path/filepath"
	"testing"

	"github.com/shortsai/backend/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	sessionSecret, err := generateDefaultConfig(path)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(sessionSecret), 32)

	result, err := config.ValidateFile(path)
	require.NoError(t, err)
	assert.Empty(t, result.Errors)

	t.Setenv("SESSION_SECRET", sessionSecret)
	t.Setenv("GOOGLE_DRIVE_CLIENT_ID", "drive-client-id")
	t.Setenv("GOOGLE_DRIVE_CLIENT_SECRET", "drive-client-secret")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.Secret(sessionSecret), cfg.Session.Secret)
	assert.Equal(t, config.DefaultTrustedProxyHops, cfg.RateLimit.TrustedProxyHops)
}

func TestGenerateDefaultConfig_FreshSecretEachRun(t *testing.T) {
	dir := t.TempDir()

	first, err := generateDefaultConfig(filepath.Join(dir, "a.json"))
	require.NoError(t, err)
	second, err := generateDefaultConfig(filepath.Join(dir, "b.json"))
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}
