package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	t.Setenv("TEST_ORGCTL_API_KEY", "anon-key")
	t.Setenv("TEST_ORGCTL_BASE", "'https://orgs.example.com/api'")

	path := writeConfig(t, `{
		"version": "orgctl/v1",
		"api": {"baseURL": {"$env": "TEST_ORGCTL_BASE"}, "timeout": "5s"},
		"auth": {
			"url": "https://auth.example.com/auth/v1",
			"clientId": "cli",
			"apiKey": {"$env": "TEST_ORGCTL_API_KEY"},
			"refreshMargin": "90s"
		},
		"persistence": {"kind": "memory"}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://orgs.example.com/api", cfg.API.BaseURL, "surrounding quotes are stripped")
	assert.Equal(t, 5*time.Second, cfg.API.Timeout)
	assert.Equal(t, Secret("anon-key"), cfg.Auth.APIKey)
	assert.Equal(t, 90*time.Second, cfg.Auth.RefreshMargin)
	assert.Equal(t, 15*time.Second, cfg.Auth.RefreshRetry, "defaults fill missing fields")
	assert.Equal(t, PersistenceMemory, cfg.Persistence.Kind)
	assert.Equal(t, "default", cfg.Persistence.Profile)
	assert.Equal(t, "/login", cfg.Console.SignInPath)
	assert.Equal(t, "/organizations", cfg.Console.DefaultReturnPath)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			name:    "missing version",
			body:    `{"auth": {"url": "https://a.example.com"}}`,
			wantErr: "config version is required",
		},
		{
			name:    "wrong version",
			body:    `{"version": "v0.0.1-DEV_EDITION", "auth": {"url": "https://a.example.com"}}`,
			wantErr: "unsupported config version",
		},
		{
			name:    "inline secret",
			body:    `{"version": "orgctl/v1", "auth": {"url": "https://a.example.com", "apiKey": "plain"}}`,
			wantErr: "auth.apiKey must use environment variable reference",
		},
		{
			name:    "unset env reference",
			body:    `{"version": "orgctl/v1", "auth": {"url": {"$env": "TEST_ORGCTL_DEFINITELY_UNSET"}}}`,
			wantErr: "environment variable TEST_ORGCTL_DEFINITELY_UNSET not set",
		},
		{
			name:    "bad duration",
			body:    `{"version": "orgctl/v1", "api": {"timeout": "soon"}, "auth": {"url": "https://a.example.com"}}`,
			wantErr: "parsing timeout",
		},
		{
			name:    "missing auth url",
			body:    `{"version": "orgctl/v1"}`,
			wantErr: "auth.url is required",
		},
		{
			name:    "firestore without project",
			body:    `{"version": "orgctl/v1", "auth": {"url": "https://a.example.com"}, "persistence": {"kind": "firestore"}}`,
			wantErr: "persistence.gcpProject is required",
		},
		{
			name:    "unknown persistence",
			body:    `{"version": "orgctl/v1", "auth": {"url": "https://a.example.com"}, "persistence": {"kind": "redis"}}`,
			wantErr: "persistence.kind must be one of",
		},
		{
			name:    "remote sign-in path",
			body:    `{"version": "orgctl/v1", "auth": {"url": "https://a.example.com"}, "console": {"signInPath": "//evil.example.com"}}`,
			wantErr: "console.signInPath must be a local absolute path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	require.NoError(t, WriteDefault(path, false))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	assert.Error(t, WriteDefault(path, false), "refuses to overwrite")
	require.NoError(t, WriteDefault(path, true))

	result, err := ValidateFile(path)
	require.NoError(t, err)
	assert.True(t, result.IsValid(), "%v", result.Errors)

	t.Setenv("ORGCTL_AUTH_API_KEY", "anon")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default().API.BaseURL, cfg.API.BaseURL)
}
