package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/dgellow/orgctl/internal/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "test-encryption-key-32-bytes-ok!"

func TestFileStorage_Plain(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := NewFileStorage(dir, nil)
	require.NoError(t, err)

	_, err = s.Load(ctx, "default")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	in := sampleSession()
	require.NoError(t, s.Save(ctx, "default", in))

	info, err := os.Stat(filepath.Join(dir, "default.json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	got, err := s.Load(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, in.AccessToken, got.AccessToken)
	assert.Equal(t, in.RefreshToken, got.RefreshToken)
	assert.Equal(t, in.UserEmail, got.UserEmail)
	assert.True(t, in.ExpiresAt.Equal(got.ExpiresAt))

	require.NoError(t, s.Delete(ctx, "default"))
	require.NoError(t, s.Delete(ctx, "default"))
	_, err = s.Load(ctx, "default")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestFileStorage_Encrypted(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	enc, err := crypto.NewEncryptor([]byte(testKey))
	require.NoError(t, err)

	s, err := NewFileStorage(dir, enc)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, "work", sampleSession()))

	raw, err := os.ReadFile(filepath.Join(dir, "work.json"))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "access-1")
	assert.NotContains(t, string(raw), "refresh-1")
	assert.Contains(t, string(raw), `"encrypted": true`)

	got, err := s.Load(ctx, "work")
	require.NoError(t, err)
	assert.Equal(t, "access-1", got.AccessToken)
	assert.Equal(t, "refresh-1", got.RefreshToken)

	// Without the key the file cannot be read back
	plain, err := NewFileStorage(dir, nil)
	require.NoError(t, err)
	_, err = plain.Load(ctx, "work")
	assert.ErrorContains(t, err, "no encryption key")
}

func TestFileStorage_Corrupt(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "default.json"), []byte("{"), 0o600))

	s, err := NewFileStorage(dir, nil)
	require.NoError(t, err)
	_, err = s.Load(context.Background(), "default")
	assert.ErrorContains(t, err, "parsing session file")
}
