package storage

import (
	"context"
	"testing"

	"github.com/dgellow/orgctl/internal/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFirestoreStorageConfig(t *testing.T) {
	ctx := context.Background()
	enc, err := crypto.NewEncryptor([]byte(testKey))
	require.NoError(t, err)

	t.Run("missing GCP project ID", func(t *testing.T) {
		_, err := NewFirestoreStorage(ctx, "", "(default)", "sessions", enc)
		assert.ErrorContains(t, err, "projectID is required")
	})

	t.Run("nil encryptor", func(t *testing.T) {
		_, err := NewFirestoreStorage(ctx, "test-project", "(default)", "sessions", nil)
		assert.ErrorContains(t, err, "encryptor is required")
	})

	t.Run("missing collection", func(t *testing.T) {
		_, err := NewFirestoreStorage(ctx, "test-project", "(default)", "", enc)
		assert.ErrorContains(t, err, "collection is required")
	})
}

func TestSessionDocConversion(t *testing.T) {
	enc, err := crypto.NewEncryptor([]byte(testKey))
	require.NoError(t, err)

	in := sampleSession()
	doc, err := toSessionDoc(in, enc)
	require.NoError(t, err)
	assert.NotEqual(t, in.AccessToken, doc.AccessToken)
	assert.NotEqual(t, in.RefreshToken, doc.RefreshToken)
	assert.Equal(t, in.UserEmail, doc.UserEmail)
	assert.Equal(t, "access-1", in.AccessToken, "input is not modified")

	out, err := fromSessionDoc(doc, enc)
	require.NoError(t, err)
	assert.Equal(t, in.AccessToken, out.AccessToken)
	assert.Equal(t, in.RefreshToken, out.RefreshToken)
	assert.Equal(t, in.UserID, out.UserID)

	noRefresh := sampleSession()
	noRefresh.RefreshToken = ""
	doc, err = toSessionDoc(noRefresh, enc)
	require.NoError(t, err)
	assert.Empty(t, doc.RefreshToken)
}
