package crypto

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func TestSignData(t *testing.T) {
	sig := SignData("hello", testKey)
	assert.True(t, ValidateSignedData("hello", sig, testKey))
	assert.False(t, ValidateSignedData("hello!", sig, testKey))
	assert.False(t, ValidateSignedData("hello", sig, []byte("other")))
	assert.False(t, ValidateSignedData("hello", "%%%", testKey))
}

func TestTokenSigner(t *testing.T) {
	type state struct {
		Nonce    string `json:"n"`
		ReturnTo string `json:"r"`
	}

	t.Run("round trip", func(t *testing.T) {
		s := NewTokenSigner(testKey, time.Minute)
		tok, err := s.Sign(state{Nonce: "abc", ReturnTo: "/organizations/7"})
		require.NoError(t, err)

		var got state
		require.NoError(t, s.Verify(tok, &got))
		assert.Equal(t, "/organizations/7", got.ReturnTo)
	})

	t.Run("tampered", func(t *testing.T) {
		s := NewTokenSigner(testKey, time.Minute)
		tok, err := s.Sign(state{Nonce: "abc"})
		require.NoError(t, err)

		body, sig, _ := strings.Cut(tok, ".")
		var got state
		assert.ErrorIs(t, s.Verify(body+"x."+sig, &got), ErrInvalidToken)
		assert.ErrorIs(t, s.Verify("garbage", &got), ErrInvalidToken)
		assert.ErrorIs(t, NewTokenSigner([]byte("other-key"), 0).Verify(tok, &got), ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		s := NewTokenSigner(testKey, time.Minute)
		tok, err := s.Sign(state{Nonce: "abc"})
		require.NoError(t, err)

		s.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
		var got state
		assert.ErrorIs(t, s.Verify(tok, &got), ErrTokenExpired)
	})
}

func TestCSRFProtection(t *testing.T) {
	c := NewCSRFProtection(testKey, time.Hour)
	tok, err := c.Generate()
	require.NoError(t, err)
	assert.True(t, c.Validate(tok))
	assert.False(t, c.Validate(tok+"x"))
	assert.False(t, c.Validate("a:b"))

	expired := NewCSRFProtection(testKey, -time.Second)
	assert.False(t, expired.Validate(tok))
}

func TestEncryptor(t *testing.T) {
	_, err := NewEncryptor([]byte("short"))
	assert.Error(t, err)

	enc, err := NewEncryptor(testKey)
	require.NoError(t, err)

	ct, err := enc.Encrypt("refresh-token-value")
	require.NoError(t, err)
	assert.NotContains(t, ct, "refresh-token-value")

	ct2, err := enc.Encrypt("refresh-token-value")
	require.NoError(t, err)
	assert.NotEqual(t, ct, ct2, "nonce must differ per call")

	pt, err := enc.Decrypt(ct)
	require.NoError(t, err)
	assert.Equal(t, "refresh-token-value", pt)

	other, err := NewEncryptor([]byte("fedcba9876543210fedcba9876543210"))
	require.NoError(t, err)
	_, err = other.Decrypt(ct)
	assert.Error(t, err)

	_, err = enc.Decrypt("AAAA")
	assert.Error(t, err)
}
