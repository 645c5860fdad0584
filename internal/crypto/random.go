package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// GenerateSecureToken returns 32 random bytes, base64 URL-encoded. Used for
// OAuth state nonces and CSRF nonces.
func GenerateSecureToken() (string, error) {
	return randomString(32)
}

// GenerateKey returns n random bytes. Used when config omits a signing key and
// an ephemeral one is acceptable.
func GenerateKey(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return b, nil
}

func randomString(n int) (string, error) {
	b, err := GenerateKey(n)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
