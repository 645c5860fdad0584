package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
)

// SignData returns the base64 URL-encoded HMAC-SHA256 of data.
func SignData(data string, key []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(data))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// ValidateSignedData reports whether signature is the HMAC of data under key.
func ValidateSignedData(data, signature string, key []byte) bool {
	got, err := base64.RawURLEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(data))
	return hmac.Equal(got, mac.Sum(nil))
}
