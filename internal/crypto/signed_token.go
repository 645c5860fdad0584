package crypto

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidToken = errors.New("invalid signed token")
	ErrTokenExpired = errors.New("signed token expired")
)

// TokenSigner seals small JSON payloads (OAuth state, flash messages) so they
// can round-trip through a browser or an identity provider untouched.
type TokenSigner struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

func NewTokenSigner(key []byte, ttl time.Duration) *TokenSigner {
	return &TokenSigner{key: key, ttl: ttl, now: time.Now}
}

type envelope struct {
	Payload   json.RawMessage `json:"p"`
	ExpiresAt int64           `json:"exp,omitempty"`
}

// Sign encodes v as <base64 json>.<signature>.
func (s *TokenSigner) Sign(v any) (string, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}
	env := envelope{Payload: payload}
	if s.ttl > 0 {
		env.ExpiresAt = s.now().Add(s.ttl).Unix()
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("failed to marshal envelope: %w", err)
	}
	body := base64.RawURLEncoding.EncodeToString(raw)
	return body + "." + SignData(body, s.key), nil
}

// Verify checks the signature and expiry, then decodes the payload into v.
func (s *TokenSigner) Verify(token string, v any) error {
	body, sig, ok := strings.Cut(token, ".")
	if !ok || body == "" || sig == "" {
		return ErrInvalidToken
	}
	if !ValidateSignedData(body, sig, s.key) {
		return ErrInvalidToken
	}
	raw, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return ErrInvalidToken
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return ErrInvalidToken
	}
	if env.ExpiresAt != 0 && s.now().Unix() > env.ExpiresAt {
		return ErrTokenExpired
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	return nil
}
