package storage

import (
	"context"
	"errors"
	"time"
)

// ErrSessionNotFound is returned when no session is persisted for a profile.
var ErrSessionNotFound = errors.New("session not found")

// PersistedSession is the durable form of an auth session. It survives process
// restarts so the bootstrap query can find it.
type PersistedSession struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
	UserID       string    `json:"user_id"`
	UserEmail    string    `json:"user_email"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// SessionStore persists at most one session per profile.
type SessionStore interface {
	Load(ctx context.Context, profile string) (*PersistedSession, error)
	Save(ctx context.Context, profile string, s *PersistedSession) error
	Delete(ctx context.Context, profile string) error
}

// Closer is implemented by stores holding remote clients.
type Closer interface {
	Close() error
}

func clone(s *PersistedSession) *PersistedSession {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}
