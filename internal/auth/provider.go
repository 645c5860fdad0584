// Package auth talks to the remote auth provider: password and OAuth sign-in,
// registration, sign-out, background token refresh and session-change events.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// User is the identity a session was issued to.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Session is an active credential grant.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
	User         User      `json:"user"`
}

// Clone returns a copy the caller may keep.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// Expired reports whether the access token is past its expiry, with margin
// subtracted. Sessions without an expiry never expire locally.
func (s *Session) Expired(now time.Time, margin time.Duration) bool {
	if s == nil || s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(s.ExpiresAt.Add(-margin))
}

// Reason says why a session-change event was pushed.
type Reason string

const (
	ReasonSignedIn       Reason = "signed_in"
	ReasonSignedOut      Reason = "signed_out"
	ReasonRefreshed      Reason = "refreshed"
	ReasonOAuthCompleted Reason = "oauth_completed"
	ReasonUserUpdated    Reason = "user_updated"
)

// Event is a provider-pushed session change. A nil Session means the
// provider no longer considers anyone signed in.
type Event struct {
	Session *Session
	Reason  Reason
	// Seq is the provider's session sequence once this change was made.
	// Zero means the provider does not sequence its events.
	Seq uint64
}

// Sequencer is implemented by providers that stamp Events with Seq. Seq
// reports the sequence of the session the provider currently holds; it
// grows with every replacement or sign-out.
type Sequencer interface {
	Seq() uint64
}

// Provider is the contract the session store consumes. Explicit actions
// return their result directly; Events carries only changes the caller did
// not initiate (refresh, revocation, OAuth completion).
type Provider interface {
	GetSession(ctx context.Context) (*Session, error)
	SignInWithPassword(ctx context.Context, email, password string) (*Session, error)
	// SignUp returns a nil session when the provider requires email
	// confirmation before the account can sign in.
	SignUp(ctx context.Context, email, password string) (*Session, error)
	SignOut(ctx context.Context) error
	SignInWithOAuth(ctx context.Context, provider, returnPath string) (string, error)
	CompleteOAuth(ctx context.Context, code, state string) (*Session, string, error)
	Events() <-chan Event
}

// AuthenticationError is a provider rejection: bad credentials, duplicate
// account, policy violation, revoked refresh token. Message is the provider's
// own wording and is meant for display.
type AuthenticationError struct {
	Status  int
	Code    string
	Message string
}

func (e *AuthenticationError) Error() string {
	if e.Message == "" {
		return "authentication failed"
	}
	return e.Message
}

// IsAuthenticationError reports whether err carries a provider rejection.
func IsAuthenticationError(err error) bool {
	var ae *AuthenticationError
	return errors.As(err, &ae)
}

var (
	ErrInvalidState    = errors.New("oauth state is invalid or expired")
	ErrUnknownProvider = errors.New("unsupported oauth provider")
	ErrClosed          = errors.New("auth client closed")
)

func wrapTransport(op string, err error) error {
	return fmt.Errorf("%s: %w", op, err)
}
