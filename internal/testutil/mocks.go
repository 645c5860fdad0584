package testutil

import (
	"context"
	"sync/atomic"

	"github.com/dgellow/orgctl/internal/auth"
	"github.com/stretchr/testify/mock"
)

// MockProvider is a testify mock of auth.Provider. Events pushed with Push
// are delivered on Events(). It reports sequence zero, meaning unsequenced,
// until a test calls SetSeq.
type MockProvider struct {
	mock.Mock
	events chan auth.Event
	seq    atomic.Uint64
}

var (
	_ auth.Provider  = (*MockProvider)(nil)
	_ auth.Sequencer = (*MockProvider)(nil)
)

func NewMockProvider() *MockProvider {
	return &MockProvider{events: make(chan auth.Event, 16)}
}

// Push delivers a provider-initiated session change.
func (m *MockProvider) Push(s *auth.Session, reason auth.Reason) {
	m.events <- auth.Event{Session: s, Reason: reason}
}

// PushSeq delivers a change stamped with the given provider sequence.
func (m *MockProvider) PushSeq(s *auth.Session, reason auth.Reason, seq uint64) {
	m.events <- auth.Event{Session: s, Reason: reason, Seq: seq}
}

func (m *MockProvider) Events() <-chan auth.Event {
	return m.events
}

// SetSeq sets the sequence Seq reports.
func (m *MockProvider) SetSeq(n uint64) {
	m.seq.Store(n)
}

func (m *MockProvider) Seq() uint64 {
	return m.seq.Load()
}

func sessionArg(args mock.Arguments, i int) *auth.Session {
	if args.Get(i) == nil {
		return nil
	}
	return args.Get(i).(*auth.Session)
}

func (m *MockProvider) GetSession(ctx context.Context) (*auth.Session, error) {
	args := m.Called(ctx)
	return sessionArg(args, 0), args.Error(1)
}

func (m *MockProvider) SignInWithPassword(ctx context.Context, email, password string) (*auth.Session, error) {
	args := m.Called(ctx, email, password)
	return sessionArg(args, 0), args.Error(1)
}

func (m *MockProvider) SignUp(ctx context.Context, email, password string) (*auth.Session, error) {
	args := m.Called(ctx, email, password)
	return sessionArg(args, 0), args.Error(1)
}

func (m *MockProvider) SignOut(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockProvider) SignInWithOAuth(ctx context.Context, provider, returnPath string) (string, error) {
	args := m.Called(ctx, provider, returnPath)
	return args.String(0), args.Error(1)
}

func (m *MockProvider) CompleteOAuth(ctx context.Context, code, state string) (*auth.Session, string, error) {
	args := m.Called(ctx, code, state)
	return sessionArg(args, 0), args.String(1), args.Error(2)
}

// NewSession builds a session for user with the given token.
func NewSession(token, userID, email string) *auth.Session {
	return &auth.Session{
		AccessToken: token,
		TokenType:   "bearer",
		User:        auth.User{ID: userID, Email: email},
	}
}
