package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dgellow/orgctl/internal/auth"
	"github.com/dgellow/orgctl/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newInitializedStore(t *testing.T, bootstrap *auth.Session) (*Store, *testutil.MockProvider) {
	t.Helper()
	p := testutil.NewMockProvider()
	p.On("GetSession", mock.Anything).Return(bootstrap, nil).Once()
	s := New(p)
	t.Cleanup(s.Close)
	s.Initialize(context.Background())
	return s, p
}

func requireConsistent(t *testing.T, st State) {
	t.Helper()
	if st.Session == nil {
		assert.Nil(t, st.User, "user must be absent when session is absent")
		return
	}
	require.NotNil(t, st.User)
	assert.Equal(t, st.Session.User, *st.User)
}

func TestStore_BootstrapPhases(t *testing.T) {
	tests := []struct {
		name      string
		session   *auth.Session
		err       error
		wantPhase Phase
		wantToken string
	}{
		{
			name:      "persisted session",
			session:   testutil.NewSession("tok-1", "u1", "ada@example.com"),
			wantPhase: Authenticated,
			wantToken: "tok-1",
		},
		{
			name:      "no session",
			wantPhase: Unauthenticated,
		},
		{
			name:      "provider unreachable",
			err:       errors.New("network down"),
			wantPhase: Unauthenticated,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testutil.NewMockProvider()
			p.On("GetSession", mock.Anything).Return(tt.session, tt.err).Once()
			s := New(p)
			defer s.Close()

			assert.Equal(t, Bootstrapping, s.Phase())
			assert.True(t, s.State().Loading)
			assert.Empty(t, s.AccessToken())

			s.Initialize(context.Background())

			st := s.State()
			assert.False(t, st.Loading)
			assert.Equal(t, tt.wantPhase, st.Phase())
			assert.Equal(t, tt.wantToken, s.AccessToken())
			requireConsistent(t, st)

			select {
			case <-s.Ready():
			default:
				t.Fatal("ready not closed after Initialize")
			}
			p.AssertExpectations(t)
		})
	}
}

func TestStore_InitializeRunsOnce(t *testing.T) {
	s, p := newInitializedStore(t, nil)
	s.Initialize(context.Background())
	s.Initialize(context.Background())
	p.AssertNumberOfCalls(t, "GetSession", 1)
	assert.Equal(t, uint64(1), s.State().Generation)
}

func TestStore_ActionsBeforeInitialize(t *testing.T) {
	p := testutil.NewMockProvider()
	s := New(p)
	defer s.Close()
	ctx := context.Background()

	_, err := s.SignIn(ctx, "ada@example.com", "secret1")
	assert.ErrorIs(t, err, ErrNotInitialized)

	_, err = s.SignUp(ctx, "ada@example.com", "secret1")
	assert.ErrorIs(t, err, ErrNotInitialized)

	assert.ErrorIs(t, s.SignOut(ctx), ErrNotInitialized)

	_, err = s.CompleteOAuth(ctx, "code-1", "state-1")
	assert.ErrorIs(t, err, ErrNotInitialized)

	p.AssertNotCalled(t, "SignInWithPassword", mock.Anything, mock.Anything, mock.Anything)
	p.AssertNotCalled(t, "SignOut", mock.Anything)
	p.AssertNotCalled(t, "CompleteOAuth", mock.Anything, mock.Anything, mock.Anything)
}

func TestStore_SignIn(t *testing.T) {
	t.Run("success adopts session", func(t *testing.T) {
		s, p := newInitializedStore(t, nil)
		sess := testutil.NewSession("tok-a", "u1", "ada@example.com")
		p.On("SignInWithPassword", mock.Anything, "ada@example.com", "secret1").Return(sess, nil).Once()

		got, err := s.SignIn(context.Background(), "ada@example.com", "secret1")
		require.NoError(t, err)
		assert.Equal(t, "tok-a", got.AccessToken)

		st := s.State()
		assert.Equal(t, Authenticated, st.Phase())
		assert.Equal(t, "u1", st.User.ID)
		requireConsistent(t, st)
	})

	t.Run("failure leaves state untouched", func(t *testing.T) {
		prev := testutil.NewSession("tok-old", "u0", "old@example.com")
		s, p := newInitializedStore(t, prev)
		rejected := &auth.AuthenticationError{Status: 400, Code: "invalid_grant", Message: "Invalid login credentials"}
		p.On("SignInWithPassword", mock.Anything, mock.Anything, mock.Anything).Return(nil, rejected).Once()

		before := s.State()
		_, err := s.SignIn(context.Background(), "ada@example.com", "wrong")
		require.Error(t, err)
		assert.True(t, auth.IsAuthenticationError(err))
		assert.Contains(t, err.Error(), "Invalid login credentials")

		after := s.State()
		assert.Equal(t, before.Generation, after.Generation)
		assert.Equal(t, "tok-old", after.AccessToken())
	})
}

func TestStore_SignUp(t *testing.T) {
	t.Run("active session", func(t *testing.T) {
		s, p := newInitializedStore(t, nil)
		sess := testutil.NewSession("tok-new", "u2", "new@example.com")
		p.On("SignUp", mock.Anything, "new@example.com", "secret1").Return(sess, nil).Once()

		res, err := s.SignUp(context.Background(), "new@example.com", "secret1")
		require.NoError(t, err)
		assert.False(t, res.ConfirmationPending)
		require.NotNil(t, res.Session)
		assert.Equal(t, Authenticated, s.Phase())
	})

	t.Run("confirmation pending", func(t *testing.T) {
		s, p := newInitializedStore(t, nil)
		p.On("SignUp", mock.Anything, "new@example.com", "secret1").Return(nil, nil).Once()

		res, err := s.SignUp(context.Background(), "new@example.com", "secret1")
		require.NoError(t, err)
		assert.True(t, res.ConfirmationPending)
		assert.Nil(t, res.Session)

		st := s.State()
		assert.Equal(t, Unauthenticated, st.Phase())
		assert.Equal(t, uint64(1), st.Generation)
	})

	t.Run("already registered", func(t *testing.T) {
		s, p := newInitializedStore(t, nil)
		dup := &auth.AuthenticationError{Status: 422, Code: "user_already_exists", Message: "User already registered"}
		p.On("SignUp", mock.Anything, mock.Anything, mock.Anything).Return(nil, dup).Once()

		_, err := s.SignUp(context.Background(), "dup@example.com", "secret1")
		var authErr *auth.AuthenticationError
		require.ErrorAs(t, err, &authErr)
		assert.Equal(t, "user_already_exists", authErr.Code)
		assert.Equal(t, Unauthenticated, s.Phase())
	})
}

func TestStore_SignOut(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr bool
	}{
		{name: "provider succeeds"},
		{name: "provider fails", err: errors.New("connection reset"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, p := newInitializedStore(t, testutil.NewSession("tok-1", "u1", "ada@example.com"))
			p.On("SignOut", mock.Anything).Return(tt.err).Once()

			err := s.SignOut(context.Background())
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.err)
			} else {
				require.NoError(t, err)
			}

			st := s.State()
			assert.Equal(t, Unauthenticated, st.Phase())
			assert.Empty(t, s.AccessToken())
			requireConsistent(t, st)
		})
	}
}

func TestStore_ProviderEvents(t *testing.T) {
	s, p := newInitializedStore(t, nil)
	ch, cancel := s.Subscribe()
	defer cancel()

	p.Push(testutil.NewSession("tok-oauth", "u3", "gh@example.com"), auth.ReasonOAuthCompleted)
	st := waitFor(t, ch, func(st State) bool { return st.Phase() == Authenticated })
	assert.Equal(t, "tok-oauth", st.AccessToken())
	requireConsistent(t, st)

	p.Push(testutil.NewSession("tok-refreshed", "u3", "gh@example.com"), auth.ReasonRefreshed)
	st = waitFor(t, ch, func(st State) bool { return st.AccessToken() == "tok-refreshed" })
	assert.Equal(t, "u3", st.User.ID)

	p.Push(nil, auth.ReasonSignedOut)
	st = waitFor(t, ch, func(st State) bool { return st.Phase() == Unauthenticated })
	requireConsistent(t, st)
}

func TestStore_GenerationMonotonic(t *testing.T) {
	p := testutil.NewMockProvider()
	p.On("GetSession", mock.Anything).Return(nil, nil).Once()
	p.On("SignInWithPassword", mock.Anything, mock.Anything, mock.Anything).
		Return(testutil.NewSession("tok", "u1", "ada@example.com"), nil)
	p.On("SignOut", mock.Anything).Return(nil)

	var mu sync.Mutex
	var seen []uint64
	s := New(p, WithTransitionHook(func(from, to State, cause string) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, from.Generation+1, to.Generation, cause)
		seen = append(seen, to.Generation)
	}))
	defer s.Close()
	s.Initialize(context.Background())

	ctx := context.Background()
	for range 3 {
		_, err := s.SignIn(ctx, "ada@example.com", "secret1")
		require.NoError(t, err)
		require.NoError(t, s.SignOut(ctx))
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []uint64{1, 2, 3, 4, 5, 6, 7}, seen)
}

func TestStore_SubscribeCoalesces(t *testing.T) {
	s, p := newInitializedStore(t, nil)
	p.On("SignInWithPassword", mock.Anything, mock.Anything, mock.Anything).
		Return(testutil.NewSession("tok", "u1", "ada@example.com"), nil)
	p.On("SignOut", mock.Anything).Return(nil)

	ch, cancel := s.Subscribe()
	defer cancel()

	ctx := context.Background()
	_, err := s.SignIn(ctx, "ada@example.com", "secret1")
	require.NoError(t, err)
	require.NoError(t, s.SignOut(ctx))

	select {
	case st := <-ch:
		assert.Equal(t, Unauthenticated, st.Phase())
		assert.Equal(t, uint64(3), st.Generation)
	default:
		t.Fatal("expected a pending snapshot")
	}

	select {
	case st := <-ch:
		t.Fatalf("unexpected extra snapshot: %+v", st)
	default:
	}

	cancel()
	_, err = s.SignIn(ctx, "ada@example.com", "secret1")
	require.NoError(t, err)
	select {
	case <-ch:
		t.Fatal("cancelled subscription still receives")
	default:
	}
}

func TestStore_SnapshotsAreDetached(t *testing.T) {
	s, _ := newInitializedStore(t, testutil.NewSession("tok-1", "u1", "ada@example.com"))

	st := s.State()
	st.Session.AccessToken = "mutated"
	st.User.Email = "mutated@example.com"

	assert.Equal(t, "tok-1", s.AccessToken())
	assert.Equal(t, "ada@example.com", s.State().User.Email)
}

func TestStore_CompleteOAuth(t *testing.T) {
	s, p := newInitializedStore(t, nil)
	sess := testutil.NewSession("tok-gh", "u9", "gh@example.com")
	p.On("CompleteOAuth", mock.Anything, "code-1", "state-1").
		Run(func(mock.Arguments) { p.Push(sess, auth.ReasonOAuthCompleted) }).
		Return(sess, "/organizations/7", nil).Once()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	returnPath, err := s.CompleteOAuth(ctx, "code-1", "state-1")
	require.NoError(t, err)
	assert.Equal(t, "/organizations/7", returnPath)
	assert.Equal(t, "tok-gh", s.AccessToken())
}

func TestStore_CompleteOAuthSuperseded(t *testing.T) {
	gh := testutil.NewSession("tok-gh", "u9", "gh@example.com")
	refreshed := testutil.NewSession("tok-gh-2", "u9", "gh@example.com")

	tests := []struct {
		name      string
		sequenced bool
		next      *auth.Session
		reason    auth.Reason
		wantToken string
	}{
		{name: "refreshed right after", next: refreshed, reason: auth.ReasonRefreshed, wantToken: "tok-gh-2"},
		{name: "signed out right after", next: nil, reason: auth.ReasonSignedOut},
		{name: "sequenced refresh", sequenced: true, next: refreshed, reason: auth.ReasonRefreshed, wantToken: "tok-gh-2"},
		{name: "sequenced sign-out", sequenced: true, next: nil, reason: auth.ReasonSignedOut},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, p := newInitializedStore(t, nil)
			p.On("CompleteOAuth", mock.Anything, "code-1", "state-1").
				Run(func(mock.Arguments) {
					if tt.sequenced {
						p.SetSeq(2)
						p.PushSeq(gh, auth.ReasonOAuthCompleted, 1)
						p.PushSeq(tt.next, tt.reason, 2)
						return
					}
					p.Push(gh, auth.ReasonOAuthCompleted)
					p.Push(tt.next, tt.reason)
				}).
				Return(gh, "/organizations/7", nil).Once()

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			returnPath, err := s.CompleteOAuth(ctx, "code-1", "state-1")
			require.NoError(t, err)
			assert.Equal(t, "/organizations/7", returnPath)

			// The second change may still be in flight when the first one
			// satisfies the wait.
			require.Eventually(t, func() bool {
				return s.AccessToken() == tt.wantToken
			}, 2*time.Second, 10*time.Millisecond)
		})
	}
}

func TestStore_StaleEventAfterSignOut(t *testing.T) {
	p := testutil.NewMockProvider()
	p.SetSeq(1)
	p.On("GetSession", mock.Anything).Return(testutil.NewSession("tok-1", "u1", "ada@example.com"), nil).Once()
	p.On("SignOut", mock.Anything).Run(func(mock.Arguments) { p.SetSeq(3) }).Return(nil).Once()

	var mu sync.Mutex
	var tokens []string
	s := New(p, WithTransitionHook(func(from, to State, cause string) {
		mu.Lock()
		defer mu.Unlock()
		tokens = append(tokens, to.AccessToken())
	}))
	defer s.Close()
	s.Initialize(context.Background())

	ch, cancel := s.Subscribe()
	defer cancel()

	require.NoError(t, s.SignOut(context.Background()))

	// Refreshed before the sign-out, delivered after it.
	p.PushSeq(testutil.NewSession("tok-1b", "u1", "ada@example.com"), auth.ReasonRefreshed, 2)
	// A later change shows the stale one has been drained.
	p.PushSeq(testutil.NewSession("tok-2", "u2", "bob@example.com"), auth.ReasonSignedIn, 4)

	waitFor(t, ch, func(st State) bool { return st.AccessToken() == "tok-2" })

	// The hook runs after subscribers are notified.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(tokens) == 3
	}, 2*time.Second, 10*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"tok-1", "", "tok-2"}, tokens)
}

func TestStore_CompleteOAuthInvalidState(t *testing.T) {
	s, p := newInitializedStore(t, nil)
	p.On("CompleteOAuth", mock.Anything, "code-1", "forged").Return(nil, "", auth.ErrInvalidState).Once()

	_, err := s.CompleteOAuth(context.Background(), "code-1", "forged")
	assert.ErrorIs(t, err, auth.ErrInvalidState)
	assert.Equal(t, Unauthenticated, s.Phase())
}

func TestStore_ConcurrentReadersSeeConsistentState(t *testing.T) {
	s, p := newInitializedStore(t, nil)
	p.On("SignInWithPassword", mock.Anything, mock.Anything, mock.Anything).
		Return(testutil.NewSession("tok", "u1", "ada@example.com"), nil)
	p.On("SignOut", mock.Anything).Return(nil)

	ctx := context.Background()
	stop := make(chan struct{})
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				st := s.State()
				if (st.Session == nil) != (st.User == nil) {
					t.Error("session and user out of sync")
					return
				}
			}
		}()
	}

	for range 50 {
		_, err := s.SignIn(ctx, "ada@example.com", "secret1")
		require.NoError(t, err)
		require.NoError(t, s.SignOut(ctx))
	}
	close(stop)
	wg.Wait()
}

func waitFor(t *testing.T, ch <-chan State, cond func(State) bool) State {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case st := <-ch:
			if cond(st) {
				return st
			}
		case <-timeout:
			t.Fatal("timed out waiting for state")
			return State{}
		}
	}
}
