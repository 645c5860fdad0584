// Package session holds the process-wide session state and mediates every
// sign-in, sign-up, sign-out and provider-pushed change.
//
// A Store is constructed once by the application wiring and handed to the
// request dispatcher, the route gate and the front-ends. Nothing else writes
// session state.
//
// Ordering: explicit actions and provider events are applied under one mutex
// in the order they resolve. Whatever resolves last wins. Each application
// bumps State.Generation so an observer can tell that a decision it made on an
// older snapshot has been superseded. When the provider sequences its events
// (auth.Sequencer), an event older than the provider state an explicit action
// or a later event has already reported is dropped instead of applied.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dgellow/orgctl/internal/auth"
	"github.com/dgellow/orgctl/internal/log"
)

// ErrNotInitialized is returned by actions invoked before Initialize has
// resolved the bootstrap query.
var ErrNotInitialized = errors.New("session store not initialized")

// SignUpResult distinguishes an active registration from one awaiting email
// confirmation.
type SignUpResult struct {
	Session             *auth.Session
	ConfirmationPending bool
}

// TransitionFunc observes every applied transition.
type TransitionFunc func(from, to State, cause string)

type Store struct {
	provider auth.Provider

	mu    sync.RWMutex
	state State
	// seenSeq is the newest provider sequence reflected in state.
	seenSeq uint64

	initOnce sync.Once
	ready    chan struct{}

	subsMu  sync.Mutex
	subs    map[int]chan State
	nextSub int

	done      chan struct{}
	closeOnce sync.Once

	onTransition TransitionFunc
}

type Option func(*Store)

// WithTransitionHook registers fn to run after each transition. fn runs
// outside the store's lock and must not block.
func WithTransitionHook(fn TransitionFunc) Option {
	return func(s *Store) {
		s.onTransition = fn
	}
}

func New(provider auth.Provider, opts ...Option) *Store {
	s := &Store{
		provider: provider,
		state:    State{Loading: true},
		ready:    make(chan struct{}),
		subs:     make(map[int]chan State),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initialize resolves the bootstrap query and starts applying provider
// events. It runs once per Store; later callers block until the first call
// has finished. A failed query is logged and treated as signed out.
func (s *Store) Initialize(ctx context.Context) {
	s.initOnce.Do(func() {
		sess, err := s.provider.GetSession(ctx)
		if err != nil {
			log.LogWarnWithFields("session", "Bootstrap query failed, continuing signed out", map[string]any{
				"error": err.Error(),
			})
			sess = nil
		}
		s.apply(sess, "bootstrap", s.providerSeq())
		close(s.ready)
		go s.drain(s.provider.Events())
	})
}

// Ready is closed once Loading has become false.
func (s *Store) Ready() <-chan struct{} {
	return s.ready
}

func (s *Store) initialized() bool {
	select {
	case <-s.ready:
		return true
	default:
		return false
	}
}

// Close stops applying provider events.
func (s *Store) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *Store) drain(events <-chan auth.Event) {
	for {
		select {
		case ev := <-events:
			s.applyEvent(ev)
		case <-s.done:
			return
		}
	}
}

// providerSeq reads the provider's current sequence, zero when the provider
// does not sequence its events.
func (s *Store) providerSeq() uint64 {
	if sq, ok := s.provider.(auth.Sequencer); ok {
		return sq.Seq()
	}
	return 0
}

// applyEvent applies a pushed change unless the provider has reported a newer
// state since it was produced.
func (s *Store) applyEvent(ev auth.Event) {
	cause := "event:" + string(ev.Reason)
	s.mu.Lock()
	if ev.Seq != 0 && ev.Seq < s.seenSeq {
		seen := s.seenSeq
		s.mu.Unlock()
		log.LogDebugWithFields("session", "Dropping stale provider event", map[string]any{
			"cause": cause,
			"seq":   ev.Seq,
			"seen":  seen,
		})
		return
	}
	s.applyLocked(ev.Session, cause, ev.Seq)
}

// apply replaces the state atomically. seq is the provider sequence the new
// state reflects, or zero.
func (s *Store) apply(sess *auth.Session, cause string, seq uint64) State {
	s.mu.Lock()
	return s.applyLocked(sess, cause, seq)
}

// applyLocked is apply with s.mu already held; it releases the lock.
// Subscribers are notified while the write lock is held so they observe
// generations in order.
func (s *Store) applyLocked(sess *auth.Session, cause string, seq uint64) State {
	from := s.state
	to := newState(sess, false, from.Generation+1)
	s.state = to
	s.seenSeq = max(s.seenSeq, seq)
	s.notifyLocked(to)
	s.mu.Unlock()

	log.LogTraceWithFields("session", "Transition applied", map[string]any{
		"from":       from.Phase().String(),
		"to":         to.Phase().String(),
		"cause":      cause,
		"generation": to.Generation,
	})
	if s.onTransition != nil {
		s.onTransition(from.copy(), to.copy(), cause)
	}
	return to.copy()
}

// State returns a snapshot.
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.copy()
}

// AccessToken is a pure read of the current bearer token.
func (s *Store) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.AccessToken()
}

func (s *Store) Phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Phase()
}

func (s *Store) Authenticated() bool {
	return s.Phase() == Authenticated
}

// SignIn adopts the provider's session on success. On failure the state is
// left untouched and the provider error is returned.
func (s *Store) SignIn(ctx context.Context, email, password string) (*auth.Session, error) {
	if !s.initialized() {
		return nil, ErrNotInitialized
	}
	sess, err := s.provider.SignInWithPassword(ctx, email, password)
	if err != nil {
		return nil, fmt.Errorf("sign-in: %w", err)
	}
	s.apply(sess, "sign-in", s.providerSeq())
	return sess.Clone(), nil
}

// SignUp registers an account. The state changes only when the provider
// returned an active session.
func (s *Store) SignUp(ctx context.Context, email, password string) (SignUpResult, error) {
	if !s.initialized() {
		return SignUpResult{}, ErrNotInitialized
	}
	sess, err := s.provider.SignUp(ctx, email, password)
	if err != nil {
		return SignUpResult{}, fmt.Errorf("sign-up: %w", err)
	}
	if sess == nil {
		return SignUpResult{ConfirmationPending: true}, nil
	}
	s.apply(sess, "sign-up", s.providerSeq())
	return SignUpResult{Session: sess.Clone()}, nil
}

// SignOut clears the session even when the provider call fails, then
// returns that failure.
func (s *Store) SignOut(ctx context.Context) error {
	if !s.initialized() {
		return ErrNotInitialized
	}
	err := s.provider.SignOut(ctx)
	s.apply(nil, "sign-out", s.providerSeq())
	if err != nil {
		return fmt.Errorf("sign-out: %w", err)
	}
	return nil
}

// SignInWithOAuth returns the URL the operator must visit. The session
// arrives later as a provider event.
func (s *Store) SignInWithOAuth(ctx context.Context, provider, returnPath string) (string, error) {
	return s.provider.SignInWithOAuth(ctx, provider, returnPath)
}

// CompleteOAuth finishes an OAuth flow and waits until the store has caught
// up with it, so a caller redirecting afterwards sees the new session or
// whatever has replaced it since.
func (s *Store) CompleteOAuth(ctx context.Context, code, state string) (string, error) {
	if !s.initialized() {
		return "", ErrNotInitialized
	}
	ch, cancel := s.Subscribe()
	defer cancel()
	start := s.State().Generation

	sess, returnPath, err := s.provider.CompleteOAuth(ctx, code, state)
	if err != nil {
		return "", fmt.Errorf("oauth: %w", err)
	}
	target := s.providerSeq()
	for {
		if s.caughtUp(start, target, sess.AccessToken) {
			return returnPath, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return returnPath, ctx.Err()
		}
	}
}

// caughtUp reports whether state holds token, or has moved past generation
// start and reflects provider sequence target.
func (s *Store) caughtUp(start, target uint64, token string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state.Session != nil && s.state.Session.AccessToken == token {
		return true
	}
	return s.state.Generation > start && s.seenSeq >= target
}

// Subscribe returns a channel receiving the latest state after each
// transition. Slow readers only see the most recent snapshot. cancel
// unsubscribes; the channel is not closed.
func (s *Store) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)

	s.subsMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subsMu.Lock()
			delete(s.subs, id)
			s.subsMu.Unlock()
		})
	}
}

func (s *Store) notifyLocked(st State) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, ch := range s.subs {
		snapshot := st.copy()
		select {
		case ch <- snapshot:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snapshot:
			default:
			}
		}
	}
}
