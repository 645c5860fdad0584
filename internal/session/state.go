package session

import "github.com/dgellow/orgctl/internal/auth"

// Phase is the store's position in its state machine.
type Phase int

const (
	Bootstrapping Phase = iota
	Unauthenticated
	Authenticated
)

func (p Phase) String() string {
	switch p {
	case Bootstrapping:
		return "bootstrapping"
	case Unauthenticated:
		return "unauthenticated"
	case Authenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// State is an immutable snapshot of the store. User is always derived from
// Session in the same replacement and is nil exactly when Session is nil.
type State struct {
	Session *auth.Session
	User    *auth.User
	// Loading is true only until the bootstrap query resolves.
	Loading bool
	// Generation increases by one on every applied transition.
	Generation uint64
}

func (s State) Phase() Phase {
	switch {
	case s.Loading:
		return Bootstrapping
	case s.Session == nil:
		return Unauthenticated
	default:
		return Authenticated
	}
}

// AccessToken returns the bearer token, or "" when signed out.
func (s State) AccessToken() string {
	if s.Session == nil {
		return ""
	}
	return s.Session.AccessToken
}

func newState(sess *auth.Session, loading bool, generation uint64) State {
	st := State{Loading: loading, Generation: generation}
	if sess != nil {
		st.Session = sess.Clone()
		u := st.Session.User
		st.User = &u
	}
	return st
}

// copy detaches a snapshot from the store's own pointers.
func (s State) copy() State {
	return newState(s.Session, s.Loading, s.Generation)
}
