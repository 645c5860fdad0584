// Package gate decides whether a protected view may render for the current
// session state. It holds no state; callers re-evaluate on every navigation
// and on every session change.
package gate

import (
	"net/url"

	"github.com/dgellow/orgctl/internal/session"
	"github.com/dgellow/orgctl/internal/urlutil"
)

const (
	DefaultSignInPath = "/login"
	DefaultReturnPath = "/organizations"

	// ReturnParam carries the originally requested path to the sign-in view.
	ReturnParam = "from"
)

type Outcome int

const (
	// Render lets the requested view through.
	Render Outcome = iota
	// Interstitial holds the view while the bootstrap query is outstanding.
	Interstitial
	// Redirect sends the caller to sign in.
	Redirect
)

func (o Outcome) String() string {
	switch o {
	case Render:
		return "render"
	case Interstitial:
		return "interstitial"
	case Redirect:
		return "redirect"
	default:
		return "unknown"
	}
}

type Decision struct {
	Outcome Outcome
	// Target is the sign-in path for Redirect.
	Target string
	// ReturnTo is the path to resume after sign-in.
	ReturnTo string
}

type Options struct {
	SignInPath string
}

func (o Options) signInPath() string {
	if o.SignInPath == "" {
		return DefaultSignInPath
	}
	return o.SignInPath
}

func Decide(state session.State, requestedPath string, opts Options) Decision {
	switch {
	case state.Loading:
		return Decision{Outcome: Interstitial}
	case state.Session == nil:
		return Decision{
			Outcome:  Redirect,
			Target:   opts.signInPath(),
			ReturnTo: requestedPath,
		}
	default:
		return Decision{Outcome: Render}
	}
}

// RedirectURL renders a Redirect decision as a location, carrying ReturnTo
// in the "from" query parameter. Other outcomes yield "".
func RedirectURL(d Decision) string {
	if d.Outcome != Redirect {
		return ""
	}
	if d.ReturnTo == "" || !urlutil.IsLocalPath(d.ReturnTo) {
		return d.Target
	}
	return d.Target + "?" + url.Values{ReturnParam: {d.ReturnTo}}.Encode()
}

// ReturnPath picks the post-sign-in destination. Only same-origin absolute
// paths are honoured; anything else yields fallback, or DefaultReturnPath
// when fallback is empty.
func ReturnPath(from, fallback string) string {
	if urlutil.IsLocalPath(from) {
		return from
	}
	if fallback == "" {
		return DefaultReturnPath
	}
	return fallback
}
