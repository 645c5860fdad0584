package gate

import (
	"net/url"
	"testing"

	"github.com/dgellow/orgctl/internal/session"
	"github.com/dgellow/orgctl/internal/testutil"
	"github.com/stretchr/testify/assert"
)

func authenticated() session.State {
	s := testutil.NewSession("tok", "u1", "ada@example.com")
	u := s.User
	return session.State{Session: s, User: &u, Generation: 2}
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name  string
		state session.State
		path  string
		opts  Options
		want  Decision
	}{
		{
			name:  "bootstrapping never redirects",
			state: session.State{Loading: true},
			path:  "/organizations/42",
			want:  Decision{Outcome: Interstitial},
		},
		{
			name:  "bootstrapping with a session still waits",
			state: func() session.State { s := authenticated(); s.Loading = true; return s }(),
			path:  "/organizations",
			want:  Decision{Outcome: Interstitial},
		},
		{
			name:  "signed out preserves destination",
			state: session.State{Generation: 1},
			path:  "/organizations/42",
			want:  Decision{Outcome: Redirect, Target: "/login", ReturnTo: "/organizations/42"},
		},
		{
			name:  "custom sign-in path",
			state: session.State{Generation: 1},
			path:  "/organizations",
			opts:  Options{SignInPath: "/signin"},
			want:  Decision{Outcome: Redirect, Target: "/signin", ReturnTo: "/organizations"},
		},
		{
			name:  "authenticated renders",
			state: authenticated(),
			path:  "/organizations/42",
			want:  Decision{Outcome: Render},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Decide(tt.state, tt.path, tt.opts))
		})
	}
}

func TestRedirectPreservesReturnPath(t *testing.T) {
	d := Decide(session.State{Generation: 1}, "/organizations/42", Options{})
	loc := RedirectURL(d)
	assert.Equal(t, "/login?from=%2Forganizations%2F42", loc)

	u, err := url.Parse(loc)
	assert.NoError(t, err)
	from := u.Query().Get(ReturnParam)
	assert.Equal(t, "/organizations/42", ReturnPath(from, ""))
}

func TestRedirectURL(t *testing.T) {
	tests := []struct {
		name string
		d    Decision
		want string
	}{
		{name: "render", d: Decision{Outcome: Render}, want: ""},
		{name: "interstitial", d: Decision{Outcome: Interstitial}, want: ""},
		{name: "no return path", d: Decision{Outcome: Redirect, Target: "/login"}, want: "/login"},
		{name: "query preserved", d: Decision{Outcome: Redirect, Target: "/login", ReturnTo: "/organizations?q=acme"}, want: "/login?from=%2Forganizations%3Fq%3Dacme"},
		{name: "foreign return dropped", d: Decision{Outcome: Redirect, Target: "/login", ReturnTo: "https://evil.example"}, want: "/login"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RedirectURL(tt.d))
		})
	}
}

func TestReturnPath(t *testing.T) {
	tests := []struct {
		from     string
		fallback string
		want     string
	}{
		{from: "/organizations/42", want: "/organizations/42"},
		{from: "", want: "/organizations"},
		{from: "", fallback: "/home", want: "/home"},
		{from: "//evil.example/x", want: "/organizations"},
		{from: "https://evil.example", want: "/organizations"},
		{from: `/\evil.example`, want: "/organizations"},
		{from: "organizations", want: "/organizations"},
	}
	for _, tt := range tests {
		t.Run(tt.from, func(t *testing.T) {
			assert.Equal(t, tt.want, ReturnPath(tt.from, tt.fallback))
		})
	}
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "render", Render.String())
	assert.Equal(t, "interstitial", Interstitial.String())
	assert.Equal(t, "redirect", Redirect.String())
}
