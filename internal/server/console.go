package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/dgellow/orgctl/internal/auth"
	"github.com/dgellow/orgctl/internal/crypto"
	"github.com/dgellow/orgctl/internal/gate"
	"github.com/dgellow/orgctl/internal/organization"
	"github.com/dgellow/orgctl/internal/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	signUpPath   = "/signup"
	callbackPath = "/auth/callback"
	csrfTTL      = time.Hour
)

// SessionStore is the part of *session.Store the console drives.
type SessionStore interface {
	StateReader
	SignIn(ctx context.Context, email, password string) (*auth.Session, error)
	SignUp(ctx context.Context, email, password string) (session.SignUpResult, error)
	SignOut(ctx context.Context) error
	SignInWithOAuth(ctx context.Context, provider, returnPath string) (string, error)
	CompleteOAuth(ctx context.Context, code, state string) (string, error)
	Subscribe() (<-chan session.State, func())
}

// Organizations is implemented by *organization.Client.
type Organizations interface {
	List(ctx context.Context, opts organization.ListOptions) ([]organization.Organization, error)
	Get(ctx context.Context, id int) (*organization.Organization, error)
	Create(ctx context.Context, in organization.Input) (*organization.Organization, error)
	Update(ctx context.Context, id int, in organization.Input) (*organization.Organization, error)
	Delete(ctx context.Context, id int) error
}

type ConsoleOptions struct {
	SignInPath        string
	DefaultReturnPath string
	OAuthProviders    []string
	AllowedOrigins    []string
	// CSRFKey signs form tokens. An ephemeral key is generated when empty.
	CSRFKey []byte
	// Gatherer is exposed at /metrics when set.
	Gatherer prometheus.Gatherer
}

// Console serves the local browser front-end: sign-in, sign-up, OAuth
// callback and the gated organization routes.
type Console struct {
	store SessionStore
	orgs  Organizations
	csrf  *crypto.CSRFProtection
	opts  ConsoleOptions
}

func NewConsole(store SessionStore, orgs Organizations, opts ConsoleOptions) (*Console, error) {
	if opts.SignInPath == "" {
		opts.SignInPath = gate.DefaultSignInPath
	}
	if opts.DefaultReturnPath == "" {
		opts.DefaultReturnPath = gate.DefaultReturnPath
	}
	key := opts.CSRFKey
	if len(key) == 0 {
		generated, err := crypto.GenerateKey(32)
		if err != nil {
			return nil, fmt.Errorf("generating csrf key: %w", err)
		}
		key = generated
	}
	return &Console{
		store: store,
		orgs:  orgs,
		csrf:  crypto.NewCSRFProtection(key, csrfTTL),
		opts:  opts,
	}, nil
}

// Handler builds the console's route table wrapped in the standard
// middleware chain.
func (c *Console) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /health", NewHealthHandler())
	if c.opts.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(c.opts.Gatherer, promhttp.HandlerOpts{}))
	}

	mux.HandleFunc("GET "+c.opts.SignInPath, c.handleLoginPage)
	mux.HandleFunc("POST "+c.opts.SignInPath, c.handleLogin)
	mux.HandleFunc("GET "+signUpPath, c.handleSignupPage)
	mux.HandleFunc("POST "+signUpPath, c.handleSignup)
	mux.HandleFunc("GET "+callbackPath, c.handleOAuthCallback)
	mux.HandleFunc("GET /auth/{provider}", c.handleOAuthStart)
	mux.HandleFunc("POST /logout", c.handleLogout)
	mux.HandleFunc("GET /api/session", c.handleSession)
	mux.HandleFunc("GET /api/session/events", c.handleSessionEvents)

	gated := NewGateMiddleware(c.store, gate.Options{SignInPath: c.opts.SignInPath})
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, c.opts.DefaultReturnPath, http.StatusFound)
	})
	mux.Handle("GET /organizations", gated(http.HandlerFunc(c.handleListOrganizations)))
	mux.Handle("POST /organizations", gated(requireJSONBody(c.handleCreateOrganization)))
	mux.Handle("GET /organizations/{id}", gated(http.HandlerFunc(c.handleGetOrganization)))
	mux.Handle("PUT /organizations/{id}", gated(requireJSONBody(c.handleUpdateOrganization)))
	mux.Handle("DELETE /organizations/{id}", gated(http.HandlerFunc(c.handleDeleteOrganization)))

	return ChainMiddleware(mux,
		NewSecurityHeadersMiddleware(),
		NewCORSMiddleware(c.opts.AllowedOrigins),
		NewLoggerMiddleware("console"),
		NewRecoverMiddleware("console"),
	)
}

// Banner is printed when the console starts.
func Banner(addr string) string {
	return figure.NewFigure("orgctl", "cybermedium", true).String() + "\n  console listening on http://" + addr + "\n"
}
