package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dgellow/orgctl/internal"
	"github.com/dgellow/orgctl/internal/config"
	"github.com/dgellow/orgctl/internal/testutil"
	"github.com/stretchr/testify/require"
)

// stack is one orgctl process wired against a fosite auth server and the
// in-memory organization backend, with the console served over HTTP.
type stack struct {
	auth    *FakeAuthServer
	backend *testutil.OrgBackend
	config  config.Config
	app     *internal.App
	console *httptest.Server
}

type stackOptions struct {
	auth          FakeAuthOptions
	refreshMargin time.Duration
}

func newStack(t *testing.T, opts stackOptions) *stack {
	t.Helper()
	authServer := NewFakeAuthServer(t, opts.auth)
	backend := testutil.NewOrgBackend(t)
	backend.VerifyWith(authServer.Verify)

	s := &stack{auth: authServer, backend: backend}

	// The console's URL must be known before the app is configured, so the
	// handler is attached once the app exists.
	var handler http.Handler = http.NotFoundHandler()
	s.console = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(s.console.Close)

	cfg := config.Default()
	cfg.API.BaseURL = backend.BaseURL()
	cfg.API.Timeout = 5 * time.Second
	cfg.Auth.URL = authServer.URL
	cfg.Auth.ClientID = fakeClientID
	cfg.Auth.Scopes = []string{"offline"}
	cfg.Auth.RedirectURI = s.console.URL + "/auth/callback"
	cfg.Auth.StateKey = "integration-state-key-0123456789abcdef"
	if opts.refreshMargin > 0 {
		cfg.Auth.RefreshMargin = opts.refreshMargin
	}
	cfg.Persistence.Kind = config.PersistenceFile
	cfg.Persistence.Path = t.TempDir()
	cfg.Persistence.Profile = "integration"
	cfg.Persistence.EncryptionKey = "integration-encryption-key-0123456789"
	require.NoError(t, config.ValidateConfig(&cfg))
	s.config = cfg

	authServer.RegisterClient(cfg.Auth.RedirectURI)

	s.app = s.newApp(t)
	console, err := s.app.Console()
	require.NoError(t, err)
	handler = console.Handler()
	return s
}

// newApp builds another process over the same configuration, as a second
// orgctl invocation would.
func (s *stack) newApp(t *testing.T) *internal.App {
	t.Helper()
	app, err := internal.NewApp(context.Background(), s.config, "integration")
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })
	return app
}

// browser does not follow redirects so tests can assert on each hop.
func browser() *http.Client {
	return &http.Client{
		Timeout: 10 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func get(t *testing.T, client *http.Client, url, accept string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	resp, err := client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}
