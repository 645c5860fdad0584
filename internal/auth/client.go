package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/dgellow/orgctl/internal/crypto"
	"github.com/dgellow/orgctl/internal/log"
	"github.com/dgellow/orgctl/internal/storage"
	"github.com/dgellow/orgctl/internal/urlutil"
	"golang.org/x/oauth2"
)

// Options configures a Client.
type Options struct {
	// URL is the provider base, e.g. https://project.supabase.co/auth/v1
	URL         string
	ClientID    string
	APIKey      string
	RedirectURI string
	Scopes      []string
	// OAuthProviders lists the external providers SignInWithOAuth accepts.
	OAuthProviders []string

	RefreshMargin time.Duration
	RefreshRetry  time.Duration
	StateKey      []byte

	Store   storage.SessionStore
	Profile string

	HTTPClient *http.Client
}

// Client implements Provider against a GoTrue-compatible HTTP API.
type Client struct {
	opts       Options
	oauth      oauth2.Config
	httpClient *http.Client
	signer     *crypto.TokenSigner

	mu      sync.Mutex
	current *Session
	seq     uint64 // bumped whenever current is replaced
	timer   *time.Timer
	pending map[string]pendingOAuth

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once

	now func() time.Time
}

var (
	_ Provider  = (*Client)(nil)
	_ Sequencer = (*Client)(nil)
)

type pendingOAuth struct {
	verifier string
	created  time.Time
}

type oauthState struct {
	Nonce      string `json:"n"`
	Provider   string `json:"p"`
	ReturnPath string `json:"r,omitempty"`
}

const (
	eventBuffer   = 16
	oauthStateTTL = 10 * time.Minute
)

func NewClient(opts Options) (*Client, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("auth URL is required")
	}
	if opts.Store == nil {
		opts.Store = storage.NewMemoryStorage()
	}
	if opts.Profile == "" {
		opts.Profile = "default"
	}
	if opts.RefreshMargin <= 0 {
		opts.RefreshMargin = time.Minute
	}
	if opts.RefreshRetry <= 0 {
		opts.RefreshRetry = 15 * time.Second
	}
	if len(opts.OAuthProviders) == 0 {
		opts.OAuthProviders = []string{"github"}
	}
	if len(opts.StateKey) == 0 {
		key, err := crypto.GenerateKey(32)
		if err != nil {
			return nil, err
		}
		opts.StateKey = key
	}

	base := opts.HTTPClient
	if base == nil {
		base = &http.Client{Timeout: 30 * time.Second}
	}
	httpClient := *base
	transport := httpClient.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	httpClient.Transport = &apiKeyTransport{apiKey: opts.APIKey, base: transport}

	tokenURL, err := urlutil.JoinPath(opts.URL, "token")
	if err != nil {
		return nil, fmt.Errorf("invalid auth URL: %w", err)
	}

	return &Client{
		opts: opts,
		oauth: oauth2.Config{
			ClientID:    opts.ClientID,
			RedirectURL: opts.RedirectURI,
			Scopes:      opts.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   urlutil.MustJoinPath(opts.URL, "authorize"),
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient: &httpClient,
		signer:     crypto.NewTokenSigner(opts.StateKey, oauthStateTTL),
		pending:    make(map[string]pendingOAuth),
		events:     make(chan Event, eventBuffer),
		done:       make(chan struct{}),
		now:        time.Now,
	}, nil
}

// apiKeyTransport adds the provider's public API key to every call.
type apiKeyTransport struct {
	apiKey string
	base   http.RoundTripper
}

func (t *apiKeyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.apiKey == "" {
		return t.base.RoundTrip(req)
	}
	r := req.Clone(req.Context())
	r.Header.Set("apikey", t.apiKey)
	return t.base.RoundTrip(r)
}

func (c *Client) Events() <-chan Event {
	return c.events
}

func (c *Client) Seq() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Close stops the refresh timer. Pending event sends are abandoned.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		if c.timer != nil {
			c.timer.Stop()
		}
		c.mu.Unlock()
		close(c.done)
	})
	return nil
}

func (c *Client) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

// GetSession returns the held session or, on first use, the persisted one.
// An expired persisted session is refreshed before it is returned; one whose
// refresh is rejected is discarded.
func (c *Client) GetSession(ctx context.Context) (*Session, error) {
	c.mu.Lock()
	if c.current != nil {
		s := c.current.Clone()
		c.mu.Unlock()
		return s, nil
	}
	c.mu.Unlock()

	ps, err := c.opts.Store.Load(ctx, c.opts.Profile)
	if errors.Is(err, storage.ErrSessionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading persisted session: %w", err)
	}
	s := fromPersisted(ps)

	if s.Expired(c.now(), c.opts.RefreshMargin) {
		if s.RefreshToken == "" {
			c.forget(ctx)
			return nil, nil
		}
		refreshed, err := c.refresh(ctx, s.RefreshToken)
		if IsAuthenticationError(err) {
			log.LogInfoWithFields("auth", "Persisted session rejected on refresh", map[string]any{
				"profile": c.opts.Profile,
			})
			c.forget(ctx)
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		s = refreshed
	}

	c.adopt(ctx, s)
	return s.Clone(), nil
}

func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	tok, err := c.oauth.PasswordCredentialsToken(c.oauthContext(ctx), email, password)
	if err != nil {
		return nil, classifyTokenError("password sign-in", err)
	}
	s, err := c.sessionFromToken(ctx, tok)
	if err != nil {
		return nil, err
	}
	c.adopt(ctx, s)
	log.LogInfoWithFields("auth", "Signed in with password", map[string]any{"user": s.User.Email})
	return s.Clone(), nil
}

func (c *Client) SignUp(ctx context.Context, email, password string) (*Session, error) {
	s, err := c.signUp(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if s == nil {
		log.LogInfoWithFields("auth", "Sign-up pending email confirmation", map[string]any{"email": email})
		return nil, nil
	}
	c.adopt(ctx, s)
	return s.Clone(), nil
}

// SignOut revokes the session at the provider, then forgets it locally
// whether or not revocation succeeded.
func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	var token string
	if c.current != nil {
		token = c.current.AccessToken
	}
	c.mu.Unlock()

	var err error
	if token != "" {
		err = c.logout(ctx, token)
	}
	c.forget(ctx)
	return err
}

func (c *Client) SignInWithOAuth(_ context.Context, provider, returnPath string) (string, error) {
	if !slices.Contains(c.opts.OAuthProviders, provider) {
		return "", fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}

	nonce, err := crypto.GenerateSecureToken()
	if err != nil {
		return "", err
	}
	state, err := c.signer.Sign(oauthState{Nonce: nonce, Provider: provider, ReturnPath: returnPath})
	if err != nil {
		return "", fmt.Errorf("signing oauth state: %w", err)
	}
	verifier := oauth2.GenerateVerifier()

	c.mu.Lock()
	c.prunePendingLocked()
	c.pending[nonce] = pendingOAuth{verifier: verifier, created: c.now()}
	c.mu.Unlock()

	opts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("provider", provider),
		oauth2.S256ChallengeOption(verifier),
	}
	if c.opts.RedirectURI != "" {
		opts = append(opts, oauth2.SetAuthURLParam("redirect_to", c.opts.RedirectURI))
	}
	return c.oauth.AuthCodeURL(state, opts...), nil
}

// CompleteOAuth finishes a flow begun by SignInWithOAuth. The new session is
// also pushed on Events, which is how the session store learns about it.
func (c *Client) CompleteOAuth(ctx context.Context, code, state string) (*Session, string, error) {
	var st oauthState
	if err := c.signer.Verify(state, &st); err != nil {
		return nil, "", ErrInvalidState
	}

	c.mu.Lock()
	p, ok := c.pending[st.Nonce]
	delete(c.pending, st.Nonce)
	c.mu.Unlock()
	if !ok {
		return nil, "", ErrInvalidState
	}

	tok, err := c.oauth.Exchange(c.oauthContext(ctx), code, oauth2.VerifierOption(p.verifier))
	if err != nil {
		return nil, "", classifyTokenError("oauth code exchange", err)
	}
	s, err := c.sessionFromToken(ctx, tok)
	if err != nil {
		return nil, "", err
	}

	seq := c.adopt(ctx, s)
	c.emit(Event{Session: s.Clone(), Reason: ReasonOAuthCompleted, Seq: seq})
	log.LogInfoWithFields("auth", "OAuth sign-in completed", map[string]any{
		"provider": st.Provider,
		"user":     s.User.Email,
	})
	return s.Clone(), st.ReturnPath, nil
}

func (c *Client) prunePendingLocked() {
	cutoff := c.now().Add(-oauthStateTTL)
	for k, p := range c.pending {
		if p.created.Before(cutoff) {
			delete(c.pending, k)
		}
	}
}

// adopt makes s the held session, persists it and schedules its refresh.
// It returns the sequence s was stamped with.
func (c *Client) adopt(ctx context.Context, s *Session) uint64 {
	c.mu.Lock()
	c.replaceLocked(s)
	seq := c.seq
	c.mu.Unlock()
	c.persist(ctx, s)
	return seq
}

// forget drops the held session and its persisted copy.
func (c *Client) forget(ctx context.Context) {
	c.mu.Lock()
	c.clearLocked()
	c.mu.Unlock()
	c.unpersist(ctx)
}

func (c *Client) replaceLocked(s *Session) {
	c.current = s.Clone()
	c.seq++
	c.scheduleRefreshLocked(c.seq)
}

func (c *Client) clearLocked() {
	c.current = nil
	c.seq++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Client) persist(ctx context.Context, s *Session) {
	if err := c.opts.Store.Save(ctx, c.opts.Profile, toPersisted(s)); err != nil {
		log.LogWarnWithFields("auth", "Failed to persist session", map[string]any{
			"profile": c.opts.Profile,
			"error":   err.Error(),
		})
	}
}

func (c *Client) unpersist(ctx context.Context) {
	if err := c.opts.Store.Delete(ctx, c.opts.Profile); err != nil {
		log.LogWarnWithFields("auth", "Failed to delete persisted session", map[string]any{
			"profile": c.opts.Profile,
			"error":   err.Error(),
		})
	}
}

func (c *Client) emit(ev Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func toPersisted(s *Session) *storage.PersistedSession {
	return &storage.PersistedSession{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		TokenType:    s.TokenType,
		ExpiresAt:    s.ExpiresAt,
		UserID:       s.User.ID,
		UserEmail:    s.User.Email,
	}
}

func fromPersisted(ps *storage.PersistedSession) *Session {
	return &Session{
		AccessToken:  ps.AccessToken,
		RefreshToken: ps.RefreshToken,
		TokenType:    ps.TokenType,
		ExpiresAt:    ps.ExpiresAt,
		User:         User{ID: ps.UserID, Email: ps.UserEmail},
	}
}
