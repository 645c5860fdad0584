package integration

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ory/fosite"
	"github.com/ory/fosite/compose"
	fositestorage "github.com/ory/fosite/storage"
)

const (
	fakeClientID = "orgctl"
	fakeSecret   = "integration-hmac-secret-at-least-32-bytes"
)

type fakeUser struct {
	ID       string
	Email    string
	password string
}

// FakeAuthOptions tunes the fake authorization server.
type FakeAuthOptions struct {
	AccessTokenLifespan time.Duration
	// AutoConfirm makes /signup return an active session instead of
	// waiting for Confirm.
	AutoConfirm bool
}

// FakeAuthServer speaks the GoTrue subset orgctl uses, with fosite doing
// the OAuth 2.0 work: password, refresh_token and authorization_code
// grants at /token, plus /authorize, /signup, /user and /logout.
type FakeAuthServer struct {
	*httptest.Server

	provider fosite.OAuth2Provider
	store    *fositestorage.MemoryStore
	opts     FakeAuthOptions

	// mu guards users and the MemoryStore's client and user maps, which
	// are written directly. Grant handling holds the read side.
	mu        sync.RWMutex
	users     map[string]*fakeUser
	nextID    int
	oauthUser string
}

func NewFakeAuthServer(t *testing.T, opts FakeAuthOptions) *FakeAuthServer {
	t.Helper()
	if opts.AccessTokenLifespan == 0 {
		opts.AccessTokenLifespan = time.Hour
	}

	s := &FakeAuthServer{
		store:  fositestorage.NewMemoryStore(),
		opts:   opts,
		users:  make(map[string]*fakeUser),
		nextID: 1,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", s.handleToken)
	mux.HandleFunc("GET /authorize", s.handleAuthorize)
	mux.HandleFunc("POST /signup", s.handleSignup)
	mux.HandleFunc("GET /user", s.handleUser)
	mux.HandleFunc("POST /logout", s.handleLogout)
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)

	fositeConfig := &fosite.Config{
		GlobalSecret:                   []byte(fakeSecret),
		AccessTokenLifespan:            opts.AccessTokenLifespan,
		RefreshTokenLifespan:           24 * time.Hour,
		AuthorizeCodeLifespan:          10 * time.Minute,
		TokenURL:                       s.URL + "/token",
		ScopeStrategy:                  fosite.HierarchicScopeStrategy,
		AudienceMatchingStrategy:       fosite.DefaultAudienceMatchingStrategy,
		EnforcePKCEForPublicClients:    true,
		EnablePKCEPlainChallengeMethod: false,
		MinParameterEntropy:            8,
	}
	s.provider = compose.Compose(
		fositeConfig,
		s.store,
		&compose.CommonStrategy{
			CoreStrategy: compose.NewOAuth2HMACStrategy(fositeConfig),
		},
		compose.OAuth2AuthorizeExplicitFactory,
		compose.OAuth2PKCEFactory,
		compose.OAuth2ResourceOwnerPasswordCredentialsFactory,
		compose.OAuth2RefreshTokenGrantFactory,
		compose.OAuth2TokenIntrospectionFactory,
	)

	s.RegisterClient("")
	return s
}

// RegisterClient (re)registers the public orgctl client. redirectURI is
// where /authorize sends the code.
func (s *FakeAuthServer) RegisterClient(redirectURI string) {
	var redirects []string
	if redirectURI != "" {
		redirects = []string{redirectURI}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store.Clients[fakeClientID] = &fosite.DefaultClient{
		ID:            fakeClientID,
		Public:        true,
		RedirectURIs:  redirects,
		GrantTypes:    []string{"password", "refresh_token", "authorization_code"},
		ResponseTypes: []string{"code"},
		Scopes:        []string{"offline"},
	}
}

func (s *FakeAuthServer) addUserLocked(email, password string) *fakeUser {
	u := &fakeUser{ID: fmt.Sprintf("user-%d", s.nextID), Email: email, password: password}
	s.nextID++
	s.users[email] = u
	return u
}

func (s *FakeAuthServer) activateLocked(u *fakeUser) {
	s.store.Users[u.Email] = fositestorage.MemoryUserRelation{Username: u.Email, Password: u.password}
}

// AddUser registers a confirmed account.
func (s *FakeAuthServer) AddUser(email, password string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.addUserLocked(email, password)
	s.activateLocked(u)
	return u.ID
}

// Confirm activates an account created through /signup.
func (s *FakeAuthServer) Confirm(email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[email]; ok {
		s.activateLocked(u)
	}
}

// SetOAuthUser picks who /authorize signs in, creating the account.
func (s *FakeAuthServer) SetOAuthUser(email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[email]; !ok {
		s.addUserLocked(email, "")
	}
	s.oauthUser = email
}

func userSession(u *fakeUser) *fosite.DefaultSession {
	return &fosite.DefaultSession{
		Subject:  u.ID,
		Username: u.Email,
		Extra:    map[string]any{"email": u.Email},
	}
}

func (s *FakeAuthServer) handleToken(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.issue(w, r)
}

// issue runs the token endpoint. Callers hold s.mu for reading.
func (s *FakeAuthServer) issue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ar, err := s.provider.NewAccessRequest(ctx, r, &fosite.DefaultSession{})
	if err != nil {
		s.provider.WriteAccessError(ctx, w, ar, err)
		return
	}

	if ar.GetGrantTypes().ExactOne("password") {
		u, ok := s.users[r.PostForm.Get("username")]
		if !ok {
			s.provider.WriteAccessError(ctx, w, ar, fosite.ErrInvalidGrant)
			return
		}
		// Keep the expiry the grant handler already stamped.
		sess := ar.GetSession().(*fosite.DefaultSession)
		sess.Subject = u.ID
		sess.Username = u.Email
		sess.Extra = map[string]any{"email": u.Email}
	}
	for _, scope := range ar.GetRequestedScopes() {
		ar.GrantScope(scope)
	}

	resp, err := s.provider.NewAccessResponse(ctx, ar)
	if err != nil {
		s.provider.WriteAccessError(ctx, w, ar, err)
		return
	}
	if sess, ok := ar.GetSession().(*fosite.DefaultSession); ok {
		resp.SetExtra("user", map[string]any{"id": sess.Subject, "email": sess.Username})
	}
	s.provider.WriteAccessResponse(ctx, w, ar, resp)
}

func (s *FakeAuthServer) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := r.Context()
	ar, err := s.provider.NewAuthorizeRequest(ctx, r)
	if err != nil {
		s.provider.WriteAuthorizeError(ctx, w, ar, err)
		return
	}
	u, ok := s.users[s.oauthUser]
	if !ok {
		s.provider.WriteAuthorizeError(ctx, w, ar, fosite.ErrAccessDenied)
		return
	}
	for _, scope := range ar.GetRequestedScopes() {
		ar.GrantScope(scope)
	}
	resp, err := s.provider.NewAuthorizeResponse(ctx, ar, userSession(u))
	if err != nil {
		s.provider.WriteAuthorizeError(ctx, w, ar, err)
		return
	}
	s.provider.WriteAuthorizeResponse(ctx, w, ar, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *FakeAuthServer) handleSignup(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"code": 400, "msg": "invalid JSON"})
		return
	}

	s.mu.Lock()
	if _, exists := s.users[body.Email]; exists {
		s.mu.Unlock()
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"code":       422,
			"error_code": "user_already_exists",
			"msg":        "User already registered",
		})
		return
	}
	u := s.addUserLocked(body.Email, body.Password)
	if s.opts.AutoConfirm {
		s.activateLocked(u)
	}
	s.mu.Unlock()

	if !s.opts.AutoConfirm {
		writeJSON(w, http.StatusOK, map[string]any{"id": u.ID, "email": u.Email})
		return
	}

	// An auto-confirmed account gets the same session a password grant
	// would produce.
	form := url.Values{
		"grant_type": {"password"},
		"client_id":  {fakeClientID},
		"username":   {body.Email},
		"password":   {body.Password},
		"scope":      {"offline"},
	}
	req := httptest.NewRequestWithContext(r.Context(), http.MethodPost, "/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()

	s.mu.RLock()
	s.issue(rec, req)
	s.mu.RUnlock()

	for k, v := range rec.Header() {
		w.Header()[k] = v
	}
	w.WriteHeader(rec.Code)
	_, _ = w.Write(rec.Body.Bytes())
}

func (s *FakeAuthServer) introspect(r *http.Request) (fosite.AccessRequester, bool) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || token == "" {
		return nil, false
	}
	_, ar, err := s.provider.IntrospectToken(r.Context(), token, fosite.AccessToken, &fosite.DefaultSession{})
	if err != nil {
		return nil, false
	}
	return ar, true
}

func (s *FakeAuthServer) handleUser(w http.ResponseWriter, r *http.Request) {
	ar, ok := s.introspect(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"code": 401, "msg": "invalid JWT"})
		return
	}
	sess, _ := ar.GetSession().(*fosite.DefaultSession)
	if sess == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"code": 401, "msg": "invalid JWT"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": sess.Subject, "email": sess.Username})
}

func (s *FakeAuthServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	ar, ok := s.introspect(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"code": 401, "msg": "invalid JWT"})
		return
	}
	_ = s.store.RevokeAccessToken(r.Context(), ar.GetID())
	_ = s.store.RevokeRefreshToken(r.Context(), ar.GetID())
	w.WriteHeader(http.StatusNoContent)
}

// Verify reports whether token is a live access token. The organization
// backend uses it in place of a static token list.
func (s *FakeAuthServer) Verify(token string) bool {
	req := httptest.NewRequest(http.MethodGet, "/user", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	_, ok := s.introspect(req)
	return ok
}

// Revoke invalidates token and its refresh token, as if the session had
// been ended from another device.
func (s *FakeAuthServer) Revoke(token string) {
	req := httptest.NewRequest(http.MethodPost, "/logout", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	s.handleLogout(httptest.NewRecorder(), req)
}
