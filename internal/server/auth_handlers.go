package server

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dgellow/orgctl/internal/auth"
	"github.com/dgellow/orgctl/internal/cookie"
	"github.com/dgellow/orgctl/internal/emailutil"
	"github.com/dgellow/orgctl/internal/gate"
	jsonwriter "github.com/dgellow/orgctl/internal/json"
	"github.com/dgellow/orgctl/internal/log"
	"github.com/dgellow/orgctl/internal/session"
	"github.com/dgellow/orgctl/internal/urlutil"
)

const headerCSRFToken = "X-CSRF-Token"

const (
	signedOutMessage = "You have been signed out."
	expiredMessage   = "Your session has expired. Please sign in again."
)

// returnTo reads the preserved destination from a query or form value.
func (c *Console) returnTo(r *http.Request) string {
	return gate.ReturnPath(r.FormValue(gate.ReturnParam), c.opts.DefaultReturnPath)
}

func withFrom(path, from string) string {
	if from == "" {
		return path
	}
	return path + "?" + url.Values{gate.ReturnParam: {from}}.Encode()
}

func (c *Console) csrfToken() string {
	token, err := c.csrf.Generate()
	if err != nil {
		log.LogErrorWithFields("console", "Failed to generate CSRF token", map[string]any{
			"error": err.Error(),
		})
		return ""
	}
	return token
}

func (c *Console) validCSRF(r *http.Request) bool {
	token := r.Header.Get(headerCSRFToken)
	if token == "" {
		token = r.PostFormValue("csrf_token")
	}
	return token != "" && c.csrf.Validate(token)
}

func (c *Console) renderLogin(w http.ResponseWriter, status int, email, from, message, messageType string) {
	if !urlutil.IsLocalPath(from) {
		from = ""
	}
	providers := make([]ProviderLink, 0, len(c.opts.OAuthProviders))
	for _, p := range c.opts.OAuthProviders {
		providers = append(providers, ProviderLink{
			Name: displayName(p),
			URL:  withFrom("/auth/"+url.PathEscape(p), from),
		})
	}
	renderPage(w, status, loginPageTemplate, LoginPageData{
		Action:      c.opts.SignInPath,
		Email:       email,
		From:        from,
		CSRFToken:   c.csrfToken(),
		Providers:   providers,
		SignUpURL:   withFrom(signUpPath, from),
		Message:     message,
		MessageType: messageType,
	})
}

func (c *Console) renderSignup(w http.ResponseWriter, status int, email, from, message string) {
	if !urlutil.IsLocalPath(from) {
		from = ""
	}
	messageType := ""
	if message != "" {
		messageType = "error"
	}
	renderPage(w, status, signupPageTemplate, SignupPageData{
		Email:             email,
		From:              from,
		CSRFToken:         c.csrfToken(),
		MinPasswordLength: session.MinPasswordLength,
		SignInURL:         withFrom(c.opts.SignInPath, from),
		Message:           message,
		MessageType:       messageType,
	})
}

func displayName(provider string) string {
	switch provider {
	case "github":
		return "GitHub"
	case "gitlab":
		return "GitLab"
	}
	if provider == "" {
		return provider
	}
	return strings.ToUpper(provider[:1]) + provider[1:]
}

// authFailure maps a store error to a status and an operator-facing message.
// Provider rejections are shown verbatim.
func authFailure(err error) (int, string) {
	var authErr *auth.AuthenticationError
	switch {
	case errors.As(err, &authErr):
		status := authErr.Status
		if status < 400 || status > 499 {
			status = http.StatusUnauthorized
		}
		return status, authErr.Error()
	case errors.Is(err, session.ErrNotInitialized):
		return http.StatusServiceUnavailable, "Still checking your session. Try again in a moment."
	case errors.Is(err, auth.ErrInvalidState):
		return http.StatusBadRequest, "This sign-in link has expired. Please try again."
	default:
		return http.StatusBadGateway, "Could not reach the authentication service."
	}
}

func (c *Console) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	if c.store.State().Phase() == session.Authenticated {
		http.Redirect(w, r, c.returnTo(r), http.StatusFound)
		return
	}
	message, messageType := cookie.TakeFlash(w, r), ""
	if message != "" {
		messageType = "info"
	}
	c.renderLogin(w, http.StatusOK, "", r.URL.Query().Get(gate.ReturnParam), message, messageType)
}

func (c *Console) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		jsonwriter.WriteBadRequest(w, "Invalid form data")
		return
	}
	if !c.validCSRF(r) {
		jsonwriter.WriteForbidden(w, "Invalid CSRF token")
		return
	}

	email := emailutil.Clean(r.PostFormValue("email"))
	password := r.PostFormValue("password")
	from := r.PostFormValue(gate.ReturnParam)
	if email == "" || password == "" {
		c.renderLogin(w, http.StatusBadRequest, email, from, "Email and password are required.", "error")
		return
	}

	if _, err := c.store.SignIn(r.Context(), email, password); err != nil {
		status, message := authFailure(err)
		log.LogInfoWithFields("console", "Sign-in failed", map[string]any{
			"status": status,
			"error":  err.Error(),
		})
		c.renderLogin(w, status, email, from, message, "error")
		return
	}

	http.Redirect(w, r, gate.ReturnPath(from, c.opts.DefaultReturnPath), http.StatusSeeOther)
}

func (c *Console) handleSignupPage(w http.ResponseWriter, r *http.Request) {
	c.renderSignup(w, http.StatusOK, "", r.URL.Query().Get(gate.ReturnParam), "")
}

func (c *Console) handleSignup(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		jsonwriter.WriteBadRequest(w, "Invalid form data")
		return
	}
	if !c.validCSRF(r) {
		jsonwriter.WriteForbidden(w, "Invalid CSRF token")
		return
	}

	email := emailutil.Clean(r.PostFormValue("email"))
	password := r.PostFormValue("password")
	from := r.PostFormValue(gate.ReturnParam)
	if err := session.ValidateSignUp(email, password, r.PostFormValue("confirm")); err != nil {
		c.renderSignup(w, http.StatusBadRequest, email, from, capitalize(err.Error())+".")
		return
	}

	result, err := c.store.SignUp(r.Context(), email, password)
	if err != nil {
		status, message := authFailure(err)
		c.renderSignup(w, status, email, from, message)
		return
	}
	if result.ConfirmationPending {
		c.renderLogin(w, http.StatusOK, email, from, session.PendingConfirmationMessage, "success")
		return
	}
	http.Redirect(w, r, gate.ReturnPath(from, c.opts.DefaultReturnPath), http.StatusSeeOther)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func (c *Console) handleOAuthStart(w http.ResponseWriter, r *http.Request) {
	provider := r.PathValue("provider")
	authURL, err := c.store.SignInWithOAuth(r.Context(), provider, c.returnTo(r))
	if err != nil {
		if errors.Is(err, auth.ErrUnknownProvider) {
			jsonwriter.WriteNotFound(w, "Unknown sign-in provider")
			return
		}
		log.LogErrorWithFields("console", "Failed to start OAuth sign-in", map[string]any{
			"provider": provider,
			"error":    err.Error(),
		})
		jsonwriter.WriteError(w, http.StatusBadGateway, "bad_gateway", "Failed to start sign-in")
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

func (c *Console) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if providerErr := q.Get("error"); providerErr != "" {
		message := q.Get("error_description")
		if message == "" {
			message = providerErr
		}
		c.renderLogin(w, http.StatusUnauthorized, "", "", message, "error")
		return
	}

	code, state := q.Get("code"), q.Get("state")
	if code == "" || state == "" {
		jsonwriter.WriteBadRequest(w, "Missing code or state")
		return
	}

	returnPath, err := c.store.CompleteOAuth(r.Context(), code, state)
	if err != nil {
		status, message := authFailure(err)
		log.LogInfoWithFields("console", "OAuth callback failed", map[string]any{
			"status": status,
			"error":  err.Error(),
		})
		c.renderLogin(w, status, "", "", message, "error")
		return
	}
	http.Redirect(w, r, gate.ReturnPath(returnPath, c.opts.DefaultReturnPath), http.StatusFound)
}

func (c *Console) handleLogout(w http.ResponseWriter, r *http.Request) {
	if !c.validCSRF(r) {
		jsonwriter.WriteForbidden(w, "Invalid CSRF token")
		return
	}
	if err := c.store.SignOut(r.Context()); err != nil {
		log.LogWarnWithFields("console", "Sign-out reported an error, local session cleared", map[string]any{
			"error": err.Error(),
		})
	}
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		_ = jsonwriter.Write(w, map[string]string{"status": "signed_out"})
		return
	}
	cookie.SetFlash(w, r, signedOutMessage)
	http.Redirect(w, r, c.opts.SignInPath, http.StatusSeeOther)
}

// SessionResponse is the body of GET /api/session.
type SessionResponse struct {
	Phase         string     `json:"phase"`
	Authenticated bool       `json:"authenticated"`
	User          *auth.User `json:"user"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	Generation    uint64     `json:"generation"`
	CSRFToken     string     `json:"csrf_token"`
}

func (c *Console) sessionResponse(st session.State) SessionResponse {
	resp := SessionResponse{
		Phase:         st.Phase().String(),
		Authenticated: st.Phase() == session.Authenticated,
		User:          st.User,
		Generation:    st.Generation,
		CSRFToken:     c.csrfToken(),
	}
	if st.Session != nil && !st.Session.ExpiresAt.IsZero() {
		exp := st.Session.ExpiresAt
		resp.ExpiresAt = &exp
	}
	return resp
}

func (c *Console) handleSession(w http.ResponseWriter, r *http.Request) {
	_ = jsonwriter.Write(w, c.sessionResponse(c.store.State()))
}
