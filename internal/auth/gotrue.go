package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dgellow/orgctl/internal/ioutil"
	"github.com/dgellow/orgctl/internal/urlutil"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

const maxProviderBody = 1 << 20

type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// tokenResponse is the session shape returned by /signup when no
// confirmation is required.
type tokenResponse struct {
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token"`
	TokenType    string        `json:"token_type"`
	ExpiresIn    int64         `json:"expires_in"`
	ExpiresAt    int64         `json:"expires_at"`
	User         *userResponse `json:"user"`
}

// errorResponse covers the error shapes GoTrue and RFC 6749 servers use.
type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	ErrorCode        string `json:"error_code"`
}

func (e errorResponse) text() string {
	for _, s := range []string{e.ErrorDescription, e.Msg, e.Message, e.Error} {
		if s != "" {
			return s
		}
	}
	return ""
}

// providerError turns a non-2xx provider response into an error. 4xx become
// AuthenticationError; anything else is a transport-level failure.
func providerError(op string, status int, body []byte) error {
	var er errorResponse
	_ = json.Unmarshal(body, &er)
	msg := er.text()
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	if status >= 400 && status < 500 {
		code := er.ErrorCode
		if code == "" {
			code = er.Error
		}
		return &AuthenticationError{Status: status, Code: code, Message: msg}
	}
	return fmt.Errorf("%s: provider returned %d: %s", op, status, msg)
}

func classifyTokenError(op string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		if re.Response.StatusCode >= 400 && re.Response.StatusCode < 500 {
			msg := re.ErrorDescription
			if msg == "" {
				var er errorResponse
				_ = json.Unmarshal(re.Body, &er)
				msg = er.text()
			}
			if msg == "" {
				msg = re.ErrorCode
			}
			if msg == "" {
				msg = http.StatusText(re.Response.StatusCode)
			}
			return &AuthenticationError{Status: re.Response.StatusCode, Code: re.ErrorCode, Message: msg}
		}
		return providerError(op, re.Response.StatusCode, re.Body)
	}
	return wrapTransport(op, err)
}

func (c *Client) do(ctx context.Context, method, path, bearer string, in any) (*http.Response, []byte, error) {
	u, err := urlutil.JoinPath(c.opts.URL, path)
	if err != nil {
		return nil, nil, err
	}
	var body *bytes.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, nil, err
		}
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	data, err := ioutil.ReadCapped(resp.Body, maxProviderBody)
	if err != nil {
		return resp, nil, err
	}
	return resp, data, nil
}

func (c *Client) signUp(ctx context.Context, email, password string) (*Session, error) {
	resp, body, err := c.do(ctx, http.MethodPost, "signup", "", map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return nil, wrapTransport("sign-up", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, providerError("sign-up", resp.StatusCode, body)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("sign-up: decoding response: %w", err)
	}
	if tr.AccessToken == "" {
		return nil, nil
	}

	s := &Session{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		TokenType:    tr.TokenType,
	}
	switch {
	case tr.ExpiresAt > 0:
		s.ExpiresAt = time.Unix(tr.ExpiresAt, 0)
	case tr.ExpiresIn > 0:
		s.ExpiresAt = c.now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	if tr.User != nil && tr.User.ID != "" {
		s.User = User{ID: tr.User.ID, Email: tr.User.Email}
		return s, nil
	}
	user, err := c.resolveUser(ctx, s.AccessToken, nil)
	if err != nil {
		return nil, err
	}
	s.User = *user
	return s, nil
}

func (c *Client) logout(ctx context.Context, token string) error {
	resp, body, err := c.do(ctx, http.MethodPost, "logout", token, nil)
	if err != nil {
		return wrapTransport("sign-out", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return providerError("sign-out", resp.StatusCode, body)
	}
	return nil
}

func (c *Client) fetchUser(ctx context.Context, token string) (*User, error) {
	resp, body, err := c.do(ctx, http.MethodGet, "user", token, nil)
	if err != nil {
		return nil, wrapTransport("fetching user", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, providerError("fetching user", resp.StatusCode, body)
	}
	var u userResponse
	if err := json.Unmarshal(body, &u); err != nil {
		return nil, fmt.Errorf("fetching user: decoding response: %w", err)
	}
	if u.ID == "" {
		return nil, fmt.Errorf("fetching user: response has no id")
	}
	return &User{ID: u.ID, Email: u.Email}, nil
}

// sessionFromToken converts a token endpoint response into a Session.
func (c *Client) sessionFromToken(ctx context.Context, tok *oauth2.Token) (*Session, error) {
	s := &Session{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		ExpiresAt:    tok.Expiry,
	}
	user, err := c.resolveUser(ctx, tok.AccessToken, tok.Extra("user"))
	if err != nil {
		return nil, err
	}
	s.User = *user
	return s, nil
}

// resolveUser finds the identity behind an access token: the user object the
// token endpoint returned, then the token's own claims, then GET /user.
func (c *Client) resolveUser(ctx context.Context, accessToken string, extra any) (*User, error) {
	if m, ok := extra.(map[string]any); ok {
		id, _ := m["id"].(string)
		email, _ := m["email"].(string)
		if id != "" {
			return &User{ID: id, Email: email}, nil
		}
	}
	if u := userFromClaims(accessToken); u != nil {
		return u, nil
	}
	return c.fetchUser(ctx, accessToken)
}

// userFromClaims reads sub and email from a JWT access token without
// verifying it. Only the provider can verify its tokens; the client merely
// needs to know whose they are.
func userFromClaims(token string) *User {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil
	}
	email, _ := claims["email"].(string)
	if email == "" {
		return nil
	}
	return &User{ID: sub, Email: email}
}
