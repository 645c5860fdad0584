package auth

import (
	"context"
	"time"

	"github.com/dgellow/orgctl/internal/log"
	"golang.org/x/oauth2"
)

const refreshTimeout = 30 * time.Second

// scheduleRefreshLocked arms the timer for the session stamped seq. Caller
// holds c.mu.
func (c *Client) scheduleRefreshLocked(seq uint64) {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	s := c.current
	if s == nil || s.RefreshToken == "" || s.ExpiresAt.IsZero() {
		return
	}
	delay := s.ExpiresAt.Add(-c.opts.RefreshMargin).Sub(c.now())
	if delay < 0 {
		delay = 0
	}
	c.timer = time.AfterFunc(delay, func() { c.refreshTick(seq) })

	log.LogTraceWithFields("auth", "Refresh scheduled", map[string]any{
		"in": delay.String(),
	})
}

// refreshTick renews the session stamped seq. Results for a session that has
// since been replaced or cleared are dropped.
func (c *Client) refreshTick(seq uint64) {
	select {
	case <-c.done:
		return
	default:
	}

	c.mu.Lock()
	if c.seq != seq || c.current == nil {
		c.mu.Unlock()
		return
	}
	rt := c.current.RefreshToken
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	s, err := c.refresh(ctx, rt)

	// The check and the replacement happen under one lock so a sign-out that
	// lands while the refresh grant is in flight cannot be undone by it.
	c.mu.Lock()
	if c.seq != seq {
		c.mu.Unlock()
		log.LogDebugWithFields("auth", "Discarding refresh result for superseded session", nil)
		return
	}

	switch {
	case err == nil:
		c.replaceLocked(s)
		next := c.seq
		c.mu.Unlock()
		c.persist(ctx, s)
		c.emit(Event{Session: s.Clone(), Reason: ReasonRefreshed, Seq: next})
		log.LogDebugWithFields("auth", "Session refreshed", map[string]any{
			"expires_at": s.ExpiresAt,
		})
	case IsAuthenticationError(err):
		c.clearLocked()
		next := c.seq
		c.mu.Unlock()
		log.LogWarnWithFields("auth", "Refresh token rejected, signing out", map[string]any{
			"error": err.Error(),
		})
		c.unpersist(ctx)
		c.emit(Event{Session: nil, Reason: ReasonSignedOut, Seq: next})
	default:
		c.timer = time.AfterFunc(c.opts.RefreshRetry, func() { c.refreshTick(seq) })
		c.mu.Unlock()
		log.LogWarnWithFields("auth", "Refresh failed, will retry", map[string]any{
			"error": err.Error(),
			"retry": c.opts.RefreshRetry.String(),
		})
	}
}

// refresh performs the refresh_token grant.
func (c *Client) refresh(ctx context.Context, refreshToken string) (*Session, error) {
	src := c.oauth.TokenSource(c.oauthContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, classifyTokenError("refresh", err)
	}
	return c.sessionFromToken(ctx, tok)
}
