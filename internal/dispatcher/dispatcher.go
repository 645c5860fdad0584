// Package dispatcher sends requests to the organization backend on behalf of
// the current session. It attaches the bearer token read from the session
// store at issue time and signs the session out when the backend answers 401.
// The one exception is a 401 for a token the store has already replaced, such
// as a request that raced a refresh: the newer session is left signed in and
// the caller still gets ErrSessionExpired.
package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/dgellow/orgctl/internal/ioutil"
	"github.com/dgellow/orgctl/internal/log"
	"github.com/dgellow/orgctl/internal/urlutil"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

const (
	defaultTimeout      = 30 * time.Second
	defaultMaxBodyBytes = 4 << 20

	HeaderRequestID = "X-Request-ID"
)

// Authority is the slice of the session store the dispatcher depends on.
type Authority interface {
	AccessToken() string
	SignOut(ctx context.Context) error
}

// Recorder receives per-request measurements.
type Recorder interface {
	ObserveRequest(method string, status int, elapsed time.Duration)
	ForcedSignOut()
}

type Request struct {
	Method string
	Path   string
	Query  url.Values
	// Body is encoded as JSON when non-nil.
	Body   any
	Header http.Header
}

type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

type Dispatcher struct {
	baseURL      string
	authority    Authority
	httpClient   *http.Client
	maxBodyBytes int64
	recorder     Recorder
	signOuts     singleflight.Group
}

type Option func(*Dispatcher)

// WithHTTPClient replaces the default instrumented client.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Dispatcher) {
		d.httpClient = c
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.httpClient.Timeout = timeout
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(d *Dispatcher) {
		d.recorder = r
	}
}

func WithMaxBodyBytes(n int64) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxBodyBytes = n
		}
	}
}

func New(baseURL string, authority Authority, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		baseURL:   baseURL,
		authority: authority,
		httpClient: &http.Client{
			Timeout:   defaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			// Don't follow redirects automatically
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		maxBodyBytes: defaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Do issues req. Any non-2xx status is returned as a *RequestError. A 401
// first signs the session out and waits for that to settle.
func (d *Dispatcher) Do(ctx context.Context, req Request) (*Response, error) {
	target, err := urlutil.Resolve(d.baseURL, req.Path, req.Query)
	if err != nil {
		return nil, fmt.Errorf("building url for %s: %w", req.Path, err)
	}

	var body io.Reader
	if req.Body != nil {
		encoded, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	requestID := uuid.NewString()
	httpReq.Header.Set(HeaderRequestID, requestID)
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("orgctl.request_id", requestID))

	token := d.authority.AccessToken()
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := d.httpClient.Do(httpReq)
	if err != nil {
		d.observe(req.Method, 0, time.Since(start))
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.Path, err)
	}
	defer resp.Body.Close()

	respBody, err := ioutil.ReadCapped(resp.Body, d.maxBodyBytes)
	d.observe(req.Method, resp.StatusCode, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("reading response for %s %s: %w", req.Method, req.Path, err)
	}

	log.LogTraceWithFields("dispatcher", "Request completed", map[string]any{
		"method":      req.Method,
		"path":        req.Path,
		"status":      resp.StatusCode,
		"request_id":  requestID,
		"duration_ms": time.Since(start).Milliseconds(),
	})

	if resp.StatusCode == http.StatusUnauthorized {
		d.expire(ctx, token, requestID)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &RequestError{
			Method: req.Method,
			Path:   req.Path,
			Status: resp.StatusCode,
			Body:   respBody,
		}
	}

	return &Response{
		Status: resp.StatusCode,
		Header: resp.Header,
		Body:   respBody,
	}, nil
}

// DoJSON issues a request and decodes a non-empty response body into out.
func (d *Dispatcher) DoJSON(ctx context.Context, method, path string, query url.Values, in, out any) error {
	resp, err := d.Do(ctx, Request{Method: method, Path: path, Query: query, Body: in})
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(resp.Body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("decoding response for %s %s: %w", method, path, err)
	}
	return nil
}

// expire signs the session out after a 401. Concurrent 401s for the same
// token share one sign-out. A 401 for a token that has since been replaced
// by a different session leaves that session alone.
func (d *Dispatcher) expire(ctx context.Context, sent, requestID string) {
	if current := d.authority.AccessToken(); current != "" && current != sent {
		log.LogDebugWithFields("dispatcher", "Ignoring 401 for superseded token", map[string]any{
			"request_id": requestID,
		})
		return
	}

	_, err, shared := d.signOuts.Do("signout:"+sent, func() (any, error) {
		if d.recorder != nil {
			d.recorder.ForcedSignOut()
		}
		return nil, d.authority.SignOut(context.WithoutCancel(ctx))
	})
	trace.SpanFromContext(ctx).AddEvent("session.forced_sign_out", trace.WithAttributes(
		attribute.String("orgctl.request_id", requestID),
		attribute.Bool("shared", shared),
	))
	fields := map[string]any{
		"request_id": requestID,
		"shared":     shared,
	}
	if err != nil {
		fields["error"] = err.Error()
		log.LogWarnWithFields("dispatcher", "Forced sign-out reported an error", fields)
		return
	}
	log.LogInfoWithFields("dispatcher", "Session signed out after 401", fields)
}

func (d *Dispatcher) observe(method string, status int, elapsed time.Duration) {
	if d.recorder != nil {
		d.recorder.ObserveRequest(method, status, elapsed)
	}
}
