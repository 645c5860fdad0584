// Package organization is the typed client for the organization backend.
// Every call goes through the dispatcher, so it carries the current bearer
// token and a 401 signs the session out.
package organization

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

var ErrNameRequired = errors.New("name is required")

type Organization struct {
	ID          int       `json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}

// Input is the body of create and update calls.
type Input struct {
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
	IsActive    bool    `json:"is_active"`
}

func (in Input) Validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return ErrNameRequired
	}
	return nil
}

type ListOptions struct {
	Query  string
	Limit  int
	Offset int
}

func (o ListOptions) values() url.Values {
	v := url.Values{}
	if o.Query != "" {
		v.Set("q", o.Query)
	}
	if o.Limit > 0 {
		v.Set("limit", strconv.Itoa(o.Limit))
	}
	if o.Offset > 0 {
		v.Set("offset", strconv.Itoa(o.Offset))
	}
	return v
}

// Doer is implemented by *dispatcher.Dispatcher.
type Doer interface {
	DoJSON(ctx context.Context, method, path string, query url.Values, in, out any) error
}

type Client struct {
	doer Doer
}

func NewClient(doer Doer) *Client {
	return &Client{doer: doer}
}

const collection = "/organizations"

func itemPath(id int) string {
	return collection + "/" + strconv.Itoa(id)
}

func (c *Client) List(ctx context.Context, opts ListOptions) ([]Organization, error) {
	var out []Organization
	if err := c.doer.DoJSON(ctx, http.MethodGet, collection, opts.values(), nil, &out); err != nil {
		return nil, fmt.Errorf("listing organizations: %w", err)
	}
	if out == nil {
		out = []Organization{}
	}
	return out, nil
}

func (c *Client) Get(ctx context.Context, id int) (*Organization, error) {
	var out Organization
	if err := c.doer.DoJSON(ctx, http.MethodGet, itemPath(id), nil, nil, &out); err != nil {
		return nil, fmt.Errorf("getting organization %d: %w", id, err)
	}
	return &out, nil
}

func (c *Client) Create(ctx context.Context, in Input) (*Organization, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	var out Organization
	if err := c.doer.DoJSON(ctx, http.MethodPost, collection, nil, in, &out); err != nil {
		return nil, fmt.Errorf("creating organization: %w", err)
	}
	return &out, nil
}

func (c *Client) Update(ctx context.Context, id int, in Input) (*Organization, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	var out Organization
	if err := c.doer.DoJSON(ctx, http.MethodPut, itemPath(id), nil, in, &out); err != nil {
		return nil, fmt.Errorf("updating organization %d: %w", id, err)
	}
	return &out, nil
}

// Delete accepts any 2xx; the backend answers 204.
func (c *Client) Delete(ctx context.Context, id int) error {
	if err := c.doer.DoJSON(ctx, http.MethodDelete, itemPath(id), nil, nil, nil); err != nil {
		return fmt.Errorf("deleting organization %d: %w", id, err)
	}
	return nil
}

// ParseID parses a path or argument identifier.
func ParseID(s string) (int, error) {
	id, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid organization id %q", s)
	}
	return id, nil
}
