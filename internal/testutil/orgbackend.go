package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// BackendOrg is the organization record served by OrgBackend.
type BackendOrg struct {
	ID          int       `json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}

// RecordedRequest is what OrgBackend saw for one call.
type RecordedRequest struct {
	Method        string
	Path          string
	Query         string
	Authorization string
}

// OrgBackend is an in-memory organization API mounted at /api. Requests
// must carry a bearer token previously passed to AllowToken.
type OrgBackend struct {
	*httptest.Server

	mu       sync.Mutex
	orgs     map[int]*BackendOrg
	nextID   int
	tokens   map[string]bool
	requests []RecordedRequest
	delay    time.Duration
	verify   func(token string) bool
}

func NewOrgBackend(t *testing.T) *OrgBackend {
	t.Helper()
	b := &OrgBackend{
		orgs:   make(map[int]*BackendOrg),
		nextID: 1,
		tokens: make(map[string]bool),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/organizations", b.list)
	mux.HandleFunc("POST /api/organizations", b.create)
	mux.HandleFunc("GET /api/organizations/{id}", b.get)
	mux.HandleFunc("PUT /api/organizations/{id}", b.update)
	mux.HandleFunc("DELETE /api/organizations/{id}", b.delete)
	b.Server = httptest.NewServer(b.authenticate(mux))
	t.Cleanup(b.Close)
	return b
}

// BaseURL is the API root a dispatcher should be pointed at.
func (b *OrgBackend) BaseURL() string {
	return b.URL + "/api"
}

func (b *OrgBackend) AllowToken(token string) {
	b.mu.Lock()
	b.tokens[token] = true
	b.mu.Unlock()
}

func (b *OrgBackend) RevokeToken(token string) {
	b.mu.Lock()
	delete(b.tokens, token)
	b.mu.Unlock()
}

// VerifyWith replaces the AllowToken list with fn, e.g. introspection
// against a real authorization server. fn is called without b's lock held.
func (b *OrgBackend) VerifyWith(fn func(token string) bool) {
	b.mu.Lock()
	b.verify = fn
	b.mu.Unlock()
}

// SetDelay makes every response wait d, for overlapping-request tests.
func (b *OrgBackend) SetDelay(d time.Duration) {
	b.mu.Lock()
	b.delay = d
	b.mu.Unlock()
}

func (b *OrgBackend) Requests() []RecordedRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]RecordedRequest(nil), b.requests...)
}

// Seed inserts an organization directly and returns it.
func (b *OrgBackend) Seed(name string, active bool) BackendOrg {
	b.mu.Lock()
	defer b.mu.Unlock()
	org := &BackendOrg{ID: b.nextID, Name: name, IsActive: active, CreatedAt: time.Now().UTC().Truncate(time.Second)}
	b.orgs[org.ID] = org
	b.nextID++
	return *org
}

func (b *OrgBackend) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authz := r.Header.Get("Authorization")

		b.mu.Lock()
		b.requests = append(b.requests, RecordedRequest{
			Method:        r.Method,
			Path:          r.URL.Path,
			Query:         r.URL.RawQuery,
			Authorization: authz,
		})
		token, hasBearer := strings.CutPrefix(authz, "Bearer ")
		ok := hasBearer && b.tokens[token]
		verify := b.verify
		delay := b.delay
		b.mu.Unlock()

		if verify != nil {
			ok = hasBearer && verify(token)
		}

		if delay > 0 {
			time.Sleep(delay)
		}
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Not authenticated"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (b *OrgBackend) list(w http.ResponseWriter, r *http.Request) {
	q := strings.ToLower(r.URL.Query().Get("q"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	b.mu.Lock()
	out := make([]BackendOrg, 0, len(b.orgs))
	for _, o := range b.orgs {
		if q == "" || strings.Contains(strings.ToLower(o.Name), q) {
			out = append(out, *o)
		}
	}
	b.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	writeJSON(w, http.StatusOK, out)
}

type orgInput struct {
	Name        string  `json:"name"`
	Description *string `json:"description"`
	IsActive    *bool   `json:"is_active"`
}

func decodeInput(w http.ResponseWriter, r *http.Request) (*orgInput, bool) {
	var in orgInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": "invalid body"})
		return nil, false
	}
	if strings.TrimSpace(in.Name) == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": "name is required"})
		return nil, false
	}
	return &in, true
}

func (b *OrgBackend) create(w http.ResponseWriter, r *http.Request) {
	in, ok := decodeInput(w, r)
	if !ok {
		return
	}
	b.mu.Lock()
	org := &BackendOrg{
		ID:          b.nextID,
		Name:        in.Name,
		Description: in.Description,
		IsActive:    in.IsActive == nil || *in.IsActive,
		CreatedAt:   time.Now().UTC().Truncate(time.Second),
	}
	b.orgs[org.ID] = org
	b.nextID++
	out := *org
	b.mu.Unlock()
	writeJSON(w, http.StatusCreated, out)
}

func (b *OrgBackend) lookup(w http.ResponseWriter, r *http.Request) (*BackendOrg, bool) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Organization not found"})
		return nil, false
	}
	org, ok := b.orgs[id]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Organization not found"})
		return nil, false
	}
	return org, true
}

func (b *OrgBackend) get(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	org, ok := b.lookup(w, r)
	var out BackendOrg
	if ok {
		out = *org
	}
	b.mu.Unlock()
	if ok {
		writeJSON(w, http.StatusOK, out)
	}
}

func (b *OrgBackend) update(w http.ResponseWriter, r *http.Request) {
	in, ok := decodeInput(w, r)
	if !ok {
		return
	}
	b.mu.Lock()
	org, ok := b.lookup(w, r)
	var out BackendOrg
	if ok {
		org.Name = in.Name
		org.Description = in.Description
		if in.IsActive != nil {
			org.IsActive = *in.IsActive
		}
		out = *org
	}
	b.mu.Unlock()
	if ok {
		writeJSON(w, http.StatusOK, out)
	}
}

func (b *OrgBackend) delete(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	org, ok := b.lookup(w, r)
	if ok {
		delete(b.orgs, org.ID)
	}
	b.mu.Unlock()
	if ok {
		w.WriteHeader(http.StatusNoContent)
	}
}
