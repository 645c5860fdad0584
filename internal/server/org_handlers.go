package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/dgellow/orgctl/internal/cookie"
	"github.com/dgellow/orgctl/internal/dispatcher"
	"github.com/dgellow/orgctl/internal/gate"
	"github.com/dgellow/orgctl/internal/ioutil"
	jsonwriter "github.com/dgellow/orgctl/internal/json"
	"github.com/dgellow/orgctl/internal/log"
	"github.com/dgellow/orgctl/internal/organization"
)

const maxRequestBody = 1 << 20

// writeOrgError relays a failed backend call. A 401 means the dispatcher has
// already signed the session out, so the caller is pointed at sign-in with
// the current path preserved.
func (c *Console) writeOrgError(w http.ResponseWriter, r *http.Request, err error) {
	var reqErr *dispatcher.RequestError
	switch {
	case errors.Is(err, organization.ErrNameRequired):
		jsonwriter.WriteError(w, http.StatusUnprocessableEntity, "unprocessable_entity", err.Error())
	case errors.Is(err, dispatcher.ErrSessionExpired):
		signIn := gate.RedirectURL(gate.Decision{
			Outcome:  gate.Redirect,
			Target:   c.opts.SignInPath,
			ReturnTo: r.URL.RequestURI(),
		})
		cookie.SetFlash(w, r, expiredMessage)
		jsonwriter.WriteUnauthorized(w, "Session expired, sign in again", signIn)
	case errors.As(err, &reqErr):
		jsonwriter.WriteUpstreamError(w, reqErr.Status, reqErr.Body)
	default:
		log.LogErrorWithFields("console", "Organization request failed", map[string]any{
			"method": r.Method,
			"path":   r.URL.Path,
			"error":  err.Error(),
		})
		jsonwriter.WriteError(w, http.StatusBadGateway, "bad_gateway", "Organization service unavailable")
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := organization.ParseID(r.PathValue("id"))
	if err != nil {
		jsonwriter.WriteNotFound(w, "Organization not found")
		return 0, false
	}
	return id, true
}

// decodeInput reads an organization body onto in, so fields absent from the
// JSON keep in's values.
func decodeInput(w http.ResponseWriter, r *http.Request, in organization.Input) (organization.Input, bool) {
	body, err := ioutil.ReadCapped(r.Body, maxRequestBody)
	if err != nil {
		jsonwriter.WriteError(w, http.StatusRequestEntityTooLarge, "request_too_large", "Request body too large")
		return in, false
	}
	if err := json.Unmarshal(body, &in); err != nil {
		jsonwriter.WriteBadRequest(w, "Invalid JSON body")
		return in, false
	}
	return in, true
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New(name + " must be a non-negative integer")
	}
	return n, nil
}

func (c *Console) handleListOrganizations(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		jsonwriter.WriteBadRequest(w, err.Error())
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		jsonwriter.WriteBadRequest(w, err.Error())
		return
	}

	orgs, err := c.orgs.List(r.Context(), organization.ListOptions{
		Query:  r.URL.Query().Get("q"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		c.writeOrgError(w, r, err)
		return
	}
	_ = jsonwriter.Write(w, orgs)
}

func (c *Console) handleGetOrganization(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	org, err := c.orgs.Get(r.Context(), id)
	if err != nil {
		c.writeOrgError(w, r, err)
		return
	}
	_ = jsonwriter.Write(w, org)
}

func (c *Console) handleCreateOrganization(w http.ResponseWriter, r *http.Request) {
	in, ok := decodeInput(w, r, organization.Input{IsActive: true})
	if !ok {
		return
	}
	org, err := c.orgs.Create(r.Context(), in)
	if err != nil {
		c.writeOrgError(w, r, err)
		return
	}
	_ = jsonwriter.WriteResponse(w, http.StatusCreated, org)
}

func (c *Console) handleUpdateOrganization(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	in, ok := decodeInput(w, r, organization.Input{})
	if !ok {
		return
	}
	org, err := c.orgs.Update(r.Context(), id, in)
	if err != nil {
		c.writeOrgError(w, r, err)
		return
	}
	_ = jsonwriter.Write(w, org)
}

func (c *Console) handleDeleteOrganization(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := c.orgs.Delete(r.Context(), id); err != nil {
		c.writeOrgError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
