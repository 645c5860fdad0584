package tui

import (
	"strings"
	"testing"
	"time"

	"github.com/dgellow/orgctl/internal/organization"
	"github.com/dgellow/orgctl/internal/session"
	"github.com/dgellow/orgctl/internal/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRenderOrganizations(t *testing.T) {
	desc := "Rockets"
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	out := RenderOrganizations([]organization.Organization{
		{ID: 1, Name: "Acme", Description: &desc, IsActive: true, CreatedAt: created},
		{ID: 12, Name: "Globex", IsActive: false, CreatedAt: created},
	})

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	assert.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "ID"))
	assert.Contains(t, lines[1], "Acme")
	assert.Contains(t, lines[1], "active")
	assert.Contains(t, lines[1], "Rockets")
	assert.Contains(t, lines[2], "inactive")
	assert.Contains(t, lines[2], "2024-03-01")
	assert.Equal(t, strings.Index(lines[0], "NAME"), strings.Index(lines[1], "Acme"))
}

func TestRenderOrganizationsEmpty(t *testing.T) {
	assert.Equal(t, "No organizations found.", RenderOrganizations(nil))
}

func TestRenderOrganization(t *testing.T) {
	out := RenderOrganization(&organization.Organization{ID: 4, Name: "Initech", IsActive: true})
	assert.Contains(t, out, "Name:")
	assert.Contains(t, out, "Initech")
	assert.NotContains(t, out, "Description")
}

func TestRenderSession(t *testing.T) {
	sess := testutil.NewSession("tok", "u1", "ada@example.com")
	u := sess.User

	assert.Contains(t, RenderSession(session.State{Session: sess, User: &u}), "ada@example.com")
	assert.Contains(t, RenderSession(session.State{Loading: true}), "Checking session")
	assert.Contains(t, RenderSession(session.State{}), "orgctl login")
}

func TestValidateEmail(t *testing.T) {
	assert.ErrorIs(t, validateEmail("  "), session.ErrEmailRequired)
	assert.Error(t, validateEmail("not-an-email"))
	assert.NoError(t, validateEmail(" ada@example.com "))
}
