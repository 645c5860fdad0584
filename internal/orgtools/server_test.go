package orgtools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/dgellow/orgctl/internal/dispatcher"
	"github.com/dgellow/orgctl/internal/organization"
	"github.com/dgellow/orgctl/internal/session"
	"github.com/dgellow/orgctl/internal/testutil"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	server   *Server
	store    *session.Store
	provider *testutil.MockProvider
	backend  *testutil.OrgBackend
}

func newFixture(t *testing.T, signedIn bool) *fixture {
	t.Helper()
	p := testutil.NewMockProvider()
	if signedIn {
		p.On("GetSession", mock.Anything).Return(testutil.NewSession("tok-1", "u1", "ada@example.com"), nil)
	} else {
		p.On("GetSession", mock.Anything).Return(nil, nil)
	}
	store := session.New(p)
	t.Cleanup(store.Close)
	store.Initialize(context.Background())

	backend := testutil.NewOrgBackend(t)
	backend.AllowToken("tok-1")
	orgs := organization.NewClient(dispatcher.New(backend.BaseURL(), store))

	return &fixture{
		server:   New(store, orgs, "test"),
		store:    store,
		provider: p,
		backend:  backend,
	}
}

func callRequest(name string, args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content")
	return text.Text
}

func TestToolsList(t *testing.T) {
	f := newFixture(t, true)

	resp := f.server.MCPServer().HandleMessage(context.Background(),
		json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	data, err := json.Marshal(resp)
	require.NoError(t, err)

	var decoded struct {
		Result struct {
			Tools []struct {
				Name string `json:"name"`
			} `json:"tools"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))

	var names []string
	for _, tool := range decoded.Result.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{
		"list_organizations", "get_organization", "create_organization",
		"update_organization", "delete_organization", "whoami",
	}, names)
}

func TestToolsRefuseWhenSignedOut(t *testing.T) {
	f := newFixture(t, false)

	for _, name := range []string{"list_organizations", "get_organization", "create_organization", "update_organization", "delete_organization"} {
		t.Run(name, func(t *testing.T) {
			handler := map[string]func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error){
				"list_organizations":  f.server.guard(f.server.listOrganizations),
				"get_organization":    f.server.guard(f.server.getOrganization),
				"create_organization": f.server.guard(f.server.createOrganization),
				"update_organization": f.server.guard(f.server.updateOrganization),
				"delete_organization": f.server.guard(f.server.deleteOrganization),
			}[name]
			res, err := handler(context.Background(), callRequest(name, map[string]any{"id": 1, "name": "x"}))
			require.NoError(t, err)
			assert.True(t, res.IsError)
			assert.Contains(t, resultText(t, res), "orgctl login")
		})
	}
	assert.Empty(t, f.backend.Requests())
}

func TestOrganizationTools(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	f.backend.Seed("Acme", true)

	res, err := f.server.guard(f.server.listOrganizations)(ctx, callRequest("list_organizations", map[string]any{"q": "acme"}))
	require.NoError(t, err)
	require.False(t, res.IsError)
	var orgs []organization.Organization
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &orgs))
	require.Len(t, orgs, 1)
	assert.Equal(t, "Acme", orgs[0].Name)

	res, err = f.server.createOrganization(ctx, callRequest("create_organization", map[string]any{
		"name":        "Globex",
		"description": "Hank's",
	}))
	require.NoError(t, err)
	require.False(t, res.IsError, resultText(t, res))
	var created organization.Organization
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &created))
	assert.True(t, created.IsActive)
	require.NotNil(t, created.Description)
	assert.Equal(t, "Hank's", *created.Description)

	res, err = f.server.updateOrganization(ctx, callRequest("update_organization", map[string]any{
		"id":        float64(created.ID),
		"name":      "Globex Corp",
		"is_active": false,
	}))
	require.NoError(t, err)
	require.False(t, res.IsError, resultText(t, res))
	assert.Contains(t, resultText(t, res), `"is_active": false`)

	res, err = f.server.getOrganization(ctx, callRequest("get_organization", map[string]any{"id": float64(created.ID)}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, res), "Globex Corp")

	res, err = f.server.deleteOrganization(ctx, callRequest("delete_organization", map[string]any{"id": float64(created.ID)}))
	require.NoError(t, err)
	assert.False(t, res.IsError)

	res, err = f.server.getOrganization(ctx, callRequest("get_organization", map[string]any{"id": float64(created.ID)}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), `"status":404`)
}

func TestToolArgumentErrors(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	res, err := f.server.getOrganization(ctx, callRequest("get_organization", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = f.server.getOrganization(ctx, callRequest("get_organization", map[string]any{"id": float64(-2)}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = f.server.createOrganization(ctx, callRequest("create_organization", map[string]any{"name": ""}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "name is required")
	assert.Empty(t, f.backend.Requests())
}

func TestToolSessionExpired(t *testing.T) {
	f := newFixture(t, true)
	f.provider.On("SignOut", mock.Anything).Return(nil)
	f.backend.RevokeToken("tok-1")

	res, err := f.server.listOrganizations(context.Background(), callRequest("list_organizations", nil))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "session expired")
	assert.False(t, f.store.Authenticated())
}

func TestWhoami(t *testing.T) {
	f := newFixture(t, true)
	res, err := f.server.whoami(context.Background(), callRequest("whoami", nil))
	require.NoError(t, err)
	text := resultText(t, res)
	assert.Contains(t, text, `"phase": "authenticated"`)
	assert.Contains(t, text, "ada@example.com")
}
