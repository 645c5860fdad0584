// Package orgtools exposes the organization API as MCP tools. Every call
// runs under the process session: tools refuse when nobody is signed in.
package orgtools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/dgellow/orgctl/internal/dispatcher"
	"github.com/dgellow/orgctl/internal/log"
	"github.com/dgellow/orgctl/internal/organization"
	"github.com/dgellow/orgctl/internal/session"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

const serverName = "orgctl"

type StateReader interface {
	State() session.State
}

type Organizations interface {
	List(ctx context.Context, opts organization.ListOptions) ([]organization.Organization, error)
	Get(ctx context.Context, id int) (*organization.Organization, error)
	Create(ctx context.Context, in organization.Input) (*organization.Organization, error)
	Update(ctx context.Context, id int, in organization.Input) (*organization.Organization, error)
	Delete(ctx context.Context, id int) error
}

type Server struct {
	store     StateReader
	orgs      Organizations
	mcpServer *mcpserver.MCPServer
}

func New(store StateReader, orgs Organizations, version string) *Server {
	s := &Server{store: store, orgs: orgs}
	s.mcpServer = mcpserver.NewMCPServer(serverName, version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithLogging(),
	)
	s.registerTools()
	return s
}

// MCPServer returns the underlying server, for transports and tests.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// ServeStdio speaks MCP over in/out until ctx is cancelled or in closes.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	log.LogInfoWithFields("mcp", "Serving MCP over stdio", nil)
	return mcpserver.NewStdioServer(s.mcpServer).Listen(ctx, in, out)
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("list_organizations",
		mcp.WithDescription("List organizations, optionally filtered by name"),
		mcp.WithString("q", mcp.Description("Case-insensitive name filter")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of results")),
		mcp.WithNumber("offset", mcp.Description("Number of results to skip")),
	), s.guard(s.listOrganizations))

	s.mcpServer.AddTool(mcp.NewTool("get_organization",
		mcp.WithDescription("Fetch one organization by id"),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Organization id")),
	), s.guard(s.getOrganization))

	s.mcpServer.AddTool(mcp.NewTool("create_organization",
		mcp.WithDescription("Create an organization"),
		mcp.WithString("name", mcp.Required()),
		mcp.WithString("description"),
		mcp.WithBoolean("is_active", mcp.Description("Defaults to true")),
	), s.guard(s.createOrganization))

	s.mcpServer.AddTool(mcp.NewTool("update_organization",
		mcp.WithDescription("Replace an organization's fields"),
		mcp.WithNumber("id", mcp.Required()),
		mcp.WithString("name", mcp.Required()),
		mcp.WithString("description"),
		mcp.WithBoolean("is_active", mcp.Required()),
	), s.guard(s.updateOrganization))

	s.mcpServer.AddTool(mcp.NewTool("delete_organization",
		mcp.WithDescription("Delete an organization"),
		mcp.WithNumber("id", mcp.Required()),
	), s.guard(s.deleteOrganization))

	s.mcpServer.AddTool(mcp.NewTool("whoami",
		mcp.WithDescription("Report the signed-in user"),
	), s.whoami)
}

// guard refuses tool calls unless a session is active.
func (s *Server) guard(next mcpserver.ToolHandlerFunc) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		switch s.store.State().Phase() {
		case session.Bootstrapping:
			return mcp.NewToolResultError("session is still being checked, retry shortly"), nil
		case session.Unauthenticated:
			return mcp.NewToolResultError("not signed in: run `orgctl login` first"), nil
		}
		log.LogDebugWithFields("mcp", "Tool called", map[string]any{
			"tool": request.Params.Name,
		})
		return next(ctx, request)
	}
}

// toolError turns a failed call into a tool result the model can read.
func toolError(err error) *mcp.CallToolResult {
	var reqErr *dispatcher.RequestError
	switch {
	case errors.Is(err, dispatcher.ErrSessionExpired):
		return mcp.NewToolResultError("session expired and was signed out: run `orgctl login`")
	case errors.As(err, &reqErr):
		data, _ := json.Marshal(map[string]any{
			"status": reqErr.Status,
			"body":   string(reqErr.Body),
		})
		return mcp.NewToolResultError(string(data))
	default:
		return mcp.NewToolResultError(err.Error())
	}
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

func requireID(request mcp.CallToolRequest) (int, *mcp.CallToolResult) {
	id, err := request.RequireInt("id")
	if err != nil {
		return 0, mcp.NewToolResultError(err.Error())
	}
	if id <= 0 {
		return 0, mcp.NewToolResultError("id must be a positive integer")
	}
	return id, nil
}

func inputFrom(request mcp.CallToolRequest, defaultActive bool) organization.Input {
	in := organization.Input{
		Name:     request.GetString("name", ""),
		IsActive: request.GetBool("is_active", defaultActive),
	}
	if _, ok := request.GetArguments()["description"]; ok {
		desc := request.GetString("description", "")
		in.Description = &desc
	}
	return in
}

func (s *Server) listOrganizations(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	orgs, err := s.orgs.List(ctx, organization.ListOptions{
		Query:  request.GetString("q", ""),
		Limit:  request.GetInt("limit", 0),
		Offset: request.GetInt("offset", 0),
	})
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(orgs)
}

func (s *Server) getOrganization(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, bad := requireID(request)
	if bad != nil {
		return bad, nil
	}
	org, err := s.orgs.Get(ctx, id)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(org)
}

func (s *Server) createOrganization(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	org, err := s.orgs.Create(ctx, inputFrom(request, true))
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(org)
}

func (s *Server) updateOrganization(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, bad := requireID(request)
	if bad != nil {
		return bad, nil
	}
	org, err := s.orgs.Update(ctx, id, inputFrom(request, true))
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(org)
}

func (s *Server) deleteOrganization(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, bad := requireID(request)
	if bad != nil {
		return bad, nil
	}
	if err := s.orgs.Delete(ctx, id); err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("organization %d deleted", id)), nil
}

func (s *Server) whoami(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st := s.store.State()
	return jsonResult(map[string]any{
		"phase": st.Phase().String(),
		"user":  st.User,
	})
}
