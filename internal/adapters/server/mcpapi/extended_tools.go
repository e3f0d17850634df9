package mcpapi

import (
	"context"
	"fmt"
	"strings"

	"github.com/hylla/mcpcc/internal/adapters/server/common"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

// registerProjectWriteTools registers manual project creation.
func registerProjectWriteTools(srv *mcpserver.MCPServer, projects common.ProjectService) {
	srv.AddTool(
		mcp.NewTool(
			"mcpcc.create_project",
			mcp.WithDescription("Create one project by hand. The canonical URL, when given, must not already be tracked."),
			mcp.WithString("name", mcp.Required(), mcp.Description("Project name")),
			mcp.WithString("description", mcp.Description("Project description")),
			mcp.WithString("canonical_url", mcp.Description("Optional canonical repository URL")),
			mcp.WithArray("tags", mcp.Description("Optional tags"), mcp.WithStringItems()),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			var args common.CreateProjectRequest
			if err := req.BindArguments(&args); err != nil {
				return invalidRequestToolResult(err), nil
			}
			if strings.TrimSpace(args.Name) == "" {
				return mcp.NewToolResultError(`invalid_request: required argument "name" not found`), nil
			}
			project, err := projects.CreateProject(ctx, args)
			if err != nil {
				return toolResultFromError(err), nil
			}
			result, err := mcp.NewToolResultJSON(project)
			if err != nil {
				return nil, fmt.Errorf("encode create_project result: %w", err)
			}
			return result, nil
		},
	)
}

// registerAgentUpdateTools registers agent update ingestion and listing.
func registerAgentUpdateTools(srv *mcpserver.MCPServer, updates common.AgentUpdateService) {
	srv.AddTool(
		mcp.NewTool(
			"mcpcc.record_agent_update",
			mcp.WithDescription("Attach one free-form status update to a project."),
			mcp.WithString("project_id", mcp.Required(), mcp.Description("Project identifier")),
			mcp.WithObject("payload", mcp.Description("Update payload object")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			var args struct {
				ProjectID string         `json:"project_id"`
				Payload   map[string]any `json:"payload"`
			}
			if err := req.BindArguments(&args); err != nil {
				return invalidRequestToolResult(err), nil
			}
			if strings.TrimSpace(args.ProjectID) == "" {
				return mcp.NewToolResultError(`invalid_request: required argument "project_id" not found`), nil
			}
			update, err := updates.RecordAgentUpdate(ctx, common.RecordAgentUpdateRequest{
				ProjectID: args.ProjectID,
				Source:    "mcp",
				Payload:   args.Payload,
			})
			if err != nil {
				return toolResultFromError(err), nil
			}
			result, err := mcp.NewToolResultJSON(update)
			if err != nil {
				return nil, fmt.Errorf("encode record_agent_update result: %w", err)
			}
			return result, nil
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"mcpcc.list_agent_updates",
			mcp.WithDescription("List recent agent updates for one project, newest first."),
			mcp.WithString("project_id", mcp.Required(), mcp.Description("Project identifier")),
			mcp.WithNumber("limit", mcp.Description("Maximum rows to return")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			projectID, err := req.RequireString("project_id")
			if err != nil {
				return invalidRequestToolResult(err), nil
			}
			rows, err := updates.ListAgentUpdates(ctx, common.ListAgentUpdatesRequest{
				ProjectID: projectID,
				Limit:     req.GetInt("limit", 0),
			})
			if err != nil {
				return toolResultFromError(err), nil
			}
			result, err := mcp.NewToolResultJSON(map[string]any{"updates": rows})
			if err != nil {
				return nil, fmt.Errorf("encode list_agent_updates result: %w", err)
			}
			return result, nil
		},
	)
}
