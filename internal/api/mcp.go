package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/ideaboard/internal/studio"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Studio *studio.Studio
}

// NewMCPServer creates an MCP server with all ideaboard tools and resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"ideaboard",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("ideaboard: generate concepts, moodboard artifacts, parameters, designs and mockups from a design parti."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("create_session",
			mcp.WithDescription("Start a new ideation session from a parti (the central design idea)."),
			mcp.WithString("parti", mcp.Description("The central idea of the design"), mcp.Required()),
			mcp.WithString("title", mcp.Description("Session title")),
			mcp.WithString("domain", mcp.Description("Design domain, e.g. furniture or lighting")),
		),
		mcpCreateSession(deps),
	)

	s.AddTool(
		mcp.NewTool("generate",
			mcp.WithDescription("Generate a fresh batch for one board. Unpinned items are rejected first and never suggested again."),
			mcp.WithString("session_id", mcp.Description("Session ID"), mcp.Required()),
			mcp.WithString("feature", mcp.Description("concepts, artifacts, parameters, designs or mockups"), mcp.Required()),
		),
		mcpGenerate(deps),
	)

	s.AddTool(
		mcp.NewTool("list_items",
			mcp.WithDescription("List the live and rejected items of one board."),
			mcp.WithString("session_id", mcp.Description("Session ID"), mcp.Required()),
			mcp.WithString("feature", mcp.Description("concepts, artifacts, parameters, designs or mockups"), mcp.Required()),
		),
		mcpListItems(deps),
	)

	s.AddTool(
		mcp.NewTool("pin_item",
			mcp.WithDescription("Pin an item so the next generation keeps it."),
			mcp.WithString("session_id", mcp.Description("Session ID"), mcp.Required()),
			mcp.WithString("feature", mcp.Description("Board name"), mcp.Required()),
			mcp.WithString("item_id", mcp.Description("Item ID"), mcp.Required()),
			mcp.WithBoolean("pinned", mcp.Description("Pin state (default true)")),
		),
		mcpPinItem(deps),
	)

	s.AddTool(
		mcp.NewTool("reject_item",
			mcp.WithDescription("Reject an item. Rejected items are avoided by later generations."),
			mcp.WithString("session_id", mcp.Description("Session ID"), mcp.Required()),
			mcp.WithString("feature", mcp.Description("Board name"), mcp.Required()),
			mcp.WithString("item_id", mcp.Description("Item ID"), mcp.Required()),
		),
		mcpRejectItem(deps),
	)

	s.AddTool(
		mcp.NewTool("outline_content",
			mcp.WithDescription("Replace the session outline with bullets summarizing the given text."),
			mcp.WithString("session_id", mcp.Description("Session ID"), mcp.Required()),
			mcp.WithString("content", mcp.Description("Source text"), mcp.Required()),
			mcp.WithString("provider", mcp.Description("openai (default) or gemini")),
		),
		mcpOutlineContent(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"ideaboard://sessions",
			"Recent Sessions",
			mcp.WithResourceDescription("Last 20 sessions, most recently updated first"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceSessions(deps),
	)

	return s
}

func mcpCreateSession(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		parti, err := req.RequireString("parti")
		if err != nil {
			return mcpError("parti is required"), nil
		}
		s, err := deps.Studio.Create(req.GetString("title", ""), parti, req.GetString("domain", ""))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to create session: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Created session %s", s.ID)), nil
	}
}

// mcpBoard resolves the session_id and feature arguments.
func mcpBoard(deps MCPDeps, req mcp.CallToolRequest) (*studio.Session, studio.Feature, studio.Items, *mcp.CallToolResult) {
	id, err := req.RequireString("session_id")
	if err != nil {
		return nil, "", nil, mcpError("session_id is required")
	}
	name, err := req.RequireString("feature")
	if err != nil {
		return nil, "", nil, mcpError("feature is required")
	}
	s, err := deps.Studio.Get(id)
	if err != nil {
		return nil, "", nil, mcpError(err.Error())
	}
	f, err := studio.ParseFeature(name)
	if err != nil {
		return nil, "", nil, mcpError(err.Error())
	}
	items, err := s.Items(f)
	if err != nil {
		return nil, "", nil, mcpError(err.Error())
	}
	return s, f, items, nil
}

func mcpJSON(v any) *mcp.CallToolResult {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err))
	}
	return mcpText(string(b))
}

func mcpGenerate(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		s, f, _, res := mcpBoard(deps, req)
		if res != nil {
			return res, nil
		}
		var added []studio.Item
		_, err := s.Generate(ctx, f, func(it studio.Item) {
			added = append(added, it)
		})
		if err != nil {
			return mcpError(fmt.Sprintf("generation failed after %d items: %v", len(added), err)), nil
		}
		if len(added) == 0 {
			return mcpText("[]"), nil
		}
		return mcpJSON(added), nil
	}
}

func mcpListItems(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		_, _, items, res := mcpBoard(deps, req)
		if res != nil {
			return res, nil
		}
		return mcpJSON(items.State()), nil
	}
}

func mcpPinItem(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		_, _, items, res := mcpBoard(deps, req)
		if res != nil {
			return res, nil
		}
		id, err := req.RequireString("item_id")
		if err != nil {
			return mcpError("item_id is required"), nil
		}
		pinned := req.GetBool("pinned", true)
		if err := items.Pin(id, pinned); err != nil {
			return mcpError(err.Error()), nil
		}
		return mcpText(fmt.Sprintf("Set pinned=%t on %s", pinned, id)), nil
	}
}

func mcpRejectItem(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		_, _, items, res := mcpBoard(deps, req)
		if res != nil {
			return res, nil
		}
		id, err := req.RequireString("item_id")
		if err != nil {
			return mcpError("item_id is required"), nil
		}
		if err := items.Reject(id); err != nil {
			return mcpError(err.Error()), nil
		}
		return mcpText(fmt.Sprintf("Rejected %s", id)), nil
	}
}

func mcpOutlineContent(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("session_id")
		if err != nil {
			return mcpError("session_id is required"), nil
		}
		content, err := req.RequireString("content")
		if err != nil {
			return mcpError("content is required"), nil
		}
		s, err := deps.Studio.Get(id)
		if err != nil {
			return mcpError(err.Error()), nil
		}
		if _, err := s.OutlineContent(ctx, content, req.GetString("provider", "")); err != nil {
			return mcpError(fmt.Sprintf("outline failed: %v", err)), nil
		}
		return mcpText(s.Outline.Markdown()), nil
	}
}

func mcpResourceSessions(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		rows, err := deps.Studio.List(20)
		if err != nil {
			return nil, fmt.Errorf("failed to list sessions: %w", err)
		}

		summaries := make([]sessionSummary, len(rows))
		for i, r := range rows {
			summaries[i] = sessionSummary{
				ID:        r.ID,
				Title:     r.Title,
				CreatedAt: r.CreatedAt.Format(time.RFC3339),
				UpdatedAt: r.UpdatedAt.Format(time.RFC3339),
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal sessions: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
