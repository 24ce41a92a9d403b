package tools

import (
	"context"
	"encoding/json"

	"github.com/ghostkellz/zeke/internal/mcp"
)

// MCPTool forwards a tool call to the configured MCP server.
type MCPTool struct {
	client mcp.Client
}

// NewMCPTool wraps an MCP client; Execute starts it on first use.
func NewMCPTool(client mcp.Client) *MCPTool {
	return &MCPTool{client: client}
}

func (t *MCPTool) Name() string               { return "mcp_call" }
func (t *MCPTool) Category() Category         { return CategoryMCP }
func (t *MCPTool) Description() string        { return "Invoke a tool on the configured MCP server" }
func (t *MCPTool) RequiresConfirmation() bool { return true }

func (t *MCPTool) Schema() Schema {
	return Schema{
		"tool": {Type: "string", Required: true, Description: "MCP tool name"},
		"args": {Type: "string", Required: false, Description: "JSON-encoded arguments object"},
	}
}

func (t *MCPTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	schema := t.Schema()
	name := stringParam(params, schema, "tool")
	var args map[string]any
	if raw := stringParam(params, schema, "args"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return nil, NewErrorf(ErrInvalidParams, "args is not a JSON object: %v", err)
		}
	}
	// Start is idempotent; the first call spins up the transport.
	if err := t.client.Start(ctx); err != nil {
		return nil, NewErrorf(ErrExecutionFailed, "mcp transport: %v", err)
	}
	out, err := t.client.CallTool(ctx, name, args)
	if err != nil {
		return &Result{Success: false, Output: []byte(out), ErrorMessage: err.Error()}, nil
	}
	return &Result{Success: true, Output: []byte(out)}, nil
}

// MCPResourceTool reads a resource from the MCP server.
type MCPResourceTool struct {
	client mcp.Client
}

// NewMCPResourceTool wraps an MCP client; Execute starts it on first
// use.
func NewMCPResourceTool(client mcp.Client) *MCPResourceTool {
	return &MCPResourceTool{client: client}
}

func (t *MCPResourceTool) Name() string       { return "mcp_resource" }
func (t *MCPResourceTool) Category() Category { return CategoryMCP }
func (t *MCPResourceTool) Description() string {
	return "Read a resource from the configured MCP server"
}
func (t *MCPResourceTool) RequiresConfirmation() bool { return false }

func (t *MCPResourceTool) Schema() Schema {
	return Schema{
		"uri": {Type: "string", Required: true, Description: "Resource URI to read"},
	}
}

func (t *MCPResourceTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	schema := t.Schema()
	if err := t.client.Start(ctx); err != nil {
		return nil, NewErrorf(ErrExecutionFailed, "mcp transport: %v", err)
	}
	text, err := t.client.ReadResource(ctx, stringParam(params, schema, "uri"))
	if err != nil {
		return nil, NewErrorf(ErrExecutionFailed, "resources/read: %v", err)
	}
	return &Result{Success: true, Output: []byte(text)}, nil
}
