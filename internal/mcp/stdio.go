package mcp

import (
	"context"
	"fmt"
	"os/exec"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ghostkellz/zeke/internal/jsonrpc"
	"github.com/ghostkellz/zeke/internal/llm"
)

// stdioClient wraps the official SDK's command transport: the server
// is a child process speaking line-delimited JSON-RPC on stdio.
type stdioClient struct {
	command string
	args    []string

	mu      sync.RWMutex
	client  *mcp.Client
	session *mcp.ClientSession
	notes   chan *jsonrpc.Message
}

func newStdioClient(command string, args []string) *stdioClient {
	return &stdioClient{
		command: command,
		args:    args,
		notes:   make(chan *jsonrpc.Message, 16),
	}
}

// Start spawns the child and runs the MCP initialize handshake.
func (c *stdioClient) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		return nil
	}
	c.client = mcp.NewClient(&mcp.Implementation{
		Name:    "zeke",
		Version: llm.Version,
	}, nil)
	cmd := exec.CommandContext(ctx, c.command, c.args...)
	session, err := c.client.Connect(ctx, &mcp.CommandTransport{Command: cmd}, nil)
	if err != nil {
		return fmt.Errorf("connect to MCP server %s: %w", c.command, err)
	}
	c.session = session
	return nil
}

func (c *stdioClient) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	err := c.session.Close()
	c.session = nil
	close(c.notes)
	return err
}

func (c *stdioClient) activeSession() (*mcp.ClientSession, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return nil, fmt.Errorf("MCP client not started")
	}
	return c.session, nil
}

func (c *stdioClient) ListTools(ctx context.Context) ([]ToolSpec, error) {
	session, err := c.activeSession()
	if err != nil {
		return nil, err
	}
	result, err := session.ListTools(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("tools/list: %w", err)
	}
	specs := make([]ToolSpec, 0, len(result.Tools))
	for _, t := range result.Tools {
		spec := ToolSpec{Name: t.Name, Description: t.Description}
		if t.InputSchema != nil {
			if m, ok := schemaToMap(t.InputSchema); ok {
				spec.Schema = m
			}
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func (c *stdioClient) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	session, err := c.activeSession()
	if err != nil {
		return "", err
	}
	result, err := session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return "", fmt.Errorf("tools/call %s: %w", name, err)
	}
	var out string
	for _, content := range result.Content {
		if text, ok := content.(*mcp.TextContent); ok {
			out += text.Text
		}
	}
	if result.IsError {
		return out, fmt.Errorf("tool %s reported an error: %s", name, out)
	}
	return out, nil
}

func (c *stdioClient) ListResources(ctx context.Context) ([]Resource, error) {
	session, err := c.activeSession()
	if err != nil {
		return nil, err
	}
	result, err := session.ListResources(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("resources/list: %w", err)
	}
	resources := make([]Resource, 0, len(result.Resources))
	for _, r := range result.Resources {
		resources = append(resources, Resource{URI: r.URI, Name: r.Name, Description: r.Description})
	}
	return resources, nil
}

func (c *stdioClient) ReadResource(ctx context.Context, uri string) (string, error) {
	session, err := c.activeSession()
	if err != nil {
		return "", err
	}
	result, err := session.ReadResource(ctx, &mcp.ReadResourceParams{URI: uri})
	if err != nil {
		return "", fmt.Errorf("resources/read %s: %w", uri, err)
	}
	var out string
	for _, content := range result.Contents {
		out += content.Text
	}
	return out, nil
}

// Notifications returns a channel that the stdio transport never sends
// on: server notifications arriving over the SDK session are not passed
// up. The channel closes on Stop, not when the child process exits.
func (c *stdioClient) Notifications() <-chan *jsonrpc.Message {
	return c.notes
}
