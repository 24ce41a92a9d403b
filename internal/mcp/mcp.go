// Package mcp implements the Model Context Protocol client side over
// three transports: a spawned stdio child process, a WebSocket, or a
// docker-exec pipe. Stdio rides the official SDK; the other two speak
// JSON-RPC directly: one object per text frame over the WebSocket, and
// line-framed over the docker-exec pipe.
package mcp

import (
	"context"
	"fmt"

	"github.com/ghostkellz/zeke/internal/jsonrpc"
)

// ToolSpec describes a tool advertised by the MCP server.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Schema      map[string]any `json:"inputSchema"`
}

// Resource describes a resource advertised by the MCP server.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Client is the transport-independent MCP surface the tool layer
// consumes.
type Client interface {
	Start(ctx context.Context) error
	Stop() error
	ListTools(ctx context.Context) ([]ToolSpec, error)
	CallTool(ctx context.Context, name string, args map[string]any) (string, error)
	ListResources(ctx context.Context) ([]Resource, error)
	ReadResource(ctx context.Context, uri string) (string, error)
	// Notifications yields unsolicited server notifications. The
	// channel closes when the connection drops.
	Notifications() <-chan *jsonrpc.Message
}

// Config selects the transport. Exactly one of Command, WebSocketURL,
// or DockerContainer should be set; precedence is command, websocket,
// docker.
type Config struct {
	Command         string
	Args            []string
	WebSocketURL    string
	DockerContainer string
	DockerCommand   []string
}

// New builds a client for the configured transport.
func New(cfg Config) (Client, error) {
	switch {
	case cfg.Command != "":
		return newStdioClient(cfg.Command, cfg.Args), nil
	case cfg.WebSocketURL != "":
		return newFrameClient(&wsDialer{url: cfg.WebSocketURL}), nil
	case cfg.DockerContainer != "":
		if len(cfg.DockerCommand) == 0 {
			return nil, fmt.Errorf("mcp docker transport requires a command to exec")
		}
		return newFrameClient(&dockerDialer{container: cfg.DockerContainer, command: cfg.DockerCommand}), nil
	default:
		return nil, fmt.Errorf("no MCP transport configured")
	}
}
